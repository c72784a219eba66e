package transitstats

import (
	"cmp"
	"slices"

	"crawshaw.io/sqlite"
)

const (
	tableRouteFrequency   = "agg_route_frequency"
	tableStopHeadways     = "agg_stop_headways"
	tableHourlyDepartures = "agg_hourly_departures"
)

// Headways only count departures inside the service window, in seconds past the start of the
// service day.
const (
	serviceWindowStart = 6 * 3600
	serviceWindowEnd   = 22 * 3600
)

const routeFrequencyDDL = `service_date DATE, route_id TEXT, num_trips INTEGER, mean_headway_min REAL,
	min_headway_min REAL, max_headway_min REAL, PRIMARY KEY (service_date, route_id)`

const stopHeadwaysDDL = `service_date DATE, stop_id TEXT, num_trips INTEGER, mean_headway_min REAL,
	min_headway_min REAL, max_headway_min REAL, PRIMARY KEY (service_date, stop_id)`

const hourlyDeparturesDDL = `service_date DATE, route_id TEXT, hour INTEGER, departures INTEGER,
	PRIMARY KEY (service_date, route_id, hour)`

type ActiveTrip struct {
	ServiceDate string
	TripID      string
	RouteID     *string
}

// HeadwayStats are the gaps between consecutive departures in the service window, in minutes.
// All are nil with fewer than two such departures.
type HeadwayStats struct {
	Mean *float64
	Min  *float64
	Max  *float64
}

type RouteFrequency struct {
	ServiceDate string
	RouteID     string
	NumTrips    int64
	Headways    HeadwayStats
}

type StopHeadway struct {
	ServiceDate string
	StopID      string
	NumTrips    int64
	Headways    HeadwayStats
}

type HourlyDepartures struct {
	ServiceDate string
	RouteID     string
	Hour        int
	Departures  int64
}

// ComputeHeadways summarizes departures, given in seconds past the start of the service day.
func ComputeHeadways(departures []int) HeadwayStats {
	var inWindow []int
	for _, d := range departures {
		if d >= serviceWindowStart && d < serviceWindowEnd {
			inWindow = append(inWindow, d)
		}
	}
	if len(inWindow) < 2 {
		return HeadwayStats{}
	}
	slices.Sort(inWindow)

	var sum float64
	minGap, maxGap := -1.0, -1.0
	for i := 1; i < len(inWindow); i++ {
		gap := float64(inWindow[i]-inWindow[i-1]) / 60
		sum += gap
		if minGap < 0 || gap < minGap {
			minGap = gap
		}
		if gap > maxGap {
			maxGap = gap
		}
	}
	mean := sum / float64(len(inWindow)-1)
	return HeadwayStats{Mean: &mean, Min: &minGap, Max: &maxGap}
}

// stopTimeSeconds is the departure time of st, falling back to its arrival time.
func stopTimeSeconds(st StopTime) (int, bool) {
	for _, v := range []*string{st.DepartureTime, st.ArrivalTime} {
		if v == nil {
			continue
		}
		if secs, ok := ParseGTFSTime(*v); ok {
			return secs, true
		}
	}
	return 0, false
}

// ComputeFrequency derives per-date service metrics from the active trips and their stop times.
// A route's trips depart when their first stop-time by sequence departs. Trips without a route
// only count towards stop headways. Each result is ordered by date then id (and hour).
func ComputeFrequency(active []ActiveTrip, stopTimes []StopTime) ([]RouteFrequency, []StopHeadway, []HourlyDepartures) {
	byTrip := make(map[string][]StopTime)
	for _, st := range stopTimes {
		byTrip[st.TripID] = append(byTrip[st.TripID], st)
	}
	for _, sts := range byTrip {
		slices.SortFunc(sts, func(a, b StopTime) int { return cmp.Compare(a.StopSequence, b.StopSequence) })
	}

	type dated struct{ date, id string }
	type hourKey struct {
		dated
		hour int
	}
	routeTrips := make(map[dated]int64)
	routeDepartures := make(map[dated][]int)
	stopTrips := make(map[dated]map[string]bool)
	stopDepartures := make(map[dated][]int)
	hourly := make(map[hourKey]int64)

	for _, trip := range active {
		sts := byTrip[trip.TripID]

		if trip.RouteID != nil {
			key := dated{trip.ServiceDate, *trip.RouteID}
			routeTrips[key]++
			if len(sts) > 0 {
				if secs, ok := stopTimeSeconds(sts[0]); ok {
					routeDepartures[key] = append(routeDepartures[key], secs)
					hourly[hourKey{key, secs / 3600 % 24}]++
				}
			}
		}

		for _, st := range sts {
			key := dated{trip.ServiceDate, st.StopID}
			if stopTrips[key] == nil {
				stopTrips[key] = make(map[string]bool)
			}
			stopTrips[key][trip.TripID] = true
			if secs, ok := stopTimeSeconds(st); ok {
				stopDepartures[key] = append(stopDepartures[key], secs)
			}
		}
	}

	compareDated := func(a, b dated) int {
		return cmp.Or(cmp.Compare(a.date, b.date), cmp.Compare(a.id, b.id))
	}

	routes := make([]RouteFrequency, 0, len(routeTrips))
	for key, n := range routeTrips {
		routes = append(routes, RouteFrequency{
			ServiceDate: key.date,
			RouteID:     key.id,
			NumTrips:    n,
			Headways:    ComputeHeadways(routeDepartures[key]),
		})
	}
	slices.SortFunc(routes, func(a, b RouteFrequency) int {
		return compareDated(dated{a.ServiceDate, a.RouteID}, dated{b.ServiceDate, b.RouteID})
	})

	stops := make([]StopHeadway, 0, len(stopTrips))
	for key, trips := range stopTrips {
		stops = append(stops, StopHeadway{
			ServiceDate: key.date,
			StopID:      key.id,
			NumTrips:    int64(len(trips)),
			Headways:    ComputeHeadways(stopDepartures[key]),
		})
	}
	slices.SortFunc(stops, func(a, b StopHeadway) int {
		return compareDated(dated{a.ServiceDate, a.StopID}, dated{b.ServiceDate, b.StopID})
	})

	hours := make([]HourlyDepartures, 0, len(hourly))
	for key, n := range hourly {
		hours = append(hours, HourlyDepartures{ServiceDate: key.date, RouteID: key.id, Hour: key.hour, Departures: n})
	}
	slices.SortFunc(hours, func(a, b HourlyDepartures) int {
		return cmp.Or(compareDated(dated{a.ServiceDate, a.RouteID}, dated{b.ServiceDate, b.RouteID}), cmp.Compare(a.Hour, b.Hour))
	})

	return routes, stops, hours
}

// MaterializeFrequency rebuilds agg_route_frequency, agg_stop_headways and agg_hourly_departures
// for every date in agg_active_trips.
func MaterializeFrequency(store *Store) error {
	if err := store.RequireTables(tableActiveTrips, tableStopTimes); err != nil {
		return err
	}
	active, err := readActiveTrips(store)
	if err != nil {
		return err
	}
	stopTimes, err := readStopTimes(store)
	if err != nil {
		return err
	}
	routes, stops, hours := ComputeFrequency(active, stopTimes)

	headwayColumns := func(id string) []string {
		return []string{"service_date", id, "num_trips", "mean_headway_min", "min_headway_min", "max_headway_min"}
	}

	err = store.ReplaceTable(tableRouteFrequency, routeFrequencyDDL, func(target string) error {
		i := 0
		_, err := store.insertRows(target, headwayColumns("route_id"), func(values []any) (bool, error) {
			if i >= len(routes) {
				return false, nil
			}
			r := routes[i]
			i++
			values[0] = r.ServiceDate
			values[1] = r.RouteID
			values[2] = r.NumTrips
			values[3] = r.Headways.Mean
			values[4] = r.Headways.Min
			values[5] = r.Headways.Max
			return true, nil
		})
		return err
	}, "route_id")
	if err != nil {
		return err
	}

	err = store.ReplaceTable(tableStopHeadways, stopHeadwaysDDL, func(target string) error {
		i := 0
		_, err := store.insertRows(target, headwayColumns("stop_id"), func(values []any) (bool, error) {
			if i >= len(stops) {
				return false, nil
			}
			s := stops[i]
			i++
			values[0] = s.ServiceDate
			values[1] = s.StopID
			values[2] = s.NumTrips
			values[3] = s.Headways.Mean
			values[4] = s.Headways.Min
			values[5] = s.Headways.Max
			return true, nil
		})
		return err
	}, "stop_id")
	if err != nil {
		return err
	}

	hourlyColumns := []string{"service_date", "route_id", "hour", "departures"}
	return store.ReplaceTable(tableHourlyDepartures, hourlyDeparturesDDL, func(target string) error {
		i := 0
		_, err := store.insertRows(target, hourlyColumns, func(values []any) (bool, error) {
			if i >= len(hours) {
				return false, nil
			}
			h := hours[i]
			i++
			values[0] = h.ServiceDate
			values[1] = h.RouteID
			values[2] = int64(h.Hour)
			values[3] = h.Departures
			return true, nil
		})
		return err
	})
}

func readActiveTrips(store *Store) ([]ActiveTrip, error) {
	var active []ActiveTrip
	err := store.exec(`SELECT service_date, trip_id, route_id FROM agg_active_trips
		ORDER BY service_date, trip_id`, func(stmt *sqlite.Stmt) error {
		active = append(active, ActiveTrip{
			ServiceDate: stmt.GetText("service_date"),
			TripID:      stmt.GetText("trip_id"),
			RouteID:     nullableText(stmt, "route_id"),
		})
		return nil
	})
	return active, err
}

package transitstats

import (
	"cmp"
	"slices"

	"crawshaw.io/sqlite"
)

const tableEdges = "raw_gtfs_edges"

const edgesDDL = `from_stop_id TEXT, to_stop_id TEXT, trip_id TEXT, route_id TEXT,
	departure_time TEXT, arrival_time TEXT, from_stop_sequence INTEGER`

type StopTime struct {
	TripID        string
	StopID        string
	StopSequence  int64
	ArrivalTime   *string
	DepartureTime *string
}

// Edge is a hop between consecutive stops of one trip. Times are carried verbatim and may be
// past 24:00:00.
type Edge struct {
	FromStopID       string
	ToStopID         string
	TripID           string
	RouteID          *string
	DepartureTime    *string
	ArrivalTime      *string
	FromStopSequence int64
}

// BuildEdges links each stop-time to the next one of the same trip by stop_sequence. A trip
// with n stop-times yields n-1 edges. Stop-times of trips missing from trips get a nil RouteID.
// Edges are ordered by trip id then sequence.
func BuildEdges(stopTimes []StopTime, trips []Trip) []Edge {
	routeOf := make(map[string]*string, len(trips))
	for _, t := range trips {
		routeOf[t.TripID] = t.RouteID
	}

	sorted := slices.Clone(stopTimes)
	slices.SortStableFunc(sorted, func(a, b StopTime) int {
		return cmp.Or(cmp.Compare(a.TripID, b.TripID), cmp.Compare(a.StopSequence, b.StopSequence))
	})

	var edges []Edge
	for i := 0; i+1 < len(sorted); i++ {
		from, to := sorted[i], sorted[i+1]
		if from.TripID != to.TripID {
			continue
		}
		edges = append(edges, Edge{
			FromStopID:       from.StopID,
			ToStopID:         to.StopID,
			TripID:           from.TripID,
			RouteID:          routeOf[from.TripID],
			DepartureTime:    from.DepartureTime,
			ArrivalTime:      to.ArrivalTime,
			FromStopSequence: from.StopSequence,
		})
	}
	return edges
}

// MaterializeEdges rebuilds raw_gtfs_edges from the loaded stop_times and trips.
func MaterializeEdges(store *Store) error {
	if err := store.RequireTables(tableStopTimes, tableTrips); err != nil {
		return err
	}
	stopTimes, err := readStopTimes(store)
	if err != nil {
		return err
	}
	trips, err := readTrips(store)
	if err != nil {
		return err
	}
	edges := BuildEdges(stopTimes, trips)

	columns := []string{"from_stop_id", "to_stop_id", "trip_id", "route_id",
		"departure_time", "arrival_time", "from_stop_sequence"}
	return store.ReplaceTable(tableEdges, edgesDDL, func(target string) error {
		i := 0
		_, err := store.insertRows(target, columns, func(values []any) (bool, error) {
			if i >= len(edges) {
				return false, nil
			}
			e := edges[i]
			i++
			values[0] = e.FromStopID
			values[1] = e.ToStopID
			values[2] = e.TripID
			values[3] = e.RouteID
			values[4] = e.DepartureTime
			values[5] = e.ArrivalTime
			values[6] = e.FromStopSequence
			return true, nil
		})
		return err
	}, "from_stop_id", "to_stop_id")
}

func readStopTimes(store *Store) ([]StopTime, error) {
	var stopTimes []StopTime
	err := store.exec(`SELECT trip_id, stop_id, stop_sequence, arrival_time, departure_time
		FROM raw_gtfs_stop_times ORDER BY trip_id, stop_sequence`, func(stmt *sqlite.Stmt) error {
		stopTimes = append(stopTimes, StopTime{
			TripID:        stmt.GetText("trip_id"),
			StopID:        stmt.GetText("stop_id"),
			StopSequence:  stmt.GetInt64("stop_sequence"),
			ArrivalTime:   nullableText(stmt, "arrival_time"),
			DepartureTime: nullableText(stmt, "departure_time"),
		})
		return nil
	})
	return stopTimes, err
}

func readEdges(store *Store) ([]Edge, error) {
	var edges []Edge
	err := store.exec(`SELECT * FROM raw_gtfs_edges ORDER BY trip_id, from_stop_sequence`, func(stmt *sqlite.Stmt) error {
		edges = append(edges, Edge{
			FromStopID:       stmt.GetText("from_stop_id"),
			ToStopID:         stmt.GetText("to_stop_id"),
			TripID:           stmt.GetText("trip_id"),
			RouteID:          nullableText(stmt, "route_id"),
			DepartureTime:    nullableText(stmt, "departure_time"),
			ArrivalTime:      nullableText(stmt, "arrival_time"),
			FromStopSequence: stmt.GetInt64("from_stop_sequence"),
		})
		return nil
	})
	return edges, err
}

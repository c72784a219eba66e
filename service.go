package transitstats

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"crawshaw.io/sqlite"
)

var ErrInvalidDate = errors.New("invalid service date")

const tableActiveTrips = "agg_active_trips"

const activeTripsDDL = `trip_id TEXT, route_id TEXT, service_id TEXT, trip_headsign TEXT,
	direction_id INTEGER, service_date DATE, PRIMARY KEY (service_date, trip_id)`

// Exception types of calendar_dates.txt.
const (
	ExceptionAdded   = 1
	ExceptionRemoved = 2
)

type Trip struct {
	TripID      string
	RouteID     *string
	ServiceID   string
	Headsign    *string
	DirectionID *int64
}

type CalendarService struct {
	ServiceID string
	Weekdays  [7]bool // indexed by time.Weekday
	// StartDate and EndDate are zero when the feed value could not be parsed.
	StartDate time.Time
	EndDate   time.Time
}

type CalendarException struct {
	ServiceID     string
	Date          time.Time
	ExceptionType int64
}

// ParseServiceDate parses a service date in YYYY-MM-DD form.
func ParseServiceDate(s string) (time.Time, error) {
	d, err := time.Parse(time.DateOnly, s)
	if err != nil || len(s) != len(time.DateOnly) {
		return time.Time{}, fmt.Errorf("%w: %q (want YYYY-MM-DD)", ErrInvalidDate, s)
	}
	return d, nil
}

// runsRegularly reports whether the weekly pattern of c selects date.
func (c CalendarService) runsRegularly(date time.Time) bool {
	if c.StartDate.IsZero() || c.EndDate.IsZero() {
		return false
	}
	if date.Before(c.StartDate) || date.After(c.EndDate) {
		return false
	}
	return c.Weekdays[date.Weekday()]
}

// ActiveServices resolves the service ids running on date: services whose weekly pattern selects
// the date, minus those removed by an exception on the date, plus those added by one.
func ActiveServices(calendars []CalendarService, exceptions []CalendarException, date time.Time) map[string]bool {
	date = truncateDate(date)
	removed := make(map[string]bool)
	added := make(map[string]bool)
	for _, e := range exceptions {
		if !truncateDate(e.Date).Equal(date) {
			continue
		}
		switch e.ExceptionType {
		case ExceptionAdded:
			added[e.ServiceID] = true
		case ExceptionRemoved:
			removed[e.ServiceID] = true
		}
	}

	active := make(map[string]bool)
	for _, c := range calendars {
		if c.runsRegularly(date) && !removed[c.ServiceID] {
			active[c.ServiceID] = true
		}
	}
	for serviceID := range added {
		active[serviceID] = true
	}
	return active
}

// ActiveTrips returns the trips running on date, deduplicated and ordered by trip id.
func ActiveTrips(trips []Trip, calendars []CalendarService, exceptions []CalendarException, date time.Time) []Trip {
	services := ActiveServices(calendars, exceptions, date)

	seen := make(map[string]bool)
	var out []Trip
	for _, trip := range trips {
		if !services[trip.ServiceID] || seen[trip.TripID] {
			continue
		}
		seen[trip.TripID] = true
		out = append(out, trip)
	}
	slices.SortFunc(out, func(a, b Trip) int { return strings.Compare(a.TripID, b.TripID) })
	return out
}

// MaterializeActiveTrips writes the trips active on date to agg_active_trips. Rows already
// materialized for other dates are kept.
func MaterializeActiveTrips(store *Store, date time.Time) (int, error) {
	if err := store.RequireTables(tableTrips, tableCalendar, tableCalendarDates); err != nil {
		return 0, err
	}
	date = truncateDate(date)
	serviceDate := date.Format(time.DateOnly)

	trips, err := readTrips(store)
	if err != nil {
		return 0, err
	}
	calendars, err := readCalendars(store)
	if err != nil {
		return 0, err
	}
	exceptions, err := readCalendarExceptions(store)
	if err != nil {
		return 0, err
	}
	active := ActiveTrips(trips, calendars, exceptions, date)

	hadTable, err := store.TableExists(tableActiveTrips)
	if err != nil {
		return 0, err
	}

	columns := []string{"trip_id", "route_id", "service_id", "trip_headsign", "direction_id", "service_date"}
	err = store.ReplaceTable(tableActiveTrips, activeTripsDDL, func(target string) error {
		// Keep the table sorted by (service_date, trip_id): earlier dates, this date, later dates.
		if hadTable {
			if err := copyOtherDates(store, target, "<", serviceDate); err != nil {
				return err
			}
		}
		i := 0
		_, err := store.insertRows(target, columns, func(values []any) (bool, error) {
			if i >= len(active) {
				return false, nil
			}
			t := active[i]
			i++
			values[0] = t.TripID
			values[1] = t.RouteID
			values[2] = t.ServiceID
			values[3] = t.Headsign
			values[4] = t.DirectionID
			values[5] = serviceDate
			return true, nil
		})
		if err != nil {
			return err
		}
		if hadTable {
			return copyOtherDates(store, target, ">", serviceDate)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	slog.Info(fmt.Sprintf("%d trips active on %s", len(active), serviceDate))
	return len(active), nil
}

func copyOtherDates(store *Store, target string, op string, serviceDate string) error {
	query := fmt.Sprintf(`INSERT INTO %s SELECT trip_id, route_id, service_id, trip_headsign, direction_id, service_date
		FROM %s WHERE service_date %s ? ORDER BY service_date, trip_id`, target, tableActiveTrips, op)
	return store.exec(query, nil, serviceDate)
}

// FeedDateRange returns the validity range declared in feed_info, falling back to the span of
// the calendar. ok is false when neither gives a range.
func FeedDateRange(store *Store) (start, end time.Time, ok bool, err error) {
	var startText, endText *string
	if has, err := store.TableExists(tableFeedInfo); err != nil {
		return start, end, false, err
	} else if has {
		err = store.exec(`SELECT min(feed_start_date) AS start_date, max(feed_end_date) AS end_date
			FROM raw_gtfs_feed_info`, func(stmt *sqlite.Stmt) error {
			startText = nullableText(stmt, "start_date")
			endText = nullableText(stmt, "end_date")
			return nil
		})
		if err != nil {
			return start, end, false, err
		}
	}

	if startText == nil || endText == nil {
		if has, err := store.TableExists(tableCalendar); err != nil {
			return start, end, false, err
		} else if has {
			err = store.exec(`SELECT min(start_date) AS start_date, max(end_date) AS end_date
				FROM raw_gtfs_calendar`, func(stmt *sqlite.Stmt) error {
				startText = nullableText(stmt, "start_date")
				endText = nullableText(stmt, "end_date")
				return nil
			})
			if err != nil {
				return start, end, false, err
			}
		}
	}

	if startText == nil || endText == nil {
		return start, end, false, nil
	}
	if start, err = ParseServiceDate(*startText); err != nil {
		return start, end, false, err
	}
	if end, err = ParseServiceDate(*endText); err != nil {
		return start, end, false, err
	}
	return start, end, true, nil
}

func truncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func readTrips(store *Store) ([]Trip, error) {
	var trips []Trip
	err := store.exec(`SELECT trip_id, route_id, service_id, trip_headsign, direction_id
		FROM raw_gtfs_trips ORDER BY trip_id`, func(stmt *sqlite.Stmt) error {
		trips = append(trips, Trip{
			TripID:      stmt.GetText("trip_id"),
			RouteID:     nullableText(stmt, "route_id"),
			ServiceID:   stmt.GetText("service_id"),
			Headsign:    nullableText(stmt, "trip_headsign"),
			DirectionID: nullableInt64(stmt, "direction_id"),
		})
		return nil
	})
	return trips, err
}

var weekdayColumns = [7]string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

func readCalendars(store *Store) ([]CalendarService, error) {
	var calendars []CalendarService
	err := store.exec("SELECT * FROM raw_gtfs_calendar ORDER BY service_id", func(stmt *sqlite.Stmt) error {
		c := CalendarService{ServiceID: stmt.GetText("service_id")}
		for day, column := range weekdayColumns {
			c.Weekdays[day] = stmt.GetInt64(column) == 1
		}
		c.StartDate, _ = time.Parse(time.DateOnly, stmt.GetText("start_date"))
		c.EndDate, _ = time.Parse(time.DateOnly, stmt.GetText("end_date"))
		calendars = append(calendars, c)
		return nil
	})
	return calendars, err
}

func readCalendarExceptions(store *Store) ([]CalendarException, error) {
	var exceptions []CalendarException
	err := store.exec(`SELECT service_id, date, exception_type FROM raw_gtfs_calendar_dates
		WHERE date IS NOT NULL ORDER BY service_id, date`, func(stmt *sqlite.Stmt) error {
		date, err := time.Parse(time.DateOnly, stmt.GetText("date"))
		if err != nil {
			return nil
		}
		exceptions = append(exceptions, CalendarException{
			ServiceID:     stmt.GetText("service_id"),
			Date:          date,
			ExceptionType: stmt.GetInt64("exception_type"),
		})
		return nil
	})
	return exceptions, err
}

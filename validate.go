package transitstats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"crawshaw.io/sqlite"
)

var ErrInvalidInput = errors.New("invalid input")

// maxServiceHours bounds stop times. Trips may run past midnight but not past the next day.
const maxServiceHours = 48

// Bounds is the latitude/longitude box stops are expected to fall in.
type Bounds struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

func (b Bounds) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

type validateOpts struct {
	force    bool
	ignore   bool
	bounds   *Bounds
	logLevel slog.Level
}

// rowCheck flags rows of one feed table. query selects rowid plus whatever problem reads;
// problem describes why a row is invalid, or returns "" for a valid row.
type rowCheck struct {
	table   string
	query   string
	args    []any
	problem func(stmt *sqlite.Stmt) string
}

// validate runs the feed checks over the loaded tables. With force set, flagged rows are deleted
// and the checks run again, since deleting a stop or trip can orphan the rows referencing it.
func validate(store *Store, opts validateOpts) ([]string, error) {
	checks := feedChecks(opts.bounds)
	var issues []string

	slog.Info(fmt.Sprintf("Validating %d checks", len(checks)))

	for pass := 0; ; pass++ {
		flagged := make(map[string]map[int64]bool)
		for _, check := range checks {
			schema, _ := lookupSchema(check.table)
			err := store.exec(check.query, func(stmt *sqlite.Stmt) error {
				problem := check.problem(stmt)
				if problem == "" {
					return nil
				}
				rowid := stmt.GetInt64("rowid")
				issue := fmt.Sprintf("%s row %d: %s", schema.Filename, rowid, problem)
				slog.Log(context.Background(), opts.logLevel, issue, "pass", pass)
				issues = append(issues, issue)
				if flagged[check.table] == nil {
					flagged[check.table] = make(map[int64]bool)
				}
				flagged[check.table][rowid] = true
				return nil
			}, check.args...)
			if err != nil {
				return nil, err
			}
		}

		if !opts.force || len(flagged) == 0 {
			break
		}
		deleted := 0
		for table, rowids := range flagged {
			query := fmt.Sprintf("DELETE FROM %s WHERE rowid = ?", table)
			for rowid := range rowids {
				if err := store.exec(query, nil, rowid); err != nil {
					return nil, err
				}
				deleted++
			}
		}
		slog.Info(fmt.Sprintf("Deleted %d invalid row(s), checking again", deleted))
	}

	if len(issues) > 0 && !opts.force && !opts.ignore {
		return issues, ErrInvalidInput
	}
	return issues, nil
}

// feedChecks returns the declared foreign-ID checks of the schema, the stop time format checks
// and, when bounds is set, the stop location check.
func feedChecks(bounds *Bounds) []rowCheck {
	var checks []rowCheck
	for _, schema := range gtfsSchema {
		for _, column := range schema.Columns {
			if column.ForeignID != nil {
				checks = append(checks, foreignIDCheck(schema.Table, column.Name, *column.ForeignID))
			}
		}
	}

	checks = append(checks, rowCheck{
		table: tableStopTimes,
		query: `SELECT rowid, trip_id, stop_sequence, arrival_time, departure_time FROM raw_gtfs_stop_times
			ORDER BY rowid`,
		problem: func(stmt *sqlite.Stmt) string {
			var bad []string
			for _, column := range []string{"arrival_time", "departure_time"} {
				v := nullableText(stmt, column)
				if v == nil {
					continue
				}
				if secs, ok := ParseGTFSTime(*v); !ok || secs >= maxServiceHours*3600 {
					bad = append(bad, fmt.Sprintf("%s %q", column, *v))
				}
			}
			if len(bad) == 0 {
				return ""
			}
			return fmt.Sprintf("trip %s stop %d has %s, want H:MM:SS below %d:00:00",
				stmt.GetText("trip_id"), stmt.GetInt64("stop_sequence"), strings.Join(bad, " and "), maxServiceHours)
		},
	})

	if bounds != nil {
		checks = append(checks, rowCheck{
			table: tableStops,
			query: `SELECT rowid, stop_id, stop_lat, stop_lon FROM raw_gtfs_stops
				WHERE stop_lat IS NOT NULL AND stop_lon IS NOT NULL ORDER BY rowid`,
			problem: func(stmt *sqlite.Stmt) string {
				lat, lon := stmt.GetFloat("stop_lat"), stmt.GetFloat("stop_lon")
				if bounds.Contains(lat, lon) {
					return ""
				}
				return fmt.Sprintf("stop %s at (%g, %g) is outside lat %g..%g lon %g..%g",
					stmt.GetText("stop_id"), lat, lon, bounds.MinLat, bounds.MaxLat, bounds.MinLon, bounds.MaxLon)
			},
		})
	}
	return checks
}

// foreignIDCheck flags rows whose column is set but matches none of the referenced columns.
func foreignIDCheck(table, column string, foreign foreignIDSchema) rowCheck {
	targets := foreign.AnyOf
	if len(targets) == 0 {
		targets = []foreignIDSchema{{Table: foreign.Table, Column: foreign.Column}}
	} else if foreign.Table != "" || foreign.Column != "" {
		panic("foreign ID with AnyOf cannot also name a Table or Column")
	}

	var selects, names []string
	for _, target := range targets {
		schema, ok := lookupSchema(target.Table)
		if !ok {
			panic("foreign ID references unknown table " + target.Table)
		}
		selects = append(selects, fmt.Sprintf("SELECT %s FROM %s", target.Column, target.Table))
		names = append(names, schema.Filename)
	}

	return rowCheck{
		table: table,
		query: fmt.Sprintf("SELECT rowid, %s AS value FROM %s WHERE %s IS NOT NULL AND %s NOT IN (%s) ORDER BY rowid",
			column, table, column, column, strings.Join(selects, " UNION ")),
		problem: func(stmt *sqlite.Stmt) string {
			return fmt.Sprintf("%s %q matches no row of %s", column, stmt.GetText("value"), strings.Join(names, " or "))
		},
	}
}

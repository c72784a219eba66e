package transitstats

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"crawshaw.io/sqlite"
)

const (
	tableRoutePassUps   = "agg_route_passups"
	tableRouteOnTime    = "agg_route_ontime"
	tableStopOnTime     = "agg_stop_ontime"
	tableStopBoardings  = "agg_stop_boardings"
	passUpRouteColumn   = "route_number"
	passUpTimeColumn    = "time"
	onTimeRouteColumn   = "route_number"
	onTimeStopColumn    = "stop_number"
	deviationColumn     = "deviation"
	boardingsStopColumn = "stop_number"
	boardingsColumn     = "average_boardings"
)

type PassUp struct {
	RouteNumber *string
	Time        *string
}

type RoutePassUps struct {
	RouteKey        string
	PassUpCount     int64
	DaysWithPassUps int64
}

// SummarizePassUps counts pass-ups per route key. Every event counts towards PassUpCount; only
// events whose time parses count towards DaysWithPassUps. Events without a key are dropped.
func SummarizePassUps(events []PassUp) []RoutePassUps {
	counts := make(map[string]int64)
	days := make(map[string]map[string]bool)
	for _, e := range events {
		key := normalizedKey(e.RouteNumber)
		if key == nil {
			continue
		}
		counts[*key]++
		if days[*key] == nil {
			days[*key] = make(map[string]bool)
		}
		if e.Time == nil {
			continue
		}
		if t, ok := ParseTimestamp(*e.Time); ok {
			days[*key][t.Format(time.DateOnly)] = true
		}
	}

	out := make([]RoutePassUps, 0, len(counts))
	for key, count := range counts {
		out = append(out, RoutePassUps{RouteKey: key, PassUpCount: count, DaysWithPassUps: int64(len(days[key]))})
	}
	slices.SortFunc(out, func(a, b RoutePassUps) int { return strings.Compare(a.RouteKey, b.RouteKey) })
	return out
}

// Measurement is one keyed numeric observation from an open-data table.
type Measurement struct {
	Key   *string
	Value *float64
}

type KeyedAverage struct {
	Key          string
	Average      float64
	Measurements int64
}

// AverageByKey is the mean value per normalized key, skipping measurements lacking either.
func AverageByKey(measurements []Measurement) []KeyedAverage {
	sums := make(map[string]float64)
	counts := make(map[string]int64)
	for _, m := range measurements {
		key := normalizedKey(m.Key)
		if key == nil || m.Value == nil {
			continue
		}
		sums[*key] += *m.Value
		counts[*key]++
	}

	out := make([]KeyedAverage, 0, len(counts))
	for key, count := range counts {
		out = append(out, KeyedAverage{Key: key, Average: sums[key] / float64(count), Measurements: count})
	}
	slices.SortFunc(out, func(a, b KeyedAverage) int { return strings.Compare(a.Key, b.Key) })
	return out
}

type KeyedTotal struct {
	Key          string
	Total        float64
	Measurements int64
}

// TotalByKey sums values per normalized key, skipping measurements lacking either.
func TotalByKey(measurements []Measurement) []KeyedTotal {
	totals := make(map[string]float64)
	counts := make(map[string]int64)
	for _, m := range measurements {
		key := normalizedKey(m.Key)
		if key == nil || m.Value == nil {
			continue
		}
		totals[*key] += *m.Value
		counts[*key]++
	}

	out := make([]KeyedTotal, 0, len(counts))
	for key, count := range counts {
		out = append(out, KeyedTotal{Key: key, Total: totals[key], Measurements: count})
	}
	slices.SortFunc(out, func(a, b KeyedTotal) int { return strings.Compare(a.Key, b.Key) })
	return out
}

// MaterializePassUpSummary rebuilds agg_route_passups.
func MaterializePassUpSummary(store *Store) error {
	if err := store.RequireTables(tablePassUps); err != nil {
		return err
	}
	var events []PassUp
	query := fmt.Sprintf("SELECT %s AS route_number, %s AS time FROM %s ORDER BY rowid",
		quoteIdentifier(passUpRouteColumn), quoteIdentifier(passUpTimeColumn), tablePassUps)
	err := store.exec(query, func(stmt *sqlite.Stmt) error {
		events = append(events, PassUp{
			RouteNumber: nullableText(stmt, "route_number"),
			Time:        nullableText(stmt, "time"),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("read %s: %w", tablePassUps, err)
	}
	summary := SummarizePassUps(events)

	columns := []string{"route_key", "passup_count", "days_with_passups"}
	return store.ReplaceTable(tableRoutePassUps,
		"route_key TEXT PRIMARY KEY, passup_count INTEGER, days_with_passups INTEGER",
		func(target string) error {
			i := 0
			_, err := store.insertRows(target, columns, func(values []any) (bool, error) {
				if i >= len(summary) {
					return false, nil
				}
				s := summary[i]
				i++
				values[0] = s.RouteKey
				values[1] = s.PassUpCount
				values[2] = s.DaysWithPassUps
				return true, nil
			})
			return err
		})
}

// MaterializeOnTimeSummaries rebuilds agg_route_ontime and agg_stop_ontime.
func MaterializeOnTimeSummaries(store *Store) error {
	if err := store.RequireTables(tableOnTime); err != nil {
		return err
	}
	byRoute, err := readMeasurements(store, tableOnTime, onTimeRouteColumn, deviationColumn)
	if err != nil {
		return err
	}
	if err := writeAverages(store, tableRouteOnTime, "route_key", AverageByKey(byRoute)); err != nil {
		return err
	}
	byStop, err := readMeasurements(store, tableOnTime, onTimeStopColumn, deviationColumn)
	if err != nil {
		return err
	}
	return writeAverages(store, tableStopOnTime, "stop_key", AverageByKey(byStop))
}

// MaterializeBoardingSummary rebuilds agg_stop_boardings.
func MaterializeBoardingSummary(store *Store) error {
	if err := store.RequireTables(tablePassengerCounts); err != nil {
		return err
	}
	measurements, err := readMeasurements(store, tablePassengerCounts, boardingsStopColumn, boardingsColumn)
	if err != nil {
		return err
	}
	totals := TotalByKey(measurements)

	columns := []string{"stop_key", "total_boardings", "boardings_measurements"}
	return store.ReplaceTable(tableStopBoardings,
		"stop_key TEXT PRIMARY KEY, total_boardings REAL, boardings_measurements INTEGER",
		func(target string) error {
			i := 0
			_, err := store.insertRows(target, columns, func(values []any) (bool, error) {
				if i >= len(totals) {
					return false, nil
				}
				t := totals[i]
				i++
				values[0] = t.Key
				values[1] = t.Total
				values[2] = t.Measurements
				return true, nil
			})
			return err
		})
}

func readMeasurements(store *Store, table, keyColumn, valueColumn string) ([]Measurement, error) {
	var measurements []Measurement
	query := fmt.Sprintf("SELECT %s AS measure_key, %s AS measure_value FROM %s ORDER BY rowid",
		quoteIdentifier(keyColumn), quoteIdentifier(valueColumn), table)
	err := store.exec(query, func(stmt *sqlite.Stmt) error {
		measurements = append(measurements, Measurement{
			Key:   nullableText(stmt, "measure_key"),
			Value: nullableFloat(stmt, "measure_value"),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	return measurements, nil
}

func writeAverages(store *Store, table, keyColumn string, averages []KeyedAverage) error {
	columns := []string{keyColumn, "avg_deviation_seconds", "ontime_measurements"}
	ddl := fmt.Sprintf("%s TEXT PRIMARY KEY, avg_deviation_seconds REAL, ontime_measurements INTEGER", keyColumn)
	return store.ReplaceTable(table, ddl, func(target string) error {
		i := 0
		_, err := store.insertRows(target, columns, func(values []any) (bool, error) {
			if i >= len(averages) {
				return false, nil
			}
			a := averages[i]
			i++
			values[0] = a.Key
			values[1] = a.Average
			values[2] = a.Measurements
			return true, nil
		})
		return err
	})
}

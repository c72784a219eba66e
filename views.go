package transitstats

import "fmt"

const (
	tableRoutePerformance = "route_performance"
	tableStopPerformance  = "stop_performance"
)

const routePerformanceDDL = `route_id TEXT PRIMARY KEY, route_short_name TEXT, route_long_name TEXT,
	route_key TEXT, passup_count INTEGER, days_with_passups INTEGER, avg_deviation_seconds REAL,
	ontime_measurements INTEGER`

// Counts default to zero when a route has no open-data rows; the average stays NULL.
const routePerformanceQuery = `
INSERT INTO %s
SELECT
	r.route_id,
	r.route_short_name,
	r.route_long_name,
	r.route_key,
	coalesce(p.passup_count, 0),
	coalesce(p.days_with_passups, 0),
	o.avg_deviation_seconds,
	coalesce(o.ontime_measurements, 0)
FROM ref_gtfs_routes r
LEFT JOIN agg_route_passups p ON p.route_key = r.route_key
LEFT JOIN agg_route_ontime o ON o.route_key = r.route_key
ORDER BY r.route_id`

const stopPerformanceDDL = `stop_id TEXT PRIMARY KEY, stop_code TEXT, stop_name TEXT, stop_key TEXT,
	avg_deviation_seconds REAL, ontime_measurements INTEGER, total_boardings REAL`

const stopPerformanceQuery = `
INSERT INTO %s
SELECT
	s.stop_id,
	s.stop_code,
	s.stop_name,
	s.stop_key,
	o.avg_deviation_seconds,
	coalesce(o.ontime_measurements, 0),
	b.total_boardings
FROM ref_gtfs_stops s
LEFT JOIN agg_stop_ontime o ON o.stop_key = s.stop_key
LEFT JOIN agg_stop_boardings b ON b.stop_key = s.stop_key
ORDER BY s.stop_id`

// MaterializeRoutePerformance joins the route reference table against the pass-up and on-time
// summaries. Every referenced route appears once.
func MaterializeRoutePerformance(store *Store) error {
	if err := store.RequireTables(tableRouteRefs, tableRoutePassUps, tableRouteOnTime); err != nil {
		return err
	}
	return store.ReplaceTable(tableRoutePerformance, routePerformanceDDL, func(target string) error {
		return store.exec(fmt.Sprintf(routePerformanceQuery, target), nil)
	}, "route_key")
}

// MaterializeStopPerformance joins the stop reference table against the on-time and boarding
// summaries.
func MaterializeStopPerformance(store *Store) error {
	if err := store.RequireTables(tableStopRefs, tableStopOnTime, tableStopBoardings); err != nil {
		return err
	}
	return store.ReplaceTable(tableStopPerformance, stopPerformanceDDL, func(target string) error {
		return store.exec(fmt.Sprintf(stopPerformanceQuery, target), nil)
	}, "stop_key")
}

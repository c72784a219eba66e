package transitstats

import (
	"strings"

	"crawshaw.io/sqlite"
)

const (
	tableRouteRefs = "ref_gtfs_routes"
	tableStopRefs  = "ref_gtfs_stops"
)

const routeRefsDDL = `route_id TEXT PRIMARY KEY, route_short_name TEXT, route_long_name TEXT,
	route_type INTEGER, route_key TEXT`

const stopRefsDDL = `stop_id TEXT PRIMARY KEY, stop_code TEXT, stop_name TEXT, stop_lat REAL,
	stop_lon REAL, stop_key TEXT`

// NormalizeKey is the join key between feed identifiers and the free-text route and stop numbers
// of the open-data exports.
func NormalizeKey(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// normalizedKey returns nil for absent or blank identifiers, which never join.
func normalizedKey(s *string) *string {
	if s == nil {
		return nil
	}
	key := NormalizeKey(*s)
	if key == "" {
		return nil
	}
	return &key
}

type Route struct {
	RouteID        string
	RouteShortName *string
	RouteLongName  *string
	RouteType      *int64
}

type RouteRef struct {
	Route
	RouteKey string
}

type StopRef struct {
	Stop
	StopKey string
}

// RouteRefs maps each route with a short name to its key. Routes without one have no key and
// are left out. Keys are not unique.
func RouteRefs(routes []Route) []RouteRef {
	var out []RouteRef
	for _, r := range routes {
		if r.RouteShortName == nil {
			continue
		}
		out = append(out, RouteRef{Route: r, RouteKey: NormalizeKey(*r.RouteShortName)})
	}
	return out
}

// StopRefs maps each stop with a code to its key.
func StopRefs(stops []Stop) []StopRef {
	var out []StopRef
	for _, s := range stops {
		if s.StopCode == nil {
			continue
		}
		out = append(out, StopRef{Stop: s, StopKey: NormalizeKey(*s.StopCode)})
	}
	return out
}

// MaterializeReferences rebuilds ref_gtfs_routes and ref_gtfs_stops.
func MaterializeReferences(store *Store) error {
	if err := store.RequireTables(tableRoutes, tableStops); err != nil {
		return err
	}

	routes, err := readRoutes(store)
	if err != nil {
		return err
	}
	routeRefs := RouteRefs(routes)
	routeColumns := []string{"route_id", "route_short_name", "route_long_name", "route_type", "route_key"}
	err = store.ReplaceTable(tableRouteRefs, routeRefsDDL, func(target string) error {
		i := 0
		_, err := store.insertRows(target, routeColumns, func(values []any) (bool, error) {
			if i >= len(routeRefs) {
				return false, nil
			}
			r := routeRefs[i]
			i++
			values[0] = r.RouteID
			values[1] = r.RouteShortName
			values[2] = r.RouteLongName
			values[3] = r.RouteType
			values[4] = r.RouteKey
			return true, nil
		})
		return err
	}, "route_key")
	if err != nil {
		return err
	}

	stops, err := readStops(store)
	if err != nil {
		return err
	}
	stopRefs := StopRefs(stops)
	stopColumns := []string{"stop_id", "stop_code", "stop_name", "stop_lat", "stop_lon", "stop_key"}
	return store.ReplaceTable(tableStopRefs, stopRefsDDL, func(target string) error {
		i := 0
		_, err := store.insertRows(target, stopColumns, func(values []any) (bool, error) {
			if i >= len(stopRefs) {
				return false, nil
			}
			s := stopRefs[i]
			i++
			values[0] = s.StopID
			values[1] = s.StopCode
			values[2] = s.StopName
			values[3] = s.Lat
			values[4] = s.Lon
			values[5] = s.StopKey
			return true, nil
		})
		return err
	}, "stop_key")
}

func readRoutes(store *Store) ([]Route, error) {
	var routes []Route
	err := store.exec(`SELECT route_id, route_short_name, route_long_name, route_type
		FROM raw_gtfs_routes ORDER BY route_id`, func(stmt *sqlite.Stmt) error {
		routes = append(routes, Route{
			RouteID:        stmt.GetText("route_id"),
			RouteShortName: nullableText(stmt, "route_short_name"),
			RouteLongName:  nullableText(stmt, "route_long_name"),
			RouteType:      nullableInt64(stmt, "route_type"),
		})
		return nil
	})
	return routes, err
}

package transitstats

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"crawshaw.io/sqlite"
	"github.com/golang/geo/s2"
	"github.com/tidwall/gjson"
)

const (
	tableWeightedEdges = "raw_gtfs_edges_weighted"
	tableStopDegree    = "agg_stop_degree"
	tableNetworkStats  = "agg_network_stats"
)

const earthRadiusMeters = 6371000.0

const weightedEdgesDDL = `from_stop_id TEXT, to_stop_id TEXT, trip_count INTEGER, route_count INTEGER,
	route_ids TEXT, distance_m REAL, PRIMARY KEY (from_stop_id, to_stop_id)`

const stopDegreeDDL = `stop_id TEXT PRIMARY KEY, in_degree INTEGER, out_degree INTEGER, total_degree INTEGER,
	weighted_in INTEGER, weighted_out INTEGER`

const networkStatsDDL = `node_count INTEGER, edge_count INTEGER, density REAL, avg_degree REAL`

type Stop struct {
	StopID   string
	StopCode *string
	StopName *string
	Lat      *float64
	Lon      *float64
}

// WeightedEdge is every edge between an ordered pair of stops collapsed into one row.
type WeightedEdge struct {
	FromStopID string
	ToStopID   string
	TripCount  int64
	RouteCount int64
	RouteIDs   []string
	DistanceM  *float64
}

// AggregateEdges groups edges by (from, to). Direction matters. The result is ordered by
// (from, to), and RouteIDs is sorted.
func AggregateEdges(edges []Edge, stops []Stop) []WeightedEdge {
	type pair struct{ from, to string }

	stopsByID := make(map[string]Stop, len(stops))
	for _, s := range stops {
		stopsByID[s.StopID] = s
	}

	groups := make(map[pair]*WeightedEdge)
	routes := make(map[pair]map[string]bool)
	for _, e := range edges {
		key := pair{e.FromStopID, e.ToStopID}
		w, ok := groups[key]
		if !ok {
			w = &WeightedEdge{FromStopID: e.FromStopID, ToStopID: e.ToStopID}
			groups[key] = w
			routes[key] = make(map[string]bool)
		}
		w.TripCount++
		if e.RouteID != nil {
			routes[key][*e.RouteID] = true
		}
	}

	out := make([]WeightedEdge, 0, len(groups))
	for key, w := range groups {
		for routeID := range routes[key] {
			w.RouteIDs = append(w.RouteIDs, routeID)
		}
		slices.Sort(w.RouteIDs)
		w.RouteCount = int64(len(w.RouteIDs))
		if d, ok := StopDistance(stopsByID[key.from], stopsByID[key.to]); ok {
			w.DistanceM = &d
		}
		out = append(out, *w)
	}
	slices.SortFunc(out, func(a, b WeightedEdge) int {
		return cmp.Or(cmp.Compare(a.FromStopID, b.FromStopID), cmp.Compare(a.ToStopID, b.ToStopID))
	})
	return out
}

// StopDistance is the great-circle distance in meters between two stops. ok is false when
// either stop has no coordinates.
func StopDistance(a, b Stop) (meters float64, ok bool) {
	if a.Lat == nil || a.Lon == nil || b.Lat == nil || b.Lon == nil {
		return 0, false
	}
	p1 := s2.LatLngFromDegrees(*a.Lat, *a.Lon)
	p2 := s2.LatLngFromDegrees(*b.Lat, *b.Lon)
	return p1.Distance(p2).Radians() * earthRadiusMeters, true
}

type StopDegree struct {
	StopID      string
	InDegree    int64
	OutDegree   int64
	TotalDegree int64
	WeightedIn  int64 // trips arriving
	WeightedOut int64 // trips departing
}

// StopDegrees computes per-stop degree over the weighted graph, ordered by stop id.
func StopDegrees(weighted []WeightedEdge) []StopDegree {
	degrees := make(map[string]*StopDegree)
	get := func(stopID string) *StopDegree {
		d, ok := degrees[stopID]
		if !ok {
			d = &StopDegree{StopID: stopID}
			degrees[stopID] = d
		}
		return d
	}
	for _, w := range weighted {
		from := get(w.FromStopID)
		from.OutDegree++
		from.WeightedOut += w.TripCount
		to := get(w.ToStopID)
		to.InDegree++
		to.WeightedIn += w.TripCount
	}

	out := make([]StopDegree, 0, len(degrees))
	for _, d := range degrees {
		d.TotalDegree = d.InDegree + d.OutDegree
		out = append(out, *d)
	}
	slices.SortFunc(out, func(a, b StopDegree) int { return strings.Compare(a.StopID, b.StopID) })
	return out
}

type NetworkStats struct {
	NodeCount int64
	EdgeCount int64
	// Density is edges over possible directed edges, 0 below two nodes.
	Density   float64
	AvgDegree float64
}

func ComputeNetworkStats(weighted []WeightedEdge) NetworkStats {
	nodes := make(map[string]bool)
	for _, w := range weighted {
		nodes[w.FromStopID] = true
		nodes[w.ToStopID] = true
	}
	stats := NetworkStats{NodeCount: int64(len(nodes)), EdgeCount: int64(len(weighted))}
	if stats.NodeCount >= 2 {
		n := float64(stats.NodeCount)
		stats.Density = float64(stats.EdgeCount) / (n * (n - 1))
	}
	if stats.NodeCount > 0 {
		stats.AvgDegree = 2 * float64(stats.EdgeCount) / float64(stats.NodeCount)
	}
	return stats
}

// MaterializeWeightedEdges rebuilds raw_gtfs_edges_weighted from raw_gtfs_edges.
func MaterializeWeightedEdges(store *Store) error {
	if err := store.RequireTables(tableEdges, tableStops); err != nil {
		return err
	}
	edges, err := readEdges(store)
	if err != nil {
		return err
	}
	stops, err := readStops(store)
	if err != nil {
		return err
	}
	weighted := AggregateEdges(edges, stops)

	columns := []string{"from_stop_id", "to_stop_id", "trip_count", "route_count", "route_ids", "distance_m"}
	// route_ids is a JSON array of strings.
	return store.ReplaceTable(tableWeightedEdges, weightedEdgesDDL, func(target string) error {
		i := 0
		_, err := store.insertRows(target, columns, func(values []any) (bool, error) {
			if i >= len(weighted) {
				return false, nil
			}
			w := weighted[i]
			i++
			values[0] = w.FromStopID
			values[1] = w.ToStopID
			values[2] = w.TripCount
			values[3] = w.RouteCount
			routeIDs, err := json.Marshal(append([]string{}, w.RouteIDs...))
			if err != nil {
				return false, err
			}
			values[4] = string(routeIDs)
			values[5] = w.DistanceM
			return true, nil
		})
		return err
	}, "to_stop_id")
}

// MaterializeNetworkStats derives agg_stop_degree and agg_network_stats from the weighted graph.
func MaterializeNetworkStats(store *Store) error {
	if err := store.RequireTables(tableWeightedEdges); err != nil {
		return err
	}
	weighted, err := readWeightedEdges(store)
	if err != nil {
		return err
	}

	degrees := StopDegrees(weighted)
	columns := []string{"stop_id", "in_degree", "out_degree", "total_degree", "weighted_in", "weighted_out"}
	err = store.ReplaceTable(tableStopDegree, stopDegreeDDL, func(target string) error {
		i := 0
		_, err := store.insertRows(target, columns, func(values []any) (bool, error) {
			if i >= len(degrees) {
				return false, nil
			}
			d := degrees[i]
			i++
			values[0] = d.StopID
			values[1] = d.InDegree
			values[2] = d.OutDegree
			values[3] = d.TotalDegree
			values[4] = d.WeightedIn
			values[5] = d.WeightedOut
			return true, nil
		})
		return err
	})
	if err != nil {
		return err
	}

	stats := ComputeNetworkStats(weighted)
	return store.ReplaceTable(tableNetworkStats, networkStatsDDL, func(target string) error {
		return store.exec(fmt.Sprintf(
			"INSERT INTO %s (node_count, edge_count, density, avg_degree) VALUES (?, ?, ?, ?)", target),
			nil, stats.NodeCount, stats.EdgeCount, stats.Density, stats.AvgDegree)
	})
}

func readWeightedEdges(store *Store) ([]WeightedEdge, error) {
	var weighted []WeightedEdge
	err := store.exec("SELECT * FROM raw_gtfs_edges_weighted ORDER BY from_stop_id, to_stop_id", func(stmt *sqlite.Stmt) error {
		w := WeightedEdge{
			FromStopID: stmt.GetText("from_stop_id"),
			ToStopID:   stmt.GetText("to_stop_id"),
			TripCount:  stmt.GetInt64("trip_count"),
			RouteCount: stmt.GetInt64("route_count"),
			DistanceM:  nullableFloat(stmt, "distance_m"),
		}
		for _, id := range gjson.Parse(stmt.GetText("route_ids")).Array() {
			w.RouteIDs = append(w.RouteIDs, id.String())
		}
		weighted = append(weighted, w)
		return nil
	})
	return weighted, err
}

func readStops(store *Store) ([]Stop, error) {
	var stops []Stop
	err := store.exec(`SELECT stop_id, stop_code, stop_name, stop_lat, stop_lon
		FROM raw_gtfs_stops ORDER BY stop_id`, func(stmt *sqlite.Stmt) error {
		stops = append(stops, Stop{
			StopID:   stmt.GetText("stop_id"),
			StopCode: nullableText(stmt, "stop_code"),
			StopName: nullableText(stmt, "stop_name"),
			Lat:      nullableFloat(stmt, "stop_lat"),
			Lon:      nullableFloat(stmt, "stop_lon"),
		})
		return nil
	})
	return stops, err
}

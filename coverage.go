package transitstats

import (
	"fmt"
	"log/slog"

	"crawshaw.io/sqlite"
	"github.com/tidwall/geojson"
	"github.com/tidwall/geojson/geometry"
)

const (
	tableNeighbourhoodCoverage = "agg_stops_per_neighbourhood"
	tableCommunityCoverage     = "agg_stops_per_community"
)

// Coverage categories by stops per km².
const (
	CoverageHigh   = "High"
	CoverageMedium = "Medium"
	CoverageLow    = "Low"

	highCoverageDensity   = 5.0
	mediumCoverageDensity = 1.0
)

type Boundary struct {
	ID       int64
	Name     string
	AreaKm2  float64
	Geometry geojson.Object
}

type Coverage struct {
	BoundaryID  int64
	Name        string
	AreaKm2     float64
	StopCount   int64
	StopsPerKm2 float64
	Category    string
}

// StopsPerArea is count/area, or 0 when the area is not positive.
func StopsPerArea(count int64, areaKm2 float64) float64 {
	if areaKm2 <= 0 {
		return 0
	}
	return float64(count) / areaKm2
}

func CoverageCategory(stopsPerKm2 float64) string {
	switch {
	case stopsPerKm2 >= highCoverageDensity:
		return CoverageHigh
	case stopsPerKm2 >= mediumCoverageDensity:
		return CoverageMedium
	default:
		return CoverageLow
	}
}

// ComputeCoverage counts the stops inside each boundary. Every boundary is reported, in input
// order, including those with no stops. Stops without coordinates are not counted anywhere.
func ComputeCoverage(boundaries []Boundary, stops []Stop) []Coverage {
	var points []geojson.Object
	for _, s := range stops {
		if s.Lat == nil || s.Lon == nil {
			continue
		}
		points = append(points, geojson.NewPoint(geometry.Point{X: *s.Lon, Y: *s.Lat}))
	}

	out := make([]Coverage, 0, len(boundaries))
	for _, b := range boundaries {
		var count int64
		for _, point := range points {
			if b.Geometry.Contains(point) {
				count++
			}
		}
		density := StopsPerArea(count, b.AreaKm2)
		out = append(out, Coverage{
			BoundaryID:  b.ID,
			Name:        b.Name,
			AreaKm2:     b.AreaKm2,
			StopCount:   count,
			StopsPerKm2: density,
			Category:    CoverageCategory(density),
		})
		slog.Debug(fmt.Sprintf("%d of %d stops are inside %s", count, len(points), b.Name))
	}
	return out
}

// MaterializeCoverage rebuilds agg_stops_per_neighbourhood and agg_stops_per_community.
func MaterializeCoverage(store *Store) error {
	if err := store.RequireTables(tableStops, tableNeighbourhoods, tableCommunities); err != nil {
		return err
	}
	stops, err := readStops(store)
	if err != nil {
		return err
	}
	if err := writeCoverage(store, stops, tableNeighbourhoods, tableNeighbourhoodCoverage, "neighbourhood"); err != nil {
		return err
	}
	return writeCoverage(store, stops, tableCommunities, tableCommunityCoverage, "community")
}

func writeCoverage(store *Store, stops []Stop, boundaryTable, table, label string) error {
	boundaries, err := readBoundaries(store, boundaryTable)
	if err != nil {
		return err
	}
	coverage := ComputeCoverage(boundaries, stops)

	idColumn := label + "_id"
	columns := []string{idColumn, label, "area_km2", "stop_count", "stops_per_km2", "coverage_category"}
	ddl := fmt.Sprintf(`%s INTEGER PRIMARY KEY, %s TEXT, area_km2 REAL, stop_count INTEGER,
		stops_per_km2 REAL, coverage_category TEXT`, idColumn, label)
	return store.ReplaceTable(table, ddl, func(target string) error {
		i := 0
		_, err := store.insertRows(target, columns, func(values []any) (bool, error) {
			if i >= len(coverage) {
				return false, nil
			}
			c := coverage[i]
			i++
			values[0] = c.BoundaryID
			values[1] = c.Name
			values[2] = c.AreaKm2
			values[3] = c.StopCount
			values[4] = c.StopsPerKm2
			values[5] = c.Category
			return true, nil
		})
		return err
	})
}

func readBoundaries(store *Store, table string) ([]Boundary, error) {
	var boundaries []Boundary
	query := fmt.Sprintf("SELECT id, name, area_km2, geometry FROM %s ORDER BY id", table)
	err := store.exec(query, func(stmt *sqlite.Stmt) error {
		id := stmt.GetInt64("id")
		obj, err := geojson.Parse(stmt.GetText("geometry"), &geojson.ParseOptions{RequireValid: true})
		if err != nil {
			return fmt.Errorf("%w: %s boundary %d: %v", ErrInvalidInput, table, id, err)
		}
		boundaries = append(boundaries, Boundary{
			ID:       id,
			Name:     stmt.GetText("name"),
			AreaKm2:  stmt.GetFloat("area_km2"),
			Geometry: obj,
		})
		return nil
	})
	return boundaries, err
}

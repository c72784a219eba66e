package transitstats

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/tidwall/geojson"
	"github.com/tidwall/gjson"
)

// Dataset names an open-data layer. Its value doubles as the file key in the open-data
// directory and in configuration.
type Dataset string

const (
	DatasetPassUps         Dataset = "pass_ups"
	DatasetOnTime          Dataset = "on_time"
	DatasetPassengerCounts Dataset = "passenger_counts"
	DatasetCycling         Dataset = "cycling"
	DatasetWalkways        Dataset = "walkways"
	DatasetNeighbourhoods  Dataset = "neighbourhoods"
	DatasetCommunities     Dataset = "communities"
)

const (
	tablePassUps         = "raw_open_data_pass_ups"
	tableOnTime          = "raw_open_data_on_time"
	tablePassengerCounts = "raw_open_data_passenger_counts"
	tableCycling         = "raw_open_data_cycling_network"
	tableWalkways        = "raw_open_data_walkways"
	tableNeighbourhoods  = "raw_neighbourhoods"
	tableCommunities     = "raw_community_areas"
)

type datasetKind int

const (
	kindTabular datasetKind = iota
	kindSpatial
	kindBoundary
)

type datasetSchema struct {
	Table string
	Kind  datasetKind
	// Numeric columns are stored as REAL; values that do not parse become NULL.
	Numeric []string
}

var datasetSchemas = map[Dataset]datasetSchema{
	DatasetPassUps:         {Table: tablePassUps, Kind: kindTabular},
	DatasetOnTime:          {Table: tableOnTime, Kind: kindTabular, Numeric: []string{"deviation"}},
	DatasetPassengerCounts: {Table: tablePassengerCounts, Kind: kindTabular, Numeric: []string{"average_boardings", "average_alightings"}},
	DatasetCycling:         {Table: tableCycling, Kind: kindSpatial},
	DatasetWalkways:        {Table: tableWalkways, Kind: kindSpatial},
	DatasetNeighbourhoods:  {Table: tableNeighbourhoods, Kind: kindBoundary},
	DatasetCommunities:     {Table: tableCommunities, Kind: kindBoundary},
}

// Datasets lists every known dataset in load order.
var Datasets = []Dataset{
	DatasetPassUps, DatasetOnTime, DatasetPassengerCounts,
	DatasetCycling, DatasetWalkways,
	DatasetNeighbourhoods, DatasetCommunities,
}

var (
	boundaryNameFields = []string{"name", "NAME"}
	boundaryAreaFields = []string{"area_km2", "AREA_KM2"}
)

const spatialDDL = `id INTEGER PRIMARY KEY, properties_json TEXT, geometry TEXT`

const boundaryDDL = `id INTEGER PRIMARY KEY, name TEXT, area_km2 REAL, geometry TEXT`

func lookupDataset(dataset Dataset, kind datasetKind) datasetSchema {
	schema, ok := datasetSchemas[dataset]
	if !ok || schema.Kind != kind {
		panic(fmt.Sprintf("unexpected dataset %q", dataset))
	}
	return schema
}

// LoadOpenData loads path with the loader matching dataset.
func LoadOpenData(store *Store, path string, dataset Dataset) error {
	schema, ok := datasetSchemas[dataset]
	if !ok {
		return fmt.Errorf("%w: unknown dataset %q", ErrInvalidInput, dataset)
	}
	switch schema.Kind {
	case kindSpatial:
		return LoadOpenDataGeoJSON(store, path, dataset)
	case kindBoundary:
		return LoadBoundaries(store, path, dataset)
	default:
		return LoadOpenDataCSV(store, path, dataset)
	}
}

// LoadOpenDataCSV replaces the raw table of a tabular dataset with the rows of the CSV export at
// path. Column names are snake_cased.
func LoadOpenDataCSV(store *Store, path string, dataset Dataset) error {
	if path == "" {
		panic("Missing path")
	}
	schema := lookupDataset(dataset, kindTabular)
	slog.Info(fmt.Sprintf("Importing %s to %s", path, schema.Table))

	inputF, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = inputF.Close() }()

	inputCSV := csv.NewReader(inputF)
	inputCSV.FieldsPerRecord = -1

	header, err := inputCSV.Read()
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %s is empty", ErrInvalidInput, path)
	} else if err != nil {
		return err
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], utf8BOM)
	}
	columns := snakeCaseColumns(header)

	numeric := make([]bool, len(columns))
	var fragments []string
	for i, column := range columns {
		columnType := typeText
		for _, n := range schema.Numeric {
			if n == column {
				numeric[i] = true
				columnType = typeReal
			}
		}
		fragments = append(fragments, fmt.Sprintf("%s %s", quoteIdentifier(column), columnType))
	}

	return store.ReplaceTable(schema.Table, strings.Join(fragments, ", "), func(target string) error {
		_, err := store.insertRows(target, columns, func(values []any) (bool, error) {
			row, err := inputCSV.Read()
			if errors.Is(err, io.EOF) {
				return false, nil
			} else if err != nil {
				return false, fmt.Errorf("%s: %w", path, err)
			}
			for i := range columns {
				if i >= len(row) || row[i] == "" {
					continue
				}
				if numeric[i] {
					if v, err := strconv.ParseFloat(strings.TrimSpace(row[i]), 64); err == nil {
						values[i] = v
					}
					continue
				}
				values[i] = row[i]
			}
			return true, nil
		})
		return err
	})
}

// snakeCaseColumns lowercases header names and collapses every run of other characters to a
// single underscore, so "Route Number" becomes route_number. Blank and repeated names are made
// unique.
func snakeCaseColumns(header []string) []string {
	seen := make(map[string]int)
	out := make([]string, len(header))
	for i, h := range header {
		name := snakeCase(h)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		} else if name[0] >= '0' && name[0] <= '9' {
			name = "_" + name
		}
		seen[name]++
		if n := seen[name]; n > 1 {
			name = fmt.Sprintf("%s_%d", name, n)
		}
		out[i] = name
	}
	return out
}

func snakeCase(s string) string {
	var b strings.Builder
	separate := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if separate && b.Len() > 0 {
				b.WriteByte('_')
			}
			separate = false
			b.WriteRune(r)
		} else {
			separate = true
		}
	}
	return b.String()
}

type feature struct {
	Properties gjson.Result
	Geometry   string // raw GeoJSON, empty when null
}

// readFeatures returns the features of a GeoJSON document in file order. A bare Feature or
// geometry is treated as a one-feature collection. Every non-null geometry must parse.
func readFeatures(path string) ([]feature, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: %s is not valid JSON", ErrInvalidInput, path)
	}
	doc := gjson.ParseBytes(data)

	var raw []gjson.Result
	switch doc.Get("type").String() {
	case "FeatureCollection":
		doc.Get("features").ForEach(func(_, value gjson.Result) bool {
			raw = append(raw, value)
			return true
		})
	case "Feature":
		raw = append(raw, doc)
	case "":
		return nil, fmt.Errorf("%w: %s has no GeoJSON type", ErrInvalidInput, path)
	default:
		raw = append(raw, gjson.Parse(fmt.Sprintf(`{"type":"Feature","properties":{},"geometry":%s}`, doc.Raw)))
	}

	features := make([]feature, 0, len(raw))
	for i, f := range raw {
		geometry := f.Get("geometry")
		out := feature{Properties: f.Get("properties")}
		if geometry.Exists() && geometry.Type != gjson.Null {
			if _, err := geojson.Parse(geometry.Raw, &geojson.ParseOptions{RequireValid: true}); err != nil {
				return nil, fmt.Errorf("%w: %s feature %d: %v", ErrInvalidInput, path, i+1, err)
			}
			out.Geometry = geometry.Raw
		}
		features = append(features, out)
	}
	return features, nil
}

// LoadOpenDataGeoJSON replaces the raw table of a spatial layer with the features at path.
func LoadOpenDataGeoJSON(store *Store, path string, dataset Dataset) error {
	if path == "" {
		panic("Missing path")
	}
	schema := lookupDataset(dataset, kindSpatial)
	slog.Info(fmt.Sprintf("Importing %s to %s", path, schema.Table))

	features, err := readFeatures(path)
	if err != nil {
		return err
	}

	columns := []string{"id", "properties_json", "geometry"}
	return store.ReplaceTable(schema.Table, spatialDDL, func(target string) error {
		i := 0
		_, err := store.insertRows(target, columns, func(values []any) (bool, error) {
			if i >= len(features) {
				return false, nil
			}
			f := features[i]
			i++
			values[0] = i
			properties := "{}"
			if f.Properties.IsObject() {
				properties = f.Properties.Raw
			}
			values[1] = properties
			if f.Geometry != "" {
				values[2] = f.Geometry
			}
			return true, nil
		})
		return err
	})
}

// LoadBoundaries replaces a boundary table with the polygons at path. Every feature needs a
// geometry. Name and area come from the first candidate property present.
func LoadBoundaries(store *Store, path string, dataset Dataset) error {
	if path == "" {
		panic("Missing path")
	}
	schema := lookupDataset(dataset, kindBoundary)
	slog.Info(fmt.Sprintf("Importing %s to %s", path, schema.Table))

	features, err := readFeatures(path)
	if err != nil {
		return err
	}
	for i, f := range features {
		if f.Geometry == "" {
			return fmt.Errorf("%w: %s feature %d has no geometry", ErrInvalidInput, path, i+1)
		}
	}

	columns := []string{"id", "name", "area_km2", "geometry"}
	return store.ReplaceTable(schema.Table, boundaryDDL, func(target string) error {
		i := 0
		_, err := store.insertRows(target, columns, func(values []any) (bool, error) {
			if i >= len(features) {
				return false, nil
			}
			f := features[i]
			i++
			values[0] = i
			values[1] = boundaryName(f.Properties)
			values[2] = boundaryArea(f.Properties)
			values[3] = f.Geometry
			return true, nil
		})
		return err
	})
}

func boundaryName(properties gjson.Result) string {
	for _, field := range boundaryNameFields {
		if v := properties.Get(field); v.Exists() && v.Type != gjson.Null && v.String() != "" {
			return v.String()
		}
	}
	return "Unknown"
}

func boundaryArea(properties gjson.Result) float64 {
	for _, field := range boundaryAreaFields {
		v := properties.Get(field)
		switch v.Type {
		case gjson.Number:
			return v.Num
		case gjson.String:
			if area, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64); err == nil {
				return area
			}
		}
	}
	return 0
}

package transitstats

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestSnakeCaseColumns(t *testing.T) {
	assert.Equal(t,
		[]string{"pass_up_id", "route_number", "average_boardings_weekday", "column_4", "time", "time_2", "_2025_total"},
		snakeCaseColumns([]string{"Pass-Up ID", "Route  Number", "Average Boardings (Weekday)", "", "Time", "TIME", "2025 Total"}))
}

func TestLoadOpenDataCSV(t *testing.T) {
	store := loadSample(t)

	assert.Equal(t, [][]string{
		{"pass_up_id", "TEXT"},
		{"pass_up_type", "TEXT"},
		{"time", "TEXT"},
		{"route_number", "TEXT"},
		{"route_name", "TEXT"},
		{"location", "TEXT"},
	}, queryRows(t, store, "SELECT name, type FROM pragma_table_info('raw_open_data_pass_ups') ORDER BY cid"))

	assert.Equal(t, [][]string{{" 11 "}, {"11"}, {"11"}, {"11"}, {"16"}, {""}},
		queryRows(t, store, "SELECT route_number FROM raw_open_data_pass_ups ORDER BY rowid"))

	// Numeric columns are REAL; unparseable values are NULL.
	assert.Equal(t, [][]string{{"real"}, {"real"}, {"real"}, {"null"}, {"null"}},
		queryRows(t, store, "SELECT typeof(deviation) FROM raw_open_data_on_time ORDER BY rowid"))
}

func TestLoadOpenDataCSVReplaces(t *testing.T) {
	store := loadSample(t)
	path := filepath.Join(writeFiles(t, testTempdir(t), map[string]string{
		"pass_ups.csv": "Time,Route Number\n2025-02-01T08:00:00,60\n",
	}), "pass_ups.csv")

	require.NoError(t, LoadOpenData(store, path, DatasetPassUps))
	assert.Equal(t, [][]string{{"2025-02-01T08:00:00", "60"}},
		queryRows(t, store, "SELECT * FROM raw_open_data_pass_ups"))
}

func TestLoadOpenDataCSVEmpty(t *testing.T) {
	store := newTestStore(t)
	path := filepath.Join(writeFiles(t, testTempdir(t), map[string]string{"on_time.csv": ""}), "on_time.csv")
	require.ErrorIs(t, LoadOpenData(store, path, DatasetOnTime), ErrInvalidInput)
}

func TestLoadOpenDataUnknownDataset(t *testing.T) {
	store := newTestStore(t)
	require.ErrorIs(t, LoadOpenData(store, "unused.csv", Dataset("bike_counts")), ErrInvalidInput)
}

func TestLoadOpenDataGeoJSON(t *testing.T) {
	store := loadSample(t)

	rows := queryRows(t, store, "SELECT id, properties_json, geometry IS NULL FROM raw_open_data_cycling_network ORDER BY id")
	require.Len(t, rows, 2)
	assert.Equal(t, "1", rows[0][0])
	assert.Equal(t, "protected", gjson.Get(rows[0][1], "class").String())
	assert.Equal(t, "0", rows[0][2])
	assert.Equal(t, []string{"2", `{"street":"Unmapped"}`, "1"}, rows[1])

	geometry := queryRows(t, store, "SELECT geometry FROM raw_open_data_cycling_network WHERE id = 1")[0][0]
	assert.Equal(t, "LineString", gjson.Get(geometry, "type").String())
}

func TestLoadOpenDataGeoJSONBareGeometry(t *testing.T) {
	store := newTestStore(t)
	path := filepath.Join(writeFiles(t, testTempdir(t), map[string]string{
		"walkways.geojson": `{"type":"LineString","coordinates":[[-97.14,49.88],[-97.13,49.88]]}`,
	}), "walkways.geojson")

	require.NoError(t, LoadOpenData(store, path, DatasetWalkways))
	assert.Equal(t, [][]string{{"1", "{}"}}, queryRows(t, store, "SELECT id, properties_json FROM raw_open_data_walkways"))
}

func TestLoadOpenDataGeoJSONInvalid(t *testing.T) {
	cases := map[string]string{
		"not json":       `{"type":`,
		"no type":        `{"features":[]}`,
		"bad geometry":   `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":"here"}}]}`,
		"unknown object": `{"type":"Feature","properties":{},"geometry":{"type":"Blob","coordinates":[]}}`,
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			store := newTestStore(t)
			path := filepath.Join(writeFiles(t, testTempdir(t), map[string]string{"cycling.geojson": contents}), "cycling.geojson")
			err := LoadOpenData(store, path, DatasetCycling)
			require.ErrorIs(t, err, ErrInvalidInput)

			exists, err := store.TableExists(tableCycling)
			require.NoError(t, err)
			assert.False(t, exists)
		})
	}
}

func TestLoadBoundaries(t *testing.T) {
	store := loadSample(t)

	assert.Equal(t, [][]string{
		{"1", "Downtown", "0.5"},
		{"2", "North End", "2.0"},
		{"3", "Unknown", "0.0"},
	}, queryRows(t, store, "SELECT id, name, area_km2 FROM raw_neighbourhoods ORDER BY id"))
}

func TestLoadBoundariesRequiresGeometry(t *testing.T) {
	store := newTestStore(t)
	path := filepath.Join(writeFiles(t, testTempdir(t), map[string]string{
		"neighbourhoods.geojson": `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{"name":"Void"},"geometry":null}]}`,
	}), "neighbourhoods.geojson")

	err := LoadOpenData(store, path, DatasetNeighbourhoods)
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.ErrorContains(t, err, "feature 1")
}

func TestBoundaryFields(t *testing.T) {
	assert.Equal(t, "Centre", boundaryName(gjson.Parse(`{"name":"Centre","NAME":"ignored"}`)))
	assert.Equal(t, "Centre", boundaryName(gjson.Parse(`{"name":"","NAME":"Centre"}`)))
	assert.Equal(t, "Unknown", boundaryName(gjson.Parse(`{"name":null}`)))

	assert.Equal(t, 1.25, boundaryArea(gjson.Parse(`{"area_km2":1.25}`)))
	assert.Equal(t, 3.0, boundaryArea(gjson.Parse(`{"AREA_KM2":" 3 "}`)))
	assert.Equal(t, 0.0, boundaryArea(gjson.Parse(`{"area_km2":"large"}`)))
	assert.Equal(t, 0.0, boundaryArea(gjson.Parse(`{}`)))
}

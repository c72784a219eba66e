package transitstats

import (
	"archive/zip"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"crawshaw.io/sqlite"
	"github.com/stretchr/testify/require"
)

// A small network. Service S runs Mon/Wed/Fri in January 2025, is removed on Monday the 6th and
// added on Saturday the 4th. WKND runs weekends.
var sampleFeed = map[string]string{
	"stops.txt": `stop_id,stop_code,stop_name,stop_lat,stop_lon,wheelchair_boarding
A,10001,Main & First,49.8950,-97.1380,1
B,10002,Main & Second,49.8960,-97.1390,
C, 10003 ,Main & Third,49.8970,-97.1400,
D,,Depot,,,
`,
	"routes.txt": `route_id,agency_id,route_short_name,route_long_name,route_type
R11,WT,11,Portage-Kildonan,3
R16,WT,16,Selkirk-Osborne,3
RX,WT,,Special,3
`,
	"trips.txt": `route_id,service_id,trip_id,trip_headsign,direction_id,shape_id
R11,S,T,Downtown,0,
R16,S,U,Downtown,0,
R11,WKND,V,Uptown,1,
RX,S,W,Special,0,
`,
	"stop_times.txt": `trip_id,arrival_time,departure_time,stop_id,stop_sequence
T,08:10:00,08:10:00,C,3
T,,08:00:00,A,1
T,08:05:00,08:05:30,B,2
U,25:10:00,25:10:00,A,1
U,25:15:00,25:15:00,B,2
V,09:00:00,09:00:00,C,1
V,09:06:00,09:06:00,B,2
W,10:00:00,10:00:00,A,1
`,
	"calendar.txt": `service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date
S,1,0,1,0,1,0,0,20250101,20250131
WKND,0,0,0,0,0,1,1,20250101,20250131
`,
	"calendar_dates.txt": `service_id,date,exception_type
S,20250106,2
S,20250104,1
`,
	"feed_info.txt": `feed_publisher_name,feed_publisher_url,feed_lang,feed_start_date,feed_end_date,feed_version
Winnipeg Transit,https://winnipegtransit.com,en,20250101,20250131,2025-01
`,
}

var sampleOpenData = map[string]string{
	"pass_ups.csv": `Pass-Up ID,Pass-Up Type,Time,Route Number,Route Name,Location
1,Full Bus Pass-Up,2025-01-06T07:31:00.000, 11 ,Portage,POINT (-97.1 49.8)
2,Full Bus Pass-Up,2025-01-06T08:15:00,11,Portage,
3,Full Bus Pass-Up,01/07/2025 08:15:00 AM,11,Portage,
4,Full Bus Pass-Up,not a time,11,Portage,
5,Wheelchair User Pass-Up,2025-01-07 09:00:00,16,Selkirk,
6,Full Bus Pass-Up,2025-01-08T10:00:00,,,
`,
	"on_time.csv": `Row ID,Route Number,Route Name,Stop Number,Day Type,Scheduled Time,Deviation
1,11,Portage,10001,Weekday,2025-01-06T08:00:00,-60
2,11,Portage,10002,Weekday,2025-01-06T08:05:00,120
3, 11,Portage,10001,Weekday,2025-01-06T09:00:00,30
4,16,Selkirk,10003,Weekday,2025-01-06T09:00:00,
5,16,Selkirk,10002,Weekday,2025-01-06T09:05:00,abc
`,
	"passenger_counts.csv": `Stop Number,Stop Name,Route Number,Day Type,Time Period,Average Boardings,Average Alightings
10001,Main & First,11,Weekday,AM Peak,12.5,3
10001,Main & First,16,Weekday,AM Peak,7.5,1
10002,Main & Second,11,Weekday,AM Peak,4,2
`,
	"neighbourhoods.geojson": `{"type":"FeatureCollection","features":[
{"type":"Feature","properties":{"name":"Downtown","area_km2":0.5},
 "geometry":{"type":"Polygon","coordinates":[[[-97.15,49.89],[-97.13,49.89],[-97.13,49.90],[-97.15,49.90],[-97.15,49.89]]]}},
{"type":"Feature","properties":{"NAME":"North End","AREA_KM2":"2.0"},
 "geometry":{"type":"Polygon","coordinates":[[[-97.15,49.91],[-97.13,49.91],[-97.13,49.92],[-97.15,49.92],[-97.15,49.91]]]}},
{"type":"Feature","properties":{},
 "geometry":{"type":"Polygon","coordinates":[[[-97.1385,49.8945],[-97.1375,49.8945],[-97.1375,49.8955],[-97.1385,49.8955],[-97.1385,49.8945]]]}}
]}`,
	"communities.geojson": `{"type":"FeatureCollection","features":[
{"type":"Feature","properties":{"name":"Centre","area_km2":2},
 "geometry":{"type":"Polygon","coordinates":[[[-97.16,49.88],[-97.12,49.88],[-97.12,49.93],[-97.16,49.93],[-97.16,49.88]]]}}
]}`,
	"cycling.geojson": `{"type":"FeatureCollection","features":[
{"type":"Feature","properties":{"street":"Assiniboine Ave","class":"protected"},
 "geometry":{"type":"LineString","coordinates":[[-97.14,49.887],[-97.13,49.886]]}},
{"type":"Feature","properties":{"street":"Unmapped"},"geometry":null}
]}`,
}

func testTempdir(t *testing.T) string {
	dir, err := os.MkdirTemp("", "")
	require.NoError(t, err)
	t.Cleanup(func() {
		if t.Failed() {
			fmt.Println("Preserving tempdir after failed test", dir)
		} else {
			_ = os.RemoveAll(dir)
		}
	})
	return dir
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Create(filepath.Join(testTempdir(t), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func writeFiles(t *testing.T, dir string, files map[string]string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, contents := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644))
	}
	return dir
}

func writeZip(t *testing.T, path string, files map[string]string) string {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	w := zip.NewWriter(f)
	for name, contents := range files {
		entry, err := w.Create(name)
		require.NoError(t, err)
		_, err = entry.Write([]byte(contents))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
	return path
}

// withFiles copies base and applies overrides. An empty override removes the file.
func withFiles(base map[string]string, overrides map[string]string) map[string]string {
	out := make(map[string]string, len(base))
	for name, contents := range base {
		out[name] = contents
	}
	for name, contents := range overrides {
		if contents == "" {
			delete(out, name)
		} else {
			out[name] = contents
		}
	}
	return out
}

// loadSample loads the sample feed and every open-data layer into a fresh store.
func loadSample(t *testing.T) *Store {
	t.Helper()
	dir := testTempdir(t)
	store, err := Create(filepath.Join(dir, "sample.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	loadSampleInto(t, store, dir)
	return store
}

func loadSampleInto(t *testing.T, store *Store, dir string) {
	t.Helper()
	feedDir := writeFiles(t, filepath.Join(dir, "feed"), sampleFeed)
	openDataDir := writeFiles(t, filepath.Join(dir, "open_data"), sampleOpenData)

	_, err := Import(store, feedDir, nil)
	require.NoError(t, err)

	for _, dataset := range Datasets {
		path := filepath.Join(openDataDir, string(dataset)+".csv")
		if _, err := os.Stat(path); err != nil {
			path = filepath.Join(openDataDir, string(dataset)+".geojson")
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		require.NoError(t, LoadOpenData(store, path, dataset), dataset)
	}
}

// queryRows returns every row of query as text, NULL as "".
func queryRows(t *testing.T, store *Store, query string, args ...any) [][]string {
	t.Helper()
	rows := [][]string{}
	err := store.exec(query, func(stmt *sqlite.Stmt) error {
		row := make([]string, stmt.ColumnCount())
		for i := range row {
			row[i] = stmt.ColumnText(i)
		}
		rows = append(rows, row)
		return nil
	}, args...)
	require.NoError(t, err)
	return rows
}

func queryInt(t *testing.T, store *Store, query string, args ...any) int64 {
	t.Helper()
	var v int64
	err := store.exec(query, func(stmt *sqlite.Stmt) error {
		v = stmt.ColumnInt64(0)
		return nil
	}, args...)
	require.NoError(t, err)
	return v
}

func ptr[T any](v T) *T {
	return &v
}

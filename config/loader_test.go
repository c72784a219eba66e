package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transitstats.yml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "transitstats.db", cfg.DBPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.OpenData.Paths())
	assert.Nil(t, cfg.Bounds)
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
db_path: /data/winnipeg.db
gtfs_path: /data/google_transit.zip
service_dates: ["2025-01-06", "2025-01-11"]
export_path: /data/out.zip
log_level: debug
ignore_invalid: true
open_data:
  pass_ups: /data/pass_ups.csv
  neighbourhoods: /data/neighbourhoods.geojson
bounds:
  min_lat: 49.75
  max_lat: 50.0
  min_lon: -97.35
  max_lon: -96.95
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/winnipeg.db", cfg.DBPath)
	assert.Equal(t, "/data/google_transit.zip", cfg.GTFSPath)
	assert.Equal(t, []string{"2025-01-06", "2025-01-11"}, cfg.ServiceDates)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.IgnoreInvalid)
	assert.False(t, cfg.ForceValid)
	assert.Equal(t, &BoundsConfig{MinLat: 49.75, MaxLat: 50, MinLon: -97.35, MaxLon: -96.95}, cfg.Bounds)
	assert.Equal(t, map[string]string{
		"pass_ups":       "/data/pass_ups.csv",
		"neighbourhoods": "/data/neighbourhoods.geojson",
	}, cfg.OpenData.Paths())
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "db_path: from-yaml.db\nlog_level: warn\n")
	t.Setenv("TRANSITSTATS_DB_PATH", "from-env.db")
	t.Setenv("TRANSITSTATS_GTFS_PATH", "feed.zip")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env.db", cfg.DBPath)
	assert.Equal(t, "feed.zip", cfg.GTFSPath)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadInvalid(t *testing.T) {
	cases := map[string]string{
		"log level":    "log_level: loud\n",
		"service date": "service_dates: [\"2025-13-01\"]\n",
		"date format":  "service_dates: [\"20250106\"]\n",
		"bounds order": "bounds: {min_lat: 50, max_lat: 49, min_lon: -98, max_lon: -97}\n",
		"bounds range": "bounds: {min_lat: -91, max_lat: 49, min_lon: -98, max_lon: -97}\n",
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, contents))
			var validationErrors validator.ValidationErrors
			require.ErrorAs(t, err, &validationErrors)
		})
	}

	_, err := Load(writeConfig(t, "db_path: [unclosed\n"))
	assert.ErrorContains(t, err, "parse")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOpenDataDir(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"pass_ups.csv", "cycling.geojson", "communities.json", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	t.Setenv("TRANSITSTATS_OPEN_DATA_DIR", dir)

	path := writeConfig(t, "open_data:\n  pass_ups: /elsewhere/pass_ups.csv\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"pass_ups":    "/elsewhere/pass_ups.csv",
		"cycling":     filepath.Join(dir, "cycling.geojson"),
		"communities": filepath.Join(dir, "communities.json"),
	}, cfg.OpenData.Paths())
}

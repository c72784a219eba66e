package transitstats

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var winnipeg = &Bounds{MinLat: 49.75, MaxLat: 50.00, MinLon: -97.35, MaxLon: -96.95}

func TestBoundsContains(t *testing.T) {
	assert.True(t, winnipeg.Contains(49.8951, -97.1384))
	assert.True(t, winnipeg.Contains(49.75, -96.95))
	assert.False(t, winnipeg.Contains(51, -97.1))
	assert.False(t, winnipeg.Contains(49.9, -98))
}

func TestFeedChecks(t *testing.T) {
	assert.Len(t, feedChecks(nil), 5)
	assert.Len(t, feedChecks(winnipeg), 6)
}

func TestValidateStopTimeFormat(t *testing.T) {
	feed := withFiles(sampleFeed, map[string]string{
		"stop_times.txt": sampleFeed["stop_times.txt"] +
			"W,48:00:00,48:00:00,B,2\n" +
			"W,10:10:00,1010,C,3\n" +
			"W,47:59:59,47:59:59,B,4\n",
	})

	t.Run("nofix", func(t *testing.T) {
		store := newTestStore(t)
		issues, err := Import(store, writeFiles(t, filepath.Join(testTempdir(t), "feed"), feed), nil)
		require.ErrorIs(t, err, ErrInvalidInput)
		assert.Equal(t, []string{
			`stop_times.txt row 9: trip W stop 2 has arrival_time "48:00:00" and departure_time "48:00:00", want H:MM:SS below 48:00:00`,
			`stop_times.txt row 10: trip W stop 3 has departure_time "1010", want H:MM:SS below 48:00:00`,
		}, issues)
	})
	t.Run("fix", func(t *testing.T) {
		store := newTestStore(t)
		issues, err := Import(store, writeFiles(t, filepath.Join(testTempdir(t), "feed"), feed), &ImportOpts{ForceValid: true})
		require.NoError(t, err)
		assert.Len(t, issues, 2)
		assert.Equal(t, [][]string{{"1"}, {"4"}},
			queryRows(t, store, "SELECT stop_sequence FROM raw_gtfs_stop_times WHERE trip_id = 'W' ORDER BY stop_sequence"))
	})
}

func TestValidateBounds(t *testing.T) {
	feed := withFiles(sampleFeed, map[string]string{
		"stops.txt": strings.Replace(sampleFeed["stops.txt"], "B,10002,Main & Second,49.8960", "B,10002,Main & Second,51.0000", 1),
	})

	t.Run("unbounded", func(t *testing.T) {
		store := newTestStore(t)
		issues, err := Import(store, writeFiles(t, filepath.Join(testTempdir(t), "feed"), feed), nil)
		require.NoError(t, err)
		assert.Empty(t, issues)
	})
	t.Run("nofix", func(t *testing.T) {
		store := newTestStore(t)
		issues, err := Import(store, writeFiles(t, filepath.Join(testTempdir(t), "feed"), feed), &ImportOpts{Bounds: winnipeg})
		require.ErrorIs(t, err, ErrInvalidInput)
		assert.Equal(t, []string{
			"stops.txt row 2: stop B at (51, -97.139) is outside lat 49.75..50 lon -97.35..-96.95",
		}, issues)
	})
	t.Run("fix", func(t *testing.T) {
		store := newTestStore(t)
		issues, err := Import(store, writeFiles(t, filepath.Join(testTempdir(t), "feed"), feed),
			&ImportOpts{Bounds: winnipeg, ForceValid: true})
		require.NoError(t, err)

		// Deleting B orphans the stop times visiting it, which go on the next pass.
		require.Len(t, issues, 4)
		assert.Contains(t, issues[0], "stop B")
		for _, issue := range issues[1:] {
			assert.Contains(t, issue, `stop_id "B" matches no row of stops.txt`)
		}
		assert.Equal(t, int64(3), queryInt(t, store, "SELECT count(*) FROM raw_gtfs_stops"))
		assert.Equal(t, int64(5), queryInt(t, store, "SELECT count(*) FROM raw_gtfs_stop_times"))
	})
	t.Run("ignore", func(t *testing.T) {
		store := newTestStore(t)
		issues, err := Import(store, writeFiles(t, filepath.Join(testTempdir(t), "feed"), feed),
			&ImportOpts{Bounds: winnipeg, IgnoreInvalid: true})
		require.NoError(t, err)
		assert.Len(t, issues, 1)
		assert.Equal(t, int64(4), queryInt(t, store, "SELECT count(*) FROM raw_gtfs_stops"))
	})
}

func TestValidateSampleWithinBounds(t *testing.T) {
	store := newTestStore(t)
	issues, err := Import(store, writeFiles(t, filepath.Join(testTempdir(t), "feed"), sampleFeed), &ImportOpts{Bounds: winnipeg})
	require.NoError(t, err)
	assert.Empty(t, issues)
}

package transitstats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeHeadways(t *testing.T) {
	stats := ComputeHeadways([]int{9 * 3600, 8 * 3600, 8*3600 + 1200, 5 * 3600, 23 * 3600})
	require.NotNil(t, stats.Mean)
	assert.Equal(t, 30.0, *stats.Mean)
	assert.Equal(t, 20.0, *stats.Min)
	assert.Equal(t, 40.0, *stats.Max)

	// Departures outside 06:00-22:00 and past midnight are ignored.
	assert.Equal(t, HeadwayStats{}, ComputeHeadways([]int{5 * 3600, 8 * 3600, 25 * 3600}))
	assert.Equal(t, HeadwayStats{}, ComputeHeadways(nil))
}

func TestComputeFrequency(t *testing.T) {
	stopTimes := []StopTime{
		{TripID: "T2", StopID: "A", StopSequence: 5, DepartureTime: ptr("08:30:00")},
		{TripID: "T1", StopID: "B", StopSequence: 2, ArrivalTime: ptr("08:10:00")},
		{TripID: "T1", StopID: "A", StopSequence: 1, DepartureTime: ptr("08:00:00")},
		{TripID: "T3", StopID: "A", StopSequence: 1, DepartureTime: ptr("bogus")},
		{TripID: "T4", StopID: "A", StopSequence: 1, DepartureTime: ptr("24:15:00")},
	}
	active := []ActiveTrip{
		{ServiceDate: "2025-01-08", TripID: "T1", RouteID: ptr("R")},
		{ServiceDate: "2025-01-08", TripID: "T2", RouteID: ptr("R")},
		{ServiceDate: "2025-01-08", TripID: "T3", RouteID: ptr("R")},
		{ServiceDate: "2025-01-08", TripID: "T4"},
		{ServiceDate: "2025-01-04", TripID: "T1", RouteID: ptr("R")},
	}

	routes, stops, hours := ComputeFrequency(active, stopTimes)

	require.Len(t, routes, 2)
	assert.Equal(t, "2025-01-04", routes[0].ServiceDate)
	assert.Equal(t, int64(1), routes[0].NumTrips)
	assert.Nil(t, routes[0].Headways.Mean)
	assert.Equal(t, int64(3), routes[1].NumTrips)
	require.NotNil(t, routes[1].Headways.Mean)
	assert.Equal(t, 30.0, *routes[1].Headways.Mean)

	var stopTrips []int64
	for _, s := range stops {
		stopTrips = append(stopTrips, s.NumTrips)
	}
	assert.Equal(t, []int64{1, 1, 4, 1}, stopTrips)
	assert.Equal(t, "A", stops[2].StopID)
	assert.Equal(t, 30.0, *stops[2].Headways.Mean)

	// T3 has no parseable departure and T4 no route.
	assert.Equal(t, []HourlyDepartures{
		{ServiceDate: "2025-01-04", RouteID: "R", Hour: 8, Departures: 1},
		{ServiceDate: "2025-01-08", RouteID: "R", Hour: 8, Departures: 2},
	}, hours)
}

func TestComputeFrequencyHourWraps(t *testing.T) {
	_, _, hours := ComputeFrequency(
		[]ActiveTrip{{ServiceDate: "2025-01-08", TripID: "U", RouteID: ptr("R16")}},
		[]StopTime{{TripID: "U", StopID: "A", StopSequence: 1, DepartureTime: ptr("25:10:00")}})
	assert.Equal(t, []HourlyDepartures{{ServiceDate: "2025-01-08", RouteID: "R16", Hour: 1, Departures: 1}}, hours)
}

func TestMaterializeFrequency(t *testing.T) {
	store := loadSample(t)
	for _, date := range []string{"2025-01-04", "2025-01-08"} {
		_, err := MaterializeActiveTrips(store, day(date))
		require.NoError(t, err)
	}
	require.NoError(t, MaterializeFrequency(store))

	assert.Equal(t, [][]string{
		{"2025-01-04", "R11", "2", "60.0", "60.0", "60.0"},
		{"2025-01-04", "R16", "1", "", "", ""},
		{"2025-01-04", "RX", "1", "", "", ""},
		{"2025-01-08", "R11", "1", "", "", ""},
		{"2025-01-08", "R16", "1", "", "", ""},
		{"2025-01-08", "RX", "1", "", "", ""},
	}, queryRows(t, store, "SELECT * FROM agg_route_frequency ORDER BY service_date, route_id"))

	assert.Equal(t, [][]string{
		{"2025-01-04", "A", "3", "120.0"},
		{"2025-01-04", "B", "3", "60.5"},
		{"2025-01-04", "C", "2", "50.0"},
		{"2025-01-08", "A", "3", "120.0"},
		{"2025-01-08", "B", "2", ""},
		{"2025-01-08", "C", "1", ""},
	}, queryRows(t, store, "SELECT service_date, stop_id, num_trips, mean_headway_min FROM agg_stop_headways ORDER BY service_date, stop_id"))

	assert.Equal(t, [][]string{
		{"2025-01-04", "R11", "8", "1"},
		{"2025-01-04", "R11", "9", "1"},
		{"2025-01-04", "R16", "1", "1"},
		{"2025-01-04", "RX", "10", "1"},
		{"2025-01-08", "R11", "8", "1"},
		{"2025-01-08", "R16", "1", "1"},
		{"2025-01-08", "RX", "10", "1"},
	}, queryRows(t, store, "SELECT * FROM agg_hourly_departures ORDER BY service_date, route_id, hour"))
}

func TestMaterializeFrequencyRequiresActiveTrips(t *testing.T) {
	store := loadSample(t)
	assert.ErrorIs(t, MaterializeFrequency(store), ErrMissingTable)
}

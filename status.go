package transitstats

import "slices"

// KnownTables lists every table the loaders and stages build, raw layer first.
var KnownTables = []string{
	tableStops, tableRoutes, tableTrips, tableStopTimes,
	tableCalendar, tableCalendarDates, tableShapes, tableFeedInfo,
	tablePassUps, tableOnTime, tablePassengerCounts,
	tableCycling, tableWalkways, tableNeighbourhoods, tableCommunities,
	tableEdges, tableWeightedEdges, tableStopDegree, tableNetworkStats,
	tableActiveTrips, tableRouteFrequency, tableStopHeadways, tableHourlyDepartures,
	tableRouteRefs, tableStopRefs,
	tableRoutePassUps, tableRouteOnTime, tableStopOnTime, tableStopBoardings,
	tableNeighbourhoodCoverage, tableCommunityCoverage,
	tableRoutePerformance, tableStopPerformance,
}

type TableStatus struct {
	Table string
	// Rows is nil when the table has not been built.
	Rows *int64
}

func Status(store *Store) ([]TableStatus, error) {
	existing, err := store.Tables()
	if err != nil {
		return nil, err
	}
	out := make([]TableStatus, 0, len(KnownTables))
	for _, table := range KnownTables {
		status := TableStatus{Table: table}
		if slices.Contains(existing, table) {
			count, err := store.RowCount(table)
			if err != nil {
				return nil, err
			}
			status.Rows = &count
		}
		out = append(out, status)
	}
	return out, nil
}

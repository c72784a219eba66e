package transitstats

import (
	"fmt"
	"strings"
)

type columnType string

const (
	typeText    columnType = "TEXT"
	typeInteger columnType = "INTEGER"
	typeReal    columnType = "REAL"
	// Dates are stored as YYYY-MM-DD text so they compare lexically.
	typeDate columnType = "DATE"
)

type tableSchema struct {
	Table      string
	Filename   string
	Required   bool
	PrimaryKey []string
	Columns    []columnSchema
	Indexes    []string
}

type columnSchema struct {
	Name                string
	Type                columnType
	PresenceDescription string
	ForeignID           *foreignIDSchema
}

type foreignIDSchema struct {
	Table  string
	Column string
	AnyOf  []foreignIDSchema
}

func (t tableSchema) columnNames() []string {
	var out []string
	for _, c := range t.Columns {
		out = append(out, c.Name)
	}
	return out
}

func (t tableSchema) column(name string) (columnSchema, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return columnSchema{}, false
}

func (t tableSchema) ddl() string {
	var fragments []string
	for _, c := range t.Columns {
		fragments = append(fragments, fmt.Sprintf("%s %s", c.Name, c.Type))
	}
	if len(t.PrimaryKey) > 0 {
		fragments = append(fragments, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(t.PrimaryKey, ", ")))
	}
	return strings.Join(fragments, ", ")
}

const (
	tableStops         = "raw_gtfs_stops"
	tableRoutes        = "raw_gtfs_routes"
	tableTrips         = "raw_gtfs_trips"
	tableStopTimes     = "raw_gtfs_stop_times"
	tableCalendar      = "raw_gtfs_calendar"
	tableCalendarDates = "raw_gtfs_calendar_dates"
	tableShapes        = "raw_gtfs_shapes"
	tableFeedInfo      = "raw_gtfs_feed_info"
)

// gtfsSchema is ordered so tables load parents first.
var gtfsSchema = []tableSchema{
	{
		Table:      tableStops,
		Filename:   "stops.txt",
		Required:   true,
		PrimaryKey: []string{"stop_id"},
		Columns: []columnSchema{
			{Name: "stop_id", Type: typeText, PresenceDescription: "Required"},
			{Name: "stop_code", Type: typeText, PresenceDescription: "Optional"},
			{Name: "stop_name", Type: typeText, PresenceDescription: "Conditionally Required"},
			{Name: "stop_lat", Type: typeReal, PresenceDescription: "Conditionally Required"},
			{Name: "stop_lon", Type: typeReal, PresenceDescription: "Conditionally Required"},
		},
	},
	{
		Table:      tableRoutes,
		Filename:   "routes.txt",
		Required:   true,
		PrimaryKey: []string{"route_id"},
		Columns: []columnSchema{
			{Name: "route_id", Type: typeText, PresenceDescription: "Required"},
			{Name: "route_short_name", Type: typeText, PresenceDescription: "Conditionally Required"},
			{Name: "route_long_name", Type: typeText, PresenceDescription: "Conditionally Required"},
			{Name: "route_type", Type: typeInteger, PresenceDescription: "Required"},
		},
	},
	{
		Table:      tableCalendar,
		Filename:   "calendar.txt",
		PrimaryKey: []string{"service_id"},
		Columns: []columnSchema{
			{Name: "service_id", Type: typeText, PresenceDescription: "Required"},
			{Name: "monday", Type: typeInteger, PresenceDescription: "Required"},
			{Name: "tuesday", Type: typeInteger, PresenceDescription: "Required"},
			{Name: "wednesday", Type: typeInteger, PresenceDescription: "Required"},
			{Name: "thursday", Type: typeInteger, PresenceDescription: "Required"},
			{Name: "friday", Type: typeInteger, PresenceDescription: "Required"},
			{Name: "saturday", Type: typeInteger, PresenceDescription: "Required"},
			{Name: "sunday", Type: typeInteger, PresenceDescription: "Required"},
			{Name: "start_date", Type: typeDate, PresenceDescription: "Required"},
			{Name: "end_date", Type: typeDate, PresenceDescription: "Required"},
		},
	},
	{
		Table:      tableCalendarDates,
		Filename:   "calendar_dates.txt",
		PrimaryKey: []string{"service_id", "date"},
		Columns: []columnSchema{
			{Name: "service_id", Type: typeText, PresenceDescription: "Required"},
			{Name: "date", Type: typeDate, PresenceDescription: "Required"},
			{Name: "exception_type", Type: typeInteger, PresenceDescription: "Required"},
		},
	},
	{
		Table:      tableTrips,
		Filename:   "trips.txt",
		Required:   true,
		PrimaryKey: []string{"trip_id"},
		Indexes:    []string{"route_id", "service_id"},
		Columns: []columnSchema{
			{Name: "trip_id", Type: typeText, PresenceDescription: "Required"},
			{
				Name:                "route_id",
				Type:                typeText,
				PresenceDescription: "Required",
				ForeignID:           &foreignIDSchema{Table: tableRoutes, Column: "route_id"},
			},
			{
				Name:                "service_id",
				Type:                typeText,
				PresenceDescription: "Required",
				ForeignID: &foreignIDSchema{AnyOf: []foreignIDSchema{
					{Table: tableCalendar, Column: "service_id"},
					{Table: tableCalendarDates, Column: "service_id"},
				}},
			},
			{Name: "trip_headsign", Type: typeText, PresenceDescription: "Optional"},
			{Name: "direction_id", Type: typeInteger, PresenceDescription: "Optional"},
			{Name: "shape_id", Type: typeText, PresenceDescription: "Conditionally Required"},
		},
	},
	{
		Table:      tableStopTimes,
		Filename:   "stop_times.txt",
		Required:   true,
		PrimaryKey: []string{"trip_id", "stop_sequence"},
		Indexes:    []string{"stop_id"},
		Columns: []columnSchema{
			{
				Name:                "trip_id",
				Type:                typeText,
				PresenceDescription: "Required",
				ForeignID:           &foreignIDSchema{Table: tableTrips, Column: "trip_id"},
			},
			{Name: "arrival_time", Type: typeText, PresenceDescription: "Conditionally Required"},
			{Name: "departure_time", Type: typeText, PresenceDescription: "Conditionally Required"},
			{
				Name:                "stop_id",
				Type:                typeText,
				PresenceDescription: "Conditionally Required",
				ForeignID:           &foreignIDSchema{Table: tableStops, Column: "stop_id"},
			},
			{Name: "stop_sequence", Type: typeInteger, PresenceDescription: "Required"},
		},
	},
	{
		Table:      tableShapes,
		Filename:   "shapes.txt",
		PrimaryKey: []string{"shape_id", "shape_pt_sequence"},
		Columns: []columnSchema{
			{Name: "shape_id", Type: typeText, PresenceDescription: "Required"},
			{Name: "shape_pt_lat", Type: typeReal, PresenceDescription: "Required"},
			{Name: "shape_pt_lon", Type: typeReal, PresenceDescription: "Required"},
			{Name: "shape_pt_sequence", Type: typeInteger, PresenceDescription: "Required"},
		},
	},
	{
		Table:    tableFeedInfo,
		Filename: "feed_info.txt",
		Columns: []columnSchema{
			{Name: "feed_publisher_name", Type: typeText, PresenceDescription: "Required"},
			{Name: "feed_publisher_url", Type: typeText, PresenceDescription: "Required"},
			{Name: "feed_lang", Type: typeText, PresenceDescription: "Required"},
			{Name: "feed_contact_email", Type: typeText, PresenceDescription: "Optional"},
			{Name: "feed_start_date", Type: typeDate, PresenceDescription: "Recommended"},
			{Name: "feed_end_date", Type: typeDate, PresenceDescription: "Recommended"},
			{Name: "feed_version", Type: typeText, PresenceDescription: "Recommended"},
		},
	},
}

func lookupSchema(table string) (tableSchema, bool) {
	for _, s := range gtfsSchema {
		if s.Table == table {
			return s, true
		}
	}
	return tableSchema{}, false
}

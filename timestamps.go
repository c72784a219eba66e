package transitstats

import (
	"strconv"
	"strings"
	"time"
)

// timestampLayouts are tried in order; the first that parses wins. The open-data portal has
// published pass-up times in each of these over the years.
var timestampLayouts = []string{
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"01/02/2006 03:04:05 PM",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	time.DateOnly,
}

// ParseTimestamp parses an open-data timestamp. ok is false when no known layout matches.
func ParseTimestamp(s string) (t time.Time, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseGTFSTime parses an H:MM:SS or HH:MM:SS stop time into seconds past the start of the
// service day. Hours may exceed 23 for trips running past midnight.
func ParseGTFSTime(s string) (seconds int, ok bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 || len(parts[0]) < 1 || len(parts[0]) > 2 || len(parts[1]) != 2 || len(parts[2]) != 2 {
		return 0, false
	}
	var hms [3]int
	for i, part := range parts {
		v, err := strconv.Atoi(part)
		if err != nil || v < 0 || part[0] == '+' || part[0] == '-' {
			return 0, false
		}
		hms[i] = v
	}
	if hms[1] > 59 || hms[2] > 59 {
		return 0, false
	}
	return hms[0]*3600 + hms[1]*60 + hms[2], true
}

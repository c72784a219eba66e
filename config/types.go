package config

// OpenDataConfig holds the path of each open-data export. Tabular datasets are CSV files, the
// others GeoJSON.
type OpenDataConfig struct {
	// Dir is searched for <dataset>.csv / <dataset>.geojson when a dataset has no explicit path.
	Dir             string `yaml:"dir"`
	PassUps         string `yaml:"pass_ups"`
	OnTime          string `yaml:"on_time"`
	PassengerCounts string `yaml:"passenger_counts"`
	Cycling         string `yaml:"cycling"`
	Walkways        string `yaml:"walkways"`
	Neighbourhoods  string `yaml:"neighbourhoods"`
	Communities     string `yaml:"communities"`
}

// BoundsConfig is the box stop coordinates are checked against on import.
type BoundsConfig struct {
	MinLat float64 `yaml:"min_lat" validate:"gte=-90,lte=90"`
	MaxLat float64 `yaml:"max_lat" validate:"gte=-90,lte=90,gtfield=MinLat"`
	MinLon float64 `yaml:"min_lon" validate:"gte=-180,lte=180"`
	MaxLon float64 `yaml:"max_lon" validate:"gte=-180,lte=180,gtfield=MinLon"`
}

// Config is the root configuration structure
type Config struct {
	DBPath        string         `yaml:"db_path" validate:"required"`
	GTFSPath      string         `yaml:"gtfs_path"`
	OpenData      OpenDataConfig `yaml:"open_data"`
	ServiceDates  []string       `yaml:"service_dates" validate:"dive,datetime=2006-01-02"`
	ExportPath    string         `yaml:"export_path"`
	LogLevel      string         `yaml:"log_level" validate:"oneof=debug info warn error"`
	ForceValid    bool           `yaml:"force_valid"`
	IgnoreInvalid bool           `yaml:"ignore_invalid"`
	Bounds        *BoundsConfig  `yaml:"bounds"`
}

// Paths maps each configured dataset name to its file.
func (o OpenDataConfig) Paths() map[string]string {
	out := make(map[string]string)
	for name, path := range map[string]string{
		"pass_ups":         o.PassUps,
		"on_time":          o.OnTime,
		"passenger_counts": o.PassengerCounts,
		"cycling":          o.Cycling,
		"walkways":         o.Walkways,
		"neighbourhoods":   o.Neighbourhoods,
		"communities":      o.Communities,
	} {
		if path != "" {
			out[name] = path
		}
	}
	return out
}

func (o *OpenDataConfig) fields() map[string]*string {
	return map[string]*string{
		"pass_ups":         &o.PassUps,
		"on_time":          &o.OnTime,
		"passenger_counts": &o.PassengerCounts,
		"cycling":          &o.Cycling,
		"walkways":         &o.Walkways,
		"neighbourhoods":   &o.Neighbourhoods,
		"communities":      &o.Communities,
	}
}

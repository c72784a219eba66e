package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/dzfranklin/transitstats"
	"github.com/dzfranklin/transitstats/config"
	"github.com/spf13/pflag"
)

func usageAndDie() {
	fmt.Println("Example usage:\n" +
		"    transitstats --gtfs <feed.zip> --open-data-dir <dir> --date 2025-01-06 --export <out.zip>\n" +
		"    transitstats --config transitstats.yml\n" +
		"    transitstats --db <transitstats.db> --status")
	os.Exit(1)
}

func main() {
	configPath := pflag.StringP("config", "c", "", "YAML config file")
	dbPath := pflag.String("db", "", "Path of the analytical database")
	gtfsPath := pflag.StringP("gtfs", "g", "", "Rebuild the database from this GTFS zip or directory")
	openDataDir := pflag.String("open-data-dir", "", "Directory holding <dataset>.csv and <dataset>.geojson exports")
	dates := pflag.StringArrayP("date", "d", nil, "Service date (YYYY-MM-DD) to materialize active trips for; repeatable")
	exportPath := pflag.StringP("export", "e", "", "Export every table as CSV into this zip")
	status := pflag.Bool("status", false, "Print the row count of every table and exit")
	forceMode := pflag.BoolP("force-valid", "f", false, "Whether to fix issues by deleting data during import")
	ignoreInvalidMode := pflag.Bool("ignore-invalid", false, "Ignore any issues during import")

	pflag.Parse()
	if pflag.NArg() > 0 {
		usageAndDie()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		die(err)
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *gtfsPath != "" {
		cfg.GTFSPath = *gtfsPath
	}
	if *openDataDir != "" {
		cfg.OpenData.Dir = *openDataDir
	}
	if len(*dates) > 0 {
		cfg.ServiceDates = *dates
	}
	if *exportPath != "" {
		cfg.ExportPath = *exportPath
	}
	cfg.ForceValid = cfg.ForceValid || *forceMode
	cfg.IgnoreInvalid = cfg.IgnoreInvalid || *ignoreInvalidMode
	if err := cfg.Validate(); err != nil {
		die(err)
	}

	setupLogging(cfg.LogLevel)

	if *status {
		err = printStatus(cfg.DBPath)
	} else {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		err = run(ctx, cfg)
		stop()
	}

	if err != nil {
		die(err)
	} else {
		fmt.Println("All done")
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	var store *transitstats.Store
	var err error
	if cfg.GTFSPath != "" {
		store, err = transitstats.Create(cfg.DBPath)
	} else {
		store, err = transitstats.Open(cfg.DBPath)
	}
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if cfg.GTFSPath != "" {
		opts := &transitstats.ImportOpts{
			ForceValid:    cfg.ForceValid,
			IgnoreInvalid: cfg.IgnoreInvalid,
		}
		if b := cfg.Bounds; b != nil {
			opts.Bounds = &transitstats.Bounds{MinLat: b.MinLat, MaxLat: b.MaxLat, MinLon: b.MinLon, MaxLon: b.MaxLon}
		}
		if _, err := transitstats.Import(store, cfg.GTFSPath, opts); err != nil {
			return err
		}
	}

	openData := cfg.OpenData.Paths()
	for _, dataset := range transitstats.Datasets {
		path, ok := openData[string(dataset)]
		if !ok {
			continue
		}
		if err := transitstats.LoadOpenData(store, path, dataset); err != nil {
			return err
		}
	}

	dates, err := serviceDates(store, cfg.ServiceDates)
	if err != nil {
		return err
	}

	pipeline := transitstats.NewPipeline(transitstats.StandardStages(dates...)...)
	pipeline.SkipUnavailable = true
	report, err := pipeline.Run(ctx, store)
	if err != nil {
		return err
	}
	for _, stage := range report.Stages {
		if stage.Status == transitstats.StageSkipped {
			fmt.Printf("Skipped %s (inputs not loaded)\n", stage.Stage)
		}
	}

	if cfg.ExportPath != "" {
		if err := transitstats.Export(cfg.DBPath, cfg.ExportPath, nil); err != nil {
			return err
		}
	}
	return nil
}

// serviceDates parses the configured dates, defaulting to the first day of the feed.
func serviceDates(store *transitstats.Store, configured []string) ([]time.Time, error) {
	var out []time.Time
	for _, s := range configured {
		d, err := transitstats.ParseServiceDate(s)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if len(out) > 0 {
		return out, nil
	}

	exists, err := store.TableExists("raw_gtfs_trips")
	if err != nil || !exists {
		return nil, err
	}
	start, _, ok, err := transitstats.FeedDateRange(store)
	if err != nil {
		return nil, err
	}
	if ok {
		slog.Info(fmt.Sprintf("No service date given, using feed start %s", start.Format(time.DateOnly)))
		out = append(out, start)
	}
	return out, nil
}

func printStatus(dbPath string) error {
	store, err := transitstats.Open(dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	statuses, err := transitstats.Status(store)
	if err != nil {
		return err
	}
	for _, s := range statuses {
		if s.Rows == nil {
			fmt.Printf("%-32s not loaded\n", s.Table)
		} else {
			fmt.Printf("%-32s %d rows\n", s.Table, *s.Rows)
		}
	}
	return nil
}

func setupLogging(level string) {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

func die(err error) {
	fmt.Printf("Error: %s\n", err)
	os.Exit(1)
}

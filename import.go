package transitstats

import (
	"archive/zip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type ImportOpts struct {
	ForceValid    bool
	IgnoreInvalid bool
	// Bounds, when set, flags stops located outside it.
	Bounds *Bounds
}

const utf8BOM = "\ufeff"

var feedDateLayouts = []string{"20060102", "2006-01-02"}

// Import loads a GTFS feed (zip archive or extracted directory) into the raw_gtfs_* tables of
// store, replacing whatever they held. It returns the validation issues found.
func Import(store *Store, inputPath string, opts *ImportOpts) ([]string, error) {
	if inputPath == "" {
		panic("Missing inputPath")
	}
	if opts == nil {
		opts = &ImportOpts{}
	}

	slog.Info(fmt.Sprintf("Importing %s to %s", inputPath, store.Path()))

	feed, closeFeed, err := openFeed(inputPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = closeFeed() }()

	for _, schema := range gtfsSchema {
		if err := importFile(store, feed, schema); err != nil {
			return nil, err
		}
	}

	var validationLogLevel slog.Level
	if opts.ForceValid || opts.IgnoreInvalid {
		validationLogLevel = slog.LevelWarn
	} else {
		validationLogLevel = slog.LevelError
	}

	validationErrors, err := validate(store, validateOpts{
		force:    opts.ForceValid,
		ignore:   opts.IgnoreInvalid,
		bounds:   opts.Bounds,
		logLevel: validationLogLevel,
	})
	if err != nil {
		return validationErrors, err
	}

	slog.Info(fmt.Sprintf("Imported %s", inputPath))
	return validationErrors, nil
}

func openFeed(inputPath string) (fs.FS, func() error, error) {
	info, err := os.Stat(inputPath)
	if err != nil {
		return nil, nil, err
	}
	if info.IsDir() {
		return os.DirFS(inputPath), func() error { return nil }, nil
	}
	inputZip, err := zip.OpenReader(inputPath)
	if err != nil {
		return nil, nil, err
	}
	return inputZip, inputZip.Close, nil
}

func importFile(store *Store, feed fs.FS, schema tableSchema) error {
	inputF, err := feed.Open(schema.Filename)
	if errors.Is(err, fs.ErrNotExist) {
		if schema.Required {
			return fmt.Errorf("%w: missing required file %s", ErrInvalidInput, schema.Filename)
		}
		slog.Info(fmt.Sprintf("No %s in feed, creating empty %s", schema.Filename, schema.Table))
		return store.ReplaceTable(schema.Table, schema.ddl(), nil, schema.Indexes...)
	} else if err != nil {
		return err
	}
	defer func() { _ = inputF.Close() }()

	return store.ReplaceTable(schema.Table, schema.ddl(), func(target string) error {
		return copyCSV(store, inputF, schema, target)
	}, schema.Indexes...)
}

func copyCSV(store *Store, r io.Reader, schema tableSchema, target string) error {
	inputCSV := csv.NewReader(r)
	inputCSV.FieldsPerRecord = -1 // Allow variable numbers of fields

	// Header

	header, err := inputCSV.Read()
	if errors.Is(err, io.EOF) {
		return nil
	} else if err != nil {
		return fmt.Errorf("%s: %w", schema.Filename, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], utf8BOM)
	}
	slog.Info(fmt.Sprintf("Importing %s: %s", schema.Filename, strings.Join(header, ",")))

	positions := make(map[string]int, len(header))
	for i, column := range header {
		positions[strings.TrimSpace(column)] = i
	}
	var ignored []string
	for column := range positions {
		if _, ok := schema.column(column); !ok {
			ignored = append(ignored, column)
		}
	}
	if len(ignored) > 0 {
		slog.Debug(fmt.Sprintf("Ignoring columns of %s: %s", schema.Filename, strings.Join(ignored, ",")))
	}

	// Rows

	_, err = store.insertRows(target, schema.columnNames(), func(values []any) (bool, error) {
		row, err := inputCSV.Read()
		if errors.Is(err, io.EOF) {
			return false, nil
		} else if err != nil {
			return false, fmt.Errorf("%s: %w", schema.Filename, err)
		}
		line, _ := inputCSV.FieldPos(0)

		for i, column := range schema.Columns {
			pos, ok := positions[column.Name]
			if !ok || pos >= len(row) {
				continue
			}
			v, err := coerceValue(column.Type, row[pos])
			if err != nil {
				return false, fmt.Errorf("%s line %d column %s: %w", schema.Filename, line, column.Name, err)
			}
			values[i] = v
		}
		return true, nil
	})
	return err
}

// coerceValue converts a raw CSV field to the value bound for a column of type t. Empty fields
// become NULL, as do dates in neither GTFS nor ISO layout.
func coerceValue(t columnType, raw string) (any, error) {
	if raw == "" {
		return nil, nil
	}
	switch t {
	case typeInteger:
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			return nil, nil
		}
		v, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: not an integer: %q", ErrInvalidInput, raw)
		}
		return v, nil
	case typeReal:
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			return nil, nil
		}
		v, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: not a number: %q", ErrInvalidInput, raw)
		}
		return v, nil
	case typeDate:
		if d, ok := parseFeedDate(raw); ok {
			return d.Format(time.DateOnly), nil
		}
		return nil, nil
	default:
		return raw, nil
	}
}

func parseFeedDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range feedDateLayouts {
		if d, err := time.Parse(layout, raw); err == nil {
			return d, true
		}
	}
	return time.Time{}, false
}

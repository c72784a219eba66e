package transitstats

import (
	"archive/zip"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
)

type ExportOpts struct {
	// Tables restricts the export to the named tables. Empty means every table.
	Tables []string
}

// Export writes every table of the store at inputPath as <table>.csv into a zip at outputPath,
// in table name order. Bookkeeping tables are left out.
func Export(inputPath string, outputPath string, opts *ExportOpts) error {
	if inputPath == "" {
		panic("Missing inputPath")
	}
	if outputPath == "" {
		panic("Missing outputPath")
	}
	if opts == nil {
		opts = &ExportOpts{}
	}

	slog.Info(fmt.Sprintf("Exporting %s to %s", inputPath, outputPath))

	db, err := sqlite.OpenConn(inputPath, sqlite.SQLITE_OPEN_READONLY)
	if err != nil {
		return err
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	outputF, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	outputZip := zip.NewWriter(outputF)
	defer func() {
		_ = outputZip.Close()
		_ = outputF.Close()
	}()

	var tables []string
	err = sqlitex.Exec(db, "SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name", func(stmt *sqlite.Stmt) error {
		tables = append(tables, stmt.GetText("name"))
		return nil
	})
	if err != nil {
		return err
	}

	for _, table := range tables {
		if strings.HasPrefix(table, internalTablePrefix) || strings.HasSuffix(table, buildingSuffix) ||
			strings.HasPrefix(table, "sqlite_") {
			continue
		}
		if len(opts.Tables) > 0 && !slices.Contains(opts.Tables, table) {
			continue
		}
		if err := exportTableIn(db, outputZip, table); err != nil {
			return err
		}
	}

	if err := outputZip.Close(); err != nil {
		return err
	}
	if err := outputF.Close(); err != nil {
		return err
	}

	err = db.Close()
	db = nil
	if err != nil {
		return err
	}

	slog.Info(fmt.Sprintf("Wrote %s", outputPath))
	return nil
}

func exportTableIn(db *sqlite.Conn, outputZip *zip.Writer, table string) error {
	validateIdentifier(table)
	outputName := table + ".csv"
	outputF, err := outputZip.Create(outputName)
	if err != nil {
		return err
	}
	outputCSV := csv.NewWriter(outputF)
	defer outputCSV.Flush()

	var cols []string
	err = sqlitex.Exec(db, "SELECT name FROM pragma_table_info(?) ORDER BY cid", func(stmt *sqlite.Stmt) error {
		cols = append(cols, stmt.GetText("name"))
		return nil
	}, table)
	if err != nil {
		return err
	}
	if err := outputCSV.Write(cols); err != nil {
		return err
	}

	rowCount := 0
	err = sqlitex.ExecTransient(db, "SELECT * FROM "+table+" ORDER BY rowid", func(stmt *sqlite.Stmt) error {
		row := make([]string, stmt.ColumnCount())
		for i := range row {
			row[i] = stmt.ColumnText(i)
		}
		if err := outputCSV.Write(row); err != nil {
			return err
		}
		rowCount++
		return nil
	})
	if err != nil {
		return err
	}
	slog.Info(fmt.Sprintf("Wrote %d rows to %s", rowCount, outputName))

	outputCSV.Flush()
	return outputCSV.Error()
}

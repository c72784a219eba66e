package transitstats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
)

var ErrMissingTable = errors.New("missing table")

// Tables whose names start with this prefix hold bookkeeping, not pipeline output.
const internalTablePrefix = "__transitstats"

const buildingSuffix = "__building"

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

var storePragmas = map[string]string{
	"synchronous": "OFF",
	// Renaming a building table must not re-parse views that reference the table it replaces.
	"legacy_alter_table": "ON",
}

// Store is the local analytical store every loader and stage reads from and writes to.
// It owns a single connection and must not be shared between goroutines.
type Store struct {
	conn *sqlite.Conn
	path string
}

// Create removes any existing database at path and opens a fresh store.
func Create(path string) (*Store, error) {
	if path == "" {
		panic("Missing path")
	}
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return Open(path)
}

// Open opens (or creates) the store at path without clearing it.
func Open(path string) (*Store, error) {
	if path == "" {
		panic("Missing path")
	}
	conn, err := sqlite.OpenConn(path, 0)
	if err != nil {
		return nil, err
	}
	for pragma, value := range storePragmas {
		if err := sqlitex.ExecTransient(conn, "PRAGMA "+pragma+" = "+value, sqlitexNoop); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	return &Store{conn: conn, path: path}, nil
}

func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) Path() string {
	return s.path
}

// withInterrupt makes long-running statements abort once ctx is done.
func (s *Store) withInterrupt(ctx context.Context) func() {
	old := s.conn.SetInterrupt(ctx.Done())
	return func() { s.conn.SetInterrupt(old) }
}

func (s *Store) exec(query string, resultFn func(stmt *sqlite.Stmt) error, args ...any) error {
	return sqlitex.Exec(s.conn, query, resultFn, args...)
}

func (s *Store) TableExists(table string) (bool, error) {
	var count int64
	err := s.exec("SELECT count(*) AS count FROM sqlite_master WHERE type IN ('table', 'view') AND name = ?",
		func(stmt *sqlite.Stmt) error {
			count = stmt.GetInt64("count")
			return nil
		}, table)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// RequireTables returns ErrMissingTable naming the first table that does not exist.
func (s *Store) RequireTables(tables ...string) error {
	for _, table := range tables {
		ok, err := s.TableExists(table)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingTable, table)
		}
	}
	return nil
}

func (s *Store) RowCount(table string) (int64, error) {
	validateIdentifier(table)
	var count int64
	err := sqlitex.ExecTransient(s.conn, fmt.Sprintf("SELECT count(*) AS count FROM %s", table),
		func(stmt *sqlite.Stmt) error {
			count = stmt.GetInt64("count")
			return nil
		})
	return count, err
}

// Tables lists user tables and views in name order, bookkeeping tables excluded.
func (s *Store) Tables() ([]string, error) {
	var tables []string
	err := s.exec("SELECT name FROM sqlite_master WHERE type IN ('table', 'view') ORDER BY name",
		func(stmt *sqlite.Stmt) error {
			name := stmt.GetText("name")
			if !strings.HasPrefix(name, internalTablePrefix) && !strings.HasSuffix(name, buildingSuffix) {
				tables = append(tables, name)
			}
			return nil
		})
	return tables, err
}

// ReplaceTable rebuilds table from scratch. The new contents are written to a
// building table by fill and swapped in with a rename inside one savepoint, so
// readers see either the previous version or the complete new one.
func (s *Store) ReplaceTable(table string, columnsDDL string, fill func(target string) error, indexColumns ...string) (err error) {
	validateIdentifier(table)
	building := table + buildingSuffix

	defer sqlitex.Save(s.conn)(&err)

	if err = sqlitex.ExecTransient(s.conn, "DROP TABLE IF EXISTS "+building, sqlitexNoop); err != nil {
		return err
	}
	query := fmt.Sprintf("CREATE TABLE %s (%s)", building, columnsDDL)
	if err = sqlitex.ExecTransient(s.conn, query, sqlitexNoop); err != nil {
		return fmt.Errorf("create %s: %w", table, err)
	}
	if fill != nil {
		if err = fill(building); err != nil {
			return fmt.Errorf("fill %s: %w", table, err)
		}
	}
	if err = sqlitex.ExecTransient(s.conn, "DROP TABLE IF EXISTS "+table, sqlitexNoop); err != nil {
		return err
	}
	if err = sqlitex.ExecTransient(s.conn, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", building, table), sqlitexNoop); err != nil {
		return err
	}
	for _, column := range indexColumns {
		query := fmt.Sprintf("CREATE INDEX idx_%s_%s ON %s (%s)", table, column, table, column)
		if err = sqlitex.ExecTransient(s.conn, query, sqlitexNoop); err != nil {
			return err
		}
	}

	count, err := s.RowCount(table)
	if err != nil {
		return err
	}
	slog.Info(fmt.Sprintf("Wrote %d rows to %s", count, table))
	return nil
}

// insertRows prepares one INSERT for columns of target and calls next until it
// reports no more rows. next fills values in column order.
func (s *Store) insertRows(target string, columns []string, next func(values []any) (bool, error)) (int, error) {
	var quoted, params []string
	for i, column := range columns {
		quoted = append(quoted, quoteIdentifier(column))
		params = append(params, fmt.Sprintf("?%d", i+1))
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		target, strings.Join(quoted, ", "), strings.Join(params, ", "))
	stmt, _, err := s.conn.PrepareTransient(query)
	if err != nil {
		return 0, err
	}
	defer func() { _ = stmt.Finalize() }()

	values := make([]any, len(columns))
	rowCount := 0
	for {
		clear(values)
		ok, err := next(values)
		if err != nil {
			return rowCount, err
		}
		if !ok {
			break
		}

		if err := stmt.Reset(); err != nil {
			return rowCount, err
		}
		if err := stmt.ClearBindings(); err != nil {
			return rowCount, err
		}
		for i, v := range values {
			bindValue(stmt, i+1, v)
		}
		if _, err := stmt.Step(); err != nil {
			return rowCount, err
		}
		rowCount++
	}
	return rowCount, nil
}

func bindValue(stmt *sqlite.Stmt, param int, v any) {
	switch v := v.(type) {
	case nil:
		stmt.BindNull(param)
	case string:
		stmt.BindText(param, v)
	case *string:
		if v == nil {
			stmt.BindNull(param)
		} else {
			stmt.BindText(param, *v)
		}
	case int:
		stmt.BindInt64(param, int64(v))
	case int64:
		stmt.BindInt64(param, v)
	case *int64:
		if v == nil {
			stmt.BindNull(param)
		} else {
			stmt.BindInt64(param, *v)
		}
	case float64:
		stmt.BindFloat(param, v)
	case *float64:
		if v == nil {
			stmt.BindNull(param)
		} else {
			stmt.BindFloat(param, *v)
		}
	case bool:
		stmt.BindBool(param, v)
	default:
		panic(fmt.Sprintf("unsupported bind type %T", v))
	}
}

func nullableText(stmt *sqlite.Stmt, column string) *string {
	i := stmt.ColumnIndex(column)
	if i < 0 || stmt.ColumnType(i) == sqlite.SQLITE_NULL {
		return nil
	}
	v := stmt.ColumnText(i)
	return &v
}

func nullableInt64(stmt *sqlite.Stmt, column string) *int64 {
	i := stmt.ColumnIndex(column)
	if i < 0 || stmt.ColumnType(i) == sqlite.SQLITE_NULL {
		return nil
	}
	v := stmt.ColumnInt64(i)
	return &v
}

func nullableFloat(stmt *sqlite.Stmt, column string) *float64 {
	i := stmt.ColumnIndex(column)
	if i < 0 || stmt.ColumnType(i) == sqlite.SQLITE_NULL {
		return nil
	}
	v := stmt.ColumnFloat(i)
	return &v
}

func validateIdentifier(name string) {
	if !identifierPattern.MatchString(name) {
		panic("invalid identifier " + name)
	}
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func sqlitexNoop(*sqlite.Stmt) error {
	return nil
}

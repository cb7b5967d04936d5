package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"

	"github.com/ibeckermayer/slidecrawl/internal/dataset"
)

const (
	DriverSQLite = "sqlite"
	DriverLibSQL = "libsql"

	maxBusyRetries = 3
)

// Sink handles all database operations
type Sink struct {
	db     *sql.DB
	driver string
	logger *slog.Logger

	// newBackOff builds the retry schedule for one batch.
	newBackOff func() backoff.BackOff
}

// Open connects to the database, creating a local database file if absent.
func Open(ctx context.Context, driver, dsn string, logger *slog.Logger) (*Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := EnsureDatabase(driver, dsn); err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	if driver == DriverSQLite {
		// single writer; concurrent readers use WAL
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL: %w", err)
		}
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
			db.Close()
			return nil, err
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", driver, err)
	}

	return &Sink{
		db:     db,
		driver: driver,
		logger: logger.With("component", "store"),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			return b
		},
	}, nil
}

// EnsureDatabase creates the database if it does not exist yet.
// Only local SQLite databases need this; remote libSQL databases are provisioned out of band.
func EnsureDatabase(driver, dsn string) error {
	switch driver {
	case DriverSQLite:
	case DriverLibSQL:
		return nil
	default:
		return fmt.Errorf("unsupported database driver %q", driver)
	}

	path := sqlitePath(dsn)
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create database dir: %w", err)
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
		if err != nil {
			return fmt.Errorf("failed to create database: %w", err)
		}
		f.Close()
	}
	return nil
}

// sqlitePath extracts the file path from a SQLite DSN, or "" for in-memory databases.
func sqlitePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	path, _, _ = strings.Cut(path, "?")
	if path == "" || path == ":memory:" {
		return ""
	}
	return path
}

// Close closes the database connection
func (s *Sink) Close() error {
	return s.db.Close()
}

// IsBusy reports whether err indicates an SQLite BUSY condition.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// RunBatch executes fn inside one transaction. A BUSY database is retried
// with exponential backoff; fn must be safe to run again from scratch.
func (s *Sink) RunBatch(ctx context.Context, fn func(*sql.Tx) error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), maxBusyRetries), ctx)

	op := func() error {
		err := s.runOnce(ctx, fn)
		if err == nil || IsBusy(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Warn("database busy, retrying batch", "wait", wait, "error", err)
	}
	return backoff.RetryNotify(op, b, notify)
}

func (s *Sink) runOnce(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ResetTable drops and recreates the dataset's table.
func (s *Sink) ResetTable(ctx context.Context, ds dataset.Dataset) error {
	err := s.RunBatch(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quote(ds.Table)); err != nil {
			return err
		}
		for _, stmt := range schema(ds) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to reset table %s: %w", ds.Table, err)
	}
	s.logger.Info("table recreated", "table", ds.Table)
	return nil
}

// Count returns the number of rows in table.
func (s *Sink) Count(ctx context.Context, table string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quote(table)).Scan(&n)
	return n, err
}

// Range returns the smallest and largest value of column, as text.
func (s *Sink) Range(ctx context.Context, table, column string) (lo, hi sql.NullString, err error) {
	q := fmt.Sprintf("SELECT CAST(MIN(%[1]s) AS TEXT), CAST(MAX(%[1]s) AS TEXT) FROM %[2]s", quote(column), quote(table))
	err = s.db.QueryRowContext(ctx, q).Scan(&lo, &hi)
	return lo, hi, err
}

// GroupCount is the number of rows sharing one column value.
type GroupCount struct {
	Value string
	Count int
}

// GroupCounts counts rows per distinct value of column, largest group first.
// Null values are reported as an empty Value.
func (s *Sink) GroupCounts(ctx context.Context, table, column string) ([]GroupCount, error) {
	q := fmt.Sprintf("SELECT COALESCE(CAST(%[1]s AS TEXT), ''), COUNT(*) AS n FROM %[2]s GROUP BY %[1]s ORDER BY n DESC, 1",
		quote(column), quote(table))
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []GroupCount
	for rows.Next() {
		var g GroupCount
		if err := rows.Scan(&g.Value, &g.Count); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func sqlType(k dataset.Kind) string {
	switch k {
	case dataset.Integer:
		return "INTEGER"
	case dataset.Counter:
		return "INTEGER NOT NULL DEFAULT 0"
	case dataset.Decimal:
		return "REAL"
	case dataset.Timestamp:
		return "DATETIME"
	default:
		return "TEXT"
	}
}

// schema returns the statements creating the dataset's table and indexes.
func schema(ds dataset.Dataset) []string {
	key := ds.KeyColumn().Name

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", quote(ds.Table))
	for _, c := range ds.Columns {
		fmt.Fprintf(&b, "\t%s %s", quote(c.Name), sqlType(c.Kind))
		if c.Name == key {
			b.WriteString(" PRIMARY KEY")
		}
		b.WriteString(",\n")
	}
	b.WriteString("\tscraped_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP\n)")

	stmts := []string{b.String()}
	for _, col := range append([]string{ds.RangeColumn}, ds.ReportGroups...) {
		if col == "" || col == key {
			continue
		}
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)",
			quote("idx_"+ds.Table+"_"+col), quote(ds.Table), quote(col)))
	}
	return stmts
}

// upsertSQL inserts a row or overwrites every column of the existing row with the same key.
func upsertSQL(ds dataset.Dataset) string {
	key := ds.KeyColumn().Name
	cols := ds.ColumnNames()

	quoted := make([]string, len(cols))
	var updates []string
	for i, c := range cols {
		quoted[i] = quote(c)
		if c != key {
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", quote(c), quote(c)))
		}
	}
	updates = append(updates, "scraped_at = CURRENT_TIMESTAMP")

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)\nON CONFLICT(%s) DO UPDATE SET\n\t%s",
		quote(ds.Table),
		strings.Join(quoted, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "),
		quote(key),
		strings.Join(updates, ",\n\t"))
}

// Package sqlitesink appends records to a SQLite table.
package sqlitesink

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/webscraper/internal/scraper"
)

var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the SQLite sink.
type Config struct {
	Path  string
	Table string
}

// Sink stores every field as a nullable TEXT column.
type Sink struct {
	db      *sql.DB
	insert  string
	columns []string
}

// New opens the database file and creates the table if needed.
func New(ctx context.Context, cfg Config, columns []string) (*Sink, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	table := cfg.Table
	if table == "" {
		table = "scraped_data"
	}
	if !validIdentifier.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("sqlite sink requires at least one column")
	}
	for _, c := range columns {
		if !validIdentifier.MatchString(c) {
			return nil, fmt.Errorf("invalid column name %q", c)
		}
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single connection serializes writers and avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = fmt.Sprintf(`"%s" TEXT`, c)
	}
	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS "%s" (
	_id INTEGER PRIMARY KEY AUTOINCREMENT,
	%s,
	_scraped_at DATETIME DEFAULT CURRENT_TIMESTAMP
)`, table, strings.Join(defs, ",\n\t"))
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = `"` + c + `"`
	}
	insert := fmt.Sprintf(`INSERT INTO "%s" (%s) VALUES (%s)`,
		table, strings.Join(quoted, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", "))

	return &Sink{db: db, insert: insert, columns: append([]string(nil), columns...)}, nil
}

// Append implements scraper.Sink. Records of one call commit together.
func (s *Sink) Append(ctx context.Context, records []scraper.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, s.insert)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	args := make([]any, len(s.columns))
	for _, rec := range records {
		for i, c := range s.columns {
			if v, ok := scraper.FormatValue(rec[c]); ok {
				args[i] = v
			} else {
				args[i] = nil
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert record: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit records: %w", err)
	}
	return nil
}

// Close implements scraper.Sink.
func (s *Sink) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// Package pgsink appends records to a PostgreSQL table using pgx.
package pgsink

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/webscraper/internal/scraper"
)

var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the PostgreSQL sink.
type Config struct {
	DSN      string
	Table    string
	MaxConns int32
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Sink stores every field as a nullable TEXT column. Each Append is a
// single multi-row INSERT.
type Sink struct {
	pool    execCloser
	table   string
	columns []string
}

// New connects to PostgreSQL and creates the table if needed.
func New(ctx context.Context, cfg Config, columns []string) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres connection string is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewWithPool(ctx, pool, cfg.Table, columns)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a sink from an existing pool (primarily for testing).
func NewWithPool(ctx context.Context, pool execCloser, table string, columns []string) (*Sink, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "scraped_data"
	}
	if !validIdentifier.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("postgres sink requires at least one column")
	}
	for _, c := range columns {
		if !validIdentifier.MatchString(c) {
			return nil, fmt.Errorf("invalid column name %q", c)
		}
	}
	s := &Sink{pool: pool, table: table, columns: append([]string(nil), columns...)}
	if _, err := pool.Exec(ctx, s.createTableSQL()); err != nil {
		return nil, fmt.Errorf("create table: %w", err)
	}
	return s, nil
}

func (s *Sink) createTableSQL() string {
	defs := make([]string, len(s.columns))
	for i, c := range s.columns {
		defs[i] = pgx.Identifier{c}.Sanitize() + " TEXT"
	}
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	_id BIGSERIAL PRIMARY KEY,
	%s,
	_scraped_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, pgx.Identifier{s.table}.Sanitize(), strings.Join(defs, ",\n\t"))
}

// Append implements scraper.Sink.
func (s *Sink) Append(ctx context.Context, records []scraper.Record) error {
	if len(records) == 0 {
		return nil
	}
	cols := make([]string, len(s.columns))
	for i, c := range s.columns {
		cols[i] = pgx.Identifier{c}.Sanitize()
	}
	var (
		tuples []string
		args   = make([]any, 0, len(records)*len(s.columns))
	)
	for _, rec := range records {
		placeholders := make([]string, len(s.columns))
		for i, c := range s.columns {
			if v, ok := scraper.FormatValue(rec[c]); ok {
				args = append(args, v)
			} else {
				args = append(args, nil)
			}
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		tuples = append(tuples, "("+strings.Join(placeholders, ",")+")")
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		pgx.Identifier{s.table}.Sanitize(), strings.Join(cols, ","), strings.Join(tuples, ","))
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert records: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Sink) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

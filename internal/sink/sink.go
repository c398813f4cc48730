// Package sink opens the configured output sink.
package sink

import (
	"context"
	"fmt"
	"strings"

	"github.com/JakeFAU/webscraper/internal/scraper"
	csvsink "github.com/JakeFAU/webscraper/internal/sink/csv"
	jsonsink "github.com/JakeFAU/webscraper/internal/sink/jsonl"
	pgsink "github.com/JakeFAU/webscraper/internal/sink/postgres"
	sqlitesink "github.com/JakeFAU/webscraper/internal/sink/sqlite"
)

// Output formats.
const (
	FormatCSV        = "csv"
	FormatJSON       = "json"
	FormatSQLite     = "sqlite"
	FormatPostgreSQL = "postgresql"
)

// Config selects and configures a sink.
type Config struct {
	Format           string
	Path             string
	Table            string
	ConnectionString string
}

// Open builds the sink for cfg. columns fixes the column order for tabular formats.
func Open(ctx context.Context, cfg Config, columns []string) (scraper.Sink, error) {
	var (
		s   scraper.Sink
		err error
	)
	switch strings.ToLower(cfg.Format) {
	case FormatCSV:
		s, err = csvsink.New(cfg.Path, columns)
	case FormatJSON, "jsonl":
		s, err = jsonsink.New(cfg.Path)
	case FormatSQLite:
		s, err = sqlitesink.New(ctx, sqlitesink.Config{Path: cfg.Path, Table: cfg.Table}, columns)
	case FormatPostgreSQL, "postgres":
		s, err = pgsink.New(ctx, pgsink.Config{DSN: cfg.ConnectionString, Table: cfg.Table}, columns)
	default:
		return nil, fmt.Errorf("unsupported output format %q", cfg.Format)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s sink: %w", cfg.Format, err)
	}
	return s, nil
}

// Package csvsink appends records to a CSV file.
package csvsink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/JakeFAU/webscraper/internal/scraper"
)

// Sink writes one row per record. The header is written only when the file
// is empty, so resumed jobs keep appending to the same file.
type Sink struct {
	mu      sync.Mutex
	file    *os.File
	writer  *csv.Writer
	columns []string
}

// New opens (or creates) path for appending.
func New(path string, columns []string) (*Sink, error) {
	if path == "" {
		return nil, fmt.Errorf("csv output path is required")
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("csv sink requires at least one column")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) // #nosec G304 -- output path is operator supplied
	if err != nil {
		return nil, fmt.Errorf("open csv output: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat csv output: %w", err)
	}
	s := &Sink{file: f, writer: csv.NewWriter(f), columns: append([]string(nil), columns...)}
	if info.Size() == 0 {
		if err := s.writer.Write(s.columns); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("write csv header: %w", err)
		}
		s.writer.Flush()
		if err := s.writer.Error(); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("flush csv header: %w", err)
		}
	}
	return s, nil
}

// Append implements scraper.Sink.
func (s *Sink) Append(_ context.Context, records []scraper.Record) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row := make([]string, len(s.columns))
	for _, rec := range records {
		for i, col := range s.columns {
			row[i], _ = scraper.FormatValue(rec[col])
		}
		if err := s.writer.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return fmt.Errorf("flush csv rows: %w", err)
	}
	return nil
}

// Close implements scraper.Sink.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writer.Flush()
	flushErr := s.writer.Error()
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close csv output: %w", err)
	}
	if flushErr != nil {
		return fmt.Errorf("flush csv output: %w", flushErr)
	}
	return nil
}

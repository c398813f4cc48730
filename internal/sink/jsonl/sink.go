// Package jsonsink appends records to a JSON lines file.
package jsonsink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/JakeFAU/webscraper/internal/scraper"
)

// Sink writes one JSON object per line.
type Sink struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	enc  *json.Encoder
}

// New opens (or creates) path for appending.
func New(path string) (*Sink, error) {
	if path == "" {
		return nil, fmt.Errorf("json output path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) // #nosec G304 -- output path is operator supplied
	if err != nil {
		return nil, fmt.Errorf("open json output: %w", err)
	}
	buf := bufio.NewWriter(f)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return &Sink{file: f, buf: buf, enc: enc}, nil
}

// Append implements scraper.Sink.
func (s *Sink) Append(_ context.Context, records []scraper.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		if err := s.enc.Encode(rec); err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
	}
	if err := s.buf.Flush(); err != nil {
		return fmt.Errorf("flush json output: %w", err)
	}
	return nil
}

// Close implements scraper.Sink.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	flushErr := s.buf.Flush()
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close json output: %w", err)
	}
	if flushErr != nil {
		return fmt.Errorf("flush json output: %w", flushErr)
	}
	return nil
}

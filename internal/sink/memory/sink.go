// Package memory collects records in-process for tests and dry runs.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/webscraper/internal/scraper"
)

// Sink stores appended records. Err, when set, is returned by every Append.
type Sink struct {
	mu      sync.Mutex
	records []scraper.Record
	appends int
	closed  bool
	Err     error
}

// NewSink creates an empty Sink.
func NewSink() *Sink {
	return &Sink{}
}

// Append implements scraper.Sink.
func (s *Sink) Append(_ context.Context, records []scraper.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.appends++
	s.records = append(s.records, records...)
	return nil
}

// Close implements scraper.Sink.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Records returns a copy of everything appended so far.
func (s *Sink) Records() []scraper.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]scraper.Record(nil), s.records...)
}

// Appends reports the number of successful Append calls.
func (s *Sink) Appends() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appends
}

// Closed reports whether Close was called.
func (s *Sink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

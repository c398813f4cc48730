// Package memory keeps checkpoints in-process for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/webscraper/internal/checkpoint"
	"github.com/JakeFAU/webscraper/internal/scraper"
)

// Store implements scraper.CheckpointStore over encoded payloads so callers
// never share state with the store.
type Store struct {
	mu    sync.RWMutex
	jobs  map[string][]byte
	saves int
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{jobs: make(map[string][]byte)}
}

// Save implements scraper.CheckpointStore.
func (s *Store) Save(_ context.Context, state scraper.JobState) error {
	data, err := checkpoint.Encode(state)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[state.ID] = data
	s.saves++
	return nil
}

// Load implements scraper.CheckpointStore.
func (s *Store) Load(_ context.Context, jobID string) (scraper.JobState, error) {
	s.mu.RLock()
	data, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if !ok {
		return scraper.JobState{}, fmt.Errorf("load %s: %w", jobID, scraper.ErrJobNotFound)
	}
	return checkpoint.Decode(data)
}

// List implements scraper.CheckpointStore.
func (s *Store) List(_ context.Context) ([]scraper.JobSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]scraper.JobSummary, 0, len(s.jobs))
	for _, data := range s.jobs {
		state, err := checkpoint.Decode(data)
		if err != nil {
			continue
		}
		out = append(out, state.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Delete implements scraper.CheckpointStore.
func (s *Store) Delete(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return fmt.Errorf("delete %s: %w", jobID, scraper.ErrJobNotFound)
	}
	delete(s.jobs, jobID)
	return nil
}

// Saves reports how many successful saves the store has seen.
func (s *Store) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

// Package local stores checkpoints as JSON files in a directory.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/webscraper/internal/checkpoint"
	"github.com/JakeFAU/webscraper/internal/scraper"
)

const suffix = ".json"

// Config captures the parameters for the filesystem checkpoint store.
type Config struct {
	Dir string `mapstructure:"dir"`
}

// Store writes one file per job. Saves go to a temp file in the same
// directory followed by a rename, so readers see the old or new checkpoint.
type Store struct {
	dir    string
	logger *zap.Logger
}

// New creates the store, creating the directory if needed.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("checkpoint directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{dir: cfg.Dir, logger: logger}, nil
}

// Save implements scraper.CheckpointStore.
func (s *Store) Save(_ context.Context, state scraper.JobState) error {
	data, err := checkpoint.Encode(state)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, "."+state.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		if rmErr := os.Remove(tmpName); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			s.logger.Warn("failed to remove temp checkpoint", zap.String("path", tmpName), zap.Error(rmErr))
		}
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, s.path(state.ID)); err != nil {
		cleanup()
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

// Load implements scraper.CheckpointStore.
func (s *Store) Load(_ context.Context, jobID string) (scraper.JobState, error) {
	if err := checkpoint.ValidateJobID(jobID); err != nil {
		return scraper.JobState{}, fmt.Errorf("load %s: %w", jobID, scraper.ErrJobNotFound)
	}
	data, err := os.ReadFile(s.path(jobID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return scraper.JobState{}, fmt.Errorf("load %s: %w", jobID, scraper.ErrJobNotFound)
		}
		return scraper.JobState{}, fmt.Errorf("read checkpoint: %w", err)
	}
	return checkpoint.Decode(data)
}

// List implements scraper.CheckpointStore. Corrupt files are skipped.
func (s *Store) List(ctx context.Context) ([]scraper.JobSummary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint directory: %w", err)
	}
	out := make([]scraper.JobSummary, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, suffix) {
			continue
		}
		state, err := s.Load(ctx, strings.TrimSuffix(name, suffix))
		if err != nil {
			s.logger.Warn("skipping unreadable checkpoint", zap.String("file", name), zap.Error(err))
			continue
		}
		out = append(out, state.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// Delete implements scraper.CheckpointStore.
func (s *Store) Delete(_ context.Context, jobID string) error {
	if err := checkpoint.ValidateJobID(jobID); err != nil {
		return fmt.Errorf("delete %s: %w", jobID, scraper.ErrJobNotFound)
	}
	if err := os.Remove(s.path(jobID)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("delete %s: %w", jobID, scraper.ErrJobNotFound)
		}
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

func (s *Store) path(jobID string) string {
	return filepath.Join(s.dir, jobID+suffix)
}

// Package gcsstore keeps checkpoints as objects in a Google Cloud Storage bucket.
package gcsstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/JakeFAU/webscraper/internal/checkpoint"
	"github.com/JakeFAU/webscraper/internal/scraper"
)

const suffix = ".json"

// Config captures the parameters for the GCS checkpoint store.
type Config struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// Store writes one object per job. Objects are replaced atomically when the
// writer is closed.
type Store struct {
	client *storage.Client
	bucket string
	prefix string
	logger *zap.Logger
}

// New creates a GCS-backed checkpoint store.
func New(client *storage.Client, cfg Config, logger *zap.Logger) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = "checkpoints"
	}
	return &Store{client: client, bucket: cfg.Bucket, prefix: prefix, logger: logger}, nil
}

// Save implements scraper.CheckpointStore.
func (s *Store) Save(ctx context.Context, state scraper.JobState) error {
	data, err := checkpoint.Encode(state)
	if err != nil {
		return err
	}
	writer := s.client.Bucket(s.bucket).Object(s.object(state.ID)).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := writer.Write(data); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return fmt.Errorf("write checkpoint object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("write checkpoint object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close checkpoint writer: %w", err)
	}
	return nil
}

// Load implements scraper.CheckpointStore.
func (s *Store) Load(ctx context.Context, jobID string) (scraper.JobState, error) {
	if err := checkpoint.ValidateJobID(jobID); err != nil {
		return scraper.JobState{}, fmt.Errorf("load %s: %w", jobID, scraper.ErrJobNotFound)
	}
	reader, err := s.client.Bucket(s.bucket).Object(s.object(jobID)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return scraper.JobState{}, fmt.Errorf("load %s: %w", jobID, scraper.ErrJobNotFound)
		}
		return scraper.JobState{}, fmt.Errorf("open checkpoint object: %w", err)
	}
	defer func() {
		if closeErr := reader.Close(); closeErr != nil {
			s.logger.Warn("failed to close checkpoint reader", zap.String("job_id", jobID), zap.Error(closeErr))
		}
	}()
	data, err := io.ReadAll(reader)
	if err != nil {
		return scraper.JobState{}, fmt.Errorf("read checkpoint object: %w", err)
	}
	return checkpoint.Decode(data)
}

// List implements scraper.CheckpointStore.
func (s *Store) List(ctx context.Context) ([]scraper.JobSummary, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: s.prefix + "/"})
	var out []scraper.JobSummary
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list checkpoint objects: %w", err)
		}
		name := path.Base(attrs.Name)
		if !strings.HasSuffix(name, suffix) {
			continue
		}
		state, err := s.Load(ctx, strings.TrimSuffix(name, suffix))
		if err != nil {
			s.logger.Warn("skipping unreadable checkpoint", zap.String("object", attrs.Name), zap.Error(err))
			continue
		}
		out = append(out, state.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// Delete implements scraper.CheckpointStore.
func (s *Store) Delete(ctx context.Context, jobID string) error {
	if err := checkpoint.ValidateJobID(jobID); err != nil {
		return fmt.Errorf("delete %s: %w", jobID, scraper.ErrJobNotFound)
	}
	if err := s.client.Bucket(s.bucket).Object(s.object(jobID)).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("delete %s: %w", jobID, scraper.ErrJobNotFound)
		}
		return fmt.Errorf("delete checkpoint object: %w", err)
	}
	return nil
}

func (s *Store) object(jobID string) string {
	return s.prefix + "/" + jobID + suffix
}

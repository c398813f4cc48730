// Package storage opens the content store that keeps raw page snapshots.
// The URI a store returns becomes the page outcome's content reference.
package storage

import (
	"context"
	"fmt"
	"strings"

	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/webscraper/internal/scraper"
	"github.com/JakeFAU/webscraper/internal/storage/gcs"
	"github.com/JakeFAU/webscraper/internal/storage/local"
	"github.com/JakeFAU/webscraper/internal/storage/memory"
)

// Content store backends.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
)

// Config selects and configures a content store.
type Config struct {
	Backend string
	Dir     string
	Bucket  string
	Prefix  string
}

// Open builds the store for cfg. A nil store with a nil error means snapshots
// are disabled. The returned close func is never nil.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (scraper.BlobStore, func() error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	noop := func() error { return nil }
	switch strings.ToLower(cfg.Backend) {
	case "", BackendNone:
		return nil, noop, nil
	case BackendMemory:
		return memory.NewBlobStore(), noop, nil
	case BackendLocal:
		s, err := local.New(local.Config{BaseDir: cfg.Dir})
		if err != nil {
			return nil, noop, fmt.Errorf("open local content store: %w", err)
		}
		return s, noop, nil
	case BackendGCS:
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, noop, fmt.Errorf("create GCS client: %w", err)
		}
		if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
			if closeErr := client.Close(); closeErr != nil {
				logger.Warn("close GCS client after bucket check failure", zap.Error(closeErr))
			}
			return nil, noop, fmt.Errorf("get GCS bucket %q attributes: %w", cfg.Bucket, err)
		}
		s, err := gcs.New(client, gcs.Config{Bucket: cfg.Bucket, Prefix: cfg.Prefix})
		if err != nil {
			_ = client.Close()
			return nil, noop, err
		}
		return s, client.Close, nil
	default:
		return nil, noop, fmt.Errorf("unsupported content store %q", cfg.Backend)
	}
}


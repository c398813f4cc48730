package cmd

import (
	"context"
	"errors"
	"fmt"

	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/webscraper/internal/backoff"
	checkpointgcs "github.com/JakeFAU/webscraper/internal/checkpoint/gcs"
	checkpointlocal "github.com/JakeFAU/webscraper/internal/checkpoint/local"
	checkpointmemory "github.com/JakeFAU/webscraper/internal/checkpoint/memory"
	checkpointredis "github.com/JakeFAU/webscraper/internal/checkpoint/redis"
	"github.com/JakeFAU/webscraper/internal/clock/system"
	"github.com/JakeFAU/webscraper/internal/config"
	"github.com/JakeFAU/webscraper/internal/extract"
	collyfetcher "github.com/JakeFAU/webscraper/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/webscraper/internal/fetcher/headless"
	"github.com/JakeFAU/webscraper/internal/hash/sha256"
	"github.com/JakeFAU/webscraper/internal/id/uuid"
	"github.com/JakeFAU/webscraper/internal/identity"
	"github.com/JakeFAU/webscraper/internal/metrics"
	"github.com/JakeFAU/webscraper/internal/pagination"
	pubsubpublisher "github.com/JakeFAU/webscraper/internal/publisher/pubsub"
	"github.com/JakeFAU/webscraper/internal/ratelimit"
	"github.com/JakeFAU/webscraper/internal/retry"
	"github.com/JakeFAU/webscraper/internal/scheduler"
	"github.com/JakeFAU/webscraper/internal/scraper"
	"github.com/JakeFAU/webscraper/internal/sink"
	"github.com/JakeFAU/webscraper/internal/storage"
)

// closers runs cleanup funcs in reverse order, logging failures.
type closers []func() error

func (c *closers) add(fn func() error) {
	*c = append(*c, fn)
}

func (c closers) close(logger *zap.Logger) {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
	}
}

// checkpointDir resolves the local checkpoint directory: flag, then config, then default.
func (a *app) checkpointDir(cfg *config.Config) string {
	if a.opts.checkpointDir != "" {
		return a.opts.checkpointDir
	}
	if cfg != nil && cfg.Resume.CheckpointDir != "" {
		return cfg.Resume.CheckpointDir
	}
	return defaultCheckpointDir
}

// openCheckpoints opens the configured checkpoint backend. Without a config the
// local store under the checkpoint directory is used. Disabling resume keeps
// checkpoints in memory for the life of the process.
func (a *app) openCheckpoints(ctx context.Context, cfg *config.Config) (scraper.CheckpointStore, func() error, error) {
	noop := func() error { return nil }
	backend := "local"
	if cfg != nil {
		backend = cfg.Checkpoint.Backend
		if !cfg.Resume.Enabled {
			backend = "memory"
		}
	}

	switch backend {
	case "memory":
		return checkpointmemory.NewStore(), noop, nil
	case "local":
		store, err := checkpointlocal.New(checkpointlocal.Config{Dir: a.checkpointDir(cfg)}, a.logger)
		if err != nil {
			return nil, noop, fmt.Errorf("open checkpoint store: %w", err)
		}
		return store, noop, nil
	case "redis":
		rc := checkpointredis.Config{
			Addr:     cfg.Checkpoint.Redis.Addr,
			Password: cfg.Checkpoint.Redis.Password,
			DB:       cfg.Checkpoint.Redis.DB,
			Prefix:   cfg.Checkpoint.Redis.Prefix,
			TTL:      cfg.Checkpoint.Redis.TTL,
		}
		client := checkpointredis.NewClient(rc)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("ping redis %s: %w", rc.Addr, err)
		}
		store, err := checkpointredis.New(client, rc, a.logger)
		if err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("open checkpoint store: %w", err)
		}
		return store, client.Close, nil
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, noop, fmt.Errorf("create GCS client: %w", err)
		}
		store, err := checkpointgcs.New(client, checkpointgcs.Config{
			Bucket: cfg.Checkpoint.GCS.Bucket,
			Prefix: cfg.Checkpoint.GCS.Prefix,
		}, a.logger)
		if err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("open checkpoint store: %w", err)
		}
		return store, client.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown checkpoint backend %q", backend)
	}
}

// newFetcher builds the backend selected by the renderer setting.
func newFetcher(cfg config.Config, cl *closers) (scraper.Fetcher, error) {
	if cfg.Renderer != "dynamic" {
		return collyfetcher.New(collyfetcher.Config{Timeout: cfg.RequestTimeout()}), nil
	}
	f, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		MaxParallel:       cfg.Headless.MaxParallel,
		NavigationTimeout: cfg.Headless.NavigationTimeout,
		ScrollPause:       cfg.Headless.ScrollPause,
		ExecPath:          cfg.Headless.ExecPath,
	})
	if err != nil {
		return nil, fmt.Errorf("init headless fetcher: %w", err)
	}
	cl.add(func() error {
		f.Close()
		return nil
	})
	return f, nil
}

// newScheduler wires every collaborator of a job run. Resources are
// registered on cl and must be closed by the caller.
func newScheduler(
	ctx context.Context,
	cfg config.Config,
	checkpoints scraper.CheckpointStore,
	logger *zap.Logger,
	cl *closers,
) (*scheduler.Scheduler, error) {
	recorder := metrics.NewRecorder()

	fetcher, err := newFetcher(cfg, cl)
	if err != nil {
		return nil, err
	}
	limiter := ratelimit.New(ratelimit.Config{
		Interval: cfg.RateInterval(),
		Observe:  recorder.RateLimitDelay,
	})
	wrapper := retry.New(
		fetcher,
		identity.New(cfg.Identity()),
		backoff.New(cfg.BackoffPolicy()),
		limiter,
		retry.Config{Timeout: cfg.RequestTimeout(), Observer: recorder.FetchAttempt},
		logger,
	)

	extractor := extract.New()
	paginator, err := pagination.New(cfg.PaginationDriver(), extractor)
	if err != nil {
		return nil, fmt.Errorf("init pagination: %w", err)
	}

	rules := cfg.Rules()
	out, err := sink.Open(ctx, cfg.Sink(), rules.FieldNames())
	if err != nil {
		return nil, err
	}
	cl.add(out.Close)

	blobs, closeBlobs, err := storage.Open(ctx, cfg.ContentStore(), logger)
	if err != nil {
		return nil, err
	}
	cl.add(closeBlobs)

	var publisher scraper.Publisher
	if cfg.Notify.Topic != "" {
		p, err := pubsubpublisher.Dial(ctx, cfg.Notify.ProjectID)
		if err != nil {
			return nil, err
		}
		cl.add(p.Close)
		publisher = p
	}

	deps := scheduler.Deps{
		Fetcher:     wrapper,
		Paginator:   paginator,
		Extractor:   extractor,
		Sink:        out,
		Checkpoints: checkpoints,
		Hasher:      sha256.New(),
		Clock:       system.New(),
		Blobs:       blobs,
		Publisher:   publisher,
		IDs:         uuid.New(),
		Observer:    recorder,
	}
	s, err := scheduler.New(deps, scheduler.Config{
		Concurrency:        cfg.Concurrency,
		Rules:              rules,
		CheckpointEvery:    cfg.Checkpoint.Every,
		CheckpointInterval: cfg.Checkpoint.Interval,
		Topic:              cfg.Notify.Topic,
		BlobPrefix:         cfg.Storage.Prefix,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init scheduler: %w", err)
	}
	return s, nil
}

// errJobFailed marks a run that ended in the failed state.
var errJobFailed = errors.New("job failed")

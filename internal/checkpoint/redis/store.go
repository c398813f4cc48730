// Package redisstore keeps checkpoints in Redis, one key per job.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/webscraper/internal/checkpoint"
	"github.com/JakeFAU/webscraper/internal/scraper"
)

const (
	defaultPrefix = "webscraper:job:"
	scanBatch     = 100
)

// Client is the subset of the go-redis API the store uses.
type Client interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

// Config captures the parameters for the Redis checkpoint store.
type Config struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// Store writes the whole checkpoint with a single SET, which Redis applies atomically.
type Store struct {
	client Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// New wraps an existing client.
func New(client Client, cfg Config, logger *zap.Logger) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{client: client, prefix: prefix, ttl: cfg.TTL, logger: logger}, nil
}

// NewClient dials Redis using cfg.
func NewClient(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Save implements scraper.CheckpointStore.
func (s *Store) Save(ctx context.Context, state scraper.JobState) error {
	payload, err := checkpoint.Encode(state)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.prefix+state.ID, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set checkpoint: %w", err)
	}
	return nil
}

// Load implements scraper.CheckpointStore.
func (s *Store) Load(ctx context.Context, jobID string) (scraper.JobState, error) {
	val, err := s.client.Get(ctx, s.prefix+jobID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return scraper.JobState{}, fmt.Errorf("load %s: %w", jobID, scraper.ErrJobNotFound)
		}
		return scraper.JobState{}, fmt.Errorf("redis get checkpoint: %w", err)
	}
	return checkpoint.Decode(val)
}

// List implements scraper.CheckpointStore by scanning the key prefix.
func (s *Store) List(ctx context.Context) ([]scraper.JobSummary, error) {
	var (
		cursor uint64
		out    []scraper.JobSummary
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan checkpoints: %w", err)
		}
		for _, key := range keys {
			state, err := s.Load(ctx, strings.TrimPrefix(key, s.prefix))
			if err != nil {
				s.logger.Warn("skipping unreadable checkpoint", zap.String("key", key), zap.Error(err))
				continue
			}
			out = append(out, state.Summary())
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// Delete implements scraper.CheckpointStore.
func (s *Store) Delete(ctx context.Context, jobID string) error {
	n, err := s.client.Del(ctx, s.prefix+jobID).Result()
	if err != nil {
		return fmt.Errorf("redis del checkpoint: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("delete %s: %w", jobID, scraper.ErrJobNotFound)
	}
	return nil
}

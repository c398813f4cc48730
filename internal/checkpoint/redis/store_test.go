package redisstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webscraper/internal/scraper"
)

// fakeClient is an in-memory stand-in built on go-redis result constructors.
type fakeClient struct {
	mu      sync.Mutex
	data    map[string]string
	ttls    map[string]time.Duration
	setErr  error
	scanned int
}

func newFakeClient() *fakeClient {
	return &fakeClient{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeClient) Set(_ context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeClient) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeClient) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

// Scan returns one key per page to exercise cursor iteration.
func (f *fakeClient) Scan(_ context.Context, cursor uint64, _ string, _ int64) *redis.ScanCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanned++
	keys := make([]string, 0, len(f.data))
	for k := range f.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if int(cursor) >= len(keys) {
		return redis.NewScanCmdResult(nil, 0, nil)
	}
	next := cursor + 1
	if int(next) >= len(keys) {
		next = 0
	}
	return redis.NewScanCmdResult([]string{keys[cursor]}, next, nil)
}

func TestStoreSaveLoad(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	s, err := New(client, Config{Prefix: "test:", TTL: time.Hour}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	state := scraper.JobState{ID: "job1", BaseURL: "http://example.test/", Status: scraper.JobStatusRunning}
	require.NoError(t, s.Save(ctx, state))
	require.Contains(t, client.data, "test:job1")
	require.Equal(t, time.Hour, client.ttls["test:job1"])

	got, err := s.Load(ctx, "job1")
	require.NoError(t, err)
	require.Equal(t, state.BaseURL, got.BaseURL)
	require.Equal(t, scraper.JobStatusRunning, got.Status)

	_, err = s.Load(ctx, "missing")
	require.ErrorIs(t, err, scraper.ErrJobNotFound)
}

func TestStoreSaveError(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	client.setErr = errors.New("READONLY")
	s, err := New(client, Config{}, nil)
	require.NoError(t, err)
	require.Error(t, s.Save(context.Background(), scraper.JobState{ID: "job1"}))
}

func TestStoreLoadCorrupt(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	client.data[defaultPrefix+"bad"] = "{"
	s, err := New(client, Config{}, nil)
	require.NoError(t, err)
	_, err = s.Load(context.Background(), "bad")
	require.ErrorIs(t, err, scraper.ErrCorruptCheckpoint)
}

func TestStoreListScansAllPages(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	s, err := New(client, Config{}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Save(ctx, scraper.JobState{ID: id, UpdatedAt: base.Add(time.Duration(i) * time.Minute)}))
	}
	client.data[defaultPrefix+"junk"] = "not json"

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, "c", list[0].ID)
	require.Equal(t, 4, client.scanned)
}

func TestStoreDelete(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	s, err := New(client, Config{}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, scraper.JobState{ID: "job1"}))
	require.NoError(t, s.Delete(ctx, "job1"))
	require.ErrorIs(t, s.Delete(ctx, "job1"), scraper.ErrJobNotFound)
}

func TestNewRequiresClient(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{}, nil)
	require.Error(t, err)
}

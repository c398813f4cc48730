package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/webscraper/internal/checkpoint/memory"
	"github.com/JakeFAU/webscraper/internal/scraper"
)

func seededStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	state := scraper.JobState{
		ID:      "job-1",
		BaseURL: "https://example.com/p1",
		Status:  scraper.JobStatusPaused,
		Frontier: []scraper.FrontierEntry{
			{URL: "https://example.com/p3", Key: "https://example.com/p3", PageIndex: 2},
		},
		Visited: map[string]scraper.PageOutcome{
			"https://example.com/p2": {URL: "https://example.com/p2", Status: scraper.OutcomeSuccess, Attempts: 1, Records: 2},
			"https://example.com/p1": {URL: "https://example.com/p1", Status: scraper.OutcomeSuccess, Attempts: 1, Records: 3},
		},
		Cursor:    scraper.Cursor{Strategy: "next_button", MaxPages: 10},
		Counters:  scraper.JobCounters{Succeeded: 2, Records: 5},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.Save(context.Background(), state))
	return store
}

func serve(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(memory.NewStore(), zap.NewNop()), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_ListJobs(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(seededStore(t), zap.NewNop()), "/jobs")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Jobs []scraper.JobSummary `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Jobs, 1)
	require.Equal(t, "job-1", body.Jobs[0].ID)
	require.Equal(t, scraper.JobStatusPaused, body.Jobs[0].Status)
	require.Equal(t, 1, body.Jobs[0].Pending)
	require.Equal(t, 5, body.Jobs[0].Counters.Records)
}

func TestServer_ListJobsEmpty(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(memory.NewStore(), nil), "/jobs")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"jobs":[]}`, rec.Body.String())
}

func TestServer_GetJob(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(seededStore(t), zap.NewNop()), "/jobs/job-1")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Job      scraper.JobSummary      `json:"job"`
		Cursor   scraper.Cursor          `json:"cursor"`
		Frontier []scraper.FrontierEntry `json:"frontier"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "job-1", body.Job.ID)
	require.Equal(t, "next_button", body.Cursor.Strategy)
	require.Len(t, body.Frontier, 1)
	require.Equal(t, "https://example.com/p3", body.Frontier[0].URL)
}

func TestServer_GetJobPagesSorted(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(seededStore(t), zap.NewNop()), "/jobs/job-1/pages")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		JobID string                `json:"job_id"`
		Pages []scraper.PageOutcome `json:"pages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "job-1", body.JobID)
	require.Len(t, body.Pages, 2)
	require.Equal(t, "https://example.com/p1", body.Pages[0].URL)
	require.Equal(t, "https://example.com/p2", body.Pages[1].URL)
}

type errReader struct {
	loadErr error
}

func (e errReader) Load(context.Context, string) (scraper.JobState, error) {
	return scraper.JobState{}, e.loadErr
}

func (e errReader) List(context.Context) ([]scraper.JobSummary, error) {
	return nil, errors.New("backend down")
}

func TestServer_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		reader JobReader
		path   string
		code   int
	}{
		{"unknown job", memory.NewStore(), "/jobs/missing", http.StatusNotFound},
		{"corrupt checkpoint", errReader{loadErr: fmt.Errorf("decode: %w", scraper.ErrCorruptCheckpoint)}, "/jobs/x", http.StatusUnprocessableEntity},
		{"load failure", errReader{loadErr: errors.New("timeout")}, "/jobs/x/pages", http.StatusInternalServerError},
		{"list failure", errReader{}, "/jobs", http.StatusInternalServerError},
		{"unknown route", memory.NewStore(), "/nope", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := serve(t, NewServer(tt.reader, zap.NewNop()), tt.path)
			require.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	s := NewServer(memory.NewStore(), zap.NewNop())
	serve(t, s, "/healthz")
	rec := serve(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

type panicReader struct{}

func (panicReader) Load(context.Context, string) (scraper.JobState, error) {
	panic("boom")
}

func (panicReader) List(context.Context) ([]scraper.JobSummary, error) {
	return nil, nil
}

func TestServer_RecoversPanics(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(panicReader{}, zap.NewNop()), "/jobs/x")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_ServeShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	s := NewServer(memory.NewStore(), zap.NewNop())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, addr) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

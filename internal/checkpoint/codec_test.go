package checkpoint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webscraper/internal/scraper"
)

func sampleState() scraper.JobState {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return scraper.JobState{
		ID:      "3f9a1c2b7d10",
		BaseURL: "http://example.test/p1",
		Status:  scraper.JobStatusPaused,
		Frontier: []scraper.FrontierEntry{{
			URL: "http://example.test/p3", Key: "http://example.test/p3", PageIndex: 3,
			Branch: "http://example.test/p1", Source: scraper.SourceNextButton, Attempts: 2,
		}},
		Visited: map[string]scraper.PageOutcome{
			"http://example.test/p1": {
				URL: "http://example.test/p1", Key: "http://example.test/p1", Status: scraper.OutcomeSuccess,
				ContentRef: "sha256:abc", Attempts: 1, Records: 20, RecordedAt: now,
			},
			"http://example.test/p2": {
				URL: "http://example.test/p2", Key: "http://example.test/p2", Status: scraper.OutcomeFailed,
				FailureKind: scraper.FailureHTTP, HTTPStatus: 404, Reason: "http_error(404)", Attempts: 1, RecordedAt: now,
			},
		},
		Cursor:    scraper.Cursor{Strategy: "next_button", MaxPages: 10, Branches: map[string]int{"http://example.test/p1": 3}},
		Counters:  scraper.JobCounters{Succeeded: 1, Failed: 1, Records: 20},
		CreatedAt: now,
		UpdatedAt: now.Add(time.Minute),
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	state := sampleState()
	data, err := Encode(state)
	require.NoError(t, err)
	require.Contains(t, string(data), `"version":1`)

	got, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, state, got)
}

func TestDecodeIgnoresUnknownFields(t *testing.T) {
	t.Parallel()

	payload := `{"version":2,"written_by":"future","job":{"id":"abc","base_url":"http://example.test/","status":"running","extra":{"x":1}}}`
	got, err := Decode([]byte(payload))
	require.NoError(t, err)
	require.Equal(t, "abc", got.ID)
	require.Equal(t, scraper.JobStatusRunning, got.Status)
	require.NotNil(t, got.Visited)
	require.NotNil(t, got.Cursor.Branches)
}

func TestDecodeCorrupt(t *testing.T) {
	t.Parallel()

	_, err := Decode([]byte("{not json"))
	require.ErrorIs(t, err, scraper.ErrCorruptCheckpoint)

	_, err = Decode([]byte(`{"job":{"id":"abc"}}`))
	require.ErrorIs(t, err, scraper.ErrCorruptCheckpoint)
}

func TestValidateJobID(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateJobID("3f9a1c2b7d10"))
	require.NoError(t, ValidateJobID("books-2025_03.v2"))
	require.Error(t, ValidateJobID(""))
	require.Error(t, ValidateJobID("../etc/passwd"))
	require.Error(t, ValidateJobID("a/b"))
	_, err := Encode(scraper.JobState{ID: "../x"})
	require.Error(t, err)
}

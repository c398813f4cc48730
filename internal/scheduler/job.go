package scheduler

import (
	"fmt"
	"sort"
	"time"

	"github.com/JakeFAU/webscraper/internal/pagination"
	"github.com/JakeFAU/webscraper/internal/scraper"
)

// ResumeOptions tune how a checkpointed job is restarted.
type ResumeOptions struct {
	// RetryFailed re-queues pages whose retries were exhausted, with fresh attempt counts.
	RetryFailed bool
}

// NewJob returns the pending state of a fresh job seeded with baseURL.
func NewJob(id, baseURL string, cursor scraper.Cursor, now time.Time) (scraper.JobState, error) {
	seed, err := pagination.Seed(baseURL)
	if err != nil {
		return scraper.JobState{}, fmt.Errorf("seed %q: %w", baseURL, err)
	}
	if cursor.Branches == nil {
		cursor.Branches = make(map[string]int)
	}
	cursor.Branches[seed.Branch] = seed.PageIndex
	return scraper.JobState{
		ID:        id,
		BaseURL:   baseURL,
		Status:    scraper.JobStatusPending,
		Frontier:  []scraper.FrontierEntry{seed},
		Visited:   make(map[string]scraper.PageOutcome),
		Cursor:    cursor,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// PrepareResume readies a loaded state for another Run. Failed outcomes stay
// terminal unless opts.RetryFailed is set. A completed job with nothing to
// re-queue returns ErrJobCompleted.
func PrepareResume(state scraper.JobState, opts ResumeOptions) (scraper.JobState, error) {
	if opts.RetryFailed {
		keys := make([]string, 0)
		for key, outcome := range state.Visited {
			if outcome.Status == scraper.OutcomeFailed {
				keys = append(keys, key)
			}
		}
		sort.Strings(keys)
		for _, key := range keys {
			outcome := state.Visited[key]
			delete(state.Visited, key)
			state.Counters.Failed--
			state.Frontier = append(state.Frontier, scraper.FrontierEntry{
				URL:        outcome.URL,
				Key:        key,
				PageIndex:  outcome.PageIndex,
				Branch:     outcome.Branch,
				BranchURL:  outcome.BranchURL,
				Source:     scraper.SourceRetry,
				Scrolls:    outcome.Scrolls,
				ItemOffset: outcome.ItemOffset,
			})
		}
	}
	if state.Status == scraper.JobStatusCompleted && len(state.Frontier) == 0 {
		return state, fmt.Errorf("resume %s: %w", state.ID, ErrJobCompleted)
	}
	state.Status = scraper.JobStatusPending
	return state, nil
}

// sortEntries orders entries by key.
func sortEntries(entries []scraper.FrontierEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
}

// Package checkpoint serializes job state for the checkpoint store backends.
//
// Every backend persists the same versioned JSON envelope:
//
//	{"version":1,"job":{...}}
//
// Unknown fields are ignored on decode so newer writers stay readable.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/JakeFAU/webscraper/internal/scraper"
)

// Version is the envelope version written by this build.
const Version = 1

var jobIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

type envelope struct {
	Version int              `json:"version"`
	Job     scraper.JobState `json:"job"`
}

// Encode wraps state in the versioned envelope.
func Encode(state scraper.JobState) ([]byte, error) {
	if err := ValidateJobID(state.ID); err != nil {
		return nil, err
	}
	data, err := json.Marshal(envelope{Version: Version, Job: state})
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}
	return data, nil
}

// Decode unwraps a checkpoint payload. Malformed payloads return
// scraper.ErrCorruptCheckpoint.
func Decode(data []byte) (scraper.JobState, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return scraper.JobState{}, fmt.Errorf("%w: %w", scraper.ErrCorruptCheckpoint, err)
	}
	if env.Version < 1 || env.Job.ID == "" {
		return scraper.JobState{}, fmt.Errorf("%w: missing version or job id", scraper.ErrCorruptCheckpoint)
	}
	if env.Job.Visited == nil {
		env.Job.Visited = map[string]scraper.PageOutcome{}
	}
	if env.Job.Cursor.Branches == nil {
		env.Job.Cursor.Branches = map[string]int{}
	}
	return env.Job, nil
}

// ValidateJobID rejects ids that are unsafe as file names or object keys.
func ValidateJobID(id string) error {
	if !jobIDPattern.MatchString(id) {
		return fmt.Errorf("invalid job id %q", id)
	}
	return nil
}

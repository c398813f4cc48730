package scraper

import (
	"fmt"
	"net/http"
	"time"
)

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values persisted in checkpoints.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusPaused    JobStatus = "paused"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// OutcomeStatus is the terminal result recorded for a frontier entry.
type OutcomeStatus string

// Outcome statuses.
const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailed  OutcomeStatus = "failed"
	OutcomeSkipped OutcomeStatus = "skipped"
)

// Source records how a frontier entry was discovered.
type Source string

// Discovery sources.
const (
	SourceSeed           Source = "seed"
	SourceNextButton     Source = "next_button"
	SourcePageParam      Source = "page_param"
	SourceInfiniteScroll Source = "infinite_scroll"
	SourceRetry          Source = "retry"
)

// FrontierEntry is a URL discovered but not yet resolved.
type FrontierEntry struct {
	URL string `json:"url"`
	// Key is the dedup key (normalized URL, plus a scroll suffix for synthetic entries).
	Key string `json:"key"`
	// PageIndex is the 1-based position of the page within its traversal branch.
	PageIndex int `json:"page_index"`
	// Branch is the key of the entry point the branch originated from.
	Branch string `json:"branch"`
	// BranchURL is the entry point as configured, before normalization.
	BranchURL string `json:"branch_url,omitempty"`
	Source    Source `json:"source"`
	Attempts  int    `json:"attempts"`
	// Scrolls is the number of load-more scrolls the dynamic backend performs
	// before snapshotting. Zero for ordinary pages.
	Scrolls int `json:"scrolls,omitempty"`
	// ItemOffset counts the items earlier scrolls of the same page already
	// produced. The snapshot still contains them, so they are dropped.
	ItemOffset int `json:"item_offset,omitempty"`
}

// PageOutcome is the immutable result recorded once per frontier entry.
type PageOutcome struct {
	URL         string        `json:"url"`
	Key         string        `json:"key"`
	Status      OutcomeStatus `json:"status"`
	ContentRef  string        `json:"content_ref,omitempty"`
	FailureKind FailureKind   `json:"failure_kind,omitempty"`
	HTTPStatus  int           `json:"http_status,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	Attempts    int           `json:"attempts"`
	Records     int           `json:"records"`
	ExtractErr  string        `json:"extract_error,omitempty"`
	RecordedAt  time.Time     `json:"recorded_at"`
	// Branch position, kept so a failed page can be re-queued on resume.
	PageIndex int    `json:"page_index"`
	Branch     string `json:"branch,omitempty"`
	BranchURL  string `json:"branch_url,omitempty"`
	Scrolls    int    `json:"scrolls,omitempty"`
	ItemOffset int    `json:"item_offset,omitempty"`
}

// Cursor captures pagination traversal state across a job.
type Cursor struct {
	Strategy string `json:"strategy"`
	MaxPages int    `json:"max_pages"`
	// Branches maps a branch root key to the deepest page index enqueued on it.
	Branches map[string]int `json:"branches"`
}

// JobCounters summarizes resolved outcomes.
type JobCounters struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Records   int `json:"records"`
	Retries   int `json:"retries"`
}

// JobState is the checkpoint unit. It is owned by the scheduler; stores only
// serialize and deserialize it.
type JobState struct {
	ID        string                 `json:"id"`
	BaseURL   string                 `json:"base_url"`
	Status    JobStatus              `json:"status"`
	ErrorText string                 `json:"error_text,omitempty"`
	Frontier  []FrontierEntry        `json:"frontier"`
	Visited   map[string]PageOutcome `json:"visited"`
	Cursor    Cursor                 `json:"cursor"`
	Counters  JobCounters            `json:"counters"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// JobSummary is the listing view of a checkpointed job.
type JobSummary struct {
	ID        string      `json:"id"`
	BaseURL   string      `json:"base_url"`
	Status    JobStatus   `json:"status"`
	Pending   int         `json:"pending"`
	Counters  JobCounters `json:"counters"`
	ErrorText string      `json:"error_text,omitempty"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Summary derives the listing view of the state.
func (s JobState) Summary() JobSummary {
	return JobSummary{
		ID:        s.ID,
		BaseURL:   s.BaseURL,
		Status:    s.Status,
		Pending:   len(s.Frontier),
		Counters:  s.Counters,
		ErrorText: s.ErrorText,
		UpdatedAt: s.UpdatedAt,
	}
}

// Identity is the outbound request identity used for one fetch attempt.
type Identity struct {
	UserAgent string
	// Proxy is a proxy URL, or empty for a direct connection.
	Proxy   string
	Headers http.Header
}

// FetchRequest captures everything a backend needs for one attempt.
type FetchRequest struct {
	URL      string
	Identity Identity
	Timeout  time.Duration
	Scrolls  int
}

// Content is the raw result of a successful fetch.
type Content struct {
	URL         string
	FinalURL    string
	StatusCode  int
	Headers     http.Header
	Body        []byte
	Duration    time.Duration
	UsedBrowser bool
	// MoreAvailable is set by the dynamic backend when the last scroll loaded
	// additional content.
	MoreAvailable bool
}

// ContentType returns the response media type header, if any.
func (c Content) ContentType() string {
	if c.Headers == nil {
		return ""
	}
	return c.Headers.Get("Content-Type")
}

// Record is one extracted item: field name to value. Missing fields map to nil.
type Record map[string]any

// FieldType selects how a field value is read from the matched element.
type FieldType string

// Field extraction types.
const (
	FieldText      FieldType = "text"
	FieldHTML      FieldType = "html"
	FieldAttribute FieldType = "attribute"
)

// FieldRule is a declarative extraction rule for one field.
type FieldRule struct {
	Name      string
	Selector  string
	Attribute string
	Type      FieldType
}

// Rules describes how records are extracted from a page.
type Rules struct {
	ItemContainer string
	Fields        []FieldRule
}

// FieldNames returns the ordered field names of the rules.
func (r Rules) FieldNames() []string {
	names := make([]string, 0, len(r.Fields))
	for _, f := range r.Fields {
		names = append(names, f.Name)
	}
	return names
}

// FormatValue renders a record value for text-based sinks. ok is false for nil.
func FormatValue(v any) (s string, ok bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case []byte:
		return string(t), true
	default:
		return fmt.Sprint(t), true
	}
}

// PageEvent is the notification published after an entry is resolved.
type PageEvent struct {
	EventID    string        `json:"event_id"`
	JobID      string        `json:"job_id"`
	URL        string        `json:"url"`
	Status     OutcomeStatus `json:"status"`
	ContentRef string        `json:"content_ref,omitempty"`
	Records    int           `json:"records"`
	Attempts   int           `json:"attempts"`
	RecordedAt time.Time     `json:"recorded_at"`
}

// Attributes returns the message attributes used for subscriber filtering.
func (e PageEvent) Attributes() map[string]string {
	return map[string]string{
		"job_id": e.JobID,
		"status": string(e.Status),
	}
}

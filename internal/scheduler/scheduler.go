// Package scheduler runs scrape jobs over a shared frontier with a fixed worker pool.
package scheduler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webscraper/internal/retry"
	"github.com/JakeFAU/webscraper/internal/scraper"
)

const (
	defaultConcurrency     = 1
	maxConcurrency         = 20
	defaultCheckpointEvery = 10
	defaultCheckpointAfter = 30 * time.Second
	defaultContentType     = "text/html; charset=utf-8"
)

// ErrJobCompleted is returned when resuming a job that has nothing left to do.
var ErrJobCompleted = errors.New("job already completed")

// PageFetcher resolves one frontier entry through retries.
type PageFetcher interface {
	AttemptFetch(ctx context.Context, entry scraper.FrontierEntry, progress func(attempts int)) retry.Result
}

// Paginator computes the entries discovered from a fetched page.
type Paginator interface {
	Next(entry scraper.FrontierEntry, page scraper.Content) []scraper.FrontierEntry
}

// IDGenerator produces event ids.
type IDGenerator interface {
	NewID() (string, error)
}

// Observer receives job progress signals. metrics.Recorder implements it.
type Observer interface {
	PageResolved(outcome scraper.PageOutcome, bytesFetched int)
	Retry(kind scraper.FailureKind)
	WorkerBusy(busy bool)
	FrontierSize(n int)
	CheckpointSaved(err error)
	JobFinished(status scraper.JobStatus)
}

// Config controls a Scheduler.
type Config struct {
	// Concurrency is the fixed worker pool size, 1 to 20.
	Concurrency int
	Rules       scraper.Rules
	// CheckpointEvery saves after this many recorded outcomes.
	CheckpointEvery int
	// CheckpointInterval saves when this much time passed since the last save.
	CheckpointInterval time.Duration
	// Topic receives a PageEvent per resolved page when a publisher is set.
	Topic string
	// BlobPrefix is prepended to snapshot object paths.
	BlobPrefix string
}

// Deps are the collaborators of a Scheduler. Blobs, Publisher, IDs and
// Observer are optional.
type Deps struct {
	Fetcher     PageFetcher
	Paginator   Paginator
	Extractor   scraper.Extractor
	Sink        scraper.Sink
	Checkpoints scraper.CheckpointStore
	Hasher      scraper.Hasher
	Clock       scraper.Clock
	Blobs       scraper.BlobStore
	Publisher   scraper.Publisher
	IDs         IDGenerator
	Observer    Observer
}

// Result reports how a Run ended.
type Result struct {
	JobID     string
	Status    scraper.JobStatus
	Succeeded int
	Failed    int
	Skipped   int
	Records   int
	Pending   int
	Err       error
}

// Scheduler drives jobs. It holds no per-job state and can run jobs sequentially.
type Scheduler struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New validates the collaborators and returns a Scheduler.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Scheduler, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("scheduler requires a fetcher")
	case deps.Paginator == nil:
		return nil, errors.New("scheduler requires a paginator")
	case deps.Extractor == nil:
		return nil, errors.New("scheduler requires an extractor")
	case deps.Sink == nil:
		return nil, errors.New("scheduler requires a sink")
	case deps.Checkpoints == nil:
		return nil, errors.New("scheduler requires a checkpoint store")
	case deps.Hasher == nil:
		return nil, errors.New("scheduler requires a hasher")
	case deps.Clock == nil:
		return nil, errors.New("scheduler requires a clock")
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Concurrency < 1 || cfg.Concurrency > maxConcurrency {
		return nil, fmt.Errorf("concurrency %d out of range 1-%d", cfg.Concurrency, maxConcurrency)
	}
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = defaultCheckpointEvery
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = defaultCheckpointAfter
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{deps: deps, cfg: cfg, logger: logger}, nil
}

// Run drives state until the frontier drains, ctx is cancelled or a
// collaborator fails. The final state is always flushed to the checkpoint store.
func (s *Scheduler) Run(ctx context.Context, state scraper.JobState) Result {
	r := newRun(s, state)
	logger := s.logger.With(zap.String("job_id", state.ID))
	logger.Info("job started",
		zap.String("base_url", state.BaseURL),
		zap.Int("pending", len(r.frontier)),
		zap.Int("visited", len(r.state.Visited)),
		zap.Int("concurrency", s.cfg.Concurrency),
	)

	if err := r.save(ctx); err != nil {
		return r.finish(ctx, logger)
	}

	stop := context.AfterFunc(ctx, r.wake)
	defer stop()

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.work(ctx, logger)
		}()
	}
	wg.Wait()

	return r.finish(ctx, logger)
}

// run holds the mutable state of one Run call.
type run struct {
	s *Scheduler

	mu       sync.Mutex
	cond     *sync.Cond
	state    scraper.JobState
	frontier []scraper.FrontierEntry
	queued   map[string]struct{}
	inflight map[string]scraper.FrontierEntry
	fatal    error

	sinceSave int
	lastSave  time.Time

	// saveMu orders snapshots so an older state never overwrites a newer one.
	saveMu sync.Mutex
}

func newRun(s *Scheduler, state scraper.JobState) *run {
	if state.Visited == nil {
		state.Visited = make(map[string]scraper.PageOutcome)
	}
	if state.Cursor.Branches == nil {
		state.Cursor.Branches = make(map[string]int)
	}
	state.Status = scraper.JobStatusRunning
	state.ErrorText = ""

	r := &run{
		s:        s,
		state:    state,
		queued:   make(map[string]struct{}),
		inflight: make(map[string]scraper.FrontierEntry),
	}
	r.cond = sync.NewCond(&r.mu)
	for _, e := range state.Frontier {
		if e.Key == "" {
			key, err := scraper.EntryKey(e.URL, e.Scrolls)
			if err != nil {
				key = e.URL
			}
			e.Key = key
		}
		if _, done := r.state.Visited[e.Key]; done {
			continue
		}
		if _, dup := r.queued[e.Key]; dup {
			continue
		}
		r.queued[e.Key] = struct{}{}
		r.frontier = append(r.frontier, e)
	}
	r.state.Frontier = nil
	return r
}

func (r *run) wake() {
	r.mu.Lock()
	r.cond.Broadcast()
	r.mu.Unlock()
}

func (r *run) work(ctx context.Context, logger *zap.Logger) {
	for {
		entry, ok := r.dequeue(ctx)
		if !ok {
			return
		}
		r.s.deps.Observer.WorkerBusy(true)
		res := r.s.deps.Fetcher.AttemptFetch(ctx, entry, func(attempts int) {
			r.progress(entry.Key, attempts)
		})
		r.resolve(ctx, logger, entry, res)
		r.s.deps.Observer.WorkerBusy(false)
	}
}

// dequeue pops the next entry, suspending while the frontier is empty and
// other workers may still discover pages. ok is false when the worker should exit.
func (r *run) dequeue(ctx context.Context) (scraper.FrontierEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		if r.fatal != nil || ctx.Err() != nil {
			return scraper.FrontierEntry{}, false
		}
		if len(r.frontier) > 0 {
			entry := r.frontier[0]
			r.frontier = r.frontier[1:]
			delete(r.queued, entry.Key)
			r.inflight[entry.Key] = entry
			r.s.deps.Observer.FrontierSize(len(r.frontier))
			return entry, true
		}
		if len(r.inflight) == 0 {
			return scraper.FrontierEntry{}, false
		}
		r.cond.Wait()
	}
}

func (r *run) progress(key string, attempts int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.inflight[key]; ok {
		e.Attempts = attempts
		r.inflight[key] = e
	}
}

// requeue returns an unresolved entry to the head of the frontier.
func (r *run) requeue(entry scraper.FrontierEntry, fatal error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, entry.Key)
	if _, dup := r.queued[entry.Key]; !dup {
		r.queued[entry.Key] = struct{}{}
		r.frontier = append([]scraper.FrontierEntry{entry}, r.frontier...)
	}
	if fatal != nil && r.fatal == nil {
		r.fatal = fatal
	}
	r.cond.Broadcast()
}

func (r *run) resolve(ctx context.Context, logger *zap.Logger, entry scraper.FrontierEntry, res retry.Result) {
	for i := 0; i < res.Retries; i++ {
		r.s.deps.Observer.Retry(res.Kind)
	}
	entry.Attempts = res.Attempts

	switch res.Status {
	case retry.StatusInterrupted:
		logger.Debug("page interrupted", zap.String("url", entry.URL), zap.Int("attempts", res.Attempts))
		r.requeue(entry, nil)
		return
	case retry.StatusFailed:
		outcome := r.outcome(entry, scraper.OutcomeFailed)
		outcome.FailureKind = res.Kind
		outcome.HTTPStatus = res.HTTPStatus
		if res.Err != nil {
			outcome.Reason = res.Err.Error()
		}
		logger.Warn("page failed",
			zap.String("url", entry.URL),
			zap.Int("attempts", res.Attempts),
			zap.String("kind", string(res.Kind)),
			zap.Error(res.Err),
		)
		r.record(ctx, logger, entry, outcome, res.Retries, nil, 0)
		return
	}

	content := res.Content
	// work past this point belongs to a fetch that already happened and must settle
	settleCtx := context.WithoutCancel(ctx)

	if !isMarkup(content.ContentType()) {
		outcome := r.outcome(entry, scraper.OutcomeSkipped)
		outcome.HTTPStatus = content.StatusCode
		outcome.Reason = "unsupported content type " + content.ContentType()
		logger.Info("page skipped", zap.String("url", entry.URL), zap.String("content_type", content.ContentType()))
		r.record(ctx, logger, entry, outcome, res.Retries, nil, len(content.Body))
		return
	}

	outcome := r.outcome(entry, scraper.OutcomeSuccess)
	outcome.HTTPStatus = content.StatusCode
	outcome.ContentRef = r.storeContent(settleCtx, logger, content)

	records, err := r.s.deps.Extractor.Extract(content, r.s.cfg.Rules)
	if err != nil {
		outcome.ExtractErr = err.Error()
		logger.Warn("extraction failed", zap.String("url", entry.URL), zap.Error(err))
		records = nil
	}
	seen := max(len(records), entry.ItemOffset)
	records = dropSeen(records, entry.ItemOffset)
	if len(records) > 0 {
		if err := r.s.deps.Sink.Append(settleCtx, records); err != nil {
			logger.Error("sink append failed", zap.String("url", entry.URL), zap.Error(err))
			r.requeue(entry, fmt.Errorf("%w: %w", scraper.ErrSink, err))
			return
		}
	}
	outcome.Records = len(records)

	next := r.s.deps.Paginator.Next(entry, content)
	for i := range next {
		if next[i].Source == scraper.SourceInfiniteScroll {
			next[i].ItemOffset = seen
		}
	}
	r.record(ctx, logger, entry, outcome, res.Retries, next, len(content.Body))
}

// dropSeen skips the records an earlier scroll of the same page already wrote.
func dropSeen(records []scraper.Record, offset int) []scraper.Record {
	if offset <= 0 {
		return records
	}
	if offset >= len(records) {
		return nil
	}
	return records[offset:]
}

func (r *run) outcome(entry scraper.FrontierEntry, status scraper.OutcomeStatus) scraper.PageOutcome {
	return scraper.PageOutcome{
		URL:        entry.URL,
		Key:        entry.Key,
		Status:     status,
		Attempts:   entry.Attempts,
		RecordedAt: r.s.deps.Clock.Now(),
		PageIndex:  entry.PageIndex,
		Branch:     entry.Branch,
		BranchURL:  entry.BranchURL,
		Scrolls:    entry.Scrolls,
		ItemOffset: entry.ItemOffset,
	}
}

// storeContent snapshots the body and returns its reference. A blob store
// failure degrades to the digest reference.
func (r *run) storeContent(ctx context.Context, logger *zap.Logger, content scraper.Content) string {
	digest, err := r.s.deps.Hasher.Hash(bytes.NewReader(content.Body))
	if err != nil {
		logger.Warn("hash body failed", zap.String("url", content.URL), zap.Error(err))
		return ""
	}
	ref := "sha256:" + digest
	if r.s.deps.Blobs == nil {
		return ref
	}
	contentType := content.ContentType()
	if contentType == "" {
		contentType = defaultContentType
	}
	uri, err := r.s.deps.Blobs.PutObject(ctx, r.blobPath(digest), contentType, bytes.NewReader(content.Body))
	if err != nil {
		logger.Warn("store snapshot failed", zap.String("url", content.URL), zap.Error(err))
		return ref
	}
	return uri
}

func (r *run) blobPath(digest string) string {
	prefix := strings.Trim(r.s.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", r.state.ID, digest)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, r.state.ID, digest)
}

// record stores the outcome, enqueues discovered entries and saves on cadence.
func (r *run) record(
	ctx context.Context,
	logger *zap.Logger,
	entry scraper.FrontierEntry,
	outcome scraper.PageOutcome,
	retries int,
	next []scraper.FrontierEntry,
	bytesFetched int,
) {
	r.mu.Lock()
	delete(r.inflight, entry.Key)
	if _, seen := r.state.Visited[entry.Key]; !seen {
		r.state.Visited[entry.Key] = outcome
		switch outcome.Status {
		case scraper.OutcomeSuccess:
			r.state.Counters.Succeeded++
		case scraper.OutcomeFailed:
			r.state.Counters.Failed++
		case scraper.OutcomeSkipped:
			r.state.Counters.Skipped++
		}
		r.state.Counters.Records += outcome.Records
	}
	r.state.Counters.Retries += retries
	r.markBranch(entry)
	added := 0
	for _, n := range next {
		if r.enqueueLocked(n) {
			added++
		}
	}
	r.sinceSave++
	due := r.sinceSave >= r.s.cfg.CheckpointEvery || r.s.deps.Clock.Now().Sub(r.lastSave) >= r.s.cfg.CheckpointInterval
	r.s.deps.Observer.FrontierSize(len(r.frontier))
	r.cond.Broadcast()
	r.mu.Unlock()

	r.s.deps.Observer.PageResolved(outcome, bytesFetched)
	logger.Debug("page resolved",
		zap.String("url", outcome.URL),
		zap.String("status", string(outcome.Status)),
		zap.Int("records", outcome.Records),
		zap.Int("discovered", added),
	)
	r.publish(ctx, logger, outcome)

	if due {
		_ = r.save(ctx)
	}
}

func (r *run) markBranch(entry scraper.FrontierEntry) {
	if entry.Branch == "" {
		return
	}
	if entry.PageIndex > r.state.Cursor.Branches[entry.Branch] {
		r.state.Cursor.Branches[entry.Branch] = entry.PageIndex
	}
}

// enqueueLocked adds entry unless its key is visited, queued or in flight.
func (r *run) enqueueLocked(entry scraper.FrontierEntry) bool {
	if entry.Key == "" {
		return false
	}
	if _, ok := r.state.Visited[entry.Key]; ok {
		return false
	}
	if _, ok := r.queued[entry.Key]; ok {
		return false
	}
	if _, ok := r.inflight[entry.Key]; ok {
		return false
	}
	r.queued[entry.Key] = struct{}{}
	r.frontier = append(r.frontier, entry)
	r.markBranch(entry)
	return true
}

func (r *run) publish(ctx context.Context, logger *zap.Logger, outcome scraper.PageOutcome) {
	if r.s.deps.Publisher == nil || r.s.cfg.Topic == "" {
		return
	}
	event := scraper.PageEvent{
		JobID:      r.state.ID,
		URL:        outcome.URL,
		Status:     outcome.Status,
		ContentRef: outcome.ContentRef,
		Records:    outcome.Records,
		Attempts:   outcome.Attempts,
		RecordedAt: outcome.RecordedAt,
	}
	if r.s.deps.IDs != nil {
		id, err := r.s.deps.IDs.NewID()
		if err != nil {
			logger.Warn("generate event id failed", zap.Error(err))
		}
		event.EventID = id
	}
	if _, err := r.s.deps.Publisher.Publish(context.WithoutCancel(ctx), r.s.cfg.Topic, event); err != nil {
		logger.Warn("publish page event failed", zap.String("url", outcome.URL), zap.Error(err))
	}
}

// snapshotLocked copies the job state. In-flight entries go back to the head
// of the frontier with their current attempt counts.
func (r *run) snapshotLocked() scraper.JobState {
	snap := r.state
	snap.UpdatedAt = r.s.deps.Clock.Now()
	snap.Frontier = make([]scraper.FrontierEntry, 0, len(r.inflight)+len(r.frontier))
	for _, e := range r.inflight {
		snap.Frontier = append(snap.Frontier, e)
	}
	sortEntries(snap.Frontier)
	snap.Frontier = append(snap.Frontier, r.frontier...)
	snap.Visited = make(map[string]scraper.PageOutcome, len(r.state.Visited))
	for k, v := range r.state.Visited {
		snap.Visited[k] = v
	}
	snap.Cursor.Branches = make(map[string]int, len(r.state.Cursor.Branches))
	for k, v := range r.state.Cursor.Branches {
		snap.Cursor.Branches[k] = v
	}
	return snap
}

// save flushes a snapshot. A failure is fatal for the job.
func (r *run) save(ctx context.Context) error {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	r.mu.Lock()
	snap := r.snapshotLocked()
	r.sinceSave = 0
	r.lastSave = snap.UpdatedAt
	r.mu.Unlock()

	err := r.s.deps.Checkpoints.Save(context.WithoutCancel(ctx), snap)
	r.s.deps.Observer.CheckpointSaved(err)
	if err != nil {
		r.mu.Lock()
		if r.fatal == nil {
			r.fatal = fmt.Errorf("%w: %w", scraper.ErrCheckpoint, err)
		}
		r.cond.Broadcast()
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *run) finish(ctx context.Context, logger *zap.Logger) Result {
	r.mu.Lock()
	fatal := r.fatal
	checkpointFailed := errors.Is(fatal, scraper.ErrCheckpoint)
	switch {
	case fatal != nil:
		r.state.Status = scraper.JobStatusFailed
		r.state.ErrorText = fatal.Error()
	case len(r.frontier) > 0 || len(r.inflight) > 0:
		r.state.Status = scraper.JobStatusPaused
	default:
		r.state.Status = scraper.JobStatusCompleted
	}
	r.mu.Unlock()

	if err := r.save(ctx); err != nil {
		if fatal == nil {
			r.mu.Lock()
			fatal = r.fatal
			r.state.Status = scraper.JobStatusFailed
			r.state.ErrorText = fatal.Error()
			r.mu.Unlock()
		} else if !checkpointFailed {
			logger.Warn("best-effort checkpoint after failure did not persist", zap.Error(err))
		}
	}

	r.mu.Lock()
	res := Result{
		JobID:     r.state.ID,
		Status:    r.state.Status,
		Succeeded: r.state.Counters.Succeeded,
		Failed:    r.state.Counters.Failed,
		Skipped:   r.state.Counters.Skipped,
		Records:   r.state.Counters.Records,
		Pending:   len(r.frontier) + len(r.inflight),
		Err:       fatal,
	}
	r.mu.Unlock()

	r.s.deps.Observer.JobFinished(res.Status)
	fields := []zap.Field{
		zap.String("status", string(res.Status)),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
		zap.Int("records", res.Records),
		zap.Int("pending", res.Pending),
	}
	if res.Err != nil {
		logger.Error("job failed", append(fields, zap.Error(res.Err))...)
	} else {
		logger.Info("job finished", fields...)
	}
	return res
}

// isMarkup reports whether a response can be handed to the extractor. A
// missing content type is treated as HTML.
func isMarkup(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return true
	}
	switch {
	case mediaType == "text/html", mediaType == "application/xhtml+xml":
		return true
	case strings.HasSuffix(mediaType, "/xml"), strings.HasSuffix(mediaType, "+xml"):
		return true
	case mediaType == "text/plain":
		return true
	}
	return false
}

type nopObserver struct{}

func (nopObserver) PageResolved(scraper.PageOutcome, int) {}
func (nopObserver) Retry(scraper.FailureKind)             {}
func (nopObserver) WorkerBusy(bool)                       {}
func (nopObserver) FrontierSize(int)                      {}
func (nopObserver) CheckpointSaved(error)                 {}
func (nopObserver) JobFinished(scraper.JobStatus)         {}

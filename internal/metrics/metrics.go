// Package metrics exposes Prometheus collectors for scrape jobs and the status API.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JakeFAU/webscraper/internal/scraper"
)

var (
	scraperPagesTotal            *prometheus.CounterVec
	scraperRecordsTotal          *prometheus.CounterVec
	scraperBytesTotal            *prometheus.CounterVec
	scraperFetchAttemptsTotal    *prometheus.CounterVec
	scraperFetchDurationSeconds  *prometheus.HistogramVec
	scraperRetriesTotal          *prometheus.CounterVec
	scraperRateLimitDelaySeconds prometheus.Histogram
	scraperActiveWorkers         prometheus.Gauge
	scraperFrontierSize          prometheus.Gauge
	scraperCheckpointSavesTotal  *prometheus.CounterVec
	scraperJobsTotal             *prometheus.CounterVec
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scraperPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_pages_total",
				Help: "Resolved pages, labeled by site and outcome status.",
			},
			[]string{"site", "status"},
		)

		scraperRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_records_total",
				Help: "Records appended to the output sink, labeled by site.",
			},
			[]string{"site"},
		)

		scraperBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_bytes_total",
				Help: "Bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		scraperFetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_fetch_attempts_total",
				Help: "Individual fetch attempts, labeled by result (ok or failure kind).",
			},
			[]string{"result"},
		)

		scraperFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_fetch_duration_seconds",
				Help:    "Histogram of single fetch attempt latencies.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"result"},
		)

		scraperRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_retries_total",
				Help: "Backoff waits taken before retrying a page.",
			},
			[]string{"kind"},
		)

		scraperRateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scraper_rate_limit_delay_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		scraperActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_active_workers",
				Help: "Number of workers currently processing a frontier entry.",
			},
		)

		scraperFrontierSize = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_frontier_size",
				Help: "Pending frontier entries of the running job.",
			},
		)

		scraperCheckpointSavesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_checkpoint_saves_total",
				Help: "Checkpoint saves, labeled by result.",
			},
			[]string{"result"},
		)

		scraperJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_jobs_total",
				Help: "Finished job runs, labeled by final status.",
			},
			[]string{"status"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Recorder adapts the package collectors to the scheduler's observer hooks.
// The zero value is ready to use once Init has run.
type Recorder struct{}

// NewRecorder initializes the collectors and returns a Recorder.
func NewRecorder() Recorder {
	Init()
	return Recorder{}
}

// PageResolved records one outcome.
func (Recorder) PageResolved(outcome scraper.PageOutcome, bytesFetched int) {
	site := SanitizeSite(outcome.URL)
	scraperPagesTotal.WithLabelValues(site, string(outcome.Status)).Inc()
	if bytesFetched > 0 {
		scraperBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
	if outcome.Records > 0 {
		scraperRecordsTotal.WithLabelValues(site).Add(float64(outcome.Records))
	}
}

// FetchAttempt records a single backend call.
func (Recorder) FetchAttempt(err error, duration time.Duration) {
	result := "ok"
	if err != nil {
		kind, _ := scraper.KindOf(err)
		result = string(kind)
	}
	scraperFetchAttemptsTotal.WithLabelValues(result).Inc()
	scraperFetchDurationSeconds.WithLabelValues(result).Observe(duration.Seconds())
}

// Retry records a backoff wait for a failure of kind.
func (Recorder) Retry(kind scraper.FailureKind) {
	scraperRetriesTotal.WithLabelValues(string(kind)).Inc()
}

// RateLimitDelay records the duration of a rate limit wait.
func (Recorder) RateLimitDelay(duration time.Duration) {
	scraperRateLimitDelaySeconds.Observe(duration.Seconds())
}

// WorkerBusy adjusts the active workers gauge.
func (Recorder) WorkerBusy(busy bool) {
	if busy {
		scraperActiveWorkers.Inc()
		return
	}
	scraperActiveWorkers.Dec()
}

// FrontierSize sets the pending frontier gauge.
func (Recorder) FrontierSize(n int) {
	scraperFrontierSize.Set(float64(n))
}

// CheckpointSaved records a checkpoint save result.
func (Recorder) CheckpointSaved(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	scraperCheckpointSavesTotal.WithLabelValues(result).Inc()
}

// JobFinished records the final status of a run.
func (Recorder) JobFinished(status scraper.JobStatus) {
	scraperJobsTotal.WithLabelValues(string(status)).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

// FailureKind classifies why a fetch attempt failed.
type FailureKind string

// Failure kinds produced by fetch backends.
const (
	FailureNetwork    FailureKind = "network"
	FailureTimeout    FailureKind = "timeout"
	FailureHTTP       FailureKind = "http_error"
	FailureRender     FailureKind = "render_error"
	FailureInvalidURL FailureKind = "invalid_url"
	FailureCanceled   FailureKind = "canceled"
)

var (
	// ErrJobNotFound is returned by checkpoint stores for unknown job ids.
	ErrJobNotFound = errors.New("job not found")
	// ErrCorruptCheckpoint is returned when a stored checkpoint cannot be decoded.
	ErrCorruptCheckpoint = errors.New("corrupt checkpoint")
	// ErrSink marks a sink contract violation; it fails the job.
	ErrSink = errors.New("sink append failed")
	// ErrCheckpoint marks a checkpoint save failure; it fails the job.
	ErrCheckpoint = errors.New("checkpoint save failed")
	// ErrExtraction marks a per-page extraction failure. It never fails the job.
	ErrExtraction = errors.New("extraction failed")
)

// FetchError is the classified failure of a single fetch attempt.
type FetchError struct {
	Kind   FailureKind
	Status int
	Err    error
}

// Error implements error.
func (e *FetchError) Error() string {
	if e.Kind == FailureHTTP {
		if e.Err != nil {
			return fmt.Sprintf("%s(%d): %v", e.Kind, e.Status, e.Err)
		}
		return fmt.Sprintf("%s(%d)", e.Kind, e.Status)
	}
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap exposes the underlying error.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewHTTPError builds an http_error failure for status.
func NewHTTPError(status int) *FetchError {
	return &FetchError{Kind: FailureHTTP, Status: status, Err: errors.New(http.StatusText(status))}
}

// Classify converts an arbitrary transport error into a FetchError. Errors that
// are already classified pass through unchanged.
func Classify(err error) *FetchError {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	if errors.Is(err, context.Canceled) {
		return &FetchError{Kind: FailureCanceled, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &FetchError{Kind: FailureTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &FetchError{Kind: FailureTimeout, Err: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Op == "parse" {
		return &FetchError{Kind: FailureInvalidURL, Err: err}
	}
	return &FetchError{Kind: FailureNetwork, Err: err}
}

// KindOf reports the failure kind and HTTP status carried by err.
func KindOf(err error) (FailureKind, int) {
	fe := Classify(err)
	if fe == nil {
		return "", 0
	}
	return fe.Kind, fe.Status
}

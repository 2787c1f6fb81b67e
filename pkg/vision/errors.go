package vision

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrSnapshotTimeout is returned when the snapshot never became available
	// within the poll budget.
	ErrSnapshotTimeout = errors.New("vision: snapshot not available in time")

	// ErrSnapshotRejected is returned when the snapshot URL answers with a
	// status that will not change by waiting.
	ErrSnapshotRejected = errors.New("vision: snapshot url rejected")

	// ErrUnknownBackend is returned for an unsupported backend name.
	ErrUnknownBackend = errors.New("vision: unknown backend")
)

// PollTimeoutError reports an exhausted snapshot poll.
type PollTimeoutError struct {
	URL      string
	Attempts int
	Last     error
}

// Error implements the error interface.
func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("vision: snapshot not available after %d attempts: %v", e.Attempts, e.Last)
}

// Is makes errors.Is(err, ErrSnapshotTimeout) true.
func (e *PollTimeoutError) Is(target error) bool {
	return target == ErrSnapshotTimeout
}

// Unwrap returns the last poll error.
func (e *PollTimeoutError) Unwrap() error {
	return e.Last
}

// Stage names the analysis step that failed.
type Stage string

// Analysis stages.
const (
	StageFaces  Stage = "faces"
	StageLabels Stage = "labels"
)

// AnalysisError is a failed call to the vision backend. It is distinct from
// a successful call that found nothing.
type AnalysisError struct {
	Backend string
	Stage   Stage
	Err     error
}

// Error implements the error interface.
func (e *AnalysisError) Error() string {
	return fmt.Sprintf("vision [%s]: %s detection failed: %v", e.Backend, e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// StatusError is a non-2xx answer from the snapshot URL.
type StatusError struct {
	StatusCode int
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("vision: snapshot url returned status %d", e.StatusCode)
}

// NotReady reports whether waiting may help. 404 is the "not there yet" marker.
func (e *StatusError) NotReady() bool {
	return e.StatusCode == 404 || e.StatusCode == 429 || e.StatusCode >= 500
}

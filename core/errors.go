package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for session / checkpoint lifecycle violations. Callers
// should match with errors.Is.
var (
	// ErrBusy is returned when a request arrives while a prior request for
	// the same session is still in flight. The caller should retry.
	ErrBusy = errors.New("session busy: a request is already in flight")

	// ErrNoActiveCheckpoint is returned when resume is called against a
	// session with nothing pending.
	ErrNoActiveCheckpoint = errors.New("no active checkpoint for session")

	// ErrCheckpointExists is returned when a second checkpoint would be
	// created while one is still live.
	ErrCheckpointExists = errors.New("session already has a live checkpoint")

	// ErrCheckpointPending is returned when a new top-level request arrives
	// while the session has an unresolved checkpoint.
	ErrCheckpointPending = errors.New("session has a pending action awaiting a decision")

	// ErrSessionNotFound is returned by stores for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
)

// ValidationError reports a missing or malformed caller input. It carries no
// state change.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

// UpstreamError wraps a failure of an external collaborator (language-model
// service or commerce operation). Retryable marks operations that are safe to
// retry (idempotent / read-only); a non-retryable failure after a
// side-effecting call must surface a "please verify manually" notice instead
// of retrying.
type UpstreamError struct {
	Op        string // Failed operation name
	Retryable bool
	Err       error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream operation %s failed: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *UpstreamError) Unwrap() error { return e.Err }

// Package session tracks assessment generation sessions.
// A session is one server-side unit of generation work: it accumulates
// streamed output, walks a small status state machine and carries the
// one-shot persistence latch that guards the commit of the final result.
package session

import (
	"context"
	"errors"
	"time"
)

// Common errors for session operations.
var (
	// ErrSessionNotFound is returned when a session doesn't exist or was evicted.
	ErrSessionNotFound = errors.New("session not found")
	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("session store is closed")
)

// Status is the lifecycle state of a session.
type Status string

const (
	// StatusQueued means the session exists but generation has not started.
	StatusQueued Status = "queued"
	// StatusRunning means generation is in flight with no output yet.
	StatusRunning Status = "running"
	// StatusPartial means at least one output chunk has been appended.
	StatusPartial Status = "partial"
	// StatusDone is terminal: generation finished with a valid result.
	StatusDone Status = "done"
	// StatusError is terminal: generation failed unrecoverably.
	StatusError Status = "error"
)

// Terminal reports whether the status is absorbing.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// ChatSession is one assessment conversation turn.
// It is owned exclusively by its Store; callers receive copies.
type ChatSession struct {
	ID        string    `json:"sessionId"`
	StartedAt time.Time `json:"startedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Status    Status    `json:"status"`
	// Text is the accumulated output buffer, append-only until a terminal state.
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
	// AssessmentPersisted flips to true exactly once and acts as the
	// mutual-exclusion latch for the persistence gate.
	AssessmentPersisted bool `json:"assessmentPersisted"`
}

// Store holds sessions and mediates every mutation of them.
// Mutators are no-ops when the session is gone (an accepted race with
// garbage collection) or already terminal. Implementations must be safe
// for concurrent use.
type Store interface {
	// Create returns a fresh session in the queued state.
	Create(ctx context.Context) (*ChatSession, error)

	// Get retrieves a copy of a session by ID.
	// Returns ErrSessionNotFound if the session doesn't exist.
	Get(ctx context.Context, sessionID string) (*ChatSession, error)

	// SetRunning marks generation as started.
	SetRunning(ctx context.Context, sessionID string) error

	// AppendPartial concatenates a chunk onto the output buffer and
	// flips the status to partial.
	AppendPartial(ctx context.Context, sessionID, chunk string) error

	// SetDone finalizes the session successfully.
	SetDone(ctx context.Context, sessionID string) error

	// SetError finalizes the session with a diagnostic message.
	SetError(ctx context.Context, sessionID, message string) error

	// MarkPersisted atomically tests-and-sets the one-shot persistence
	// flag. It reports true only for the single caller that won the latch.
	MarkPersisted(ctx context.Context, sessionID string) (bool, error)

	// Cleanup removes sessions whose UpdatedAt is older than maxAge, then
	// evicts oldest-first until at most maxEntries remain. It returns the
	// number of sessions removed.
	Cleanup(ctx context.Context, maxAge time.Duration, maxEntries int) (int, error)

	// Len reports the number of live sessions.
	Len(ctx context.Context) (int, error)

	// Close releases resources held by the store.
	Close() error
}

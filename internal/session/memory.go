package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is the default in-process Store. Sessions do not survive a
// restart; durability, when needed, comes from the Redis store behind the
// same contract.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*ChatSession
	closed   bool

	// now is swappable for tests.
	now func() time.Time
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*ChatSession),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create returns a fresh session in the queued state.
func (m *MemoryStore) Create(ctx context.Context) (*ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrStoreClosed
	}

	now := m.now()
	sess := &ChatSession{
		ID:        uuid.New().String(),
		StartedAt: now,
		UpdatedAt: now,
		Status:    StatusQueued,
	}
	m.sessions[sess.ID] = sess

	copied := *sess
	return &copied, nil
}

// Get retrieves a copy of a session by ID.
func (m *MemoryStore) Get(ctx context.Context, sessionID string) (*ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrStoreClosed
	}

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	copied := *sess
	return &copied, nil
}

// SetRunning marks generation as started.
func (m *MemoryStore) SetRunning(ctx context.Context, sessionID string) error {
	return m.mutate(sessionID, func(s *ChatSession) {
		s.Status = StatusRunning
	})
}

// AppendPartial concatenates a chunk and flips the status to partial.
func (m *MemoryStore) AppendPartial(ctx context.Context, sessionID, chunk string) error {
	return m.mutate(sessionID, func(s *ChatSession) {
		s.Text += chunk
		s.Status = StatusPartial
	})
}

// SetDone finalizes the session successfully.
func (m *MemoryStore) SetDone(ctx context.Context, sessionID string) error {
	return m.mutate(sessionID, func(s *ChatSession) {
		s.Status = StatusDone
	})
}

// SetError finalizes the session with a diagnostic message.
func (m *MemoryStore) SetError(ctx context.Context, sessionID, message string) error {
	return m.mutate(sessionID, func(s *ChatSession) {
		s.Status = StatusError
		s.Error = message
	})
}

// MarkPersisted atomically tests-and-sets the one-shot persistence flag.
func (m *MemoryStore) MarkPersisted(ctx context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrStoreClosed
	}

	sess, ok := m.sessions[sessionID]
	if !ok {
		return false, nil
	}
	if sess.AssessmentPersisted {
		return false, nil
	}
	sess.AssessmentPersisted = true
	sess.UpdatedAt = m.touch(sess)
	return true, nil
}

// Cleanup removes stale sessions, then evicts oldest-first down to maxEntries.
func (m *MemoryStore) Cleanup(ctx context.Context, maxAge time.Duration, maxEntries int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrStoreClosed
	}

	removed := 0
	cutoff := m.now().Add(-maxAge)
	for id, sess := range m.sessions {
		if sess.UpdatedAt.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}

	if maxEntries > 0 && len(m.sessions) > maxEntries {
		ordered := make([]*ChatSession, 0, len(m.sessions))
		for _, sess := range m.sessions {
			ordered = append(ordered, sess)
		}
		sort.Slice(ordered, func(i, j int) bool {
			return ordered[i].UpdatedAt.Before(ordered[j].UpdatedAt)
		})
		for _, sess := range ordered[:len(ordered)-maxEntries] {
			delete(m.sessions, sess.ID)
			removed++
		}
	}

	return removed, nil
}

// Len reports the number of live sessions.
func (m *MemoryStore) Len(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrStoreClosed
	}
	return len(m.sessions), nil
}

// Close marks the store closed. Further operations return ErrStoreClosed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.sessions = make(map[string]*ChatSession)
	return nil
}

// mutate applies fn under the lock. Missing sessions and terminal sessions
// are silently skipped: the former is the accepted GC race, the latter keeps
// done/error absorbing.
func (m *MemoryStore) mutate(sessionID string, fn func(*ChatSession)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	if sess.Status.Terminal() {
		return nil
	}
	fn(sess)
	sess.UpdatedAt = m.touch(sess)
	return nil
}

// touch returns a timestamp that never runs backwards for this session.
func (m *MemoryStore) touch(sess *ChatSession) time.Time {
	now := m.now()
	if now.Before(sess.UpdatedAt) {
		return sess.UpdatedAt
	}
	return now
}

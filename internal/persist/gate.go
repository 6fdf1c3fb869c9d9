package persist

import (
	"context"
	"fmt"
	"log"

	"github.com/pathwise-ai/pathwise/internal/assess"
	"github.com/pathwise-ai/pathwise/internal/session"
	obsmetrics "github.com/pathwise-ai/pathwise/pkg/observability"
)

// Gate is the idempotent commit point of the pipeline. Everything upstream
// of it may run any number of times; the session's one-shot latch ensures
// the backend sees at most one write per session.
type Gate struct {
	store    session.Store
	recorder Recorder
	// urlAllowlist restricts resourceUrl hosts during sanitization.
	// Nil means any public HTTP(S) host.
	urlAllowlist []string
}

// NewGate creates a persistence gate.
func NewGate(store session.Store, recorder Recorder, urlAllowlist []string) *Gate {
	return &Gate{store: store, recorder: recorder, urlAllowlist: urlAllowlist}
}

// PersistIfValid extracts and validates the accumulated text and, when it
// conforms, commits the sanitized result exactly once.
//
// Silent returns are deliberate: a missing token is an unauthenticated skip,
// extraction/validation failures were already surfaced through the session's
// error status, and losing the latch means another caller has committed.
func (g *Gate) PersistIfValid(ctx context.Context, sessionID, text, skillID, token string) error {
	if token == "" {
		return nil
	}

	raw, ok := assess.ExtractJSON(text)
	if !ok {
		return nil
	}
	result, err := assess.Validate(raw)
	if err != nil {
		return nil
	}

	won, err := g.store.MarkPersisted(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("acquire persistence latch: %w", err)
	}
	if !won {
		log.Printf("assessment for session %s already persisted, skipping", sessionID)
		return nil
	}

	result.LearningModules = assess.SanitizeModules(result.LearningModules, g.urlAllowlist)

	if err := g.recorder.RecordAssessment(ctx, skillID, result, token); err != nil {
		return fmt.Errorf("record assessment: %w", err)
	}
	obsmetrics.RecordAssessmentPersisted()
	return nil
}

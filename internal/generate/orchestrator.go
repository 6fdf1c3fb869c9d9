package generate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/pathwise-ai/pathwise/internal/assess"
	"github.com/pathwise-ai/pathwise/internal/observability"
	"github.com/pathwise-ai/pathwise/internal/session"
	obsmetrics "github.com/pathwise-ai/pathwise/pkg/observability"
)

// Persister commits a validated assessment at most once per session.
type Persister interface {
	PersistIfValid(ctx context.Context, sessionID, text, skillID, token string) error
}

// Config tunes the orchestrator.
type Config struct {
	// Timeout bounds one whole generation run, repair included.
	Timeout time.Duration
	// Temperature and MaxTokens are passed through to the provider.
	Temperature float32
	MaxTokens   int
	// RPS and Burst pace outbound calls to the generation vendor.
	// Zero RPS disables pacing.
	RPS   float64
	Burst int
}

// Orchestrator owns the generation side of a session: it drives the
// provider, feeds progress into the session store and always leaves the
// session in a terminal state. The handler that spawned it has long since
// returned, so every failure is converted into session state instead of
// being propagated.
type Orchestrator struct {
	store    session.Store
	provider Provider
	gate     Persister
	pace     *rate.Limiter
	cfg      Config
}

// NewOrchestrator wires the orchestrator. gate may be nil when persistence
// is disabled.
func NewOrchestrator(store session.Store, provider Provider, gate Persister, cfg Config) *Orchestrator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	limit := rate.Inf
	burst := cfg.Burst
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
		if burst <= 0 {
			burst = 1
		}
	}
	return &Orchestrator{
		store:    store,
		provider: provider,
		gate:     gate,
		pace:     rate.NewLimiter(limit, burst),
		cfg:      cfg,
	}
}

// Start spawns the fire-and-forget generation task for a session and
// returns immediately.
func (o *Orchestrator) Start(sessionID, skillID, message, locale, token string) {
	go o.run(sessionID, skillID, message, locale, token)
}

func (o *Orchestrator) run(sessionID, skillID, message, locale, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.Timeout)
	defer cancel()

	start := time.Now()
	outcome := "error"
	defer func() {
		if r := recover(); r != nil {
			log.Printf("generation panic for session %s: %v", sessionID, r)
			_ = o.store.SetError(ctx, sessionID, fmt.Sprintf("internal generation failure: %v", r))
		}
		obsmetrics.RecordGeneration(outcome, time.Since(start))
	}()

	ctx, span := observability.StartSpan(ctx, "generate.run", map[string]string{
		"session.id": sessionID,
		"skill.id":   skillID,
		"locale":     locale,
	})
	defer span.End()

	_ = o.store.SetRunning(ctx, sessionID)

	req := Request{
		System:      AssessmentPrompt(locale, skillID),
		Messages:    []Message{{Role: "user", Content: message}},
		Temperature: o.cfg.Temperature,
		MaxTokens:   o.cfg.MaxTokens,
	}

	// Primary path: stream and validate opportunistically. The stream was
	// going to run anyway, so every chunk is a free repair attempt.
	streamed, ok := o.streamOnce(ctx, sessionID, req)
	if ok {
		outcome = "stream"
		o.finish(ctx, sessionID, streamed, skillID, token)
		return
	}

	// Fallback: one explicit repair call demanding a fenced JSON block.
	obsmetrics.RecordRepairCall()
	_, repairSpan := observability.StartSpan(ctx, "generate.repair", map[string]string{
		"session.id": sessionID,
	})
	out, err := o.repairOnce(ctx, streamed, message, locale, skillID)
	repairSpan.End()
	if err != nil {
		_ = o.store.SetError(ctx, sessionID, "generation failed: "+err.Error())
		return
	}

	raw, found := assess.ExtractJSON(out)
	if !found {
		_ = o.store.SetError(ctx, sessionID, "generator produced no parseable JSON object")
		return
	}
	if _, verr := assess.Validate(raw); verr != nil {
		_ = o.store.SetError(ctx, sessionID, "generator output failed validation: "+verr.Error())
		return
	}

	// Append the repaired blob so pollers observe the final, valid text.
	_ = o.store.AppendPartial(ctx, sessionID, out)
	outcome = "repair"
	o.finish(ctx, sessionID, out, skillID, token)
}

// streamOnce runs the streaming call, appending chunks to the session and
// short-circuiting as soon as the accumulated buffer validates. It returns
// the accumulated text and whether a valid assessment was seen. Stream
// errors are not fatal here; the repair path is the retry.
func (o *Orchestrator) streamOnce(ctx context.Context, sessionID string, req Request) (string, bool) {
	if err := o.pace.Wait(ctx); err != nil {
		return "", false
	}

	stream, err := o.provider.GenerateStream(ctx, req)
	if err != nil {
		log.Printf("open generation stream for session %s: %v", sessionID, err)
		return "", false
	}
	defer func() { _ = stream.Close() }()

	var buf strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Printf("generation stream for session %s: %v", sessionID, err)
			break
		}
		if chunk.Delta == "" {
			continue
		}

		_ = o.store.AppendPartial(ctx, sessionID, chunk.Delta)
		buf.WriteString(chunk.Delta)

		// Don't wait for the stream to close: the generator may keep
		// emitting trailing prose after a complete, valid object.
		if validAssessment(buf.String()) {
			return buf.String(), true
		}
	}
	return buf.String(), validAssessment(buf.String())
}

// repairOnce issues the non-streaming fallback call, feeding the failed
// stream output back as an assistant turn.
func (o *Orchestrator) repairOnce(ctx context.Context, streamed, message, locale, skillID string) (string, error) {
	if err := o.pace.Wait(ctx); err != nil {
		return "", err
	}

	messages := []Message{{Role: "user", Content: message}}
	if streamed != "" {
		messages = append(messages, Message{Role: "assistant", Content: streamed})
	}

	return o.provider.Generate(ctx, Request{
		System:      RepairPrompt(locale, skillID),
		Messages:    messages,
		Temperature: 0,
		MaxTokens:   o.cfg.MaxTokens,
	})
}

// finish marks the session done and hands the buffer to the persistence
// gate. Gate failures are logged, not surfaced: the session outcome is
// already decided.
func (o *Orchestrator) finish(ctx context.Context, sessionID, text, skillID, token string) {
	_ = o.store.SetDone(ctx, sessionID)
	if o.gate == nil {
		return
	}
	if err := o.gate.PersistIfValid(ctx, sessionID, text, skillID, token); err != nil {
		log.Printf("persist assessment for session %s: %v", sessionID, err)
	}
}

func validAssessment(text string) bool {
	raw, ok := assess.ExtractJSON(text)
	if !ok {
		return false
	}
	_, err := assess.Validate(raw)
	return err == nil
}

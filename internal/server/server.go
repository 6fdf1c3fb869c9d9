// Package server exposes the chat assessment HTTP API: a rate-limited send
// endpoint that kicks off asynchronous generation, and a cache-friendly
// status endpoint meant to be polled.
package server

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pathwise-ai/pathwise/internal/generate"
	"github.com/pathwise-ai/pathwise/internal/ratelimit"
	"github.com/pathwise-ai/pathwise/internal/session"
	obsmetrics "github.com/pathwise-ai/pathwise/pkg/observability"
)

// Config tunes admission control and session garbage collection.
type Config struct {
	// SendLimit and StatusLimit are per-caller request budgets per Window.
	SendLimit   int
	StatusLimit int
	Window      time.Duration

	// SessionMaxAge and SessionMaxEntries bound the session store; cleanup
	// runs amortized on inbound requests.
	SessionMaxAge     time.Duration
	SessionMaxEntries int
}

func (c *Config) applyDefaults() {
	if c.SendLimit <= 0 {
		c.SendLimit = 10
	}
	if c.StatusLimit <= 0 {
		c.StatusLimit = 120
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.SessionMaxAge <= 0 {
		c.SessionMaxAge = 30 * time.Minute
	}
	if c.SessionMaxEntries <= 0 {
		c.SessionMaxEntries = 1000
	}
}

// Server handles the chat API routes.
type Server struct {
	store   session.Store
	limiter *ratelimit.Limiter
	orch    *generate.Orchestrator
	cfg     Config
}

// New creates a Server. Dependencies are injected so tests can construct a
// full stack without globals.
func New(store session.Store, limiter *ratelimit.Limiter, orch *generate.Orchestrator, cfg Config) *Server {
	cfg.applyDefaults()
	return &Server{
		store:   store,
		limiter: limiter,
		orch:    orch,
		cfg:     cfg,
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestMetrics)
	r.Use(middleware.Recoverer)

	r.Post("/chat/send", s.handleSend)
	r.Get("/chat/status", s.handleStatus)

	return r
}

// callerKey identifies the caller for rate limiting. RealIP middleware has
// already folded X-Forwarded-For into RemoteAddr.
func callerKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// admit runs the fixed-window check and writes the 429 response on denial.
func (s *Server) admit(w http.ResponseWriter, r *http.Request, action string, limit int) bool {
	decision := s.limiter.Check(ratelimit.Key(callerKey(r), action), limit, s.cfg.Window)
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	if decision.Allowed {
		return true
	}

	obsmetrics.RecordRateLimited(action)
	retryAfter := int(decision.RetryAfter(time.Now())/time.Second) + 1
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	return false
}

// collectGarbage amortizes session GC over inbound requests; no background
// timer is required for correctness, the cron schedule is just a safety net.
func (s *Server) collectGarbage(r *http.Request) {
	removed, err := s.store.Cleanup(r.Context(), s.cfg.SessionMaxAge, s.cfg.SessionMaxEntries)
	if err != nil {
		return
	}
	if removed > 0 {
		obsmetrics.RecordSessionsEvicted(removed)
	}
	if n, err := s.store.Len(r.Context()); err == nil {
		obsmetrics.SetActiveSessions(n)
	}
}

// requestMetrics records request counts and latencies per method/path.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		obsmetrics.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(ww.Status()), time.Since(start))
	})
}

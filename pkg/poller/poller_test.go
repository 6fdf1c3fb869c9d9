package poller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// scriptedBackend serves a fixed sequence of status replies, repeating the
// last one forever.
type scriptedBackend struct {
	mu      sync.Mutex
	replies []scriptedReply
	polls   int
}

type scriptedReply struct {
	status int
	etag   string
	body   *StatusResponse
}

func (b *scriptedBackend) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		i := b.polls
		if i >= len(b.replies) {
			i = len(b.replies) - 1
		}
		reply := b.replies[i]
		b.polls++
		b.mu.Unlock()

		if reply.etag != "" {
			if r.Header.Get("If-None-Match") == reply.etag {
				w.WriteHeader(http.StatusNotModified)
				return
			}
			w.Header().Set("ETag", reply.etag)
		}
		if reply.body == nil {
			w.WriteHeader(reply.status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(reply.status)
		_ = json.NewEncoder(w).Encode(reply.body)
	}
}

func (b *scriptedBackend) pollCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.polls
}

func fastClient(baseURL string) *Client {
	return New(baseURL, WithDelayBounds(time.Millisecond, 5*time.Millisecond, time.Millisecond))
}

// collector gathers callbacks so tests can assert on ordering and counts.
type collector struct {
	mu       sync.Mutex
	progress []Progress
	done     []StatusResponse
	errs     []error
	doneCh   chan struct{}
}

func newCollector() *collector {
	return &collector{doneCh: make(chan struct{}, 2)}
}

func (c *collector) handle() Handle {
	return Handle{
		OnProgress: func(p Progress) {
			c.mu.Lock()
			c.progress = append(c.progress, p)
			c.mu.Unlock()
		},
		OnDone: func(s StatusResponse) {
			c.mu.Lock()
			c.done = append(c.done, s)
			c.mu.Unlock()
			c.doneCh <- struct{}{}
		},
		OnError: func(err error) {
			c.mu.Lock()
			c.errs = append(c.errs, err)
			c.mu.Unlock()
			c.doneCh <- struct{}{}
		},
	}
}

func (c *collector) waitTerminal(t *testing.T) {
	t.Helper()
	select {
	case <-c.doneCh:
	case <-time.After(5 * time.Second):
		t.Fatal("no terminal callback arrived")
	}
}

func TestSendMessage(t *testing.T) {
	var gotLocale, gotPath string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotLocale = r.Header.Get("x-locale")

		var req struct {
			SkillID string `json:"skillId"`
			Message string `json:"message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SkillID == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sessionId": "sess-42"}`))
	}))
	defer backend.Close()

	client := New(backend.URL)
	id, err := client.SendMessage(context.Background(), "golang", "I write services daily", "de")
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if id != "sess-42" {
		t.Errorf("session id = %q, want sess-42", id)
	}
	if gotPath != "/chat/send" {
		t.Errorf("path = %q, want /chat/send", gotPath)
	}
	if gotLocale != "de" {
		t.Errorf("x-locale = %q, want de", gotLocale)
	}
}

func TestSendMessageRejected(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "rate limit exceeded"}`, http.StatusTooManyRequests)
	}))
	defer backend.Close()

	client := New(backend.URL)
	if _, err := client.SendMessage(context.Background(), "golang", "hi", ""); err == nil {
		t.Fatal("SendMessage() error = nil, want rejection surfaced")
	}
}

func TestPollUntilDone(t *testing.T) {
	backend := &scriptedBackend{replies: []scriptedReply{
		{status: 200, etag: `"1"`, body: &StatusResponse{SessionID: "s1", Status: "running", UpdatedAt: 1}},
		{status: 200, etag: `"2"`, body: &StatusResponse{SessionID: "s1", Status: "partial", Text: "{", UpdatedAt: 2}},
		{status: 200, etag: `"3"`, body: &StatusResponse{SessionID: "s1", Status: "done", Text: "{}", UpdatedAt: 3}},
	}}
	ts := httptest.NewServer(backend.handler())
	defer ts.Close()

	client := fastClient(ts.URL)
	defer client.Stop()

	c := newCollector()
	client.Start("s1", c.handle())
	c.waitTerminal(t)

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.done) != 1 {
		t.Fatalf("OnDone calls = %d, want exactly 1", len(c.done))
	}
	if len(c.errs) != 0 {
		t.Fatalf("OnError calls = %v, want none", c.errs)
	}
	if c.done[0].Text != "{}" {
		t.Errorf("final text = %q, want terminal body", c.done[0].Text)
	}
	if len(c.progress) < 2 {
		t.Errorf("OnProgress calls = %d, want one per change", len(c.progress))
	}
}

func TestPollTerminalError(t *testing.T) {
	backend := &scriptedBackend{replies: []scriptedReply{
		{status: 200, body: &StatusResponse{SessionID: "s1", Status: "error", Error: "provider down", UpdatedAt: 1}},
	}}
	ts := httptest.NewServer(backend.handler())
	defer ts.Close()

	client := fastClient(ts.URL)
	defer client.Stop()

	c := newCollector()
	client.Start("s1", c.handle())
	c.waitTerminal(t)

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.errs) != 1 {
		t.Fatalf("OnError calls = %d, want exactly 1", len(c.errs))
	}
	if len(c.done) != 0 {
		t.Fatal("OnDone fired for an error session")
	}
}

func TestPollNotModifiedIsNotAnError(t *testing.T) {
	backend := &scriptedBackend{replies: []scriptedReply{
		{status: 200, etag: `"1"`, body: &StatusResponse{SessionID: "s1", Status: "partial", Text: "x", UpdatedAt: 1}},
		{status: 200, etag: `"1"`, body: &StatusResponse{SessionID: "s1", Status: "partial", Text: "x", UpdatedAt: 1}},
		{status: 200, etag: `"1"`, body: &StatusResponse{SessionID: "s1", Status: "partial", Text: "x", UpdatedAt: 1}},
		{status: 200, etag: `"1"`, body: &StatusResponse{SessionID: "s1", Status: "partial", Text: "x", UpdatedAt: 1}},
		{status: 200, etag: `"2"`, body: &StatusResponse{SessionID: "s1", Status: "done", Text: "xy", UpdatedAt: 2}},
	}}
	ts := httptest.NewServer(backend.handler())
	defer ts.Close()

	client := fastClient(ts.URL)
	defer client.Stop()

	c := newCollector()
	client.Start("s1", c.handle())
	c.waitTerminal(t)

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.errs) != 0 {
		t.Fatalf("OnError calls = %v, want 304 ticks tolerated", c.errs)
	}
	if len(c.done) != 1 {
		t.Fatalf("OnDone calls = %d, want 1", len(c.done))
	}
}

func TestPollDisconnectsAfterConsecutiveFailures(t *testing.T) {
	backend := &scriptedBackend{replies: []scriptedReply{
		{status: 500},
	}}
	ts := httptest.NewServer(backend.handler())
	defer ts.Close()

	client := fastClient(ts.URL)
	defer client.Stop()

	c := newCollector()
	client.Start("s1", c.handle())
	c.waitTerminal(t)

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.errs) != 1 {
		t.Fatalf("OnError calls = %d, want exactly 1", len(c.errs))
	}
	if !errors.Is(c.errs[0], ErrDisconnected) {
		t.Errorf("error = %v, want ErrDisconnected", c.errs[0])
	}
	if got := backend.pollCount(); got != 3 {
		t.Errorf("polls before disconnect = %d, want 3", got)
	}
}

func TestPollRecoversFromTransientFailures(t *testing.T) {
	backend := &scriptedBackend{replies: []scriptedReply{
		{status: 500},
		{status: 500},
		{status: 200, body: &StatusResponse{SessionID: "s1", Status: "done", Text: "{}", UpdatedAt: 1}},
	}}
	ts := httptest.NewServer(backend.handler())
	defer ts.Close()

	client := fastClient(ts.URL)
	defer client.Stop()

	c := newCollector()
	client.Start("s1", c.handle())
	c.waitTerminal(t)

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.done) != 1 {
		t.Fatalf("OnDone calls = %d, want recovery before the error budget", len(c.done))
	}
	if len(c.errs) != 0 {
		t.Fatalf("OnError calls = %v, want none", c.errs)
	}
}

func TestPollSessionGone(t *testing.T) {
	backend := &scriptedBackend{replies: []scriptedReply{
		{status: 404},
	}}
	ts := httptest.NewServer(backend.handler())
	defer ts.Close()

	client := fastClient(ts.URL)
	defer client.Stop()

	c := newCollector()
	client.Start("s1", c.handle())
	c.waitTerminal(t)

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.errs) != 1 || !errors.Is(c.errs[0], ErrSessionGone) {
		t.Fatalf("errors = %v, want ErrSessionGone once", c.errs)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	backend := &scriptedBackend{replies: []scriptedReply{
		{status: 200, body: &StatusResponse{SessionID: "s1", Status: "running", UpdatedAt: 1}},
	}}
	ts := httptest.NewServer(backend.handler())
	defer ts.Close()

	client := fastClient(ts.URL)
	c := newCollector()
	client.Start("s1", c.handle())

	client.Stop()
	client.Stop()

	// A client that never started also tolerates Stop.
	idle := New(ts.URL)
	idle.Stop()

	polls := backend.pollCount()
	time.Sleep(50 * time.Millisecond)
	if got := backend.pollCount(); got > polls+1 {
		t.Errorf("polls kept arriving after Stop: %d -> %d", polls, got)
	}
}

func TestBackoffBounds(t *testing.T) {
	c := New("http://example.com", WithDelayBounds(100*time.Millisecond, 300*time.Millisecond, 100*time.Millisecond))

	d := 300 * time.Millisecond
	if got := c.grow(d); got != 300*time.Millisecond {
		t.Errorf("grow at ceiling = %v, want clamped", got)
	}
	d = 100 * time.Millisecond
	if got := c.shrink(d); got != 100*time.Millisecond {
		t.Errorf("shrink at floor = %v, want clamped", got)
	}
	if got := c.grow(100 * time.Millisecond); got != 200*time.Millisecond {
		t.Errorf("grow = %v, want one step", got)
	}

	c.jitter = 0.2
	base := 100 * time.Millisecond
	for i := 0; i < 50; i++ {
		j := c.withJitter(base)
		if j < 80*time.Millisecond || j > 120*time.Millisecond {
			t.Fatalf("withJitter(%v) = %v, want within 20%%", base, j)
		}
	}
}

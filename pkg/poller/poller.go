// Package poller implements the client side of the assessment protocol:
// submit a chat turn, then poll the status endpoint with conditional
// requests and adaptive backoff until the session reaches a terminal state.
package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Sentinel errors surfaced through Handle.OnError.
var (
	// ErrDisconnected is reported after too many consecutive transport or
	// server failures.
	ErrDisconnected = errors.New("disconnected: too many consecutive poll failures")
	// ErrSessionGone is reported when the server no longer knows the session.
	ErrSessionGone = errors.New("session not found or evicted")
)

// StatusResponse mirrors the server's status body.
type StatusResponse struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
	Text      string `json:"text"`
	UpdatedAt int64  `json:"updatedAt"`
	Error     string `json:"error,omitempty"`
}

// Progress is delivered to OnProgress on each genuine change.
type Progress struct {
	Progressed bool
	Status     string
	Text       string
	UpdatedAt  int64
}

// Handle receives poll outcomes. Nil callbacks are skipped. OnDone and
// OnError fire at most once, after which the loop has stopped.
type Handle struct {
	OnProgress func(Progress)
	OnDone     func(StatusResponse)
	OnError    func(error)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithDelayBounds sets the backoff floor, ceiling and additive step.
func WithDelayBounds(min, max, step time.Duration) Option {
	return func(c *Client) {
		c.minDelay = min
		c.maxDelay = max
		c.step = step
	}
}

// Client polls one assessment session at a time. Safe for use from one
// goroutine; Start/Stop may race freely.
type Client struct {
	baseURL    string
	httpClient *http.Client

	// Additive backoff, not exponential: an interactive chat UI cares more
	// about perceived latency than about shaving a few idle requests.
	minDelay time.Duration
	maxDelay time.Duration
	step     time.Duration

	// maxErrors consecutive failures escalate to ErrDisconnected.
	maxErrors int
	// jitter is the symmetric fraction applied to every scheduled delay.
	jitter float64

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New creates a poller client against the service base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		minDelay:   500 * time.Millisecond,
		maxDelay:   5 * time.Second,
		step:       500 * time.Millisecond,
		maxErrors:  3,
		jitter:     0.2,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type sendRequest struct {
	SkillID string `json:"skillId"`
	Message string `json:"message"`
}

type sendResponse struct {
	SessionID string `json:"sessionId"`
}

// SendMessage submits a chat turn and returns the session id to poll.
func (c *Client) SendMessage(ctx context.Context, skillID, message, locale string) (string, error) {
	body, err := json.Marshal(sendRequest{SkillID: skillID, Message: message})
	if err != nil {
		return "", fmt.Errorf("encode send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/send", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if locale != "" {
		req.Header.Set("x-locale", locale)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("send rejected with status %d: %s", resp.StatusCode, string(respBody))
	}

	var decoded sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode send response: %w", err)
	}
	if decoded.SessionID == "" {
		return "", errors.New("server returned empty session id")
	}
	return decoded.SessionID, nil
}

// Start begins polling sessionID in the background, cancelling any loop
// already running on this client.
func (c *Client) Start(sessionID string, handle Handle) {
	ctx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.cancel = cancel
	c.mu.Unlock()

	go c.loop(ctx, sessionID, handle)
}

// Stop aborts the active loop, its in-flight request and pending timer.
// Safe to call repeatedly or with no loop running.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Client) loop(ctx context.Context, sessionID string, handle Handle) {
	delay := c.minDelay
	etag := ""
	var lastUpdated int64
	consecutive := 0

	timer := time.NewTimer(c.withJitter(delay))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		status, body, newETag, err := c.fetch(ctx, sessionID, etag)
		switch {
		case ctx.Err() != nil:
			return

		case err != nil, status == http.StatusTooManyRequests, status >= 500:
			consecutive++
			if consecutive >= c.maxErrors {
				if handle.OnError != nil {
					handle.OnError(ErrDisconnected)
				}
				return
			}
			delay = c.grow(delay)

		case status == http.StatusNotModified:
			// A successful, empty progress tick.
			consecutive = 0
			delay = c.grow(delay)

		case status == http.StatusNotFound:
			if handle.OnError != nil {
				handle.OnError(ErrSessionGone)
			}
			return

		case status == http.StatusOK:
			consecutive = 0
			etag = newETag

			progressed := body.UpdatedAt > lastUpdated
			if progressed {
				lastUpdated = body.UpdatedAt
			}

			if body.Status == "done" {
				if handle.OnDone != nil {
					handle.OnDone(*body)
				}
				return
			}
			if body.Status == "error" {
				if handle.OnError != nil {
					handle.OnError(fmt.Errorf("generation failed: %s", body.Error))
				}
				return
			}

			if progressed {
				if handle.OnProgress != nil {
					handle.OnProgress(Progress{
						Progressed: true,
						Status:     body.Status,
						Text:       body.Text,
						UpdatedAt:  body.UpdatedAt,
					})
				}
				delay = c.shrink(delay)
			} else {
				delay = c.grow(delay)
			}

		default:
			// Unexpected 4xx means the loop cannot make progress.
			if handle.OnError != nil {
				handle.OnError(fmt.Errorf("unexpected status %d while polling", status))
			}
			return
		}

		timer.Reset(c.withJitter(delay))
	}
}

// fetch issues one conditional status request.
func (c *Client) fetch(ctx context.Context, sessionID, etag string) (int, *StatusResponse, string, error) {
	endpoint := c.baseURL + "/chat/status?sessionId=" + url.QueryEscape(sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, nil, "", err
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil, "", nil
	}

	var body StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return resp.StatusCode, nil, "", err
	}
	return resp.StatusCode, &body, resp.Header.Get("ETag"), nil
}

// grow and shrink implement the additive backoff between the floor and
// ceiling.
func (c *Client) grow(d time.Duration) time.Duration {
	d += c.step
	if d > c.maxDelay {
		return c.maxDelay
	}
	return d
}

func (c *Client) shrink(d time.Duration) time.Duration {
	d -= c.step
	if d < c.minDelay {
		return c.minDelay
	}
	return d
}

// withJitter applies ±jitter to a delay so concurrent sessions don't align.
func (c *Client) withJitter(d time.Duration) time.Duration {
	if c.jitter <= 0 {
		return d
	}
	offset := (rand.Float64()*2 - 1) * c.jitter * float64(d)
	return d + time.Duration(offset)
}

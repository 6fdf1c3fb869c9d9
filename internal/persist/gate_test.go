package persist

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/pathwise-ai/pathwise/internal/assess"
	"github.com/pathwise-ai/pathwise/internal/session"
)

const validText = "```json\n" + `{
  "level": 5,
  "confidence": 0.7,
  "learningModules": [
    {"id": "m1", "title": "Indexes Explained", "type": "article", "duration": "20m",
     "resourceUrl": "http://10.1.1.1/internal",
     "searchKeywords": ["btree internals", "query planning", "index selectivity"]},
    {"id": "m2", "title": "Query Tuning", "type": "video", "duration": "35m"},
    {"id": "m3", "title": "Schema Review", "type": "quiz", "duration": "15m"}
  ]
}` + "\n```"

type recordedWrite struct {
	skillID string
	token   string
	result  *assess.AssessmentResult
}

type fakeRecorder struct {
	mu     sync.Mutex
	err    error
	writes []recordedWrite
}

func (r *fakeRecorder) RecordAssessment(ctx context.Context, skillID string, result *assess.AssessmentResult, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.writes = append(r.writes, recordedWrite{skillID: skillID, token: token, result: result})
	return nil
}

func (r *fakeRecorder) writeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.writes)
}

func newGateFixture(t *testing.T) (*Gate, *fakeRecorder, string) {
	t.Helper()

	store := session.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	sess, err := store.Create(context.Background())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	recorder := &fakeRecorder{}
	return NewGate(store, recorder, nil), recorder, sess.ID
}

func TestGatePersistsValidText(t *testing.T) {
	gate, recorder, sessionID := newGateFixture(t)

	err := gate.PersistIfValid(context.Background(), sessionID, validText, "sql", "token-1")
	if err != nil {
		t.Fatalf("PersistIfValid() error = %v", err)
	}
	if recorder.writeCount() != 1 {
		t.Fatalf("writes = %d, want 1", recorder.writeCount())
	}

	write := recorder.writes[0]
	if write.skillID != "sql" || write.token != "token-1" {
		t.Errorf("write = %+v, want skill and token forwarded", write)
	}

	// Sanitization runs before the write: the private URL must be gone.
	if got := write.result.LearningModules[0].ResourceURL; got != "" {
		t.Errorf("ResourceURL = %q, want dropped by sanitization", got)
	}
}

func TestGateSkipsWithoutToken(t *testing.T) {
	gate, recorder, sessionID := newGateFixture(t)

	if err := gate.PersistIfValid(context.Background(), sessionID, validText, "sql", ""); err != nil {
		t.Fatalf("PersistIfValid() error = %v", err)
	}
	if recorder.writeCount() != 0 {
		t.Errorf("writes = %d, want none without a token", recorder.writeCount())
	}
}

func TestGateSkipsUnusableText(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"no json", "the assessment could not be completed"},
		{"invalid schema", "```json\n{\"level\": 99}\n```"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate, recorder, sessionID := newGateFixture(t)

			if err := gate.PersistIfValid(context.Background(), sessionID, tt.text, "sql", "token-1"); err != nil {
				t.Fatalf("PersistIfValid() error = %v, want silent skip", err)
			}
			if recorder.writeCount() != 0 {
				t.Errorf("writes = %d, want 0", recorder.writeCount())
			}
		})
	}
}

func TestGateWritesAtMostOnce(t *testing.T) {
	gate, recorder, sessionID := newGateFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := gate.PersistIfValid(ctx, sessionID, validText, "sql", "token-1"); err != nil {
			t.Fatalf("PersistIfValid() call %d: error = %v", i+1, err)
		}
	}
	if recorder.writeCount() != 1 {
		t.Errorf("writes = %d, want the latch to allow exactly 1", recorder.writeCount())
	}
}

func TestGateSurfacesRecorderFailure(t *testing.T) {
	gate, recorder, sessionID := newGateFixture(t)
	recorder.err = errors.New("backend down")

	err := gate.PersistIfValid(context.Background(), sessionID, validText, "sql", "token-1")
	if err == nil {
		t.Fatal("PersistIfValid() error = nil, want recorder failure surfaced")
	}
}

func TestHTTPRecorder(t *testing.T) {
	var gotPath, gotAuth, gotContentType string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusCreated)
	}))
	defer backend.Close()

	recorder := NewHTTPRecorder(backend.URL, 0)
	result := &assess.AssessmentResult{Level: 5, Confidence: 0.7}

	if err := recorder.RecordAssessment(context.Background(), "sql", result, "token-9"); err != nil {
		t.Fatalf("RecordAssessment() error = %v", err)
	}
	if gotPath != "/skills/sql/assessment" {
		t.Errorf("path = %q, want /skills/sql/assessment", gotPath)
	}
	if gotAuth != "Bearer token-9" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", gotContentType)
	}
}

func TestHTTPRecorderRejectsErrorStatus(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer backend.Close()

	recorder := NewHTTPRecorder(backend.URL, 0)
	err := recorder.RecordAssessment(context.Background(), "sql", &assess.AssessmentResult{}, "t")
	if err == nil {
		t.Fatal("RecordAssessment() error = nil, want non-2xx rejected")
	}
}

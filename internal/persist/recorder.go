// Package persist commits validated assessments to the external persistence
// backend, at most once per session.
package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pathwise-ai/pathwise/internal/assess"
)

// Recorder is the external persistence backend: one write per successful
// assessment.
type Recorder interface {
	RecordAssessment(ctx context.Context, skillID string, result *assess.AssessmentResult, token string) error
}

// HTTPRecorder posts assessments to the backend's REST API.
type HTTPRecorder struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPRecorder creates a recorder for the given backend base URL.
func NewHTTPRecorder(baseURL string, timeout time.Duration) *HTTPRecorder {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPRecorder{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type assessmentWrite struct {
	SkillID string                   `json:"skillId"`
	Result  *assess.AssessmentResult `json:"result"`
}

// RecordAssessment issues exactly one write carrying the skill id and the
// validated, sanitized result, authorized by the caller-supplied token.
func (r *HTTPRecorder) RecordAssessment(ctx context.Context, skillID string, result *assess.AssessmentResult, token string) error {
	body, err := json.Marshal(assessmentWrite{SkillID: skillID, Result: result})
	if err != nil {
		return fmt.Errorf("encode assessment: %w", err)
	}

	url := fmt.Sprintf("%s/skills/%s/assessment", r.baseURL, skillID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send assessment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("persistence backend returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

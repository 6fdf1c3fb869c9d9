package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/pathwise-ai/pathwise/internal/session"
)

type sendRequest struct {
	SkillID string `json:"skillId"`
	Message string `json:"message"`
}

type sendResponse struct {
	SessionID string `json:"sessionId"`
}

type statusResponse struct {
	SessionID string         `json:"sessionId"`
	Status    session.Status `json:"status"`
	Text      string         `json:"text"`
	UpdatedAt int64          `json:"updatedAt"`
	Error     string         `json:"error,omitempty"`
}

// handleSend admits the request, creates a session and spawns the
// generation task. It returns the session id without waiting for any
// generation work.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r, "send", s.cfg.SendLimit) {
		return
	}
	s.collectGarbage(r)

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.SkillID = strings.TrimSpace(req.SkillID)
	req.Message = strings.TrimSpace(req.Message)
	if req.SkillID == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "skillId and message are required")
		return
	}

	locale := r.Header.Get("x-locale")
	if locale == "" {
		locale = "en"
	}
	token := bearerToken(r)

	sess, err := s.store.Create(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	s.orch.Start(sess.ID, req.SkillID, req.Message, locale, token)

	writeJSON(w, http.StatusOK, sendResponse{SessionID: sess.ID})
}

// handleStatus serves the polling endpoint. An unchanged session answers
// 304 against the caller's validator token so idle polls stay cheap.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r, "status", s.cfg.StatusLimit) {
		return
	}
	s.collectGarbage(r)

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	sess, err := s.store.Get(r.Context(), sessionID)
	if errors.Is(err, session.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	etag := sessionETag(sess)
	w.Header().Set("ETag", etag)
	if etagMatches(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		SessionID: sess.ID,
		Status:    sess.Status,
		Text:      sess.Text,
		UpdatedAt: sess.UpdatedAt.UnixMilli(),
		Error:     sess.Error,
	})
}

// sessionETag derives a strong validator from everything the status body
// exposes.
func sessionETag(sess *session.ChatSession) string {
	return fmt.Sprintf("\"%d-%d-%s\"", sess.UpdatedAt.UnixMilli(), len(sess.Text), sess.Status)
}

func etagMatches(ifNoneMatch, etag string) bool {
	if ifNoneMatch == "" {
		return false
	}
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		if strings.TrimSpace(candidate) == etag {
			return true
		}
	}
	return false
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return token
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

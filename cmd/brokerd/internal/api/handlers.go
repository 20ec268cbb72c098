// Package api provides HTTP handlers for the broker standalone server's
// admin REST API.
package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	broker "github.com/coregx/broker"
	"github.com/coregx/broker/adapters/relica"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	brk    *broker.Broker
	repos  *relica.Repositories
	logger broker.Logger
}

// NewHandler creates a new API handler.
func NewHandler(brk *broker.Broker, repos *relica.Repositories, logger broker.Logger) *Handler {
	return &Handler{brk: brk, repos: repos, logger: logger}
}

// SendRequest represents a send-message request.
type SendRequest struct {
	TopicName string          `json:"topicName"`
	Payload   json.RawMessage `json:"payload"`
}

// SubscribeRequest represents a subscription creation request.
type SubscribeRequest struct {
	TopicName string `json:"topicName"`
	Name      string `json:"name"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// SuccessResponse represents a success response.
type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// HandleSend handles POST /api/v1/send
func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.respondError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON", "INVALID_JSON")
		return
	}
	if req.TopicName == "" {
		h.respondError(w, http.StatusBadRequest, "topicName is required", "VALIDATION_ERROR")
		return
	}

	topic, err := h.brk.Topic(req.TopicName)
	if err != nil {
		h.logger.Errorf("failed to ensure topic %q: %v", req.TopicName, err)
		h.respondError(w, http.StatusInternalServerError, "failed to ensure topic", "TOPIC_ERROR")
		return
	}

	msg, err := topic.Send(req.Payload)
	if err != nil {
		h.logger.Errorf("failed to send message: %v", err)
		h.respondError(w, http.StatusInternalServerError, "failed to send message", "SEND_ERROR")
		return
	}

	h.respondSuccess(w, http.StatusCreated, msg, "message sent")
}

// HandleSubscribe handles POST /api/v1/subscribe
func (h *Handler) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.respondError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}

	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON", "INVALID_JSON")
		return
	}
	if req.TopicName == "" || req.Name == "" {
		h.respondError(w, http.StatusBadRequest, "topicName and name are required", "VALIDATION_ERROR")
		return
	}

	topic, err := h.brk.Topic(req.TopicName)
	if err != nil {
		h.logger.Errorf("failed to ensure topic %q: %v", req.TopicName, err)
		h.respondError(w, http.StatusInternalServerError, "failed to ensure topic", "TOPIC_ERROR")
		return
	}

	sub, err := topic.Subscribe(req.Name)
	if err != nil && !broker.IsConflict(err) {
		h.logger.Errorf("failed to create subscription: %v", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create subscription", "SUBSCRIBE_ERROR")
		return
	}

	h.respondSuccess(w, http.StatusCreated, map[string]string{
		"id":   sub.ID(),
		"name": sub.Name(),
	}, "subscription ready")
}

// HandleListTopics handles GET /api/v1/topics
func (h *Handler) HandleListTopics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.respondError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}

	topics, err := h.repos.Topic.List(r.Context())
	if err != nil {
		h.logger.Errorf("failed to list topics: %v", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list topics", "LIST_ERROR")
		return
	}

	h.respondSuccess(w, http.StatusOK, topics, "")
}

// HandleGetTopic handles GET /api/v1/topics/:name
func (h *Handler) HandleGetTopic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.respondError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 4 {
		h.respondError(w, http.StatusBadRequest, "topic name is required", "INVALID_PATH")
		return
	}

	topic, err := h.repos.Topic.GetByName(r.Context(), parts[3])
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.respondError(w, http.StatusNotFound, "topic not found", "NOT_FOUND")
			return
		}
		h.logger.Errorf("failed to get topic: %v", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get topic", "GET_ERROR")
		return
	}

	h.respondSuccess(w, http.StatusOK, topic, "")
}

// HandleListSubscriptions handles GET /api/v1/topics/:id/subscriptions
func (h *Handler) HandleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.respondError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 4 {
		h.respondError(w, http.StatusBadRequest, "topic id is required", "INVALID_PATH")
		return
	}

	subs, err := h.repos.Subscription.ListByTopic(r.Context(), parts[3])
	if err != nil {
		h.logger.Errorf("failed to list subscriptions: %v", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list subscriptions", "LIST_ERROR")
		return
	}

	h.respondSuccess(w, http.StatusOK, subs, "")
}

// HandleDeadLetters handles GET /api/v1/subscriptions/:id/dead-letters
func (h *Handler) HandleDeadLetters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.respondError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 4 {
		h.respondError(w, http.StatusBadRequest, "subscription id is required", "INVALID_PATH")
		return
	}

	letters, err := h.repos.DeadLetter.ListBySubscription(r.Context(), parts[3])
	if err != nil {
		h.logger.Errorf("failed to list dead letters: %v", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list dead letters", "LIST_ERROR")
		return
	}

	h.respondSuccess(w, http.StatusOK, letters, "")
}

// HandleHealth handles GET /api/v1/health
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.respondError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	}

	h.respondSuccess(w, http.StatusOK, health, "")
}

// respondError sends an error response.
func (h *Handler) respondError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   message,
		Code:    code,
		Message: message,
	})
}

// respondSuccess sends a success response.
func (h *Handler) respondSuccess(w http.ResponseWriter, status int, data interface{}, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(SuccessResponse{
		Success: true,
		Data:    data,
		Message: message,
	})
}

// splitPath splits a URL path into its non-empty segments.
func splitPath(path string) []string {
	parts := []string{}
	for _, part := range splitString(path, '/') {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

// splitString splits s by sep.
func splitString(s string, sep rune) []string {
	var parts []string
	var current string
	for _, c := range s {
		if c == sep {
			parts = append(parts, current)
			current = ""
		} else {
			current += string(c)
		}
	}
	parts = append(parts, current)
	return parts
}

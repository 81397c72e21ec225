// Package httpapi exposes the session registry over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/keshon/sophia/internal/logging"
	"github.com/keshon/sophia/internal/mind"
	"github.com/keshon/sophia/internal/storage"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// Conversations is the registry surface served over HTTP.
type Conversations interface {
	Dispatch(ctx context.Context, in mind.Inbound) (mind.Turn, error)
	Reset(ctx context.Context, userID string) (string, error)
	Remember(ctx context.Context, userID, key string, value any) error
	Snapshot(ctx context.Context, userID string) (mind.SessionView, error)
	Stats() map[string]int
	Jobs() string
}

// History reads a user's journal.
type History interface {
	History(userID string) ([]storage.Event, error)
}

type Handler struct {
	conversations Conversations
	history       History
	log           zerolog.Logger
}

// NewHandler creates a Handler. history may be nil, in which case the
// journal route answers 404.
func NewHandler(conversations Conversations, history History) *Handler {
	return &Handler{
		conversations: conversations,
		history:       history,
		log:           logging.Component("http"),
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// RegisterRoutes registers the conversation routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Get("/stats", h.Stats)
		r.Route("/users/{id}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Post("/messages", h.PostMessage)
			r.Post("/reset", h.Reset)
			r.Post("/facts", h.PostFact)
			r.Get("/journal", h.GetJournal)
		})
	})
}

type messageRequest struct {
	Text string `json:"text"`
}

type messageResponse struct {
	TurnID   string `json:"turn_id"`
	Reply    string `json:"reply"`
	State    string `json:"state"`
	Fallback bool   `json:"fallback"`
}

// PostMessage feeds one user message to the session and returns the reply.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	var req messageRequest
	if !h.decode(w, r, &req) {
		return
	}

	turn, err := h.conversations.Dispatch(r.Context(), mind.Inbound{UserID: userID, Text: req.Text})
	if err != nil {
		h.fail(w, userID, err)
		return
	}
	JSON(w, http.StatusOK, messageResponse{
		TurnID:   turn.ID,
		Reply:    turn.Reply,
		State:    turn.State.String(),
		Fallback: turn.Fallback,
	})
}

// Reset starts the user's session over and returns the greeting.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	greeting, err := h.conversations.Reset(r.Context(), userID)
	if err != nil {
		h.fail(w, userID, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"reply": greeting, "state": mind.AwaitingName.String()})
}

type factRequest struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// PostFact merges a derived fact into the user's profile.
func (h *Handler) PostFact(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	var req factRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.Key = strings.TrimSpace(req.Key)
	if req.Key == "" || req.Value == nil {
		Error(w, http.StatusBadRequest, "key and value are required")
		return
	}

	if err := h.conversations.Remember(r.Context(), userID, req.Key, normalizeFact(req.Value)); err != nil {
		h.fail(w, userID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSession returns a copy of the user's session.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	view, err := h.conversations.Snapshot(r.Context(), userID)
	if err != nil {
		h.fail(w, userID, err)
		return
	}
	JSON(w, http.StatusOK, view)
}

// GetJournal returns the user's journaled milestones.
func (h *Handler) GetJournal(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		Error(w, http.StatusNotFound, "journal disabled")
		return
	}
	userID := chi.URLParam(r, "id")
	events, err := h.history.History(userID)
	if err != nil {
		h.fail(w, userID, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"user_id": userID, "events": events})
}

// Stats returns registry counters and the background jobs in flight.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{"jobs": h.conversations.Jobs()}
	for k, v := range h.conversations.Stats() {
		out[k] = v
	}
	JSON(w, http.StatusOK, out)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, userID string, err error) {
	switch {
	case errors.Is(err, mind.ErrUnknownSession):
		Error(w, http.StatusNotFound, "session not found")
	case errors.Is(err, mind.ErrRegistryClosed):
		Error(w, http.StatusServiceUnavailable, "shutting down")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		Error(w, http.StatusGatewayTimeout, "request abandoned")
	default:
		h.log.Error().Err(err).Str("user", userID).Msg("request failed")
		Error(w, http.StatusInternalServerError, "internal error")
	}
}

// normalizeFact turns JSON-decoded lists and objects of strings into the
// typed shapes Profile.Remember merges.
func normalizeFact(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return v
			}
			out = append(out, s)
		}
		return out
	case map[string]any:
		out := make(map[string]string, len(t))
		for k, e := range t {
			s, ok := e.(string)
			if !ok {
				return v
			}
			out[k] = s
		}
		return out
	}
	return v
}

package presence

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Checker is the read side of the presence store.
type Checker interface {
	IsOnline(ctx context.Context, userID string) bool
	OnlineMany(ctx context.Context, userIDs []string) map[string]bool
}

type Handler struct {
	checker Checker
}

func NewHandler(c Checker) *Handler {
	return &Handler{checker: c}
}

type statusResponse struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

type batchRequest struct {
	UserIDs []string `json:"userIds"`
}

const maxBatch = 500

// GetStatus answers GET /api/presence/{userID}.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		http.Error(w, "userID is required", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statusResponse{
		UserID: userID,
		Online: h.checker.IsOnline(r.Context(), userID),
	})
}

// QueryMany answers POST /api/presence/query.
func (h *Handler) QueryMany(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.UserIDs) > maxBatch {
		http.Error(w, "too many userIds", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.checker.OnlineMany(r.Context(), req.UserIDs))
}

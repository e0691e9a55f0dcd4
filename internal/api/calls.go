package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"

	"github.com/dennisdiepolder/monti/convo/internal/auth"
	"github.com/dennisdiepolder/monti/convo/internal/cache"
	"github.com/dennisdiepolder/monti/convo/internal/session"
	"github.com/dennisdiepolder/monti/convo/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// OperatorEndReason is recorded when an operator ends a call from the API
const OperatorEndReason = "operator"

// Ender ends a call
type Ender interface {
	End(ctx context.Context, callID, reason string) (*session.Summary, error)
}

// CallsHandler provides REST endpoints for live calls
type CallsHandler struct {
	store    *cache.ContextStore
	sessions Ender
	logger   zerolog.Logger
}

// NewCallsHandler creates a new CallsHandler
func NewCallsHandler(store *cache.ContextStore, sessions Ender, logger zerolog.Logger) *CallsHandler {
	return &CallsHandler{
		store:    store,
		sessions: sessions,
		logger:   logger.With().Str("component", "calls_handler").Logger(),
	}
}

// List returns the visible live calls
// GET /api/calls
func (h *CallsHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.GetUserFromContext(r.Context())

	calls := []types.CallSummary{}
	for _, c := range h.store.List() {
		if visible(claims, c.TenantID) {
			calls = append(calls, c.Summary())
		}
	}
	sort.Slice(calls, func(i, j int) bool { return calls[i].StartedAt.Before(calls[j].StartedAt) })

	writeJSON(w, http.StatusOK, calls)
}

// Get returns the full context of one live call
// GET /api/calls/{callID}
func (h *CallsHandler) Get(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")
	claims, _ := auth.GetUserFromContext(r.Context())

	c, err := h.store.Get(callID)
	// Calls of other tenants look the same as unknown calls
	if err != nil || !visible(claims, c.TenantID) {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}

	writeJSON(w, http.StatusOK, c)
}

// End ends a live call on behalf of an operator
// POST /api/calls/{callID}/end
func (h *CallsHandler) End(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")
	claims, _ := auth.GetUserFromContext(r.Context())

	c, err := h.store.Get(callID)
	if err != nil || !visible(claims, c.TenantID) {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}

	summary, err := h.sessions.End(r.Context(), callID, OperatorEndReason)
	if err != nil {
		h.logger.Error().Err(err).Str("call_id", callID).Msg("failed to end call")
		writeError(w, http.StatusInternalServerError, "failed to end call")
		return
	}
	if summary == nil {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}

	user := ""
	if claims != nil {
		user = claims.Email
	}
	h.logger.Info().
		Str("call_id", callID).
		Str("user", user).
		Msg("call ended via API")

	writeJSON(w, http.StatusOK, summary)
}

func visible(claims *auth.Claims, tenantID string) bool {
	return claims != nil && claims.IsTenantAllowed(tenantID)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

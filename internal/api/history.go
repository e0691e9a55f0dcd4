package api

import (
	"net/http"
	"time"

	"github.com/dennisdiepolder/monti/convo/internal/auth"
	"github.com/dennisdiepolder/monti/convo/internal/storage"
	"github.com/dennisdiepolder/monti/convo/internal/types"
	"github.com/rs/zerolog"
)

// HistoryHandler provides REST endpoints for ended conversations
type HistoryHandler struct {
	records storage.RecordStore
	logger  zerolog.Logger
}

// NewHistoryHandler creates a new HistoryHandler
func NewHistoryHandler(records storage.RecordStore, logger zerolog.Logger) *HistoryHandler {
	return &HistoryHandler{
		records: records,
		logger:  logger.With().Str("component", "history_handler").Logger(),
	}
}

// GetConversations returns the visible conversation records of one day
// GET /api/conversations?date=YYYY-MM-DD
func (h *HistoryHandler) GetConversations(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		writeError(w, http.StatusBadRequest, "date query parameter is required (YYYY-MM-DD)")
		return
	}
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		writeError(w, http.StatusBadRequest, "invalid date")
		return
	}

	records, err := h.records.ConversationsByDate(r.Context(), date)
	if err != nil {
		h.logger.Error().Err(err).Str("date", date).Msg("failed to get conversation records")
		writeError(w, http.StatusInternalServerError, "failed to retrieve conversations")
		return
	}

	claims, _ := auth.GetUserFromContext(r.Context())
	out := []types.ConversationRecord{}
	for _, rec := range records {
		if visible(claims, rec.TenantID) {
			out = append(out, rec)
		}
	}

	writeJSON(w, http.StatusOK, out)
}

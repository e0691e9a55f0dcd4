package tools

import (
	"encoding/json"
	"net/http"
)

type invokeRequest struct {
	CallID     string         `json:"callId"`
	ToolName   string         `json:"toolName"`
	Parameters map[string]any `json:"parameters"`
}

// HandleInvoke serves POST /internal/tools/invoke. Tagged results are
// always HTTP 200 so the agent can read the error conversationally.
func (h *Handler) HandleInvoke(w http.ResponseWriter, r *http.Request) {
	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn().Err(err).Msg("failed to decode tool invocation")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid request body"})
		return
	}

	res := h.Invoke(r.Context(), req.CallID, req.ToolName, req.Parameters)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

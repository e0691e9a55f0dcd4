package websocket

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// mediaUpgrader is the WebSocket upgrader for telephony media streams
var mediaUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for media connections (internal service)
		return true
	},
}

// MediaHandler handles WebSocket upgrade requests from telephony
type MediaHandler struct {
	hub    *MediaHub
	logger zerolog.Logger
}

// NewMediaHandler creates a new MediaHandler
func NewMediaHandler(hub *MediaHub, logger zerolog.Logger) *MediaHandler {
	return &MediaHandler{
		hub:    hub,
		logger: logger.With().Str("component", "media_ws").Logger(),
	}
}

// ServeHTTP handles GET /internal/media/{callID}
func (h *MediaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")
	if callID == "" {
		http.Error(w, "missing call id", http.StatusBadRequest)
		return
	}

	conn, err := mediaUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Str("call_id", callID).Msg("failed to upgrade media connection")
		return
	}

	client := NewMediaClient(h.hub, conn, callID, h.logger)

	// Register client with hub
	if !h.hub.Register(client) {
		h.logger.Warn().Str("call_id", callID).Msg("media hub stopped, rejecting stream")
		client.Close()
		return
	}

	// Start client pumps
	client.Start()
}

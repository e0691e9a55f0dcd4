package websocket

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"

	"github.com/dennisdiepolder/monti/convo/internal/ingestion"
	"github.com/dennisdiepolder/monti/convo/internal/metrics"
	"github.com/dennisdiepolder/monti/convo/internal/types"
	"github.com/rs/zerolog"
)

var (
	// ErrNoStream is returned when a call has no connected media stream
	ErrNoStream = errors.New("no media stream for call")
	// ErrStreamBusy is returned when the stream's send buffer is full
	ErrStreamBusy = errors.New("media stream send buffer full")
)

var _ ingestion.MediaSource = (*MediaHub)(nil)

// MediaHub maintains the telephony media streams, one per call
type MediaHub struct {
	// Registered streams
	streams map[string]*MediaClient // callID -> client

	// Register requests from media clients
	register chan *MediaClient

	// Unregister requests from media clients
	unregister chan *MediaClient

	// Mutex to protect streams map
	mu sync.RWMutex

	// Closed when Run returns
	stopped chan struct{}

	processor ingestion.Processor
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// NewMediaHub creates a new MediaHub. The processor may be set later with
// SetProcessor to break the construction cycle with the coordinator.
func NewMediaHub(processor ingestion.Processor, m *metrics.Metrics, logger zerolog.Logger) *MediaHub {
	return &MediaHub{
		streams:    make(map[string]*MediaClient),
		register:   make(chan *MediaClient),
		unregister: make(chan *MediaClient),
		stopped:    make(chan struct{}),
		processor:  processor,
		metrics:    m,
		logger:     logger.With().Str("component", "media_hub").Logger(),
	}
}

// SetProcessor sets the processor (to avoid circular init)
func (h *MediaHub) SetProcessor(p ingestion.Processor) {
	h.processor = p
}

// Run starts the hub's main loop
func (h *MediaHub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for callID, client := range h.streams {
				delete(h.streams, callID)
				client.Close()
			}
			h.mu.Unlock()
			h.setGauge()
			return

		case client := <-h.register:
			h.mu.Lock()
			// A reconnect replaces the previous stream of the call
			if existing, ok := h.streams[client.callID]; ok {
				existing.Close()
			}
			h.streams[client.callID] = client
			total := len(h.streams)
			h.mu.Unlock()
			h.setGauge()

			h.logger.Debug().
				Str("call_id", client.callID).
				Int("total_streams", total).
				Msg("media stream connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if existing, ok := h.streams[client.callID]; ok && existing == client {
				delete(h.streams, client.callID)
				h.logger.Debug().
					Str("call_id", client.callID).
					Int("total_streams", len(h.streams)).
					Msg("media stream disconnected")
			}
			client.Close()
			h.mu.Unlock()
			h.setGauge()
		}
	}
}

// Register adds a stream. It reports false once the hub has stopped.
func (h *MediaHub) Register(client *MediaClient) bool {
	select {
	case h.register <- client:
		return true
	case <-h.stopped:
		return false
	}
}

// Unregister removes a stream. After the hub has stopped the client is
// closed directly.
func (h *MediaHub) Unregister(client *MediaClient) {
	select {
	case h.unregister <- client:
	case <-h.stopped:
		client.Close()
	}
}

// SendAudio delivers synthesized audio to the call's media stream
func (h *MediaHub) SendAudio(callID string, audio []byte) error {
	h.mu.RLock()
	client, ok := h.streams[callID]
	h.mu.RUnlock()
	if !ok {
		return ErrNoStream
	}

	data, err := json.Marshal(types.MediaMessage{
		Event:   "dispatch",
		CallID:  callID,
		Payload: base64.StdEncoding.EncodeToString(audio),
	})
	if err != nil {
		return err
	}
	if !client.safeSend(data) {
		return ErrStreamBusy
	}
	if h.metrics != nil {
		h.metrics.WebSocketMessages.WithLabelValues("out").Inc()
	}
	return nil
}

// StreamCount returns the number of connected media streams
func (h *MediaHub) StreamCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams)
}

func (h *MediaHub) setGauge() {
	if h.metrics != nil {
		h.metrics.MediaStreams.Set(float64(h.StreamCount()))
	}
}

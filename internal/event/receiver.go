package event

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dennisdiepolder/monti/convo/internal/ingestion"
	"github.com/dennisdiepolder/monti/convo/internal/pipeline"
	"github.com/dennisdiepolder/monti/convo/internal/session"
	"github.com/dennisdiepolder/monti/convo/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Receiver handles telephony signals posted over HTTP
type Receiver struct {
	processor      ingestion.Processor
	logger         zerolog.Logger
	eventsReceived int64
	chunksAccepted int64
	lastReceived   time.Time
	mu             sync.RWMutex
}

// NewReceiver creates a new event receiver
func NewReceiver(processor ingestion.Processor, logger zerolog.Logger) *Receiver {
	return &Receiver{
		processor: processor,
		logger:    logger.With().Str("component", "receiver").Logger(),
	}
}

// Routes mounts the receiver under /internal/calls
func (r *Receiver) Routes(router chi.Router) {
	router.Post("/start", r.HandleCallStart)
	router.Post("/{callID}/audio", r.HandleAudio)
	router.Post("/{callID}/end", r.HandleCallEnd)
	router.Get("/stats", r.GetStats)
}

type audioRequest struct {
	Sequence   int64  `json:"sequence"`
	Audio      []byte `json:"audio"` // base64 in JSON
	Format     string `json:"format"`
	SampleRate int    `json:"sampleRate"`
}

type endRequest struct {
	Reason string `json:"reason"`
}

// HandleCallStart handles POST /internal/calls/start
func (r *Receiver) HandleCallStart(w http.ResponseWriter, req *http.Request) {
	var sig types.CallStartSignal
	if err := json.NewDecoder(req.Body).Decode(&sig); err != nil {
		r.logger.Error().Err(err).Msg("failed to decode call start")
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	r.touch()

	snap, err := r.processor.ProcessCallStart(req.Context(), &sig)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"callId":    snap.CallID,
		"tenantId":  snap.TenantID,
		"agentId":   snap.AgentID,
		"startedAt": snap.StartedAt,
	})
}

// HandleAudio handles POST /internal/calls/{callID}/audio
func (r *Receiver) HandleAudio(w http.ResponseWriter, req *http.Request) {
	callID := chi.URLParam(req, "callID")

	var body audioRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	r.touch()

	err := r.processor.ProcessAudio(types.AudioChunk{
		CallID:     callID,
		Sequence:   body.Sequence,
		Audio:      body.Audio,
		Format:     body.Format,
		SampleRate: body.SampleRate,
	})
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	// Log periodically
	if n := atomic.AddInt64(&r.chunksAccepted, 1); n%1000 == 0 {
		r.logger.Info().Int64("chunks_accepted", n).Msg("audio chunks received")
	}
	w.WriteHeader(http.StatusAccepted)
}

// HandleCallEnd handles POST /internal/calls/{callID}/end
func (r *Receiver) HandleCallEnd(w http.ResponseWriter, req *http.Request) {
	callID := chi.URLParam(req, "callID")

	var body endRequest
	if req.ContentLength != 0 {
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	r.touch()

	summary, err := r.processor.ProcessCallEnd(req.Context(), &types.CallEndSignal{CallID: callID, Reason: body.Reason})
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if summary == nil {
		// Already ended
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GetStats returns receiver statistics
func (r *Receiver) GetStats(w http.ResponseWriter, req *http.Request) {
	r.mu.RLock()
	lastReceived := r.lastReceived
	r.mu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events_received": atomic.LoadInt64(&r.eventsReceived),
		"chunks_accepted": atomic.LoadInt64(&r.chunksAccepted),
		"last_received":   lastReceived,
	})
}

func (r *Receiver) touch() {
	atomic.AddInt64(&r.eventsReceived, 1)
	r.mu.Lock()
	r.lastReceived = time.Now()
	r.mu.Unlock()
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrAgentNotFound), errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, session.ErrInvalidRequest), errors.Is(err, ingestion.ErrEmptyChunk):
		return http.StatusUnprocessableEntity
	case errors.Is(err, types.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, pipeline.ErrShutdown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

package ingestion

import (
	"context"
	"errors"

	"github.com/dennisdiepolder/monti/convo/internal/metrics"
	"github.com/dennisdiepolder/monti/convo/internal/session"
	"github.com/dennisdiepolder/monti/convo/internal/types"
	"github.com/rs/zerolog"
)

// ChunkSubmitter queues a chunk on its call's worker
type ChunkSubmitter interface {
	Submit(chunk types.AudioChunk) error
}

// Lifecycle starts and ends sessions
type Lifecycle interface {
	Start(ctx context.Context, req session.StartRequest) (types.CallContext, error)
	End(ctx context.Context, callID, reason string) (*session.Summary, error)
}

// DefaultProcessor implements Processor by delegating to the session
// manager and the pipeline coordinator
type DefaultProcessor struct {
	sessions Lifecycle
	chunks   ChunkSubmitter
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewDefaultProcessor creates a new DefaultProcessor
func NewDefaultProcessor(sessions Lifecycle, chunks ChunkSubmitter, m *metrics.Metrics, logger zerolog.Logger) *DefaultProcessor {
	return &DefaultProcessor{
		sessions: sessions,
		chunks:   chunks,
		metrics:  m,
		logger:   logger.With().Str("component", "ingestion").Logger(),
	}
}

func (p *DefaultProcessor) ProcessCallStart(ctx context.Context, sig *types.CallStartSignal) (types.CallContext, error) {
	snap, err := p.sessions.Start(ctx, session.StartRequest{
		CallID:    sig.CallID,
		TenantID:  sig.TenantID,
		AgentID:   sig.AgentID,
		ContactID: sig.ContactID,
	})
	if err != nil {
		return types.CallContext{}, err
	}

	p.logger.Debug().
		Str("call_id", sig.CallID).
		Str("agent_id", sig.AgentID).
		Msg("call start via processor")
	return snap, nil
}

func (p *DefaultProcessor) ProcessAudio(chunk types.AudioChunk) error {
	if len(chunk.Audio) == 0 {
		p.reject("empty")
		return ErrEmptyChunk
	}

	// Rejections past this point are counted by the coordinator
	err := p.chunks.Submit(chunk)
	switch {
	case errors.Is(err, types.ErrQueueFull):
		p.logger.Warn().Str("call_id", chunk.CallID).Int64("sequence", chunk.Sequence).Msg("chunk queue full, dropping chunk")
	case errors.Is(err, types.ErrNotFound):
		p.logger.Debug().Str("call_id", chunk.CallID).Msg("audio for unknown call")
	}
	return err
}

func (p *DefaultProcessor) ProcessCallEnd(ctx context.Context, sig *types.CallEndSignal) (*session.Summary, error) {
	summary, err := p.sessions.End(ctx, sig.CallID, sig.Reason)
	if err != nil {
		return nil, err
	}

	p.logger.Debug().
		Str("call_id", sig.CallID).
		Str("reason", sig.Reason).
		Bool("known", summary != nil).
		Msg("call end via processor")
	return summary, nil
}

func (p *DefaultProcessor) reject(reason string) {
	if p.metrics != nil {
		p.metrics.ChunksRejected.WithLabelValues(reason).Inc()
	}
}

// ErrEmptyChunk is returned for audio chunks without samples
var ErrEmptyChunk = errors.New("empty audio chunk")

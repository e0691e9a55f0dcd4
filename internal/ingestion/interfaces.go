package ingestion

import (
	"context"

	"github.com/dennisdiepolder/monti/convo/internal/pipeline"
	"github.com/dennisdiepolder/monti/convo/internal/session"
	"github.com/dennisdiepolder/monti/convo/internal/types"
)

// Processor handles telephony signals from any source (HTTP, media stream)
type Processor interface {
	ProcessCallStart(ctx context.Context, sig *types.CallStartSignal) (types.CallContext, error)
	ProcessAudio(chunk types.AudioChunk) error
	ProcessCallEnd(ctx context.Context, sig *types.CallEndSignal) (*session.Summary, error)
}

// AudioDispatcher hands synthesized audio back to telephony
type AudioDispatcher = pipeline.AudioDispatcher

// MediaSource is a telephony connection point that also carries replies
type MediaSource interface {
	AudioDispatcher

	// StreamCount returns the number of connected media streams
	StreamCount() int
}

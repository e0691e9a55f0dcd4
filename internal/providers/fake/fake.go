// Package fake provides deterministic pipeline adapters for local runs.
// Audio chunks are treated as UTF-8 text so a call can be driven from curl.
package fake

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dennisdiepolder/monti/convo/internal/analysis"
	"github.com/dennisdiepolder/monti/convo/internal/pipeline"
	"github.com/dennisdiepolder/monti/convo/internal/types"
)

// Transcriber returns the chunk payload as the transcript
type Transcriber struct {
	Delay time.Duration
}

func (t Transcriber) Transcribe(ctx context.Context, chunk types.AudioChunk) (pipeline.Transcription, error) {
	if err := sleep(ctx, t.Delay); err != nil {
		return pipeline.Transcription{}, err
	}
	return pipeline.Transcription{Transcript: string(chunk.Audio), Confidence: 1, Language: "en"}, nil
}

// Generator answers from a small table keyed by intent
type Generator struct {
	Delay time.Duration
}

var replies = map[types.Intent]string{
	types.IntentBooking:      "I can help you book that. What day works best for you?",
	types.IntentAvailability: "Let me check the calendar for open slots.",
	types.IntentCancel:       "I can cancel that appointment for you.",
	types.IntentPricing:      "I'll get you the pricing details.",
	types.IntentInformation:  "Happy to share more information.",
	types.IntentGreeting:     "Hello! How can I help you today?",
	types.IntentFarewell:     "Thanks for calling. Goodbye!",
}

func (g Generator) Generate(ctx context.Context, req pipeline.GenerateRequest) (pipeline.Generation, error) {
	if err := sleep(ctx, g.Delay); err != nil {
		return pipeline.Generation{}, err
	}
	reply, ok := replies[analysis.Intent(req.Transcript)]
	if !ok {
		reply = fmt.Sprintf("You said: %s", req.Transcript)
	}
	if req.Contact != nil && req.Contact.FirstName != "" && len(req.History) == 0 {
		reply = req.Contact.FirstName + ", " + strings.ToLower(reply[:1]) + reply[1:]
	}
	return pipeline.Generation{ReplyText: reply, TokensUsed: len(strings.Fields(reply))}, nil
}

// Synthesizer returns the reply text bytes as audio at 8 kHz mu-law pacing
type Synthesizer struct {
	Delay time.Duration
}

func (s Synthesizer) Synthesize(ctx context.Context, text string, voice types.VoiceConfig) (pipeline.Synthesis, error) {
	if err := sleep(ctx, s.Delay); err != nil {
		return pipeline.Synthesis{}, err
	}
	audio := []byte(text)
	return pipeline.Synthesis{Audio: audio, DurationMs: int64(len(audio)) * 1000 / 8000}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

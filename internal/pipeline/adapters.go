package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dennisdiepolder/monti/convo/internal/types"
)

// Transcription is the result of speech-to-text
type Transcription struct {
	Transcript string
	Confidence float64
	Language   string
}

// GenerateRequest is the bounded prompt context handed to the language model
type GenerateRequest struct {
	CallID     string
	Config     types.AgentConfig
	Contact    *types.ContactInfo
	History    []types.Turn // most recent first
	Transcript string
}

// Generation is the language model reply
type Generation struct {
	ReplyText  string
	TokensUsed int
}

// Synthesis is the synthesized reply audio
type Synthesis struct {
	Audio      []byte
	DurationMs int64
}

// Transcriber wraps the speech vendor
type Transcriber interface {
	Transcribe(ctx context.Context, chunk types.AudioChunk) (Transcription, error)
}

// Generator wraps the language model vendor
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (Generation, error)
}

// Synthesizer wraps the voice synthesis vendor
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voice types.VoiceConfig) (Synthesis, error)
}

// TranscriberFunc adapts a function to Transcriber
type TranscriberFunc func(ctx context.Context, chunk types.AudioChunk) (Transcription, error)

func (f TranscriberFunc) Transcribe(ctx context.Context, chunk types.AudioChunk) (Transcription, error) {
	return f(ctx, chunk)
}

// GeneratorFunc adapts a function to Generator
type GeneratorFunc func(ctx context.Context, req GenerateRequest) (Generation, error)

func (f GeneratorFunc) Generate(ctx context.Context, req GenerateRequest) (Generation, error) {
	return f(ctx, req)
}

// SynthesizerFunc adapts a function to Synthesizer
type SynthesizerFunc func(ctx context.Context, text string, voice types.VoiceConfig) (Synthesis, error)

func (f SynthesizerFunc) Synthesize(ctx context.Context, text string, voice types.VoiceConfig) (Synthesis, error) {
	return f(ctx, text, voice)
}

// Warmer is implemented by synthesizers that can prepare a voice ahead of use
type Warmer interface {
	Warm(ctx context.Context, voice types.VoiceConfig) error
}

// Timeouts bounds each adapter call
type Timeouts struct {
	Transcribe time.Duration
	Generate   time.Duration
	Synthesize time.Duration
}

// DefaultTimeouts mirror the config defaults
var DefaultTimeouts = Timeouts{
	Transcribe: 2 * time.Second,
	Generate:   5 * time.Second,
	Synthesize: 3 * time.Second,
}

// guard runs fn under a per-stage deadline and reports any failure as a
// StageError. A timeout and a vendor error are reported the same way.
func guard[T any](ctx context.Context, stage types.Stage, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	var zero T
	select {
	case r := <-done:
		if r.err != nil {
			timedOut := errors.Is(r.err, context.DeadlineExceeded)
			return zero, types.NewStageError(stage, r.err, timedOut)
		}
		return r.val, nil
	case <-ctx.Done():
		return zero, types.NewStageError(stage, ctx.Err(), errors.Is(ctx.Err(), context.DeadlineExceeded))
	}
}

// Stages bundles the three adapters behind their timeouts
type Stages struct {
	transcriber Transcriber
	generator   Generator
	synthesizer Synthesizer
	timeouts    Timeouts
}

// NewStages wires the adapters
func NewStages(t Transcriber, g Generator, s Synthesizer, timeouts Timeouts) *Stages {
	if timeouts.Transcribe <= 0 {
		timeouts.Transcribe = DefaultTimeouts.Transcribe
	}
	if timeouts.Generate <= 0 {
		timeouts.Generate = DefaultTimeouts.Generate
	}
	if timeouts.Synthesize <= 0 {
		timeouts.Synthesize = DefaultTimeouts.Synthesize
	}
	return &Stages{transcriber: t, generator: g, synthesizer: s, timeouts: timeouts}
}

// Transcribe runs speech-to-text
func (s *Stages) Transcribe(ctx context.Context, chunk types.AudioChunk) (Transcription, error) {
	return guard(ctx, types.StageTranscribe, s.timeouts.Transcribe, func(ctx context.Context) (Transcription, error) {
		return s.transcriber.Transcribe(ctx, chunk)
	})
}

// Generate runs the language model
func (s *Stages) Generate(ctx context.Context, req GenerateRequest) (Generation, error) {
	return guard(ctx, types.StageGenerate, s.timeouts.Generate, func(ctx context.Context) (Generation, error) {
		g, err := s.generator.Generate(ctx, req)
		if err == nil && g.ReplyText == "" {
			err = errors.New("empty reply")
		}
		return g, err
	})
}

// Synthesize runs voice synthesis
func (s *Stages) Synthesize(ctx context.Context, text string, voice types.VoiceConfig) (Synthesis, error) {
	return guard(ctx, types.StageSynthesize, s.timeouts.Synthesize, func(ctx context.Context) (Synthesis, error) {
		syn, err := s.synthesizer.Synthesize(ctx, text, voice)
		if err == nil && len(syn.Audio) == 0 {
			err = errors.New("empty audio")
		}
		return syn, err
	})
}

func (s *Stages) canWarm() bool {
	_, ok := s.synthesizer.(Warmer)
	return ok
}

// Warm prepares the voice when the synthesizer supports it. Errors are
// returned for logging only; synthesis still runs without a warm voice.
func (s *Stages) Warm(ctx context.Context, voice types.VoiceConfig) error {
	w, ok := s.synthesizer.(Warmer)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeouts.Synthesize)
	defer cancel()
	return w.Warm(ctx, voice)
}

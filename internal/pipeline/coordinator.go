package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/convo/internal/analysis"
	"github.com/dennisdiepolder/monti/convo/internal/cache"
	"github.com/dennisdiepolder/monti/convo/internal/metrics"
	"github.com/dennisdiepolder/monti/convo/internal/notify"
	"github.com/dennisdiepolder/monti/convo/internal/types"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// FallbackUtterance is spoken when any stage fails
const FallbackUtterance = "I'm sorry, I could not process that. Could you please repeat?"

const tracerName = "github.com/dennisdiepolder/monti/convo/internal/pipeline"

// AudioDispatcher hands synthesized audio back to telephony
type AudioDispatcher interface {
	SendAudio(callID string, audio []byte) error
}

// Options tunes the coordinator
type Options struct {
	LatencyBudget time.Duration
	HistoryWindow int
	QueueSize     int
}

// Coordinator drives each audio chunk through transcribe, generate and
// synthesize, and owns one worker goroutine per active call.
type Coordinator struct {
	store      *cache.ContextStore
	stages     *Stages
	dispatcher AudioDispatcher
	sink       notify.Sink
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	logger     zerolog.Logger
	opts       Options
	now        func() time.Time

	mu       sync.RWMutex
	workers  map[string]*worker
	wg       sync.WaitGroup
	shutdown bool
}

// NewCoordinator creates a coordinator
func NewCoordinator(
	store *cache.ContextStore,
	stages *Stages,
	dispatcher AudioDispatcher,
	sink notify.Sink,
	m *metrics.Metrics,
	logger zerolog.Logger,
	opts Options,
) *Coordinator {
	if opts.LatencyBudget <= 0 {
		opts.LatencyBudget = 300 * time.Millisecond
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 10
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	return &Coordinator{
		store:      store,
		stages:     stages,
		dispatcher: dispatcher,
		sink:       sink,
		metrics:    m,
		tracer:     otel.Tracer(tracerName),
		logger:     logger.With().Str("component", "pipeline").Logger(),
		opts:       opts,
		now:        time.Now,
		workers:    make(map[string]*worker),
	}
}

// ProcessChunk runs one chunk to completion. It never panics and never
// returns an error: failures end in the fallback utterance.
func (c *Coordinator) ProcessChunk(ctx context.Context, chunk types.AudioChunk) (outcome string) {
	received := chunk.ReceivedAt
	if received.IsZero() {
		received = c.now()
	}
	logger := c.logger.With().Str("call_id", chunk.CallID).Int64("sequence", chunk.Sequence).Logger()

	ctx, span := c.tracer.Start(ctx, "pipeline.chunk", trace.WithAttributes(
		attribute.String("call.id", chunk.CallID),
		attribute.Int64("chunk.sequence", chunk.Sequence),
		attribute.Int("chunk.bytes", len(chunk.Audio)),
	))
	defer func() {
		if r := recover(); r != nil {
			c.metrics.PipelinePanics.Inc()
			logger.Error().Interface("panic", r).Msg("recovered panic while processing chunk")
			span.SetStatus(codes.Error, "panic")
			outcome = metrics.OutcomePanic
		}
		span.SetAttributes(attribute.String("chunk.outcome", outcome))
		span.End()
		c.metrics.ChunksProcessed.WithLabelValues(outcome).Inc()
	}()

	// Received
	var snap types.CallContext
	err := c.store.Mutate(chunk.CallID, func(cc *types.CallContext) error {
		cc.LastActivityAt = received
		snap = cc.Clone()
		return nil
	})
	if err != nil {
		logger.Debug().Err(err).Msg("no context for chunk, discarding")
		return metrics.OutcomeDiscarded
	}
	logger = logger.With().Str("tenant_id", snap.TenantID).Logger()

	if c.stages.canWarm() {
		go func() {
			if err := c.stages.Warm(context.WithoutCancel(ctx), snap.AgentConfig.Voice); err != nil {
				logger.Debug().Err(err).Msg("voice warm-up failed")
			}
		}()
	}

	// Transcribing
	tr, err := runStage(ctx, c, types.StageTranscribe, func(ctx context.Context) (Transcription, error) {
		return c.stages.Transcribe(ctx, chunk)
	})
	if err != nil {
		return c.fail(ctx, logger, snap, false, err)
	}
	transcript := strings.TrimSpace(tr.Transcript)
	if transcript == "" {
		logger.Debug().Msg("empty transcript, nothing to answer")
		return metrics.OutcomeEmpty
	}

	intent := analysis.Intent(transcript)
	sentiment := analysis.Sentiment(transcript)
	var turn types.Turn
	var history []types.Turn
	err = c.store.Mutate(chunk.CallID, func(cc *types.CallContext) error {
		if cc.CurrentTurn != types.NoCurrentTurn {
			// A previous chunk died mid-flight
			_ = cache.FailTurn(cc, types.KindInternal)
		}
		turn = cache.AppendUserTurn(cc, cache.UserUtterance{
			Transcript: transcript,
			Confidence: tr.Confidence,
			Language:   tr.Language,
			Intent:     intent,
			Sentiment:  sentiment,
			At:         received,
		})
		if intent != types.IntentOther && intent != types.IntentGreeting && intent != types.IntentFarewell {
			cc.AddTopic(string(intent))
		}
		history = cache.RecentTurns(cc, c.opts.HistoryWindow)
		return nil
	})
	if err != nil {
		logger.Debug().Err(err).Msg("context gone before turn append, discarding")
		return metrics.OutcomeDiscarded
	}
	c.emit(types.EventTranscriptUpdate, snap, map[string]any{
		"turnId":     turn.ID,
		"transcript": transcript,
		"confidence": tr.Confidence,
		"language":   tr.Language,
		"intent":     string(intent),
		"sentiment":  string(sentiment),
	})

	// Generating
	gen, err := runStage(ctx, c, types.StageGenerate, func(ctx context.Context) (Generation, error) {
		return c.stages.Generate(ctx, GenerateRequest{
			CallID:     chunk.CallID,
			Config:     snap.AgentConfig,
			Contact:    snap.ContactInfo,
			History:    history,
			Transcript: transcript,
		})
	})
	if err != nil {
		return c.fail(ctx, logger, snap, true, err)
	}
	err = c.store.Mutate(chunk.CallID, func(cc *types.CallContext) error {
		return cache.SetReplyText(cc, gen.ReplyText, gen.TokensUsed)
	})
	if out, done := c.checkCommit(logger, err); done {
		return out
	}
	c.emit(types.EventAgentResponse, snap, map[string]any{
		"turnId":     turn.ID,
		"replyText":  gen.ReplyText,
		"tokensUsed": gen.TokensUsed,
	})

	// Synthesizing
	syn, err := runStage(ctx, c, types.StageSynthesize, func(ctx context.Context) (Synthesis, error) {
		return c.stages.Synthesize(ctx, gen.ReplyText, snap.AgentConfig.Voice)
	})
	if err != nil {
		return c.fail(ctx, logger, snap, true, err)
	}

	latency := c.now().Sub(received)
	err = c.store.Mutate(chunk.CallID, func(cc *types.CallContext) error {
		return cache.CompleteTurn(cc, cache.Reply{
			Text:       gen.ReplyText,
			Audio:      syn.Audio,
			DurationMs: syn.DurationMs,
			TokensUsed: gen.TokensUsed,
			LatencyMs:  latency.Milliseconds(),
		})
	})
	if out, done := c.checkCommit(logger, err); done {
		return out
	}
	overBudget := c.observeLatency(logger, latency)

	// Dispatched
	_, err = runStage(ctx, c, types.StageDispatch, func(context.Context) (struct{}, error) {
		return struct{}{}, c.dispatcher.SendAudio(chunk.CallID, syn.Audio)
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to dispatch reply audio")
		c.emitError(snap, types.StageDispatch, types.KindInternal, false, err)
		return metrics.OutcomeDispatchFailed
	}

	c.emit(types.EventAudioReady, snap, map[string]any{
		"turnId":     turn.ID,
		"latencyMs":  latency.Milliseconds(),
		"durationMs": syn.DurationMs,
		"audioBytes": len(syn.Audio),
		"overBudget": overBudget,
	})
	logger.Debug().Dur("latency", latency).Str("turn_id", turn.ID).Msg("reply dispatched")
	return metrics.OutcomeDispatched
}

// checkCommit maps a failed context mutation to a terminal outcome
func (c *Coordinator) checkCommit(logger zerolog.Logger, err error) (string, bool) {
	switch {
	case err == nil:
		return "", false
	case errors.Is(err, types.ErrNotFound):
		logger.Debug().Msg("call ended while chunk was in flight, discarding result")
	case errors.Is(err, types.ErrDoubleCompletion):
		c.metrics.DoubleCompletions.Inc()
		logger.Error().Err(err).Msg("turn already terminal, discarding result")
	default:
		logger.Error().Err(err).Msg("failed to record turn, discarding result")
	}
	return metrics.OutcomeDiscarded, true
}

// fail marks the open turn failed, reports the error and speaks the fallback
func (c *Coordinator) fail(ctx context.Context, logger zerolog.Logger, snap types.CallContext, turnOpen bool, err error) string {
	stage := types.StageDispatch
	timeout := false
	var se *types.StageError
	if errors.As(err, &se) {
		stage = se.Stage
		timeout = se.Timeout
	}
	kind := types.KindOf(err)
	c.metrics.StageErrors.WithLabelValues(string(stage), string(kind), strconv.FormatBool(timeout)).Inc()
	logger.Error().Err(err).Str("stage", string(stage)).Bool("timeout", timeout).Msg("pipeline stage failed")

	if turnOpen {
		ferr := c.store.Mutate(snap.CallID, func(cc *types.CallContext) error {
			return cache.FailTurn(cc, kind)
		})
		if errors.Is(ferr, types.ErrNotFound) {
			logger.Debug().Msg("call ended while chunk was in flight, skipping fallback")
			return metrics.OutcomeDiscarded
		}
		if ferr != nil {
			c.metrics.DoubleCompletions.Inc()
			logger.Error().Err(ferr).Msg("failed to mark turn failed")
		}
	}

	c.emitError(snap, stage, kind, timeout, err)

	syn, serr := c.stages.Synthesize(ctx, FallbackUtterance, snap.AgentConfig.Voice)
	if serr != nil {
		logger.Error().Err(serr).Msg("fallback synthesis failed")
		return metrics.OutcomeFallbackFailed
	}
	if derr := c.dispatcher.SendAudio(snap.CallID, syn.Audio); derr != nil {
		logger.Error().Err(derr).Msg("fallback dispatch failed")
		return metrics.OutcomeFallbackFailed
	}
	return metrics.OutcomeFallback
}

func (c *Coordinator) observeLatency(logger zerolog.Logger, latency time.Duration) bool {
	c.metrics.ChunkLatency.Observe(latency.Seconds())
	if latency <= c.opts.LatencyBudget {
		return false
	}
	c.metrics.LatencyBudgetOverrun.Inc()
	logger.Warn().Dur("latency", latency).Dur("budget", c.opts.LatencyBudget).Msg("latency budget exceeded")
	return true
}

func (c *Coordinator) emit(t types.EventType, snap types.CallContext, payload map[string]any) {
	c.sink.Notify(types.NewEvent(t, snap.CallID, snap.TenantID, payload))
}

func (c *Coordinator) emitError(snap types.CallContext, stage types.Stage, kind types.ErrorKind, timeout bool, err error) {
	c.emit(types.EventConversationError, snap, map[string]any{
		"kind":    string(kind),
		"stage":   string(stage),
		"timeout": timeout,
		"message": err.Error(),
	})
}

// runStage wraps a stage call in a span and records its duration
func runStage[T any](ctx context.Context, c *Coordinator, stage types.Stage, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := c.tracer.Start(ctx, fmt.Sprintf("pipeline.%s", stage))
	defer span.End()

	start := time.Now()
	v, err := fn(ctx)
	c.metrics.StageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return v, err
}

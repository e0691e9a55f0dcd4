package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/convo/internal/cache"
	"github.com/dennisdiepolder/monti/convo/internal/metrics"
	"github.com/dennisdiepolder/monti/convo/internal/notify"
	"github.com/dennisdiepolder/monti/convo/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubTranscriber returns the chunk bytes as the transcript
type stubTranscriber struct {
	err error
}

func (s *stubTranscriber) Transcribe(ctx context.Context, chunk types.AudioChunk) (Transcription, error) {
	if s.err != nil {
		return Transcription{}, s.err
	}
	return Transcription{Transcript: string(chunk.Audio), Confidence: 0.9, Language: "en"}, nil
}

type stubGenerator struct {
	mu       sync.Mutex
	requests []GenerateRequest
	err      error
}

func (s *stubGenerator) Generate(ctx context.Context, req GenerateRequest) (Generation, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.err != nil {
		return Generation{}, s.err
	}
	return Generation{ReplyText: "re: " + req.Transcript, TokensUsed: 7}, nil
}

// stubSynthesizer blocks on anything not matching the fallback when hang is set
type stubSynthesizer struct {
	mu      sync.Mutex
	texts   []string
	hang    bool
	failAll bool
	warmed  int
}

func (s *stubSynthesizer) Synthesize(ctx context.Context, text string, voice types.VoiceConfig) (Synthesis, error) {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()
	if s.failAll {
		return Synthesis{}, errors.New("vendor down")
	}
	if s.hang && text != FallbackUtterance {
		<-ctx.Done()
		return Synthesis{}, ctx.Err()
	}
	return Synthesis{Audio: []byte("audio:" + text), DurationMs: 1200}, nil
}

func (s *stubSynthesizer) Warm(ctx context.Context, voice types.VoiceConfig) error {
	s.mu.Lock()
	s.warmed++
	s.mu.Unlock()
	return nil
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent map[string][][]byte
	err  error
}

func (d *recordingDispatcher) SendAudio(callID string, audio []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	if d.sent == nil {
		d.sent = make(map[string][][]byte)
	}
	d.sent[callID] = append(d.sent[callID], audio)
	return nil
}

func (d *recordingDispatcher) audio(callID string) [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.sent[callID]...)
}

type fixture struct {
	store    *cache.ContextStore
	synth    *stubSynthesizer
	gen      *stubGenerator
	trans    *stubTranscriber
	dispatch *recordingDispatcher
	events   *notify.Recorder
	metrics  *metrics.Metrics
	coord    *Coordinator
}

func newFixture(t *testing.T, timeouts Timeouts) *fixture {
	t.Helper()
	f := &fixture{
		store:    cache.NewContextStore(),
		synth:    &stubSynthesizer{},
		gen:      &stubGenerator{},
		trans:    &stubTranscriber{},
		dispatch: &recordingDispatcher{},
		events:   &notify.Recorder{},
		metrics:  metrics.New(prometheus.NewRegistry()),
	}
	stages := NewStages(f.trans, f.gen, f.synth, timeouts)
	f.coord = NewCoordinator(f.store, stages, f.dispatch, f.events, f.metrics, zerolog.Nop(), Options{
		LatencyBudget: 300 * time.Millisecond,
		HistoryWindow: 3,
		QueueSize:     64,
	})
	return f
}

func (f *fixture) call(t *testing.T, callID string) {
	t.Helper()
	_, err := f.store.Create(callID, types.ContextInit{
		TenantID: "tenant-1",
		AgentID:  "agent-1",
		AgentConfig: types.AgentConfig{
			AgentID: "agent-1",
			Voice:   types.VoiceConfig{VoiceID: "voice-1"},
		},
	})
	require.NoError(t, err)
}

func chunk(callID string, seq int64, text string) types.AudioChunk {
	return types.AudioChunk{CallID: callID, Sequence: seq, Audio: []byte(text), ReceivedAt: time.Now()}
}

func TestProcessChunkHappyPath(t *testing.T) {
	f := newFixture(t, DefaultTimeouts)
	f.call(t, "call-1")

	out := f.coord.ProcessChunk(context.Background(), chunk("call-1", 1, "I want to book an appointment"))
	assert.Equal(t, metrics.OutcomeDispatched, out)

	cc, err := f.store.Get("call-1")
	require.NoError(t, err)
	require.Len(t, cc.Turns, 1)
	turn := cc.Turns[0]
	assert.Equal(t, types.RoleUser, turn.Role)
	assert.Equal(t, "I want to book an appointment", turn.Transcript)
	assert.Equal(t, types.IntentBooking, turn.Intent)
	assert.Equal(t, "re: I want to book an appointment", turn.ReplyText)
	assert.True(t, turn.HasReplyAudio())
	require.NotNil(t, turn.LatencyMs)
	assert.Equal(t, types.NoCurrentTurn, cc.CurrentTurn)
	assert.Contains(t, cc.Topics, string(types.IntentBooking))

	require.Len(t, f.dispatch.audio("call-1"), 1)
	assert.Len(t, f.events.OfType(types.EventTranscriptUpdate), 1)
	assert.Len(t, f.events.OfType(types.EventAgentResponse), 1)
	assert.Len(t, f.events.OfType(types.EventAudioReady), 1)
	assert.Empty(t, f.events.OfType(types.EventConversationError))
}

func TestProcessChunkEmptyTranscript(t *testing.T) {
	f := newFixture(t, DefaultTimeouts)
	f.call(t, "call-1")

	out := f.coord.ProcessChunk(context.Background(), chunk("call-1", 1, "   \n\t"))
	assert.Equal(t, metrics.OutcomeEmpty, out)

	cc, err := f.store.Get("call-1")
	require.NoError(t, err)
	assert.Empty(t, cc.Turns)
	assert.Empty(t, f.events.Events())
	assert.Empty(t, f.dispatch.audio("call-1"))
}

func TestProcessChunkSynthesisTimeoutFallsBack(t *testing.T) {
	f := newFixture(t, Timeouts{Synthesize: 20 * time.Millisecond})
	f.synth.hang = true
	f.call(t, "call-1")

	out := f.coord.ProcessChunk(context.Background(), chunk("call-1", 1, "hello there"))
	assert.Equal(t, metrics.OutcomeFallback, out)

	// Fallback audio went out
	sent := f.dispatch.audio("call-1")
	require.Len(t, sent, 1)
	assert.Equal(t, "audio:"+FallbackUtterance, string(sent[0]))

	// Exactly one error notification, tagged with the synthesis kind
	errs := f.events.OfType(types.EventConversationError)
	require.Len(t, errs, 1)
	assert.Equal(t, string(types.KindSynthesisService), errs[0].Payload["kind"])
	assert.Equal(t, string(types.StageSynthesize), errs[0].Payload["stage"])
	assert.Equal(t, true, errs[0].Payload["timeout"])
	assert.Empty(t, f.events.OfType(types.EventAudioReady))

	// Turn is terminal but carries no audio or latency
	cc, err := f.store.Get("call-1")
	require.NoError(t, err)
	require.Len(t, cc.Turns, 1)
	turn := cc.Turns[0]
	assert.True(t, turn.Failed)
	assert.Equal(t, string(types.KindSynthesisService), turn.FailureKind)
	assert.False(t, turn.HasReplyAudio())
	assert.Nil(t, turn.LatencyMs)
	assert.Equal(t, "re: hello there", turn.ReplyText)
	assert.Equal(t, types.NoCurrentTurn, cc.CurrentTurn)

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.StageErrors.WithLabelValues("synthesize", "SynthesisServiceError", "true")))
}

func TestFailedTurnReplyIsNotSentAsHistory(t *testing.T) {
	f := newFixture(t, Timeouts{Synthesize: 30 * time.Millisecond})
	f.call(t, "call-1")

	f.synth.hang = true
	assert.Equal(t, metrics.OutcomeFallback, f.coord.ProcessChunk(context.Background(), chunk("call-1", 1, "hola")))

	f.synth.hang = false
	assert.Equal(t, metrics.OutcomeDispatched, f.coord.ProcessChunk(context.Background(), chunk("call-1", 2, "are you there?")))

	f.gen.mu.Lock()
	defer f.gen.mu.Unlock()
	require.Len(t, f.gen.requests, 2)
	history := f.gen.requests[1].History
	require.Len(t, history, 1)
	assert.True(t, history[0].Failed)
	assert.Equal(t, "hola", history[0].Transcript)
	assert.Empty(t, history[0].ReplyText, "caller only heard the fallback")
}

func TestProcessChunkTranscribeFailure(t *testing.T) {
	f := newFixture(t, DefaultTimeouts)
	f.trans.err = errors.New("stt unavailable")
	f.call(t, "call-1")

	out := f.coord.ProcessChunk(context.Background(), chunk("call-1", 1, "anything"))
	assert.Equal(t, metrics.OutcomeFallback, out)

	cc, err := f.store.Get("call-1")
	require.NoError(t, err)
	assert.Empty(t, cc.Turns)

	errs := f.events.OfType(types.EventConversationError)
	require.Len(t, errs, 1)
	assert.Equal(t, string(types.KindSpeechService), errs[0].Payload["kind"])
	assert.Len(t, f.dispatch.audio("call-1"), 1)
}

func TestProcessChunkGenerateFailure(t *testing.T) {
	f := newFixture(t, DefaultTimeouts)
	f.gen.err = errors.New("quota exceeded")
	f.call(t, "call-1")

	out := f.coord.ProcessChunk(context.Background(), chunk("call-1", 1, "what does it cost"))
	assert.Equal(t, metrics.OutcomeFallback, out)

	cc, err := f.store.Get("call-1")
	require.NoError(t, err)
	require.Len(t, cc.Turns, 1)
	assert.True(t, cc.Turns[0].Failed)
	assert.Empty(t, cc.Turns[0].ReplyText)
	assert.Empty(t, f.events.OfType(types.EventAgentResponse))

	errs := f.events.OfType(types.EventConversationError)
	require.Len(t, errs, 1)
	assert.Equal(t, string(types.KindGenerationService), errs[0].Payload["kind"])
}

func TestProcessChunkFallbackFailureIsLoggedOnly(t *testing.T) {
	f := newFixture(t, DefaultTimeouts)
	f.synth.failAll = true
	f.call(t, "call-1")

	var out string
	assert.NotPanics(t, func() {
		out = f.coord.ProcessChunk(context.Background(), chunk("call-1", 1, "hello"))
	})
	assert.Equal(t, metrics.OutcomeFallbackFailed, out)
	assert.Empty(t, f.dispatch.audio("call-1"))
	assert.Len(t, f.events.OfType(types.EventConversationError), 1)
}

func TestProcessChunkUnknownCallDiscarded(t *testing.T) {
	f := newFixture(t, DefaultTimeouts)

	out := f.coord.ProcessChunk(context.Background(), chunk("ghost", 1, "hello"))
	assert.Equal(t, metrics.OutcomeDiscarded, out)
	assert.Empty(t, f.events.Events())
}

func TestProcessChunkResultDiscardedAfterCallEnds(t *testing.T) {
	f := newFixture(t, DefaultTimeouts)
	f.call(t, "call-1")

	// Remove the context while generation is in flight
	f.gen.err = nil
	stages := NewStages(f.trans, GeneratorFunc(func(ctx context.Context, req GenerateRequest) (Generation, error) {
		_, _ = f.store.Remove(req.CallID)
		return Generation{ReplyText: "too late", TokensUsed: 1}, nil
	}), f.synth, DefaultTimeouts)
	f.coord.stages = stages

	out := f.coord.ProcessChunk(context.Background(), chunk("call-1", 1, "hello"))
	assert.Equal(t, metrics.OutcomeDiscarded, out)
	assert.Empty(t, f.dispatch.audio("call-1"))
	assert.Empty(t, f.events.OfType(types.EventAudioReady))
}

func TestProcessChunkRecoversPanic(t *testing.T) {
	f := newFixture(t, DefaultTimeouts)
	f.call(t, "call-1")
	panicked := false
	f.coord.sink = notify.SinkFunc(func(e types.Event) {
		if e.Type == types.EventTranscriptUpdate && !panicked {
			panicked = true
			panic("sink exploded")
		}
	})

	var out string
	assert.NotPanics(t, func() {
		out = f.coord.ProcessChunk(context.Background(), chunk("call-1", 1, "hello"))
	})
	assert.Equal(t, metrics.OutcomePanic, out)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.PipelinePanics))

	// The dangling turn is closed when the next chunk arrives
	out = f.coord.ProcessChunk(context.Background(), chunk("call-1", 2, "hello again"))
	assert.Equal(t, metrics.OutcomeDispatched, out)

	cc, err := f.store.Get("call-1")
	require.NoError(t, err)
	require.Len(t, cc.Turns, 2)
	assert.True(t, cc.Turns[0].Failed)
	assert.NotNil(t, cc.Turns[1].LatencyMs)
}

func TestProcessChunkAdapterPanicFallsBack(t *testing.T) {
	f := newFixture(t, DefaultTimeouts)
	f.call(t, "call-1")
	f.coord.stages = NewStages(f.trans, GeneratorFunc(func(context.Context, GenerateRequest) (Generation, error) {
		panic("sdk bug")
	}), f.synth, DefaultTimeouts)

	out := f.coord.ProcessChunk(context.Background(), chunk("call-1", 1, "hello"))
	assert.Equal(t, metrics.OutcomeFallback, out)

	errs := f.events.OfType(types.EventConversationError)
	require.Len(t, errs, 1)
	assert.Equal(t, string(types.KindGenerationService), errs[0].Payload["kind"])
}

func TestProcessChunkLatencyBudgetOverrun(t *testing.T) {
	f := newFixture(t, DefaultTimeouts)
	f.call(t, "call-1")

	c := chunk("call-1", 1, "hello")
	c.ReceivedAt = time.Now().Add(-time.Second)
	out := f.coord.ProcessChunk(context.Background(), c)

	// Over budget is observed, never cancelled
	assert.Equal(t, metrics.OutcomeDispatched, out)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.LatencyBudgetOverrun))
	ready := f.events.OfType(types.EventAudioReady)
	require.Len(t, ready, 1)
	assert.Equal(t, true, ready[0].Payload["overBudget"])
}

func TestProcessChunkHistoryWindow(t *testing.T) {
	f := newFixture(t, DefaultTimeouts)
	f.call(t, "call-1")

	for i := 1; i <= 5; i++ {
		f.coord.ProcessChunk(context.Background(), chunk("call-1", int64(i), fmt.Sprintf("utterance %d", i)))
	}

	f.gen.mu.Lock()
	last := f.gen.requests[len(f.gen.requests)-1]
	f.gen.mu.Unlock()
	require.Len(t, last.History, 3)
	assert.Equal(t, "utterance 4", last.History[0].Transcript)
	assert.Equal(t, "utterance 2", last.History[2].Transcript)
	assert.Equal(t, "utterance 5", last.Transcript)
}

func TestProcessChunkWarmsVoice(t *testing.T) {
	f := newFixture(t, DefaultTimeouts)
	f.call(t, "call-1")

	f.coord.ProcessChunk(context.Background(), chunk("call-1", 1, "hello"))

	assert.Eventually(t, func() bool {
		f.synth.mu.Lock()
		defer f.synth.mu.Unlock()
		return f.synth.warmed == 1
	}, time.Second, 5*time.Millisecond)
}

func TestWorkerPreservesArrivalOrder(t *testing.T) {
	f := newFixture(t, DefaultTimeouts)
	f.call(t, "call-1")
	require.NoError(t, f.coord.Open("call-1"))
	defer f.coord.Close("call-1")

	for i := 0; i < 20; i++ {
		require.NoError(t, f.coord.Submit(chunk("call-1", int64(i), fmt.Sprintf("message %d", i))))
	}

	require.Eventually(t, func() bool {
		cc, err := f.store.Get("call-1")
		return err == nil && len(cc.Turns) == 20 && cc.CurrentTurn == types.NoCurrentTurn
	}, 2*time.Second, 5*time.Millisecond)

	cc, err := f.store.Get("call-1")
	require.NoError(t, err)
	for i, turn := range cc.Turns {
		assert.Equal(t, fmt.Sprintf("message %d", i), turn.Transcript)
		assert.NotNil(t, turn.LatencyMs)
	}
}

func TestConcurrentCallsStayDisjoint(t *testing.T) {
	f := newFixture(t, DefaultTimeouts)
	const calls, perCall = 8, 10

	for c := 0; c < calls; c++ {
		id := fmt.Sprintf("call-%d", c)
		f.call(t, id)
		require.NoError(t, f.coord.Open(id))
	}

	var wg sync.WaitGroup
	for c := 0; c < calls; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			id := fmt.Sprintf("call-%d", c)
			for i := 0; i < perCall; i++ {
				assert.NoError(t, f.coord.Submit(chunk(id, int64(i), fmt.Sprintf("%s says %d", id, i))))
			}
		}(c)
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		for c := 0; c < calls; c++ {
			cc, err := f.store.Get(fmt.Sprintf("call-%d", c))
			if err != nil || len(cc.Turns) != perCall || cc.CurrentTurn != types.NoCurrentTurn {
				return false
			}
		}
		return true
	}, 3*time.Second, 10*time.Millisecond)

	for c := 0; c < calls; c++ {
		id := fmt.Sprintf("call-%d", c)
		cc, err := f.store.Get(id)
		require.NoError(t, err)
		for i, turn := range cc.Turns {
			assert.True(t, strings.HasPrefix(turn.Transcript, id+" "), "turn leaked across calls: %q", turn.Transcript)
			assert.Equal(t, fmt.Sprintf("%s says %d", id, i), turn.Transcript)
		}
	}
	require.NoError(t, f.coord.Shutdown(context.Background()))
}

func TestSubmitErrors(t *testing.T) {
	f := newFixture(t, DefaultTimeouts)

	err := f.coord.Submit(chunk("nobody", 1, "hi"))
	assert.ErrorIs(t, err, types.ErrNotFound)

	f.call(t, "call-1")
	require.NoError(t, f.coord.Open("call-1"))
	assert.ErrorIs(t, f.coord.Open("call-1"), types.ErrAlreadyExists)

	f.coord.Close("call-1")
	assert.ErrorIs(t, f.coord.Submit(chunk("call-1", 1, "hi")), types.ErrNotFound)
	f.coord.Close("call-1")
}

func TestSubmitQueueFull(t *testing.T) {
	f := newFixture(t, DefaultTimeouts)
	f.call(t, "call-1")

	block := make(chan struct{})
	f.coord.stages = NewStages(TranscriberFunc(func(ctx context.Context, _ types.AudioChunk) (Transcription, error) {
		<-block
		return Transcription{}, nil
	}), f.gen, f.synth, Timeouts{Transcribe: 5 * time.Second})
	f.coord.opts.QueueSize = 1
	require.NoError(t, f.coord.Open("call-1"))

	var sawFull bool
	for i := 0; i < 5; i++ {
		if errors.Is(f.coord.Submit(chunk("call-1", int64(i), "x")), types.ErrQueueFull) {
			sawFull = true
		}
	}
	assert.True(t, sawFull)

	close(block)
	require.NoError(t, f.coord.Shutdown(context.Background()))
	assert.ErrorIs(t, f.coord.Open("call-2"), ErrShutdown)
}

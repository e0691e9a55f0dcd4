package callsim

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Placer places one scripted call
type Placer interface {
	Place(ctx context.Context, callID string, script Script) error
}

// Generator places calls at a configurable rate with bounded concurrency
type Generator struct {
	mu          sync.RWMutex
	callsPerMin float64
	scripts     []Script

	placer        Placer
	maxConcurrent int
	logger        zerolog.Logger
}

// NewGenerator creates a Generator with the default scripts
func NewGenerator(placer Placer, callsPerMin float64, maxConcurrent int, logger zerolog.Logger) *Generator {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Generator{
		callsPerMin:   callsPerMin,
		scripts:       DefaultScripts(),
		placer:        placer,
		maxConcurrent: maxConcurrent,
		logger:        logger.With().Str("component", "callsim").Logger(),
	}
}

// SetRate thread-safely updates the call rate
func (g *Generator) SetRate(callsPerMin float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.callsPerMin = callsPerMin
}

// SetScripts thread-safely replaces the caller scripts
func (g *Generator) SetScripts(scripts []Script) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scripts = scripts
}

// Run places calls until ctx is cancelled, then waits for calls in flight
func (g *Generator) Run(ctx context.Context) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(g.maxConcurrent)

	for {
		g.mu.RLock()
		rate := g.callsPerMin
		scripts := g.scripts
		g.mu.RUnlock()

		if rate <= 0 || len(scripts) == 0 {
			// No calls configured; sleep and re-check.
			select {
			case <-ctx.Done():
				group.Wait()
				return
			case <-time.After(time.Second):
				continue
			}
		}

		// Poisson-ish sleep: base interval with jitter.
		baseSleep := time.Duration(float64(time.Minute) / rate)
		jitter := time.Duration(float64(baseSleep) * (rng.Float64()*0.5 - 0.25)) // +/-25%
		sleep := baseSleep + jitter
		if sleep < time.Millisecond {
			sleep = time.Millisecond
		}

		select {
		case <-ctx.Done():
			group.Wait()
			return
		case <-time.After(sleep):
		}

		script := pickScript(rng, scripts)
		callID := uuid.New().String()
		if !group.TryGo(func() error {
			if err := g.placer.Place(gctx, callID, script); err != nil {
				g.logger.Error().Err(err).Str("call_id", callID).Str("script", script.Name).Msg("simulated call failed")
			}
			// Failures never cancel the group
			return nil
		}) {
			g.logger.Warn().Int("max_concurrent", g.maxConcurrent).Msg("concurrency limit reached, skipping call")
		}
	}
}

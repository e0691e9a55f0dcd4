package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dennisdiepolder/monti/convo/internal/callsim"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// CLI flags
	var (
		backendURL    = flag.String("backend-url", "http://localhost:8080", "Orchestrator URL")
		tenantID      = flag.String("tenant", "demo", "Tenant ID for simulated calls")
		agentID       = flag.String("agent", "demo-agent", "Agent ID for simulated calls")
		contactID     = flag.String("contact", "demo-contact", "Contact ID for simulated calls (empty for anonymous)")
		callsPerMin   = flag.Float64("rate", 30, "Calls placed per minute")
		maxConcurrent = flag.Int("concurrency", 20, "Maximum calls in flight")
		duration      = flag.Duration("duration", 0, "Stop after this long (0 runs until interrupted)")
		logLevel      = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	)
	flag.Parse()

	// Setup logger
	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	logger := log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().
		Str("service", "callsim").
		Logger()

	caller, err := callsim.NewCaller(*backendURL, callsim.Identity{
		TenantID:  *tenantID,
		AgentID:   *agentID,
		ContactID: *contactID,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid backend url")
	}
	generator := callsim.NewGenerator(caller, *callsPerMin, *maxConcurrent, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if *duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	logger.Info().
		Str("backend_url", *backendURL).
		Float64("calls_per_min", *callsPerMin).
		Int("concurrency", *maxConcurrent).
		Msg("starting call simulation")

	done := make(chan struct{})
	go func() {
		generator.Run(ctx)
		close(done)
	}()

	// Wait for interrupt signal or the run to finish
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	statsTicker := time.NewTicker(10 * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case <-statsTicker.C:
			logStats(logger, caller.Stats(), "simulation stats")
		case <-sigChan:
			logger.Info().Msg("shutting down call simulation")
			cancel()
			<-done
			logStats(logger, caller.Stats(), "simulation stopped")
			return
		case <-done:
			logStats(logger, caller.Stats(), "simulation finished")
			return
		}
	}
}

func logStats(logger zerolog.Logger, s callsim.Stats, msg string) {
	logger.Info().
		Int64("calls_placed", s.CallsPlaced).
		Int64("calls_failed", s.CallsFailed).
		Int64("chunks_sent", s.ChunksSent).
		Int64("replies_heard", s.RepliesHeard).
		Int64("replies_missing", s.RepliesMissing).
		Msg(msg)
}

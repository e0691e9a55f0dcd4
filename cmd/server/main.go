package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dennisdiepolder/monti/convo/internal/api"
	"github.com/dennisdiepolder/monti/convo/internal/auth"
	"github.com/dennisdiepolder/monti/convo/internal/cache"
	"github.com/dennisdiepolder/monti/convo/internal/config"
	"github.com/dennisdiepolder/monti/convo/internal/event"
	"github.com/dennisdiepolder/monti/convo/internal/ingestion"
	"github.com/dennisdiepolder/monti/convo/internal/metrics"
	"github.com/dennisdiepolder/monti/convo/internal/monitor"
	"github.com/dennisdiepolder/monti/convo/internal/notify"
	"github.com/dennisdiepolder/monti/convo/internal/pipeline"
	"github.com/dennisdiepolder/monti/convo/internal/session"
	"github.com/dennisdiepolder/monti/convo/internal/storage"
	"github.com/dennisdiepolder/monti/convo/internal/telemetry"
	"github.com/dennisdiepolder/monti/convo/internal/ticker"
	"github.com/dennisdiepolder/monti/convo/internal/tools"
	"github.com/dennisdiepolder/monti/convo/internal/websocket"
	"github.com/dennisdiepolder/monti/convo/pkg/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	serviceName       = "convo-orchestrator"
	heartbeatInterval = 5 * time.Second
)

var version = "dev"

func main() {
	// Configure logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("log_level", cfg.LogLevel).
		Str("vendor_mode", string(cfg.VendorMode)).
		Msg("starting conversation orchestrator")

	// Create context for services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Init(ctx, cfg.OTelEndpoint, serviceName, version, cfg.OTelInsecure)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tracing")
	}

	if issuer := os.Getenv("OIDC_ISSUER"); issuer != "" && os.Getenv("VERIFY_JWT_SIGNATURE") == "true" {
		if err := auth.InitJWKS(issuer); err != nil {
			log.Fatal().Err(err).Msg("failed to initialize JWKS")
		}
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	// Storage
	dynamoCfg := storage.LoadDynamoConfig()
	backends, err := storage.NewStore(ctx, dynamoCfg, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create storage")
	}
	if dynamoCfg.Mode != storage.DynamoModeAWS && backends.Seeder != nil {
		if err := seedDemo(ctx, backends.Seeder); err != nil {
			log.Warn().Err(err).Msg("failed to seed demo agent")
		}
	}

	// Notifications: dashboard hub plus optional redis fan-out
	hub := websocket.NewHub(log.Logger, m)
	go hub.Run(ctx)

	sinks := notify.Multi{hub}
	if cfg.RedisURL != "" {
		redisClient, err := notify.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		sinks = append(sinks, notify.NewRedisSink(redisClient, log.Logger))
	}
	dispatcher := notify.NewDispatcher(sinks, cfg.NotifyBuffer, log.Logger, m)
	go dispatcher.Run()

	// Media streams carry both inbound audio and synthesized replies
	mediaHub := websocket.NewMediaHub(nil, m, log.Logger)
	go mediaHub.Run(ctx)

	// Pipeline
	vendors, err := newVendors(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create vendor adapters")
	}
	defer vendors.close()

	store := cache.NewContextStore()
	stages := pipeline.NewStages(vendors.transcriber, vendors.generator, vendors.synthesizer, pipeline.Timeouts{
		Transcribe: cfg.STTTimeout,
		Generate:   cfg.LLMTimeout,
		Synthesize: cfg.TTSTimeout,
	})
	coordinator := pipeline.NewCoordinator(store, stages, mediaHub, dispatcher, m, log.Logger, pipeline.Options{
		LatencyBudget: cfg.LatencyBudget,
		HistoryWindow: cfg.HistoryWindow,
		QueueSize:     cfg.ChunkQueueSize,
	})

	// Sessions and ingestion
	sessions := session.NewManager(store, backends.Directory, backends.Records, coordinator, dispatcher, m, log.Logger)
	processor := ingestion.NewDefaultProcessor(sessions, coordinator, m, log.Logger)
	mediaHub.SetProcessor(processor)

	eventReceiver := event.NewReceiver(processor, log.Logger)
	toolHandler := tools.NewHandler(store, vendors.calendars, m, log.Logger)
	mediaHandler := websocket.NewMediaHandler(mediaHub, log.Logger)

	// Background scans
	monitorService := monitor.New(store, dispatcher, hub, m, log.Logger, cfg.OrphanThreshold, cfg.MonitorInterval)
	go monitorService.Start(ctx)

	tickerService := ticker.NewTicker(hub, store.Count, heartbeatInterval, log.Logger)
	go tickerService.Start(ctx)

	// Dashboard and operator API
	wsHandler := websocket.NewHandler(hub, cfg, log.Logger)
	callsHandler := api.NewCallsHandler(store, sessions, log.Logger)
	historyHandler := api.NewHistoryHandler(backends.Records, log.Logger)

	// Create router
	r := chi.NewRouter()

	// Add middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(log.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Register public routes (no auth required)
	r.Get("/health", healthHandler)
	r.Handle("/metrics", m.Handler())

	// Internal routes (no auth - for telephony and agent services)
	r.Route("/internal", func(r chi.Router) {
		r.Route("/calls", eventReceiver.Routes)
		r.Post("/tools/invoke", toolHandler.HandleInvoke)
		r.Get("/media/{callID}", mediaHandler.ServeHTTP)
	})

	// Add auth middleware for protected routes
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(log.Logger))
		r.Get("/ws", wsHandler.ServeHTTP)

		r.Route("/api", func(r chi.Router) {
			r.Use(auth.RequireManagerOrAdmin)
			r.Get("/calls", callsHandler.List)
			r.Get("/calls/{callID}", callsHandler.Get)
			r.Post("/calls/{callID}/end", callsHandler.End)
			r.Get("/conversations", historyHandler.GetConversations)
		})
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Msgf("server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop accepting signals first, then drain workers and pending writes
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	if err := coordinator.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("pipeline workers did not drain")
	}
	if err := sessions.Wait(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("conversation records still pending")
	}
	dispatcher.Close()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to flush traces")
	}

	// Cancel background services
	cancel()

	log.Info().Msg("server stopped")
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","service":%q}`, serviceName)
}

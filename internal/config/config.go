package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// VendorMode selects the pipeline adapters
type VendorMode string

const (
	VendorModeFake VendorMode = "fake"
	VendorModeLive VendorMode = "live"
)

// Config holds all configuration for the application
type Config struct {
	Port           string
	AllowedOrigins []string
	WSReadTimeout  time.Duration
	WSWriteTimeout time.Duration
	LogLevel       string
	PingPeriod     time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64

	// Pipeline
	LatencyBudget   time.Duration
	STTTimeout      time.Duration
	LLMTimeout      time.Duration
	TTSTimeout      time.Duration
	HistoryWindow   int
	ChunkQueueSize  int
	OrphanThreshold time.Duration
	MonitorInterval time.Duration
	NotifyBuffer    int

	// Vendors
	VendorMode       VendorMode
	CartesiaAPIKey   string
	GeminiAPIKey     string
	GeminiModel      string
	ElevenLabsAPIKey string
	CalendarAPIURL   string
	CalendarAPIToken string

	// Infrastructure
	RedisURL     string
	OTelEndpoint string
	OTelInsecure bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	config := &Config{
		Port:             getEnv("PORT", "8080"),
		AllowedOrigins:   strings.Split(getEnv("ALLOWED_ORIGINS", "http://localhost:5173"), ","),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		VendorMode:       VendorMode(getEnv("VENDOR_MODE", string(VendorModeFake))),
		CartesiaAPIKey:   os.Getenv("CARTESIA_API_KEY"),
		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		GeminiModel:      getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		ElevenLabsAPIKey: os.Getenv("ELEVENLABS_API_KEY"),
		CalendarAPIURL:   os.Getenv("CALENDAR_API_URL"),
		CalendarAPIToken: os.Getenv("CALENDAR_API_TOKEN"),
		RedisURL:         os.Getenv("REDIS_URL"),
		OTelEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTelInsecure:     getEnv("OTEL_INSECURE", "false") == "true",
	}

	if config.VendorMode != VendorModeFake && config.VendorMode != VendorModeLive {
		return nil, fmt.Errorf("invalid VENDOR_MODE: %q", config.VendorMode)
	}

	// Parse WebSocket timeouts
	wsReadTimeout, err := strconv.Atoi(getEnv("WS_READ_TIMEOUT", "60"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_READ_TIMEOUT: %w", err)
	}
	config.WSReadTimeout = time.Duration(wsReadTimeout) * time.Second

	wsWriteTimeout, err := strconv.Atoi(getEnv("WS_WRITE_TIMEOUT", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_WRITE_TIMEOUT: %w", err)
	}
	config.WSWriteTimeout = time.Duration(wsWriteTimeout) * time.Second

	// Calculate WebSocket constants
	config.PongWait = config.WSReadTimeout
	config.PingPeriod = (config.PongWait * 9) / 10 // Must be less than pongWait
	config.WriteWait = config.WSWriteTimeout
	config.MaxMessageSize = 512

	// Pipeline timings
	durations := []struct {
		key  string
		def  string
		unit time.Duration
		dst  *time.Duration
	}{
		{"LATENCY_BUDGET_MS", "300", time.Millisecond, &config.LatencyBudget},
		{"STT_TIMEOUT_MS", "2000", time.Millisecond, &config.STTTimeout},
		{"LLM_TIMEOUT_MS", "5000", time.Millisecond, &config.LLMTimeout},
		{"TTS_TIMEOUT_MS", "3000", time.Millisecond, &config.TTSTimeout},
		{"ORPHAN_THRESHOLD", "300", time.Second, &config.OrphanThreshold},
		{"MONITOR_INTERVAL", "10", time.Second, &config.MonitorInterval},
	}
	for _, d := range durations {
		v, err := strconv.Atoi(getEnv(d.key, d.def))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		if v <= 0 {
			return nil, fmt.Errorf("invalid %s: must be positive", d.key)
		}
		*d.dst = time.Duration(v) * d.unit
	}

	ints := []struct {
		key string
		def string
		dst *int
	}{
		{"HISTORY_WINDOW", "10", &config.HistoryWindow},
		{"CHUNK_QUEUE_SIZE", "16", &config.ChunkQueueSize},
		{"NOTIFY_BUFFER", "1024", &config.NotifyBuffer},
	}
	for _, n := range ints {
		v, err := strconv.Atoi(getEnv(n.key, n.def))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", n.key, err)
		}
		if v <= 0 {
			return nil, fmt.Errorf("invalid %s: must be positive", n.key)
		}
		*n.dst = v
	}

	// Trim spaces from allowed origins
	for i, origin := range config.AllowedOrigins {
		config.AllowedOrigins[i] = strings.TrimSpace(origin)
	}

	return config, nil
}

// getEnv gets an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

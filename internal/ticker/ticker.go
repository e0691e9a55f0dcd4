// Package ticker sends periodic heartbeats to dashboard clients so they can
// tell a quiet floor from a dead connection.
package ticker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

// HeartbeatType is the message type dashboard clients receive
const HeartbeatType = "heartbeat"

// Heartbeat is the periodic message sent to clients
type Heartbeat struct {
	Type        string `json:"type"`
	Timestamp   string `json:"timestamp"`
	ServerTime  int64  `json:"serverTime"`
	ActiveCalls int    `json:"activeCalls"`
}

// Broadcaster fans a raw message out to every dashboard client
type Broadcaster interface {
	Broadcast(message []byte)
	ClientCount() int
}

// Ticker periodically broadcasts heartbeats to the hub
type Ticker struct {
	hub      Broadcaster
	active   func() int
	interval time.Duration
	logger   zerolog.Logger
}

// NewTicker creates a new Ticker. active reports the live call count and may be nil.
func NewTicker(hub Broadcaster, active func() int, interval time.Duration, logger zerolog.Logger) *Ticker {
	if active == nil {
		active = func() int { return 0 }
	}
	return &Ticker{
		hub:      hub,
		active:   active,
		interval: interval,
		logger:   logger.With().Str("component", "ticker").Logger(),
	}
}

// Start begins broadcasting heartbeats until ctx is done
func (t *Ticker) Start(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.logger.Info().Dur("interval", t.interval).Msg("ticker started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info().Msg("ticker stopped")
			return

		case now := <-ticker.C:
			t.beat(now)
		}
	}
}

func (t *Ticker) beat(now time.Time) {
	if t.hub.ClientCount() == 0 {
		return
	}
	data, err := json.Marshal(Heartbeat{
		Type:        HeartbeatType,
		Timestamp:   now.UTC().Format(time.RFC3339),
		ServerTime:  now.Unix(),
		ActiveCalls: t.active(),
	})
	if err != nil {
		t.logger.Error().Err(err).Msg("failed to marshal heartbeat")
		return
	}

	t.hub.Broadcast(data)
	t.logger.Debug().Int("clients", t.hub.ClientCount()).Msg("broadcasted heartbeat")
}

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dennisdiepolder/monti/convo/internal/types"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// ChannelPrefix namespaces the per-tenant pub/sub channels
const ChannelPrefix = "convo:events:"

// Publisher is the subset of the redis client used by RedisSink
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisSink publishes events on a per-tenant Redis channel
type RedisSink struct {
	client  Publisher
	timeout time.Duration
	logger  zerolog.Logger
}

// NewRedisClient parses url and verifies the connection
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	rdb := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return rdb, nil
}

// NewRedisSink wraps a connected client
func NewRedisSink(client Publisher, logger zerolog.Logger) *RedisSink {
	return &RedisSink{
		client:  client,
		timeout: 2 * time.Second,
		logger:  logger.With().Str("component", "redis_sink").Logger(),
	}
}

// Channel returns the pub/sub channel for a tenant
func Channel(tenantID string) string {
	return ChannelPrefix + tenantID
}

// Notify publishes the event. Failures are logged and the event is lost.
func (s *RedisSink) Notify(event types.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Error().Err(err).Str("type", string(event.Type)).Msg("failed to marshal event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.client.Publish(ctx, Channel(event.TenantID), data).Err(); err != nil {
		s.logger.Warn().Err(err).Str("type", string(event.Type)).Str("call_id", event.CallID).Msg("failed to publish event")
	}
}

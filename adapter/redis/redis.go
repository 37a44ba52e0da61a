// Package redis publishes match outcome events on a Redis pub/sub
// channel so external tooling (dashboards, scoreboards) can follow the
// client live.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/leagueofsolvers/satclient/adapter"
)

// DefaultChannel is the pub/sub channel events are published on.
const DefaultChannel = "satclient:match_reported"

// Config configures the Redis adapter.
type Config struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password, optional.
	Password string
	// DB selects the logical database.
	DB int
	// Channel overrides DefaultChannel.
	Channel string
}

// Adapter publishes MatchReportedEvent as JSON on a pub/sub channel.
type Adapter struct {
	client  *redis.Client
	channel string
}

var _ adapter.Adapter = (*Adapter)(nil)

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	channel := cfg.Channel
	if channel == "" {
		channel = DefaultChannel
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Adapter{client: client, channel: channel}, nil
}

// MatchReported implements adapter.Adapter.
func (a *Adapter) MatchReported(ctx context.Context, ev adapter.MatchReportedEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := a.client.Publish(ctx, a.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", a.channel, err)
	}
	return nil
}

// Close releases the underlying client.
func (a *Adapter) Close() error {
	return a.client.Close()
}

// Package publish fans published snapshots out to external consumers.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nicktill/corridorpulse/pkg/config"
	"github.com/nicktill/corridorpulse/pkg/derive"
	"github.com/nicktill/corridorpulse/pkg/traffic"
)

// RedisConfig configures a Redis publisher. Zero values pick the config defaults.
type RedisConfig struct {
	URL       string
	Channel   string
	KeyPrefix string
	TTL       time.Duration
}

// Redis publishes every snapshot on a pub/sub channel and keeps the latest
// one per corridor under an expiring key.
type Redis struct {
	client    *redis.Client
	channel   string
	keyPrefix string
	ttl       time.Duration
}

// NewRedis connects to cfg.URL and checks the connection.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return NewRedisWithClient(client, cfg), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, cfg RedisConfig) *Redis {
	if cfg.Channel == "" {
		cfg.Channel = config.RedisSnapshotChannel
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = config.RedisSnapshotKeyPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = config.RedisSnapshotTTL
	}
	return &Redis{
		client:    client,
		channel:   cfg.Channel,
		keyPrefix: cfg.KeyPrefix,
		ttl:       cfg.TTL,
	}
}

// Name identifies the publisher in metrics and logs.
func (r *Redis) Name() string {
	return "redis"
}

// Key returns the latest-snapshot key for a corridor.
func (r *Redis) Key(corridor traffic.CorridorID) string {
	return r.keyPrefix + string(corridor)
}

// Channel returns the pub/sub channel snapshots are published on.
func (r *Redis) Channel() string {
	return r.channel
}

// Publish stores the snapshot and announces it in one round trip.
func (r *Redis) Publish(ctx context.Context, snap *derive.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.Set(ctx, r.Key(snap.Corridor), data, r.ttl)
	pipe.Publish(ctx, r.channel, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish snapshot to redis: %w", err)
	}
	return nil
}

// Latest reads the stored snapshot for a corridor. It returns nil when none
// is stored or it has expired.
func (r *Redis) Latest(ctx context.Context, corridor traffic.CorridorID) (*derive.Snapshot, error) {
	data, err := r.client.Get(ctx, r.Key(corridor)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot from redis: %w", err)
	}

	var snap derive.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snap, nil
}

// Subscribe returns a subscription to the snapshot channel.
func (r *Redis) Subscribe(ctx context.Context) *redis.PubSub {
	return r.client.Subscribe(ctx, r.channel)
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

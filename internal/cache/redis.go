// Package cache wraps Redis for the short-lived lookups the bot makes on
// every message, chiefly Slack channel metadata.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore wraps a redis client and context for operations.
type RedisStore struct {
	Client *redis.Client
	Ctx    context.Context
}

// InitRedis initializes a Redis client and returns a RedisStore.
func InitRedis(addr string) (*RedisStore, error) {
	rs := &RedisStore{
		Client: redis.NewClient(&redis.Options{Addr: addr}),
		Ctx:    context.Background(),
	}

	// Add OpenTelemetry instrumentation to Redis client
	if err := redisotel.InstrumentTracing(rs.Client); err != nil {
		return nil, fmt.Errorf("failed to instrument redis tracing: %w", err)
	}

	if err := rs.Client.Ping(rs.Ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	zap.L().Info("Connected to Redis", zap.String("addr", addr))
	return rs, nil
}

// Close shuts down the Redis client.
func (r *RedisStore) Close() {
	if r != nil && r.Client != nil {
		if err := r.Client.Close(); err != nil {
			zap.L().Error("redis close", zap.Error(err))
		}
	}
}

// ChannelInfo is the slice of conversations.info the bot actually needs to
// classify a channel.
type ChannelInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	IsPrivate bool   `json:"is_private"`
	IsIM      bool   `json:"is_im"`
	IsMPIM    bool   `json:"is_mpim"`
}

// DefaultChannelTTL bounds how stale cached channel metadata may get.
// Channels rarely flip between public and private, so an hour is plenty.
const DefaultChannelTTL = time.Hour

// ChannelCache caches Slack channel metadata so the context manager does
// not hit conversations.info on every message.
type ChannelCache struct {
	store *RedisStore
	ttl   time.Duration
}

// NewChannelCache builds a cache over rs. A non-positive ttl falls back to
// DefaultChannelTTL.
func NewChannelCache(rs *RedisStore, ttl time.Duration) *ChannelCache {
	if ttl <= 0 {
		ttl = DefaultChannelTTL
	}
	return &ChannelCache{store: rs, ttl: ttl}
}

func channelKey(channelID string) string {
	return "channel:" + channelID
}

// Get returns the cached info for a channel, or (nil, nil) on a miss.
func (c *ChannelCache) Get(ctx context.Context, channelID string) (*ChannelInfo, error) {
	data, err := c.store.Client.Get(ctx, channelKey(channelID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("channel cache get: %w", err)
	}
	var info ChannelInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("channel cache decode: %w", err)
	}
	return &info, nil
}

// Put stores channel info under its TTL.
func (c *ChannelCache) Put(ctx context.Context, info ChannelInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("channel cache encode: %w", err)
	}
	if err := c.store.Client.Set(ctx, channelKey(info.ID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("channel cache set: %w", err)
	}
	return nil
}

// MarkEventProcessed records a Slack event ID and reports whether this is
// the first delivery. Slack retries events it thinks were dropped, so the
// bot dedupes on the envelope ID for the retry window.
func (r *RedisStore) MarkEventProcessed(ctx context.Context, eventID string, window time.Duration) (bool, error) {
	first, err := r.Client.SetNX(ctx, "event:"+eventID, 1, window).Result()
	if err != nil {
		return false, fmt.Errorf("mark event processed: %w", err)
	}
	return first, nil
}

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/VKYCVault/internal/logger"
	"github.com/dharsanguruparan/VKYCVault/internal/metrics"
	"github.com/dharsanguruparan/VKYCVault/internal/model"
)

const redisKeyPrefix = "vkyc:status:"

// Redis shares snapshots between the API and worker processes.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl, log: logger.Component("status-cache")}
}

// Get decodes the cached snapshot; any redis or decode error is a miss.
func (c *Redis) Get(ctx context.Context, requestID string) (*model.Snapshot, bool) {
	data, err := c.client.Get(ctx, redisKeyPrefix+requestID).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn().Err(err).Str("request_id", requestID).Msg("status cache get failed")
		}
		metrics.CacheMisses.WithLabelValues("redis").Inc()
		return nil, false
	}
	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		c.log.Warn().Err(err).Str("request_id", requestID).Msg("status cache entry corrupt")
		metrics.CacheMisses.WithLabelValues("redis").Inc()
		return nil, false
	}
	metrics.CacheHits.WithLabelValues("redis").Inc()
	return &snap, true
}

// Put stores the snapshot with the configured TTL.
func (c *Redis) Put(ctx context.Context, requestID string, snap *model.Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		c.log.Warn().Err(err).Str("request_id", requestID).Msg("status cache encode failed")
		return
	}
	if err := c.client.Set(ctx, redisKeyPrefix+requestID, data, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("request_id", requestID).Msg("status cache put failed")
	}
}

// Delete removes the entry.
func (c *Redis) Delete(ctx context.Context, requestID string) {
	if err := c.client.Del(ctx, redisKeyPrefix+requestID).Err(); err != nil {
		c.log.Warn().Err(err).Str("request_id", requestID).Msg("status cache delete failed")
	}
}

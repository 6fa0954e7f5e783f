// Package query serves the read-only engagement API: per-video metrics,
// date-range reports and duration discrepancies.
package query

import (
	"context"
	"encoding/json"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/uplay-learning/engagement/internal/models"
)

const snapshotKeyPrefix = "snapshot:"

// SnapshotCache is a short-TTL Redis cache in front of snapshot reads.
// Failures degrade to a cache miss; the cache is never authoritative.
type SnapshotCache struct {
	client *goredis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewSnapshotCache creates a snapshot cache. A nil client disables caching.
func NewSnapshotCache(client *goredis.Client, ttl time.Duration, logger *zap.Logger) *SnapshotCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotCache{client: client, ttl: ttl, logger: logger}
}

// Get returns the cached snapshot for a video, or nil on miss.
func (c *SnapshotCache) Get(ctx context.Context, videoID string) *models.VideoMetricsSnapshot {
	if c.client == nil {
		return nil
	}
	raw, err := c.client.Get(ctx, snapshotKeyPrefix+videoID).Bytes()
	if err != nil {
		if err != goredis.Nil {
			c.logger.Debug("snapshot cache read failed", zap.Error(err), zap.String("video_id", videoID))
		}
		return nil
	}
	var snap models.VideoMetricsSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil
	}
	return &snap
}

// Set caches a snapshot.
func (c *SnapshotCache) Set(ctx context.Context, snap *models.VideoMetricsSnapshot) {
	if c.client == nil {
		return
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, snapshotKeyPrefix+snap.VideoID, raw, c.ttl).Err(); err != nil {
		c.logger.Debug("snapshot cache write failed", zap.Error(err), zap.String("video_id", snap.VideoID))
	}
}

// Invalidate drops a video's cached snapshot.
func (c *SnapshotCache) Invalidate(ctx context.Context, videoID string) {
	if c.client == nil {
		return
	}
	_ = c.client.Del(ctx, snapshotKeyPrefix+videoID).Err()
}

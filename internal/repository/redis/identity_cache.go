package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"wardwatch/internal/client"
	"wardwatch/internal/model"
	"wardwatch/internal/util"
)

const (
	cctvTableKey = "identity:cctvs"
	bedTableKey  = "identity:bed_mappings"
)

// IdentityCache caches the upstream device and bed-pairing tables for the
// session's duration so label lookups never hit the upstream per render.
type IdentityCache struct {
	client *client.RedisClient
	ttl    time.Duration
}

func NewIdentityCache(client *client.RedisClient, ttl time.Duration) *IdentityCache {
	return &IdentityCache{client: client, ttl: ttl}
}

// StoreTables caches both mapping tables. They are written together: a
// device list from one fetch paired with beds from another could shuffle
// ordinals.
func (c *IdentityCache) StoreTables(ctx context.Context, cctvIDs []string, pairs []model.BedMapping) error {
	cctvData, err := json.Marshal(cctvIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal cctv table: %w", err)
	}
	bedData, err := json.Marshal(pairs)
	if err != nil {
		return fmt.Errorf("failed to marshal bed table: %w", err)
	}

	pipe := c.client.Pipeline()
	pipe.Set(ctx, cctvTableKey, string(cctvData), c.ttl)
	pipe.Set(ctx, bedTableKey, string(bedData), c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to cache identity tables", zap.Error(err))
		return fmt.Errorf("failed to cache identity tables: %w", err)
	}

	util.Debug("Identity tables cached",
		zap.Int("cctvs", len(cctvIDs)),
		zap.Int("bed_pairs", len(pairs)))
	return nil
}

// LoadTables returns the cached tables; ok is false when either half is
// missing or unreadable.
func (c *IdentityCache) LoadTables(ctx context.Context) (cctvIDs []string, pairs []model.BedMapping, ok bool) {
	rawCCTV, err := c.client.Get(ctx, cctvTableKey)
	if err != nil {
		return nil, nil, false
	}
	rawBeds, err := c.client.Get(ctx, bedTableKey)
	if err != nil {
		return nil, nil, false
	}

	if err := json.Unmarshal([]byte(rawCCTV), &cctvIDs); err != nil {
		return nil, nil, false
	}
	if err := json.Unmarshal([]byte(rawBeds), &pairs); err != nil {
		return nil, nil, false
	}
	return cctvIDs, pairs, true
}

// Invalidate drops the cached tables, forcing a refetch
func (c *IdentityCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, cctvTableKey, bedTableKey)
}

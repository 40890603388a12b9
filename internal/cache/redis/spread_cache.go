package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vkarpenko/spreadbot/internal/domain"
)

// spreadTTL bounds how long a cached sample is served. The dashboard prefers
// no data over minutes-old data presented as live.
const spreadTTL = 2 * time.Minute

// SpreadCache implements domain.SpreadCache using Redis string keys holding
// the JSON-encoded latest sample per symbol.
type SpreadCache struct {
	rdb *redis.Client
}

// NewSpreadCache creates a SpreadCache backed by the given Client.
func NewSpreadCache(c *Client) *SpreadCache {
	return &SpreadCache{rdb: c.Underlying()}
}

func spreadKey(symbol string) string {
	return "spread:latest:" + symbol
}

// SetLatest stores the most recent sample for its symbol.
func (sc *SpreadCache) SetLatest(ctx context.Context, sample domain.SpreadSample) error {
	data, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("redis: marshal spread %s: %w", sample.Symbol, err)
	}
	if err := sc.rdb.Set(ctx, spreadKey(sample.Symbol), data, spreadTTL).Err(); err != nil {
		return fmt.Errorf("redis: set spread %s: %w", sample.Symbol, err)
	}
	return nil
}

// GetLatest returns the cached sample for a symbol, or domain.ErrNotFound when
// no fresh sample exists.
func (sc *SpreadCache) GetLatest(ctx context.Context, symbol string) (domain.SpreadSample, error) {
	data, err := sc.rdb.Get(ctx, spreadKey(symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.SpreadSample{}, domain.ErrNotFound
		}
		return domain.SpreadSample{}, fmt.Errorf("redis: get spread %s: %w", symbol, err)
	}

	var sample domain.SpreadSample
	if err := json.Unmarshal(data, &sample); err != nil {
		return domain.SpreadSample{}, fmt.Errorf("redis: decode spread %s: %w", symbol, err)
	}
	return sample, nil
}

// Compile-time interface check.
var _ domain.SpreadCache = (*SpreadCache)(nil)

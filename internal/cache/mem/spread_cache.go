package mem

import (
	"context"
	"sync"

	"github.com/vkarpenko/spreadbot/internal/domain"
)

// SpreadCache is an in-process implementation of domain.SpreadCache. Unlike
// the Redis cache it never expires entries; the engine overwrites each
// symbol's sample every cycle anyway.
type SpreadCache struct {
	mu     sync.RWMutex
	latest map[string]domain.SpreadSample
}

var _ domain.SpreadCache = (*SpreadCache)(nil)

// NewSpreadCache creates an empty in-process spread cache.
func NewSpreadCache() *SpreadCache {
	return &SpreadCache{
		latest: make(map[string]domain.SpreadSample),
	}
}

// SetLatest stores the most recent sample for its symbol.
func (c *SpreadCache) SetLatest(ctx context.Context, sample domain.SpreadSample) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest[sample.Symbol] = sample
	return nil
}

// GetLatest returns the most recent sample for symbol, or ErrNotFound.
func (c *SpreadCache) GetLatest(ctx context.Context, symbol string) (domain.SpreadSample, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sample, ok := c.latest[symbol]
	if !ok {
		return domain.SpreadSample{}, domain.ErrNotFound
	}
	return sample, nil
}

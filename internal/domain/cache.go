package domain

import (
	"context"
	"time"
)

// SpreadCache holds the most recent spread sample per symbol for cheap reads
// by the dashboard.
type SpreadCache interface {
	SetLatest(ctx context.Context, sample SpreadSample) error
	GetLatest(ctx context.Context, symbol string) (SpreadSample, error)
}

// SignalBus is a lightweight pub/sub fabric used to push spread and trade
// events to the WebSocket hub (and any other subscriber).
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// LockManager provides distributed mutual exclusion so that engine instances
// sharded by symbol never race on the same entry. Acquire returns ErrLockHeld
// when another holder owns the key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

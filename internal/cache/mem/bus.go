// Package mem provides in-process implementations of the cache and pub/sub
// interfaces. They are used when Redis is disabled in the configuration; a
// single-process deployment loses nothing by keeping these concerns local.
package mem

import (
	"context"
	"sync"

	"github.com/vkarpenko/spreadbot/internal/domain"
)

// subscriberBuffer is the per-subscriber channel capacity. Slow subscribers
// drop messages instead of blocking publishers.
const subscriberBuffer = 128

// Bus is an in-process implementation of domain.SignalBus.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]chan []byte
}

var _ domain.SignalBus = (*Bus)(nil)

// NewBus creates an empty in-process signal bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[string][]chan []byte),
	}
}

// Publish delivers payload to every subscriber of channel. Delivery is
// best-effort: a subscriber whose buffer is full misses the message.
func (b *Bus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe registers a new subscriber for channel. The returned channel is
// closed when ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, subscriberBuffer)

	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		subs := b.subs[channel]
		for i, c := range subs {
			if c == ch {
				b.subs[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

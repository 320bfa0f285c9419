package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// MemoryBus delivers envelopes to subscribers in the same process. Each
// delivery runs on its own goroutine.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string]map[int]Handler
	nextID int
	closed bool
	wg     sync.WaitGroup
	log    zerolog.Logger
}

// NewMemoryBus creates an in-process bus.
func NewMemoryBus(log zerolog.Logger) *MemoryBus {
	return &MemoryBus{
		subs: make(map[string]map[int]Handler),
		log:  log.With().Str("component", "memory_bus").Logger(),
	}
}

// Publish fans env out to every current subscriber of channel.
func (b *MemoryBus) Publish(ctx context.Context, channel string, env Envelope) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}

	for _, handler := range b.subs[channel] {
		b.wg.Add(1)
		go func(h Handler) {
			defer b.wg.Done()
			invoke(context.WithoutCancel(ctx), b.log, channel, h, env)
		}(handler)
	}
	return nil
}

// Subscribe registers handler on channel.
func (b *MemoryBus) Subscribe(channel string, handler Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	id := b.nextID
	b.nextID++
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[int]Handler)
	}
	b.subs[channel][id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[channel], id)
		})
	}, nil
}

// Close stops accepting publishes and waits for in-flight deliveries.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.subs = make(map[string]map[int]Handler)
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisBus publishes envelopes with PUBLISH and delivers them through one
// SUBSCRIBE connection per subscription.
type RedisBus struct {
	client redis.UniversalClient
	log    zerolog.Logger

	mu     sync.Mutex
	subs   map[*redis.PubSub]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewRedisBus creates a bus over a connected client.
func NewRedisBus(client redis.UniversalClient, log zerolog.Logger) *RedisBus {
	return &RedisBus{
		client: client,
		log:    log.With().Str("component", "redis_bus").Logger(),
		subs:   make(map[*redis.PubSub]struct{}),
	}
}

// Publish sends env on channel.
func (b *RedisBus) Publish(ctx context.Context, channel string, env Envelope) error {
	payload, err := env.Encode()
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe starts delivering channel messages to handler. It returns once
// the server has confirmed the subscription.
func (b *RedisBus) Subscribe(channel string, handler Handler) (func(), error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.mu.Unlock()

	ctx := context.Background()
	ps := b.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	b.mu.Lock()
	b.subs[ps] = struct{}{}
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for msg := range ps.Channel() {
			env, err := DecodeEnvelope([]byte(msg.Payload))
			if err != nil {
				b.log.Warn().Err(err).Str("channel", msg.Channel).Msg("Dropping malformed event")
				continue
			}
			invoke(ctx, b.log, msg.Channel, handler, env)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ps)
			b.mu.Unlock()
			_ = ps.Close()
		})
	}, nil
}

// Close ends every subscription and waits for their delivery loops.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	b.closed = true
	subs := b.subs
	b.subs = make(map[*redis.PubSub]struct{})
	b.mu.Unlock()

	for ps := range subs {
		_ = ps.Close()
	}
	b.wg.Wait()
	return nil
}

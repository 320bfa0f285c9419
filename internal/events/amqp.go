package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
)

// AMQPBus routes envelopes through a direct exchange using the channel name
// as routing key. Each subscription owns an exclusive auto-delete queue, so
// every instance receives every message.
type AMQPBus struct {
	conn     *amqp.Connection
	exchange string
	log      zerolog.Logger

	pubMu sync.Mutex
	pubCh *amqp.Channel

	mu     sync.Mutex
	subs   map[*amqp.Channel]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewAMQPBus dials the broker and declares the exchange.
func NewAMQPBus(url, exchange string, log zerolog.Logger) (*AMQPBus, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to AMQP: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeDirect,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	return &AMQPBus{
		conn:     conn,
		exchange: exchange,
		pubCh:    ch,
		subs:     make(map[*amqp.Channel]struct{}),
		log:      log.With().Str("component", "amqp_bus").Logger(),
	}, nil
}

// publishing builds the transient message carrying env.
func publishing(env Envelope) (amqp.Publishing, error) {
	payload, err := env.Encode()
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.UnixMilli(env.TS),
		Body:        payload,
	}, nil
}

// Publish sends env with routing key channel. Messages are transient.
func (b *AMQPBus) Publish(ctx context.Context, channel string, env Envelope) error {
	msg, err := publishing(env)
	if err != nil {
		return err
	}

	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.pubCh.Publish(b.exchange, channel, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe declares a private queue bound to channel and consumes it.
func (b *AMQPBus) Subscribe(channel string, handler Handler) (func(), error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.mu.Unlock()

	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	queue, err := ch.QueueDeclare(
		"",    // name (empty for auto-generated)
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(queue.Name, channel, b.exchange, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to bind queue to %s: %w", channel, err)
	}

	msgs, err := ch.Consume(queue.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to consume %s: %w", channel, err)
	}

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	b.wg.Add(1)
	go b.consume(channel, msgs, handler)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			_ = ch.Close()
		})
	}, nil
}

// consume delivers msgs to handler until the delivery channel closes.
func (b *AMQPBus) consume(channel string, msgs <-chan amqp.Delivery, handler Handler) {
	defer b.wg.Done()
	ctx := context.Background()
	for msg := range msgs {
		env, err := DecodeEnvelope(msg.Body)
		if err != nil {
			b.log.Warn().Err(err).Str("channel", channel).Msg("Dropping malformed event")
			continue
		}
		invoke(ctx, b.log, channel, handler, env)
	}
}

// Close closes every subscription channel and the connection.
func (b *AMQPBus) Close() error {
	b.mu.Lock()
	b.closed = true
	subs := b.subs
	b.subs = make(map[*amqp.Channel]struct{})
	b.mu.Unlock()

	for ch := range subs {
		_ = ch.Close()
	}
	b.wg.Wait()

	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	_ = b.pubCh.Close()
	return b.conn.Close()
}

package events

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// ErrClosed is returned when publishing or subscribing on a closed bus.
var ErrClosed = errors.New("bus closed")

// Handler receives one delivered envelope.
type Handler func(ctx context.Context, env Envelope)

// Bus is a pub/sub transport.
type Bus interface {
	Publish(ctx context.Context, channel string, env Envelope) error
	Subscribe(channel string, handler Handler) (unsubscribe func(), err error)
	Close() error
}

// invoke runs handler, recovering and logging a panic.
func invoke(ctx context.Context, log zerolog.Logger, channel string, handler Handler, env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("channel", channel).
				Interface("panic", r).
				Msg("Event handler panicked")
		}
	}()
	handler(ctx, env)
}

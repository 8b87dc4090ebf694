package ports

import (
	"context"

	"signaltrader/internal/domain"
)

// MessageHandler receives raw message records from a source. Delivery order
// within one channel must be preserved by the caller.
type MessageHandler func(msg domain.Message)

// MessageSource is an external channel delivering candidate-signal text
// (Telegram, Discord, a replay file, ...).
type MessageSource interface {
	// Name returns the provider identifier, e.g. "telegram".
	Name() string
	// Start begins delivering messages to handler until Stop or ctx cancel.
	Start(ctx context.Context, handler MessageHandler) error
	// Stop stops delivery and releases resources.
	Stop(ctx context.Context) error
}

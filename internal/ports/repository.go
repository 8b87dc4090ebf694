package ports

import (
	"context"

	"signaltrader/internal/domain"
)

// SignalRepository stores parsed signals. Signals are append-only: rows are
// created once and transitioned, never deleted.
type SignalRepository interface {
	// CreateSignal saves a new signal and returns its assigned id.
	CreateSignal(ctx context.Context, sig *domain.Signal) (int64, error)
	// UpdateSignal persists mutated fields of an existing signal and records
	// the status in the audit history.
	UpdateSignal(ctx context.Context, sig *domain.Signal) error
	// FindSignalByID returns nil, nil when the id is unknown.
	FindSignalByID(ctx context.Context, id int64) (*domain.Signal, error)
	// FindSignalByMessage resolves the signal bound to a source message.
	// Returns nil, nil when no signal is bound.
	FindSignalByMessage(ctx context.Context, ref domain.MessageRef) (*domain.Signal, error)
	// FindActiveSignals returns signals in Pending/Open/PartiallyClosed state.
	FindActiveSignals(ctx context.Context) ([]*domain.Signal, error)
	// SignalHistory returns the most recent signals up to limit, newest first.
	SignalHistory(ctx context.Context, limit int) ([]*domain.Signal, error)
}

// TicketRepository stores venue tickets owned by signals.
type TicketRepository interface {
	CreateTicket(ctx context.Context, t *domain.Ticket) (int64, error)
	UpdateTicket(ctx context.Context, t *domain.Ticket) error
	// FindTicketByID returns nil, nil when the row id is unknown.
	FindTicketByID(ctx context.Context, id int64) (*domain.Ticket, error)
	// FindOpenTicketsBySignal returns the signal's not-yet-closed tickets.
	FindOpenTicketsBySignal(ctx context.Context, signalID int64) ([]*domain.Ticket, error)
	// FindAllOpenTickets returns every not-yet-closed ticket across signals.
	FindAllOpenTickets(ctx context.Context) ([]*domain.Ticket, error)
}

// MessageLedger records which source messages have been applied, keyed by
// (channel id, message id, event). Reprocessing a recorded key is a no-op.
type MessageLedger interface {
	// Seen reports whether the key was already recorded.
	Seen(ctx context.Context, ref domain.MessageRef, event string) (bool, error)
	// Record durably marks the key as applied.
	Record(ctx context.Context, ref domain.MessageRef, event string) error
}

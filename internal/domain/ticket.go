package domain

import "time"

// Ticket is a broker-side order or position bound to exactly one signal.
// A signal owns one ticket per entry leg; partial closes reduce Volume and
// full closure marks the ticket closed while keeping the row for audit.
type Ticket struct {
	ID         int64 // repository id
	TicketID   int64 // venue-assigned ticket / position id
	SignalID   int64
	Symbol     string
	Kind       TicketKind
	Volume     float64
	OpenPrice  float64
	StopLoss   float64
	TakeProfit float64
	// SavedSteps counts profit-saving ladder thresholds already consumed,
	// so each threshold fires at most once per ticket.
	SavedSteps  int
	Closed      bool
	CloseReason CloseReason
	OpenedAt    time.Time
	ClosedAt    time.Time
}

// IsPendingOrder reports whether the ticket is a still-unfilled order.
func (t *Ticket) IsPendingOrder() bool {
	return !t.Closed && t.Kind == KindOrder
}

// Age returns how long the ticket has existed relative to now.
func (t *Ticket) Age(now time.Time) time.Duration {
	return now.Sub(t.OpenedAt)
}

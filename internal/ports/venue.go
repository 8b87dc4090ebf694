package ports

import (
	"context"
	"time"

	"signaltrader/internal/domain"
)

// OrderParams describes one order to be placed at the execution venue.
// A zero Price means market execution at the current quote.
type OrderParams struct {
	Symbol     string
	Direction  domain.Direction
	Volume     float64
	Price      float64
	StopLoss   float64
	TakeProfit float64
	ClientID   string // caller-assigned id for correlation
}

// VenueTicket is the venue's view of an order or position.
type VenueTicket struct {
	TicketID     int64
	Symbol       string
	Direction    domain.Direction
	Kind         domain.TicketKind
	Volume       float64
	OpenPrice    float64
	CurrentPrice float64
	StopLoss     float64
	TakeProfit   float64
	Profit       float64 // floating profit in account currency
	OpenedAt     time.Time
}

// AccountState is a snapshot of the trading account.
type AccountState struct {
	Balance    float64
	Equity     float64
	FreeMargin float64
}

// InstrumentInfo is the venue's metadata for one tradable symbol.
type InstrumentInfo struct {
	Symbol       string
	ContractSize float64
	MinVolume    float64
	VolumeStep   float64
	MarginPerLot float64 // margin required to hold one lot at current price
	Tradable     bool
}

// ExecutionVenue is the external system that fills and manages orders and
// positions. Implementations must treat a context timeout as a failed call,
// never as unknown-success. Per-ticket operations carry the instrument symbol
// alongside the ticket id: the caller holds it durably, so an adapter needs no
// in-memory ticket state to resolve tickets after a process restart.
type ExecutionVenue interface {
	// PlaceOrder places a single order and returns the venue ticket.
	PlaceOrder(ctx context.Context, params OrderParams) (*VenueTicket, error)

	// Modify replaces the stop-loss and/or take-profit on an open ticket.
	// A zero value leaves the corresponding level unchanged.
	Modify(ctx context.Context, symbol string, ticketID int64, stopLoss, takeProfit float64) error

	// ClosePartial closes the given volume of an open position.
	// Closing the full remaining volume closes the position.
	ClosePartial(ctx context.Context, symbol string, ticketID int64, volume float64) error

	// CancelOrder cancels a still-unfilled order.
	CancelOrder(ctx context.Context, symbol string, ticketID int64) error

	// GetTicket returns the current state of one ticket, or nil, nil when the
	// venue no longer knows it (filled order, closed position).
	GetTicket(ctx context.Context, symbol string, ticketID int64) (*VenueTicket, error)

	// ListOpenTickets returns all open orders and positions for the account.
	ListOpenTickets(ctx context.Context) ([]*VenueTicket, error)

	// AccountState returns balance, equity and free margin.
	AccountState(ctx context.Context) (*AccountState, error)

	// InstrumentInfo returns contract metadata for a symbol.
	InstrumentInfo(ctx context.Context, symbol string) (*InstrumentInfo, error)

	// TickerPrice returns the last traded price for a symbol.
	TickerPrice(ctx context.Context, symbol string) (float64, error)

	// Ping checks connectivity to the venue.
	Ping(ctx context.Context) error
}

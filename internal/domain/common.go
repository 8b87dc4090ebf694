package domain

// Direction represents the side of a trading instruction (BUY or SELL).
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

// Opposite returns the closing side for this direction.
func (d Direction) Opposite() Direction {
	if d == Buy {
		return Sell
	}
	return Buy
}

// SignalStatus represents the lifecycle state of a signal.
type SignalStatus string

const (
	StatusPending         SignalStatus = "pending"
	StatusOpen            SignalStatus = "open"
	StatusPartiallyClosed SignalStatus = "partially_closed"
	StatusClosed          SignalStatus = "closed"
	StatusCancelled       SignalStatus = "cancelled"
	StatusError           SignalStatus = "error"
)

// Active reports whether the status still has broker-side exposure or may get it.
func (s SignalStatus) Active() bool {
	switch s {
	case StatusPending, StatusOpen, StatusPartiallyClosed:
		return true
	}
	return false
}

// TicketKind distinguishes an unfilled order from a live position.
type TicketKind string

const (
	KindOrder    TicketKind = "order"
	KindPosition TicketKind = "position"
)

// CommandKind identifies an instruction extracted from a reply message
// or issued by the operator console.
type CommandKind string

const (
	CmdEdit          CommandKind = "edit"
	CmdDelete        CommandKind = "delete"
	CmdRiskFree      CommandKind = "risk_free"
	CmdHalfClose     CommandKind = "half_close"
	CmdTakeProfitNow CommandKind = "take_profit_now"
)

// CloseReason indicates why exposure was reduced or removed.
type CloseReason string

const (
	CloseReasonStopLoss   CloseReason = "SL"
	CloseReasonTakeProfit CloseReason = "TP"
	CloseReasonCommand    CloseReason = "COMMAND"
	CloseReasonProfitSave CloseReason = "PROFIT_SAVE"
	CloseReasonExpired    CloseReason = "EXPIRED"
	CloseReasonExternal   CloseReason = "EXTERNAL"
)

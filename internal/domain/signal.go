package domain

import (
	"fmt"
	"time"
)

// MessageRef identifies the source message a signal or command came from.
// The pair is also the idempotency key for ingestion.
type MessageRef struct {
	ChannelID int64
	MessageID int64
}

func (m MessageRef) String() string {
	return fmt.Sprintf("%d/%d", m.ChannelID, m.MessageID)
}

// Signal is a parsed trading instruction. It is created once by the parser
// and afterwards mutated only by the lifecycle engine; terminal signals are
// never deleted, only transitioned to Cancelled or Closed.
type Signal struct {
	ID          int64
	Symbol      string
	Direction   Direction
	Entry       float64
	SecondEntry float64 // non-zero only in dual-entry mode
	StopLoss    float64
	TakeProfits []float64
	Source      MessageRef
	Status      SignalStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DualEntry reports whether the signal carries a second entry leg.
func (s *Signal) DualEntry() bool {
	return s.SecondEntry != 0
}

// Validate enforces the direction-consistent price ordering:
// Buy:  SL < entry <= TP1 < TP2 < ...
// Sell: SL > entry >= TP1 > TP2 > ...
// Dual-entry signals must keep both legs on the correct side of the stop.
func (s *Signal) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("signal has no symbol")
	}
	if s.Direction != Buy && s.Direction != Sell {
		return fmt.Errorf("signal has invalid direction %q", s.Direction)
	}
	if s.Entry <= 0 {
		return fmt.Errorf("signal has no entry price")
	}
	if s.StopLoss <= 0 {
		return fmt.Errorf("signal has no stop loss")
	}
	entries := []float64{s.Entry}
	if s.DualEntry() {
		entries = append(entries, s.SecondEntry)
	}
	for _, entry := range entries {
		if s.Direction == Buy && s.StopLoss >= entry {
			return fmt.Errorf("buy stop loss %v is not below entry %v", s.StopLoss, entry)
		}
		if s.Direction == Sell && s.StopLoss <= entry {
			return fmt.Errorf("sell stop loss %v is not above entry %v", s.StopLoss, entry)
		}
	}
	prev := s.Entry
	for i, tp := range s.TakeProfits {
		if s.Direction == Buy {
			if i == 0 && tp < prev {
				return fmt.Errorf("buy take profit %v is below entry %v", tp, prev)
			}
			if i > 0 && tp <= prev {
				return fmt.Errorf("buy take profits are not strictly increasing at %v", tp)
			}
		} else {
			if i == 0 && tp > prev {
				return fmt.Errorf("sell take profit %v is above entry %v", tp, prev)
			}
			if i > 0 && tp >= prev {
				return fmt.Errorf("sell take profits are not strictly decreasing at %v", tp)
			}
		}
		prev = tp
	}
	return nil
}

// ValidateLevels checks replacement SL/TP values from an edit command
// against the same ordering invariant as initial creation. Zero values
// mean "keep current" and are substituted before checking.
func (s *Signal) ValidateLevels(stopLoss float64, takeProfits []float64) error {
	candidate := *s
	if stopLoss != 0 {
		candidate.StopLoss = stopLoss
	}
	if len(takeProfits) != 0 {
		candidate.TakeProfits = takeProfits
	}
	return candidate.Validate()
}

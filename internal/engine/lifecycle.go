package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"signaltrader/internal/domain"
	"signaltrader/internal/ports"
)

// openSignal drives Pending -> Open: persist the signal first so no accepted
// message is lost, then size and place one order per entry leg. Sizing
// rejection or exhausted venue retries leave the signal in Error for operator
// attention, never silently dropped.
func (e *Engine) openSignal(ctx context.Context, sig *domain.Signal) error {
	id, err := e.signals.CreateSignal(ctx, sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ports.ErrStoreUnavailable, err)
	}
	sig.ID = id

	lock := e.locks.forSignal(sig.ID)
	lock.Lock()
	defer lock.Unlock()

	var acct *ports.AccountState
	var info *ports.InstrumentInfo
	var price float64
	err = e.callVenue(ctx, "accountState", func(ctx context.Context) error {
		var err error
		acct, err = e.venue.AccountState(ctx)
		return err
	})
	if err == nil {
		err = e.callVenue(ctx, "instrumentInfo", func(ctx context.Context) error {
			var err error
			info, err = e.venue.InstrumentInfo(ctx, sig.Symbol)
			return err
		})
	}
	if err == nil {
		err = e.callVenue(ctx, "tickerPrice", func(ctx context.Context) error {
			var err error
			price, err = e.venue.TickerPrice(ctx, sig.Symbol)
			return err
		})
	}
	if err != nil {
		return e.failSignal(ctx, sig, err)
	}

	orders, err := e.sizer.Size(sig, acct, info, price)
	if err != nil {
		e.logger.Error(ctx, err, "sizing rejected", fieldsForSignal(sig))
		return e.failSignal(ctx, sig, err)
	}

	var placeErrs []error
	placed := 0
	filled := false
	for i := range orders {
		params := orders[i]
		params.ClientID = uuid.NewString()
		// The first leg executes at market when the entry is within
		// CloserPrice of the quote; everything else rests as a limit order.
		if i == 0 && (e.cfg.CloserPrice <= 0 || abs(params.Price-price) <= e.cfg.CloserPrice) {
			params.Price = 0
		}

		var vt *ports.VenueTicket
		err := e.callVenue(ctx, "placeOrder", func(ctx context.Context) error {
			var err error
			vt, err = e.venue.PlaceOrder(ctx, params)
			return err
		})
		if err != nil {
			placeErrs = append(placeErrs, err)
			continue
		}
		ticket := &domain.Ticket{
			TicketID:   vt.TicketID,
			SignalID:   sig.ID,
			Symbol:     sig.Symbol,
			Kind:       vt.Kind,
			Volume:     vt.Volume,
			OpenPrice:  vt.OpenPrice,
			StopLoss:   params.StopLoss,
			TakeProfit: params.TakeProfit,
			OpenedAt:   e.now().UTC(),
		}
		if _, err := e.tickets.CreateTicket(ctx, ticket); err != nil {
			return fmt.Errorf("%w: %v", ports.ErrStoreUnavailable, err)
		}
		placed++
		if vt.Kind == domain.KindPosition {
			filled = true
		}
		e.logger.Info(ctx, "ticket placed", map[string]interface{}{
			"signalID": sig.ID, "ticketID": vt.TicketID, "kind": vt.Kind, "volume": vt.Volume,
		})
	}

	if placed == 0 {
		return e.failSignal(ctx, sig, fmt.Errorf("all legs failed: %s", joinReasons(placeErrs)))
	}
	if len(placeErrs) > 0 {
		// Partial placement still opens the signal; the missing leg is logged
		// and the operator can resize manually.
		e.logger.Error(ctx, placeErrs[0], "signal opened with missing leg", fieldsForSignal(sig))
	}
	// A signal whose only legs rest as limit orders stays Pending until the
	// monitor observes a fill.
	if filled {
		sig.Status = domain.StatusOpen
	}
	return e.persist(ctx, sig)
}

// Apply is the single command path shared by reply classification and the
// operator console. Commands for a signal apply strictly in submission order
// under the per-signal lock; a command its target state does not support is a
// logged no-op, not an error.
func (e *Engine) Apply(ctx context.Context, cmd domain.Command) error {
	lock := e.locks.forSignal(cmd.SignalID)
	lock.Lock()
	defer lock.Unlock()

	sig, err := e.signals.FindSignalByID(ctx, cmd.SignalID)
	if err != nil {
		return fmt.Errorf("%w: %v", ports.ErrStoreUnavailable, err)
	}
	if sig == nil {
		e.logger.Warn(ctx, "command for unknown signal", map[string]interface{}{"signalID": cmd.SignalID, "kind": cmd.Kind})
		return nil
	}
	if !sig.Status.Active() {
		e.logger.Info(ctx, "command ignored in terminal state", map[string]interface{}{
			"signalID": sig.ID, "status": sig.Status, "kind": cmd.Kind,
		})
		return nil
	}

	e.logger.Info(ctx, "applying command", map[string]interface{}{"signalID": sig.ID, "kind": cmd.Kind})
	switch cmd.Kind {
	case domain.CmdDelete:
		return e.applyDelete(ctx, sig)
	case domain.CmdEdit:
		return e.applyEdit(ctx, sig, cmd)
	case domain.CmdRiskFree:
		return e.applyRiskFree(ctx, sig)
	case domain.CmdHalfClose:
		return e.applyHalfClose(ctx, sig)
	case domain.CmdTakeProfitNow:
		return e.applyTakeProfitNow(ctx, sig)
	}
	e.logger.Warn(ctx, "unknown command kind", map[string]interface{}{"kind": cmd.Kind})
	return nil
}

// applyDelete cancels orders and closes positions, then transitions to
// Cancelled when nothing ever filled or Closed otherwise.
func (e *Engine) applyDelete(ctx context.Context, sig *domain.Signal) error {
	open, err := e.tickets.FindOpenTicketsBySignal(ctx, sig.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ports.ErrStoreUnavailable, err)
	}
	hadPosition := false
	for _, t := range open {
		if t.Kind == domain.KindPosition {
			hadPosition = true
		}
		if err := e.closeTicketAtVenue(ctx, t, t.Volume, domain.CloseReasonCommand); err != nil {
			return e.failSignal(ctx, sig, err)
		}
	}
	if sig.Status == domain.StatusPending || !hadPosition {
		sig.Status = domain.StatusCancelled
	} else {
		sig.Status = domain.StatusClosed
	}
	return e.persist(ctx, sig)
}

// applyEdit validates the replacement levels against the creation invariant,
// persists them and pushes a modify to every open ticket.
func (e *Engine) applyEdit(ctx context.Context, sig *domain.Signal, cmd domain.Command) error {
	if err := sig.ValidateLevels(cmd.StopLoss, cmd.TakeProfits); err != nil {
		e.logger.Warn(ctx, "edit rejected by price invariant", map[string]interface{}{
			"signalID": sig.ID, "sl": cmd.StopLoss, "tps": cmd.TakeProfits, "reason": err.Error(),
		})
		return nil
	}
	if cmd.StopLoss != 0 {
		sig.StopLoss = cmd.StopLoss
	}
	if len(cmd.TakeProfits) != 0 {
		sig.TakeProfits = cmd.TakeProfits
	}

	open, err := e.tickets.FindOpenTicketsBySignal(ctx, sig.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ports.ErrStoreUnavailable, err)
	}
	lastTP := 0.0
	if len(sig.TakeProfits) > 0 {
		lastTP = sig.TakeProfits[len(sig.TakeProfits)-1]
	}
	for _, t := range open {
		err := e.callVenue(ctx, "modify", func(ctx context.Context) error {
			return e.venue.Modify(ctx, t.Symbol, t.TicketID, sig.StopLoss, lastTP)
		})
		if err != nil {
			return e.failSignal(ctx, sig, err)
		}
		t.StopLoss = sig.StopLoss
		t.TakeProfit = lastTP
		if err := e.tickets.UpdateTicket(ctx, t); err != nil {
			return fmt.Errorf("%w: %v", ports.ErrStoreUnavailable, err)
		}
	}
	return e.persist(ctx, sig)
}

// applyRiskFree moves every filled ticket's stop to its own open price.
// The signal-level levels are untouched; risk-free is a ticket adjustment.
func (e *Engine) applyRiskFree(ctx context.Context, sig *domain.Signal) error {
	open, err := e.tickets.FindOpenTicketsBySignal(ctx, sig.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ports.ErrStoreUnavailable, err)
	}
	moved := 0
	for _, t := range open {
		if t.Kind != domain.KindPosition {
			continue
		}
		err := e.callVenue(ctx, "modify", func(ctx context.Context) error {
			return e.venue.Modify(ctx, t.Symbol, t.TicketID, t.OpenPrice, 0)
		})
		if err != nil {
			return e.failSignal(ctx, sig, err)
		}
		t.StopLoss = t.OpenPrice
		if err := e.tickets.UpdateTicket(ctx, t); err != nil {
			return fmt.Errorf("%w: %v", ports.ErrStoreUnavailable, err)
		}
		moved++
	}
	e.logger.Info(ctx, "risk-free applied", map[string]interface{}{"signalID": sig.ID, "tickets": moved})
	return e.persist(ctx, sig)
}

// applyHalfClose halves the volume of every filled ticket.
func (e *Engine) applyHalfClose(ctx context.Context, sig *domain.Signal) error {
	open, err := e.tickets.FindOpenTicketsBySignal(ctx, sig.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ports.ErrStoreUnavailable, err)
	}
	reduced := 0
	for _, t := range open {
		if t.Kind != domain.KindPosition {
			continue
		}
		half := t.Volume / 2
		err := e.callVenue(ctx, "closePartial", func(ctx context.Context) error {
			return e.venue.ClosePartial(ctx, t.Symbol, t.TicketID, half)
		})
		if err != nil {
			return e.failSignal(ctx, sig, err)
		}
		t.Volume -= half
		if err := e.tickets.UpdateTicket(ctx, t); err != nil {
			return fmt.Errorf("%w: %v", ports.ErrStoreUnavailable, err)
		}
		reduced++
	}
	if reduced > 0 {
		sig.Status = domain.StatusPartiallyClosed
	}
	return e.persist(ctx, sig)
}

// applyTakeProfitNow closes out a signal whose tickets never became live
// trades; with live positions present it is a logged no-op and the sender
// should use half-close or delete instead.
func (e *Engine) applyTakeProfitNow(ctx context.Context, sig *domain.Signal) error {
	open, err := e.tickets.FindOpenTicketsBySignal(ctx, sig.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ports.ErrStoreUnavailable, err)
	}
	for _, t := range open {
		var live *ports.VenueTicket
		err := e.callVenue(ctx, "getTicket", func(ctx context.Context) error {
			var err error
			live, err = e.venue.GetTicket(ctx, t.Symbol, t.TicketID)
			return err
		})
		if err != nil && !errors.Is(err, ports.ErrPositionNotFound) && !errors.Is(err, ports.ErrOrderNotFound) {
			return e.failSignal(ctx, sig, err)
		}
		if live != nil && live.Kind == domain.KindPosition {
			e.logger.Warn(ctx, "take-profit command skipped: live position present", map[string]interface{}{
				"signalID": sig.ID, "ticketID": t.TicketID,
			})
			return nil
		}
	}
	return e.applyDelete(ctx, sig)
}

// closeTicketAtVenue cancels an order or closes (part of) a position and
// persists the ticket's terminal state.
func (e *Engine) closeTicketAtVenue(ctx context.Context, t *domain.Ticket, volume float64, reason domain.CloseReason) error {
	var err error
	if t.Kind == domain.KindOrder {
		err = e.callVenue(ctx, "cancelOrder", func(ctx context.Context) error {
			return e.venue.CancelOrder(ctx, t.Symbol, t.TicketID)
		})
	} else {
		err = e.callVenue(ctx, "closePartial", func(ctx context.Context) error {
			return e.venue.ClosePartial(ctx, t.Symbol, t.TicketID, volume)
		})
	}
	if err != nil {
		// Already-gone tickets are fine: the venue beat us to it.
		if !errors.Is(err, ports.ErrOrderNotFound) && !errors.Is(err, ports.ErrPositionNotFound) {
			return err
		}
		e.logger.Warn(ctx, "ticket already gone at venue", map[string]interface{}{"ticketID": t.TicketID})
	}
	t.Volume -= volume
	if t.Volume <= 0 {
		t.Volume = 0
		t.Closed = true
		t.CloseReason = reason
		t.ClosedAt = e.now().UTC()
	}
	if err := e.tickets.UpdateTicket(ctx, t); err != nil {
		return fmt.Errorf("%w: %v", ports.ErrStoreUnavailable, err)
	}
	return nil
}

// failSignal records the Error state; store failures while recording win over
// the original error because they halt ingestion.
func (e *Engine) failSignal(ctx context.Context, sig *domain.Signal, cause error) error {
	e.logger.Error(ctx, cause, "signal moved to error state", fieldsForSignal(sig))
	sig.Status = domain.StatusError
	if err := e.persist(ctx, sig); err != nil {
		return err
	}
	return nil
}

func (e *Engine) persist(ctx context.Context, sig *domain.Signal) error {
	sig.UpdatedAt = e.now().UTC()
	if err := e.signals.UpdateSignal(ctx, sig); err != nil {
		return fmt.Errorf("%w: %v", ports.ErrStoreUnavailable, err)
	}
	return nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

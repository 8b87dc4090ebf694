package engine

import (
	"context"
	"fmt"

	"signaltrader/internal/domain"
	"signaltrader/internal/ports"
)

// Ticket mutations driven by the position monitor. Each takes the per-signal
// lock so monitor decisions never interleave with command application.

// syncTicket refreshes a caller-held snapshot from the store. The monitor
// reads tickets before the signal lock is taken; a command committed in
// between must win, so every decision below starts from stored state.
// Caller holds the signal lock. Returns false when the ticket is unknown.
func (e *Engine) syncTicket(ctx context.Context, t *domain.Ticket) (bool, error) {
	cur, err := e.tickets.FindTicketByID(ctx, t.ID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ports.ErrStoreUnavailable, err)
	}
	if cur == nil {
		return false, nil
	}
	*t = *cur
	return true, nil
}

// AdjustTicketStop moves a ticket's stop-loss. The move only goes through when
// it improves the stop in the trade's favor, so a stale quote can never walk a
// trailed stop backwards.
func (e *Engine) AdjustTicketStop(ctx context.Context, t *domain.Ticket, dir domain.Direction, newStop float64) error {
	lock := e.locks.forSignal(t.SignalID)
	lock.Lock()
	defer lock.Unlock()

	if ok, err := e.syncTicket(ctx, t); err != nil || !ok {
		return err
	}
	if t.Closed {
		return nil
	}

	improved := t.StopLoss == 0 ||
		(dir == domain.Buy && newStop > t.StopLoss) ||
		(dir == domain.Sell && newStop < t.StopLoss)
	if !improved {
		return nil
	}

	err := e.callVenue(ctx, "modify", func(ctx context.Context) error {
		return e.venue.Modify(ctx, t.Symbol, t.TicketID, newStop, 0)
	})
	if err != nil {
		return err
	}
	prev := t.StopLoss
	t.StopLoss = newStop
	if err := e.tickets.UpdateTicket(ctx, t); err != nil {
		return fmt.Errorf("%w: %v", ports.ErrStoreUnavailable, err)
	}
	e.logger.Info(ctx, "trailing stop moved", map[string]interface{}{
		"ticketID": t.TicketID, "from": prev, "to": newStop,
	})
	return nil
}

// SaveTicketProfit closes a fraction of the ticket's remaining volume for the
// given ladder step. The step is recorded on the ticket so it fires once.
func (e *Engine) SaveTicketProfit(ctx context.Context, t *domain.Ticket, step int, fraction float64) error {
	lock := e.locks.forSignal(t.SignalID)
	lock.Lock()
	defer lock.Unlock()

	if ok, err := e.syncTicket(ctx, t); err != nil || !ok {
		return err
	}
	if step < t.SavedSteps || t.Closed {
		return nil
	}
	closeVol := t.Volume * fraction
	err := e.callVenue(ctx, "closePartial", func(ctx context.Context) error {
		return e.venue.ClosePartial(ctx, t.Symbol, t.TicketID, closeVol)
	})
	if err != nil {
		return err
	}
	t.Volume -= closeVol
	t.SavedSteps = step + 1
	if t.Volume <= 0 {
		t.Volume = 0
		t.Closed = true
		t.CloseReason = domain.CloseReasonProfitSave
		t.ClosedAt = e.now().UTC()
	}
	if err := e.tickets.UpdateTicket(ctx, t); err != nil {
		return fmt.Errorf("%w: %v", ports.ErrStoreUnavailable, err)
	}
	e.logger.Info(ctx, "profit saved", map[string]interface{}{
		"ticketID": t.TicketID, "step": step, "closedVolume": closeVol, "remaining": t.Volume,
	})
	if !t.Closed {
		sig, err := e.signals.FindSignalByID(ctx, t.SignalID)
		if err != nil {
			return fmt.Errorf("%w: %v", ports.ErrStoreUnavailable, err)
		}
		if sig != nil && sig.Status == domain.StatusOpen {
			sig.Status = domain.StatusPartiallyClosed
			return e.persist(ctx, sig)
		}
		return nil
	}
	return e.refreshSignalStatus(ctx, t.SignalID)
}

// ExpireTicket cancels a pending order that outlived the configured expiry.
func (e *Engine) ExpireTicket(ctx context.Context, t *domain.Ticket) error {
	lock := e.locks.forSignal(t.SignalID)
	lock.Lock()
	defer lock.Unlock()

	if ok, err := e.syncTicket(ctx, t); err != nil || !ok {
		return err
	}
	if t.Closed || t.Kind != domain.KindOrder {
		return nil
	}
	if err := e.closeTicketAtVenue(ctx, t, t.Volume, domain.CloseReasonExpired); err != nil {
		return err
	}
	e.logger.Info(ctx, "pending order expired", map[string]interface{}{
		"ticketID": t.TicketID, "signalID": t.SignalID,
	})
	return e.refreshSignalStatus(ctx, t.SignalID)
}

// MarkTicketFilled upgrades a pending-order ticket to a position after the
// venue reports the fill.
func (e *Engine) MarkTicketFilled(ctx context.Context, t *domain.Ticket, openPrice float64) error {
	lock := e.locks.forSignal(t.SignalID)
	lock.Lock()
	defer lock.Unlock()

	if ok, err := e.syncTicket(ctx, t); err != nil || !ok {
		return err
	}
	if t.Closed || t.Kind == domain.KindPosition {
		return nil
	}
	t.Kind = domain.KindPosition
	if openPrice > 0 {
		t.OpenPrice = openPrice
	}
	if err := e.tickets.UpdateTicket(ctx, t); err != nil {
		return fmt.Errorf("%w: %v", ports.ErrStoreUnavailable, err)
	}
	e.logger.Info(ctx, "pending order filled", map[string]interface{}{
		"ticketID": t.TicketID, "signalID": t.SignalID, "openPrice": t.OpenPrice,
	})
	sig, err := e.signals.FindSignalByID(ctx, t.SignalID)
	if err != nil {
		return fmt.Errorf("%w: %v", ports.ErrStoreUnavailable, err)
	}
	if sig != nil && sig.Status == domain.StatusPending {
		sig.Status = domain.StatusOpen
		return e.persist(ctx, sig)
	}
	return nil
}

// MarkTicketClosed reconciles a ticket the venue no longer knows about, such
// as a stop-loss hit or a close made outside this process.
func (e *Engine) MarkTicketClosed(ctx context.Context, t *domain.Ticket, reason domain.CloseReason) error {
	lock := e.locks.forSignal(t.SignalID)
	lock.Lock()
	defer lock.Unlock()

	if ok, err := e.syncTicket(ctx, t); err != nil || !ok {
		return err
	}
	if t.Closed {
		return nil
	}
	t.Volume = 0
	t.Closed = true
	t.CloseReason = reason
	t.ClosedAt = e.now().UTC()
	if err := e.tickets.UpdateTicket(ctx, t); err != nil {
		return fmt.Errorf("%w: %v", ports.ErrStoreUnavailable, err)
	}
	e.logger.Info(ctx, "ticket closed externally", map[string]interface{}{
		"ticketID": t.TicketID, "signalID": t.SignalID, "reason": reason,
	})
	return e.refreshSignalStatus(ctx, t.SignalID)
}

// refreshSignalStatus derives the signal state from its remaining tickets.
// Caller must hold the signal lock.
func (e *Engine) refreshSignalStatus(ctx context.Context, signalID int64) error {
	sig, err := e.signals.FindSignalByID(ctx, signalID)
	if err != nil {
		return fmt.Errorf("%w: %v", ports.ErrStoreUnavailable, err)
	}
	if sig == nil || !sig.Status.Active() {
		return nil
	}
	open, err := e.tickets.FindOpenTicketsBySignal(ctx, signalID)
	if err != nil {
		return fmt.Errorf("%w: %v", ports.ErrStoreUnavailable, err)
	}
	if len(open) > 0 {
		return nil
	}
	if sig.Status == domain.StatusPending {
		sig.Status = domain.StatusCancelled
	} else {
		sig.Status = domain.StatusClosed
	}
	return e.persist(ctx, sig)
}

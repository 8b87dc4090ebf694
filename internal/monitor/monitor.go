package monitor

import (
	"context"
	"time"

	"signaltrader/config"
	"signaltrader/internal/domain"
	"signaltrader/internal/ports"
)

// lifecycle is the slice of the engine the monitor drives. Every method
// serializes on the engine's per-signal lock, so a sweep can never interleave
// with a reply command on the same signal.
type lifecycle interface {
	ListOpenTickets(ctx context.Context) ([]*domain.Ticket, error)
	AdjustTicketStop(ctx context.Context, t *domain.Ticket, dir domain.Direction, newStop float64) error
	SaveTicketProfit(ctx context.Context, t *domain.Ticket, step int, fraction float64) error
	ExpireTicket(ctx context.Context, t *domain.Ticket) error
	MarkTicketFilled(ctx context.Context, t *domain.Ticket, openPrice float64) error
	MarkTicketClosed(ctx context.Context, t *domain.Ticket, reason domain.CloseReason) error
}

// Monitor periodically reconciles stored tickets against the venue and applies
// the trailing-stop and profit-saving policies. It owns no state of its own;
// every decision reads the venue and writes through the engine.
type Monitor struct {
	cfg    *config.Config
	logger ports.Logger
	venue  ports.ExecutionVenue
	engine lifecycle
	now    func() time.Time
}

// New creates a position monitor.
func New(cfg *config.Config, logger ports.Logger, venue ports.ExecutionVenue, engine lifecycle) *Monitor {
	return &Monitor{
		cfg:    cfg,
		logger: logger,
		venue:  venue,
		engine: engine,
		now:    time.Now,
	}
}

// Start runs the sweep loop until the context is cancelled. One sweep failure
// never stops the loop; the next tick retries from stored state.
func (m *Monitor) Start(ctx context.Context) {
	m.logger.Info(ctx, "position monitor started", map[string]interface{}{
		"interval": m.cfg.MonitorInterval.String(),
	})
	ticker := time.NewTicker(m.cfg.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.Info(ctx, "position monitor stopped", nil)
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep runs one reconciliation pass over all open tickets.
func (m *Monitor) Sweep(ctx context.Context) {
	tickets, err := m.engine.ListOpenTickets(ctx)
	if err != nil {
		m.logger.Error(ctx, err, "sweep skipped: cannot list open tickets", nil)
		return
	}
	for _, t := range tickets {
		if err := m.checkTicket(ctx, t); err != nil {
			m.logger.Error(ctx, err, "ticket check failed", map[string]interface{}{
				"ticketID": t.TicketID, "signalID": t.SignalID,
			})
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (m *Monitor) checkTicket(ctx context.Context, t *domain.Ticket) error {
	if t.IsPendingOrder() && m.cfg.PendingExpiry > 0 && t.Age(m.now()) > m.cfg.PendingExpiry {
		return m.engine.ExpireTicket(ctx, t)
	}

	callCtx, cancel := m.venueContext(ctx)
	vt, err := m.venue.GetTicket(callCtx, t.Symbol, t.TicketID)
	cancel()
	if err != nil {
		return err
	}
	if vt == nil {
		return m.engine.MarkTicketClosed(ctx, t, m.inferCloseReason(ctx, t))
	}

	if t.Kind == domain.KindOrder && vt.Kind == domain.KindPosition {
		if err := m.engine.MarkTicketFilled(ctx, t, vt.OpenPrice); err != nil {
			return err
		}
	}
	if vt.Kind != domain.KindPosition {
		return nil
	}

	if err := m.trail(ctx, t, vt); err != nil {
		return err
	}
	return m.saveProfits(ctx, t, vt)
}

// trail moves the stop behind the price once profit reaches the trigger
// distance. The engine rejects any move that does not improve the stop.
func (m *Monitor) trail(ctx context.Context, t *domain.Ticket, vt *ports.VenueTicket) error {
	if !m.cfg.TrailEnabled || m.cfg.TrailTrigger <= 0 {
		return nil
	}
	if profitDistance(vt) < m.cfg.TrailTrigger {
		return nil
	}
	var desired float64
	if vt.Direction == domain.Buy {
		desired = vt.CurrentPrice - m.cfg.TrailStep
	} else {
		desired = vt.CurrentPrice + m.cfg.TrailStep
	}
	return m.engine.AdjustTicketStop(ctx, t, vt.Direction, desired)
}

// saveProfits fires every ladder step whose threshold the current gain has
// crossed and that has not fired before on this ticket.
func (m *Monitor) saveProfits(ctx context.Context, t *domain.Ticket, vt *ports.VenueTicket) error {
	if len(m.cfg.SaveProfitThresholds) == 0 || vt.OpenPrice <= 0 {
		return nil
	}
	gainPct := profitDistance(vt) / vt.OpenPrice * 100
	for step := t.SavedSteps; step < len(m.cfg.SaveProfitThresholds); step++ {
		if gainPct < m.cfg.SaveProfitThresholds[step] {
			return nil
		}
		if err := m.engine.SaveTicketProfit(ctx, t, step, m.cfg.SaveProfitFractions[step]); err != nil {
			return err
		}
		if t.Closed {
			return nil
		}
	}
	return nil
}

// inferCloseReason classifies a venue-side close by comparing the last quote
// with the ticket's stored levels. Anything ambiguous is reported as external.
func (m *Monitor) inferCloseReason(ctx context.Context, t *domain.Ticket) domain.CloseReason {
	if t.Kind == domain.KindOrder {
		return domain.CloseReasonExternal
	}
	callCtx, cancel := m.venueContext(ctx)
	price, err := m.venue.TickerPrice(callCtx, t.Symbol)
	cancel()
	if err != nil || price <= 0 {
		return domain.CloseReasonExternal
	}
	const tolerance = 0.002 // 0.2% of price
	near := func(level float64) bool {
		return level > 0 && abs(price-level)/price <= tolerance
	}
	switch {
	case near(t.StopLoss):
		return domain.CloseReasonStopLoss
	case near(t.TakeProfit):
		return domain.CloseReasonTakeProfit
	}
	return domain.CloseReasonExternal
}

// venueContext bounds one venue call so a hung request can never stall the
// sweep loop.
func (m *Monitor) venueContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.cfg.VenueTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.cfg.VenueTimeout)
}

func profitDistance(vt *ports.VenueTicket) float64 {
	if vt.Direction == domain.Buy {
		return vt.CurrentPrice - vt.OpenPrice
	}
	return vt.OpenPrice - vt.CurrentPrice
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

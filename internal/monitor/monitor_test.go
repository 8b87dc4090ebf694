package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signaltrader/config"
	"signaltrader/internal/domain"
	"signaltrader/internal/ports"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// fakeEngine records the decisions the monitor feeds back.
type fakeEngine struct {
	tickets     []*domain.Ticket
	stops       []float64
	savedSteps  []int
	expired     []int64
	filled      []int64
	closed      []int64
	closeReason domain.CloseReason
}

func (f *fakeEngine) ListOpenTickets(ctx context.Context) ([]*domain.Ticket, error) {
	return f.tickets, nil
}

func (f *fakeEngine) AdjustTicketStop(ctx context.Context, t *domain.Ticket, dir domain.Direction, newStop float64) error {
	f.stops = append(f.stops, newStop)
	return nil
}

func (f *fakeEngine) SaveTicketProfit(ctx context.Context, t *domain.Ticket, step int, fraction float64) error {
	f.savedSteps = append(f.savedSteps, step)
	t.SavedSteps = step + 1
	return nil
}

func (f *fakeEngine) ExpireTicket(ctx context.Context, t *domain.Ticket) error {
	f.expired = append(f.expired, t.TicketID)
	return nil
}

func (f *fakeEngine) MarkTicketFilled(ctx context.Context, t *domain.Ticket, openPrice float64) error {
	f.filled = append(f.filled, t.TicketID)
	t.Kind = domain.KindPosition
	return nil
}

func (f *fakeEngine) MarkTicketClosed(ctx context.Context, t *domain.Ticket, reason domain.CloseReason) error {
	f.closed = append(f.closed, t.TicketID)
	f.closeReason = reason
	return nil
}

// stubVenue serves canned tickets and prices; mutation methods are unused by
// the monitor, which writes only through the engine.
type stubVenue struct {
	live       map[int64]*ports.VenueTicket
	price      float64
	hang       bool
	gotSymbols []string
}

func (v *stubVenue) PlaceOrder(ctx context.Context, params ports.OrderParams) (*ports.VenueTicket, error) {
	return nil, nil
}
func (v *stubVenue) Modify(ctx context.Context, symbol string, ticketID int64, sl, tp float64) error {
	return nil
}
func (v *stubVenue) ClosePartial(ctx context.Context, symbol string, ticketID int64, vol float64) error {
	return nil
}
func (v *stubVenue) CancelOrder(ctx context.Context, symbol string, ticketID int64) error {
	return nil
}
func (v *stubVenue) GetTicket(ctx context.Context, symbol string, ticketID int64) (*ports.VenueTicket, error) {
	v.gotSymbols = append(v.gotSymbols, symbol)
	if v.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	vt, ok := v.live[ticketID]
	if !ok {
		return nil, nil
	}
	c := *vt
	return &c, nil
}
func (v *stubVenue) ListOpenTickets(ctx context.Context) ([]*ports.VenueTicket, error) {
	return nil, nil
}
func (v *stubVenue) AccountState(ctx context.Context) (*ports.AccountState, error) { return nil, nil }
func (v *stubVenue) InstrumentInfo(ctx context.Context, symbol string) (*ports.InstrumentInfo, error) {
	return nil, nil
}
func (v *stubVenue) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	return v.price, nil
}
func (v *stubVenue) Ping(ctx context.Context) error { return nil }

func testConfig() *config.Config {
	return &config.Config{
		MonitorInterval: time.Second,
		VenueTimeout:    time.Second,
		TrailEnabled:    true,
		TrailTrigger:    5,
		TrailStep:       3,
	}
}

func position(id int64, vol float64) *domain.Ticket {
	return &domain.Ticket{
		ID: id, TicketID: id, SignalID: 1, Symbol: "XAUUSD",
		Kind: domain.KindPosition, Volume: vol, OpenPrice: 4000,
		StopLoss: 3980, TakeProfit: 4050, OpenedAt: time.Now().Add(-time.Hour),
	}
}

func liveTicket(t *domain.Ticket, current float64) *ports.VenueTicket {
	return &ports.VenueTicket{
		TicketID: t.TicketID, Symbol: t.Symbol, Direction: domain.Buy,
		Kind: t.Kind, Volume: t.Volume, OpenPrice: t.OpenPrice, CurrentPrice: current,
	}
}

func TestMonitor_TrailingStopMoves(t *testing.T) {
	ticket := position(1, 1)
	eng := &fakeEngine{tickets: []*domain.Ticket{ticket}}
	venue := &stubVenue{live: map[int64]*ports.VenueTicket{1: liveTicket(ticket, 4010)}}
	m := New(testConfig(), &mockLogger{}, venue, eng)

	m.Sweep(context.Background())

	// Profit 10 >= trigger 5: stop trails 3 behind the quote.
	require.Len(t, eng.stops, 1)
	assert.InDelta(t, 4007, eng.stops[0], 1e-9)
}

func TestMonitor_TrailingNotArmedBelowTrigger(t *testing.T) {
	ticket := position(1, 1)
	eng := &fakeEngine{tickets: []*domain.Ticket{ticket}}
	venue := &stubVenue{live: map[int64]*ports.VenueTicket{1: liveTicket(ticket, 4003)}}
	m := New(testConfig(), &mockLogger{}, venue, eng)

	m.Sweep(context.Background())
	assert.Empty(t, eng.stops)
}

func TestMonitor_TrailingSellDirection(t *testing.T) {
	ticket := position(1, 1)
	eng := &fakeEngine{tickets: []*domain.Ticket{ticket}}
	vt := liveTicket(ticket, 3990)
	vt.Direction = domain.Sell
	venue := &stubVenue{live: map[int64]*ports.VenueTicket{1: vt}}
	m := New(testConfig(), &mockLogger{}, venue, eng)

	m.Sweep(context.Background())
	require.Len(t, eng.stops, 1)
	assert.InDelta(t, 3993, eng.stops[0], 1e-9)
}

func TestMonitor_SaveProfitLadder(t *testing.T) {
	cfg := testConfig()
	cfg.TrailEnabled = false
	cfg.SaveProfitThresholds = []float64{0.1, 0.2}
	cfg.SaveProfitFractions = []float64{0.5, 0.5}

	ticket := position(1, 1)
	eng := &fakeEngine{tickets: []*domain.Ticket{ticket}}
	// 4010 on 4000 open = 0.25% gain, crosses both thresholds.
	venue := &stubVenue{live: map[int64]*ports.VenueTicket{1: liveTicket(ticket, 4010)}}
	m := New(cfg, &mockLogger{}, venue, eng)

	m.Sweep(context.Background())
	assert.Equal(t, []int{0, 1}, eng.savedSteps)
}

func TestMonitor_SaveProfitStepsFireOnce(t *testing.T) {
	cfg := testConfig()
	cfg.TrailEnabled = false
	cfg.SaveProfitThresholds = []float64{0.1, 0.2}
	cfg.SaveProfitFractions = []float64{0.5, 0.5}

	ticket := position(1, 1)
	ticket.SavedSteps = 1 // first threshold already consumed
	eng := &fakeEngine{tickets: []*domain.Ticket{ticket}}
	venue := &stubVenue{live: map[int64]*ports.VenueTicket{1: liveTicket(ticket, 4010)}}
	m := New(cfg, &mockLogger{}, venue, eng)

	m.Sweep(context.Background())
	assert.Equal(t, []int{1}, eng.savedSteps)
}

func TestMonitor_SaveProfitStopsBelowThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.TrailEnabled = false
	cfg.SaveProfitThresholds = []float64{0.1, 0.5}
	cfg.SaveProfitFractions = []float64{0.5, 0.5}

	ticket := position(1, 1)
	eng := &fakeEngine{tickets: []*domain.Ticket{ticket}}
	// 0.25% crosses the first threshold only.
	venue := &stubVenue{live: map[int64]*ports.VenueTicket{1: liveTicket(ticket, 4010)}}
	m := New(cfg, &mockLogger{}, venue, eng)

	m.Sweep(context.Background())
	assert.Equal(t, []int{0}, eng.savedSteps)
}

func TestMonitor_PendingOrderExpires(t *testing.T) {
	cfg := testConfig()
	cfg.PendingExpiry = 30 * time.Minute

	ticket := position(1, 1)
	ticket.Kind = domain.KindOrder
	ticket.OpenedAt = time.Now().Add(-time.Hour)
	eng := &fakeEngine{tickets: []*domain.Ticket{ticket}}
	venue := &stubVenue{live: map[int64]*ports.VenueTicket{}}
	m := New(cfg, &mockLogger{}, venue, eng)

	m.Sweep(context.Background())
	assert.Equal(t, []int64{1}, eng.expired)
	assert.Empty(t, eng.closed)
}

func TestMonitor_FreshPendingOrderSurvives(t *testing.T) {
	cfg := testConfig()
	cfg.PendingExpiry = 30 * time.Minute

	ticket := position(1, 1)
	ticket.Kind = domain.KindOrder
	ticket.OpenedAt = time.Now().Add(-time.Minute)
	eng := &fakeEngine{tickets: []*domain.Ticket{ticket}}
	vt := liveTicket(ticket, 4000)
	vt.Kind = domain.KindOrder
	venue := &stubVenue{live: map[int64]*ports.VenueTicket{1: vt}}
	m := New(cfg, &mockLogger{}, venue, eng)

	m.Sweep(context.Background())
	assert.Empty(t, eng.expired)
}

func TestMonitor_ExternalCloseDetected(t *testing.T) {
	ticket := position(1, 1)
	eng := &fakeEngine{tickets: []*domain.Ticket{ticket}}
	// The venue no longer knows the ticket and the quote sits at the stop.
	venue := &stubVenue{live: map[int64]*ports.VenueTicket{}, price: 3980}
	m := New(testConfig(), &mockLogger{}, venue, eng)

	m.Sweep(context.Background())
	assert.Equal(t, []int64{1}, eng.closed)
	assert.Equal(t, domain.CloseReasonStopLoss, eng.closeReason)
}

func TestMonitor_ExternalCloseAtTarget(t *testing.T) {
	ticket := position(1, 1)
	eng := &fakeEngine{tickets: []*domain.Ticket{ticket}}
	venue := &stubVenue{live: map[int64]*ports.VenueTicket{}, price: 4050}
	m := New(testConfig(), &mockLogger{}, venue, eng)

	m.Sweep(context.Background())
	assert.Equal(t, domain.CloseReasonTakeProfit, eng.closeReason)
}

func TestMonitor_VenueLookupCarriesTicketSymbol(t *testing.T) {
	ticket := position(1, 1)
	eng := &fakeEngine{tickets: []*domain.Ticket{ticket}}
	venue := &stubVenue{live: map[int64]*ports.VenueTicket{1: liveTicket(ticket, 4003)}}
	m := New(testConfig(), &mockLogger{}, venue, eng)

	m.Sweep(context.Background())
	assert.Equal(t, []string{"XAUUSD"}, venue.gotSymbols)
}

func TestMonitor_HungVenueCallIsBounded(t *testing.T) {
	cfg := testConfig()
	cfg.VenueTimeout = 10 * time.Millisecond

	ticket := position(1, 1)
	eng := &fakeEngine{tickets: []*domain.Ticket{ticket}}
	venue := &stubVenue{hang: true}
	m := New(cfg, &mockLogger{}, venue, eng)

	done := make(chan struct{})
	go func() {
		m.Sweep(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep blocked on a hung venue call")
	}
	// A timed-out lookup is an error, not evidence the ticket is gone.
	assert.Empty(t, eng.closed)
}

func TestMonitor_FillDetection(t *testing.T) {
	ticket := position(1, 1)
	ticket.Kind = domain.KindOrder
	ticket.OpenedAt = time.Now() // not expired
	eng := &fakeEngine{tickets: []*domain.Ticket{ticket}}
	vt := liveTicket(ticket, 4000)
	vt.Kind = domain.KindPosition
	venue := &stubVenue{live: map[int64]*ports.VenueTicket{1: vt}}
	m := New(testConfig(), &mockLogger{}, venue, eng)

	m.Sweep(context.Background())
	assert.Equal(t, []int64{1}, eng.filled)
}

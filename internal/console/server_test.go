package console

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signaltrader/internal/domain"
)

type fakeEngineAPI struct {
	fakeCommander
	tickets []*domain.Ticket
	history []*domain.Signal
}

func (f *fakeEngineAPI) ListOpenTickets(ctx context.Context) ([]*domain.Ticket, error) {
	return f.tickets, nil
}

func (f *fakeEngineAPI) SignalHistory(ctx context.Context, limit int) ([]*domain.Signal, error) {
	if limit < len(f.history) {
		return f.history[:limit], nil
	}
	return f.history, nil
}

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func newTestServer(eng *fakeEngineAPI) http.Handler {
	return NewServer("127.0.0.1:0", nopLogger{}, eng).srv.Handler
}

func TestServer_ActiveSignals(t *testing.T) {
	eng := &fakeEngineAPI{}
	eng.signals = []*domain.Signal{{ID: 1, Symbol: "XAUUSD", Status: domain.StatusOpen}}
	h := newTestServer(eng)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/signals/active", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "XAUUSD")
}

func TestServer_HistoryLimitValidation(t *testing.T) {
	h := newTestServer(&fakeEngineAPI{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/signals/history?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/signals/history?limit=10", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_SubmitCommand(t *testing.T) {
	eng := &fakeEngineAPI{}
	h := newTestServer(eng)

	body := strings.NewReader(`{"kind":"edit","stop_loss":1.09,"take_profits":[1.095]}`)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/signals/42/commands", body))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, eng.applied, 1)
	cmd := eng.applied[0]
	assert.Equal(t, domain.CmdEdit, cmd.Kind)
	assert.Equal(t, int64(42), cmd.SignalID)
	assert.InDelta(t, 1.09, cmd.StopLoss, 1e-9)
	assert.Equal(t, []float64{1.095}, cmd.TakeProfits)
}

func TestServer_RejectsUnknownCommandKind(t *testing.T) {
	eng := &fakeEngineAPI{}
	h := newTestServer(eng)

	body := strings.NewReader(`{"kind":"yolo"}`)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/signals/42/commands", body))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, eng.applied)
}

func TestServer_SessionInput(t *testing.T) {
	eng := &fakeEngineAPI{}
	h := newTestServer(eng)

	body := strings.NewReader(`{"input":"list"}`)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sessions/op1/input", body))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), string(StateMainMenu))
}

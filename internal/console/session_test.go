package console

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signaltrader/internal/domain"
)

type fakeCommander struct {
	signals  []*domain.Signal
	applied  []domain.Command
	applyErr error
}

func (f *fakeCommander) Apply(ctx context.Context, cmd domain.Command) error {
	f.applied = append(f.applied, cmd)
	return f.applyErr
}

func (f *fakeCommander) ListActiveSignals(ctx context.Context) ([]*domain.Signal, error) {
	return f.signals, nil
}

func TestSessions_ListFromMainMenu(t *testing.T) {
	eng := &fakeCommander{signals: []*domain.Signal{
		{ID: 7, Symbol: "XAUUSD", Direction: domain.Buy, Status: domain.StatusOpen},
	}}
	s := NewSessions(eng)

	reply, err := s.Input(context.Background(), "op1", "list")
	require.NoError(t, err)
	assert.Equal(t, StateMainMenu, reply.State)
	assert.Contains(t, reply.Prompt, "#7 XAUUSD")
}

func TestSessions_EmptyListStaysInMenu(t *testing.T) {
	s := NewSessions(&fakeCommander{})

	reply, err := s.Input(context.Background(), "op1", "")
	require.NoError(t, err)
	assert.Equal(t, StateMainMenu, reply.State)
	assert.Contains(t, reply.Prompt, "no active signals")
}

func TestSessions_SelectSignalThenCommand(t *testing.T) {
	eng := &fakeCommander{}
	s := NewSessions(eng)
	ctx := context.Background()

	reply, err := s.Input(ctx, "op1", "7")
	require.NoError(t, err)
	assert.Equal(t, StateViewingSignal, reply.State)
	assert.Equal(t, int64(7), reply.SignalID)

	reply, err = s.Input(ctx, "op1", "riskfree")
	require.NoError(t, err)
	assert.Equal(t, StateViewingSignal, reply.State)
	require.Len(t, eng.applied, 1)
	assert.Equal(t, domain.CmdRiskFree, eng.applied[0].Kind)
	assert.Equal(t, int64(7), eng.applied[0].SignalID)
}

func TestSessions_EditStopLossFlow(t *testing.T) {
	eng := &fakeCommander{}
	s := NewSessions(eng)
	ctx := context.Background()

	_, err := s.Input(ctx, "op1", "3")
	require.NoError(t, err)

	reply, err := s.Input(ctx, "op1", "editsl")
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingValue, reply.State)

	// Garbage re-prompts in place.
	reply, err = s.Input(ctx, "op1", "not a number")
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingValue, reply.State)
	assert.Empty(t, eng.applied)

	reply, err = s.Input(ctx, "op1", "1.0900")
	require.NoError(t, err)
	assert.Equal(t, StateViewingSignal, reply.State)
	require.Len(t, eng.applied, 1)
	assert.Equal(t, domain.CmdEdit, eng.applied[0].Kind)
	assert.InDelta(t, 1.0900, eng.applied[0].StopLoss, 1e-9)
}

func TestSessions_EditTakeProfitsFlow(t *testing.T) {
	eng := &fakeCommander{}
	s := NewSessions(eng)
	ctx := context.Background()

	_, err := s.Input(ctx, "op1", "3")
	require.NoError(t, err)
	_, err = s.Input(ctx, "op1", "edittp")
	require.NoError(t, err)

	reply, err := s.Input(ctx, "op1", "1.0950 1.0990")
	require.NoError(t, err)
	assert.Equal(t, StateViewingSignal, reply.State)
	require.Len(t, eng.applied, 1)
	assert.Equal(t, []float64{1.0950, 1.0990}, eng.applied[0].TakeProfits)
}

func TestSessions_BackNavigation(t *testing.T) {
	s := NewSessions(&fakeCommander{})
	ctx := context.Background()

	_, err := s.Input(ctx, "op1", "3")
	require.NoError(t, err)
	_, err = s.Input(ctx, "op1", "editsl")
	require.NoError(t, err)

	reply, err := s.Input(ctx, "op1", "back")
	require.NoError(t, err)
	assert.Equal(t, StateViewingSignal, reply.State)

	reply, err = s.Input(ctx, "op1", "back")
	require.NoError(t, err)
	assert.Equal(t, StateMainMenu, reply.State)
}

func TestSessions_OperatorsAreIsolated(t *testing.T) {
	s := NewSessions(&fakeCommander{})
	ctx := context.Background()

	_, err := s.Input(ctx, "op1", "3")
	require.NoError(t, err)

	reply, err := s.Input(ctx, "op2", "list")
	require.NoError(t, err)
	assert.Equal(t, StateMainMenu, reply.State)
}

package risk

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signaltrader/internal/domain"
	"signaltrader/internal/ports"
)

func TestParseLotPolicy(t *testing.T) {
	tests := []struct {
		in       string
		wantMode SizingMode
		wantVal  float64
		wantErr  bool
	}{
		{"0.5", ModeFixed, 0.5, false},
		{"2", ModeFixed, 2, false},
		{"1%", ModePercentOfBalance, 1, false},
		{"2.5%", ModePercentOfBalance, 2.5, false},
		{"", "", 0, true},
		{"0", "", 0, true},
		{"-1%", "", 0, true},
		{"abc", "", 0, true},
	}
	for _, tt := range tests {
		mode, val, err := ParseLotPolicy(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.wantMode, mode, tt.in)
		assert.InDelta(t, tt.wantVal, val, 1e-9, tt.in)
	}
}

func testSignal(dual bool) *domain.Signal {
	sig := &domain.Signal{
		Symbol:      "EURUSD",
		Direction:   domain.Buy,
		Entry:       1.0850,
		StopLoss:    1.0800,
		TakeProfits: []float64{1.0900, 1.0950},
	}
	if dual {
		sig.SecondEntry = 1.0820
	}
	return sig
}

func testInstrument() *ports.InstrumentInfo {
	return &ports.InstrumentInfo{
		Symbol:       "EURUSD",
		ContractSize: 100000,
		MinVolume:    0.01,
		VolumeStep:   0.01,
		MarginPerLot: 1000,
		Tradable:     true,
	}
}

func TestCalculator_FixedMode(t *testing.T) {
	calc, err := NewCalculator(Config{Mode: ModeFixed, Value: 0.5})
	require.NoError(t, err)

	acct := &ports.AccountState{Balance: 10000, FreeMargin: 10000}
	params, err := calc.Size(testSignal(false), acct, testInstrument(), 1.0850)
	require.NoError(t, err)
	require.Len(t, params, 1)
	assert.InDelta(t, 0.5, params[0].Volume, 1e-9)
	assert.InDelta(t, 1.0850, params[0].Price, 1e-9)
	assert.InDelta(t, 1.0800, params[0].StopLoss, 1e-9)
	// The venue order carries the final target; intermediate targets live on
	// the signal.
	assert.InDelta(t, 1.0950, params[0].TakeProfit, 1e-9)
}

func TestCalculator_PercentMode(t *testing.T) {
	calc, err := NewCalculator(Config{Mode: ModePercentOfBalance, Value: 1})
	require.NoError(t, err)

	acct := &ports.AccountState{Balance: 108500, FreeMargin: 108500}
	// 1% of 108500 = 1085 notional; 1085 / (100000 * 1.0850) = 0.01 lots.
	params, err := calc.Size(testSignal(false), acct, testInstrument(), 1.0850)
	require.NoError(t, err)
	require.Len(t, params, 1)
	assert.InDelta(t, 0.01, params[0].Volume, 1e-9)
}

func TestCalculator_AccountSizeOverride(t *testing.T) {
	calc, err := NewCalculator(Config{Mode: ModePercentOfBalance, Value: 1, AccountSize: 217000})
	require.NoError(t, err)

	acct := &ports.AccountState{Balance: 50, FreeMargin: 108500}
	params, err := calc.Size(testSignal(false), acct, testInstrument(), 1.0850)
	require.NoError(t, err)
	assert.InDelta(t, 0.02, params[0].Volume, 1e-9)
}

func TestCalculator_DualEntrySplit(t *testing.T) {
	calc, err := NewCalculator(Config{Mode: ModeFixed, Value: 1, SplitRatio: 0.6})
	require.NoError(t, err)

	acct := &ports.AccountState{Balance: 10000, FreeMargin: 10000}
	params, err := calc.Size(testSignal(true), acct, testInstrument(), 1.0850)
	require.NoError(t, err)
	require.Len(t, params, 2)
	assert.InDelta(t, 0.6, params[0].Volume, 1e-9)
	assert.InDelta(t, 0.4, params[1].Volume, 1e-9)
	assert.InDelta(t, 1.0850, params[0].Price, 1e-9)
	assert.InDelta(t, 1.0820, params[1].Price, 1e-9)
}

func TestCalculator_Rejections(t *testing.T) {
	acct := &ports.AccountState{Balance: 10000, FreeMargin: 10000}

	t.Run("not tradable", func(t *testing.T) {
		calc, err := NewCalculator(Config{Mode: ModeFixed, Value: 1})
		require.NoError(t, err)
		info := testInstrument()
		info.Tradable = false
		_, err = calc.Size(testSignal(false), acct, info, 1.0850)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ports.ErrSizingRejected))
		assert.True(t, errors.Is(err, ports.ErrSymbolNotTradable))
	})

	t.Run("volume rounds to zero", func(t *testing.T) {
		calc, err := NewCalculator(Config{Mode: ModePercentOfBalance, Value: 1})
		require.NoError(t, err)
		tiny := &ports.AccountState{Balance: 10, FreeMargin: 10}
		_, err = calc.Size(testSignal(false), tiny, testInstrument(), 1.0850)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ports.ErrSizingRejected))
		assert.True(t, errors.Is(err, ports.ErrZeroVolume))
	})

	t.Run("insufficient margin", func(t *testing.T) {
		calc, err := NewCalculator(Config{Mode: ModeFixed, Value: 5})
		require.NoError(t, err)
		poor := &ports.AccountState{Balance: 10000, FreeMargin: 100}
		_, err = calc.Size(testSignal(false), poor, testInstrument(), 1.0850)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ports.ErrSizingRejected))
		assert.True(t, errors.Is(err, ports.ErrInsufficientFunds))
	})

	t.Run("dual entry leg below minimum", func(t *testing.T) {
		calc, err := NewCalculator(Config{Mode: ModeFixed, Value: 0.01, SplitRatio: 0.5})
		require.NoError(t, err)
		_, err = calc.Size(testSignal(true), acct, testInstrument(), 1.0850)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ports.ErrZeroVolume))
	})
}

func TestNewCalculator_Validation(t *testing.T) {
	_, err := NewCalculator(Config{Mode: "martingale", Value: 1})
	assert.Error(t, err)

	_, err = NewCalculator(Config{Mode: ModeFixed, Value: 0})
	assert.Error(t, err)

	_, err = NewCalculator(Config{Mode: ModeFixed, Value: 1, SplitRatio: 1})
	assert.Error(t, err)
}

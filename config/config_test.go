package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("VENUE_API_KEY", "key")
	t.Setenv("VENUE_API_SECRET", "secret")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.True(t, cfg.IsTestnet)
	assert.Equal(t, "1%", cfg.LotPolicy)
	assert.Equal(t, 15*time.Second, cfg.MonitorInterval)
	assert.Equal(t, 3, cfg.VenueMaxAttempts)
	assert.Equal(t, "XAUUSD", cfg.SymbolAliases["GOLD"])
	assert.Equal(t, "127.0.0.1:8087", cfg.ConsoleAddr)
	assert.Zero(t, cfg.PendingExpiry)
}

func TestLoadConfig_MissingCredentials(t *testing.T) {
	t.Setenv("VENUE_API_KEY", "")
	t.Setenv("VENUE_API_SECRET", "")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfig_SaveProfitLadder(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SAVE_PROFIT_THRESHOLDS", "0.5,1.0")
	t.Setenv("SAVE_PROFIT_FRACTIONS", "0.25,0.5")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 1.0}, cfg.SaveProfitThresholds)
	assert.Equal(t, []float64{0.25, 0.5}, cfg.SaveProfitFractions)
}

func TestLoadConfig_SaveProfitLadderMismatch(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SAVE_PROFIT_THRESHOLDS", "0.5,1.0")
	t.Setenv("SAVE_PROFIT_FRACTIONS", "0.25")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfig_SaveProfitLadderMustAscend(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SAVE_PROFIT_THRESHOLDS", "1.0,0.5")
	t.Setenv("SAVE_PROFIT_FRACTIONS", "0.25,0.5")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfig_TrailStepRequiredWhenArmed(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TRAIL_ENABLED", "true")
	t.Setenv("TRAIL_TRIGGER", "5")
	t.Setenv("TRAIL_STEP", "0")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfig_TradingHours(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TRADING_START", "09:00")
	t.Setenv("TRADING_END", "17:30")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "09:00", cfg.TradingStart)
	assert.Equal(t, "17:30", cfg.TradingEnd)
}

func TestLoadConfig_TradingHoursMustPair(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TRADING_START", "09:00")
	t.Setenv("TRADING_END", "")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfig_PendingExpiry(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PENDING_EXPIRY_MINUTES", "90")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, cfg.PendingExpiry)
}

func TestParseMapping(t *testing.T) {
	m, err := parseMapping("GOLD:XAUUSD, US30:DJIUSD")
	require.NoError(t, err)
	assert.Equal(t, "XAUUSD", m["GOLD"])
	assert.Equal(t, "DJIUSD", m["US30"])

	_, err = parseMapping("GOLD")
	assert.Error(t, err)
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"signaltrader/internal/adapters/logger"
)

// Config holds all application configuration.
type Config struct {
	// Execution venue (Binance futures driver)
	APIKey    string `validate:"required"`
	SecretKey string `validate:"required"`
	IsTestnet bool

	// Sizing
	LotPolicy   string `validate:"required"` // "0.5" fixed lots or "1%" of balance
	AccountSize float64
	HighRisk    bool    // dual-entry mode
	SplitRatio  float64 `validate:"gte=0,lt=1"` // first leg share, 0 = even split
	// CloserPrice is the max distance (price units) between a signal entry and
	// the current quote for market execution; farther entries become pending
	// limit orders. Zero or negative means the first leg always fills at market.
	CloserPrice float64

	// Position monitor
	MonitorInterval      time.Duration `validate:"gt=0"`
	TrailTrigger         float64       `validate:"gte=0"` // price-unit profit that arms trailing
	TrailStep            float64       `validate:"gte=0"` // distance kept behind current price
	TrailEnabled         bool
	SaveProfitThresholds []float64 // percent gain on entry, ascending
	SaveProfitFractions  []float64 // fraction of remaining volume closed per step
	PendingExpiry        time.Duration

	// Venue retry policy
	VenueTimeout     time.Duration `validate:"gt=0"`
	VenueMaxAttempts int           `validate:"gte=1"`
	VenueBackoffMin  time.Duration `validate:"gt=0"`
	VenueBackoffMax  time.Duration `validate:"gt=0"`

	// Symbol handling
	SymbolAliases   map[string]string
	SymbolWhitelist []string
	SymbolBlacklist []string

	// Trading hours window, HH:MM, empty = no restriction
	TradingStart string
	TradingEnd   string

	// Files
	DBPath       string `validate:"required"`
	PatternsPath string // JSON pattern tables, empty = built-in defaults
	KeywordsPath string // JSON keyword tables, empty = built-in defaults
	ReplayPath   string // optional replay message source file

	// Console
	ConsoleAddr string

	// Logging
	LogLevel logger.LogLevel
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars).
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []string

	cfg.APIKey = getEnv("VENUE_API_KEY", "")
	cfg.SecretKey = getEnv("VENUE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // default to testnet for safety

	cfg.LotPolicy = getEnv("LOT_POLICY", "1%")
	cfg.AccountSize = getEnvAsFloat("ACCOUNT_SIZE", 0)
	cfg.HighRisk = getEnvAsBool("HIGH_RISK", false)
	cfg.SplitRatio = getEnvAsFloat("SPLIT_RATIO", 0)
	cfg.CloserPrice = getEnvAsFloat("CLOSER_PRICE", 0)

	cfg.MonitorInterval = getEnvAsDuration("MONITOR_INTERVAL_SECONDS", 15*time.Second)
	cfg.TrailTrigger = getEnvAsFloat("TRAIL_TRIGGER", 0)
	cfg.TrailStep = getEnvAsFloat("TRAIL_STEP", 0)
	cfg.TrailEnabled = getEnvAsBool("TRAIL_ENABLED", true)
	if cfg.TrailEnabled && cfg.TrailTrigger > 0 && cfg.TrailStep <= 0 {
		errs = append(errs, "TRAIL_STEP must be positive when trailing is armed")
	}

	var err error
	cfg.SaveProfitThresholds, err = parseFloatList(getEnv("SAVE_PROFIT_THRESHOLDS", ""))
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SAVE_PROFIT_THRESHOLDS: %v", err))
	}
	cfg.SaveProfitFractions, err = parseFloatList(getEnv("SAVE_PROFIT_FRACTIONS", ""))
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SAVE_PROFIT_FRACTIONS: %v", err))
	}
	if len(cfg.SaveProfitThresholds) != len(cfg.SaveProfitFractions) {
		errs = append(errs, "SAVE_PROFIT_THRESHOLDS and SAVE_PROFIT_FRACTIONS must have the same length")
	}
	for i := 1; i < len(cfg.SaveProfitThresholds); i++ {
		if cfg.SaveProfitThresholds[i] <= cfg.SaveProfitThresholds[i-1] {
			errs = append(errs, "SAVE_PROFIT_THRESHOLDS must be strictly ascending")
			break
		}
	}
	for _, f := range cfg.SaveProfitFractions {
		if f <= 0 || f > 1 {
			errs = append(errs, "SAVE_PROFIT_FRACTIONS values must be in (0,1]")
			break
		}
	}

	// Zero disables pending-order expiry.
	if raw := getEnv("PENDING_EXPIRY_MINUTES", ""); raw != "" {
		mins, convErr := strconv.Atoi(raw)
		if convErr != nil || mins < 0 {
			errs = append(errs, fmt.Sprintf("invalid PENDING_EXPIRY_MINUTES %q", raw))
		} else {
			cfg.PendingExpiry = time.Duration(mins) * time.Minute
		}
	}

	cfg.VenueTimeout = getEnvAsDuration("VENUE_TIMEOUT_SECONDS", 10*time.Second)
	cfg.VenueMaxAttempts = getEnvAsInt("VENUE_MAX_ATTEMPTS", 3)
	cfg.VenueBackoffMin = getEnvAsDuration("VENUE_BACKOFF_MIN_SECONDS", 1*time.Second)
	cfg.VenueBackoffMax = getEnvAsDuration("VENUE_BACKOFF_MAX_SECONDS", 30*time.Second)

	cfg.SymbolAliases, err = parseMapping(getEnv("SYMBOL_ALIASES", "GOLD:XAUUSD,US30:DJIUSD"))
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SYMBOL_ALIASES: %v", err))
	}
	cfg.SymbolWhitelist = parseList(getEnv("SYMBOL_WHITELIST", ""))
	cfg.SymbolBlacklist = parseList(getEnv("SYMBOL_BLACKLIST", ""))

	cfg.TradingStart = getEnv("TRADING_START", "")
	cfg.TradingEnd = getEnv("TRADING_END", "")
	if (cfg.TradingStart == "") != (cfg.TradingEnd == "") {
		errs = append(errs, "TRADING_START and TRADING_END must be set together")
	}
	for _, v := range []string{cfg.TradingStart, cfg.TradingEnd} {
		if v == "" {
			continue
		}
		if _, parseErr := time.Parse("15:04", v); parseErr != nil {
			errs = append(errs, fmt.Sprintf("invalid trading hour %q, expected HH:MM", v))
		}
	}

	cfg.DBPath = getEnv("DB_PATH", "./data/signaltrader.db")
	cfg.PatternsPath = getEnv("PATTERNS_PATH", "")
	cfg.KeywordsPath = getEnv("KEYWORDS_PATH", "")
	cfg.ReplayPath = getEnv("REPLAY_PATH", "")

	cfg.ConsoleAddr = getEnv("CONSOLE_ADDR", "127.0.0.1:8087")

	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))

	if err := validator.New().Struct(cfg); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				errs = append(errs, fmt.Sprintf("field %s fails %q", fe.Field(), fe.Tag()))
			}
		} else {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	secs, err := strconv.Atoi(valueStr)
	if err != nil || secs < 0 {
		return defaultValue
	}
	return time.Duration(secs) * time.Second
}

func parseList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseFloatList(s string) ([]float64, error) {
	var out []float64
	for _, p := range parseList(s) {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", p)
		}
		out = append(out, v)
	}
	return out, nil
}

func parseMapping(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, p := range parseList(s) {
		kv := strings.SplitN(p, ":", 2)
		if len(kv) != 2 || kv[0] == "" || kv[1] == "" {
			return nil, fmt.Errorf("invalid mapping entry %q", p)
		}
		out[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return out, nil
}

package risk

import (
	"fmt"
	"math"
	"strings"

	"signaltrader/internal/domain"
	"signaltrader/internal/ports"
)

// SizingMode selects the lot/volume resolution policy.
type SizingMode string

const (
	ModeFixed            SizingMode = "fixed"
	ModePercentOfBalance SizingMode = "percentOfBalance"
)

// Config holds sizing policy. LotPolicy accepts the compact string form used
// in deployments: "0.5" means half a lot fixed, "1%" means one percent of
// balance; ParseLotPolicy converts it to Mode/Value.
type Config struct {
	Mode  SizingMode
	Value float64 // lots in fixed mode, percent (1 = 1%) in percent mode
	// AccountSize overrides the live balance in percent mode when non-zero,
	// so sizing tracks a nominal account rather than floating equity.
	AccountSize float64
	// SplitRatio is the first leg's share of volume in dual-entry mode.
	SplitRatio float64
}

// ParseLotPolicy converts "0.5" / "1%" style lot strings.
func ParseLotPolicy(s string) (SizingMode, float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", 0, fmt.Errorf("empty lot policy")
	}
	if strings.HasSuffix(s, "%") {
		var pct float64
		if _, err := fmt.Sscanf(strings.TrimSuffix(s, "%"), "%f", &pct); err != nil || pct <= 0 {
			return "", 0, fmt.Errorf("invalid percent lot policy %q", s)
		}
		return ModePercentOfBalance, pct, nil
	}
	var lots float64
	if _, err := fmt.Sscanf(s, "%f", &lots); err != nil || lots <= 0 {
		return "", 0, fmt.Errorf("invalid fixed lot policy %q", s)
	}
	return ModeFixed, lots, nil
}

// Calculator computes order parameters for a validated signal. It is pure:
// account state and instrument metadata are passed in by the engine, which
// owns the venue calls.
type Calculator struct {
	cfg Config
}

// NewCalculator validates policy values.
func NewCalculator(cfg Config) (*Calculator, error) {
	switch cfg.Mode {
	case ModeFixed, ModePercentOfBalance:
	default:
		return nil, fmt.Errorf("%w: unknown sizing mode %q", ports.ErrConfigurationError, cfg.Mode)
	}
	if cfg.Value <= 0 {
		return nil, fmt.Errorf("%w: sizing value must be positive", ports.ErrConfigurationError)
	}
	if cfg.SplitRatio < 0 || cfg.SplitRatio >= 1 {
		return nil, fmt.Errorf("%w: split ratio must be in [0,1)", ports.ErrConfigurationError)
	}
	if cfg.SplitRatio == 0 {
		cfg.SplitRatio = 0.5
	}
	return &Calculator{cfg: cfg}, nil
}

// Size returns one order per entry leg, or a sizing rejection. Rejections are
// distinct error kinds wrapped in ports.ErrSizingRejected; the calculator
// never clamps a bad volume to a default.
func (c *Calculator) Size(sig *domain.Signal, acct *ports.AccountState, info *ports.InstrumentInfo, price float64) ([]ports.OrderParams, error) {
	if !info.Tradable {
		return nil, sizingErr(ports.ErrSymbolNotTradable, sig.Symbol)
	}

	total, err := c.totalVolume(acct, info, price)
	if err != nil {
		return nil, err
	}

	volumes := []float64{total}
	if sig.DualEntry() {
		first := roundToStep(total*c.cfg.SplitRatio, info.VolumeStep)
		second := roundToStep(total-first, info.VolumeStep)
		volumes = []float64{first, second}
	}

	var margin float64
	params := make([]ports.OrderParams, 0, len(volumes))
	entries := []float64{sig.Entry, sig.SecondEntry}
	for i, vol := range volumes {
		if vol < info.MinVolume || vol <= 0 {
			return nil, sizingErr(ports.ErrZeroVolume, sig.Symbol)
		}
		margin += vol * info.MarginPerLot
		params = append(params, ports.OrderParams{
			Symbol:     sig.Symbol,
			Direction:  sig.Direction,
			Volume:     vol,
			Price:      entries[i],
			StopLoss:   sig.StopLoss,
			TakeProfit: lastTP(sig.TakeProfits),
		})
	}

	if margin > acct.FreeMargin {
		return nil, sizingErr(ports.ErrInsufficientFunds, sig.Symbol)
	}
	return params, nil
}

func (c *Calculator) totalVolume(acct *ports.AccountState, info *ports.InstrumentInfo, price float64) (float64, error) {
	switch c.cfg.Mode {
	case ModeFixed:
		return roundToStep(c.cfg.Value, info.VolumeStep), nil
	case ModePercentOfBalance:
		balance := acct.Balance
		if c.cfg.AccountSize > 0 {
			balance = c.cfg.AccountSize
		}
		if price <= 0 || info.ContractSize <= 0 {
			return 0, sizingErr(ports.ErrSymbolNotTradable, info.Symbol)
		}
		notional := balance * c.cfg.Value / 100
		return roundToStep(notional/(info.ContractSize*price), info.VolumeStep), nil
	}
	return 0, sizingErr(ports.ErrZeroVolume, info.Symbol)
}

func sizingErr(kind error, symbol string) error {
	return fmt.Errorf("%w: %w (%s)", ports.ErrSizingRejected, kind, symbol)
}

func roundToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	return math.Floor(v/step+1e-9) * step
}

func lastTP(tps []float64) float64 {
	if len(tps) == 0 {
		return 0
	}
	return tps[len(tps)-1]
}

package analyzer

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"signaltrader/internal/domain"
	"signaltrader/internal/ports"
)

// ParserConfig configures the signal parser. Tables and lookup maps are
// copied at construction; the parser is immutable afterwards, so reloading
// tables means building a new parser instance.
type ParserConfig struct {
	Tables          PatternTables
	SymbolAliases   map[string]string // e.g. GOLD -> XAUUSD, US30 -> DJIUSD
	SymbolWhitelist []string
	SymbolBlacklist []string
	// HighRisk enables dual-entry handling when a second entry price matches.
	HighRisk bool
}

// Parser converts free-text messages into canonical signals. Parsing is pure:
// no storage, no venue, no clock beyond timestamping the result.
type Parser struct {
	rules     *Ruleset
	aliases   map[string]string
	whitelist map[string]struct{}
	blacklist map[string]struct{}
	highRisk  bool
	now       func() time.Time
}

// levelKeywords marks lines that belong to SL/TP blocks; entry-range
// patterns must not scan those lines or "TP2 - 4130" reads as a second entry.
var levelKeywords = regexp.MustCompile(`(?i)\b(tp|sl|stop|take|target|profit)\b|تارگت|هدف|حد|استاپ`)

// NewParser compiles the pattern tables and builds the lookup sets.
func NewParser(cfg ParserConfig) (*Parser, error) {
	rules, err := CompileTables(cfg.Tables)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrConfigurationError, err)
	}
	p := &Parser{
		rules:     rules,
		aliases:   make(map[string]string, len(cfg.SymbolAliases)),
		whitelist: make(map[string]struct{}, len(cfg.SymbolWhitelist)),
		blacklist: make(map[string]struct{}, len(cfg.SymbolBlacklist)),
		highRisk:  cfg.HighRisk,
		now:       time.Now,
	}
	for k, v := range cfg.SymbolAliases {
		p.aliases[strings.ToUpper(k)] = strings.ToUpper(v)
	}
	for _, s := range cfg.SymbolWhitelist {
		p.whitelist[strings.ToUpper(s)] = struct{}{}
	}
	for _, s := range cfg.SymbolBlacklist {
		p.blacklist[strings.ToUpper(s)] = struct{}{}
	}
	return p, nil
}

// Parse converts message text into a signal or rejects it with a reason
// wrapped in ports.ErrParseRejected. The returned signal is in Pending state
// and already satisfies the SL/TP ordering invariant.
func (p *Parser) Parse(text string) (*domain.Signal, error) {
	if strings.TrimSpace(text) == "" {
		return nil, reject("empty message")
	}

	direction, ok := p.direction(text)
	if !ok {
		return nil, reject("missing_field(direction)")
	}

	symbol, ok := p.symbol(text)
	if !ok {
		return nil, reject("missing_field(symbol)")
	}
	if !p.symbolAllowed(symbol) {
		return nil, reject(fmt.Sprintf("symbol %s filtered", symbol))
	}

	entryTok, ok := firstCapture(p.rules.entry, text)
	if !ok {
		return nil, reject("missing_field(entry)")
	}
	entry, err := parseNumber(entryTok)
	if err != nil {
		return nil, reject(fmt.Sprintf("entry: %v", err))
	}

	slTok, ok := firstCapture(p.rules.stopLoss, text)
	if !ok {
		return nil, reject("missing_field(stop_loss)")
	}
	stopLoss, err := parseNumber(slTok)
	if err != nil {
		return nil, reject(fmt.Sprintf("stop_loss: %v", err))
	}

	sig := &domain.Signal{
		Symbol:      symbol,
		Direction:   direction,
		Entry:       entry,
		StopLoss:    stopLoss,
		TakeProfits: p.takeProfits(text, direction),
		Status:      domain.StatusPending,
		CreatedAt:   p.now().UTC(),
	}

	if p.highRisk {
		if second, ok := p.secondEntry(text); ok && second != entry {
			sig.SecondEntry = second
		}
	}

	if err := sig.Validate(); err != nil {
		return nil, reject(err.Error())
	}
	return sig, nil
}

// ExtractPrice returns the first price-like token in the text. The classifier
// uses it for edit payloads where any bare number is the new level.
func (p *Parser) ExtractPrice(text string) (float64, bool) {
	tok, ok := firstCapture(p.rules.entry, text)
	if !ok {
		return 0, false
	}
	v, err := parseNumber(tok)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (p *Parser) direction(text string) (domain.Direction, bool) {
	if anyMatch(p.rules.buy, text) {
		return domain.Buy, true
	}
	if anyMatch(p.rules.sell, text) {
		return domain.Sell, true
	}
	return "", false
}

func (p *Parser) symbol(text string) (string, bool) {
	tok, ok := firstCapture(p.rules.symbol, strings.ToUpper(text))
	if !ok {
		return "", false
	}
	sym := strings.ToUpper(tok)
	if alias, ok := p.aliases[sym]; ok {
		sym = alias
	}
	return sym, true
}

func (p *Parser) symbolAllowed(symbol string) bool {
	// Blacklist always wins over whitelist.
	if _, blocked := p.blacklist[symbol]; blocked {
		return false
	}
	if len(p.whitelist) == 0 {
		return true
	}
	_, allowed := p.whitelist[symbol]
	return allowed
}

func (p *Parser) secondEntry(text string) (float64, bool) {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if levelKeywords.MatchString(line) {
			continue
		}
		lines = append(lines, line)
	}
	tok, ok := firstCapture(p.rules.secondEntry, strings.Join(lines, "\n"))
	if !ok {
		return 0, false
	}
	v, err := parseNumber(tok)
	if err != nil {
		return 0, false
	}
	return v, true
}

// extractTargets collects take-profit levels line by line. Only the first
// matching pattern on a line contributes, so the indexed forms never
// double-count with the bare-keyword fallback.
func (p *Parser) extractTargets(text string) []float64 {
	var values []float64
	for _, line := range strings.Split(text, "\n") {
		for _, re := range p.rules.takeProfit {
			ms := re.FindAllStringSubmatch(line, -1)
			if len(ms) == 0 {
				continue
			}
			for _, m := range ms {
				values = append(values, parseNumberRun(m[1])...)
			}
			break
		}
	}
	filtered := values[:0]
	for _, v := range values {
		// 0 and 1.0 are pattern noise (bare TP indices), same guard as the
		// keyword tables were tuned for.
		if v == 0 || v == 1.0 {
			continue
		}
		filtered = append(filtered, v)
	}
	return dedupe(filtered)
}

func (p *Parser) takeProfits(text string, direction domain.Direction) []float64 {
	targets := p.extractTargets(text)
	sort.Slice(targets, func(i, j int) bool {
		if direction == domain.Buy {
			return targets[i] < targets[j]
		}
		return targets[i] > targets[j]
	})
	return targets
}

func reject(reason string) error {
	return fmt.Errorf("%w: %s", ports.ErrParseRejected, reason)
}

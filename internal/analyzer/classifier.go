package analyzer

import (
	"fmt"
	"regexp"
	"strings"

	"signaltrader/internal/domain"
	"signaltrader/internal/ports"
)

// commandPriority is the fixed tie-break order when keyword sets overlap in a
// single reply. The first matching kind wins.
var commandPriority = []domain.CommandKind{
	domain.CmdDelete,
	domain.CmdRiskFree,
	domain.CmdHalfClose,
	domain.CmdTakeProfitNow,
	domain.CmdEdit,
}

// ClassifierConfig configures the command classifier. The parser is borrowed
// for price extraction in edit payloads so both use one pattern table.
type ClassifierConfig struct {
	Keywords KeywordTables
	Parser   *Parser
}

// Classifier recognizes edit/delete/risk-free/half-close/take-profit
// instructions in reply text. Like the parser it is pure and immutable.
type Classifier struct {
	matchers map[domain.CommandKind]*regexp.Regexp
	parser   *Parser
}

// NewClassifier compiles the keyword lists into boundary-aware matchers.
// Plain substring matching misfires on short keywords ("stop" contains "tp"),
// so each keyword must stand on its own token boundaries.
func NewClassifier(cfg ClassifierConfig) (*Classifier, error) {
	if cfg.Parser == nil {
		return nil, fmt.Errorf("%w: classifier requires a parser for price extraction", ports.ErrConfigurationError)
	}
	lists := map[domain.CommandKind][]string{
		domain.CmdEdit:          cfg.Keywords.Edit,
		domain.CmdDelete:        cfg.Keywords.Delete,
		domain.CmdRiskFree:      cfg.Keywords.RiskFree,
		domain.CmdHalfClose:     cfg.Keywords.HalfClose,
		domain.CmdTakeProfitNow: cfg.Keywords.TakeProfit,
	}
	matchers := make(map[domain.CommandKind]*regexp.Regexp, len(lists))
	for kind, keywords := range lists {
		re, err := compileKeywords(keywords)
		if err != nil {
			return nil, fmt.Errorf("%w: %s keywords: %v", ports.ErrConfigurationError, kind, err)
		}
		matchers[kind] = re
	}
	return &Classifier{matchers: matchers, parser: cfg.Parser}, nil
}

// compileKeywords builds one matcher for a keyword list. Returns nil for an
// empty list, which matches nothing.
func compileKeywords(keywords []string) (*regexp.Regexp, error) {
	parts := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.TrimSpace(strings.ToLower(k))
		if k == "" {
			continue
		}
		parts = append(parts, regexp.QuoteMeta(k))
	}
	if len(parts) == 0 {
		return nil, nil
	}
	return regexp.Compile(`(?:^|[^\p{L}])(?:` + strings.Join(parts, "|") + `)(?:$|[^\p{L}])`)
}

func (c *Classifier) matches(kind domain.CommandKind, lowered string) bool {
	re := c.matchers[kind]
	return re != nil && re.MatchString(lowered)
}

// Classify converts reply text into a command or returns ports.ErrNotACommand.
// The caller binds SignalID from the replied-to message afterwards.
func (c *Classifier) Classify(text string) (*domain.Command, error) {
	lowered := strings.ToLower(text)
	if strings.TrimSpace(lowered) == "" {
		return nil, fmt.Errorf("%w: empty reply", ports.ErrNotACommand)
	}

	for _, kind := range commandPriority {
		if !c.matches(kind, lowered) {
			continue
		}
		cmd := &domain.Command{Kind: kind}
		switch kind {
		case domain.CmdDelete:
			// "close half" is a volume reduction, not a close: the delete
			// keyword set shares words with half-close replies.
			if c.matches(domain.CmdHalfClose, lowered) {
				cmd.Kind = domain.CmdHalfClose
			}
		case domain.CmdTakeProfitNow:
			// "tp" alone closes at profit now; "tp 1.0950" carries a price and
			// is a target replacement, not a close.
			if _, tps, ok := c.editLevels(text); ok && len(tps) > 0 {
				cmd.Kind = domain.CmdEdit
				cmd.TakeProfits = tps
			}
		case domain.CmdEdit:
			sl, tps, ok := c.editLevels(text)
			if !ok {
				return nil, fmt.Errorf("%w: edit keywords without a price", ports.ErrNotACommand)
			}
			cmd.StopLoss = sl
			cmd.TakeProfits = tps
		}
		return cmd, nil
	}
	return nil, fmt.Errorf("%w", ports.ErrNotACommand)
}

// editLevels extracts the replacement SL and/or TP list from an edit reply.
func (c *Classifier) editLevels(text string) (float64, []float64, bool) {
	var sl float64
	if tok, ok := firstCapture(c.parser.rules.stopLoss, text); ok {
		if v, err := parseNumber(tok); err == nil {
			sl = v
		}
	}
	tps := c.parser.extractTargets(text)
	if sl == 0 && len(tps) == 0 {
		// A bare number in an edit reply is a stop-loss move.
		if v, ok := c.parser.ExtractPrice(text); ok {
			sl = v
		}
	}
	if sl == 0 && len(tps) == 0 {
		return 0, nil, false
	}
	return sl, tps, true
}


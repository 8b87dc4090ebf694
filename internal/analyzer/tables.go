package analyzer

import (
	"fmt"
	"regexp"
)

// PatternTables is the data form of the field extractor tables. Each field is
// an ordered list of regular expressions tried in priority order; the first
// match wins. Price patterns must carry exactly one capturing group.
// Tables are plain data so deployments can override them from JSON without
// code changes; compiled matchers are immutable after construction.
type PatternTables struct {
	Buy         []string `json:"buy"`
	Sell        []string `json:"sell"`
	Symbol      []string `json:"symbol"`
	Entry       []string `json:"entry"`
	SecondEntry []string `json:"second_entry"`
	StopLoss    []string `json:"stop_loss"`
	// TakeProfit captures a run of numbers after the keyword so multi-target
	// lines like "TP 1.0900 1.0950" yield every level.
	TakeProfit []string `json:"take_profit"`
}

// KeywordTables holds the per-command keyword lists for the classifier.
// Matching is case-insensitive and token-boundary aware.
type KeywordTables struct {
	Edit       []string `json:"edit"`
	Delete     []string `json:"delete"`
	RiskFree   []string `json:"risk_free"`
	HalfClose  []string `json:"half_close"`
	TakeProfit []string `json:"take_profit"`
}

const number = `([0-9]+(?:[.,][0-9]+)?)`

// numberRun captures one or more prices separated by spaces or slashes.
const numberRun = `((?:[0-9]+(?:[.,][0-9]+)?[\s/]*)+)`

// DefaultPatternTables returns the built-in extractor tables. They cover the
// common signal dialects (keyworded, @-anchored, bare-number) and are the
// fallback when no patterns file is configured.
func DefaultPatternTables() PatternTables {
	return PatternTables{
		Buy:  []string{`(?i)\bbuy\b`, `(?i)\blong\b`, `خرید`},
		Sell: []string{`(?i)\bsell\b`, `(?i)\bshort\b`, `فروش`},
		Symbol: []string{
			`\b(XAUUSD|EURUSD|GBPUSD|USDJPY|USDCHF|AUDUSD|NZDUSD|USDCAD|BTCUSD|ETHUSD|US30|DJIUSD|NAS100|GER40|USOIL|GOLD|SILVER)\b`,
			`\b([A-Z]{6})\b`,
			`#([A-Za-z0-9]{3,10})\b`,
		},
		Entry: []string{
			`@\s*` + number,
			`(?i)\bentry\s*[:@=\-]*\s*` + number,
			`(?i)\b(?:price|now|open)\s*[:@=\-]*\s*` + number,
			`(?:^|[\s:=@])` + number + `\b`,
		},
		SecondEntry: []string{
			`[0-9]+(?:[.,][0-9]+)?\s*[-_/:]\s*` + number,
			`(?i)2(?:nd)?\s*limit\s*@?\s*` + number,
			`(?i)=\s*` + number,
		},
		StopLoss: []string{
			`(?i)\bsl\b\s*[.:@=\-]*\s*` + number,
			`(?i)stop\s*loss\s*(?:point)?\s*[.:@=\-]*\s*` + number,
			`(?i)stoploss\s*[.:@=\-]*\s*` + number,
			`(?i)\bstop\b\s*[.:@=\-]*\s*` + number,
			`(?:استاپ|حد)\s*(?:ضرر)?\s*[.:@=\-]*\s*` + number,
		},
		// A TP index is only recognized when a separator or attached digit
		// follows the keyword; an unanchored [0-9]* would eat the leading
		// digits of the price itself ("tp 4010" must not capture "0").
		TakeProfit: []string{
			`(?i)\btp\s*[0-9]{0,2}\s*[:@=\-]+\s*` + numberRun,
			`(?i)\btp[0-9]{1,2}\s+` + numberRun,
			`(?i)\btp\s+` + numberRun,
			`(?i)take\s*profit\s*[0-9]{0,2}\s*[:@=\-]+\s*` + numberRun,
			`(?i)take\s*profit\s+` + numberRun,
			`(?i)\btargets?\s*[0-9]{0,2}\s*[:@=\-]+\s*` + numberRun,
			`(?i)\btargets?\s*[.:@=\-]*\s*` + numberRun,
			`(?:تارگت|هدف|تی پی)\s*((?:[0-9]+(?:[.,][0-9]+)?[\s/،,-]*)+)`,
		},
	}
}

// DefaultKeywordTables returns the built-in command keyword lists.
func DefaultKeywordTables() KeywordTables {
	return KeywordTables{
		Edit:       []string{"edit", "sl", "stop", "move", "حد"},
		Delete:     []string{"close", "delete", "cancel", "exit", "بستن", "حذف"},
		RiskFree:   []string{"risk free", "risk-free", "riskfree", "breakeven", "break even", "ریسک فری"},
		HalfClose:  []string{"half", "نصف"},
		TakeProfit: []string{"tp", "take profit", "target", "تی پی"},
	}
}

// Ruleset is the compiled, immutable form of PatternTables.
type Ruleset struct {
	buy         []*regexp.Regexp
	sell        []*regexp.Regexp
	symbol      []*regexp.Regexp
	entry       []*regexp.Regexp
	secondEntry []*regexp.Regexp
	stopLoss    []*regexp.Regexp
	takeProfit  []*regexp.Regexp
}

// CompileTables compiles a pattern table into matchers. Field patterns other
// than direction must contain exactly one capturing group.
func CompileTables(t PatternTables) (*Ruleset, error) {
	rs := &Ruleset{}
	var err error
	if rs.buy, err = compileList("buy", t.Buy, 0); err != nil {
		return nil, err
	}
	if rs.sell, err = compileList("sell", t.Sell, 0); err != nil {
		return nil, err
	}
	if rs.symbol, err = compileList("symbol", t.Symbol, 1); err != nil {
		return nil, err
	}
	if rs.entry, err = compileList("entry", t.Entry, 1); err != nil {
		return nil, err
	}
	if rs.secondEntry, err = compileList("second_entry", t.SecondEntry, 1); err != nil {
		return nil, err
	}
	if rs.stopLoss, err = compileList("stop_loss", t.StopLoss, 1); err != nil {
		return nil, err
	}
	if rs.takeProfit, err = compileList("take_profit", t.TakeProfit, 1); err != nil {
		return nil, err
	}
	return rs, nil
}

func compileList(field string, patterns []string, groups int) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s pattern %q: %w", field, p, err)
		}
		if groups > 0 && re.NumSubexp() != groups {
			return nil, fmt.Errorf("%s pattern %q must have exactly %d capturing group(s)", field, p, groups)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// firstCapture runs the rules in priority order and returns the first capture.
func firstCapture(rules []*regexp.Regexp, text string) (string, bool) {
	for _, re := range rules {
		if m := re.FindStringSubmatch(text); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// anyMatch reports whether any rule matches the text.
func anyMatch(rules []*regexp.Regexp, text string) bool {
	for _, re := range rules {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

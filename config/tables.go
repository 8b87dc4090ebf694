package config

import (
	"encoding/json"
	"fmt"
	"os"

	"signaltrader/internal/analyzer"
)

// LoadPatternTables reads the extractor pattern tables from a JSON file, or
// returns the built-in defaults when path is empty. A configured file that is
// missing or malformed is an error, not a silent fallback.
func LoadPatternTables(path string) (analyzer.PatternTables, error) {
	tables := analyzer.DefaultPatternTables()
	if path == "" {
		return tables, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return tables, fmt.Errorf("failed to read pattern tables %q: %w", path, err)
	}
	// Overrides replace per-field lists; absent fields keep the defaults.
	if err := json.Unmarshal(data, &tables); err != nil {
		return tables, fmt.Errorf("failed to parse pattern tables %q: %w", path, err)
	}
	return tables, nil
}

// LoadKeywordTables reads the command keyword lists from a JSON file, or
// returns the built-in defaults when path is empty.
func LoadKeywordTables(path string) (analyzer.KeywordTables, error) {
	tables := analyzer.DefaultKeywordTables()
	if path == "" {
		return tables, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return tables, fmt.Errorf("failed to read keyword tables %q: %w", path, err)
	}
	if err := json.Unmarshal(data, &tables); err != nil {
		return tables, fmt.Errorf("failed to parse keyword tables %q: %w", path, err)
	}
	return tables, nil
}

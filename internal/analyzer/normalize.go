package analyzer

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// parseNumber normalizes a numeric token before float parsing: thousands
// separators are stripped and a lone comma is treated as the decimal
// separator ("1,0850" and "1.0850" parse the same).
func parseNumber(token string) (float64, error) {
	s := strings.TrimSpace(token)
	if s == "" {
		return 0, fmt.Errorf("empty numeric token")
	}
	hasDot := strings.Contains(s, ".")
	hasComma := strings.Contains(s, ",")
	switch {
	case hasDot && hasComma:
		s = strings.ReplaceAll(s, ",", "")
	case hasComma:
		s = strings.Replace(s, ",", ".", 1)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", token, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite number %q", token)
	}
	return v, nil
}

// parseNumberRun splits a captured run like "1.0900 1.0950" or "4130/4138"
// into individual values, keeping order and skipping malformed tokens.
func parseNumberRun(capture string) []float64 {
	fields := strings.FieldsFunc(capture, func(r rune) bool {
		switch r {
		case ' ', '\t', '/', '-', '،':
			return true
		}
		return false
	})
	values := make([]float64, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ",.")
		if f == "" {
			continue
		}
		v, err := parseNumber(f)
		if err != nil {
			continue
		}
		values = append(values, v)
	}
	return values
}

// dedupe removes repeated values while preserving first-seen order.
func dedupe(values []float64) []float64 {
	seen := make(map[float64]struct{}, len(values))
	out := values[:0]
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

package config

import (
	"regexp"
	"strings"
)

// DefaultSymbols are tracked when no symbols are configured.
var DefaultSymbols = []string{"SPY", "QQQ", "IWM"}

// symbolPattern matches equity and index tickers such as SPY, BRK.B and $SPX.X.
var symbolPattern = regexp.MustCompile(`^\$?[A-Z][A-Z0-9.]{0,9}$`)

// ValidSymbol reports whether s looks like a ticker.
func ValidSymbol(s string) bool {
	return symbolPattern.MatchString(s)
}

// NormalizeSymbols upper-cases and de-duplicates symbols, dropping blanks.
func NormalizeSymbols(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// InvalidSymbols returns the entries of symbols that are not tickers.
func InvalidSymbols(symbols []string) []string {
	var invalid []string
	for _, s := range symbols {
		if !ValidSymbol(s) {
			invalid = append(invalid, s)
		}
	}
	return invalid
}

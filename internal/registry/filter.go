package registry

import (
	"sort"
	"strings"

	"github.com/opa-platform/quotes-data/internal/model"
)

// Filter is the set of symbols a subscriber wants events for. The zero
// value matches nothing; use ParseFilter or AllSymbols.
type Filter struct {
	all     bool
	symbols map[string]struct{}
}

// AllSymbols returns a filter matching every symbol.
func AllSymbols() Filter {
	return Filter{all: true}
}

// ParseFilter parses a comma-separated symbol list as supplied at connect
// time. Symbols are trimmed and uppercased. An empty list or a list
// containing "*" matches all symbols.
func ParseFilter(raw string) Filter {
	symbols := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		s := model.NormalizeSymbol(part)
		if s == "" {
			continue
		}
		if s == "*" {
			return AllSymbols()
		}
		symbols[s] = struct{}{}
	}
	if len(symbols) == 0 {
		return AllSymbols()
	}
	return Filter{symbols: symbols}
}

// Matches reports whether the filter accepts events for symbol.
func (f Filter) Matches(symbol string) bool {
	if f.all {
		return true
	}
	_, ok := f.symbols[model.NormalizeSymbol(symbol)]
	return ok
}

// All reports whether the filter is unfiltered.
func (f Filter) All() bool {
	return f.all
}

// Symbols returns the filtered symbols in sorted order, nil when unfiltered.
func (f Filter) Symbols() []string {
	if f.all {
		return nil
	}
	out := make([]string, 0, len(f.symbols))
	for s := range f.symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

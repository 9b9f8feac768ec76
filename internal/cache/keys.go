package cache

import (
	"fmt"
	"time"

	"github.com/opa-platform/quotes-data/internal/model"
)

// Key construction is deterministic and pure: the same logical query always
// yields the same key string, so concurrent identical requests converge on
// the same cache slot.

// LatestKey returns the cache key for the latest quote of a symbol.
func LatestKey(symbol string) string {
	return fmt.Sprintf("quote:%s:latest", model.NormalizeSymbol(symbol))
}

// HistoryKey returns the cache key for a history query.
func HistoryKey(symbol string, start, end time.Time, interval model.Interval) string {
	return fmt.Sprintf("quote:%s:history:%s:%s:%s",
		model.NormalizeSymbol(symbol),
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
		interval,
	)
}

// CapacityKey returns the cache key for a symbol's capacity scoring record.
func CapacityKey(symbol string) string {
	return fmt.Sprintf("capacity:score:%s", model.NormalizeSymbol(symbol))
}

// QuotePattern returns the invalidation pattern matching every quote entry
// for a symbol (latest and all history windows).
func QuotePattern(symbol string) string {
	return fmt.Sprintf("quote:%s:*", model.NormalizeSymbol(symbol))
}

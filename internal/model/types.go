package model

import (
	"strings"
	"time"
)

// -----------------------------------------------------------------------------
// Quote Types
// -----------------------------------------------------------------------------

// Quote is a single market quote as served to API consumers.
type Quote struct {
	Ticker    string    `json:"ticker"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
	Bid       *float64  `json:"bid,omitempty"`
	Ask       *float64  `json:"ask,omitempty"`

	// CapacityContext is attached opportunistically from the enrichment
	// cache. Absence is always valid.
	CapacityContext *CapacityContext `json:"capacity_context,omitempty"`
}

// CapacityContext is the enrichment record produced by the capacity
// scoring pipeline and joined onto quote reads when available.
type CapacityContext struct {
	Score        float64   `json:"score"`
	Confidence   float64   `json:"confidence"`
	LastUpdated  time.Time `json:"last_updated"`
	ModelVersion string    `json:"model_version"`
}

// QuoteCreate is an inbound quote row for batch ingestion.
type QuoteCreate struct {
	Ticker    string    `json:"ticker"`
	Timestamp time.Time `json:"timestamp"`
	Open      *float64  `json:"open,omitempty"`
	High      *float64  `json:"high,omitempty"`
	Low       *float64  `json:"low,omitempty"`
	Close     float64   `json:"close"`
	Volume    *int64    `json:"volume,omitempty"`
	Source    string    `json:"source,omitempty"`
}

// OHLCPoint is one aggregated bucket in a history query.
type OHLCPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// History is the result of a history query.
type History struct {
	Ticker   string      `json:"ticker"`
	Interval Interval    `json:"interval"`
	Data     []OHLCPoint `json:"data"`
	Count    int         `json:"count"`
}

// BatchItem is the per-ticker outcome of a batch read. A ticker missing at
// origin carries an Error and a nil Quote; the batch as a whole still
// succeeds.
type BatchItem struct {
	Ticker string `json:"ticker"`
	Quote  *Quote `json:"quote,omitempty"`
	Error  string `json:"error,omitempty"`
}

// BatchResult aggregates per-ticker outcomes of a batch read.
type BatchResult struct {
	Quotes     []BatchItem `json:"quotes"`
	Total      int         `json:"total"`
	Successful int         `json:"successful"`
	Failed     int         `json:"failed"`
}

// -----------------------------------------------------------------------------
// Realtime Wire Types
// -----------------------------------------------------------------------------

// QuoteEvent is the routing envelope of a message on the quotes.realtime
// channel. Only the fields needed for symbol routing are decoded; the raw
// payload is forwarded to subscribers untouched.
type QuoteEvent struct {
	Ticker    string `json:"ticker"`
	Symbol    string `json:"symbol"`
	Timestamp string `json:"timestamp"`
}

// RoutingSymbol returns the normalized symbol used for fan-out routing.
// Publishers use either "ticker" or "symbol"; "ticker" wins when both are
// set. Empty means the message is unroutable and must be dropped.
func (e QuoteEvent) RoutingSymbol() string {
	if s := NormalizeSymbol(e.Ticker); s != "" {
		return s
	}
	return NormalizeSymbol(e.Symbol)
}

// NormalizeSymbol trims whitespace and uppercases a ticker symbol.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// -----------------------------------------------------------------------------
// Intervals
// -----------------------------------------------------------------------------

// Interval is a history aggregation bucket width.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval1d  Interval = "1d"
)

var pgIntervals = map[Interval]string{
	Interval1m:  "1 minute",
	Interval5m:  "5 minutes",
	Interval15m: "15 minutes",
	Interval30m: "30 minutes",
	Interval1h:  "1 hour",
	Interval1d:  "1 day",
}

// Valid reports whether the interval is one of the supported bucket widths.
func (i Interval) Valid() bool {
	_, ok := pgIntervals[i]
	return ok
}

// PGInterval returns the PostgreSQL interval string for time_bucket.
// Unsupported intervals fall back to "1 minute".
func (i Interval) PGInterval() string {
	if pg, ok := pgIntervals[i]; ok {
		return pg
	}
	return "1 minute"
}

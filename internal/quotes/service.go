package quotes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opa-platform/quotes-data/internal/cache"
	"github.com/opa-platform/quotes-data/internal/model"
)

// Sentinel errors forming the read path taxonomy.
var (
	// ErrNotFound means the symbol has no data at origin. Expected, not a
	// failure.
	ErrNotFound = errors.New("quote not found")

	// ErrUnavailable means the origin store failed; the request can be
	// retried.
	ErrUnavailable = errors.New("origin store unavailable")

	// ErrInvalidQuery rejects malformed requests before they reach cache
	// or origin.
	ErrInvalidQuery = errors.New("invalid query")
)

// Pagination bounds for ListSymbols.
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// Cache is the subset of the cache-aside store the service uses.
// *cache.Store satisfies it.
type Cache interface {
	GetJSON(ctx context.Context, key string, dest any) bool
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration)
	Invalidate(ctx context.Context, pattern string) int
	Policy() cache.TTLPolicy
}

// Origin is the authoritative quote store. *database.QuoteStore satisfies
// it. GetLatest returns (nil, nil) when the ticker has no data.
type Origin interface {
	GetLatest(ctx context.Context, ticker string) (*model.Quote, error)
	GetHistory(ctx context.Context, ticker string, start, end time.Time, interval model.Interval) ([]model.OHLCPoint, error)
	GetBatch(ctx context.Context, tickers []string) ([]model.Quote, error)
	ListTickers(ctx context.Context, limit, offset int) ([]string, error)
	InsertBatch(ctx context.Context, quotes []model.QuoteCreate) (int, error)
}

// Service orchestrates cache-aside quote reads.
type Service struct {
	cache  Cache
	origin Origin
	logger *slog.Logger
}

// NewService creates a read service.
func NewService(c Cache, origin Origin, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cache: c, origin: origin, logger: logger}
}

// GetLatest returns the most recent quote for a symbol, cache first, with a
// best-effort capacity enrichment join.
func (s *Service) GetLatest(ctx context.Context, ticker string) (*model.Quote, error) {
	symbol := model.NormalizeSymbol(ticker)
	if symbol == "" {
		return nil, fmt.Errorf("%w: empty ticker", ErrInvalidQuery)
	}

	key := cache.LatestKey(symbol)

	var q model.Quote
	if s.cache.GetJSON(ctx, key, &q) {
		q.CapacityContext = nil // never trust enrichment older than the join below
		s.attachCapacity(ctx, &q)
		return &q, nil
	}

	found, err := s.origin.GetLatest(ctx, symbol)
	if err != nil {
		s.logger.Error("origin latest lookup failed", "ticker", symbol, "error", err)
		return nil, fmt.Errorf("latest %s: %w", symbol, ErrUnavailable)
	}
	if found == nil {
		return nil, fmt.Errorf("latest %s: %w", symbol, ErrNotFound)
	}

	s.cache.SetJSON(ctx, key, found, s.cache.Policy().Latest)

	s.attachCapacity(ctx, found)
	return found, nil
}

// GetHistory returns bucketed OHLC history for a symbol, cache first.
// A symbol with no rows in the window yields an empty series, not an error.
func (s *Service) GetHistory(ctx context.Context, ticker string, start, end time.Time, interval model.Interval) (*model.History, error) {
	symbol := model.NormalizeSymbol(ticker)
	if symbol == "" {
		return nil, fmt.Errorf("%w: empty ticker", ErrInvalidQuery)
	}
	if !interval.Valid() {
		return nil, fmt.Errorf("%w: unsupported interval %q", ErrInvalidQuery, interval)
	}
	if !end.After(start) {
		return nil, fmt.Errorf("%w: end must be after start", ErrInvalidQuery)
	}

	key := cache.HistoryKey(symbol, start, end, interval)

	var h model.History
	if s.cache.GetJSON(ctx, key, &h) {
		return &h, nil
	}

	points, err := s.origin.GetHistory(ctx, symbol, start, end, interval)
	if err != nil {
		s.logger.Error("origin history lookup failed", "ticker", symbol, "error", err)
		return nil, fmt.Errorf("history %s: %w", symbol, ErrUnavailable)
	}

	h = model.History{
		Ticker:   symbol,
		Interval: interval,
		Data:     points,
		Count:    len(points),
	}

	s.cache.SetJSON(ctx, key, h, s.cache.Policy().History)
	return &h, nil
}

// GetBatch returns the latest quote per requested symbol, applying the
// per-symbol cache-aside logic independently. A symbol missing at origin is
// a per-item failure; only an origin outage fails the batch.
func (s *Service) GetBatch(ctx context.Context, tickers []string) (*model.BatchResult, error) {
	if len(tickers) == 0 {
		return nil, fmt.Errorf("%w: empty ticker list", ErrInvalidQuery)
	}

	symbols := make([]string, 0, len(tickers))
	for _, t := range tickers {
		symbol := model.NormalizeSymbol(t)
		if symbol == "" {
			return nil, fmt.Errorf("%w: empty ticker in list", ErrInvalidQuery)
		}
		symbols = append(symbols, symbol)
	}

	quotes := make(map[string]*model.Quote, len(symbols))
	var misses []string
	for _, symbol := range symbols {
		if _, seen := quotes[symbol]; seen {
			continue
		}
		var q model.Quote
		if s.cache.GetJSON(ctx, cache.LatestKey(symbol), &q) {
			q.CapacityContext = nil
			quotes[symbol] = &q
		} else {
			quotes[symbol] = nil
			misses = append(misses, symbol)
		}
	}

	if len(misses) > 0 {
		found, err := s.origin.GetBatch(ctx, misses)
		if err != nil {
			s.logger.Error("origin batch lookup failed", "tickers", misses, "error", err)
			return nil, fmt.Errorf("batch: %w", ErrUnavailable)
		}
		for i := range found {
			q := found[i]
			quotes[q.Ticker] = &q
			s.cache.SetJSON(ctx, cache.LatestKey(q.Ticker), &q, s.cache.Policy().Latest)
		}
	}

	result := &model.BatchResult{Total: len(symbols)}
	for _, symbol := range symbols {
		q := quotes[symbol]
		if q == nil {
			result.Quotes = append(result.Quotes, model.BatchItem{
				Ticker: symbol,
				Error:  "ticker not found",
			})
			result.Failed++
			continue
		}
		s.attachCapacity(ctx, q)
		result.Quotes = append(result.Quotes, model.BatchItem{Ticker: symbol, Quote: q})
		result.Successful++
	}

	return result, nil
}

// ListSymbols returns available ticker symbols with pagination.
func (s *Service) ListSymbols(ctx context.Context, limit, offset int) ([]string, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	tickers, err := s.origin.ListTickers(ctx, limit, offset)
	if err != nil {
		s.logger.Error("origin ticker listing failed", "error", err)
		return nil, fmt.Errorf("list symbols: %w", ErrUnavailable)
	}
	return tickers, nil
}

// CreateBatch inserts quote rows at origin and busts the affected symbols'
// cache entries. Returns the number of rows inserted.
func (s *Service) CreateBatch(ctx context.Context, rows []model.QuoteCreate) (int, error) {
	if len(rows) == 0 {
		return 0, fmt.Errorf("%w: empty quote list", ErrInvalidQuery)
	}
	for i, q := range rows {
		if model.NormalizeSymbol(q.Ticker) == "" {
			return 0, fmt.Errorf("%w: quote %d missing ticker", ErrInvalidQuery, i)
		}
		if q.Timestamp.IsZero() {
			return 0, fmt.Errorf("%w: quote %d missing timestamp", ErrInvalidQuery, i)
		}
		if q.Close < 0 {
			return 0, fmt.Errorf("%w: quote %d has negative close", ErrInvalidQuery, i)
		}
	}

	inserted, err := s.origin.InsertBatch(ctx, rows)
	if err != nil {
		s.logger.Error("origin batch insert failed", "rows", len(rows), "error", err)
		return 0, fmt.Errorf("create batch: %w", ErrUnavailable)
	}

	// Targeted cache busting so the next read sees the new rows.
	seen := make(map[string]struct{})
	for _, q := range rows {
		symbol := model.NormalizeSymbol(q.Ticker)
		if _, done := seen[symbol]; done {
			continue
		}
		seen[symbol] = struct{}{}
		s.cache.Invalidate(ctx, cache.QuotePattern(symbol))
	}

	return inserted, nil
}

// attachCapacity performs the best-effort enrichment join: a single
// fallible lookup whose failure leaves the primary result untouched. A
// malformed record is skipped, never a partially-attached one.
func (s *Service) attachCapacity(ctx context.Context, q *model.Quote) {
	var cc model.CapacityContext
	if !s.cache.GetJSON(ctx, cache.CapacityKey(q.Ticker), &cc) {
		return
	}

	if cc.Score < 0 || cc.Score > 1 || cc.Confidence < 0 || cc.Confidence > 1 ||
		cc.LastUpdated.IsZero() || cc.ModelVersion == "" {
		s.logger.Warn("skipping malformed capacity record", "ticker", q.Ticker)
		return
	}

	q.CapacityContext = &cc
}

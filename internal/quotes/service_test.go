package quotes

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/opa-platform/quotes-data/internal/cache"
	"github.com/opa-platform/quotes-data/internal/model"
)

// fakeCache is an in-memory Cache backed by JSON blobs, mirroring what the
// Redis-backed store would hold.
type fakeCache struct {
	entries map[string][]byte
	ttls    map[string]time.Duration
	gets    int
	sets    int
	busted  []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		entries: make(map[string][]byte),
		ttls:    make(map[string]time.Duration),
	}
}

func (f *fakeCache) put(t *testing.T, key string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal fixture for %s: %v", key, err)
	}
	f.entries[key] = data
}

func (f *fakeCache) GetJSON(ctx context.Context, key string, dest any) bool {
	f.gets++
	data, ok := f.entries[key]
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false
	}
	return true
}

func (f *fakeCache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) {
	f.sets++
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	f.entries[key] = data
	f.ttls[key] = ttl
}

func (f *fakeCache) Invalidate(ctx context.Context, pattern string) int {
	f.busted = append(f.busted, pattern)
	return 0
}

func (f *fakeCache) Policy() cache.TTLPolicy {
	return cache.DefaultTTLPolicy()
}

// fakeOrigin is an Origin with canned responses per ticker.
type fakeOrigin struct {
	quotes      map[string]*model.Quote
	history     []model.OHLCPoint
	tickers     []string
	err         error
	latestCalls int
	batchCalls  int
	inserted    int
	insertRows  []model.QuoteCreate
}

func (f *fakeOrigin) GetLatest(ctx context.Context, ticker string) (*model.Quote, error) {
	f.latestCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.quotes[ticker], nil
}

func (f *fakeOrigin) GetHistory(ctx context.Context, ticker string, start, end time.Time, interval model.Interval) ([]model.OHLCPoint, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.history, nil
}

func (f *fakeOrigin) GetBatch(ctx context.Context, tickers []string) ([]model.Quote, error) {
	f.batchCalls++
	if f.err != nil {
		return nil, f.err
	}
	var out []model.Quote
	for _, t := range tickers {
		if q := f.quotes[t]; q != nil {
			out = append(out, *q)
		}
	}
	return out, nil
}

func (f *fakeOrigin) ListTickers(ctx context.Context, limit, offset int) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.tickers, nil
}

func (f *fakeOrigin) InsertBatch(ctx context.Context, quotes []model.QuoteCreate) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.insertRows = quotes
	return f.inserted, nil
}

func testQuote(ticker string) *model.Quote {
	return &model.Quote{
		Ticker:    ticker,
		Timestamp: time.Date(2025, 6, 1, 14, 30, 0, 0, time.UTC),
		Open:      100.0,
		High:      105.5,
		Low:       99.2,
		Close:     104.1,
		Volume:    12500,
	}
}

func TestGetLatestCacheHit(t *testing.T) {
	fc := newFakeCache()
	fc.put(t, cache.LatestKey("AAPL"), testQuote("AAPL"))
	origin := &fakeOrigin{}
	svc := NewService(fc, origin, nil)

	q, err := svc.GetLatest(context.Background(), "aapl")
	if err != nil {
		t.Fatalf("GetLatest() error = %v", err)
	}
	if q.Ticker != "AAPL" || q.Close != 104.1 {
		t.Errorf("GetLatest() = %+v, want cached AAPL quote", q)
	}
	if origin.latestCalls != 0 {
		t.Errorf("origin called %d times on cache hit, want 0", origin.latestCalls)
	}
}

func TestGetLatestMissPopulatesCache(t *testing.T) {
	fc := newFakeCache()
	origin := &fakeOrigin{quotes: map[string]*model.Quote{"AAPL": testQuote("AAPL")}}
	svc := NewService(fc, origin, nil)

	q, err := svc.GetLatest(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("GetLatest() error = %v", err)
	}
	if q.Close != 104.1 {
		t.Errorf("GetLatest().Close = %v, want 104.1", q.Close)
	}
	if origin.latestCalls != 1 {
		t.Errorf("origin calls = %d, want 1", origin.latestCalls)
	}

	key := cache.LatestKey("AAPL")
	if _, ok := fc.entries[key]; !ok {
		t.Fatalf("cache entry %s not populated after miss", key)
	}
	if got := fc.ttls[key]; got != cache.DefaultTTLPolicy().Latest {
		t.Errorf("latest TTL = %v, want %v", got, cache.DefaultTTLPolicy().Latest)
	}

	// Second read is served from cache.
	if _, err := svc.GetLatest(context.Background(), "AAPL"); err != nil {
		t.Fatalf("second GetLatest() error = %v", err)
	}
	if origin.latestCalls != 1 {
		t.Errorf("origin calls after warm cache = %d, want 1", origin.latestCalls)
	}
}

func TestGetLatestNotFound(t *testing.T) {
	svc := NewService(newFakeCache(), &fakeOrigin{}, nil)

	_, err := svc.GetLatest(context.Background(), "ZZZZ")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetLatest() error = %v, want ErrNotFound", err)
	}
}

func TestGetLatestOriginFailure(t *testing.T) {
	origin := &fakeOrigin{err: errors.New("connection refused")}
	svc := NewService(newFakeCache(), origin, nil)

	_, err := svc.GetLatest(context.Background(), "AAPL")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("GetLatest() error = %v, want ErrUnavailable", err)
	}
}

func TestGetLatestEmptyTicker(t *testing.T) {
	svc := NewService(newFakeCache(), &fakeOrigin{}, nil)

	_, err := svc.GetLatest(context.Background(), "   ")
	if !errors.Is(err, ErrInvalidQuery) {
		t.Errorf("GetLatest() error = %v, want ErrInvalidQuery", err)
	}
}

func TestGetLatestEnrichmentJoin(t *testing.T) {
	fc := newFakeCache()
	fc.put(t, cache.LatestKey("AAPL"), testQuote("AAPL"))
	fc.put(t, cache.CapacityKey("AAPL"), model.CapacityContext{
		Score:        0.85,
		Confidence:   0.92,
		LastUpdated:  time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC),
		ModelVersion: "v2.1",
	})
	svc := NewService(fc, &fakeOrigin{}, nil)

	q, err := svc.GetLatest(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("GetLatest() error = %v", err)
	}
	if q.CapacityContext == nil {
		t.Fatal("CapacityContext = nil, want attached record")
	}
	if q.CapacityContext.Score != 0.85 {
		t.Errorf("CapacityContext.Score = %v, want 0.85", q.CapacityContext.Score)
	}
	if q.CapacityContext.ModelVersion != "v2.1" {
		t.Errorf("CapacityContext.ModelVersion = %q, want %q", q.CapacityContext.ModelVersion, "v2.1")
	}
}

func TestGetLatestEnrichmentAbsent(t *testing.T) {
	fc := newFakeCache()
	fc.put(t, cache.LatestKey("AAPL"), testQuote("AAPL"))
	svc := NewService(fc, &fakeOrigin{}, nil)

	q, err := svc.GetLatest(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("GetLatest() error = %v", err)
	}
	if q.CapacityContext != nil {
		t.Errorf("CapacityContext = %+v, want nil when no enrichment record exists", q.CapacityContext)
	}
}

func TestGetLatestEnrichmentMalformedSkipped(t *testing.T) {
	fc := newFakeCache()
	fc.put(t, cache.LatestKey("AAPL"), testQuote("AAPL"))
	fc.put(t, cache.CapacityKey("AAPL"), model.CapacityContext{
		Score:        1.7, // out of range
		Confidence:   0.9,
		LastUpdated:  time.Now().UTC(),
		ModelVersion: "v2.1",
	})
	svc := NewService(fc, &fakeOrigin{}, nil)

	q, err := svc.GetLatest(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("GetLatest() error = %v", err)
	}
	if q.CapacityContext != nil {
		t.Errorf("CapacityContext = %+v, want nil for out-of-range score", q.CapacityContext)
	}
}

func TestGetHistoryValidation(t *testing.T) {
	svc := NewService(newFakeCache(), &fakeOrigin{}, nil)
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		ticker   string
		start    time.Time
		end      time.Time
		interval model.Interval
	}{
		{"empty ticker", "", start, start.Add(time.Hour), model.Interval5m},
		{"bad interval", "AAPL", start, start.Add(time.Hour), model.Interval("7m")},
		{"end before start", "AAPL", start, start.Add(-time.Hour), model.Interval5m},
		{"end equals start", "AAPL", start, start, model.Interval5m},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.GetHistory(context.Background(), tt.ticker, tt.start, tt.end, tt.interval)
			if !errors.Is(err, ErrInvalidQuery) {
				t.Errorf("GetHistory() error = %v, want ErrInvalidQuery", err)
			}
		})
	}
}

func TestGetHistoryMissPopulatesCache(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	points := []model.OHLCPoint{
		{Timestamp: start, Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 500},
		{Timestamp: start.Add(5 * time.Minute), Open: 100.5, High: 102, Low: 100, Close: 101.8, Volume: 800},
	}

	fc := newFakeCache()
	origin := &fakeOrigin{history: points}
	svc := NewService(fc, origin, nil)

	h, err := svc.GetHistory(context.Background(), "aapl", start, end, model.Interval5m)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if h.Ticker != "AAPL" {
		t.Errorf("History.Ticker = %q, want %q", h.Ticker, "AAPL")
	}
	if h.Count != 2 || len(h.Data) != 2 {
		t.Errorf("History.Count = %d, len(Data) = %d, want 2 and 2", h.Count, len(h.Data))
	}

	key := cache.HistoryKey("AAPL", start, end, model.Interval5m)
	if _, ok := fc.entries[key]; !ok {
		t.Fatalf("cache entry %s not populated after history miss", key)
	}
	if got := fc.ttls[key]; got != cache.DefaultTTLPolicy().History {
		t.Errorf("history TTL = %v, want %v", got, cache.DefaultTTLPolicy().History)
	}
}

func TestGetHistoryEmptyWindow(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	svc := NewService(newFakeCache(), &fakeOrigin{}, nil)

	h, err := svc.GetHistory(context.Background(), "AAPL", start, start.Add(time.Hour), model.Interval1h)
	if err != nil {
		t.Fatalf("GetHistory() error = %v, want empty series", err)
	}
	if h.Count != 0 {
		t.Errorf("History.Count = %d, want 0", h.Count)
	}
}

func TestGetHistoryOriginFailure(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	origin := &fakeOrigin{err: errors.New("timeout")}
	svc := NewService(newFakeCache(), origin, nil)

	_, err := svc.GetHistory(context.Background(), "AAPL", start, start.Add(time.Hour), model.Interval5m)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("GetHistory() error = %v, want ErrUnavailable", err)
	}
}

func TestGetBatchPartialSuccess(t *testing.T) {
	origin := &fakeOrigin{quotes: map[string]*model.Quote{"AAPL": testQuote("AAPL")}}
	svc := NewService(newFakeCache(), origin, nil)

	result, err := svc.GetBatch(context.Background(), []string{"AAPL", "ZZZZ"})
	if err != nil {
		t.Fatalf("GetBatch() error = %v", err)
	}
	if result.Total != 2 || result.Successful != 1 || result.Failed != 1 {
		t.Errorf("GetBatch() totals = %d/%d/%d, want 2/1/1",
			result.Total, result.Successful, result.Failed)
	}
	if len(result.Quotes) != 2 {
		t.Fatalf("len(Quotes) = %d, want 2", len(result.Quotes))
	}
	if result.Quotes[0].Ticker != "AAPL" || result.Quotes[0].Quote == nil {
		t.Errorf("first item = %+v, want AAPL with quote", result.Quotes[0])
	}
	if result.Quotes[1].Ticker != "ZZZZ" || result.Quotes[1].Error != "ticker not found" {
		t.Errorf("second item = %+v, want ZZZZ with not-found error", result.Quotes[1])
	}
}

func TestGetBatchMixedCacheAndOrigin(t *testing.T) {
	fc := newFakeCache()
	fc.put(t, cache.LatestKey("MSFT"), testQuote("MSFT"))
	origin := &fakeOrigin{quotes: map[string]*model.Quote{"AAPL": testQuote("AAPL")}}
	svc := NewService(fc, origin, nil)

	result, err := svc.GetBatch(context.Background(), []string{"msft", "aapl"})
	if err != nil {
		t.Fatalf("GetBatch() error = %v", err)
	}
	if result.Successful != 2 {
		t.Errorf("Successful = %d, want 2", result.Successful)
	}
	if origin.batchCalls != 1 {
		t.Errorf("origin batch calls = %d, want 1 for the single miss", origin.batchCalls)
	}
	// The origin miss is now cached.
	if _, ok := fc.entries[cache.LatestKey("AAPL")]; !ok {
		t.Error("AAPL not cached after batch origin fetch")
	}
}

func TestGetBatchOriginFailure(t *testing.T) {
	origin := &fakeOrigin{err: errors.New("down")}
	svc := NewService(newFakeCache(), origin, nil)

	_, err := svc.GetBatch(context.Background(), []string{"AAPL"})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("GetBatch() error = %v, want ErrUnavailable", err)
	}
}

func TestGetBatchEmptyList(t *testing.T) {
	svc := NewService(newFakeCache(), &fakeOrigin{}, nil)

	_, err := svc.GetBatch(context.Background(), nil)
	if !errors.Is(err, ErrInvalidQuery) {
		t.Errorf("GetBatch() error = %v, want ErrInvalidQuery", err)
	}
}

func TestListSymbolsClampsLimit(t *testing.T) {
	origin := &fakeOrigin{tickers: []string{"AAPL", "MSFT"}}
	svc := NewService(newFakeCache(), origin, nil)

	got, err := svc.ListSymbols(context.Background(), -5, -1)
	if err != nil {
		t.Fatalf("ListSymbols() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("len(ListSymbols()) = %d, want 2", len(got))
	}
}

func TestCreateBatchInvalidatesCache(t *testing.T) {
	fc := newFakeCache()
	origin := &fakeOrigin{inserted: 2}
	svc := NewService(fc, origin, nil)

	rows := []model.QuoteCreate{
		{Ticker: "aapl", Timestamp: time.Now().UTC(), Close: 104.1},
		{Ticker: "AAPL", Timestamp: time.Now().UTC().Add(time.Minute), Close: 104.3},
		{Ticker: "MSFT", Timestamp: time.Now().UTC(), Close: 410.0},
	}

	n, err := svc.CreateBatch(context.Background(), rows)
	if err != nil {
		t.Fatalf("CreateBatch() error = %v", err)
	}
	if n != 2 {
		t.Errorf("CreateBatch() = %d, want 2", n)
	}
	if len(fc.busted) != 2 {
		t.Fatalf("invalidated %d patterns, want 2 distinct symbols", len(fc.busted))
	}
	if fc.busted[0] != cache.QuotePattern("AAPL") || fc.busted[1] != cache.QuotePattern("MSFT") {
		t.Errorf("invalidation patterns = %v, want AAPL then MSFT", fc.busted)
	}
}

func TestCreateBatchValidation(t *testing.T) {
	svc := NewService(newFakeCache(), &fakeOrigin{}, nil)
	now := time.Now().UTC()

	tests := []struct {
		name string
		rows []model.QuoteCreate
	}{
		{"empty list", nil},
		{"missing ticker", []model.QuoteCreate{{Timestamp: now, Close: 1}}},
		{"missing timestamp", []model.QuoteCreate{{Ticker: "AAPL", Close: 1}}},
		{"negative close", []model.QuoteCreate{{Ticker: "AAPL", Timestamp: now, Close: -1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateBatch(context.Background(), tt.rows)
			if !errors.Is(err, ErrInvalidQuery) {
				t.Errorf("CreateBatch() error = %v, want ErrInvalidQuery", err)
			}
		})
	}
}

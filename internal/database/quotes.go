package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opa-platform/quotes-data/internal/model"
)

// QuoteStore reads and writes quote rows in the quotes.real_time hypertable.
// It is the origin store behind the cache-aside layer.
type QuoteStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewQuoteStore creates a QuoteStore.
func NewQuoteStore(pool *pgxpool.Pool, logger *slog.Logger) *QuoteStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &QuoteStore{pool: pool, logger: logger}
}

// GetLatest returns the most recent quote for a ticker, or (nil, nil) when
// the ticker has no rows. A non-nil error always means an origin failure.
func (s *QuoteStore) GetLatest(ctx context.Context, ticker string) (*model.Quote, error) {
	const query = `
		SELECT ticker, time, open, high, low, price, volume, bid, ask
		FROM quotes.real_time
		WHERE ticker = $1
		ORDER BY time DESC
		LIMIT 1
	`

	var q model.Quote
	err := s.pool.QueryRow(ctx, query, model.NormalizeSymbol(ticker)).Scan(
		&q.Ticker, &q.Timestamp, &q.Open, &q.High, &q.Low, &q.Close, &q.Volume, &q.Bid, &q.Ask,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest quote for %s: %w", ticker, err)
	}
	return &q, nil
}

// GetHistory returns bucketed OHLC aggregates for a ticker within [start, end].
func (s *QuoteStore) GetHistory(ctx context.Context, ticker string, start, end time.Time, interval model.Interval) ([]model.OHLCPoint, error) {
	const query = `
		SELECT
			time_bucket($1::interval, time) AS bucket,
			FIRST(open, time) AS open,
			MAX(high) AS high,
			MIN(low) AS low,
			LAST(price, time) AS close,
			SUM(volume) AS volume
		FROM quotes.real_time
		WHERE ticker = $2
		  AND time >= $3
		  AND time <= $4
		GROUP BY bucket
		ORDER BY bucket ASC
	`

	rows, err := s.pool.Query(ctx, query, interval.PGInterval(), model.NormalizeSymbol(ticker), start, end)
	if err != nil {
		return nil, fmt.Errorf("query history for %s: %w", ticker, err)
	}
	defer rows.Close()

	var points []model.OHLCPoint
	for rows.Next() {
		var p model.OHLCPoint
		if err := rows.Scan(&p.Timestamp, &p.Open, &p.High, &p.Low, &p.Close, &p.Volume); err != nil {
			return nil, fmt.Errorf("scan history row for %s: %w", ticker, err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows for %s: %w", ticker, err)
	}

	s.logger.Debug("fetched history from origin", "ticker", ticker, "points", len(points))
	return points, nil
}

// GetBatch returns the latest quote per requested ticker. Tickers with no
// rows are simply absent from the result; the caller reports them per-item.
func (s *QuoteStore) GetBatch(ctx context.Context, tickers []string) ([]model.Quote, error) {
	const query = `
		SELECT DISTINCT ON (ticker)
			ticker, time, open, high, low, price, volume, bid, ask
		FROM quotes.real_time
		WHERE ticker = ANY($1)
		ORDER BY ticker, time DESC
	`

	normalized := make([]string, 0, len(tickers))
	for _, t := range tickers {
		normalized = append(normalized, model.NormalizeSymbol(t))
	}

	rows, err := s.pool.Query(ctx, query, normalized)
	if err != nil {
		return nil, fmt.Errorf("query batch quotes: %w", err)
	}
	defer rows.Close()

	var quotes []model.Quote
	for rows.Next() {
		var q model.Quote
		if err := rows.Scan(&q.Ticker, &q.Timestamp, &q.Open, &q.High, &q.Low, &q.Close, &q.Volume, &q.Bid, &q.Ask); err != nil {
			return nil, fmt.Errorf("scan batch row: %w", err)
		}
		quotes = append(quotes, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batch rows: %w", err)
	}
	return quotes, nil
}

// ListTickers returns distinct ticker symbols with pagination.
func (s *QuoteStore) ListTickers(ctx context.Context, limit, offset int) ([]string, error) {
	const query = `
		SELECT DISTINCT ticker
		FROM quotes.real_time
		ORDER BY ticker
		LIMIT $1 OFFSET $2
	`

	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query tickers: %w", err)
	}
	defer rows.Close()

	var tickers []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan ticker: %w", err)
		}
		tickers = append(tickers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tickers: %w", err)
	}
	return tickers, nil
}

// InsertBatch inserts quote rows with ON CONFLICT DO NOTHING and returns the
// number of rows actually inserted.
func (s *QuoteStore) InsertBatch(ctx context.Context, quotes []model.QuoteCreate) (int, error) {
	if len(quotes) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, q := range quotes {
		source := q.Source
		if source == "" {
			source = "api"
		}
		batch.Queue(`
			INSERT INTO quotes.real_time (ticker, time, open, high, low, price, volume, source)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (ticker, time) DO NOTHING
		`, model.NormalizeSymbol(q.Ticker), q.Timestamp, q.Open, q.High, q.Low, q.Close, q.Volume, source)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for range quotes {
		ct, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("insert quote batch: %w", err)
		}
		inserted += int(ct.RowsAffected())
	}

	s.logger.Debug("inserted quote batch", "requested", len(quotes), "inserted", inserted)
	return inserted, nil
}

// Ping verifies the origin store is reachable.
func (s *QuoteStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

package enrichment

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opa-platform/quotes-data/internal/cache"
	"github.com/opa-platform/quotes-data/internal/model"
	"github.com/opa-platform/quotes-data/internal/stream"
)

// writeTimeout bounds the cache write for a single record so an in-flight
// write can complete during shutdown without holding the listener open.
const writeTimeout = 5 * time.Second

// Cache is the subset of the cache-aside store the listener writes to.
// *cache.Store satisfies it.
type Cache interface {
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration)
}

// Stats contains runtime statistics.
type Stats struct {
	Received int64
	Cached   int64
	Dropped  int64
}

// capacityMessage is the wire format on the capacity.scoring channel.
// Score and Confidence are pointers so a present zero is distinguishable
// from a missing field.
type capacityMessage struct {
	Ticker       string    `json:"ticker"`
	Score        *float64  `json:"score"`
	Confidence   *float64  `json:"confidence"`
	Timestamp    time.Time `json:"timestamp"`
	ModelVersion string    `json:"model_version"`
}

// Listener consumes capacity scoring messages and caches them for the
// read path's best-effort enrichment join.
type Listener struct {
	source stream.Source
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}

	mu       sync.Mutex
	err      error
	received int64
	cached   int64
	dropped  int64
}

// NewListener creates a Listener over an already-opened upstream source.
func NewListener(source stream.Source, c Cache, ttl time.Duration, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		source: source,
		cache:  c,
		ttl:    ttl,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start begins consuming the capacity channel.
func (l *Listener) Start(ctx context.Context) error {
	l.ctx, l.cancel = context.WithCancel(ctx)

	l.wg.Add(1)
	go l.run()

	l.logger.Info("capacity listener started", "ttl", l.ttl)
	return nil
}

// Stop shuts the listener down cooperatively. Cancellation is checked
// between messages, so an in-flight cache write always completes.
func (l *Listener) Stop(ctx context.Context) error {
	l.source.Close()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		l.logger.Info("capacity listener stopped")
		return nil
	case <-ctx.Done():
		l.logger.Warn("capacity listener stop timed out")
		if l.cancel != nil {
			l.cancel()
		}
		return ctx.Err()
	}
}

// Done is closed when the listener loop terminates.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// Err returns the terminal upstream error after Done closes, nil on a
// graceful shutdown.
func (l *Listener) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Stats returns current statistics.
func (l *Listener) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{Received: l.received, Cached: l.cached, Dropped: l.dropped}
}

func (l *Listener) run() {
	defer l.wg.Done()
	defer close(l.done)

	for {
		select {
		case <-l.ctx.Done():
			return
		case msg, ok := <-l.source.Messages():
			if !ok {
				if err := l.source.Err(); err != nil {
					l.mu.Lock()
					l.err = err
					l.mu.Unlock()
					l.logger.Warn("capacity subscription lost, reconnect required", "error", err)
				}
				return
			}
			l.handle(msg)
		}
	}
}

// handle validates and caches a single scoring message. Any defect drops
// the message and never stops the loop.
func (l *Listener) handle(msg stream.Message) {
	l.mu.Lock()
	l.received++
	l.mu.Unlock()

	var m capacityMessage
	if err := json.Unmarshal(msg.Payload, &m); err != nil {
		l.drop("malformed capacity message", "error", err)
		return
	}

	symbol := model.NormalizeSymbol(m.Ticker)
	switch {
	case symbol == "":
		l.drop("capacity message missing ticker")
		return
	case m.Score == nil || *m.Score < 0 || *m.Score > 1:
		l.drop("capacity message missing or out-of-range score", "ticker", symbol)
		return
	case m.Confidence == nil || *m.Confidence < 0 || *m.Confidence > 1:
		l.drop("capacity message missing or out-of-range confidence", "ticker", symbol)
		return
	case m.Timestamp.IsZero():
		l.drop("capacity message missing timestamp", "ticker", symbol)
		return
	case m.ModelVersion == "":
		l.drop("capacity message missing model_version", "ticker", symbol)
		return
	}

	record := model.CapacityContext{
		Score:        *m.Score,
		Confidence:   *m.Confidence,
		LastUpdated:  m.Timestamp,
		ModelVersion: m.ModelVersion,
	}

	// Deliberately not the loop ctx: a shutdown must not abort a write
	// already in flight, only stop the loop from popping more messages.
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	l.cache.SetJSON(ctx, cache.CapacityKey(symbol), record, l.ttl)

	l.mu.Lock()
	l.cached++
	l.mu.Unlock()

	l.logger.Debug("cached capacity score",
		"ticker", symbol,
		"score", *m.Score,
		"confidence", *m.Confidence,
		"model_version", m.ModelVersion,
	)
}

func (l *Listener) drop(reason string, args ...any) {
	l.mu.Lock()
	l.dropped++
	l.mu.Unlock()
	l.logger.Warn(reason, args...)
}

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/opa-platform/quotes-data/internal/model"
	"github.com/opa-platform/quotes-data/internal/registry"
	"github.com/opa-platform/quotes-data/internal/stream"
)

// State identifies where a relay instance is in its lifecycle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateSubscribing  State = "subscribing"
	StateListening    State = "listening"
	StateDraining     State = "draining"
)

// Stats contains runtime statistics.
type Stats struct {
	MessagesReceived int64
	Delivered        int64
	ParseErrors      int64
	Unroutable       int64
	DeliveryFailures int64
	State            State
}

// Relay fans one upstream subscription out to registry subscribers.
type Relay struct {
	source   stream.Source
	registry *registry.Registry
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}

	mu       sync.Mutex
	state    State
	err      error
	received int64
	delivered int64
	parseErrors int64
	unroutable  int64
	failures    int64
}

// New creates a Relay over an already-opened upstream source.
func New(source stream.Source, reg *registry.Registry, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		source:   source,
		registry: reg,
		logger:   logger,
		done:     make(chan struct{}),
		state:    StateSubscribing,
	}
}

// Start begins the relay loop.
func (r *Relay) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.run()

	r.logger.Info("broadcast relay started")
	return nil
}

// Stop gracefully shuts down the relay: the upstream source stops producing
// and already-popped messages finish fan-out before resources are released.
func (r *Relay) Stop(ctx context.Context) error {
	r.setState(StateDraining)
	r.source.Close()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("broadcast relay stopped")
		return nil
	case <-ctx.Done():
		r.logger.Warn("broadcast relay stop timed out")
		if r.cancel != nil {
			r.cancel()
		}
		return ctx.Err()
	}
}

// Done is closed when the relay loop terminates, for any reason.
func (r *Relay) Done() <-chan struct{} {
	return r.done
}

// Err returns the terminal upstream error after Done closes. Nil means a
// graceful shutdown; non-nil means the owner must resubscribe.
func (r *Relay) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// State returns the current lifecycle state.
func (r *Relay) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Stats returns current statistics.
func (r *Relay) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		MessagesReceived: r.received,
		Delivered:        r.delivered,
		ParseErrors:      r.parseErrors,
		Unroutable:       r.unroutable,
		DeliveryFailures: r.failures,
		State:            r.state,
	}
}

// run is the main relay goroutine.
func (r *Relay) run() {
	defer r.wg.Done()
	defer close(r.done)

	r.setState(StateListening)

	for {
		select {
		case <-r.ctx.Done():
			r.setState(StateDisconnected)
			return
		case msg, ok := <-r.source.Messages():
			if !ok {
				if err := r.source.Err(); err != nil {
					r.mu.Lock()
					r.err = err
					r.mu.Unlock()
					r.logger.Warn("upstream subscription lost, reconnect required", "error", err)
				}
				r.setState(StateDisconnected)
				return
			}
			r.handle(msg)
		}
	}
}

// handle routes a single upstream message. Malformed input is dropped and
// logged; it never stops the relay loop.
func (r *Relay) handle(msg stream.Message) {
	r.mu.Lock()
	r.received++
	r.mu.Unlock()

	var event model.QuoteEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		r.logger.Warn("dropping malformed quote event", "error", err)
		r.mu.Lock()
		r.parseErrors++
		r.mu.Unlock()
		return
	}

	symbol := event.RoutingSymbol()
	if symbol == "" {
		r.logger.Warn("dropping quote event without symbol")
		r.mu.Lock()
		r.unroutable++
		r.mu.Unlock()
		return
	}

	for _, id := range r.registry.SnapshotMatching(symbol) {
		err := r.registry.Deliver(id, msg.Payload)
		switch {
		case err == nil:
			r.mu.Lock()
			r.delivered++
			r.mu.Unlock()
		case errors.Is(err, registry.ErrNotRegistered):
			// Unregistered between snapshot and delivery. Nothing to do.
		default:
			// One subscriber's failure never affects the others in the
			// same fan-out pass; the relay decides and unregisters.
			r.logger.Warn("delivery failed, unregistering subscriber",
				"conn_id", id,
				"symbol", symbol,
				"error", err,
			)
			r.registry.Unregister(id)
			r.mu.Lock()
			r.failures++
			r.mu.Unlock()
		}
	}
}

func (r *Relay) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

package registry

import (
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrNotRegistered is returned by Deliver when the connection id is unknown.
// A late delivery attempt after an unregister lands here and is safe to
// ignore.
var ErrNotRegistered = errors.New("connection not registered")

// Sink is the outbound side of a subscriber connection. The registry borrows
// the sink for the connection's lifetime, it never owns the transport.
//
// Send must not block: implementations report failure when the transport is
// closed or its buffer is full, and the caller decides what to do.
type Sink interface {
	Send(payload []byte) error

	// Shutdown closes the underlying transport. A nil reason is a normal
	// close; non-nil signals an unrecoverable server-side failure.
	Shutdown(reason error)
}

type subscriber struct {
	id     uuid.UUID
	sink   Sink
	filter Filter
}

// Registry is a thread-safe mapping of connection id to subscriber.
type Registry struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[uuid.UUID]*subscriber
}

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger,
		subs:   make(map[uuid.UUID]*subscriber),
	}
}

// Register inserts a new subscriber atomically and returns its connection id.
func (r *Registry) Register(sink Sink, filter Filter) uuid.UUID {
	id := uuid.New()

	r.mu.Lock()
	r.subs[id] = &subscriber{id: id, sink: sink, filter: filter}
	count := len(r.subs)
	r.mu.Unlock()

	r.logger.Info("subscriber registered",
		"conn_id", id,
		"filter", filterLabel(filter),
		"active", count,
	)
	return id
}

// Unregister removes a subscriber. Idempotent: removing an unknown id is a
// no-op.
func (r *Registry) Unregister(id uuid.UUID) {
	r.mu.Lock()
	_, known := r.subs[id]
	delete(r.subs, id)
	count := len(r.subs)
	r.mu.Unlock()

	if known {
		r.logger.Info("subscriber unregistered", "conn_id", id, "active", count)
	}
}

// Deliver pushes payload to one subscriber's outbound sink. It returns
// ErrNotRegistered for unknown ids and the sink's error on transport
// failure; the registry does not self-heal, the caller must unregister.
func (r *Registry) Deliver(id uuid.UUID, payload []byte) error {
	r.mu.RLock()
	sub, ok := r.subs[id]
	r.mu.RUnlock()

	if !ok {
		return ErrNotRegistered
	}
	return sub.sink.Send(payload)
}

// SnapshotMatching returns, at a single consistent point in time, the ids of
// all subscribers whose filter matches symbol. Delivery is attempted
// independently per id so a slow consumer never blocks the snapshot.
func (r *Registry) SnapshotMatching(symbol string) []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []uuid.UUID
	for id, sub := range r.subs {
		if sub.filter.Matches(symbol) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Len returns the number of registered subscribers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// CloseAll unregisters every subscriber and shuts down its transport,
// passing reason through to the sink. Used on service shutdown and on
// unrecoverable relay failure.
func (r *Registry) CloseAll(reason error) {
	r.mu.Lock()
	subs := make([]*subscriber, 0, len(r.subs))
	for _, sub := range r.subs {
		subs = append(subs, sub)
	}
	r.subs = make(map[uuid.UUID]*subscriber)
	r.mu.Unlock()

	for _, sub := range subs {
		sub.sink.Shutdown(reason)
	}

	if len(subs) > 0 {
		r.logger.Info("closed all subscribers", "count", len(subs), "reason", reason)
	}
}

func filterLabel(f Filter) string {
	if f.All() {
		return "all"
	}
	return strings.Join(f.Symbols(), ",")
}

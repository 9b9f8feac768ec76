package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/opa-platform/quotes-data/internal/registry"
	"github.com/opa-platform/quotes-data/internal/stream"
)

// fakeSource is a channel-backed stream.Source.
type fakeSource struct {
	ch        chan stream.Message
	err       error
	closeOnce sync.Once
}

func newFakeSource(buffer int) *fakeSource {
	return &fakeSource{ch: make(chan stream.Message, buffer)}
}

func (f *fakeSource) Messages() <-chan stream.Message { return f.ch }
func (f *fakeSource) Err() error                      { return f.err }

func (f *fakeSource) Close() error {
	f.closeOnce.Do(func() { close(f.ch) })
	return nil
}

func (f *fakeSource) publish(payload string) {
	f.ch <- stream.Message{Channel: "quotes.realtime", Payload: []byte(payload), ReceivedAt: time.Now()}
}

// failWith closes the message channel with a terminal error, simulating a
// fatal upstream disconnect.
func (f *fakeSource) failWith(err error) {
	f.err = err
	f.closeOnce.Do(func() { close(f.ch) })
}

// fakeSink records payloads; Send fails when broken.
type fakeSink struct {
	mu     sync.Mutex
	sent   [][]byte
	broken bool
}

func (s *fakeSink) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return errors.New("send buffer full")
	}
	s.sent = append(s.sent, payload)
	return nil
}

func (s *fakeSink) Shutdown(reason error) {}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestRelay_FanOutRespectsFilters(t *testing.T) {
	reg := registry.New(nil)
	src := newFakeSource(10)
	r := New(src, reg, nil)

	aaplSink := &fakeSink{}
	msftSink := &fakeSink{}
	reg.Register(aaplSink, registry.ParseFilter("AAPL"))
	reg.Register(msftSink, registry.ParseFilter("MSFT"))

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer r.Stop(context.Background())

	src.publish(`{"ticker":"AAPL","timestamp":"2026-01-21T10:30:00Z","close":150.90}`)

	waitFor(t, func() bool { return aaplSink.count() == 1 }, "AAPL subscriber never received the event")

	if msftSink.count() != 0 {
		t.Errorf("MSFT subscriber received %d events, want 0", msftSink.count())
	}
}

func TestRelay_MalformedMessageDropped(t *testing.T) {
	reg := registry.New(nil)
	src := newFakeSource(10)
	r := New(src, reg, nil)

	sink := &fakeSink{}
	reg.Register(sink, registry.AllSymbols())

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer r.Stop(context.Background())

	src.publish(`{not json`)
	src.publish(`{"timestamp":"2026-01-21T10:30:00Z"}`) // no symbol
	src.publish(`{"ticker":"AAPL","timestamp":"2026-01-21T10:30:00Z"}`)

	// The loop survives bad input and keeps routing.
	waitFor(t, func() bool { return sink.count() == 1 }, "valid event after bad input never delivered")

	stats := r.Stats()
	if stats.ParseErrors != 1 {
		t.Errorf("ParseErrors = %d, want 1", stats.ParseErrors)
	}
	if stats.Unroutable != 1 {
		t.Errorf("Unroutable = %d, want 1", stats.Unroutable)
	}
	if stats.MessagesReceived != 3 {
		t.Errorf("MessagesReceived = %d, want 3", stats.MessagesReceived)
	}
}

func TestRelay_FailedDeliveryUnregistersOnlyThatSubscriber(t *testing.T) {
	reg := registry.New(nil)
	src := newFakeSource(10)
	r := New(src, reg, nil)

	broken := &fakeSink{broken: true}
	healthy := &fakeSink{}
	reg.Register(broken, registry.ParseFilter("AAPL"))
	reg.Register(healthy, registry.ParseFilter("AAPL"))

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer r.Stop(context.Background())

	src.publish(`{"ticker":"AAPL","close":150.90}`)

	waitFor(t, func() bool { return healthy.count() == 1 }, "healthy subscriber starved by failing peer")
	waitFor(t, func() bool { return reg.Len() == 1 }, "failing subscriber never unregistered")

	// Subsequent events keep flowing to the survivor.
	src.publish(`{"ticker":"AAPL","close":151.00}`)
	waitFor(t, func() bool { return healthy.count() == 2 }, "survivor stopped receiving events")

	if got := r.Stats().DeliveryFailures; got != 1 {
		t.Errorf("DeliveryFailures = %d, want 1", got)
	}
}

func TestRelay_FatalUpstreamSurfacesError(t *testing.T) {
	reg := registry.New(nil)
	src := newFakeSource(10)
	r := New(src, reg, nil)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	upstreamErr := errors.New("connection reset")
	src.failWith(upstreamErr)

	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed after fatal upstream error")
	}

	if !errors.Is(r.Err(), upstreamErr) {
		t.Errorf("Err() = %v, want %v", r.Err(), upstreamErr)
	}
	if r.State() != StateDisconnected {
		t.Errorf("State = %s, want %s", r.State(), StateDisconnected)
	}
}

func TestRelay_StopDrainsBufferedMessages(t *testing.T) {
	reg := registry.New(nil)
	src := newFakeSource(10)
	r := New(src, reg, nil)

	sink := &fakeSink{}
	reg.Register(sink, registry.AllSymbols())

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		src.publish(`{"ticker":"AAPL","close":150.90}`)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if sink.count() != 5 {
		t.Errorf("delivered %d messages through drain, want 5", sink.count())
	}
	if r.Err() != nil {
		t.Errorf("Err() = %v after graceful stop, want nil", r.Err())
	}
	if r.State() != StateDisconnected {
		t.Errorf("State = %s, want %s", r.State(), StateDisconnected)
	}
}

func TestRelay_DeliveryOrderPreservedPerSubscriber(t *testing.T) {
	reg := registry.New(nil)
	src := newFakeSource(10)
	r := New(src, reg, nil)

	sink := &fakeSink{}
	reg.Register(sink, registry.ParseFilter("AAPL"))

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer r.Stop(context.Background())

	payloads := []string{
		`{"ticker":"AAPL","close":1}`,
		`{"ticker":"AAPL","close":2}`,
		`{"ticker":"AAPL","close":3}`,
	}
	for _, p := range payloads {
		src.publish(p)
	}

	waitFor(t, func() bool { return sink.count() == 3 }, "not all events delivered")

	sink.mu.Lock()
	defer sink.mu.Unlock()
	for i, p := range payloads {
		if string(sink.sent[i]) != p {
			t.Errorf("delivery %d = %s, want %s", i, sink.sent[i], p)
		}
	}
}

package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Message is one message popped from an upstream channel.
type Message struct {
	Channel    string
	Payload    []byte
	ReceivedAt time.Time
}

// Source is a stream of messages from one upstream subscription.
//
// Messages is closed when the source terminates. After the channel closes,
// Err reports the terminal error; nil means a graceful close.
type Source interface {
	Messages() <-chan Message
	Err() error
	Close() error
}

// Subscriber opens pub/sub subscriptions on a shared Redis client.
type Subscriber struct {
	client *redis.Client
	logger *slog.Logger
}

// NewSubscriber creates a Subscriber.
func NewSubscriber(client *redis.Client, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{client: client, logger: logger}
}

// Subscribe opens a subscription to channel and confirms it within timeout.
// The returned Source pumps messages until a fatal upstream error, a call to
// Close, or ctx cancellation.
func (s *Subscriber) Subscribe(ctx context.Context, channel string, timeout time.Duration) (Source, error) {
	pubsub := s.client.Subscribe(ctx, channel)

	// Wait for the subscription confirmation so a dead broker fails fast
	// instead of blocking the first read indefinitely.
	confirmCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, err := pubsub.Receive(confirmCtx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	s.logger.Info("subscribed to upstream channel", "channel", channel)

	src := &redisSource{
		channel: channel,
		pubsub:  pubsub,
		msgs:    make(chan Message, 64),
	}

	pumpCtx, pumpCancel := context.WithCancel(ctx)
	src.cancel = pumpCancel
	go src.pump(pumpCtx)

	return src, nil
}

// redisSource adapts *redis.PubSub to the Source interface.
type redisSource struct {
	channel string
	pubsub  *redis.PubSub
	msgs    chan Message
	cancel  context.CancelFunc

	mu  sync.Mutex
	err error

	closeOnce sync.Once
}

func (r *redisSource) Messages() <-chan Message {
	return r.msgs
}

func (r *redisSource) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *redisSource) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.cancel()
		err = r.pubsub.Close()
	})
	return err
}

func (r *redisSource) pump(ctx context.Context) {
	defer close(r.msgs)

	for {
		msg, err := r.pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				// Graceful: canceled by owner.
				return
			}
			r.mu.Lock()
			r.err = err
			r.mu.Unlock()
			return
		}

		m := Message{
			Channel:    msg.Channel,
			Payload:    []byte(msg.Payload),
			ReceivedAt: time.Now(),
		}

		select {
		case r.msgs <- m:
		case <-ctx.Done():
			return
		}
	}
}

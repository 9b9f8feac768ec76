package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/opa-platform/quotes-data/internal/cache"
	"github.com/opa-platform/quotes-data/internal/config"
	"github.com/opa-platform/quotes-data/internal/database"
	"github.com/opa-platform/quotes-data/internal/enrichment"
	"github.com/opa-platform/quotes-data/internal/quotes"
	"github.com/opa-platform/quotes-data/internal/registry"
	"github.com/opa-platform/quotes-data/internal/relay"
	"github.com/opa-platform/quotes-data/internal/server"
	"github.com/opa-platform/quotes-data/internal/stream"
	"github.com/opa-platform/quotes-data/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/quotesd.local.yaml", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Instance.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("starting quotesd",
		"version", version.Version,
		"commit", version.Commit,
		"instance_id", cfg.Instance.ID,
		"config", *configPath,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to Redis (cache and upstream pub/sub)
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	defer rdb.Close()

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		logger.Error("failed to connect to redis", "addr", cfg.Redis.Addr, "error", err)
		os.Exit(1)
	}
	pingCancel()
	logger.Info("redis connected", "addr", cfg.Redis.Addr)

	// Connect to database
	logger.Info("connecting to database",
		"host", cfg.Database.Timescale.Host,
		"port", cfg.Database.Timescale.Port,
		"database", cfg.Database.Timescale.Name,
	)
	pool, err := database.Connect(ctx, cfg.Database.Timescale)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	// Wire the components
	policy := cache.TTLPolicy{
		Latest:   cfg.Cache.LatestTTL,
		History:  cfg.Cache.HistoryTTL,
		Capacity: cfg.Cache.CapacityTTL,
	}
	store := cache.NewStore(rdb, policy, logger)
	origin := database.NewQuoteStore(pool, logger)
	svc := quotes.NewService(store, origin, logger)
	reg := registry.New(logger)
	subscriber := stream.NewSubscriber(rdb, logger)

	srv := server.New(svc, reg, store, origin, cfg.Server, cfg.Subscribers, logger)

	g, gctx := errgroup.WithContext(ctx)

	// HTTP/WebSocket server
	g.Go(func() error {
		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()

		select {
		case <-gctx.Done():
			return srv.Shutdown(context.Background())
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		}
	})

	// Quote broadcast relay, resubscribed on upstream failure
	g.Go(func() error {
		return supervise(gctx, logger, "quotes", cfg.Reconnect, func() (streamTask, error) {
			src, err := subscriber.Subscribe(gctx, cfg.Channels.Quotes, cfg.Reconnect.SubscribeTimeout)
			if err != nil {
				return nil, err
			}
			return relay.New(src, reg, logger), nil
		})
	})

	// Capacity scoring listener, same supervision
	g.Go(func() error {
		return supervise(gctx, logger, "capacity", cfg.Reconnect, func() (streamTask, error) {
			src, err := subscriber.Subscribe(gctx, cfg.Channels.Capacity, cfg.Reconnect.SubscribeTimeout)
			if err != nil {
				return nil, err
			}
			return enrichment.NewListener(src, store, policy.Capacity, logger), nil
		})
	})

	logger.Info("quotesd running",
		"instance_id", cfg.Instance.ID,
		"port", cfg.Server.Port,
		"quotes_channel", cfg.Channels.Quotes,
		"capacity_channel", cfg.Channels.Capacity,
	)

	if err := g.Wait(); err != nil {
		logger.Error("service failed", "error", err)
		reg.CloseAll(err)
		os.Exit(1)
	}

	// Graceful shutdown: subscribers get a normal close frame.
	reg.CloseAll(nil)
	logger.Info("quotesd stopped")
}

// streamTask is a supervised upstream consumer: the relay and the capacity
// listener both satisfy it.
type streamTask interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Done() <-chan struct{}
	Err() error
}

// supervise keeps one upstream consumer alive: it (re)subscribes, runs the
// task until it terminates, and backs off exponentially between attempts.
// Returns nil when ctx is canceled.
func supervise(ctx context.Context, logger *slog.Logger, name string, cfg config.ReconnectConfig, open func() (streamTask, error)) error {
	delay := cfg.BaseDelay

	for {
		task, err := open()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("upstream subscribe failed, retrying",
				"stream", name,
				"delay", delay,
				"error", err,
			)
			if !sleep(ctx, delay) {
				return nil
			}
			delay = nextDelay(delay, cfg.MaxDelay)
			continue
		}

		if err := task.Start(ctx); err != nil {
			return err
		}
		delay = cfg.BaseDelay

		select {
		case <-ctx.Done():
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			task.Stop(stopCtx)
			stopCancel()
			return nil

		case <-task.Done():
			if err := task.Err(); err != nil {
				logger.Warn("upstream stream terminated, resubscribing",
					"stream", name,
					"error", err,
				)
			}
			if !sleep(ctx, delay) {
				return nil
			}
			delay = nextDelay(delay, cfg.MaxDelay)
		}
	}
}

// sleep waits for d or until ctx is canceled. Returns false on cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func nextDelay(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

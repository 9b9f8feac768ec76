package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultLogLevel         = "info"
	DefaultServerHost       = "0.0.0.0"
	DefaultServerPort       = 8000
	DefaultReadTimeout      = 10 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultShutdownTimeout  = 15 * time.Second
	DefaultDBPort           = 5432
	DefaultDBSSLMode        = "prefer"
	DefaultMaxConns         = 10
	DefaultMinConns         = 2
	DefaultRedisAddr        = "localhost:6379"
	DefaultRedisPoolSize    = 10
	DefaultRedisDialTimeout = 5 * time.Second
	DefaultQuotesChannel    = "quotes.realtime"
	DefaultCapacityChannel  = "capacity.scoring"
	DefaultLatestTTL        = 5 * time.Second
	DefaultHistoryTTL       = 60 * time.Second
	DefaultCapacityTTL      = time.Hour
	DefaultSendBuffer       = 256
	DefaultSendTimeout      = 5 * time.Second
	DefaultPingPeriod       = 50 * time.Second
	DefaultPongWait         = 60 * time.Second
	DefaultReconnectBase    = 1 * time.Second
	DefaultReconnectMax     = 60 * time.Second
	DefaultSubscribeTimeout = 10 * time.Second
)

func (c *ServiceConfig) applyDefaults() {
	// Instance defaults
	if c.Instance.LogLevel == "" {
		c.Instance.LogLevel = DefaultLogLevel
	}

	// Server defaults
	if c.Server.Host == "" {
		c.Server.Host = DefaultServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = DefaultReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Database defaults
	applyDBDefaults(&c.Database.Timescale)

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = DefaultRedisAddr
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = DefaultRedisPoolSize
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = DefaultRedisDialTimeout
	}

	// Channel defaults
	if c.Channels.Quotes == "" {
		c.Channels.Quotes = DefaultQuotesChannel
	}
	if c.Channels.Capacity == "" {
		c.Channels.Capacity = DefaultCapacityChannel
	}

	// Cache TTL defaults
	if c.Cache.LatestTTL == 0 {
		c.Cache.LatestTTL = DefaultLatestTTL
	}
	if c.Cache.HistoryTTL == 0 {
		c.Cache.HistoryTTL = DefaultHistoryTTL
	}
	if c.Cache.CapacityTTL == 0 {
		c.Cache.CapacityTTL = DefaultCapacityTTL
	}

	// Subscriber defaults
	if c.Subscribers.SendBuffer == 0 {
		c.Subscribers.SendBuffer = DefaultSendBuffer
	}
	if c.Subscribers.WriteTimeout == 0 {
		c.Subscribers.WriteTimeout = DefaultSendTimeout
	}
	if c.Subscribers.PingPeriod == 0 {
		c.Subscribers.PingPeriod = DefaultPingPeriod
	}
	if c.Subscribers.PongWait == 0 {
		c.Subscribers.PongWait = DefaultPongWait
	}

	// Reconnect defaults
	if c.Reconnect.BaseDelay == 0 {
		c.Reconnect.BaseDelay = DefaultReconnectBase
	}
	if c.Reconnect.MaxDelay == 0 {
		c.Reconnect.MaxDelay = DefaultReconnectMax
	}
	if c.Reconnect.SubscribeTimeout == 0 {
		c.Reconnect.SubscribeTimeout = DefaultSubscribeTimeout
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}

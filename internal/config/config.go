package config

import "time"

// ServiceConfig is the root configuration for a quotesd instance.
type ServiceConfig struct {
	Instance    InstanceConfig    `yaml:"instance"`
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Channels    ChannelsConfig    `yaml:"channels"`
	Cache       CacheConfig       `yaml:"cache"`
	Subscribers SubscribersConfig `yaml:"subscribers"`
	Reconnect   ReconnectConfig   `yaml:"reconnect"`
}

// InstanceConfig identifies this service instance.
type InstanceConfig struct {
	ID       string `yaml:"id"`
	LogLevel string `yaml:"log_level"` // debug, info, warn, error
}

// ServerConfig holds the HTTP/WebSocket listener settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds the TimescaleDB connection for quote time-series data.
type DatabaseConfig struct {
	Timescale DBConfig `yaml:"timescale"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// RedisConfig holds the Redis connection used for both the quote cache and
// the upstream pub/sub channels.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// ChannelsConfig names the upstream pub/sub channels.
type ChannelsConfig struct {
	Quotes   string `yaml:"quotes"`
	Capacity string `yaml:"capacity"`
}

// CacheConfig holds cache-aside freshness windows. The defaults are the
// service's policy constants; deployments may override them.
type CacheConfig struct {
	LatestTTL   time.Duration `yaml:"latest_ttl"`
	HistoryTTL  time.Duration `yaml:"history_ttl"`
	CapacityTTL time.Duration `yaml:"capacity_ttl"`
}

// SubscribersConfig holds per-connection settings for WebSocket subscribers.
type SubscribersConfig struct {
	SendBuffer   int           `yaml:"send_buffer"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PingPeriod   time.Duration `yaml:"ping_period"`
	PongWait     time.Duration `yaml:"pong_wait"`
}

// ReconnectConfig holds upstream subscription reconnect settings.
type ReconnectConfig struct {
	BaseDelay        time.Duration `yaml:"base_delay"`
	MaxDelay         time.Duration `yaml:"max_delay"`
	SubscribeTimeout time.Duration `yaml:"subscribe_timeout"`
}

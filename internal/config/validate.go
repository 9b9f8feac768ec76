package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *ServiceConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	switch c.Instance.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("instance.log_level must be one of debug/info/warn/error, got %q", c.Instance.LogLevel)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if err := c.Database.Timescale.validate("database.timescale"); err != nil {
		return err
	}

	if c.Redis.Addr == "" {
		return errors.New("redis.addr is required")
	}
	if c.Redis.PoolSize < 1 {
		return errors.New("redis.pool_size must be >= 1")
	}

	if c.Channels.Quotes == "" {
		return errors.New("channels.quotes is required")
	}
	if c.Channels.Capacity == "" {
		return errors.New("channels.capacity is required")
	}

	if c.Cache.LatestTTL <= 0 {
		return errors.New("cache.latest_ttl must be positive")
	}
	if c.Cache.HistoryTTL <= 0 {
		return errors.New("cache.history_ttl must be positive")
	}
	if c.Cache.CapacityTTL <= 0 {
		return errors.New("cache.capacity_ttl must be positive")
	}

	if c.Subscribers.SendBuffer < 1 {
		return errors.New("subscribers.send_buffer must be >= 1")
	}

	if c.Reconnect.BaseDelay <= 0 {
		return errors.New("reconnect.base_delay must be positive")
	}
	if c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
		return fmt.Errorf("reconnect.max_delay (%s) cannot be less than base_delay (%s)",
			c.Reconnect.MaxDelay, c.Reconnect.BaseDelay)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

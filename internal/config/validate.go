package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	if err := c.Feed.validate(); err != nil {
		return err
	}

	if c.History.Size < 1 {
		return errors.New("history.size must be >= 1")
	}

	if c.Recorder.Enabled {
		if err := c.Database.Timescale.validate("database.timescale"); err != nil {
			return err
		}
		if c.Recorder.BatchSize < 1 {
			return errors.New("recorder.batch_size must be >= 1")
		}
		if c.Recorder.FlushInterval <= 0 {
			return errors.New("recorder.flush_interval must be > 0")
		}
		if c.Recorder.BufferSize < 1 {
			return errors.New("recorder.buffer_size must be >= 1")
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
		}
	}

	return nil
}

func (f *FeedConfig) validate() error {
	if f.Endpoint == "" {
		return errors.New("feed.endpoint is required")
	}
	u, err := url.Parse(f.Endpoint)
	if err != nil {
		return fmt.Errorf("feed.endpoint: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("feed.endpoint must use ws or wss, got %q", u.Scheme)
	}
	if f.ReconnectInterval <= 0 {
		return errors.New("feed.reconnect_interval must be > 0")
	}
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"dial_timeout", f.DialTimeout},
		{"write_timeout", f.WriteTimeout},
		{"ping_interval", f.PingInterval},
		{"ping_timeout", f.PingTimeout},
	} {
		if d.value < 0 {
			return fmt.Errorf("feed.%s must be >= 0, got %s", d.name, d.value)
		}
	}
	if f.MaxQueueSize < 0 {
		return errors.New("feed.max_queue_size must be >= 0")
	}
	if f.MessageBuffer < 1 {
		return errors.New("feed.message_buffer must be >= 1")
	}
	if f.PingInterval > 0 && f.PingTimeout > 0 && f.PingTimeout < f.PingInterval {
		return fmt.Errorf("feed.ping_timeout (%s) cannot be shorter than ping_interval (%s)", f.PingTimeout, f.PingInterval)
	}
	if len(f.Securities) == 0 {
		return errors.New("feed.securities must not be empty")
	}
	for i, s := range f.Securities {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("feed.securities[%d] is empty", i)
		}
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

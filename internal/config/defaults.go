package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultInstanceID           = "feedwatch"
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
	DefaultEndpoint             = "ws://localhost:8765"
	DefaultReconnectInterval    = 3000 * time.Millisecond
	DefaultMaxReconnectAttempts = 10
	DefaultDialTimeout          = 10 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultPingInterval         = 30 * time.Second
	DefaultPingTimeout          = 90 * time.Second
	DefaultMessageBuffer        = 10000
	DefaultHistorySize          = 300
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultBatchSize            = 1000
	DefaultFlushInterval        = 1 * time.Second
	DefaultBufferSize           = 10000
	DefaultMetricsPort          = 9090
	DefaultMetricsPath          = "/metrics"
	DefaultMockListenAddr       = "localhost:8765"
	DefaultMockPath             = "/"
	DefaultMockTickInterval     = 1 * time.Second
)

// DefaultSecurities is the subscription used when none is configured.
var DefaultSecurities = []string{
	"7203 JP Equity",
	"USDJPY Curncy",
	"NKY Index",
}

// ApplyDefaults fills every unset optional field.
func (c *Config) ApplyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = DefaultInstanceID
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}

	// Feed defaults
	if c.Feed.Endpoint == "" {
		c.Feed.Endpoint = DefaultEndpoint
	}
	if c.Feed.ReconnectInterval == 0 {
		c.Feed.ReconnectInterval = DefaultReconnectInterval
	}
	if c.Feed.MaxReconnectAttempts == 0 {
		c.Feed.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Feed.DialTimeout == 0 {
		c.Feed.DialTimeout = DefaultDialTimeout
	}
	if c.Feed.WriteTimeout == 0 {
		c.Feed.WriteTimeout = DefaultWriteTimeout
	}
	if c.Feed.PingInterval == 0 {
		c.Feed.PingInterval = DefaultPingInterval
	}
	if c.Feed.PingTimeout == 0 {
		c.Feed.PingTimeout = DefaultPingTimeout
	}
	if c.Feed.MessageBuffer == 0 {
		c.Feed.MessageBuffer = DefaultMessageBuffer
	}
	if len(c.Feed.Securities) == 0 {
		c.Feed.Securities = append([]string(nil), DefaultSecurities...)
	}

	if c.History.Size == 0 {
		c.History.Size = DefaultHistorySize
	}

	// Database defaults
	applyDBDefaults(&c.Database.Timescale)

	// Recorder defaults
	if c.Recorder.BatchSize == 0 {
		c.Recorder.BatchSize = DefaultBatchSize
	}
	if c.Recorder.FlushInterval == 0 {
		c.Recorder.FlushInterval = DefaultFlushInterval
	}
	if c.Recorder.BufferSize == 0 {
		c.Recorder.BufferSize = DefaultBufferSize
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Mock defaults
	if c.Mock.ListenAddr == "" {
		c.Mock.ListenAddr = DefaultMockListenAddr
	}
	if c.Mock.Path == "" {
		c.Mock.Path = DefaultMockPath
	}
	if c.Mock.TickInterval == 0 {
		c.Mock.TickInterval = DefaultMockTickInterval
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

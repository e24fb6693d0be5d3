package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rickgao/marketfeed/internal/connection"
	"github.com/rickgao/marketfeed/internal/router"
	"github.com/rickgao/marketfeed/internal/writer"
)

// Config configures a Collector.
type Config struct {
	// Namespace is the metrics namespace (default: "marketfeed").
	Namespace string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// ManagerSource is the read side of a connection.Manager.
type ManagerSource interface {
	QueueLen() int
	ReconnectAttempts() int
}

// RouterSource reports router statistics.
type RouterSource interface {
	Stats() router.RouterStats
}

// WriterSource reports recorder statistics.
type WriterSource interface {
	Stats() writer.WriterMetrics
}

// Collector turns connection events into Prometheus metrics.
type Collector struct {
	cfg     Config
	factory promauto.Factory

	state             prometheus.Gauge
	up                prometheus.Gauge
	opens             prometheus.Counter
	closes            prometheus.Counter
	errors            prometheus.Counter
	reconnectAttempts prometheus.Counter
	exhaustions       prometheus.Counter
	messages          prometheus.Counter
	malformed         prometheus.Counter
	sessionDuration   prometheus.Histogram

	mu       sync.Mutex
	openedAt time.Time
}

// NewCollector registers the connection metrics.
func NewCollector(cfg Config) *Collector {
	if cfg.Namespace == "" {
		cfg.Namespace = "marketfeed"
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(cfg.Registry)
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "connection",
			Name:        name,
			Help:        help,
			ConstLabels: cfg.ConstLabels,
		})
	}

	return &Collector{
		cfg:     cfg,
		factory: factory,

		state: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "connection",
			Name:        "state",
			Help:        "Current connection state (0=disconnected 1=connecting 2=open 3=reconnect_waiting 4=permanently_failed)",
			ConstLabels: cfg.ConstLabels,
		}),
		up: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "connection",
			Name:        "up",
			Help:        "1 while the connection is open",
			ConstLabels: cfg.ConstLabels,
		}),
		opens:             counter("opens_total", "Total successful connection opens"),
		closes:            counter("closes_total", "Total connection closes, including failed attempts"),
		errors:            counter("errors_total", "Total connection and transport errors"),
		reconnectAttempts: counter("reconnect_attempts_total", "Total scheduled reconnect attempts"),
		exhaustions:       counter("exhaustions_total", "Times reconnect attempts were exhausted"),
		messages:          counter("messages_total", "Total well-formed inbound messages"),
		malformed:         counter("malformed_total", "Total malformed inbound payloads dropped"),
		sessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "connection",
			Name:        "session_duration_seconds",
			Help:        "How long each open connection lasted",
			ConstLabels: cfg.ConstLabels,
			Buckets:     prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}
}

// Observe records one manager event. Pass it to Handlers.OnEvent or as a
// feed observer.
func (c *Collector) Observe(ev connection.Event) {
	switch ev.Type {
	case connection.EventStateChange:
		c.state.Set(float64(ev.To))
		if ev.To == connection.StateOpen {
			c.up.Set(1)
		} else {
			c.up.Set(0)
		}
		if ev.To == connection.StateReconnectWaiting {
			c.reconnectAttempts.Inc()
		}
	case connection.EventOpen:
		c.opens.Inc()
		c.mu.Lock()
		c.openedAt = ev.At
		c.mu.Unlock()
	case connection.EventClose:
		c.closes.Inc()
		c.mu.Lock()
		if !c.openedAt.IsZero() {
			c.sessionDuration.Observe(ev.At.Sub(c.openedAt).Seconds())
			c.openedAt = time.Time{}
		}
		c.mu.Unlock()
	case connection.EventError:
		c.errors.Inc()
	case connection.EventExhausted:
		c.exhaustions.Inc()
	case connection.EventMessage:
		c.messages.Inc()
	case connection.EventMalformed:
		c.malformed.Inc()
	}
}

// WatchManager exports the manager's queue depth and attempt counter.
func (c *Collector) WatchManager(m ManagerSource) {
	c.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   c.cfg.Namespace,
		Subsystem:   "connection",
		Name:        "queue_depth",
		Help:        "Outbound messages waiting for an open connection",
		ConstLabels: c.cfg.ConstLabels,
	}, func() float64 { return float64(m.QueueLen()) })

	c.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   c.cfg.Namespace,
		Subsystem:   "connection",
		Name:        "reconnect_attempts",
		Help:        "Reconnect attempts since the last successful open",
		ConstLabels: c.cfg.ConstLabels,
	}, func() float64 { return float64(m.ReconnectAttempts()) })
}

// WatchRouter exports router counters.
func (c *Collector) WatchRouter(r RouterSource) {
	counterFunc := func(name, help string, value func(router.RouterStats) int64) {
		c.factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   c.cfg.Namespace,
			Subsystem:   "router",
			Name:        name,
			Help:        help,
			ConstLabels: c.cfg.ConstLabels,
		}, func() float64 { return float64(value(r.Stats())) })
	}

	counterFunc("messages_total", "Payloads handled by the router",
		func(s router.RouterStats) int64 { return s.MessagesReceived })
	counterFunc("ticks_total", "Ticks routed to the recorder",
		func(s router.RouterStats) int64 { return s.TicksRouted })
	counterFunc("parse_errors_total", "Payloads that failed to decode",
		func(s router.RouterStats) int64 { return s.ParseErrors })
	counterFunc("unknown_total", "Payloads of an unknown type",
		func(s router.RouterStats) int64 { return s.UnknownMessages })

	c.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   c.cfg.Namespace,
		Subsystem:   "router",
		Name:        "securities",
		Help:        "Securities with retained history",
		ConstLabels: c.cfg.ConstLabels,
	}, func() float64 { return float64(r.Stats().Securities) })

	c.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   c.cfg.Namespace,
		Subsystem:   "router",
		Name:        "tick_buffer_depth",
		Help:        "Ticks waiting for the recorder",
		ConstLabels: c.cfg.ConstLabels,
	}, func() float64 { return float64(r.Stats().TickBuffer.Count) })
}

// WatchWriter exports recorder counters.
func (c *Collector) WatchWriter(w WriterSource) {
	counterFunc := func(name, help string, value func(writer.WriterMetrics) int64) {
		c.factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   c.cfg.Namespace,
			Subsystem:   "recorder",
			Name:        name,
			Help:        help,
			ConstLabels: c.cfg.ConstLabels,
		}, func() float64 { return float64(value(w.Stats())) })
	}

	counterFunc("inserts_total", "Ticks inserted",
		func(m writer.WriterMetrics) int64 { return m.Inserts })
	counterFunc("conflicts_total", "Ticks skipped as duplicates",
		func(m writer.WriterMetrics) int64 { return m.Conflicts })
	counterFunc("errors_total", "Failed batch inserts",
		func(m writer.WriterMetrics) int64 { return m.Errors })
	counterFunc("flushes_total", "Successful batch flushes",
		func(m writer.WriterMetrics) int64 { return m.Flushes })
}

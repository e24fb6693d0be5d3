package router

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/marketfeed/internal/buffer"
	"github.com/rickgao/marketfeed/internal/model"
)

// Router parses inbound feed payloads, keeps the per-security chart history
// and hands ticks to the recorder.
type Router interface {
	// Handle classifies and routes one payload. Safe for concurrent use.
	Handle(payload json.RawMessage, receivedAt time.Time) Kind

	// History returns the retained ticks per security.
	History() *History

	// Ticks returns the recorder's input buffer.
	Ticks() *buffer.Growable[TickMsg]

	// Subscribed returns the securities from the latest confirmation.
	Subscribed() []string

	// Stats returns current router statistics.
	Stats() RouterStats

	// Close closes the tick buffer. Handle keeps updating history afterwards.
	Close()
}

// router is the internal implementation.
type router struct {
	cfg    RouterConfig
	logger *slog.Logger

	history *History
	ticks   *buffer.Growable[TickMsg]

	mu              sync.RWMutex
	subscribed      []string
	received        int64
	routed          int64
	confirmations   int64
	parseErrors     int64
	unknownMessages int64
}

// NewRouter creates a new Message Router.
func NewRouter(cfg RouterConfig, logger *slog.Logger) Router {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultRouterConfig()
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaults.HistorySize
	}
	if cfg.TickBufferSize <= 0 {
		cfg.TickBufferSize = defaults.TickBufferSize
	}

	return &router{
		cfg:     cfg,
		logger:  logger.With("component", "router"),
		history: NewHistory(cfg.HistorySize),
		ticks:   buffer.NewGrowable[TickMsg](cfg.TickBufferSize),
	}
}

// Handle routes a single payload.
func (r *router) Handle(payload json.RawMessage, receivedAt time.Time) Kind {
	r.mu.Lock()
	r.received++
	r.mu.Unlock()

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		r.logger.Warn("failed to extract message type", "error", err)
		r.countParseError()
		return KindInvalid
	}

	switch {
	case env.Type == model.TypeSubscriptionConfirmed:
		var msg model.SubscriptionConfirmed
		if err := json.Unmarshal(payload, &msg); err != nil {
			r.logger.Warn("failed to parse subscription confirmation", "error", err)
			r.countParseError()
			return KindInvalid
		}
		r.mu.Lock()
		r.subscribed = append([]string(nil), msg.Securities...)
		r.confirmations++
		r.mu.Unlock()
		r.logger.Info("subscription confirmed", "securities", msg.Securities)
		return KindConfirmation

	case env.Type == "" && env.Security != "":
		var tick model.Tick
		if err := json.Unmarshal(payload, &tick); err != nil {
			r.logger.Warn("failed to parse tick", "security", env.Security, "error", err)
			r.countParseError()
			return KindInvalid
		}
		if err := tick.Validate(); err != nil {
			r.logger.Warn("dropping invalid tick", "error", err)
			r.countParseError()
			return KindInvalid
		}

		msg := TickMsg{Tick: tick, ReceivedAt: receivedAt}
		r.history.Add(msg)
		sent := r.ticks.Send(msg)

		r.mu.Lock()
		if sent {
			r.routed++
		}
		r.mu.Unlock()
		return KindTick

	default:
		r.logger.Debug("skipping message type", "type", env.Type)
		r.mu.Lock()
		r.unknownMessages++
		r.mu.Unlock()
		return KindUnknown
	}
}

func (r *router) countParseError() {
	r.mu.Lock()
	r.parseErrors++
	r.mu.Unlock()
}

// History returns the per-security history.
func (r *router) History() *History {
	return r.history
}

// Ticks returns the recorder input buffer.
func (r *router) Ticks() *buffer.Growable[TickMsg] {
	return r.ticks
}

// Subscribed returns the confirmed securities.
func (r *router) Subscribed() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.subscribed...)
}

// Stats returns current statistics.
func (r *router) Stats() RouterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return RouterStats{
		MessagesReceived: r.received,
		TicksRouted:      r.routed,
		Confirmations:    r.confirmations,
		ParseErrors:      r.parseErrors,
		UnknownMessages:  r.unknownMessages,
		Securities:       len(r.history.Securities()),
		TickBuffer:       r.ticks.Stats(),
	}
}

// Close closes the tick buffer.
func (r *router) Close() {
	r.ticks.Close()
}

package router

import (
	"time"

	"github.com/rickgao/marketfeed/internal/buffer"
	"github.com/rickgao/marketfeed/internal/model"
)

// RouterConfig holds configuration for the Message Router.
type RouterConfig struct {
	HistorySize    int // Ticks retained per security. Default: 300
	TickBufferSize int // Initial recorder buffer capacity. Default: 1000
}

// DefaultRouterConfig returns default configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		HistorySize:    300,
		TickBufferSize: 1000,
	}
}

// Kind classifies an inbound payload.
type Kind int

const (
	KindUnknown Kind = iota
	KindTick
	KindConfirmation
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindTick:
		return "tick"
	case KindConfirmation:
		return "subscription_confirmed"
	case KindInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// TickMsg is a decoded tick plus the local receive time.
type TickMsg struct {
	model.Tick
	ReceivedAt time.Time
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	MessagesReceived int64
	TicksRouted      int64
	Confirmations    int64
	ParseErrors      int64
	UnknownMessages  int64
	Securities       int
	TickBuffer       buffer.Stats
}

// envelope is used for fast classification.
type envelope struct {
	Type     string `json:"type"`
	Security string `json:"security"`
}

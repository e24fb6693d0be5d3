package connection

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrClosedByPeer    = errors.New("connection closed by peer")
	ErrNoEndpoint      = errors.New("endpoint is required")
	ErrQueueFull       = errors.New("outbound queue full")
	ErrStopped         = errors.New("manager stopped")

	// ErrMalformedPayload marks inbound messages that are not valid JSON.
	ErrMalformedPayload = errors.New("malformed payload")
)

// State is the lifecycle state of a Manager.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateReconnectWaiting
	StatePermanentlyFailed
)

var stateNames = [...]string{
	"disconnected",
	"connecting",
	"open",
	"reconnect_waiting",
	"permanently_failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// EventType identifies what an Event reports.
type EventType int

const (
	EventStateChange EventType = iota
	EventOpen
	EventMessage
	EventMalformed
	EventError
	EventClose
	EventExhausted
)

func (t EventType) String() string {
	switch t {
	case EventStateChange:
		return "state_change"
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventMalformed:
		return "malformed"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	case EventExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Event is a single notification emitted by the Manager. Events are delivered
// to handlers in the order the Manager produced them.
type Event struct {
	Type EventType
	At   time.Time

	// Session identifies the connection the event belongs to (uuid.Nil when
	// no connection was established).
	Session uuid.UUID

	// EventStateChange
	From State
	To   State

	// EventMessage / EventMalformed
	Payload    json.RawMessage
	ReceivedAt time.Time

	// EventError / EventMalformed
	Err error

	// EventExhausted: reconnect attempts made before giving up.
	Attempts int
}

// Handlers are the subscriber callbacks. Every field is optional. All
// callbacks run on one dispatcher goroutine, never on the caller's goroutine,
// so they may call back into the Manager.
type Handlers struct {
	OnOpen    func()
	OnClose   func()
	OnError   func(err error)
	OnMessage func(payload json.RawMessage)

	// OnEvent receives every event, including state changes, malformed
	// payloads and exhaustion.
	OnEvent func(ev Event)
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL          string        // WebSocket URL (e.g., ws://localhost:8765)
	DialTimeout  time.Duration // Handshake timeout
	PingInterval time.Duration // How often we ping the server
	PingTimeout  time.Duration // Max time without ping/pong before considering connection stale
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		DialTimeout:  10 * time.Second,
		PingInterval: 30 * time.Second,
		PingTimeout:  90 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   10000,
	}
}

// ManagerConfig configures the Manager.
type ManagerConfig struct {
	Endpoint             string        // Feed address, required
	ReconnectInterval    time.Duration // Fixed delay before each reconnect attempt
	MaxReconnectAttempts int           // Reconnect attempts before giving up
	MaxQueueSize         int           // Cap on messages queued while not open, 0 = unbounded
	DialTimeout          time.Duration // Upper bound on one connection attempt

	Handlers Handlers
}

// Default manager values.
const (
	DefaultReconnectInterval    = 3000 * time.Millisecond
	DefaultMaxReconnectAttempts = 10
	DefaultDialTimeout          = 10 * time.Second
)

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ReconnectInterval:    DefaultReconnectInterval,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		DialTimeout:          DefaultDialTimeout,
	}
}

// applyDefaults fills unset fields. A zero MaxReconnectAttempts means the
// default; a negative value disables automatic reconnection.
func (c *ManagerConfig) applyDefaults() {
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = DefaultReconnectInterval
	}
	switch {
	case c.MaxReconnectAttempts == 0:
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	case c.MaxReconnectAttempts < 0:
		c.MaxReconnectAttempts = 0
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
}

package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/marketfeed/internal/buffer"
)

// Manager supervises one streaming connection to the feed endpoint. It queues
// outbound messages while disconnected, reconnects after a fixed delay up to
// MaxReconnectAttempts times, and delivers inbound messages and lifecycle
// events to Handlers in order.
//
// All transitions run on a single loop goroutine. Handlers run on a separate
// dispatcher goroutine. Stop releases both, along with the active
// connection and any pending reconnect timer.
type Manager struct {
	cfg      ManagerConfig
	dialer   Dialer
	logger   *slog.Logger
	handlers Handlers

	queue  *outboundQueue
	events *buffer.Growable[Event]

	ctx    context.Context // canceled by Stop; parent of every dial
	cancel context.CancelFunc

	// Loop inputs
	cmds    chan command
	kick    chan struct{}
	dials   chan dialResult
	inbound chan connEvent
	timers  chan uint64

	quit         chan struct{}
	loopDone     chan struct{}
	dispatchDone chan struct{}
	stopOnce     sync.Once

	// Owned by the loop goroutine.
	state      State
	attempts   int
	client     Client
	session    uuid.UUID
	gen        uint64 // bumped whenever the current dial or connection is abandoned
	pumpStop   chan struct{}
	dialCancel context.CancelFunc
	timer      *time.Timer
	timerGen   uint64

	// Published for readers on other goroutines.
	pubState    atomic.Int32
	pubAttempts atomic.Int32
	lastMu      sync.RWMutex
	last        json.RawMessage

	opens       atomic.Int64
	messages    atomic.Int64
	malformed   atomic.Int64
	errorsSeen  atomic.Int64
	exhaustions atomic.Int64
}

// ManagerStats provides statistics about the manager.
type ManagerStats struct {
	State             State
	ReconnectAttempts int
	Opens             int64
	Messages          int64
	Malformed         int64
	Errors            int64
	Exhaustions       int64
	Queue             QueueStats
}

type commandKind int

const (
	cmdStart commandKind = iota
	cmdDisconnect
	cmdReconnect
)

func (k commandKind) String() string {
	switch k {
	case cmdStart:
		return "start"
	case cmdDisconnect:
		return "disconnect"
	case cmdReconnect:
		return "reconnect"
	default:
		return "unknown"
	}
}

type command struct {
	kind commandKind
	done chan struct{}
}

type dialResult struct {
	gen    uint64
	client Client
	err    error
}

type connEvent struct {
	gen uint64
	msg TimestampedMessage
	err error // terminal; set when the connection ended
	end bool
}

// NewManager creates a Manager in StateDisconnected. Nothing is dialed until
// Start is called. A nil dialer dials cfg.Endpoint with gorilla/websocket
// using DefaultClientConfig.
func NewManager(cfg ManagerConfig, dialer Dialer, logger *slog.Logger) (*Manager, error) {
	if cfg.Endpoint == "" {
		return nil, ErrNoEndpoint
	}
	cfg.applyDefaults()

	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "connection_manager", "endpoint", cfg.Endpoint)

	if dialer == nil {
		clientCfg := DefaultClientConfig()
		clientCfg.URL = cfg.Endpoint
		clientCfg.DialTimeout = cfg.DialTimeout
		dialer = NewWebSocketDialer(clientCfg, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		cfg:          cfg,
		dialer:       dialer,
		logger:       logger,
		handlers:     cfg.Handlers,
		queue:        newOutboundQueue(cfg.MaxQueueSize),
		events:       buffer.NewGrowable[Event](64),
		ctx:          ctx,
		cancel:       cancel,
		cmds:         make(chan command),
		kick:         make(chan struct{}, 1),
		dials:        make(chan dialResult),
		inbound:      make(chan connEvent),
		timers:       make(chan uint64),
		quit:         make(chan struct{}),
		loopDone:     make(chan struct{}),
		dispatchDone: make(chan struct{}),
		state:        StateDisconnected,
	}

	go m.run()
	go m.dispatch()

	return m, nil
}

// Start connects unless a connection is already being established or open.
func (m *Manager) Start() error {
	return m.do(cmdStart)
}

// Disconnect closes the connection and suppresses automatic reconnection
// until Start or Reconnect is called.
func (m *Manager) Disconnect() error {
	return m.do(cmdDisconnect)
}

// Reconnect resets the attempt counter, tears down any existing connection
// and starts a fresh attempt cycle.
func (m *Manager) Reconnect() error {
	return m.do(cmdReconnect)
}

// Send encodes message as JSON and transmits it, or queues it until the
// connection opens. []byte and json.RawMessage are sent as-is. Send never
// blocks and never fails because the connection is down. With MaxQueueSize
// set, ErrQueueFull is returned once that many messages wait for an open.
func (m *Manager) Send(message any) error {
	data, err := encode(message)
	if err != nil {
		return err
	}

	select {
	case <-m.quit:
		return ErrStopped
	default:
	}

	// While open the loop is already flushing; only a backlog waiting for
	// the next open counts against MaxQueueSize.
	if err := m.queue.push(data, m.State() != StateOpen); err != nil {
		m.logger.Warn("outbound queue full, rejecting message",
			"limit", m.cfg.MaxQueueSize,
		)
		return err
	}

	select {
	case m.kick <- struct{}{}:
	default:
	}
	return nil
}

// Stop shuts the manager down: the pending timer and any in-flight dial are
// canceled, the connection is closed and queued events are delivered. It
// must not be called from a handler, since it waits for the dispatcher.
func (m *Manager) Stop(ctx context.Context) error {
	m.stopOnce.Do(func() {
		m.logger.Info("stopping connection manager")
		close(m.quit)
		m.cancel()
	})

	for _, done := range []chan struct{}{m.loopDone, m.dispatchDone} {
		select {
		case <-done:
		case <-ctx.Done():
			m.logger.Warn("shutdown timeout")
			return ctx.Err()
		}
	}
	return nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	return State(m.pubState.Load())
}

// IsConnected reports whether the connection is open.
func (m *Manager) IsConnected() bool {
	return m.State() == StateOpen
}

// ReconnectAttempts returns attempts made since the last successful open.
func (m *Manager) ReconnectAttempts() int {
	return int(m.pubAttempts.Load())
}

// LastMessage returns the most recent well-formed inbound message, or nil.
func (m *Manager) LastMessage() json.RawMessage {
	m.lastMu.RLock()
	defer m.lastMu.RUnlock()
	return m.last
}

// QueueLen returns the number of messages waiting for an open connection.
func (m *Manager) QueueLen() int {
	return m.queue.Len()
}

// Endpoint returns the configured feed address.
func (m *Manager) Endpoint() string {
	return m.cfg.Endpoint
}

// Stats returns current statistics.
func (m *Manager) Stats() ManagerStats {
	return ManagerStats{
		State:             m.State(),
		ReconnectAttempts: m.ReconnectAttempts(),
		Opens:             m.opens.Load(),
		Messages:          m.messages.Load(),
		Malformed:         m.malformed.Load(),
		Errors:            m.errorsSeen.Load(),
		Exhaustions:       m.exhaustions.Load(),
		Queue:             m.queue.stats(),
	}
}

func encode(message any) ([]byte, error) {
	switch v := message.(type) {
	case json.RawMessage:
		return v, nil
	case []byte:
		return v, nil
	}
	data, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

// do hands a lifecycle command to the loop and waits until it is applied.
func (m *Manager) do(kind commandKind) error {
	cmd := command{kind: kind, done: make(chan struct{})}

	select {
	case m.cmds <- cmd:
	case <-m.loopDone:
		return ErrStopped
	}

	select {
	case <-cmd.done:
		return nil
	case <-m.loopDone:
		return ErrStopped
	}
}

// run is the loop goroutine. It is the only writer of the loop-owned fields.
func (m *Manager) run() {
	defer close(m.loopDone)

	for {
		select {
		case <-m.quit:
			m.shutdown()
			return

		case cmd := <-m.cmds:
			m.handleCommand(cmd.kind)
			close(cmd.done)

		case <-m.kick:
			if err := m.flush(); err != nil {
				m.lose(err)
			}

		case res := <-m.dials:
			m.handleDial(res)

		case ev := <-m.inbound:
			m.handleInbound(ev)

		case gen := <-m.timers:
			m.handleTimer(gen)
		}
	}
}

func (m *Manager) handleCommand(kind commandKind) {
	m.logger.Debug("command", "cmd", kind, "state", m.state)

	switch kind {
	case cmdStart:
		if m.state == StateConnecting || m.state == StateOpen {
			return
		}
		m.connect()

	case cmdDisconnect:
		m.cancelTimer()
		m.cancelDial()
		m.setAttempts(m.cfg.MaxReconnectAttempts)
		wasOpen := m.dropClient()
		m.setState(StateDisconnected)
		if wasOpen {
			m.emit(Event{Type: EventClose})
		}
		m.session = uuid.Nil
		m.logger.Info("disconnected by request")

	case cmdReconnect:
		m.setAttempts(0)
		m.cancelTimer()
		m.cancelDial()
		if m.dropClient() {
			m.setState(StateDisconnected)
			m.emit(Event{Type: EventClose})
		}
		m.session = uuid.Nil
		m.connect()
	}
}

// connect moves to StateConnecting and dials in the background. The result
// comes back to the loop on m.dials.
func (m *Manager) connect() {
	m.cancelTimer()
	m.cancelDial()
	m.gen++
	gen := m.gen

	m.setState(StateConnecting)
	m.logger.Info("connecting", "attempt", m.attempts)

	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.DialTimeout)
	m.dialCancel = cancel

	go func() {
		c, err := m.dialer.Dial(ctx)
		select {
		case m.dials <- dialResult{gen: gen, client: c, err: err}:
		case <-m.loopDone:
			if c != nil {
				c.Close()
			}
		}
	}()
}

func (m *Manager) handleDial(res dialResult) {
	if res.gen != m.gen || m.state != StateConnecting {
		// Superseded by a later command.
		if res.client != nil {
			res.client.Close()
		}
		return
	}
	m.cancelDial()

	if res.err != nil {
		m.logger.Warn("connection attempt failed",
			"attempt", m.attempts,
			"error", res.err,
		)
		m.setState(StateDisconnected)
		m.emit(Event{Type: EventError, Err: res.err})
		m.emit(Event{Type: EventClose})
		m.scheduleReconnect()
		return
	}

	m.client = res.client
	m.session = uuid.New()
	m.pumpStop = make(chan struct{})
	go m.pump(m.gen, m.client, m.pumpStop)

	m.setState(StateOpen)
	m.setAttempts(0)
	m.opens.Add(1)
	m.logger.Info("connected", "session", m.session)

	if err := m.flush(); err != nil {
		m.lose(err)
		return
	}
	m.emit(Event{Type: EventOpen})
}

// flush writes queued messages in order while the connection is open. On a
// send failure the unsent messages go back to the head of the queue.
func (m *Manager) flush() error {
	if m.state != StateOpen {
		return nil
	}

	items := m.queue.drain()
	for i, data := range items {
		if err := m.client.Send(data); err != nil {
			m.queue.requeue(items[i:])
			m.queue.markSent(i)
			return fmt.Errorf("send: %w", err)
		}
	}
	if len(items) > 0 {
		m.queue.markSent(len(items))
		m.logger.Debug("flushed outbound queue", "count", len(items))
	}
	return nil
}

func (m *Manager) handleInbound(ev connEvent) {
	if ev.gen != m.gen || m.state != StateOpen {
		return
	}

	if ev.end {
		m.lose(ev.err)
		return
	}

	data := ev.msg.Data
	if !json.Valid(data) {
		m.malformed.Add(1)
		m.logger.Warn("dropping malformed message",
			"bytes", len(data),
			"session", m.session,
		)
		m.emit(Event{
			Type:       EventMalformed,
			Payload:    json.RawMessage(data),
			ReceivedAt: ev.msg.ReceivedAt,
			Err:        ErrMalformedPayload,
		})
		return
	}

	payload := json.RawMessage(data)
	m.lastMu.Lock()
	m.last = payload
	m.lastMu.Unlock()
	m.messages.Add(1)

	m.emit(Event{
		Type:       EventMessage,
		Payload:    payload,
		ReceivedAt: ev.msg.ReceivedAt,
	})
}

// lose handles the end of an open connection: close or transport error.
func (m *Manager) lose(err error) {
	m.dropClient()
	m.setState(StateDisconnected)

	if err != nil && !errors.Is(err, ErrClosedByPeer) {
		m.logger.Warn("connection lost", "error", err, "session", m.session)
		m.emit(Event{Type: EventError, Err: err})
	} else {
		m.logger.Info("connection closed", "session", m.session)
	}
	m.emit(Event{Type: EventClose})
	m.session = uuid.Nil

	m.scheduleReconnect()
}

// scheduleReconnect applies the reconnect policy from StateDisconnected.
// The counter is compared before it is incremented, so at most
// MaxReconnectAttempts reconnects follow the first failed dial.
func (m *Manager) scheduleReconnect() {
	if m.attempts >= m.cfg.MaxReconnectAttempts {
		m.setState(StatePermanentlyFailed)
		m.exhaustions.Add(1)
		m.logger.Error("reconnect attempts exhausted",
			"attempts", m.attempts,
			"max", m.cfg.MaxReconnectAttempts,
		)
		m.emit(Event{Type: EventExhausted, Attempts: m.attempts})
		return
	}

	m.setAttempts(m.attempts + 1)
	m.setState(StateReconnectWaiting)

	m.timerGen++
	gen := m.timerGen
	m.timer = time.AfterFunc(m.cfg.ReconnectInterval, func() {
		select {
		case m.timers <- gen:
		case <-m.loopDone:
		}
	})

	m.logger.Info("reconnect scheduled",
		"attempt", m.attempts,
		"max", m.cfg.MaxReconnectAttempts,
		"wait", m.cfg.ReconnectInterval,
	)
}

func (m *Manager) handleTimer(gen uint64) {
	if gen != m.timerGen || m.state != StateReconnectWaiting {
		return
	}
	m.timer = nil
	m.connect()
}

func (m *Manager) cancelTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	// A timer that already fired is ignored by generation.
	m.timerGen++
}

func (m *Manager) cancelDial() {
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
}

// dropClient abandons the current dial or connection. Reports whether an
// open connection was closed.
func (m *Manager) dropClient() bool {
	m.gen++
	if m.client == nil {
		return false
	}

	close(m.pumpStop)
	m.pumpStop = nil
	if err := m.client.Close(); err != nil {
		m.logger.Debug("close connection", "error", err)
	}
	m.client = nil
	return true
}

func (m *Manager) shutdown() {
	m.cancelTimer()
	m.cancelDial()
	if m.dropClient() {
		m.setState(StateDisconnected)
		m.emit(Event{Type: EventClose})
	} else {
		m.setState(StateDisconnected)
	}
	m.session = uuid.Nil
	m.events.Close()

	if n := m.queue.Len(); n > 0 {
		m.logger.Warn("stopped with unsent messages", "count", n)
	}
	m.logger.Info("connection manager stopped")
}

func (m *Manager) setState(s State) {
	if s == m.state {
		return
	}
	from := m.state
	m.state = s
	m.pubState.Store(int32(s))
	m.logger.Debug("state change", "from", from, "to", s)
	m.emit(Event{Type: EventStateChange, From: from, To: s})
}

func (m *Manager) setAttempts(n int) {
	m.attempts = n
	m.pubAttempts.Store(int32(n))
}

func (m *Manager) emit(ev Event) {
	ev.At = time.Now()
	if ev.Session == uuid.Nil {
		ev.Session = m.session
	}
	if ev.Type == EventError {
		m.errorsSeen.Add(1)
	}
	m.events.Send(ev)
}

// pump forwards one connection's messages and terminal error to the loop,
// preserving transport order.
func (m *Manager) pump(gen uint64, c Client, stop <-chan struct{}) {
	forward := func(ev connEvent) bool {
		select {
		case m.inbound <- ev:
			return true
		case <-stop:
			return false
		case <-m.loopDone:
			return false
		}
	}

	for {
		select {
		case <-stop:
			return

		case msg := <-c.Messages():
			if !forward(connEvent{gen: gen, msg: msg}) {
				return
			}

		case err := <-c.Errors():
			// Deliver anything read before the failure first.
		drain:
			for {
				select {
				case msg := <-c.Messages():
					if !forward(connEvent{gen: gen, msg: msg}) {
						return
					}
				default:
					break drain
				}
			}
			forward(connEvent{gen: gen, err: err, end: true})
			return
		}
	}
}

// dispatch delivers events to the handlers, one at a time, in order.
func (m *Manager) dispatch() {
	defer close(m.dispatchDone)

	for {
		ev, ok := m.events.Receive()
		if !ok {
			return
		}
		m.deliver(ev)
	}
}

func (m *Manager) deliver(ev Event) {
	h := m.handlers
	if h.OnEvent != nil {
		h.OnEvent(ev)
	}

	switch ev.Type {
	case EventOpen:
		if h.OnOpen != nil {
			h.OnOpen()
		}
	case EventMessage:
		if h.OnMessage != nil {
			h.OnMessage(ev.Payload)
		}
	case EventError:
		if h.OnError != nil {
			h.OnError(ev.Err)
		}
	case EventClose:
		if h.OnClose != nil {
			h.OnClose()
		}
	}
}

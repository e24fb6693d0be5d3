package feed

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rickgao/marketfeed/internal/model"
)

// ErrNoSecurities is returned when a subscription would be empty.
var ErrNoSecurities = errors.New("no securities to subscribe")

// Sender is the outbound side of a connection.Manager.
type Sender interface {
	Send(message any) error
}

// Session tracks the desired subscription and replays it on every open, since
// the feed forgets subscriptions when a connection drops.
type Session struct {
	sender Sender
	logger *slog.Logger

	mu         sync.RWMutex
	securities []string

	requests atomic.Int64
}

// NewSession creates a session for securities.
func NewSession(sender Sender, securities []string, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		sender:     sender,
		logger:     logger.With("component", "session"),
		securities: append([]string(nil), securities...),
	}
}

// Securities returns the current subscription.
func (s *Session) Securities() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.securities...)
}

// Subscribe replaces the subscription and sends it. The request is queued by
// the manager if the connection is not open.
func (s *Session) Subscribe(securities []string) error {
	if len(securities) == 0 {
		return ErrNoSecurities
	}
	s.mu.Lock()
	s.securities = append([]string(nil), securities...)
	s.mu.Unlock()

	return s.send()
}

// OnOpen resends the subscription. Wire it to Handlers.OnOpen.
func (s *Session) OnOpen() {
	if err := s.send(); err != nil && !errors.Is(err, ErrNoSecurities) {
		s.logger.Error("failed to send subscription", "error", err)
	}
}

// Requests returns how many subscribe requests were sent.
func (s *Session) Requests() int64 {
	return s.requests.Load()
}

func (s *Session) send() error {
	securities := s.Securities()
	if len(securities) == 0 {
		return ErrNoSecurities
	}

	if err := s.sender.Send(model.NewSubscribeRequest(securities)); err != nil {
		return err
	}
	s.requests.Add(1)
	s.logger.Info("subscription sent", "securities", securities)
	return nil
}

package mockfeed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/marketfeed/internal/model"
)

func newTestServer(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	if cfg.Seed == 0 {
		cfg.Seed = 42
	}
	s := NewServer(cfg, nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func dial(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
}

func waitClients(t *testing.T, s *Server, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.Stats().Clients == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("clients = %d, want %d", s.Stats().Clients, want)
}

func subscribe(t *testing.T, conn *websocket.Conn, securities ...string) {
	t.Helper()
	if err := conn.WriteJSON(model.NewSubscribeRequest(securities)); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
}

func TestServer_SubscribeConfirms(t *testing.T) {
	s, ts := newTestServer(t, Config{})
	conn := dial(t, ts, "/")

	subscribe(t, conn, "AAPL US Equity", "SPX Index")

	var confirm model.SubscriptionConfirmed
	readJSON(t, conn, &confirm)
	if confirm.Type != model.TypeSubscriptionConfirmed {
		t.Errorf("Type = %q, want %q", confirm.Type, model.TypeSubscriptionConfirmed)
	}
	if len(confirm.Securities) != 2 || confirm.Securities[1] != "SPX Index" {
		t.Errorf("Securities = %v", confirm.Securities)
	}

	got := s.Stats().Subscribed
	if len(got) != 2 || got[0] != "AAPL US Equity" {
		t.Errorf("Subscribed = %v", got)
	}
}

func TestServer_TickBroadcast(t *testing.T) {
	s, ts := newTestServer(t, Config{})
	first := dial(t, ts, "/")
	second := dial(t, ts, "/")
	waitClients(t, s, 2)

	subscribe(t, first, "USDJPY Curncy")
	var confirm model.SubscriptionConfirmed
	readJSON(t, first, &confirm)

	now := time.Date(2024, 1, 15, 10, 30, 45, 0, time.UTC)
	s.Tick(now)

	for i, conn := range []*websocket.Conn{first, second} {
		var tick model.Tick
		readJSON(t, conn, &tick)

		if tick.Security != "USDJPY Curncy" {
			t.Errorf("client %d: Security = %q", i, tick.Security)
		}
		if !tick.Timestamp.Equal(now) {
			t.Errorf("client %d: Timestamp = %v, want %v", i, tick.Timestamp, now)
		}
		if tick.PrevClose != 148.75 {
			t.Errorf("client %d: PrevClose = %v, want 148.75", i, tick.PrevClose)
		}
		// One step moves at most 0.5%.
		if tick.LastPrice < 150.25*0.995-0.01 || tick.LastPrice > 150.25*1.005+0.01 {
			t.Errorf("client %d: LastPrice = %v out of range", i, tick.LastPrice)
		}
		if tick.Bid == nil || tick.Ask == nil || *tick.Bid >= *tick.Ask {
			t.Errorf("client %d: Bid/Ask = %v/%v", i, tick.Bid, tick.Ask)
		}
		if tick.Volume == nil || *tick.Volume < minVolume || *tick.Volume > maxVolume {
			t.Errorf("client %d: Volume = %v", i, tick.Volume)
		}
	}

	if got := s.Stats().TicksSent; got != 2 {
		t.Errorf("TicksSent = %d, want 2", got)
	}
}

func TestServer_UnknownSecuritySkipped(t *testing.T) {
	s, ts := newTestServer(t, Config{BasePrices: map[string]float64{"SPX Index": 4550}})
	conn := dial(t, ts, "/")

	subscribe(t, conn, "NOPE Index", "SPX Index")
	var confirm model.SubscriptionConfirmed
	readJSON(t, conn, &confirm)

	s.Tick(time.Now())

	var tick model.Tick
	readJSON(t, conn, &tick)
	if tick.Security != "SPX Index" {
		t.Errorf("Security = %q, want SPX Index", tick.Security)
	}
	if got := s.Stats().TicksSent; got != 1 {
		t.Errorf("TicksSent = %d, want 1", got)
	}
}

func TestServer_IgnoresInvalidRequests(t *testing.T) {
	s, ts := newTestServer(t, Config{})
	conn := dial(t, ts, "/")

	for _, msg := range []string{
		`not json`,
		`{"action":"unsubscribe","securities":["SPX Index"]}`,
		`{"action":"subscribe","securities":[]}`,
	} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	// The connection survives and still accepts a valid subscribe.
	subscribe(t, conn, "NKY Index")
	var confirm model.SubscriptionConfirmed
	readJSON(t, conn, &confirm)
	if len(confirm.Securities) != 1 || confirm.Securities[0] != "NKY Index" {
		t.Errorf("Securities = %v", confirm.Securities)
	}
	if got := s.Stats().Subscribed; len(got) != 1 {
		t.Errorf("Subscribed = %v", got)
	}
}

func TestServer_NoSubscriptionNoTicks(t *testing.T) {
	s, ts := newTestServer(t, Config{})
	conn := dial(t, ts, "/")
	waitClients(t, s, 1)

	s.Tick(time.Now())

	conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	if _, data, err := conn.ReadMessage(); err == nil {
		t.Errorf("unexpected message %s", data)
	}
}

func TestServer_Health(t *testing.T) {
	s, ts := newTestServer(t, Config{Path: "/stream"})
	dial(t, ts, "/stream")
	waitClients(t, s, 1)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Clients != 1 {
		t.Errorf("health = %+v", body)
	}
}

func TestServer_RunClosesClients(t *testing.T) {
	s, ts := newTestServer(t, Config{TickInterval: 10 * time.Millisecond})
	conn := dial(t, ts, "/")
	waitClients(t, s, 1)

	subscribe(t, conn, "SPX Index")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	var confirm model.SubscriptionConfirmed
	readJSON(t, conn, &confirm)
	var tick model.Tick
	readJSON(t, conn, &tick)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}

	// Drain any in-flight ticks until the close frame arrives.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
				t.Errorf("err = %v, want going-away close", err)
			}
			break
		}
	}
	if s.Stats().Clients != 0 {
		t.Errorf("Clients = %d, want 0", s.Stats().Clients)
	}
}

func TestNewServer_Defaults(t *testing.T) {
	s := NewServer(Config{}, nil)

	if s.cfg.Path != DefaultPath || s.cfg.TickInterval != DefaultTickInterval {
		t.Errorf("cfg = %+v", s.cfg)
	}
	if len(s.current) != len(DefaultBasePrices()) {
		t.Errorf("current = %d securities, want %d", len(s.current), len(DefaultBasePrices()))
	}
	if s.prevClose["SPX Index"] != 4550*prevCloseRatio {
		t.Errorf("prevClose = %v", s.prevClose["SPX Index"])
	}
}

func TestRound(t *testing.T) {
	tests := []struct {
		in     float64
		places int
		want   float64
	}{
		{185.556, 2, 185.56},
		{1.23456789, 4, 1.2346},
		{-0.004, 2, 0},
	}
	for _, tt := range tests {
		if got := round(tt.in, tt.places); got != tt.want {
			t.Errorf("round(%v, %d) = %v, want %v", tt.in, tt.places, got, tt.want)
		}
	}
}

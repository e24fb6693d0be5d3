package connection

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:          url,
		DialTimeout:  2 * time.Second,
		PingTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   100,
	}
}

func dialTest(t *testing.T, server *httptest.Server) Client {
	t.Helper()

	d := NewWebSocketDialer(testClientConfig(wsURL(server)), nil)
	c, err := d.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	return c
}

func TestWebSocketDialer_Dial(t *testing.T) {
	gotHeader := make(chan http.Header, 1)
	upgrader := websocket.Upgrader{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader <- r.Header.Clone()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.ReadMessage()
	}))
	defer server.Close()

	c := dialTest(t, server)
	defer c.Close()

	select {
	case h := <-gotHeader:
		if got := h.Get("Accept"); got != "application/json" {
			t.Errorf("Accept header = %q, want application/json", got)
		}
		if got := h.Get("User-Agent"); !strings.HasPrefix(got, "marketfeed/") {
			t.Errorf("User-Agent header = %q, want marketfeed/ prefix", got)
		}
	case <-time.After(time.Second):
		t.Fatal("server never saw the handshake")
	}
}

func TestWebSocketDialer_DialFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	d := NewWebSocketDialer(testClientConfig(wsURL(server)), nil)
	c, err := d.Dial(context.Background())
	if err == nil {
		c.Close()
		t.Fatal("expected dial error for non-websocket endpoint")
	}
}

func TestWebSocketDialer_DialCanceled(t *testing.T) {
	d := NewWebSocketDialer(testClientConfig("ws://127.0.0.1:1"), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := d.Dial(ctx); err == nil {
		t.Fatal("expected error from canceled dial")
	}
}

func TestClient_Send(t *testing.T) {
	var received []byte
	var mu sync.Mutex

	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			mu.Lock()
			received = msg
			mu.Unlock()
		}
	})
	defer server.Close()

	c := dialTest(t, server)
	defer c.Close()

	testMsg := []byte(`{"action":"subscribe","securities":["AAPL"]}`)
	if err := c.Send(testMsg); err != nil {
		t.Errorf("Send failed: %v", err)
	}

	// Wait for message to be received
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if string(received) != string(testMsg) {
		t.Errorf("received %q, want %q", received, testMsg)
	}
}

func TestClient_Messages(t *testing.T) {
	testMessages := []string{
		`{"security":"AAPL","last_price":185.5}`,
		`{"security":"MSFT","last_price":425.3}`,
		`{"security":"TSLA","last_price":240.8}`,
	}

	server := mockWSServer(t, func(conn *websocket.Conn) {
		for _, msg := range testMessages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
		// Keep connection open
		time.Sleep(time.Second)
	})
	defer server.Close()

	c := dialTest(t, server)
	defer c.Close()

	var received []string
	timeout := time.After(500 * time.Millisecond)

	for i := 0; i < len(testMessages); i++ {
		select {
		case msg := <-c.Messages():
			received = append(received, string(msg.Data))
			if msg.ReceivedAt.IsZero() {
				t.Error("ReceivedAt should not be zero")
			}
		case <-timeout:
			t.Fatalf("timeout waiting for messages, received %d of %d", len(received), len(testMessages))
		}
	}

	for i, want := range testMessages {
		if received[i] != want {
			t.Errorf("message %d: got %q, want %q", i, received[i], want)
		}
	}
}

func TestClient_SlowConsumerLosesNothing(t *testing.T) {
	const total = 20

	server := mockWSServer(t, func(conn *websocket.Conn) {
		for i := 0; i < total; i++ {
			msg := fmt.Sprintf(`{"seq":%d}`, i)
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		time.Sleep(time.Second)
	})
	defer server.Close()

	cfg := testClientConfig(wsURL(server))
	cfg.BufferSize = 1

	c, err := NewWebSocketDialer(cfg, nil).Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	// Let the server outrun the one-slot buffer.
	time.Sleep(100 * time.Millisecond)

	for i := 0; i < total; i++ {
		select {
		case msg := <-c.Messages():
			if want := fmt.Sprintf(`{"seq":%d}`, i); string(msg.Data) != want {
				t.Fatalf("message %d = %s, want %s", i, msg.Data, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout after %d of %d messages", i, total)
		}
	}
}

func TestClient_PeerCloseReportsClosedByPeer(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second),
		)
		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	c := dialTest(t, server)
	defer c.Close()

	select {
	case err := <-c.Errors():
		if !errors.Is(err, ErrClosedByPeer) {
			t.Errorf("err = %v, want ErrClosedByPeer", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for close error")
	}
}

func TestClient_AbruptDropReportsError(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.UnderlyingConn().Close()
	})
	defer server.Close()

	c := dialTest(t, server)
	defer c.Close()

	select {
	case err := <-c.Errors():
		if err == nil || errors.Is(err, ErrClosedByPeer) {
			t.Errorf("err = %v, want a transport error", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for transport error")
	}
}

func TestClient_SendAfterClose(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.ReadMessage()
	})
	defer server.Close()

	c := dialTest(t, server)
	c.Close()

	if err := c.Send([]byte("test")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestClient_DoubleClose(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		time.Sleep(time.Second)
	})
	defer server.Close()

	c := dialTest(t, server)

	if err := c.Close(); err != nil {
		t.Errorf("first Close failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	// Close is not a failure; nothing is reported.
	select {
	case err := <-c.Errors():
		t.Errorf("unexpected error after Close: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClient_PingHandler(t *testing.T) {
	pong := make(chan string, 1)

	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.SetPongHandler(func(data string) error {
			pong <- data
			return nil
		})
		if err := conn.WriteControl(websocket.PingMessage, []byte("heartbeat"), time.Now().Add(time.Second)); err != nil {
			t.Logf("ping error: %v", err)
			return
		}
		// Control frames are processed while reading.
		conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		conn.ReadMessage()
	})
	defer server.Close()

	c := dialTest(t, server)
	defer c.Close()

	select {
	case data := <-pong:
		if data != "heartbeat" {
			t.Errorf("pong payload = %q, want heartbeat", data)
		}
	case <-time.After(time.Second):
		t.Fatal("client did not answer ping")
	}
}

func TestClient_StaleConnection(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		// Swallow pings without answering.
		conn.SetPingHandler(func(string) error { return nil })
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	cfg := testClientConfig(wsURL(server))
	cfg.PingInterval = 20 * time.Millisecond
	cfg.PingTimeout = 50 * time.Millisecond

	c, err := NewWebSocketDialer(cfg, nil).Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	select {
	case err := <-c.Errors():
		if !errors.Is(err, ErrStaleConnection) {
			t.Errorf("err = %v, want ErrStaleConnection", err)
		}
	case <-time.After(time.Second):
		t.Fatal("stale connection not detected")
	}
}

func TestDefaultConfigs(t *testing.T) {
	clientCfg := DefaultClientConfig()
	if clientCfg.PingTimeout != 90*time.Second {
		t.Errorf("PingTimeout = %v, want 90s", clientCfg.PingTimeout)
	}
	if clientCfg.BufferSize != 10000 {
		t.Errorf("BufferSize = %d, want 10000", clientCfg.BufferSize)
	}

	mgrCfg := DefaultManagerConfig()
	if mgrCfg.ReconnectInterval != 3000*time.Millisecond {
		t.Errorf("ReconnectInterval = %v, want 3s", mgrCfg.ReconnectInterval)
	}
	if mgrCfg.MaxReconnectAttempts != 10 {
		t.Errorf("MaxReconnectAttempts = %d, want 10", mgrCfg.MaxReconnectAttempts)
	}
}

func TestManagerConfig_ApplyDefaults(t *testing.T) {
	tests := []struct {
		name        string
		in          ManagerConfig
		wantMax     int
		wantBackoff time.Duration
	}{
		{"zero values", ManagerConfig{}, DefaultMaxReconnectAttempts, DefaultReconnectInterval},
		{"negative max disables", ManagerConfig{MaxReconnectAttempts: -1}, 0, DefaultReconnectInterval},
		{"explicit", ManagerConfig{MaxReconnectAttempts: 2, ReconnectInterval: 100 * time.Millisecond}, 2, 100 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.in
			cfg.applyDefaults()
			if cfg.MaxReconnectAttempts != tt.wantMax {
				t.Errorf("MaxReconnectAttempts = %d, want %d", cfg.MaxReconnectAttempts, tt.wantMax)
			}
			if cfg.ReconnectInterval != tt.wantBackoff {
				t.Errorf("ReconnectInterval = %v, want %v", cfg.ReconnectInterval, tt.wantBackoff)
			}
			if cfg.DialTimeout != DefaultDialTimeout {
				t.Errorf("DialTimeout = %v, want %v", cfg.DialTimeout, DefaultDialTimeout)
			}
		})
	}
}

func TestStateString(t *testing.T) {
	if StateReconnectWaiting.String() != "reconnect_waiting" {
		t.Errorf("String() = %q", StateReconnectWaiting.String())
	}
	if State(42).String() != "unknown" {
		t.Errorf("String() for out-of-range = %q", State(42).String())
	}
}

package mockfeed

import (
	"context"
	"encoding/json"
	"log/slog"
	"maps"
	"math"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/rickgao/marketfeed/internal/model"
)

// Defaults
const (
	DefaultPath         = "/"
	DefaultTickInterval = time.Second

	// prevCloseRatio sets each security's previous close below its base.
	prevCloseRatio = 0.99
	// maxStepPct bounds the per-tick move, in percent.
	maxStepPct = 0.5
	// quoteSpread is the half-spread applied around the last price.
	quoteSpread = 0.001

	minVolume = 1_000_000
	maxVolume = 50_000_000

	writeTimeout = 5 * time.Second
)

// DefaultBasePrices returns the built-in securities and their starting prices.
func DefaultBasePrices() map[string]float64 {
	return map[string]float64{
		"AAPL US Equity":  185.50,
		"MSFT US Equity":  425.30,
		"GOOGL US Equity": 140.20,
		"AMZN US Equity":  155.75,
		"TSLA US Equity":  240.80,
		"7203 JP Equity":  2850.00,
		"9984 JP Equity":  6200.00,
		"USDJPY Curncy":   150.25,
		"SPX Index":       4550.00,
		"NKY Index":       33500.00,
	}
}

// Config configures a Server.
type Config struct {
	Path         string             // WebSocket path (default: "/")
	TickInterval time.Duration      // Default: 1s
	BasePrices   map[string]float64 // Default: DefaultBasePrices()
	Seed         uint64             // Zero = random
}

// Stats is a point-in-time view of the server.
type Stats struct {
	Clients    int      `json:"clients"`
	Subscribed []string `json:"subscribed"`
	TicksSent  int64    `json:"ticks_sent"`
}

// Server is a mock feed. Use Handler to mount it and Run to drive ticks.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu         sync.Mutex
	rng        *rand.Rand
	current    map[string]float64
	prevClose  map[string]float64
	subscribed []string
	clients    map[*client]struct{}
	ticksSent  int64
}

// client serializes writes to one connection.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// NewServer creates a mock feed server.
func NewServer(cfg Config, logger *slog.Logger) *Server {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if len(cfg.BasePrices) == 0 {
		cfg.BasePrices = DefaultBasePrices()
	}
	if logger == nil {
		logger = slog.Default()
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	prevClose := make(map[string]float64, len(cfg.BasePrices))
	for sec, base := range cfg.BasePrices {
		prevClose[sec] = base * prevCloseRatio
	}

	return &Server{
		cfg:    cfg,
		logger: logger.With("component", "mockfeed"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		current:   maps.Clone(cfg.BasePrices),
		prevClose: prevClose,
		clients:   make(map[*client]struct{}),
	}
}

// Handler returns the HTTP routes: the WebSocket endpoint and /health.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get(s.cfg.Path, s.handleWebSocket)

	return r
}

// Run broadcasts ticks until ctx is canceled, then closes every client.
func (s *Server) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.logger.Info("mock feed running",
		"path", s.cfg.Path,
		"tick_interval", s.cfg.TickInterval,
		"securities", len(s.cfg.BasePrices),
	)

	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			return nil
		case now := <-ticker.C:
			s.Tick(now)
		}
	}
}

// Tick advances every subscribed security by one step and broadcasts the
// resulting ticks. Securities without a base price are skipped.
func (s *Server) Tick(now time.Time) {
	s.mu.Lock()
	var payloads [][]byte
	for _, sec := range s.subscribed {
		tick, ok := s.step(sec, now)
		if !ok {
			continue
		}
		data, err := json.Marshal(tick)
		if err != nil {
			s.logger.Error("encode tick", "security", sec, "error", err)
			continue
		}
		payloads = append(payloads, data)
	}
	s.mu.Unlock()

	for _, data := range payloads {
		s.broadcast(data)
	}
}

// Stats returns the current server stats.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Clients:    len(s.clients),
		Subscribed: append([]string(nil), s.subscribed...),
		TicksSent:  s.ticksSent,
	}
}

// step must be called with s.mu held.
func (s *Server) step(sec string, now time.Time) (model.Tick, bool) {
	price, ok := s.current[sec]
	if !ok {
		return model.Tick{}, false
	}

	change := (s.rng.Float64()*2 - 1) * maxStepPct
	price *= 1 + change/100
	s.current[sec] = price

	prevClose := s.prevClose[sec]
	bid := round(price*(1-quoteSpread), 2)
	ask := round(price*(1+quoteSpread), 2)
	volume := minVolume + s.rng.Int64N(maxVolume-minVolume+1)

	return model.Tick{
		Timestamp: model.Timestamp{Time: now},
		Security:  sec,
		LastPrice: round(price, 2),
		PrevClose: round(prevClose, 2),
		ChangePct: round((price-prevClose)/prevClose*100, 4),
		Bid:       &bid,
		Ask:       &ask,
		Volume:    &volume,
	}, true
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{conn: conn}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	total := len(s.clients)
	s.mu.Unlock()
	s.logger.Info("client connected", "remote", r.RemoteAddr, "clients", total)

	defer func() {
		s.remove(c)
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.handleMessage(c, data)
	}
}

func (s *Server) handleMessage(c *client, data []byte) {
	var req model.SubscribeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.logger.Error("invalid json received", "message", string(data), "error", err)
		return
	}
	if req.Action != model.ActionSubscribe || len(req.Securities) == 0 {
		return
	}

	s.mu.Lock()
	s.subscribed = append([]string(nil), req.Securities...)
	s.mu.Unlock()
	s.logger.Info("subscribed", "securities", req.Securities)

	reply, err := json.Marshal(model.SubscriptionConfirmed{
		Type:       model.TypeSubscriptionConfirmed,
		Securities: req.Securities,
	})
	if err != nil {
		s.logger.Error("encode confirmation", "error", err)
		return
	}
	if err := c.write(reply); err != nil {
		s.logger.Debug("confirmation write failed", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Status string `json:"status"`
		Stats
	}{Status: "ok", Stats: s.Stats()})
}

func (s *Server) broadcast(data []byte) {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		if err := c.write(data); err != nil {
			s.remove(c)
			c.conn.Close()
			continue
		}
		s.mu.Lock()
		s.ticksSent++
		s.mu.Unlock()
	}
}

func (s *Server) remove(c *client) {
	s.mu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	total := len(s.clients)
	s.mu.Unlock()

	if ok {
		s.logger.Info("client disconnected", "clients", total)
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	clients := s.clients
	s.clients = make(map[*client]struct{})
	s.mu.Unlock()

	for c := range clients {
		c.mu.Lock()
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second),
		)
		c.mu.Unlock()
		c.conn.Close()
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

package feed

import (
	"context"
	"log/slog"

	"github.com/rickgao/marketfeed/internal/connection"
	"github.com/rickgao/marketfeed/internal/router"
)

// Config configures a Feed.
type Config struct {
	Manager    connection.ManagerConfig
	Router     router.RouterConfig
	Securities []string
}

// Feed is a running pipeline for one endpoint.
type Feed struct {
	mgr     *connection.Manager
	session *Session
	router  router.Router
	logger  *slog.Logger
}

// New builds a Feed. Handlers already present in cfg.Manager run after the
// feed's own processing; observers receive every manager event. A nil dialer
// uses gorilla/websocket.
func New(cfg Config, dialer connection.Dialer, logger *slog.Logger, observers ...func(connection.Event)) (*Feed, error) {
	if logger == nil {
		logger = slog.Default()
	}

	f := &Feed{
		router: router.NewRouter(cfg.Router, logger),
		logger: logger.With("component", "feed"),
	}

	user := cfg.Manager.Handlers
	mcfg := cfg.Manager
	mcfg.Handlers = connection.Handlers{
		OnOpen: func() {
			f.session.OnOpen()
			if user.OnOpen != nil {
				user.OnOpen()
			}
		},
		OnClose:   user.OnClose,
		OnError:   user.OnError,
		OnMessage: user.OnMessage,
		OnEvent: func(ev connection.Event) {
			if ev.Type == connection.EventMessage {
				f.router.Handle(ev.Payload, ev.ReceivedAt)
			}
			for _, observe := range observers {
				observe(ev)
			}
			if user.OnEvent != nil {
				user.OnEvent(ev)
			}
		},
	}

	mgr, err := connection.NewManager(mcfg, dialer, logger)
	if err != nil {
		f.router.Close()
		return nil, err
	}
	f.mgr = mgr
	f.session = NewSession(mgr, cfg.Securities, logger)

	return f, nil
}

// Start connects to the feed.
func (f *Feed) Start() error {
	f.logger.Info("starting feed",
		"endpoint", f.mgr.Endpoint(),
		"securities", f.session.Securities(),
	)
	return f.mgr.Start()
}

// Stop shuts down the manager and closes the recorder buffer.
func (f *Feed) Stop(ctx context.Context) error {
	err := f.mgr.Stop(ctx)
	f.router.Close()
	return err
}

// Manager returns the connection manager.
func (f *Feed) Manager() *connection.Manager { return f.mgr }

// Session returns the subscription session.
func (f *Feed) Session() *Session { return f.session }

// Router returns the payload router.
func (f *Feed) Router() router.Router { return f.router }

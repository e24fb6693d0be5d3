package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/marketfeed/internal/buffer"
	"github.com/rickgao/marketfeed/internal/config"
	"github.com/rickgao/marketfeed/internal/connection"
	"github.com/rickgao/marketfeed/internal/database"
	"github.com/rickgao/marketfeed/internal/feed"
	"github.com/rickgao/marketfeed/internal/metrics"
	"github.com/rickgao/marketfeed/internal/router"
	"github.com/rickgao/marketfeed/internal/version"
	"github.com/rickgao/marketfeed/internal/writer"
)

const shutdownTimeout = 30 * time.Second

// errExhausted is returned when the feed gives up reconnecting.
var errExhausted = errors.New("reconnect attempts exhausted")

type watchOptions struct {
	endpoint        string
	securities      []string
	quiet           bool
	verbose         bool
	exitOnExhausted bool
}

func watchCmd(configPath *string) *cobra.Command {
	var opts watchOptions

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream ticks from the feed",
		Long: `Connect to the configured feed, subscribe to the configured securities
and print every tick. With recorder.enabled the ticks are also written to
TimescaleDB; with metrics.enabled a Prometheus and health endpoint is served.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			opts.apply(cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("validate config: %w", err)
			}
			return runWatch(cmd.Context(), cfg, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&opts.endpoint, "endpoint", "", "feed endpoint (overrides feed.endpoint)")
	cmd.Flags().StringSliceVar(&opts.securities, "securities", nil, "securities to subscribe to (overrides feed.securities)")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "do not print ticks")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "print every tick field")
	cmd.Flags().BoolVar(&opts.exitOnExhausted, "exit-on-exhausted", true, "exit with an error once reconnect attempts are exhausted")

	return cmd
}

func (o watchOptions) apply(cfg *config.Config) {
	if o.endpoint != "" {
		cfg.Feed.Endpoint = o.endpoint
	}
	if len(o.securities) > 0 {
		secs := make([]string, 0, len(o.securities))
		for _, s := range o.securities {
			if s = strings.TrimSpace(s); s != "" {
				secs = append(secs, s)
			}
		}
		cfg.Feed.Securities = secs
	}
}

func runWatch(parent context.Context, cfg *config.Config, opts watchOptions, stdout, stderr io.Writer) error {
	logger := newLogger(cfg.Log, stderr)
	slog.SetDefault(logger)

	logger.Info("starting feedwatch",
		"version", version.Version,
		"commit", version.Commit,
		"instance_id", cfg.Instance.ID,
	)

	sigCtx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancelCause(sigCtx)
	defer cancel(nil)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(metrics.Config{
		ConstLabels: prometheus.Labels{"instance": cfg.Instance.ID},
		Registry:    registry,
	})

	observers := []func(connection.Event){collector.Observe}
	if opts.exitOnExhausted {
		observers = append(observers, func(ev connection.Event) {
			if ev.Type == connection.EventExhausted {
				cancel(fmt.Errorf("%s after %d attempts: %w", cfg.Feed.Endpoint, ev.Attempts, errExhausted))
			}
		})
	}

	dialer := connection.NewWebSocketDialer(connection.ClientConfig{
		URL:          cfg.Feed.Endpoint,
		DialTimeout:  cfg.Feed.DialTimeout,
		PingInterval: cfg.Feed.PingInterval,
		PingTimeout:  cfg.Feed.PingTimeout,
		WriteTimeout: cfg.Feed.WriteTimeout,
		BufferSize:   cfg.Feed.MessageBuffer,
	}, logger)

	f, err := feed.New(feed.Config{
		Manager: connection.ManagerConfig{
			Endpoint:             cfg.Feed.Endpoint,
			ReconnectInterval:    cfg.Feed.ReconnectInterval,
			MaxReconnectAttempts: cfg.Feed.MaxReconnectAttempts,
			MaxQueueSize:         cfg.Feed.MaxQueueSize,
			DialTimeout:          cfg.Feed.DialTimeout,
		},
		Router: router.RouterConfig{
			HistorySize:    cfg.History.Size,
			TickBufferSize: cfg.Recorder.BufferSize,
		},
		Securities: cfg.Feed.Securities,
	}, dialer, logger, observers...)
	if err != nil {
		return fmt.Errorf("create feed: %w", err)
	}
	collector.WatchManager(f.Manager())
	collector.WatchRouter(f.Router())

	// Recorder
	var (
		pool     *pgxpool.Pool
		recorder *writer.TickWriter
		input    *buffer.Growable[router.TickMsg]
	)
	if cfg.Recorder.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Timescale.Host,
			"port", cfg.Database.Timescale.Port,
			"database", cfg.Database.Timescale.Name,
		)
		pool, err = database.Connect(ctx, cfg.Database.Timescale, "feedwatch-"+cfg.Instance.ID)
		if err != nil {
			f.Stop(context.Background())
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()

		if err := database.EnsureSchema(ctx, pool, logger); err != nil {
			f.Stop(context.Background())
			return fmt.Errorf("ensure schema: %w", err)
		}

		input = buffer.NewGrowable[router.TickMsg](cfg.Recorder.BufferSize)
		recorder = writer.NewTickWriter(writer.WriterConfig{
			BatchSize:     cfg.Recorder.BatchSize,
			FlushInterval: cfg.Recorder.FlushInterval,
		}, input, pool, logger)
		if err := recorder.Start(ctx); err != nil {
			f.Stop(context.Background())
			return fmt.Errorf("start recorder: %w", err)
		}
		collector.WatchWriter(recorder)
	}

	// Metrics and health
	var server *http.Server
	if cfg.Metrics.Enabled {
		var db pinger
		if pool != nil {
			db = pool
		}
		server = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler:           newHTTPHandler(cfg.Metrics.Path, registry, f, db),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	printer := newTickPrinter(stdout, opts)
	g, gctx := errgroup.WithContext(ctx)

	relayDone := make(chan struct{})
	g.Go(func() error {
		defer close(relayDone)
		relayTicks(f.Router().Ticks(), input, printer.Print)
		return nil
	})

	if server != nil {
		g.Go(func() error {
			logger.Info("starting metrics server", "addr", server.Addr, "path", cfg.Metrics.Path)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		var errs []error
		if err := f.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("stop feed: %w", err))
		}

		select {
		case <-relayDone:
		case <-shutdownCtx.Done():
			errs = append(errs, fmt.Errorf("drain ticks: %w", shutdownCtx.Err()))
		}

		if recorder != nil {
			if err := recorder.Stop(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("stop recorder: %w", err))
			}
		}
		if server != nil {
			if err := server.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("stop metrics server: %w", err))
			}
		}
		return errors.Join(errs...)
	})

	if err := f.Start(); err != nil {
		cancel(fmt.Errorf("start feed: %w", err))
	}

	err = g.Wait()

	stats := f.Manager().Stats()
	logger.Info("feedwatch stopped",
		"opens", stats.Opens,
		"messages", stats.Messages,
		"errors", stats.Errors,
		"ticks_routed", f.Router().Stats().TicksRouted,
	)

	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return errors.Join(cause, err)
	}
	return err
}

// relayTicks consumes the router's tick buffer until it is closed, printing
// each tick and forwarding it to dst when a recorder is configured. dst is
// closed on return.
func relayTicks(src, dst *buffer.Growable[router.TickMsg], emit func(router.TickMsg)) {
	if dst != nil {
		defer dst.Close()
	}
	for {
		msg, ok := src.Receive()
		if !ok {
			return
		}
		emit(msg)
		if dst != nil {
			dst.Send(msg)
		}
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/marketfeed/internal/config"
	"github.com/rickgao/marketfeed/internal/mockfeed"
)

func mockCmd(configPath *string) *cobra.Command {
	var (
		listen   string
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "mock",
		Short: "Run a mock feed server",
		Long: `Serve a mock market data feed that answers subscribe requests and
broadcasts random-walk ticks for the subscribed securities.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Mock.ListenAddr = listen
			}
			if interval > 0 {
				cfg.Mock.TickInterval = interval
			}
			return runMock(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides mock.listen_addr)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "tick interval (overrides mock.tick_interval)")

	return cmd
}

func runMock(parent context.Context, cfg *config.Config) error {
	logger := newLogger(cfg.Log, os.Stderr)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	feed := mockfeed.NewServer(mockfeed.Config{
		Path:         cfg.Mock.Path,
		TickInterval: cfg.Mock.TickInterval,
		BasePrices:   cfg.Mock.BasePrices,
	}, logger)

	server := &http.Server{
		Addr:              cfg.Mock.ListenAddr,
		Handler:           feed.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("mock feed listening", "url", fmt.Sprintf("ws://%s%s", cfg.Mock.ListenAddr, cfg.Mock.Path))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("mock server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return feed.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	logger.Info("mock feed stopped", "ticks_sent", feed.Stats().TicksSent)
	return err
}

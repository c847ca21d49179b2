package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vango-dev/syncore/internal/config"
	"github.com/vango-dev/syncore/internal/demo"
	"github.com/vango-dev/syncore/pkg/metrics"
	"github.com/vango-dev/syncore/pkg/server"
	"github.com/vango-dev/syncore/pkg/session"
)

type serveOptions struct {
	configPath    string
	address       string
	clockInterval time.Duration
}

func serveCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the demo application",
		Long: `Serve the demo application.

Configuration is read from syncore.json (or --config) and may be
overridden with SYNCORE_* environment variables, for example
SYNCORE_SERVER_ADDRESS=:9000 or SYNCORE_PUSH_MODE=manual.

Examples:
  syncore serve
  syncore serve --config /etc/syncore/syncore.json
  syncore serve --address :9000 --clock 0`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to the config file (default ./syncore.json)")
	cmd.Flags().StringVarP(&opts.address, "address", "a", "", "Listen address (default from config)")
	cmd.Flags().DurationVar(&opts.clockInterval, "clock", time.Second, "Demo clock interval, 0 disables it")

	return cmd
}

func runServe(ctx context.Context, opts serveOptions) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.address != "" {
		cfg.Server.Address = opts.address
	}

	logger, err := cfg.NewLogger(os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	if path := cfg.Path(); path != "" {
		logger.Info("config loaded", "path", path)
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.New(cfg.MetricsOptions()...)
	}

	bundles, err := cfg.BundleSource()
	if err != nil {
		return err
	}
	if bundles == nil {
		bundles = demo.BundleSource()
	}

	manager := session.NewManager(cfg.SessionOptions(),
		session.WithManagerLogger(logger),
		session.WithMetrics(collector),
		session.WithInit(demo.Init),
		session.WithServerRPC(demo.ServerRPC(logger)),
	)
	manager.SetOnSessionClose(func(s *session.Session) {
		logger.Info("session closed",
			"session_id", s.ID(),
			"lifetime", time.Since(s.CreatedAt()).Round(time.Second))
	})

	srvOpts := []server.Option{
		server.WithLogger(logger),
		server.WithBundleSource(bundles),
	}
	if collector != nil {
		srvOpts = append(srvOpts, server.WithMetrics(collector))
	}
	srv := server.New(manager, cfg.ServerOptions(), srvOpts...)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(ctx)
	})
	if opts.clockInterval > 0 {
		clock := demo.NewClock(manager, opts.clockInterval, demo.WithClockLogger(logger))
		g.Go(func() error {
			return clock.Run(ctx)
		})
	}
	if collector != nil && cfg.Metrics.Address != "" {
		g.Go(func() error {
			return serveMetrics(ctx, cfg.Metrics.Address, collector.Handler(), logger)
		})
	}
	return g.Wait()
}

// serveMetrics serves the Prometheus handler on its own listener until ctx
// is done.
func serveMetrics(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server starting", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

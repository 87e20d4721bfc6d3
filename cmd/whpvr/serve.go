package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"whpvr/pkg/config"
	"whpvr/pkg/federation"
	"whpvr/pkg/health"
	"whpvr/pkg/transport"
	"whpvr/pkg/types"
	"whpvr/pkg/whpvr"

	EventBus "github.com/asaskevich/EventBus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"
)

func serveCmd() *cobra.Command {
	var (
		dataDir   string
		peersFile string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the federation service",
		Long:  `Discover recording peers, keep their content in sync and expose metrics and health.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			if peersFile != "" {
				cfg.PeersFile = peersFile
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, logger)
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", "", "directory for persisted preferences")
	cmd.Flags().StringVar(&peersFile, "peers-file", "", "JSON file describing simulated peers")

	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	store, err := openPrefs(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	sim, err := newTransport(cfg, logger)
	if err != nil {
		return err
	}
	defer sim.Close()

	registry := prometheus.NewRegistry()
	metrics := federation.NewMetrics(registry)
	reporter := health.NewReporter(cfg.HealthAddress, logger.Named("health"))
	bus := EventBus.New()

	svc := whpvr.New(whpvr.Options{
		Transport: sim,
		Prefs:     store,
		Dialog:    &consoleDialog{},
		Bus:       bus,
		Logger:    logger.Named("whpvr"),
		Metrics:   metrics,
		Config:    cfg,
	})

	if err := bus.Subscribe(whpvr.TopicEnabled, func() {
		reporter.Update(true, len(svc.Servers()))
	}); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", whpvr.TopicEnabled, err)
	}
	if err := bus.Subscribe(whpvr.TopicDisabled, func() {
		reporter.Update(false, 0)
	}); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", whpvr.TopicDisabled, err)
	}
	svc.AddEventListener(whpvr.EventServersChanged, whpvr.NewListenerFunc(func(_ whpvr.EventName, data interface{}) {
		peers, _ := data.([]types.Device)
		reporter.Update(svc.IsEnabled(), len(peers))
	}))

	svc.Init()
	reporter.Update(svc.IsEnabled(), len(svc.Servers()))
	defer svc.Release()

	logger.Info("Whole-home recording service starting",
		zap.String("name", svc.LocalName()),
		zap.Bool("enabled", svc.IsEnabled()),
		zap.String("metrics", cfg.MetricsAddress),
		zap.String("health", cfg.HealthAddress))

	sup := suture.NewSimple("whpvr")
	sup.Add(svc)
	sup.Add(reporter)
	sup.Add(&httpService{
		name:   "metrics",
		server: &http.Server{Addr: cfg.MetricsAddress, Handler: federation.Handler(registry)},
		logger: logger,
	})

	err = sup.Serve(ctx)
	if ctx.Err() != nil {
		logger.Info("Shutting down")
		return nil
	}
	return err
}

// newTransport builds the simulated home network, attaching the peers file
// when one is configured.
func newTransport(cfg *config.Config, logger *zap.Logger) (*transport.Simulator, error) {
	sim := transport.NewSimulator(cfg.BrowsePageSize, logger.Named("transport"))
	if cfg.PeersFile == "" {
		return sim, nil
	}
	if err := sim.LoadPeers(cfg.PeersFile); err != nil {
		return nil, err
	}
	return sim, nil
}

// httpService runs an http.Server under the supervisor.
type httpService struct {
	name   string
	server *http.Server
	logger *zap.Logger
}

func (h *httpService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("HTTP endpoint listening",
			zap.String("endpoint", h.name),
			zap.String("address", h.server.Addr))
		errCh <- h.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			h.logger.Warn("HTTP shutdown failed", zap.String("endpoint", h.name), zap.Error(err))
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("%s server: %w", h.name, err)
	}
}

func (h *httpService) String() string {
	return h.name
}

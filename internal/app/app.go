package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/foxzi/discador/internal/api"
	"github.com/foxzi/discador/internal/campaigns"
	"github.com/foxzi/discador/internal/config"
	"github.com/foxzi/discador/internal/metrics"
	"github.com/foxzi/discador/internal/monitor"
	"github.com/foxzi/discador/internal/poller"
	"github.com/foxzi/discador/internal/quota"
	"github.com/foxzi/discador/internal/snapshot"
)

// CampaignsTaskName is the poller task that refreshes the campaign list
const CampaignsTaskName = "campaigns"

// App is the console server
type App struct {
	config        *config.Config
	logger        *slog.Logger
	backend       *Backend
	store         *snapshot.Store
	monitor       *monitor.Monitor
	poller        *poller.Coordinator
	quota         *quota.Limiter
	apiServer     *api.Server
	metricsServer *metrics.Server
	collector     *metrics.Collector
}

// New creates the application
func New(cfg *config.Config, version string) (*App, error) {
	logger := NewLogger(cfg.Logging)
	return NewWithLogger(cfg, version, logger)
}

// NewWithLogger creates the application with an existing logger
func NewWithLogger(cfg *config.Config, version string, logger *slog.Logger) (*App, error) {
	store, err := snapshot.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot storage: %w", err)
	}

	snapLogger := logger.With("component", "snapshot")
	backend := NewBackend(cfg, logger, func(list []campaigns.Campaign) {
		if err := store.SaveCampaigns(list); err != nil {
			snapLogger.Warn("failed to save campaign snapshot", "error", err)
		}
	})

	a := &App{
		config:  cfg,
		logger:  logger,
		backend: backend,
		store:   store,
		monitor: monitor.New(backend.Client, store, logger),
		poller:  poller.New(logger),
	}

	if err := a.registerTasks(); err != nil {
		store.Close()
		return nil, err
	}

	if cfg.Quota.Enabled {
		a.quota, err = quota.NewLimiter(store.DB(), cfg.QuotaLimiterConfig())
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to create quota limiter: %w", err)
		}
		logger.Info("operator quotas enabled")
	}

	if cfg.Metrics.Enabled {
		m := metrics.New()
		metrics.SetGlobal(m)
		a.collector = metrics.NewCollector(m, backend.Cache, store.Path(), cfg.Metrics.FlushInterval)
		a.metricsServer = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path, cfg.Metrics.AllowedIPs, logger.With("component", "metrics"))
	}

	svc := api.Services{
		Backend:   backend.Client,
		Campaigns: backend.Campaigns,
		Audio:     backend.Audio,
		Trunks:    backend.Trunks,
		Blacklist: backend.Blacklist,
		Monitor:   a.monitor,
		Snapshots: store,
		Poller:    a.poller,
	}
	if a.quota != nil {
		svc.Quota = a.quota
	}

	a.apiServer = api.NewServer(svc, api.Options{
		Config:  &cfg.Server,
		APIKeys: cfg.Auth.APIKeys,
		Debug:   cfg.Debug.Enabled,
		Version: version,
		Logger:  logger.With("component", "api"),
	})

	return a, nil
}

// registerTasks adds the background refreshes to the poller
func (a *App) registerTasks() error {
	polling := a.config.Polling

	if err := a.poller.Register(poller.Task{
		Name:       CampaignsTaskName,
		Interval:   polling.CampaignsInterval,
		Jitter:     polling.Jitter,
		MaxBackoff: polling.MaxBackoff,
		RunAtStart: true,
		Run: func(ctx context.Context) error {
			_, err := a.backend.Campaigns.ListCampaigns(ctx, true)
			return err
		},
	}); err != nil {
		return fmt.Errorf("failed to register campaign refresh: %w", err)
	}

	calls := a.monitor.Task(polling.CallsInterval)
	calls.Jitter = polling.Jitter
	calls.MaxBackoff = polling.MaxBackoff
	if err := a.poller.Register(calls); err != nil {
		return fmt.Errorf("failed to register call monitor: %w", err)
	}
	return nil
}

// Handler returns the console API handler
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting discador console",
		"api_addr", a.config.Server.ListenAddr,
		"backend", a.backend.Client.BaseURL(),
		"storage", a.config.Storage.Path,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a.backend.Cache.StartJanitor(ctx, a.config.Cache.JanitorInterval)
	a.poller.Start(ctx)
	if a.collector != nil {
		a.collector.Start(ctx)
	}

	errCh := make(chan error, 2)

	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		a.logger.Error("server error", "error", runErr)
		cancel()
	}

	if err := a.Shutdown(context.Background()); err != nil {
		return err
	}
	return runErr
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.config.Server.ShutdownTimeout)
	defer cancel()

	// Stop accepting requests before the background work goes away
	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	a.poller.Stop()

	if a.collector != nil {
		a.collector.Stop()
	}
	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	// Persists the last counters
	if a.quota != nil {
		if err := a.quota.Stop(); err != nil {
			a.logger.Error("quota limiter stop error", "error", err)
		}
	}

	if err := a.store.Close(); err != nil {
		a.logger.Error("storage close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

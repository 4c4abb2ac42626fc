package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/foxzi/discador/internal/assets"
	"github.com/foxzi/discador/internal/blacklist"
	"github.com/foxzi/discador/internal/campaigns"
	"github.com/foxzi/discador/internal/campaignsync"
	"github.com/foxzi/discador/internal/config"
	"github.com/foxzi/discador/internal/dialer"
	"github.com/foxzi/discador/internal/metrics"
	"github.com/foxzi/discador/internal/monitor"
	"github.com/foxzi/discador/internal/poller"
	"github.com/foxzi/discador/internal/quota"
	"github.com/foxzi/discador/internal/trunks"
)

// HealthChecker reports backend reachability
type HealthChecker interface {
	Health(ctx context.Context) (*dialer.HealthResponse, error)
}

// SnapshotStore serves the last known good data while the backend is down
type SnapshotStore interface {
	LoadCampaigns() ([]campaigns.Campaign, time.Time, error)
	LoadCalls() (monitor.Snapshot, error)
}

// TaskReporter exposes background task health
type TaskReporter interface {
	Status() []poller.TaskStatus
}

// Services are the components behind the API. Snapshots, Poller and Quota
// are optional.
type Services struct {
	Backend   HealthChecker
	Campaigns *campaignsync.Service
	Audio     *assets.Service
	Trunks    *trunks.Service
	Blacklist *blacklist.Service
	Monitor   *monitor.Monitor
	Snapshots SnapshotStore
	Poller    TaskReporter
	Quota     *quota.Limiter
}

// Options configures the server
type Options struct {
	Config  *config.ServerConfig
	APIKeys []config.APIKey
	// Debug exposes /api/v1/debug/sync
	Debug   bool
	Version string
	Logger  *slog.Logger
}

// Server is the console HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	svc        Services
	config     *config.ServerConfig
	keys       *keyring
	debug      bool
	version    string
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates a new API server
func NewServer(svc Services, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = &config.ServerConfig{ListenAddr: ":8080"}
	}

	s := &Server{
		router:    chi.NewRouter(),
		svc:       svc,
		config:    cfg,
		keys:      newKeyring(opts.APIKeys),
		debug:     opts.Debug,
		version:   opts.Version,
		logger:    logger.With("component", "api"),
		startTime: time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(metrics.HTTPMiddleware)

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	// API v1 routes (auth required)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/campaigns", s.handleListCampaigns)
		r.Get("/campaigns/{id}", s.handleGetCampaign)
		r.Get("/campaigns/{id}/stats", s.handleCampaignStats)

		r.Get("/audio", s.handleListAudio)
		r.Get("/trunks", s.handleListTrunks)
		r.Get("/blacklist", s.handleListBlacklist)

		r.Get("/monitor/calls", s.handleMonitorCalls)
		r.Get("/poller", s.handlePollerStatus)
		r.Get("/quota", s.handleQuotaUsage)

		// Mutations count against operator quotas
		r.Group(func(r chi.Router) {
			r.Use(s.quotaMiddleware)

			r.Post("/campaigns", s.handleCreateCampaign)
			r.Put("/campaigns/{id}", s.handleUpdateCampaign)
			r.Delete("/campaigns/{id}", s.handleDeleteCampaign)
			r.Post("/campaigns/{id}/{action}", s.handleControlCampaign)

			r.Post("/audio", s.handleUploadAudio)
			r.Delete("/audio/{id}", s.handleDeleteAudio)

			r.Post("/trunks", s.handleCreateTrunk)
			r.Put("/trunks/{id}", s.handleUpdateTrunk)
			r.Delete("/trunks/{id}", s.handleDeleteTrunk)

			r.Post("/blacklist", s.handleAddBlacklist)
			r.Post("/blacklist/import", s.handleImportBlacklist)
			r.Delete("/blacklist/{number}", s.handleRemoveBlacklist)
		})

		if s.debug {
			r.Get("/debug/sync", s.handleDebugSync)
		}
	})
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:           s.config.ListenAddr,
		Handler:        s.router,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
	}

	s.logger.Info("starting console API server", "addr", s.config.ListenAddr, "debug", s.debug)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down console API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

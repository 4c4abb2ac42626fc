package app

import (
	"log/slog"
	"os"

	"github.com/foxzi/discador/internal/assets"
	"github.com/foxzi/discador/internal/blacklist"
	"github.com/foxzi/discador/internal/campaigns"
	"github.com/foxzi/discador/internal/campaignsync"
	"github.com/foxzi/discador/internal/config"
	"github.com/foxzi/discador/internal/dialer"
	"github.com/foxzi/discador/internal/retry"
	"github.com/foxzi/discador/internal/synccache"
	"github.com/foxzi/discador/internal/trunks"
)

// Backend bundles the dialer client and the services built on top of it.
// The CLI uses it directly; the server adds storage and polling around it.
type Backend struct {
	Client    *dialer.Client
	Cache     *synccache.Cache
	Campaigns *campaignsync.Service
	Audio     *assets.Service
	Trunks    *trunks.Service
	Blacklist *blacklist.Service
}

// NewBackend wires the backend client, the cache and every service.
// onRefresh may be nil.
func NewBackend(cfg *config.Config, logger *slog.Logger, onRefresh func([]campaigns.Campaign)) *Backend {
	client := dialer.NewClient(cfg.Backend.URL, cfg.Backend.Token,
		dialer.WithTimeout(cfg.Backend.Timeout),
		dialer.WithUserAgent(cfg.Backend.UserAgent),
	)
	cache := synccache.New(cfg.Cache.ListTTL)
	policy := retry.Policy{
		MaxAttempts: cfg.Backend.RetryAttempts,
		BaseDelay:   cfg.Backend.RetryDelay,
	}

	return &Backend{
		Client: client,
		Cache:  cache,
		Campaigns: campaignsync.New(client, cache, campaignsync.Options{
			ListTTL:        cfg.Cache.ListTTL,
			StatsTTL:       cfg.Cache.StatsTTL,
			Retry:          policy,
			DeleteAttempts: cfg.Backend.DeleteAttempts,
			Logger:         logger,
			OnRefresh:      onRefresh,
		}),
		Audio:     assets.NewService(client, cache, policy, cfg.Server.MaxUploadBytes, cfg.Cache.ListTTL, logger),
		Trunks:    trunks.NewService(client, cache, policy, cfg.Cache.ListTTL, logger),
		Blacklist: blacklist.NewService(client, cache, policy, cfg.Cache.ListTTL, logger),
	}
}

// NewLogger creates a logger based on configuration
func NewLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

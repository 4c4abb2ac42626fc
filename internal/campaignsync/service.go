// Package campaignsync serves campaign operations through a TTL cache,
// coalescing concurrent refreshes and retrying transient backend failures.
package campaignsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/foxzi/discador/internal/campaigns"
	"github.com/foxzi/discador/internal/dialer"
	"github.com/foxzi/discador/internal/metrics"
	"github.com/foxzi/discador/internal/retry"
	"github.com/foxzi/discador/internal/synccache"
)

// Cache keys
const (
	KeyList        = "campaigns_list"
	keyItemPrefix  = "campaigns_item_"
	keyStatsPrefix = "campaign_stats_"

	// invalidateSubstring removes the list and every item, not stats
	invalidateSubstring = "campaigns"
)

// Defaults
const (
	DefaultListTTL        = 5 * time.Minute
	DefaultStatsTTL       = 10 * time.Second
	DefaultDeleteAttempts = 2
)

// ItemKey returns the cache key of a single campaign
func ItemKey(id string) string { return keyItemPrefix + id }

// StatsKey returns the cache key of a campaign's stats
func StatsKey(id string) string { return keyStatsPrefix + id }

// ErrMissingID is returned when the backend answers a write without an id
var ErrMissingID = errors.New("backend response has no campaign id")

// ErrEmptyID is returned for operations called without a campaign id
var ErrEmptyID = &campaigns.ValidationError{Field: "id", Message: "is required"}

// Backend is the part of the dialer client the service needs
type Backend interface {
	ListCampaigns(ctx context.Context) ([]dialer.RawCampaign, error)
	GetCampaign(ctx context.Context, id string) (*dialer.RawCampaign, error)
	CreateCampaign(ctx context.Context, req *dialer.CampaignRequest) (*dialer.RawCampaign, error)
	UpdateCampaign(ctx context.Context, id string, req *dialer.CampaignRequest) (*dialer.RawCampaign, error)
	DeleteCampaign(ctx context.Context, id string) error
	DeleteCampaignLegacy(ctx context.Context, id string) error
	ControlCampaign(ctx context.Context, id, action string, data map[string]any) (*dialer.ControlResponse, error)
	GetCampaignStats(ctx context.Context, id string) (*dialer.CampaignStats, error)
}

// Options tunes the service
type Options struct {
	ListTTL        time.Duration
	StatsTTL       time.Duration
	Retry          retry.Policy
	DeleteAttempts int
	Logger         *slog.Logger
	// NewKey generates idempotency keys; uuid.NewString when nil
	NewKey func() string
	// OnRefresh is called with every freshly fetched campaign list
	OnRefresh func(list []campaigns.Campaign)
}

// Service is the campaign sync layer
type Service struct {
	backend Backend
	cache   *synccache.Cache
	opts    Options
	logger  *slog.Logger

	refreshes  singleflight.Group
	mutations  singleflight.Group
	refreshing atomic.Bool
	inFlight   atomic.Int64
	// generation is bumped by every invalidation; a list fetched across a
	// bump is returned to its callers but never cached.
	generation atomic.Uint64
}

// New creates a campaign sync service
func New(backend Backend, cache *synccache.Cache, opts Options) *Service {
	if opts.ListTTL <= 0 {
		opts.ListTTL = DefaultListTTL
	}
	if opts.StatsTTL <= 0 {
		opts.StatsTTL = DefaultStatsTTL
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = retry.DefaultMaxAttempts
	}
	if opts.Retry.BaseDelay <= 0 {
		opts.Retry.BaseDelay = retry.DefaultBaseDelay
	}
	if opts.DeleteAttempts <= 0 {
		opts.DeleteAttempts = DefaultDeleteAttempts
	}
	if opts.NewKey == nil {
		opts.NewKey = uuid.NewString
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		backend: backend,
		cache:   cache,
		opts:    opts,
		logger:  logger.With("component", "campaignsync"),
	}
}

// policy returns the retry policy for op with logging and metrics attached
func (s *Service) policy(op string, attempts int) retry.Policy {
	p := s.opts.Retry.WithAttempts(attempts)
	p.OnRetry = func(attempt int, err error) {
		metrics.IncRetry(op)
		s.logger.Warn("backend call failed, retrying",
			"operation", op,
			"attempt", attempt,
			"error", err,
		)
	}
	return p
}

// classify stops retries on errors the backend will not change its mind about
func classify(err error) error {
	if err != nil && !dialer.IsRetryable(err) {
		return retry.Permanent(err)
	}
	return err
}

func (s *Service) invalidate(id string) {
	s.generation.Add(1)
	s.refreshes.Forget(KeyList)
	removed := s.cache.Clear(invalidateSubstring)
	if id != "" {
		s.cache.Delete(ItemKey(id))
	}
	s.logger.Debug("cache invalidated", "campaign_id", id, "removed", removed)
}

// ListCampaigns returns every campaign, cache-first unless force is set.
// Concurrent callers share a single backend round-trip.
func (s *Service) ListCampaigns(ctx context.Context, force bool) ([]campaigns.Campaign, error) {
	if !force {
		if v, ok := s.cache.Get(KeyList); ok {
			metrics.IncCacheHit("campaigns")
			return slices.Clone(v.([]campaigns.Campaign)), nil
		}
		metrics.IncCacheMiss("campaigns")
	}

	ch := s.refreshes.DoChan(KeyList, func() (any, error) {
		gen := s.generation.Load()
		s.refreshing.Store(true)
		defer s.refreshing.Store(false)

		// The shared fetch outlives any single caller.
		fetchCtx := context.WithoutCancel(ctx)
		raw, err := retry.DoValue(fetchCtx, s.policy("list_campaigns", s.opts.Retry.MaxAttempts),
			func(ctx context.Context) ([]dialer.RawCampaign, error) {
				list, err := s.backend.ListCampaigns(ctx)
				return list, classify(err)
			})
		if err != nil {
			return nil, fmt.Errorf("list campaigns: %w", err)
		}

		list := campaigns.NormalizeList(raw)
		if s.generation.Load() != gen {
			s.logger.Debug("campaign list changed during refresh, not caching", "count", len(list))
			return list, nil
		}
		s.cache.Set(KeyList, list, s.opts.ListTTL)
		s.logger.Debug("campaign list refreshed", "count", len(list))
		if s.opts.OnRefresh != nil {
			s.opts.OnRefresh(slices.Clone(list))
		}
		return list, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			metrics.IncCoalescedList()
		}
		return slices.Clone(res.Val.([]campaigns.Campaign)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ActiveCampaigns returns the active subset of the campaign list
func (s *Service) ActiveCampaigns(ctx context.Context) ([]campaigns.Campaign, error) {
	list, err := s.ListCampaigns(ctx, false)
	if err != nil {
		return nil, err
	}
	return campaigns.FilterByStatus(list, campaigns.StatusActive), nil
}

// GetCampaign returns a single campaign, cache-first
func (s *Service) GetCampaign(ctx context.Context, id string) (campaigns.Campaign, error) {
	if id == "" {
		return campaigns.Campaign{}, ErrEmptyID
	}

	key := ItemKey(id)
	if v, ok := s.cache.Get(key); ok {
		metrics.IncCacheHit("campaigns")
		return v.(campaigns.Campaign), nil
	}
	metrics.IncCacheMiss("campaigns")

	raw, err := retry.DoValue(ctx, s.policy("get_campaign", s.opts.Retry.MaxAttempts),
		func(ctx context.Context) (*dialer.RawCampaign, error) {
			c, err := s.backend.GetCampaign(ctx, id)
			return c, classify(err)
		})
	if err != nil {
		return campaigns.Campaign{}, fmt.Errorf("get campaign %s: %w", id, err)
	}
	if raw == nil || raw.ID == "" {
		return campaigns.Campaign{}, fmt.Errorf("get campaign %s: %w", id, ErrMissingID)
	}

	c := campaigns.Normalize(*raw)
	s.cache.Set(key, c, s.opts.ListTTL)
	return c, nil
}

// mutate runs fn once per intent. Callers with the same intent key that
// overlap an in-flight call share its result and its idempotency key.
func (s *Service) mutate(ctx context.Context, intent string, fn func(ctx context.Context) (any, error)) (any, error) {
	ch := s.mutations.DoChan(intent, func() (any, error) {
		s.inFlight.Add(1)
		defer s.inFlight.Add(-1)

		key := s.opts.NewKey()
		mctx := dialer.WithIdempotencyKey(context.WithoutCancel(ctx), key)
		s.logger.Debug("mutation started", "intent", intent, "idempotency_key", key)
		return fn(mctx)
	})

	select {
	case res := <-ch:
		if res.Shared {
			s.logger.Debug("duplicate mutation coalesced", "intent", intent)
		}
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CreateCampaign validates and creates a campaign. A response without an
// id yields ErrMissingID and leaves the cache untouched.
func (s *Service) CreateCampaign(ctx context.Context, in campaigns.Input) (campaigns.Campaign, error) {
	if err := in.Validate(); err != nil {
		return campaigns.Campaign{}, err
	}

	v, err := s.mutate(ctx, fmt.Sprintf("create:%+v", in), func(ctx context.Context) (any, error) {
		raw, err := retry.DoValue(ctx, s.policy("create_campaign", s.opts.Retry.MaxAttempts),
			func(ctx context.Context) (*dialer.RawCampaign, error) {
				c, err := s.backend.CreateCampaign(ctx, in.ToRequest())
				return c, classify(err)
			})
		if err != nil {
			return nil, fmt.Errorf("create campaign: %w", err)
		}
		if raw == nil || raw.ID == "" {
			return nil, fmt.Errorf("create campaign: %w", ErrMissingID)
		}

		c := campaigns.Normalize(*raw)
		s.invalidate(c.ID)
		s.logger.Info("campaign created", "campaign_id", c.ID, "name", c.Name)
		return c, nil
	})
	if err != nil {
		return campaigns.Campaign{}, err
	}
	return v.(campaigns.Campaign), nil
}

// UpdateCampaign validates and updates a campaign
func (s *Service) UpdateCampaign(ctx context.Context, id string, in campaigns.Input) (campaigns.Campaign, error) {
	if id == "" {
		return campaigns.Campaign{}, ErrEmptyID
	}
	if err := in.Validate(); err != nil {
		return campaigns.Campaign{}, err
	}

	v, err := s.mutate(ctx, fmt.Sprintf("update:%s:%+v", id, in), func(ctx context.Context) (any, error) {
		raw, err := retry.DoValue(ctx, s.policy("update_campaign", s.opts.Retry.MaxAttempts),
			func(ctx context.Context) (*dialer.RawCampaign, error) {
				c, err := s.backend.UpdateCampaign(ctx, id, in.ToRequest())
				return c, classify(err)
			})
		if err != nil {
			return nil, fmt.Errorf("update campaign %s: %w", id, err)
		}
		if raw == nil || raw.ID == "" {
			return nil, fmt.Errorf("update campaign %s: %w", id, ErrMissingID)
		}

		s.invalidate(id)
		s.logger.Info("campaign updated", "campaign_id", id)
		return campaigns.Normalize(*raw), nil
	})
	if err != nil {
		return campaigns.Campaign{}, err
	}
	return v.(campaigns.Campaign), nil
}

// ControlCampaign posts a control action and invalidates the cache
func (s *Service) ControlCampaign(ctx context.Context, id string, action campaigns.Action, data map[string]any) (*dialer.ControlResponse, error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	wire := action.WireName()
	if wire == "" {
		return nil, &campaigns.ValidationError{Field: "action", Message: fmt.Sprintf("unknown action %q", action)}
	}

	v, err := s.mutate(ctx, "control:"+id+":"+string(action), func(ctx context.Context) (any, error) {
		resp, err := retry.DoValue(ctx, s.policy("control_campaign", s.opts.Retry.MaxAttempts),
			func(ctx context.Context) (*dialer.ControlResponse, error) {
				r, err := s.backend.ControlCampaign(ctx, id, wire, data)
				return r, classify(err)
			})
		if err != nil {
			return nil, fmt.Errorf("%s campaign %s: %w", action, id, err)
		}

		s.invalidate(id)
		s.logger.Info("campaign control", "campaign_id", id, "action", action)
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*dialer.ControlResponse), nil
}

// GetCampaignStats returns live counters, cache-first when useCache is set
func (s *Service) GetCampaignStats(ctx context.Context, id string, useCache bool) (*dialer.CampaignStats, error) {
	if id == "" {
		return nil, ErrEmptyID
	}

	key := StatsKey(id)
	if useCache {
		if v, ok := s.cache.Get(key); ok {
			metrics.IncCacheHit("stats")
			stats := v.(dialer.CampaignStats)
			return &stats, nil
		}
		metrics.IncCacheMiss("stats")
	}

	stats, err := retry.DoValue(ctx, s.policy("campaign_stats", s.opts.Retry.MaxAttempts),
		func(ctx context.Context) (*dialer.CampaignStats, error) {
			st, err := s.backend.GetCampaignStats(ctx, id)
			return st, classify(err)
		})
	if err != nil {
		return nil, fmt.Errorf("campaign %s stats: %w", id, err)
	}

	s.cache.Set(key, *stats, s.opts.StatsTTL)
	return stats, nil
}

// UpdateCampaignStatus applies status to the cached copies of a campaign
// without calling the backend. It reports whether any cached copy changed.
func (s *Service) UpdateCampaignStatus(id string, status campaigns.Status) bool {
	changed := false

	if v, ok := s.cache.Get(KeyList); ok {
		list := slices.Clone(v.([]campaigns.Campaign))
		for i := range list {
			if list[i].ID == id {
				list[i] = campaigns.ApplyStatus(list[i], status)
				changed = true
			}
		}
		if changed {
			s.cache.Replace(KeyList, list)
		}
	}

	if v, ok := s.cache.Get(ItemKey(id)); ok {
		if s.cache.Replace(ItemKey(id), campaigns.ApplyStatus(v.(campaigns.Campaign), status)) {
			changed = true
		}
	}

	return changed
}

// DebugState is a point-in-time view of the sync layer
type DebugState struct {
	CacheKeys         []string  `json:"cache_keys"`
	CacheEntries      int       `json:"cache_entries"`
	Refreshing        bool      `json:"refreshing"`
	MutationsInFlight int64     `json:"mutations_in_flight"`
	Time              time.Time `json:"time"`
}

// DebugState returns the current cache and refresh state
func (s *Service) DebugState() DebugState {
	keys := s.cache.Keys()
	return DebugState{
		CacheKeys:         keys,
		CacheEntries:      len(keys),
		Refreshing:        s.refreshing.Load(),
		MutationsInFlight: s.inFlight.Load(),
		Time:              time.Now(),
	}
}

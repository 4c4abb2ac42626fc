// Package trunks manages the SIP trunks the dialer places calls through
package trunks

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/discador/internal/campaigns"
	"github.com/foxzi/discador/internal/dialer"
	"github.com/foxzi/discador/internal/metrics"
	"github.com/foxzi/discador/internal/retry"
	"github.com/foxzi/discador/internal/synccache"
)

const (
	keyList           = "trunks_list"
	invalidatePattern = "trunks_"
)

// Types lists the accepted trunk technologies
var Types = []string{"sip", "pjsip", "iax2"}

// Trunk is a SIP connection to a carrier
type Trunk struct {
	ID          string            `json:"id,omitempty"`
	Name        string            `json:"name"`
	Host        string            `json:"host"`
	CountryCode string            `json:"country_code"`
	DVCodes     []string          `json:"dv_codes"`
	MaxChannels int               `json:"max_channels"`
	TrunkType   string            `json:"trunk_type"`
	SIPConfig   map[string]string `json:"sip_config,omitempty"`
}

func fromDialer(t dialer.Trunk) Trunk {
	return Trunk{
		ID:          string(t.ID),
		Name:        t.Name,
		Host:        t.Host,
		CountryCode: t.CountryCode,
		DVCodes:     t.DVCodes,
		MaxChannels: t.MaxChannels,
		TrunkType:   t.TrunkType,
		SIPConfig:   t.SIPConfig,
	}
}

func (t Trunk) toDialer() *dialer.Trunk {
	return &dialer.Trunk{
		Name:        t.Name,
		Host:        t.Host,
		CountryCode: t.CountryCode,
		DVCodes:     t.DVCodes,
		MaxChannels: t.MaxChannels,
		TrunkType:   t.TrunkType,
		SIPConfig:   t.SIPConfig,
	}
}

// Validate normalizes and checks a trunk definition
func (t *Trunk) Validate() error {
	t.Name = strings.TrimSpace(t.Name)
	t.Host = strings.TrimSpace(t.Host)
	t.CountryCode = strings.TrimPrefix(strings.TrimSpace(t.CountryCode), "+")
	t.TrunkType = strings.ToLower(strings.TrimSpace(t.TrunkType))
	if t.TrunkType == "" {
		t.TrunkType = "sip"
	}

	if t.Name == "" {
		return invalid("name", "is required")
	}
	if err := validateHost(t.Host); err != nil {
		return err
	}
	if len(t.CountryCode) < 1 || len(t.CountryCode) > 3 || !digits(t.CountryCode) {
		return invalid("country_code", "must be 1 to 3 digits")
	}
	for i, dv := range t.DVCodes {
		dv = strings.TrimSpace(dv)
		if dv == "" || !digits(dv) {
			return invalid("dv_codes", fmt.Sprintf("entry %d %q must contain digits only", i, dv))
		}
		t.DVCodes[i] = dv
	}
	if t.MaxChannels < 1 {
		return invalid("max_channels", "must be at least 1")
	}
	if !slices.Contains(Types, t.TrunkType) {
		return invalid("trunk_type", fmt.Sprintf("must be one of %s", strings.Join(Types, ", ")))
	}
	return nil
}

func validateHost(hostport string) error {
	if hostport == "" {
		return invalid("host", "is required")
	}

	host := hostport
	if h, port, err := net.SplitHostPort(hostport); err == nil {
		p, err := strconv.Atoi(port)
		if err != nil || p < 1 || p > 65535 {
			return invalid("host", fmt.Sprintf("invalid port %q", port))
		}
		host = h
	}

	if net.ParseIP(host) != nil {
		return nil
	}
	if !validHostname(host) {
		return invalid("host", fmt.Sprintf("%q is not a hostname or IP address", hostport))
	}
	return nil
}

func validHostname(host string) bool {
	if len(host) > 253 {
		return false
	}
	for _, label := range strings.Split(host, ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, r := range label {
			if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-') {
				return false
			}
		}
	}
	return true
}

func digits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func invalid(field, msg string) error {
	return &campaigns.ValidationError{Field: field, Message: msg}
}

// Backend is the part of the dialer client the service needs
type Backend interface {
	ListTrunks(ctx context.Context) ([]dialer.Trunk, error)
	CreateTrunk(ctx context.Context, t *dialer.Trunk) (*dialer.Trunk, error)
	UpdateTrunk(ctx context.Context, id string, t *dialer.Trunk) (*dialer.Trunk, error)
	DeleteTrunk(ctx context.Context, id string) error
}

// Service manages trunks through the cache
type Service struct {
	backend Backend
	cache   *synccache.Cache
	policy  retry.Policy
	ttl     time.Duration
	logger  *slog.Logger
}

// NewService creates a trunk service
func NewService(backend Backend, cache *synccache.Cache, policy retry.Policy, ttl time.Duration, logger *slog.Logger) *Service {
	return &Service{
		backend: backend,
		cache:   cache,
		policy:  policy,
		ttl:     ttl,
		logger:  logger.With("component", "trunks"),
	}
}

func permanent(err error) error {
	if err != nil && !dialer.IsRetryable(err) {
		return retry.Permanent(err)
	}
	return err
}

// List returns every trunk, cache-first unless force is set
func (s *Service) List(ctx context.Context, force bool) ([]Trunk, error) {
	if !force {
		if v, ok := s.cache.Get(keyList); ok {
			metrics.IncCacheHit("trunks")
			return slices.Clone(v.([]Trunk)), nil
		}
		metrics.IncCacheMiss("trunks")
	}

	raw, err := retry.DoValue(ctx, s.policy, func(ctx context.Context) ([]dialer.Trunk, error) {
		list, err := s.backend.ListTrunks(ctx)
		return list, permanent(err)
	})
	if err != nil {
		return nil, fmt.Errorf("list trunks: %w", err)
	}

	out := make([]Trunk, 0, len(raw))
	for _, t := range raw {
		out = append(out, fromDialer(t))
	}
	s.cache.Set(keyList, out, s.ttl)
	return slices.Clone(out), nil
}

// Create validates and creates a trunk
func (s *Service) Create(ctx context.Context, t Trunk) (Trunk, error) {
	if err := t.Validate(); err != nil {
		return Trunk{}, err
	}

	ctx = dialer.WithIdempotencyKey(ctx, uuid.NewString())
	created, err := retry.DoValue(ctx, s.policy, func(ctx context.Context) (*dialer.Trunk, error) {
		c, err := s.backend.CreateTrunk(ctx, t.toDialer())
		return c, permanent(err)
	})
	if err != nil {
		return Trunk{}, fmt.Errorf("create trunk: %w", err)
	}

	s.cache.Clear(invalidatePattern)
	s.logger.Info("trunk created", "id", created.ID, "name", created.Name, "host", created.Host)
	return fromDialer(*created), nil
}

// Update validates and replaces a trunk
func (s *Service) Update(ctx context.Context, id string, t Trunk) (Trunk, error) {
	if id == "" {
		return Trunk{}, invalid("id", "is required")
	}
	if err := t.Validate(); err != nil {
		return Trunk{}, err
	}

	ctx = dialer.WithIdempotencyKey(ctx, uuid.NewString())
	updated, err := retry.DoValue(ctx, s.policy, func(ctx context.Context) (*dialer.Trunk, error) {
		u, err := s.backend.UpdateTrunk(ctx, id, t.toDialer())
		return u, permanent(err)
	})
	if err != nil {
		return Trunk{}, fmt.Errorf("update trunk %s: %w", id, err)
	}

	s.cache.Clear(invalidatePattern)
	s.logger.Info("trunk updated", "id", id)
	return fromDialer(*updated), nil
}

// Delete removes a trunk
func (s *Service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return invalid("id", "is required")
	}

	ctx = dialer.WithIdempotencyKey(ctx, uuid.NewString())
	err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		return permanent(s.backend.DeleteTrunk(ctx, id))
	})
	s.cache.Clear(invalidatePattern)
	if err != nil {
		return fmt.Errorf("delete trunk %s: %w", id, err)
	}

	s.logger.Info("trunk deleted", "id", id)
	return nil
}

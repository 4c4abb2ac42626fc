// Package blacklist manages numbers the dialer must never call
package blacklist

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
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
	keyList           = "blacklist_list"
	invalidatePattern = "blacklist_"

	minDigits = 4
	maxDigits = 15
)

// Entry is a blacklisted number
type Entry struct {
	Number    string    `json:"number"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Normalize strips formatting from a phone number and keeps a leading +.
// It returns an error when the result is not a plausible E.164-ish number.
func Normalize(number string) (string, error) {
	number = strings.TrimSpace(number)

	var b strings.Builder
	for i, r := range number {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ', r == '-', r == '(', r == ')', r == '.':
		default:
			return "", &campaigns.ValidationError{Field: "number", Message: fmt.Sprintf("invalid character %q in %q", r, number)}
		}
	}

	out := b.String()
	n := len(strings.TrimPrefix(out, "+"))
	if n < minDigits || n > maxDigits {
		return "", &campaigns.ValidationError{Field: "number", Message: fmt.Sprintf("%q must have %d to %d digits", number, minDigits, maxDigits)}
	}
	return out, nil
}

// Backend is the part of the dialer client the service needs
type Backend interface {
	ListBlacklist(ctx context.Context) ([]dialer.BlacklistEntry, error)
	AddBlacklist(ctx context.Context, entry *dialer.BlacklistEntry) (*dialer.BlacklistEntry, error)
	RemoveBlacklist(ctx context.Context, number string) error
}

// Service manages the blacklist through the cache
type Service struct {
	backend Backend
	cache   *synccache.Cache
	policy  retry.Policy
	ttl     time.Duration
	logger  *slog.Logger
}

// NewService creates a blacklist service
func NewService(backend Backend, cache *synccache.Cache, policy retry.Policy, ttl time.Duration, logger *slog.Logger) *Service {
	return &Service{
		backend: backend,
		cache:   cache,
		policy:  policy,
		ttl:     ttl,
		logger:  logger.With("component", "blacklist"),
	}
}

func permanent(err error) error {
	if err != nil && !dialer.IsRetryable(err) {
		return retry.Permanent(err)
	}
	return err
}

// List returns every blacklisted number, cache-first unless force is set
func (s *Service) List(ctx context.Context, force bool) ([]Entry, error) {
	if !force {
		if v, ok := s.cache.Get(keyList); ok {
			metrics.IncCacheHit("blacklist")
			return slices.Clone(v.([]Entry)), nil
		}
		metrics.IncCacheMiss("blacklist")
	}

	raw, err := retry.DoValue(ctx, s.policy, func(ctx context.Context) ([]dialer.BlacklistEntry, error) {
		list, err := s.backend.ListBlacklist(ctx)
		return list, permanent(err)
	})
	if err != nil {
		return nil, fmt.Errorf("list blacklist: %w", err)
	}

	out := make([]Entry, 0, len(raw))
	for _, e := range raw {
		out = append(out, Entry{Number: e.Number, Reason: e.Reason, CreatedAt: e.CreatedAt.Time})
	}
	s.cache.Set(keyList, out, s.ttl)
	return slices.Clone(out), nil
}

// Add blacklists a number
func (s *Service) Add(ctx context.Context, number, reason string) (Entry, error) {
	normalized, err := Normalize(number)
	if err != nil {
		return Entry{}, err
	}

	e, err := s.add(ctx, normalized, reason)
	if err != nil {
		return Entry{}, err
	}
	s.cache.Clear(invalidatePattern)
	s.logger.Info("number blacklisted", "number", normalized)
	return e, nil
}

func (s *Service) add(ctx context.Context, number, reason string) (Entry, error) {
	ctx = dialer.WithIdempotencyKey(ctx, uuid.NewString())
	resp, err := retry.DoValue(ctx, s.policy, func(ctx context.Context) (*dialer.BlacklistEntry, error) {
		r, err := s.backend.AddBlacklist(ctx, &dialer.BlacklistEntry{Number: number, Reason: reason})
		return r, permanent(err)
	})
	if err != nil {
		return Entry{}, fmt.Errorf("blacklist %s: %w", number, err)
	}

	e := Entry{Number: number, Reason: reason}
	if resp != nil {
		if resp.Number != "" {
			e.Number = resp.Number
		}
		e.CreatedAt = resp.CreatedAt.Time
	}
	return e, nil
}

// Remove takes a number off the blacklist
func (s *Service) Remove(ctx context.Context, number string) error {
	normalized, err := Normalize(number)
	if err != nil {
		return err
	}

	ctx = dialer.WithIdempotencyKey(ctx, uuid.NewString())
	err = retry.Do(ctx, s.policy, func(ctx context.Context) error {
		return permanent(s.backend.RemoveBlacklist(ctx, normalized))
	})
	s.cache.Clear(invalidatePattern)
	if err != nil {
		return fmt.Errorf("remove %s from blacklist: %w", normalized, err)
	}

	s.logger.Info("number removed from blacklist", "number", normalized)
	return nil
}

// ImportResult summarizes a bulk import
type ImportResult struct {
	Added   int      `json:"added"`
	Skipped int      `json:"skipped"`
	Invalid []string `json:"invalid,omitempty"`
}

// Import reads one number per line. Blank lines and lines starting with #
// are ignored; an optional reason follows the number after a comma.
// Numbers already listed, or repeated in the input, are skipped.
func (s *Service) Import(ctx context.Context, r io.Reader, reason string) (ImportResult, error) {
	var res ImportResult

	existing, err := s.List(ctx, false)
	if err != nil {
		return res, err
	}
	seen := make(map[string]struct{}, len(existing))
	for _, e := range existing {
		seen[e.Number] = struct{}{}
		// The backend may hold numbers it stored with formatting
		if n, err := Normalize(e.Number); err == nil {
			seen[n] = struct{}{}
		}
	}

	defer s.cache.Clear(invalidatePattern)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		number, lineReason, _ := strings.Cut(line, ",")
		lineReason = strings.TrimSpace(lineReason)
		if lineReason == "" {
			lineReason = reason
		}

		normalized, err := Normalize(number)
		if err != nil {
			res.Invalid = append(res.Invalid, strings.TrimSpace(number))
			continue
		}
		if _, dup := seen[normalized]; dup {
			res.Skipped++
			continue
		}

		if err := ctx.Err(); err != nil {
			return res, err
		}
		if _, err := s.add(ctx, normalized, lineReason); err != nil {
			return res, err
		}
		seen[normalized] = struct{}{}
		res.Added++
	}
	if err := scanner.Err(); err != nil {
		return res, fmt.Errorf("read import: %w", err)
	}

	s.logger.Info("blacklist import finished",
		"added", res.Added,
		"skipped", res.Skipped,
		"invalid", len(res.Invalid),
	)
	return res, nil
}

// Package assets manages the audio files played by campaigns
package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/discador/internal/campaigns"
	"github.com/foxzi/discador/internal/dialer"
	"github.com/foxzi/discador/internal/metrics"
	"github.com/foxzi/discador/internal/retry"
	"github.com/foxzi/discador/internal/synccache"
)

// DefaultMaxSize is the upload size limit when none is configured
const DefaultMaxSize int64 = 20 << 20

const (
	keyList           = "audio_list"
	invalidatePattern = "audio"
)

// AudioType is the role an audio file plays in a call
type AudioType string

const (
	TypeGreeting  AudioType = "greeting"
	TypeVoicemail AudioType = "voicemail"
	TypeHold      AudioType = "hold"
	TypeDTMF      AudioType = "dtmf"
	TypeTransfer  AudioType = "transfer"
)

// Types lists every accepted audio type
var Types = []AudioType{TypeGreeting, TypeVoicemail, TypeHold, TypeDTMF, TypeTransfer}

// Valid reports whether t is a known audio type
func (t AudioType) Valid() bool {
	return slices.Contains(Types, t)
}

var allowedExtensions = []string{".wav", ".mp3", ".gsm"}

// Asset is an uploaded audio file
type Asset struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	AudioType       AudioType `json:"audio_type"`
	SizeBytes       int64     `json:"size_bytes"`
	DurationSeconds float64   `json:"duration_seconds"`
	CampaignID      string    `json:"campaign_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func fromDialer(a dialer.AudioAsset) Asset {
	return Asset{
		ID:              string(a.ID),
		Name:            a.Name,
		Description:     a.Description,
		AudioType:       AudioType(a.AudioType),
		SizeBytes:       a.SizeBytes,
		DurationSeconds: a.DurationSeconds,
		CampaignID:      string(a.CampaignID),
		CreatedAt:       a.CreatedAt.Time,
	}
}

// UploadInput describes a new audio file
type UploadInput struct {
	Name        string
	Description string
	AudioType   AudioType
	CampaignID  string
	FileName    string
	// Size is the declared size; 0 means unknown and is enforced while streaming
	Size int64
}

// Validate checks the upload metadata against maxSize
func (in *UploadInput) Validate(maxSize int64) error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		in.Name = strings.TrimSuffix(filepath.Base(in.FileName), filepath.Ext(in.FileName))
	}

	if in.FileName == "" {
		return &campaigns.ValidationError{Field: "file", Message: "is required"}
	}
	ext := strings.ToLower(filepath.Ext(in.FileName))
	if !slices.Contains(allowedExtensions, ext) {
		return &campaigns.ValidationError{
			Field:   "file",
			Message: fmt.Sprintf("extension %q not allowed, use %s", ext, strings.Join(allowedExtensions, ", ")),
		}
	}
	if !in.AudioType.Valid() {
		return &campaigns.ValidationError{Field: "audio_type", Message: fmt.Sprintf("unknown type %q", in.AudioType)}
	}
	if in.Name == "" {
		return &campaigns.ValidationError{Field: "name", Message: "is required"}
	}
	if in.Size > maxSize {
		return &campaigns.ValidationError{Field: "file", Message: fmt.Sprintf("size %d exceeds limit of %d bytes", in.Size, maxSize)}
	}
	return nil
}

// Backend is the part of the dialer client the service needs
type Backend interface {
	ListAudio(ctx context.Context) ([]dialer.AudioAsset, error)
	UploadAudio(ctx context.Context, meta dialer.AudioUpload, file io.Reader) (*dialer.AudioAsset, error)
	DeleteAudio(ctx context.Context, id string) error
}

// Service manages audio assets through the cache
type Service struct {
	backend Backend
	cache   *synccache.Cache
	policy  retry.Policy
	maxSize int64
	ttl     time.Duration
	logger  *slog.Logger
}

// NewService creates an audio asset service
func NewService(backend Backend, cache *synccache.Cache, policy retry.Policy, maxSize int64, ttl time.Duration, logger *slog.Logger) *Service {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Service{
		backend: backend,
		cache:   cache,
		policy:  policy,
		maxSize: maxSize,
		ttl:     ttl,
		logger:  logger.With("component", "assets"),
	}
}

// MaxSize returns the upload size limit
func (s *Service) MaxSize() int64 {
	return s.maxSize
}

// List returns every asset, cache-first unless force is set
func (s *Service) List(ctx context.Context, force bool) ([]Asset, error) {
	if !force {
		if v, ok := s.cache.Get(keyList); ok {
			metrics.IncCacheHit("audio")
			return slices.Clone(v.([]Asset)), nil
		}
		metrics.IncCacheMiss("audio")
	}

	raw, err := retry.DoValue(ctx, s.policy, func(ctx context.Context) ([]dialer.AudioAsset, error) {
		list, err := s.backend.ListAudio(ctx)
		if err != nil && !dialer.IsRetryable(err) {
			return nil, retry.Permanent(err)
		}
		return list, err
	})
	if err != nil {
		return nil, fmt.Errorf("list audio: %w", err)
	}

	out := make([]Asset, 0, len(raw))
	for _, a := range raw {
		out = append(out, fromDialer(a))
	}
	s.cache.Set(keyList, out, s.ttl)
	return slices.Clone(out), nil
}

// Upload streams file to the backend. The stream is not retried since it
// can only be read once.
func (s *Service) Upload(ctx context.Context, in UploadInput, file io.Reader) (Asset, error) {
	if err := in.Validate(s.maxSize); err != nil {
		return Asset{}, err
	}

	limited := &limitedReader{r: file, remaining: s.maxSize}
	ctx = dialer.WithIdempotencyKey(ctx, uuid.NewString())

	a, err := s.backend.UploadAudio(ctx, dialer.AudioUpload{
		Name:        in.Name,
		Description: in.Description,
		AudioType:   string(in.AudioType),
		CampaignID:  in.CampaignID,
		FileName:    filepath.Base(in.FileName),
	}, limited)
	if limited.exceeded.Load() {
		return Asset{}, &campaigns.ValidationError{Field: "file", Message: fmt.Sprintf("exceeds limit of %d bytes", s.maxSize)}
	}
	if err != nil {
		return Asset{}, fmt.Errorf("upload audio: %w", err)
	}

	s.cache.Clear(invalidatePattern)
	s.logger.Info("audio uploaded", "id", a.ID, "name", a.Name, "type", a.AudioType)
	return fromDialer(*a), nil
}

// Delete removes an asset
func (s *Service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return &campaigns.ValidationError{Field: "id", Message: "is required"}
	}

	ctx = dialer.WithIdempotencyKey(ctx, uuid.NewString())
	err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		err := s.backend.DeleteAudio(ctx, id)
		if err != nil && !dialer.IsRetryable(err) {
			return retry.Permanent(err)
		}
		return err
	})
	s.cache.Clear(invalidatePattern)
	if err != nil {
		return fmt.Errorf("delete audio %s: %w", id, err)
	}

	s.logger.Info("audio deleted", "id", id)
	return nil
}

// limitedReader fails the stream once more than remaining bytes are read
type limitedReader struct {
	r         io.Reader
	remaining int64
	exceeded  atomic.Bool
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, errTooLarge
	}
	// Read one byte past the limit to detect oversize input.
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		l.exceeded.Store(true)
		return n, errTooLarge
	}
	return n, err
}

var errTooLarge = errors.New("audio file too large")

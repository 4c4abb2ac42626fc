package campaignsync

import (
	"context"
	"fmt"

	"github.com/foxzi/discador/internal/dialer"
	"github.com/foxzi/discador/internal/metrics"
	"github.com/foxzi/discador/internal/retry"
)

// DeleteMethod names the endpoint that completed a delete
type DeleteMethod string

const (
	DeletePrimary DeleteMethod = "primary"
	DeleteLegacy  DeleteMethod = "legacy"
)

// DeleteResult describes a successful delete
type DeleteResult struct {
	ID     string       `json:"id"`
	Method DeleteMethod `json:"method"`
	// PrimaryError is set when the legacy endpoint had to be used
	PrimaryError string `json:"primary_error,omitempty"`
}

// FallbackError is returned when both delete endpoints failed
type FallbackError struct {
	ID      string
	Primary error
	Legacy  error
}

func (e *FallbackError) Error() string {
	return fmt.Sprintf("delete campaign %s: primary: %v; legacy: %v", e.ID, e.Primary, e.Legacy)
}

func (e *FallbackError) Unwrap() []error {
	return []error{e.Primary, e.Legacy}
}

// DeleteCampaign deletes through the primary endpoint and falls back to the
// legacy one. The cache is invalidated whatever the outcome, since a failed
// response does not prove the backend kept the campaign.
func (s *Service) DeleteCampaign(ctx context.Context, id string) (DeleteResult, error) {
	if id == "" {
		return DeleteResult{}, ErrEmptyID
	}

	v, err := s.mutate(ctx, "delete:"+id, func(ctx context.Context) (any, error) {
		defer func() {
			s.invalidate(id)
			s.cache.Delete(StatsKey(id))
		}()

		policy := s.policy("delete_campaign", s.opts.DeleteAttempts)

		primaryErr := retry.Do(ctx, policy, func(ctx context.Context) error {
			return classify(s.backend.DeleteCampaign(ctx, id))
		})
		if primaryErr == nil {
			s.logger.Info("campaign deleted", "campaign_id", id, "method", DeletePrimary)
			return DeleteResult{ID: id, Method: DeletePrimary}, nil
		}

		metrics.IncDeleteFallback()
		s.logger.Warn("primary delete failed, trying legacy endpoint",
			"campaign_id", id,
			"error", primaryErr,
		)

		legacyErr := retry.Do(ctx, policy, func(ctx context.Context) error {
			return classify(s.backend.DeleteCampaignLegacy(ctx, id))
		})
		if legacyErr != nil {
			return nil, &FallbackError{ID: id, Primary: primaryErr, Legacy: legacyErr}
		}

		s.logger.Info("campaign deleted", "campaign_id", id, "method", DeleteLegacy)
		return DeleteResult{ID: id, Method: DeleteLegacy, PrimaryError: primaryErr.Error()}, nil
	})
	if err != nil {
		return DeleteResult{}, err
	}
	return v.(DeleteResult), nil
}

// compile-time check that the REST client satisfies Backend
var _ Backend = (*dialer.Client)(nil)

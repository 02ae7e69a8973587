package dispatch

import (
	"context"

	"go.uber.org/zap"

	"github.com/you/crosspost/internal/domain"
	"github.com/you/crosspost/internal/ratelimit"
)

// Dispatcher executes one channel of one job and always produces a
// definite result; it never retries and never raises past its result.
type Dispatcher interface {
	Dispatch(ctx context.Context, job domain.Job, ch domain.Channel, plan domain.Plan) domain.DispatchResult
}

// QuotaGate is the managed dispatcher's view of the rate limiter.
type QuotaGate interface {
	TryConsume(ctx context.Context, tenantID string, ch domain.Channel, ceiling int64) (ratelimit.Decision, error)
}

// Publisher performs a direct publish against a channel's native API.
type Publisher interface {
	Publish(ctx context.Context, job domain.Job, ch domain.Channel) error
}

// Set is the closed strategy set keyed by DispatchMode.
type Set struct {
	Managed      Dispatcher
	Forward      Dispatcher
	Unconfigured Dispatcher
}

func (s *Set) Dispatch(ctx context.Context, job domain.Job, ch domain.Channel, plan domain.Plan) domain.DispatchResult {
	switch plan.Mode {
	case domain.ModeManaged:
		return s.Managed.Dispatch(ctx, job, ch, plan)
	case domain.ModeForwardWebhook, domain.ModeLegacyGlobalForward:
		return s.Forward.Dispatch(ctx, job, ch, plan)
	default:
		return s.Unconfigured.Dispatch(ctx, job, ch, plan)
	}
}

// Managed publishes directly via the channel's native API, gated by the
// per-day quota. A denied attempt never reaches the external API.
type Managed struct {
	Quota     QuotaGate
	Publisher Publisher
	Log       *zap.Logger
}

func (m *Managed) Dispatch(ctx context.Context, job domain.Job, ch domain.Channel, plan domain.Plan) domain.DispatchResult {
	dec, err := m.Quota.TryConsume(ctx, job.TenantID, ch, plan.DailyCeiling)
	if err != nil {
		m.Log.Error("quota check failed",
			zap.String("tenant", job.TenantID), zap.String("channel", string(ch)), zap.Error(err))
		return domain.DispatchResult{
			Channel: ch,
			Status:  domain.StatusError,
			Reason:  domain.ReasonQuotaCheckFailed,
		}
	}
	if !dec.Allowed {
		return domain.DispatchResult{
			Channel:             ch,
			Status:              domain.StatusDeferred,
			Reason:              domain.ReasonQuotaExhausted,
			FallbackSuggestions: []string{"manual_share", "retry_after_utc_midnight"},
		}
	}
	if err := m.Publisher.Publish(ctx, job, ch); err != nil {
		reason := domain.ReasonChannelAPIError
		if ctx.Err() == context.DeadlineExceeded {
			reason = domain.ReasonTimeout
		}
		m.Log.Warn("managed publish failed",
			zap.String("tenant", job.TenantID), zap.String("channel", string(ch)), zap.Error(err))
		return domain.DispatchResult{Channel: ch, Status: domain.StatusError, Reason: reason}
	}
	return domain.DispatchResult{Channel: ch, Status: domain.StatusPublished}
}

// Unconfigured answers immediately, no network.
type Unconfigured struct{}

func (Unconfigured) Dispatch(_ context.Context, _ domain.Job, ch domain.Channel, _ domain.Plan) domain.DispatchResult {
	return domain.DispatchResult{
		Channel:             ch,
		Status:              domain.StatusFallbackRequired,
		Reason:              domain.ReasonNotConfigured,
		FallbackSuggestions: []string{"manual_share", "configure_forward_webhook"},
	}
}

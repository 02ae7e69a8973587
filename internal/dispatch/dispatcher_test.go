package dispatch

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/you/crosspost/internal/domain"
	"github.com/you/crosspost/internal/ratelimit"
)

type fakeQuota struct {
	decision ratelimit.Decision
	err      error
	calls    int
}

func (f *fakeQuota) TryConsume(_ context.Context, _ string, _ domain.Channel, _ int64) (ratelimit.Decision, error) {
	f.calls++
	return f.decision, f.err
}

type fakePublisher struct {
	err   error
	calls int
}

func (f *fakePublisher) Publish(_ context.Context, _ domain.Job, _ domain.Channel) error {
	f.calls++
	return f.err
}

func TestManagedPublishes(t *testing.T) {
	pub := &fakePublisher{}
	m := &Managed{
		Quota:     &fakeQuota{decision: ratelimit.Decision{Allowed: true, Used: 1}},
		Publisher: pub,
		Log:       zap.NewNop(),
	}

	res := m.Dispatch(context.Background(), domain.Job{TenantID: "t1"}, "yt", domain.Plan{Mode: domain.ModeManaged, DailyCeiling: 50})
	if res.Status != domain.StatusPublished {
		t.Fatalf("status %s, want published", res.Status)
	}
	if pub.calls != 1 {
		t.Fatalf("publisher called %d times, want 1", pub.calls)
	}
}

func TestManagedQuotaDeniedNeverCallsAPI(t *testing.T) {
	pub := &fakePublisher{}
	m := &Managed{
		Quota:     &fakeQuota{decision: ratelimit.Decision{Allowed: false, Used: 51}},
		Publisher: pub,
		Log:       zap.NewNop(),
	}

	res := m.Dispatch(context.Background(), domain.Job{TenantID: "t1"}, "yt", domain.Plan{Mode: domain.ModeManaged, DailyCeiling: 50})
	if res.Status != domain.StatusDeferred {
		t.Fatalf("status %s, want deferred", res.Status)
	}
	if res.Reason != domain.ReasonQuotaExhausted {
		t.Fatalf("reason %s, want quota_exhausted", res.Reason)
	}
	if len(res.FallbackSuggestions) == 0 {
		t.Fatal("deferred result carries no fallback suggestions")
	}
	if pub.calls != 0 {
		t.Fatal("external API called despite quota denial")
	}
}

func TestManagedPublishFailure(t *testing.T) {
	m := &Managed{
		Quota:     &fakeQuota{decision: ratelimit.Decision{Allowed: true}},
		Publisher: &fakePublisher{err: errors.New("boom")},
		Log:       zap.NewNop(),
	}

	res := m.Dispatch(context.Background(), domain.Job{TenantID: "t1"}, "yt", domain.Plan{Mode: domain.ModeManaged})
	if res.Status != domain.StatusError {
		t.Fatalf("status %s, want error", res.Status)
	}
	if res.Reason != domain.ReasonChannelAPIError {
		t.Fatalf("reason %s, want channel_api_error", res.Reason)
	}
}

func TestManagedQuotaCheckFailure(t *testing.T) {
	pub := &fakePublisher{}
	m := &Managed{
		Quota:     &fakeQuota{err: errors.New("redis down")},
		Publisher: pub,
		Log:       zap.NewNop(),
	}

	res := m.Dispatch(context.Background(), domain.Job{TenantID: "t1"}, "yt", domain.Plan{Mode: domain.ModeManaged})
	if res.Status != domain.StatusError || res.Reason != domain.ReasonQuotaCheckFailed {
		t.Fatalf("unexpected result: %+v", res)
	}
	if pub.calls != 0 {
		t.Fatal("published without a quota decision")
	}
}

func TestUnconfiguredAnswersImmediately(t *testing.T) {
	res := Unconfigured{}.Dispatch(context.Background(), domain.Job{}, "ig", domain.Plan{Mode: domain.ModeUnconfigured})
	if res.Status != domain.StatusFallbackRequired {
		t.Fatalf("status %s, want fallback_required", res.Status)
	}
	if res.Reason == "" || len(res.FallbackSuggestions) == 0 {
		t.Fatalf("missing reason or suggestions: %+v", res)
	}
}

func TestSetSelectsByMode(t *testing.T) {
	set := &Set{
		Managed: &Managed{
			Quota:     &fakeQuota{decision: ratelimit.Decision{Allowed: true}},
			Publisher: &fakePublisher{},
			Log:       zap.NewNop(),
		},
		Forward:      NewForwarder(nil, nil, 0, 0, zap.NewNop()),
		Unconfigured: Unconfigured{},
	}

	res := set.Dispatch(context.Background(), domain.Job{}, "yt", domain.Plan{Mode: domain.ModeManaged})
	if res.Status != domain.StatusPublished {
		t.Fatalf("managed plan got %s", res.Status)
	}
	res = set.Dispatch(context.Background(), domain.Job{}, "ig", domain.Plan{Mode: domain.ModeUnconfigured})
	if res.Status != domain.StatusFallbackRequired {
		t.Fatalf("unconfigured plan got %s", res.Status)
	}
	// forward with no allow-listed hosts fails closed, it must not panic
	res = set.Dispatch(context.Background(), domain.Job{}, "fb", domain.Plan{
		Mode: domain.ModeForwardWebhook, WebhookURL: "https://hooks.example.com/x",
	})
	if res.Status != domain.StatusError || res.Reason != domain.ReasonHostNotAllowed {
		t.Fatalf("forward plan got %+v", res)
	}
}

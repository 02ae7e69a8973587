package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/you/crosspost/internal/domain"
)

// Forwarder relays the job payload as a channel-tagged envelope to the
// configured external URL. Serves both ForwardWebhook and
// LegacyGlobalForward plans; the two differ only in where the URL came
// from.
type Forwarder struct {
	Client *http.Client
	Log    *zap.Logger

	allowed map[string]struct{}

	// per-host pacing of outbound sends
	perHost rate.Limit
	burst   int
	mu      sync.Mutex
	hosts   map[string]*rate.Limiter

	now func() time.Time
}

func NewForwarder(client *http.Client, allowedHosts []string, perHostRPS float64, burst int, log *zap.Logger) *Forwarder {
	allowed := make(map[string]struct{}, len(allowedHosts))
	for _, h := range allowedHosts {
		allowed[h] = struct{}{}
	}
	if perHostRPS <= 0 {
		perHostRPS = 10
	}
	if burst <= 0 {
		burst = 5
	}
	return &Forwarder{
		Client:  client,
		Log:     log,
		allowed: allowed,
		perHost: rate.Limit(perHostRPS),
		burst:   burst,
		hosts:   map[string]*rate.Limiter{},
		now:     time.Now,
	}
}

func (f *Forwarder) Dispatch(ctx context.Context, job domain.Job, ch domain.Channel, plan domain.Plan) domain.DispatchResult {
	// Re-validated on every send: configuration may have gone stale or
	// been tampered with since it was written.
	target, err := url.Parse(plan.WebhookURL)
	if err != nil || target.Hostname() == "" {
		return domain.DispatchResult{Channel: ch, Status: domain.StatusError, Reason: domain.ReasonHostNotAllowed}
	}
	if _, ok := f.allowed[target.Hostname()]; !ok {
		f.Log.Warn("forward target not on allow-list",
			zap.String("tenant", job.TenantID), zap.String("host", target.Hostname()))
		return domain.DispatchResult{Channel: ch, Status: domain.StatusError, Reason: domain.ReasonHostNotAllowed}
	}

	if err := f.hostLimiter(target.Hostname()).Wait(ctx); err != nil {
		return domain.DispatchResult{Channel: ch, Status: domain.StatusError, Reason: domain.ReasonTimeout}
	}

	envelope := domain.ForwardEnvelope{
		Kind:      string(ch) + "_post",
		TenantID:  job.TenantID,
		Template:  job.Template,
		Payload:   job.Payload,
		Timestamp: f.now().UTC(),
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return domain.DispatchResult{Channel: ch, Status: domain.StatusError, Reason: domain.ReasonInternalError}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, plan.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return domain.DispatchResult{Channel: ch, Status: domain.StatusError, Reason: domain.ReasonForwardFailed}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.Client.Do(req)
	if err != nil {
		reason := domain.ReasonForwardFailed
		if ctx.Err() == context.DeadlineExceeded {
			reason = domain.ReasonTimeout
		}
		f.Log.Warn("forward send failed",
			zap.String("tenant", job.TenantID), zap.String("channel", string(ch)), zap.Error(err))
		return domain.DispatchResult{Channel: ch, Status: domain.StatusError, Reason: reason}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f.Log.Warn("forward target rejected envelope",
			zap.String("tenant", job.TenantID), zap.String("channel", string(ch)),
			zap.Int("status", resp.StatusCode))
		return domain.DispatchResult{Channel: ch, Status: domain.StatusError, Reason: domain.ReasonForwardFailed}
	}
	// accepted-by-forwarder counts as published
	return domain.DispatchResult{Channel: ch, Status: domain.StatusPublished}
}

func (f *Forwarder) hostLimiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.hosts[host]
	if !ok {
		lim = rate.NewLimiter(f.perHost, f.burst)
		f.hosts[host] = lim
	}
	return lim
}

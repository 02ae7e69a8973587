package domain

import (
	"encoding/json"
	"time"
)

// Channel identifies an external social-media destination (e.g. "yt", "fb").
type Channel string

// JobStatus tracks a job's lifecycle in the store.
type JobStatus string

const (
	JobQueued       JobStatus = "queued"
	JobSucceeded    JobStatus = "succeeded"
	JobFailed       JobStatus = "failed"
	JobDeadLettered JobStatus = "dead_lettered"
)

// Mode is the dispatch strategy resolved for a tenant's channel.
type Mode string

const (
	ModeManaged             Mode = "managed"
	ModeForwardWebhook      Mode = "forward_webhook"
	ModeLegacyGlobalForward Mode = "legacy_global_forward"
	ModeUnconfigured        Mode = "unconfigured"
)

// Job is one logical post request. Immutable once enqueued; the queue
// envelope is exactly this struct serialized as JSON.
type Job struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenant_id"`
	Template       string         `json:"template"`
	Channels       []Channel      `json:"channels"`
	Payload        map[string]any `json:"payload"`
	IdempotencyKey string         `json:"idempotency_key"`
	EnqueuedAt     time.Time      `json:"enqueued_at"`
}

// ChannelConfig is one tenant's settings for a single channel.
type ChannelConfig struct {
	Mode         Mode
	WebhookURL   string
	DailyCeiling int64
}

// TenantChannelConfig is the immutable configuration snapshot a job is
// routed against. Resolved once per job, never re-read mid-dispatch.
type TenantChannelConfig struct {
	TenantID         string
	LegacyForward    bool
	LegacyForwardURL string
	Channels         map[Channel]ChannelConfig
}

// Plan is the routing decision for one requested channel.
type Plan struct {
	Mode         Mode
	WebhookURL   string
	DailyCeiling int64
}

type ResultStatus string

const (
	StatusPublished        ResultStatus = "published"
	StatusDeferred         ResultStatus = "deferred"
	StatusFallbackRequired ResultStatus = "fallback_required"
	StatusError            ResultStatus = "error"
)

// Well-known result reasons.
const (
	ReasonQuotaExhausted   = "quota_exhausted"
	ReasonTimeout          = "timeout"
	ReasonNotConfigured    = "channel_not_configured"
	ReasonTenantNotFound   = "tenant_not_configured"
	ReasonHostNotAllowed   = "forward_host_not_allowed"
	ReasonForwardFailed    = "forward_failed"
	ReasonChannelAPIError  = "channel_api_error"
	ReasonQuotaCheckFailed = "quota_check_failed"
	ReasonInternalError    = "internal_error"
)

// DispatchResult is the definite outcome for one requested channel.
type DispatchResult struct {
	Channel             Channel      `json:"channel"`
	Status              ResultStatus `json:"status"`
	Reason              string       `json:"reason,omitempty"`
	FallbackSuggestions []string     `json:"fallback_suggestions,omitempty"`
}

// Fallback is the compact (channel, reason) pair surfaced for every
// non-published channel in an outcome.
type Fallback struct {
	Channel Channel `json:"channel"`
	Reason  string  `json:"reason"`
}

// JobOutcome aggregates the per-channel results of one job execution.
// Success is true only when every requested channel published.
type JobOutcome struct {
	JobID       string                     `json:"job_id"`
	TenantID    string                     `json:"tenant_id"`
	Success     bool                       `json:"success"`
	Results     map[Channel]DispatchResult `json:"results"`
	Fallbacks   []Fallback                 `json:"fallbacks,omitempty"`
	CompletedAt time.Time                  `json:"completed_at"`
}

// ForwardEnvelope is the payload POSTed to ForwardWebhook and
// LegacyGlobalForward targets.
type ForwardEnvelope struct {
	Kind      string         `json:"kind"`
	TenantID  string         `json:"tenant_id"`
	Template  string         `json:"template"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// DeadLetter wraps the original queue envelope verbatim plus a failure
// annotation for operator inspection.
type DeadLetter struct {
	Job          json.RawMessage `json:"job"`
	Timestamp    time.Time       `json:"timestamp"`
	ErrorSummary string          `json:"error_summary"`
}

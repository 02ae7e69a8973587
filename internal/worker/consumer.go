package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/you/crosspost/internal/dispatch"
	"github.com/you/crosspost/internal/domain"
	"github.com/you/crosspost/internal/queue"
	"github.com/you/crosspost/internal/tenantcfg"
)

// OutcomeStore settles job rows: an aggregated outcome for jobs that
// completed, a terminal dead-lettered status for jobs that did not.
type OutcomeStore interface {
	RecordOutcome(ctx context.Context, outcome domain.JobOutcome) error
	MarkDeadLettered(ctx context.Context, jobID string) error
}

// Completer flips the idempotency record of a finished job to done.
type Completer interface {
	Complete(ctx context.Context, tenantID, key, jobID string) error
}

// Consumer pulls jobs off the work queue and runs them to a definite
// end: an aggregated outcome, or the dead-letter list. A job is
// processed at most once; the dequeue is the ack and nothing requeues.
type Consumer struct {
	Queue       *queue.RedisQ
	Resolver    tenantcfg.Resolver
	Dispatchers dispatch.Dispatcher
	Outcomes    OutcomeStore
	Gate        Completer
	Log         *zap.Logger

	// per-channel dispatch deadline
	DispatchTimeout time.Duration
	// cap on in-flight channel dispatches within one job
	Concurrency int
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		raw, err := c.Queue.Dequeue(ctx, 5*time.Second)
		if errors.Is(err, queue.ErrEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.Log.Error("dequeue failed", zap.Error(err))
			continue
		}
		c.Process(ctx, raw)
	}
}

// Process runs one job envelope through resolve -> dispatch -> aggregate
// -> record. Per-channel failures stay inside their channel's result;
// anything outside those contracts dead-letters the envelope verbatim.
func (c *Consumer) Process(ctx context.Context, raw []byte) {
	var job domain.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		// No job ID to settle; the envelope itself is the only record.
		c.deadLetter(ctx, raw, "", fmt.Sprintf("malformed job envelope: %v", err))
		return
	}
	if len(job.Channels) == 0 {
		c.deadLetter(ctx, raw, job.ID, "invariant violation: empty channel set")
		return
	}
	log := c.Log.With(zap.String("job_id", job.ID), zap.String("tenant", job.TenantID))

	var results map[domain.Channel]domain.DispatchResult
	cfg, err := c.Resolver.Resolve(ctx, job.TenantID)
	switch {
	case err == nil:
		results = c.dispatchAll(ctx, job, dispatch.Route(job, cfg))
	case errors.Is(err, tenantcfg.ErrTenantNotFound):
		// Not fatal: the job completes with every channel told to fall back.
		results = make(map[domain.Channel]domain.DispatchResult, len(job.Channels))
		for _, ch := range job.Channels {
			results[ch] = domain.DispatchResult{
				Channel:             ch,
				Status:              domain.StatusFallbackRequired,
				Reason:              domain.ReasonTenantNotFound,
				FallbackSuggestions: []string{"complete_tenant_onboarding"},
			}
		}
	default:
		c.deadLetter(ctx, raw, job.ID, fmt.Sprintf("resolve tenant config: %v", err))
		return
	}

	outcome := dispatch.Aggregate(job, results)
	if err := c.Outcomes.RecordOutcome(ctx, outcome); err != nil {
		c.deadLetter(ctx, raw, job.ID, fmt.Sprintf("record outcome: %v", err))
		return
	}
	if err := c.Gate.Complete(ctx, job.TenantID, job.IdempotencyKey, job.ID); err != nil {
		// Outcome is already durable; duplicates will report in-flight
		// until the record expires. Not worth a dead letter.
		log.Warn("complete idempotency record failed", zap.Error(err))
	}
	log.Info("job processed", zap.Bool("success", outcome.Success),
		zap.Int("channels", len(outcome.Results)))
}

// dispatchAll fans out one goroutine per channel and joins them all
// before returning; a slow channel bounds latency, a broken one only its
// own result.
func (c *Consumer) dispatchAll(ctx context.Context, job domain.Job, plans map[domain.Channel]domain.Plan) map[domain.Channel]domain.DispatchResult {
	var (
		mu      sync.Mutex
		results = make(map[domain.Channel]domain.DispatchResult, len(plans))
	)
	g := &errgroup.Group{}
	if c.Concurrency > 0 {
		g.SetLimit(c.Concurrency)
	}
	for ch, plan := range plans {
		ch, plan := ch, plan
		g.Go(func() error {
			res := c.dispatchOne(ctx, job, ch, plan)
			mu.Lock()
			results[ch] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (c *Consumer) dispatchOne(ctx context.Context, job domain.Job, ch domain.Channel, plan domain.Plan) (res domain.DispatchResult) {
	defer func() {
		if r := recover(); r != nil {
			c.Log.Error("dispatcher panicked",
				zap.String("job_id", job.ID), zap.String("channel", string(ch)),
				zap.Any("panic", r))
			res = domain.DispatchResult{
				Channel: ch,
				Status:  domain.StatusError,
				Reason:  domain.ReasonInternalError,
			}
		}
	}()
	dctx, cancel := context.WithTimeout(ctx, c.DispatchTimeout)
	defer cancel()
	return c.Dispatchers.Dispatch(dctx, job, ch, plan)
}

func (c *Consumer) deadLetter(ctx context.Context, raw []byte, jobID, summary string) {
	c.Log.Error("dead-lettering job", zap.String("job_id", jobID), zap.String("summary", summary))
	if err := c.Queue.DeadLetter(ctx, raw, summary); err != nil {
		c.Log.Error("dead letter write failed", zap.Error(err))
	}
	if jobID == "" {
		return
	}
	// Settle the job row so callers polling the outcome see the generic
	// failure instead of a forever-pending job.
	if err := c.Outcomes.MarkDeadLettered(ctx, jobID); err != nil {
		c.Log.Error("mark dead-lettered failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

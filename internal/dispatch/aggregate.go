package dispatch

import (
	"sort"
	"time"

	"github.com/you/crosspost/internal/domain"
)

// Aggregate combines per-channel results into one outcome. Success only
// when every requested channel published; everything else keeps the full
// result map plus a compact fallbacks list, so callers can tell fully,
// partially and not-at-all succeeded apart.
func Aggregate(job domain.Job, results map[domain.Channel]domain.DispatchResult) domain.JobOutcome {
	outcome := domain.JobOutcome{
		JobID:       job.ID,
		TenantID:    job.TenantID,
		Success:     true,
		Results:     results,
		CompletedAt: time.Now().UTC(),
	}
	for _, res := range results {
		if res.Status == domain.StatusPublished {
			continue
		}
		outcome.Success = false
		outcome.Fallbacks = append(outcome.Fallbacks, domain.Fallback{
			Channel: res.Channel,
			Reason:  res.Reason,
		})
	}
	sort.Slice(outcome.Fallbacks, func(i, j int) bool {
		return outcome.Fallbacks[i].Channel < outcome.Fallbacks[j].Channel
	})
	return outcome
}

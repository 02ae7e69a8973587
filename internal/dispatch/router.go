package dispatch

import "github.com/you/crosspost/internal/domain"

// Route turns one job plus a resolved configuration snapshot into a plan
// per requested channel. Routing happens exactly once, before any
// dispatcher runs, so every channel in the job sees the same snapshot.
//
// The tenant-wide legacy forward flag wins over per-channel modes; a
// requested channel absent from the snapshot is Unconfigured.
func Route(job domain.Job, cfg domain.TenantChannelConfig) map[domain.Channel]domain.Plan {
	plans := make(map[domain.Channel]domain.Plan, len(job.Channels))
	for _, ch := range job.Channels {
		if cfg.LegacyForward {
			plans[ch] = domain.Plan{
				Mode:       domain.ModeLegacyGlobalForward,
				WebhookURL: cfg.LegacyForwardURL,
			}
			continue
		}
		cc, ok := cfg.Channels[ch]
		if !ok {
			plans[ch] = domain.Plan{Mode: domain.ModeUnconfigured}
			continue
		}
		plans[ch] = domain.Plan{
			Mode:         cc.Mode,
			WebhookURL:   cc.WebhookURL,
			DailyCeiling: cc.DailyCeiling,
		}
	}
	return plans
}

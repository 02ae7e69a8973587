package tenantcfg

import (
	"context"

	"github.com/pkg/errors"

	"github.com/you/crosspost/internal/domain"
)

// ErrTenantNotFound means no configuration exists for the tenant.
var ErrTenantNotFound = errors.New("tenant not found")

// Resolver reads a tenant's dispatch configuration. Read-only: the core
// never mutates configuration, and a resolved snapshot is immutable.
type Resolver interface {
	Resolve(ctx context.Context, tenantID string) (domain.TenantChannelConfig, error)
}

// ParseMode maps a stored mode string onto the closed DispatchMode set.
// Unknown strings resolve to Unconfigured: a stale or corrupt row must
// never grant a more permissive mode than the last known configuration.
func ParseMode(s string) domain.Mode {
	switch domain.Mode(s) {
	case domain.ModeManaged:
		return domain.ModeManaged
	case domain.ModeForwardWebhook:
		return domain.ModeForwardWebhook
	case domain.ModeLegacyGlobalForward:
		return domain.ModeLegacyGlobalForward
	default:
		return domain.ModeUnconfigured
	}
}

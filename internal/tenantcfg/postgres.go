package tenantcfg

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/you/crosspost/internal/domain"
)

// PG resolves tenant configuration from the external Postgres store.
type PG struct {
	db *pgxpool.Pool
	// applied when a channel row carries no ceiling of its own
	defaultCeiling int64
}

func NewPG(db *pgxpool.Pool, defaultCeiling int64) *PG {
	return &PG{db: db, defaultCeiling: defaultCeiling}
}

func (p *PG) Resolve(ctx context.Context, tenantID string) (domain.TenantChannelConfig, error) {
	cfg := domain.TenantChannelConfig{
		TenantID: tenantID,
		Channels: map[domain.Channel]domain.ChannelConfig{},
	}

	var legacyURL *string
	err := p.db.QueryRow(ctx,
		`select legacy_forward_enabled, legacy_forward_url
		   from tenants where id = $1`, tenantID,
	).Scan(&cfg.LegacyForward, &legacyURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TenantChannelConfig{}, ErrTenantNotFound
	}
	if err != nil {
		return domain.TenantChannelConfig{}, errors.Wrap(err, "query tenant")
	}
	if legacyURL != nil {
		cfg.LegacyForwardURL = *legacyURL
	}

	rows, err := p.db.Query(ctx,
		`select channel_id, mode, webhook_url, daily_ceiling
		   from tenant_channels where tenant_id = $1`, tenantID)
	if err != nil {
		return domain.TenantChannelConfig{}, errors.Wrap(err, "query tenant channels")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			channel, mode string
			webhookURL    *string
			ceiling       *int64
		)
		if err := rows.Scan(&channel, &mode, &webhookURL, &ceiling); err != nil {
			return domain.TenantChannelConfig{}, errors.Wrap(err, "scan tenant channel")
		}
		cc := domain.ChannelConfig{Mode: ParseMode(mode), DailyCeiling: p.defaultCeiling}
		if webhookURL != nil {
			cc.WebhookURL = *webhookURL
		}
		if ceiling != nil && *ceiling > 0 {
			cc.DailyCeiling = *ceiling
		}
		cfg.Channels[domain.Channel(channel)] = cc
	}
	if err := rows.Err(); err != nil {
		return domain.TenantChannelConfig{}, errors.Wrap(err, "iterate tenant channels")
	}
	return cfg, nil
}

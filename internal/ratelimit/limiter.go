package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"

	"github.com/you/crosspost/internal/domain"
)

// Buckets outlive their day so an operator can still read yesterday's
// counts; Redis garbage-collects them after that.
const bucketTTL = 48 * time.Hour

// Decision reports whether the attempt may proceed. Used is the
// post-increment count; every attempt is counted, denied or not.
type Decision struct {
	Allowed bool
	Used    int64
}

// Limiter enforces per-tenant, per-channel daily quotas on UTC calendar
// day buckets. The INCR is the single atomic increment-and-compare step:
// there is no peek without consuming.
type Limiter struct {
	rdb *r.Client
	now func() time.Time
}

func New(rdb *r.Client) *Limiter {
	return &Limiter{rdb: rdb, now: time.Now}
}

func (l *Limiter) TryConsume(ctx context.Context, tenantID string, ch domain.Channel, ceiling int64) (Decision, error) {
	key := fmt.Sprintf("quota:%s:%s:%s", tenantID, ch, l.now().UTC().Format("20060102"))
	n, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return Decision{}, errors.Wrap(err, "quota incr")
	}
	if n == 1 {
		if err := l.rdb.Expire(ctx, key, bucketTTL).Err(); err != nil {
			return Decision{}, errors.Wrap(err, "quota expire")
		}
	}
	return Decision{Allowed: n <= ceiling, Used: n}, nil
}

package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"

	"github.com/you/crosspost/internal/domain"
)

const (
	workKey = "queue:dispatch"
	dlqKey  = "dlq:dispatch"
)

// ErrEmpty is returned by Dequeue when the blocking pop times out.
var ErrEmpty = errors.New("queue empty")

type RedisQ struct{ rdb *r.Client }

func New(rdb *r.Client) *RedisQ { return &RedisQ{rdb} }

// Enqueue pushes a serialized job envelope onto the work queue.
func (q *RedisQ) Enqueue(ctx context.Context, envelope []byte) error {
	return errors.Wrap(q.rdb.LPush(ctx, workKey, envelope).Err(), "enqueue")
}

// Dequeue blocks up to the given duration for the next envelope. The pop
// is the single ack: a dequeued job is never re-delivered.
func (q *RedisQ) Dequeue(ctx context.Context, block time.Duration) ([]byte, error) {
	res, err := q.rdb.BRPop(ctx, block, workKey).Result()
	if err == r.Nil {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, errors.Wrap(err, "dequeue")
	}
	if len(res) != 2 {
		return nil, ErrEmpty
	}
	return []byte(res[1]), nil
}

// DeadLetter forwards the original envelope verbatim, annotated with a
// failure summary, to the dead-letter list. Nothing re-reads this list
// for delivery; it exists for operator inspection.
func (q *RedisQ) DeadLetter(ctx context.Context, envelope []byte, summary string) error {
	dl := domain.DeadLetter{
		Job:          json.RawMessage(envelope),
		Timestamp:    time.Now().UTC(),
		ErrorSummary: summary,
	}
	b, err := json.Marshal(dl)
	if err != nil {
		return errors.Wrap(err, "marshal dead letter")
	}
	return errors.Wrap(q.rdb.LPush(ctx, dlqKey, b).Err(), "dead letter")
}

// PeekDeadLetters returns up to n most recent dead letters without
// removing them.
func (q *RedisQ) PeekDeadLetters(ctx context.Context, n int64) ([]domain.DeadLetter, error) {
	raw, err := q.rdb.LRange(ctx, dlqKey, 0, n-1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "peek dead letters")
	}
	out := make([]domain.DeadLetter, 0, len(raw))
	for _, item := range raw {
		var dl domain.DeadLetter
		if err := json.Unmarshal([]byte(item), &dl); err != nil {
			return nil, errors.Wrap(err, "decode dead letter")
		}
		out = append(out, dl)
	}
	return out, nil
}

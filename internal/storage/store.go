package storage

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/you/crosspost/internal/domain"
)

// ErrNotFound is returned when a job or outcome does not exist.
var ErrNotFound = errors.New("not found")

type Store struct{ db *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{db} }

// InsertJob persists job metadata at intake (source of truth; the queue
// carries a copy).
func (s *Store) InsertJob(ctx context.Context, j domain.Job) error {
	payload, err := json.Marshal(j.Payload)
	if err != nil {
		return errors.Wrap(err, "marshal payload")
	}
	channels := make([]string, len(j.Channels))
	for i, c := range j.Channels {
		channels[i] = string(c)
	}
	_, err = s.db.Exec(ctx, `insert into jobs(
id, tenant_id, template, channels, payload, idempotency_key, status, enqueued_at
) values ($1,$2,$3,$4,$5,$6,$7,$8)`,
		j.ID, j.TenantID, j.Template, channels, payload, j.IdempotencyKey,
		domain.JobQueued, j.EnqueuedAt,
	)
	return errors.Wrap(err, "insert job")
}

// GetJobStatus reads a job row's lifecycle status; ErrNotFound when the
// job does not exist.
func (s *Store) GetJobStatus(ctx context.Context, jobID string) (domain.JobStatus, error) {
	var status domain.JobStatus
	err := s.db.QueryRow(ctx,
		`select status from jobs where id = $1`, jobID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", errors.Wrap(err, "query job status")
	}
	return status, nil
}

// MarkDeadLettered settles a job row terminally. No outcome row is
// written: the detail lives only in the dead-letter record.
func (s *Store) MarkDeadLettered(ctx context.Context, jobID string) error {
	_, err := s.db.Exec(ctx, `update jobs set status = $2 where id = $1`,
		jobID, domain.JobDeadLettered)
	return errors.Wrap(err, "mark dead-lettered")
}

// RecordOutcome stores the aggregated outcome and settles the job row.
// Idempotent on job_id so a re-recorded outcome cannot duplicate rows.
func (s *Store) RecordOutcome(ctx context.Context, o domain.JobOutcome) error {
	body, err := json.Marshal(o)
	if err != nil {
		return errors.Wrap(err, "marshal outcome")
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `insert into job_outcomes(job_id, tenant_id, success, outcome, completed_at)
values ($1,$2,$3,$4,$5)
on conflict (job_id) do update set success = $3, outcome = $4, completed_at = $5`,
		o.JobID, o.TenantID, o.Success, body, o.CompletedAt); err != nil {
		return errors.Wrap(err, "insert outcome")
	}
	status := domain.JobFailed
	if o.Success {
		status = domain.JobSucceeded
	}
	if _, err := tx.Exec(ctx, `update jobs set status = $2 where id = $1`,
		o.JobID, status); err != nil {
		return errors.Wrap(err, "update job status")
	}
	return errors.Wrap(tx.Commit(ctx), "commit")
}

// GetOutcome loads a recorded outcome; ErrNotFound when the job has not
// completed (or never existed).
func (s *Store) GetOutcome(ctx context.Context, jobID string) (domain.JobOutcome, error) {
	var body []byte
	err := s.db.QueryRow(ctx,
		`select outcome from job_outcomes where job_id = $1`, jobID).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.JobOutcome{}, ErrNotFound
	}
	if err != nil {
		return domain.JobOutcome{}, errors.Wrap(err, "query outcome")
	}
	var o domain.JobOutcome
	if err := json.Unmarshal(body, &o); err != nil {
		return domain.JobOutcome{}, errors.Wrap(err, "decode outcome")
	}
	return o, nil
}

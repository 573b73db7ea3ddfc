package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/applyline/applyline/internal/common"
)

const jobsDDL = `
CREATE TABLE IF NOT EXISTS jobs (
	id             UUID PRIMARY KEY,
	application_id UUID NOT NULL,
	attempt        INTEGER NOT NULL DEFAULT 0,
	available_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	lease_expiry   TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS jobs_claim_idx ON jobs (available_at, lease_expiry, created_at);
`

// PostgresQueue is the production Queue backed by a jobs table.
// The claim uses FOR UPDATE SKIP LOCKED so concurrent workers never
// both succeed on one descriptor.
type PostgresQueue struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewPostgresQueue(pool *pgxpool.Pool, log *slog.Logger) *PostgresQueue {
	if log == nil {
		log = slog.Default()
	}
	return &PostgresQueue{pool: pool, log: log}
}

// EnsureSchema creates the jobs table if missing.
func (q *PostgresQueue) EnsureSchema(ctx context.Context) error {
	if _, err := q.pool.Exec(ctx, jobsDDL); err != nil {
		return fmt.Errorf("ensure jobs schema: %w", err)
	}
	return nil
}

func (q *PostgresQueue) Enqueue(ctx context.Context, applicationID uuid.UUID) (uuid.UUID, error) {
	jobID := uuid.New()
	_, err := q.pool.Exec(ctx,
		`INSERT INTO jobs (id, application_id) VALUES ($1, $2)`,
		jobID, applicationID,
	)
	if err != nil {
		q.log.Error("enqueue failed", "application_id", applicationID, "error", err)
		return uuid.Nil, fmt.Errorf("enqueue application %s: %w", applicationID, err)
	}
	q.log.Info("job enqueued", "job_id", jobID, "application_id", applicationID)
	return jobID, nil
}

func (q *PostgresQueue) Dequeue(ctx context.Context, lease, blockTimeout time.Duration) (*Descriptor, error) {
	deadline := time.Now().Add(blockTimeout)
	for {
		d, err := q.claim(ctx, lease)
		if err != nil || d != nil {
			return d, err
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(claimInterval):
		}
	}
}

func (q *PostgresQueue) claim(ctx context.Context, lease time.Duration) (*Descriptor, error) {
	expiry := time.Now().UTC().Add(lease)
	row := q.pool.QueryRow(ctx, `
		UPDATE jobs SET attempt = attempt + 1, lease_expiry = $1
		WHERE id = (
			SELECT id FROM jobs
			WHERE available_at <= now()
			  AND (lease_expiry IS NULL OR lease_expiry <= now())
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, application_id, attempt, lease_expiry`,
		expiry,
	)

	var d Descriptor
	err := row.Scan(&d.JobID, &d.ApplicationID, &d.Attempt, &d.LeaseExpiry)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	q.log.Debug("job leased", "job_id", d.JobID, "attempt", d.Attempt, "lease_expiry", d.LeaseExpiry)
	return &d, nil
}

func (q *PostgresQueue) Ack(ctx context.Context, jobID uuid.UUID) error {
	return q.remove(ctx, jobID, "acked")
}

func (q *PostgresQueue) NackPermanent(ctx context.Context, jobID uuid.UUID) error {
	return q.remove(ctx, jobID, "nacked permanently")
}

func (q *PostgresQueue) remove(ctx context.Context, jobID uuid.UUID, action string) error {
	tag, err := q.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("remove job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNotFound
	}
	q.log.Info("job "+action, "job_id", jobID)
	return nil
}

func (q *PostgresQueue) Requeue(ctx context.Context, jobID uuid.UUID, delay time.Duration) error {
	availableAt := time.Now().UTC().Add(delay)
	tag, err := q.pool.Exec(ctx,
		`UPDATE jobs SET lease_expiry = NULL, available_at = $2 WHERE id = $1`,
		jobID, availableAt,
	)
	if err != nil {
		return fmt.Errorf("requeue job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNotFound
	}
	q.log.Info("job requeued", "job_id", jobID, "available_at", availableAt)
	return nil
}

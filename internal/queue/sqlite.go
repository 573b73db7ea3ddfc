package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/applyline/applyline/internal/common"
	"github.com/applyline/applyline/internal/sqlitedb"
)

const sqliteJobsDDL = `
CREATE TABLE IF NOT EXISTS jobs (
	id             TEXT PRIMARY KEY,
	application_id TEXT NOT NULL,
	attempt        INTEGER NOT NULL DEFAULT 0,
	available_at   TEXT NOT NULL,
	lease_expiry   TEXT,
	created_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS jobs_claim_idx ON jobs (available_at, lease_expiry, created_at);
`

// SQLiteQueue is the local-mode Queue. The single-connection handle plus a
// claim transaction gives the same no-double-lease guarantee the Postgres
// implementation gets from SKIP LOCKED.
type SQLiteQueue struct {
	db  *sql.DB
	log *slog.Logger
}

// OpenSQLiteQueue opens (or creates) the queue database at path and
// applies the schema. Pass ":memory:" for tests.
func OpenSQLiteQueue(path string, log *slog.Logger) (*SQLiteQueue, error) {
	db, err := sqlitedb.Open(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(sqliteJobsDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure jobs schema: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &SQLiteQueue{db: db, log: log}, nil
}

func (q *SQLiteQueue) Close() error { return q.db.Close() }

func (q *SQLiteQueue) Enqueue(ctx context.Context, applicationID uuid.UUID) (uuid.UUID, error) {
	jobID := uuid.New()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO jobs (id, application_id, attempt, available_at, created_at) VALUES (?, ?, 0, ?, ?)`,
		jobID.String(), applicationID.String(), now, now,
	)
	if err != nil {
		q.log.Error("enqueue failed", "application_id", applicationID, "error", err)
		return uuid.Nil, fmt.Errorf("enqueue application %s: %w", applicationID, err)
	}
	q.log.Info("job enqueued", "job_id", jobID, "application_id", applicationID)
	return jobID, nil
}

func (q *SQLiteQueue) Dequeue(ctx context.Context, lease, blockTimeout time.Duration) (*Descriptor, error) {
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

func (q *SQLiteQueue) claim(ctx context.Context, lease time.Duration) (*Descriptor, error) {
	now := time.Now().UTC()
	nowStr := now.Format(time.RFC3339Nano)
	expiry := now.Add(lease)

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	var jobID, appID string
	var attempt int
	err = tx.QueryRowContext(ctx, `
		SELECT id, application_id, attempt FROM jobs
		WHERE available_at <= ? AND (lease_expiry IS NULL OR lease_expiry <= ?)
		ORDER BY created_at
		LIMIT 1`,
		nowStr, nowStr,
	).Scan(&jobID, &appID, &attempt)
	if errors.Is(err, sql.ErrNoRows) {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE jobs SET attempt = attempt + 1, lease_expiry = ?
		WHERE id = ? AND (lease_expiry IS NULL OR lease_expiry <= ?)`,
		expiry.Format(time.RFC3339Nano), jobID, nowStr,
	)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("leasing job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Another claimant won the row between SELECT and UPDATE.
		tx.Rollback()
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	d := &Descriptor{
		JobID:         uuid.MustParse(jobID),
		ApplicationID: uuid.MustParse(appID),
		Attempt:       attempt + 1,
		LeaseExpiry:   expiry,
	}
	q.log.Debug("job leased", "job_id", d.JobID, "attempt", d.Attempt, "lease_expiry", d.LeaseExpiry)
	return d, nil
}

func (q *SQLiteQueue) Ack(ctx context.Context, jobID uuid.UUID) error {
	return q.remove(ctx, jobID, "acked")
}

func (q *SQLiteQueue) NackPermanent(ctx context.Context, jobID uuid.UUID) error {
	return q.remove(ctx, jobID, "nacked permanently")
}

func (q *SQLiteQueue) remove(ctx context.Context, jobID uuid.UUID, action string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID.String())
	if err != nil {
		return fmt.Errorf("remove job %s: %w", jobID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.ErrNotFound
	}
	q.log.Info("job "+action, "job_id", jobID)
	return nil
}

func (q *SQLiteQueue) Requeue(ctx context.Context, jobID uuid.UUID, delay time.Duration) error {
	availableAt := time.Now().UTC().Add(delay)
	res, err := q.db.ExecContext(ctx,
		`UPDATE jobs SET lease_expiry = NULL, available_at = ? WHERE id = ?`,
		availableAt.Format(time.RFC3339Nano), jobID.String(),
	)
	if err != nil {
		return fmt.Errorf("requeue job %s: %w", jobID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.ErrNotFound
	}
	q.log.Info("job requeued", "job_id", jobID, "available_at", availableAt)
	return nil
}

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/applyline/applyline/constants"
	"github.com/applyline/applyline/internal/common"
	"github.com/applyline/applyline/internal/entity"
)

// StatusUpdate carries the fields written alongside a status transition.
// Nil fields are left untouched.
type StatusUpdate struct {
	Status        constants.ApplicationStatus
	StorageRef    *string
	FailedReason  *string
	ExtractedData json.RawMessage
	Embedding     []float32
}

// ApplicationRepository is the record store for applications. UpdateStatus
// performs an optimistic transition: the write succeeds only when the row
// still holds expectedPrior, otherwise common.ErrConflict is returned and
// the row is unchanged.
type ApplicationRepository interface {
	Create(ctx context.Context, originalFilename string) (*entity.Application, error)
	Get(ctx context.Context, id uuid.UUID) (*entity.Application, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, update StatusUpdate, expectedPrior constants.ApplicationStatus) error
	ListByStatus(ctx context.Context, status constants.ApplicationStatus, limit int) ([]*entity.Application, error)
}

const applicationsDDL = `
CREATE TABLE IF NOT EXISTS applications (
	id                UUID PRIMARY KEY,
	original_filename TEXT NOT NULL,
	storage_ref       TEXT,
	status            TEXT NOT NULL,
	failed_reason     TEXT,
	extracted_data    JSONB,
	embedding         JSONB,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS applications_status_idx ON applications (status, created_at);
`

type applicationRepo struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewApplicationRepository(pool *pgxpool.Pool, log *slog.Logger) ApplicationRepository {
	if log == nil {
		log = slog.Default()
	}
	return &applicationRepo{pool: pool, log: log}
}

// EnsureSchema creates the applications table if missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, applicationsDDL); err != nil {
		return fmt.Errorf("ensure applications schema: %w", err)
	}
	return nil
}

func (r *applicationRepo) Create(ctx context.Context, originalFilename string) (*entity.Application, error) {
	app := &entity.Application{
		ID:               uuid.New(),
		OriginalFilename: originalFilename,
		Status:           constants.StatusPending,
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO applications (id, original_filename, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		app.ID, app.OriginalFilename, string(app.Status), app.CreatedAt, app.UpdatedAt,
	)
	if err != nil {
		r.log.Error("application create failed", "filename", originalFilename, "error", err)
		return nil, fmt.Errorf("create application: %w", err)
	}
	r.log.Info("application created", "application_id", app.ID, "filename", originalFilename)
	return app, nil
}

func (r *applicationRepo) Get(ctx context.Context, id uuid.UUID) (*entity.Application, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, original_filename, storage_ref, status, failed_reason,
		        extracted_data, embedding, created_at, updated_at
		 FROM applications WHERE id = $1`, id)
	return scanApplication(row)
}

func (r *applicationRepo) UpdateStatus(ctx context.Context, id uuid.UUID, update StatusUpdate, expectedPrior constants.ApplicationStatus) error {
	var embedding []byte
	if update.Embedding != nil {
		b, err := json.Marshal(update.Embedding)
		if err != nil {
			return fmt.Errorf("marshal embedding: %w", err)
		}
		embedding = b
	}
	var extracted []byte
	if update.ExtractedData != nil {
		extracted = update.ExtractedData
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE applications SET
			status = $2,
			storage_ref = COALESCE($3, storage_ref),
			failed_reason = COALESCE($4, failed_reason),
			extracted_data = COALESCE($5, extracted_data),
			embedding = COALESCE($6, embedding),
			updated_at = now()
		WHERE id = $1 AND status = $7`,
		id, string(update.Status), update.StorageRef, update.FailedReason,
		extracted, embedding, string(expectedPrior),
	)
	if err != nil {
		r.log.Error("status update failed", "application_id", id, "status", update.Status, "error", err)
		return fmt.Errorf("update application %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.Get(ctx, id); errors.Is(getErr, common.ErrNotFound) {
			return common.ErrNotFound
		}
		r.log.Warn("optimistic status transition rejected",
			"application_id", id, "expected", expectedPrior, "wanted", update.Status)
		return common.ErrConflict
	}
	r.log.Info("application status updated", "application_id", id, "status", update.Status)
	return nil
}

func (r *applicationRepo) ListByStatus(ctx context.Context, status constants.ApplicationStatus, limit int) ([]*entity.Application, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, original_filename, storage_ref, status, failed_reason,
		        extracted_data, embedding, created_at, updated_at
		 FROM applications WHERE status = $1 ORDER BY created_at LIMIT $2`,
		string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()

	var apps []*entity.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApplication(row rowScanner) (*entity.Application, error) {
	var app entity.Application
	var storageRef, failedReason *string
	var status string
	var extracted, embedding []byte

	err := row.Scan(&app.ID, &app.OriginalFilename, &storageRef, &status, &failedReason,
		&extracted, &embedding, &app.CreatedAt, &app.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan application: %w", err)
	}

	app.Status = constants.ApplicationStatus(status)
	if storageRef != nil {
		app.StorageRef = *storageRef
	}
	app.FailedReason = failedReason
	if extracted != nil {
		app.ExtractedData = json.RawMessage(extracted)
	}
	if embedding != nil {
		if err := json.Unmarshal(embedding, &app.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding: %w", err)
		}
	}
	return &app, nil
}

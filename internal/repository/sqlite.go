package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/applyline/applyline/constants"
	"github.com/applyline/applyline/internal/common"
	"github.com/applyline/applyline/internal/entity"
	"github.com/applyline/applyline/internal/sqlitedb"
)

const sqliteApplicationsDDL = `
CREATE TABLE IF NOT EXISTS applications (
	id                TEXT PRIMARY KEY,
	original_filename TEXT NOT NULL,
	storage_ref       TEXT,
	status            TEXT NOT NULL,
	failed_reason     TEXT,
	extracted_data    TEXT,
	embedding         TEXT,
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS applications_status_idx ON applications (status, created_at);
`

// SQLiteApplicationRepository is the local-mode record store. It mirrors
// the Postgres repository, including the optimistic UpdateStatus contract.
type SQLiteApplicationRepository struct {
	db  *sql.DB
	log *slog.Logger
}

// OpenSQLiteRepository opens (or creates) the record-store database at
// path. Pass ":memory:" for tests.
func OpenSQLiteRepository(path string, log *slog.Logger) (*SQLiteApplicationRepository, error) {
	db, err := sqlitedb.Open(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(sqliteApplicationsDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure applications schema: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &SQLiteApplicationRepository{db: db, log: log}, nil
}

func (r *SQLiteApplicationRepository) Close() error { return r.db.Close() }

func (r *SQLiteApplicationRepository) Create(ctx context.Context, originalFilename string) (*entity.Application, error) {
	now := time.Now().UTC()
	app := &entity.Application{
		ID:               uuid.New(),
		OriginalFilename: originalFilename,
		Status:           constants.StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO applications (id, original_filename, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		app.ID.String(), app.OriginalFilename, string(app.Status),
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		r.log.Error("application create failed", "filename", originalFilename, "error", err)
		return nil, fmt.Errorf("create application: %w", err)
	}
	r.log.Info("application created", "application_id", app.ID, "filename", originalFilename)
	return app, nil
}

func (r *SQLiteApplicationRepository) Get(ctx context.Context, id uuid.UUID) (*entity.Application, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, original_filename, storage_ref, status, failed_reason,
		        extracted_data, embedding, created_at, updated_at
		 FROM applications WHERE id = ?`, id.String())
	return scanSQLiteApplication(row)
}

func (r *SQLiteApplicationRepository) UpdateStatus(ctx context.Context, id uuid.UUID, update StatusUpdate, expectedPrior constants.ApplicationStatus) error {
	var embedding *string
	if update.Embedding != nil {
		b, err := json.Marshal(update.Embedding)
		if err != nil {
			return fmt.Errorf("marshal embedding: %w", err)
		}
		s := string(b)
		embedding = &s
	}
	var extracted *string
	if update.ExtractedData != nil {
		s := string(update.ExtractedData)
		extracted = &s
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE applications SET
			status = ?,
			storage_ref = COALESCE(?, storage_ref),
			failed_reason = COALESCE(?, failed_reason),
			extracted_data = COALESCE(?, extracted_data),
			embedding = COALESCE(?, embedding),
			updated_at = ?
		WHERE id = ? AND status = ?`,
		string(update.Status), update.StorageRef, update.FailedReason,
		extracted, embedding, time.Now().UTC().Format(time.RFC3339Nano),
		id.String(), string(expectedPrior),
	)
	if err != nil {
		r.log.Error("status update failed", "application_id", id, "status", update.Status, "error", err)
		return fmt.Errorf("update application %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
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

func (r *SQLiteApplicationRepository) ListByStatus(ctx context.Context, status constants.ApplicationStatus, limit int) ([]*entity.Application, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, original_filename, storage_ref, status, failed_reason,
		        extracted_data, embedding, created_at, updated_at
		 FROM applications WHERE status = ? ORDER BY created_at LIMIT ?`,
		string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()

	var apps []*entity.Application
	for rows.Next() {
		app, err := scanSQLiteApplication(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

func scanSQLiteApplication(row rowScanner) (*entity.Application, error) {
	var app entity.Application
	var id, status, createdAt, updatedAt string
	var storageRef, failedReason, extracted, embedding sql.NullString

	err := row.Scan(&id, &app.OriginalFilename, &storageRef, &status, &failedReason,
		&extracted, &embedding, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan application: %w", err)
	}

	app.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse application id: %w", err)
	}
	app.Status = constants.ApplicationStatus(status)
	if storageRef.Valid {
		app.StorageRef = storageRef.String
	}
	if failedReason.Valid {
		reason := failedReason.String
		app.FailedReason = &reason
	}
	if extracted.Valid {
		app.ExtractedData = json.RawMessage(extracted.String)
	}
	if embedding.Valid {
		if err := json.Unmarshal([]byte(embedding.String), &app.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding: %w", err)
		}
	}
	if app.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if app.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &app, nil
}

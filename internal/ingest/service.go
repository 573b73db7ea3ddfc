// Package ingest is the intake boundary: create the record, store the
// blob, confirm, and hand the job to the queue. Both the HTTP front door
// and the drop-folder watcher run the same sequence.
package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/applyline/applyline/constants"
	"github.com/applyline/applyline/internal/blobstore"
	"github.com/applyline/applyline/internal/common"
	"github.com/applyline/applyline/internal/entity"
	"github.com/applyline/applyline/internal/queue"
	"github.com/applyline/applyline/internal/repository"
)

type Service struct {
	repo   repository.ApplicationRepository
	queue  queue.Queue
	blobs  blobstore.Store
	logger *slog.Logger
}

func NewService(repo repository.ApplicationRepository, q queue.Queue, blobs blobstore.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, queue: q, blobs: blobs, logger: logger}
}

// Submit accepts one uploaded document and returns the created
// application with status QUEUED. The status only reaches QUEUED after
// the blob write is confirmed, and an enqueue error is surfaced (the
// record is marked FAILED) so an application never sits QUEUED with no
// job behind it.
func (s *Service) Submit(ctx context.Context, filename string, r io.Reader) (*entity.Application, error) {
	if constants.MapExtToFormat(filepath.Ext(filename)) == "" {
		return nil, common.WrapError(common.ErrInvalidInput, fmt.Sprintf("unsupported file type %q", filepath.Ext(filename)))
	}

	app, err := s.repo.Create(ctx, filename)
	if err != nil {
		return nil, fmt.Errorf("create application: %w", err)
	}

	key := path.Join(app.ID.String(), filepath.Base(filename))
	ref, err := s.blobs.Put(ctx, key, r)
	if err != nil {
		s.fail(ctx, app.ID, constants.StatusPending, "storage write failed: "+err.Error())
		return nil, fmt.Errorf("store upload: %w", err)
	}

	err = s.repo.UpdateStatus(ctx, app.ID, repository.StatusUpdate{
		Status:     constants.StatusQueued,
		StorageRef: &ref,
	}, constants.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("confirm upload: %w", err)
	}

	if _, err := s.queue.Enqueue(ctx, app.ID); err != nil {
		s.fail(ctx, app.ID, constants.StatusQueued, "enqueue failed: "+err.Error())
		return nil, fmt.Errorf("enqueue application: %w", err)
	}

	app.Status = constants.StatusQueued
	app.StorageRef = ref
	s.logger.Info("application accepted", "application_id", app.ID, "filename", filename)
	return app, nil
}

func (s *Service) fail(ctx context.Context, id uuid.UUID, prior constants.ApplicationStatus, reason string) {
	err := s.repo.UpdateStatus(ctx, id, repository.StatusUpdate{
		Status:       constants.StatusFailed,
		FailedReason: &reason,
	}, prior)
	if err != nil {
		s.logger.Error("failed to mark application FAILED", "application_id", id, "error", err)
	}
}

package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/applyline/applyline/constants"
	"github.com/applyline/applyline/internal/blobstore"
	"github.com/applyline/applyline/internal/common"
	"github.com/applyline/applyline/internal/queue"
	"github.com/applyline/applyline/internal/repository"
)

func newTestService(t *testing.T) (*Service, *repository.SQLiteApplicationRepository, *queue.SQLiteQueue) {
	t.Helper()
	repo, err := repository.OpenSQLiteRepository(":memory:", nil)
	if err != nil {
		t.Fatalf("opening repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	q, err := queue.OpenSQLiteQueue(":memory:", nil)
	if err != nil {
		t.Fatalf("opening queue: %v", err)
	}
	t.Cleanup(func() { q.Close() })

	blobs := blobstore.LocalFS{Root: t.TempDir()}
	return NewService(repo, q, blobs, nil), repo, q
}

func TestSubmitAccepted(t *testing.T) {
	svc, repo, q := newTestService(t)
	ctx := context.Background()

	app, err := svc.Submit(ctx, "resume.pdf", strings.NewReader("%PDF-1.4"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if app.Status != constants.StatusQueued {
		t.Errorf("status = %s, want QUEUED", app.Status)
	}
	if app.StorageRef == "" {
		t.Error("storage ref should be set after upload")
	}

	stored, err := repo.Get(ctx, app.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != constants.StatusQueued || stored.StorageRef != app.StorageRef {
		t.Errorf("persisted record mismatch: %+v", stored)
	}

	d, err := q.Dequeue(ctx, time.Minute, 0)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if d == nil || d.ApplicationID != app.ID {
		t.Errorf("expected a job for %s, got %v", app.ID, d)
	}
}

func TestSubmitRejectsUnsupportedExtension(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Submit(ctx, "malware.exe", strings.NewReader("MZ"))
	if !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("got %v, want ErrInvalidInput", err)
	}

	// Rejected uploads leave no record behind.
	for _, status := range []constants.ApplicationStatus{
		constants.StatusPending, constants.StatusQueued, constants.StatusFailed,
	} {
		apps, err := repo.ListByStatus(ctx, status, 10)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(apps) != 0 {
			t.Errorf("unexpected %s records after rejection: %v", status, apps)
		}
	}
}

type failingEnqueueQueue struct {
	queue.Queue
}

func (failingEnqueueQueue) Enqueue(context.Context, uuid.UUID) (uuid.UUID, error) {
	return uuid.Nil, errors.New("broker unavailable")
}

func TestSubmitEnqueueFailureMarksFailed(t *testing.T) {
	svc, repo, q := newTestService(t)
	svc.queue = failingEnqueueQueue{Queue: q}
	ctx := context.Background()

	_, err := svc.Submit(ctx, "resume.pdf", strings.NewReader("%PDF-1.4"))
	if err == nil {
		t.Fatal("expected submit to surface the enqueue failure")
	}

	// The record must not sit QUEUED with no job behind it.
	failed, listErr := repo.ListByStatus(ctx, constants.StatusFailed, 10)
	if listErr != nil {
		t.Fatalf("list: %v", listErr)
	}
	if len(failed) != 1 {
		t.Fatalf("expected one FAILED record, got %d", len(failed))
	}
	if failed[0].FailedReason == nil || !strings.Contains(*failed[0].FailedReason, "enqueue") {
		t.Errorf("reason = %v", failed[0].FailedReason)
	}

	queued, _ := repo.ListByStatus(ctx, constants.StatusQueued, 10)
	if len(queued) != 0 {
		t.Errorf("no record may remain QUEUED after an enqueue failure: %v", queued)
	}
}

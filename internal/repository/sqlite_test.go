package repository

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/google/uuid"

	"github.com/applyline/applyline/constants"
	"github.com/applyline/applyline/internal/common"
)

func newTestRepo(t *testing.T) *SQLiteApplicationRepository {
	t.Helper()
	r, err := OpenSQLiteRepository(":memory:", nil)
	if err != nil {
		t.Fatalf("opening repository: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestCreateAndGet(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	created, err := r.Create(ctx, "resume.pdf")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Status != constants.StatusPending {
		t.Errorf("new application status = %s, want PENDING", created.Status)
	}

	got, err := r.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != created.ID || got.OriginalFilename != "resume.pdf" {
		t.Errorf("roundtrip mismatch: %+v", got)
	}
	if got.StorageRef != "" || got.FailedReason != nil || got.ExtractedData != nil || got.Embedding != nil {
		t.Errorf("fresh application should have empty result fields: %+v", got)
	}
}

func TestGetUnknown(t *testing.T) {
	r := newTestRepo(t)
	if _, err := r.Get(context.Background(), uuid.New()); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestUpdateStatusTransition(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	app, _ := r.Create(ctx, "resume.pdf")
	ref := "blob/resume.pdf"

	err := r.UpdateStatus(ctx, app.ID, StatusUpdate{
		Status:     constants.StatusQueued,
		StorageRef: &ref,
	}, constants.StatusPending)
	if err != nil {
		t.Fatalf("queued transition: %v", err)
	}

	got, _ := r.Get(ctx, app.ID)
	if got.Status != constants.StatusQueued {
		t.Errorf("status = %s, want QUEUED", got.Status)
	}
	if got.StorageRef != ref {
		t.Errorf("storage ref = %q, want %q", got.StorageRef, ref)
	}
	if !got.UpdatedAt.After(app.UpdatedAt) && !got.UpdatedAt.Equal(app.UpdatedAt) {
		t.Errorf("updated_at went backwards: %v -> %v", app.UpdatedAt, got.UpdatedAt)
	}
}

func TestUpdateStatusConflictLeavesRowUnchanged(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	app, _ := r.Create(ctx, "resume.pdf")

	err := r.UpdateStatus(ctx, app.ID,
		StatusUpdate{Status: constants.StatusProcessing}, constants.StatusQueued)
	if !errors.Is(err, common.ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}

	got, _ := r.Get(ctx, app.ID)
	if got.Status != constants.StatusPending {
		t.Errorf("conflicting update must not change the row, status = %s", got.Status)
	}
}

func TestUpdateStatusUnknownApplication(t *testing.T) {
	r := newTestRepo(t)
	err := r.UpdateStatus(context.Background(), uuid.New(),
		StatusUpdate{Status: constants.StatusProcessing}, constants.StatusQueued)
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestCompletedRoundtripKeepsResults(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	app, _ := r.Create(ctx, "resume.pdf")
	advance(t, r, app.ID, constants.StatusPending, constants.StatusQueued)
	advance(t, r, app.ID, constants.StatusQueued, constants.StatusProcessing)

	extracted := json.RawMessage(`{"name":"Jane Doe","email":"jane@example.com"}`)
	embedding := []float32{0.1, 0.2, 0.3}
	err := r.UpdateStatus(ctx, app.ID, StatusUpdate{
		Status:        constants.StatusCompleted,
		ExtractedData: extracted,
		Embedding:     embedding,
	}, constants.StatusProcessing)
	if err != nil {
		t.Fatalf("completed transition: %v", err)
	}

	got, _ := r.Get(ctx, app.ID)
	if got.Status != constants.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", got.Status)
	}
	if string(got.ExtractedData) != string(extracted) {
		t.Errorf("extracted data = %s", got.ExtractedData)
	}
	if !reflect.DeepEqual(got.Embedding, embedding) {
		t.Errorf("embedding = %v, want %v", got.Embedding, embedding)
	}
}

func TestFailedReasonPersists(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	app, _ := r.Create(ctx, "resume.pdf")
	advance(t, r, app.ID, constants.StatusPending, constants.StatusQueued)
	advance(t, r, app.ID, constants.StatusQueued, constants.StatusProcessing)

	reason := "document produced no text"
	err := r.UpdateStatus(ctx, app.ID, StatusUpdate{
		Status:       constants.StatusFailed,
		FailedReason: &reason,
	}, constants.StatusProcessing)
	if err != nil {
		t.Fatalf("failed transition: %v", err)
	}

	got, _ := r.Get(ctx, app.ID)
	if got.FailedReason == nil || *got.FailedReason != reason {
		t.Errorf("failed reason = %v, want %q", got.FailedReason, reason)
	}
}

func TestListByStatus(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	a, _ := r.Create(ctx, "a.pdf")
	b, _ := r.Create(ctx, "b.pdf")
	advance(t, r, b.ID, constants.StatusPending, constants.StatusQueued)

	pending, err := r.ListByStatus(ctx, constants.StatusPending, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != a.ID {
		t.Errorf("pending list = %v", pending)
	}

	queued, _ := r.ListByStatus(ctx, constants.StatusQueued, 10)
	if len(queued) != 1 || queued[0].ID != b.ID {
		t.Errorf("queued list = %v", queued)
	}
}

func advance(t *testing.T, r *SQLiteApplicationRepository, id uuid.UUID, from, to constants.ApplicationStatus) {
	t.Helper()
	if err := r.UpdateStatus(context.Background(), id, StatusUpdate{Status: to}, from); err != nil {
		t.Fatalf("transition %s -> %s: %v", from, to, err)
	}
}

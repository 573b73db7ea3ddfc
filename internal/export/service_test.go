package export

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/applyline/applyline/constants"
	"github.com/applyline/applyline/internal/repository"
)

func newTestExport(t *testing.T) (*Service, *repository.SQLiteApplicationRepository) {
	t.Helper()
	repo, err := repository.OpenSQLiteRepository(":memory:", nil)
	if err != nil {
		t.Fatalf("opening repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return NewService(repo, nil), repo
}

func complete(t *testing.T, repo *repository.SQLiteApplicationRepository, filename, extracted string) {
	t.Helper()
	ctx := context.Background()
	app, err := repo.Create(ctx, filename)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	steps := []struct {
		from, to constants.ApplicationStatus
	}{
		{constants.StatusPending, constants.StatusQueued},
		{constants.StatusQueued, constants.StatusProcessing},
	}
	for _, s := range steps {
		if err := repo.UpdateStatus(ctx, app.ID, repository.StatusUpdate{Status: s.to}, s.from); err != nil {
			t.Fatalf("to %s: %v", s.to, err)
		}
	}
	err = repo.UpdateStatus(ctx, app.ID, repository.StatusUpdate{
		Status:        constants.StatusCompleted,
		ExtractedData: json.RawMessage(extracted),
	}, constants.StatusProcessing)
	if err != nil {
		t.Fatalf("to COMPLETED: %v", err)
	}
}

func TestExportApplicationsXLSX(t *testing.T) {
	svc, repo := newTestExport(t)
	complete(t, repo, "jane.pdf",
		`{"name":"Jane Doe","email":"jane@example.com","skillsAndTechnologies":["Go","SQL"]}`)

	data, err := svc.ExportApplicationsXLSX(context.Background())
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("reopen workbook: %v", err)
	}
	defer f.Close()

	name, _ := f.GetCellValue("Applications", "B2")
	if name != "Jane Doe" {
		t.Errorf("B2 = %q, want Jane Doe", name)
	}
	email, _ := f.GetCellValue("Applications", "C2")
	if email != "jane@example.com" {
		t.Errorf("C2 = %q", email)
	}
	skills, _ := f.GetCellValue("Applications", "D2")
	if skills != "Go, SQL" {
		t.Errorf("D2 = %q", skills)
	}
	file, _ := f.GetCellValue("Applications", "E2")
	if file != "jane.pdf" {
		t.Errorf("E2 = %q", file)
	}
}

func TestExportSkipsNonCompleted(t *testing.T) {
	svc, repo := newTestExport(t)
	if _, err := repo.Create(context.Background(), "pending.pdf"); err != nil {
		t.Fatalf("create: %v", err)
	}

	data, err := svc.ExportApplicationsXLSX(context.Background())
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("reopen workbook: %v", err)
	}
	defer f.Close()

	// Header row only.
	if v, _ := f.GetCellValue("Applications", "A2"); v != "" {
		t.Errorf("non-completed applications must not be exported, A2 = %q", v)
	}
}

func TestExportToleratesMalformedRecord(t *testing.T) {
	svc, repo := newTestExport(t)
	complete(t, repo, "odd.pdf", `"just a string"`)

	if _, err := svc.ExportApplicationsXLSX(context.Background()); err != nil {
		t.Fatalf("export should not fail on a malformed record: %v", err)
	}
}

func TestSummaryFields(t *testing.T) {
	name, email, skills := summaryFields(nil)
	if name != "" || email != "" || skills != "" {
		t.Error("empty record should yield empty fields")
	}
	name, _, skills = summaryFields(json.RawMessage(`{"name":"A","skillsAndTechnologies":["x"]}`))
	if name != "A" || skills != "x" {
		t.Errorf("got name=%q skills=%q", name, skills)
	}
}

func TestTruncate(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"abcdefghijk", 10, "abcdefghi…"},
		{"", 5, ""},
		{"abc", 0, "abc"},
		{"abc", 1, "a"},
		{"Gérant de café à Zürich", 10, "Gérant de…"},
		{"日本語のスキル一覧です", 5, "日本語の…"},
	}
	for _, tc := range cases {
		got := truncate(tc.in, tc.n)
		if got != tc.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d) produced invalid UTF-8: %q", tc.in, tc.n, got)
		}
	}
}

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/applyline/applyline/constants"
	"github.com/applyline/applyline/internal/common"
	"github.com/applyline/applyline/internal/entity"
	"github.com/applyline/applyline/internal/export"
	"github.com/applyline/applyline/internal/ingest"
	"github.com/applyline/applyline/internal/match"
	"github.com/applyline/applyline/internal/repository"
)

// defaultMaxUploadSize applies when Deps leaves the limit unset.
const defaultMaxUploadSize = 10 << 20 // 10MB

// Deps carries everything the HTTP front door needs.
type Deps struct {
	Intake        *ingest.Service
	Repo          repository.ApplicationRepository
	Export        *export.Service
	Logger        *slog.Logger
	MaxUploadSize int64
}

// NewHandler builds the application router.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.MaxUploadSize <= 0 {
		deps.MaxUploadSize = defaultMaxUploadSize
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", handleHealth())
	r.Post("/applications", handleSubmit(deps))
	r.Get("/applications/{id}", handleGetApplication(deps))
	r.Get("/applications/{id}/similarity/{otherID}", handleSimilarity(deps))
	r.Get("/exports/applications.xlsx", handleExport(deps))

	return r
}

func handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

// handleSubmit accepts a multipart upload under the "file" field, stores it,
// and enqueues processing. The response is 202: processing is asynchronous
// and the caller polls GET /applications/{id} for progress.
func handleSubmit(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, deps.MaxUploadSize)
		defer r.Body.Close()

		file, header, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "missing or unreadable file field: %v", err)
			return
		}
		defer file.Close()

		if header.Filename == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "filename is required")
			return
		}

		app, err := deps.Intake.Submit(r.Context(), header.Filename, file)
		if errors.Is(err, common.ErrInvalidInput) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to accept application: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{
			"application_id": app.ID.String(),
			"status":         string(app.Status),
		})
	}
}

// applicationResponse is the wire form of an application record. Extracted
// data is embedded verbatim; the embedding vector stays internal.
type applicationResponse struct {
	ID               string          `json:"id"`
	OriginalFilename string          `json:"original_filename"`
	Status           string          `json:"status"`
	FailedReason     *string         `json:"failed_reason,omitempty"`
	ExtractedData    json.RawMessage `json:"extracted_data,omitempty"`
	CreatedAt        string          `json:"created_at"`
	UpdatedAt        string          `json:"updated_at"`
}

func toResponse(app *entity.Application) applicationResponse {
	return applicationResponse{
		ID:               app.ID.String(),
		OriginalFilename: app.OriginalFilename,
		Status:           string(app.Status),
		FailedReason:     app.FailedReason,
		ExtractedData:    app.ExtractedData,
		CreatedAt:        app.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:        app.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func handleGetApplication(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid application id")
			return
		}

		app, err := deps.Repo.Get(r.Context(), id)
		if errors.Is(err, common.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "application not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get application: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(toResponse(app))
	}
}

// handleSimilarity compares the embeddings of two completed applications.
// The vectors themselves never leave the server.
func handleSimilarity(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a := fetchEmbedded(w, r, deps, chi.URLParam(r, "id"))
		if a == nil {
			return
		}
		b := fetchEmbedded(w, r, deps, chi.URLParam(r, "otherID"))
		if b == nil {
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"a":          a.ID.String(),
			"b":          b.ID.String(),
			"similarity": match.Cosine(a.Embedding, b.Embedding),
		})
	}
}

// fetchEmbedded loads one application for comparison, writing the error
// response itself when the record is unusable.
func fetchEmbedded(w http.ResponseWriter, r *http.Request, deps Deps, raw string) *entity.Application {
	id, err := uuid.Parse(raw)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid application id %q", raw)
		return nil
	}
	app, err := deps.Repo.Get(r.Context(), id)
	if errors.Is(err, common.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "application %s not found", id)
		return nil
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to get application: %v", err)
		return nil
	}
	if app.Status != constants.StatusCompleted || len(app.Embedding) == 0 {
		httpError(w, http.StatusConflict, "invalid_request_error",
			"application %s has no embedding yet (status %s)", id, app.Status)
		return nil
	}
	return app
}

func handleExport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := deps.Export.ExportApplicationsXLSX(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "export failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="applications.xlsx"`)
		_, _ = w.Write(data)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

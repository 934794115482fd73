package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/alanyoungcy/bookbias/internal/domain"
)

// ExportSource lists and opens stored ladder exports.
type ExportSource interface {
	ListExports(ctx context.Context) ([]domain.BlobInfo, error)
	OpenExport(ctx context.Context, name string) (io.ReadCloser, error)
}

// ExportHandler serves the export listing and downloads.
type ExportHandler struct {
	sources []ExportSource
	logger  *slog.Logger
}

// NewExportHandler creates an ExportHandler merging every source.
func NewExportHandler(logger *slog.Logger, sources ...ExportSource) *ExportHandler {
	return &ExportHandler{sources: sources, logger: logger}
}

// List responds with all known exports.
// GET /api/exports
func (h *ExportHandler) List(w http.ResponseWriter, r *http.Request) {
	out := []domain.BlobInfo{}
	for _, s := range h.sources {
		infos, err := s.ListExports(r.Context())
		if err != nil {
			h.logger.ErrorContext(r.Context(), "list exports", slog.String("error", err.Error()))
			writeError(w, http.StatusBadGateway, "failed to list exports")
			return
		}
		out = append(out, infos...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"exports": out})
}

// Get streams one export from the first source that has it.
// GET /api/exports/{name}
func (h *ExportHandler) Get(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	for _, s := range h.sources {
		rc, err := s.OpenExport(r.Context(), name)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			h.logger.ErrorContext(r.Context(), "open export", slog.String("name", name), slog.String("error", err.Error()))
			writeError(w, http.StatusBadGateway, "failed to open export")
			return
		}
		defer rc.Close()
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, rc); err != nil {
			h.logger.WarnContext(r.Context(), "copy export", slog.String("name", name), slog.String("error", err.Error()))
		}
		return
	}
	writeError(w, http.StatusNotFound, "export not found")
}

package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/bookbias/internal/domain"
)

// SampleReader reads persisted samples.
type SampleReader interface {
	Latest(ctx context.Context, symbol string) (domain.SampleRecord, error)
	ListRecent(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.SampleRecord, error)
}

// SampleHandler serves samples of one asset.
type SampleHandler struct {
	reader SampleReader
	symbol string
	logger *slog.Logger
}

// NewSampleHandler creates a SampleHandler for symbol.
func NewSampleHandler(reader SampleReader, symbol string, logger *slog.Logger) *SampleHandler {
	return &SampleHandler{reader: reader, symbol: symbol, logger: logger}
}

// Latest responds with the newest sample.
// GET /api/samples/latest
func (h *SampleHandler) Latest(w http.ResponseWriter, r *http.Request) {
	rec, err := h.reader.Latest(r.Context(), h.symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no samples yet")
			return
		}
		h.logger.ErrorContext(r.Context(), "latest sample", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load sample")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// List responds with recent samples, newest first.
// GET /api/samples?limit=&offset=&since=&until=
func (h *SampleHandler) List(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := h.reader.ListRecent(r.Context(), h.symbol, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list samples", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list samples")
		return
	}
	if recs == nil {
		recs = []domain.SampleRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":  h.symbol,
		"count":   len(recs),
		"samples": recs,
	})
}

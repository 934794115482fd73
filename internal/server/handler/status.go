package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/bookbias/internal/collector"
)

// StatusProvider exposes the collector's live status.
type StatusProvider interface {
	Status() collector.Status
}

// StatusHandler serves the collector status.
type StatusHandler struct {
	provider StatusProvider
	mode     string
	started  time.Time
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(provider StatusProvider, mode string) *StatusHandler {
	return &StatusHandler{provider: provider, mode: mode, started: time.Now()}
}

// GetStatus responds with the mode, uptime and collector state.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":      h.mode,
		"uptime_s":  int64(time.Since(h.started).Seconds()),
		"collector": h.provider.Status(),
	})
}

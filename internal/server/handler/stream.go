package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/bookbias/internal/domain"
	"github.com/alanyoungcy/bookbias/internal/service"
)

const streamHeartbeat = 15 * time.Second

// StreamHandler pushes newly persisted samples as server-sent events.
type StreamHandler struct {
	bus    domain.SignalBus
	symbol string
	logger *slog.Logger
}

// NewStreamHandler creates a StreamHandler for symbol's sample channel.
func NewStreamHandler(bus domain.SignalBus, symbol string, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{bus: bus, symbol: symbol, logger: logger}
}

// Stream relays the sample channel until the client goes away. A comment
// line is sent every 15s to keep proxies from closing an idle stream.
// GET /api/samples/stream
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	samples, err := h.bus.Subscribe(ctx, service.SampleChannel(h.symbol))
	if err != nil {
		h.logger.ErrorContext(ctx, "subscribe samples", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "sample stream unavailable")
		return
	}

	rc := http.NewResponseController(w)
	// the server's write timeout would otherwise cut the stream
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case payload, ok := <-samples:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "event: sample\ndata: %s\n\n", payload); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

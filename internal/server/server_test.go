package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bookbias/internal/collector"
	"github.com/alanyoungcy/bookbias/internal/domain"
	"github.com/alanyoungcy/bookbias/internal/server/handler"
)

type fixedStatus struct{ st collector.Status }

func (f fixedStatus) Status() collector.Status { return f.st }

type memSamples struct {
	recs     []domain.SampleRecord
	lastOpts domain.ListOpts
}

func (m *memSamples) Latest(context.Context, string) (domain.SampleRecord, error) {
	if len(m.recs) == 0 {
		return domain.SampleRecord{}, domain.ErrNotFound
	}
	return m.recs[0], nil
}

func (m *memSamples) ListRecent(_ context.Context, _ string, opts domain.ListOpts) ([]domain.SampleRecord, error) {
	m.lastOpts = opts
	return m.recs, nil
}

type memExports map[string]string

func (m memExports) ListExports(context.Context) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for name, body := range m {
		out = append(out, domain.BlobInfo{Path: "exports/btc/" + name, Size: int64(len(body))})
	}
	return out, nil
}

func (m memExports) OpenExport(_ context.Context, name string) (io.ReadCloser, error) {
	body, ok := m[name]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

// chanBus replays its payloads to one subscriber, then closes the stream.
type chanBus struct {
	channel  string
	payloads [][]byte
}

func (b *chanBus) Publish(context.Context, string, []byte) error { return nil }

func (b *chanBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	b.channel = channel
	ch := make(chan []byte, len(b.payloads))
	for _, p := range b.payloads {
		ch <- p
	}
	close(ch)
	return ch, nil
}

func newTestServer(t *testing.T, samples *memSamples, checks map[string]handler.Check, apiKey string) http.Handler {
	t.Helper()
	return newTestServerWithBus(t, samples, checks, apiKey, &chanBus{})
}

func newTestServerWithBus(t *testing.T, samples *memSamples, checks map[string]handler.Check, apiKey string, bus *chanBus) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "bookbias_test_total", Help: "test"}))

	h := Handlers{
		Health:  handler.NewHealthHandler(checks, logger),
		Status:  handler.NewStatusHandler(fixedStatus{collector.Status{Instrument: "BTCUSDT", State: "streaming"}}, "full"),
		Samples: handler.NewSampleHandler(samples, "btc", logger),
		Exports: handler.NewExportHandler(logger, memExports{"order_book_20231212_000000.json": `{"asks":[],"bids":[]}`}),
		Stream:  handler.NewStreamHandler(bus, "btc", logger),
	}
	return NewServer(Config{Port: 0, APIKey: apiKey}, h, reg, nil, logger).Handler()
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func sample() domain.SampleRecord {
	return domain.SampleRecord{
		ID:          uuid.New(),
		AssetSymbol: "btc",
		SampledAt:   time.Date(2023, 12, 12, 0, 0, 0, 0, time.UTC),
		Metrics: domain.BookMetrics{
			MidPrice: decimal.RequireFromString("99.5"),
			Windows: []domain.WindowMetrics{{
				Window: domain.BiasWindow{Name: "4", HalfWidth: decimal.RequireFromString("0.04")},
				AskQty: decimal.NewFromInt(3),
				BidQty: decimal.NewFromInt(3),
			}},
		},
	}
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, &memSamples{}, map[string]handler.Check{
		"postgres": func(context.Context) error { return nil },
	}, "")
	if rec := get(t, h, "/api/health"); rec.Code != http.StatusOK {
		t.Errorf("status = %d, body %s", rec.Code, rec.Body)
	}

	h = newTestServer(t, &memSamples{}, map[string]handler.Check{
		"redis": func(context.Context) error { return errors.New("refused") },
	}, "")
	rec := get(t, h, "/api/health")
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "refused") {
		t.Errorf("degraded health: %d %s", rec.Code, rec.Body)
	}
}

func TestStatus(t *testing.T) {
	rec := get(t, newTestServer(t, &memSamples{}, nil, ""), "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Mode      string           `json:"mode"`
		Collector collector.Status `json:"collector"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Mode != "full" || body.Collector.State != "streaming" || body.Collector.Instrument != "BTCUSDT" {
		t.Errorf("body = %+v", body)
	}
}

func TestSamplesLatest(t *testing.T) {
	h := newTestServer(t, &memSamples{}, nil, "")
	if rec := get(t, h, "/api/samples/latest"); rec.Code != http.StatusNotFound {
		t.Errorf("empty store: status = %d, want 404", rec.Code)
	}

	want := sample()
	h = newTestServer(t, &memSamples{recs: []domain.SampleRecord{want}}, nil, "")
	rec := get(t, h, "/api/samples/latest")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got domain.SampleRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != want.ID || !got.Metrics.MidPrice.Equal(want.Metrics.MidPrice) {
		t.Errorf("got %+v", got)
	}
	if !strings.Contains(rec.Body.String(), `"mid_price":"99.5"`) {
		t.Errorf("mid price not encoded as exact string: %s", rec.Body)
	}
}

func TestSamplesList(t *testing.T) {
	samples := &memSamples{recs: []domain.SampleRecord{sample(), sample()}}
	h := newTestServer(t, samples, nil, "")

	rec := get(t, h, "/api/samples?limit=5&since=2023-12-12T00:00:00Z")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if samples.lastOpts.Limit != 5 || samples.lastOpts.Since == nil {
		t.Errorf("opts = %+v", samples.lastOpts)
	}
	var body struct {
		Count int `json:"count"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Count != 2 {
		t.Errorf("count = %d, want 2", body.Count)
	}

	if rec := get(t, h, "/api/samples?limit=abc"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit: status = %d, want 400", rec.Code)
	}
}

func TestExportsAndMetrics(t *testing.T) {
	h := newTestServer(t, &memSamples{}, nil, "")

	rec := get(t, h, "/api/exports")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "order_book_20231212_000000.json") {
		t.Errorf("exports: %d %s", rec.Code, rec.Body)
	}

	rec = get(t, h, "/api/exports/order_book_20231212_000000.json")
	if rec.Code != http.StatusOK || rec.Body.String() != `{"asks":[],"bids":[]}` {
		t.Errorf("export download: %d %s", rec.Code, rec.Body)
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, "order_book_20231212_000000.json") {
		t.Errorf("Content-Disposition = %q", got)
	}
	if rec := get(t, h, "/api/exports/order_book_20991231_000000.json"); rec.Code != http.StatusNotFound {
		t.Errorf("missing export: status = %d, want 404", rec.Code)
	}

	rec = get(t, h, "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "bookbias_test_total") {
		t.Errorf("metrics: %d", rec.Code)
	}
}

func TestAuthProtectsAPI(t *testing.T) {
	h := newTestServer(t, &memSamples{}, nil, "secret")
	if rec := get(t, h, "/api/status"); rec.Code != http.StatusUnauthorized {
		t.Errorf("status without key = %d, want 401", rec.Code)
	}
	if rec := get(t, h, "/api/health"); rec.Code != http.StatusOK {
		t.Errorf("health without key = %d, want 200", rec.Code)
	}
}

func TestSampleStream(t *testing.T) {
	bus := &chanBus{payloads: [][]byte{[]byte(`{"asset_symbol":"btc"}`)}}
	h := newTestServerWithBus(t, &memSamples{}, nil, "", bus)

	rec := get(t, h, "/api/samples/stream")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if bus.channel != "samples:btc" {
		t.Errorf("subscribed to %q", bus.channel)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	want := "event: sample\ndata: {\"asset_symbol\":\"btc\"}\n\n"
	if rec.Body.String() != want {
		t.Errorf("body = %q, want %q", rec.Body.String(), want)
	}
}

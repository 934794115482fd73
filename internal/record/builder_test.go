package record

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bookbias/internal/domain"
)

func level(price, qty string) domain.PriceLevel {
	return domain.PriceLevel{Price: decimal.RequireFromString(price), Quantity: decimal.RequireFromString(qty)}
}

func TestBuild(t *testing.T) {
	updated := time.Date(2023, 12, 12, 10, 0, 1, 0, time.UTC)
	sampled := time.Date(2023, 12, 12, 10, 0, 2, 0, time.FixedZone("X", 3600))
	snap := domain.LadderSnapshot{
		Asks:      []domain.PriceLevel{level("100", "1")},
		Bids:      []domain.PriceLevel{level("99", "1")},
		UpdatedAt: updated,
	}
	m := domain.BookMetrics{MidPrice: decimal.RequireFromString("99.5")}

	bucket := sampled.UTC().Truncate(time.Minute)
	b := NewBuilder("btc", nil)
	rec := b.Build(snap, m, sampled, bucket)

	if rec.ID != SampleID("btc", bucket) {
		t.Errorf("ID = %s, want SampleID(btc, %s)", rec.ID, bucket)
	}
	if rec.AssetSymbol != "btc" {
		t.Errorf("AssetSymbol = %q, want btc", rec.AssetSymbol)
	}
	if !rec.LastLadderUpdate.Equal(updated) {
		t.Errorf("LastLadderUpdate = %s, want %s", rec.LastLadderUpdate, updated)
	}
	if !rec.SampledAt.Equal(sampled) || rec.SampledAt.Location() != time.UTC {
		t.Errorf("SampledAt = %s, want %s in UTC", rec.SampledAt, sampled.UTC())
	}
	if !rec.Metrics.MidPrice.Equal(m.MidPrice) {
		t.Errorf("MidPrice = %s", rec.Metrics.MidPrice)
	}

	retry := b.Build(snap, m, sampled.Add(30*time.Second), bucket)
	if retry.ID != rec.ID {
		t.Errorf("retry in the same interval got ID %s, want %s", retry.ID, rec.ID)
	}
}

func TestSampleID(t *testing.T) {
	noon := time.Date(2023, 12, 12, 12, 0, 0, 0, time.UTC)
	base := SampleID("btc", noon)

	tests := []struct {
		name   string
		symbol string
		bucket time.Time
		same   bool
	}{
		{"same interval", "btc", noon, true},
		{"same instant other zone", "btc", noon.In(time.FixedZone("X", 3600)), true},
		{"next interval", "btc", noon.Add(time.Minute), false},
		{"other symbol", "eth", noon, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SampleID(tt.symbol, tt.bucket)
			if (got == base) != tt.same {
				t.Errorf("SampleID(%q, %s) = %s, base %s, want same=%v", tt.symbol, tt.bucket, got, base, tt.same)
			}
			if got == uuid.Nil {
				t.Error("SampleID returned nil UUID")
			}
		})
	}
}

func TestNextExport(t *testing.T) {
	s, err := ParseSchedule(DefaultExportCron)
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}
	at := time.Date(2023, 12, 12, 12, 0, 5, 0, time.UTC)

	got, ok := NewBuilder("btc", &s).NextExport(at)
	if !ok {
		t.Fatal("NextExport() ok = false")
	}
	if !s.Matches(got) || !got.After(at) {
		t.Errorf("NextExport() = %s, want a scheduled minute after %s", got, at)
	}
	if _, ok := NewBuilder("btc", nil).NextExport(at); ok {
		t.Error("NextExport with no schedule ok = true")
	}
}

func TestShouldExport(t *testing.T) {
	s, err := ParseSchedule(DefaultExportCron)
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}
	noon := time.Date(2023, 12, 12, 12, 0, 5, 0, time.UTC)

	if !NewBuilder("btc", &s).ShouldExport(noon) {
		t.Error("ShouldExport(noon) = false")
	}
	if NewBuilder("btc", &s).ShouldExport(noon.Add(time.Minute)) {
		t.Error("ShouldExport(12:01) = true")
	}
	if NewBuilder("btc", nil).ShouldExport(noon) {
		t.Error("ShouldExport with no schedule = true")
	}
}

func TestEncodeLadder(t *testing.T) {
	snap := domain.LadderSnapshot{
		Asks: []domain.PriceLevel{level("42000.10", "0.5"), level("42001", "1.25")},
		Bids: []domain.PriceLevel{level("41999.99", "3")},
	}
	data, err := EncodeLadder(snap)
	if err != nil {
		t.Fatalf("EncodeLadder: %v", err)
	}

	var got struct {
		Asks []map[string]any `json:"asks"`
		Bids []map[string]any `json:"bids"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got.Asks) != 2 || len(got.Bids) != 1 {
		t.Fatalf("levels = %d/%d, want 2/1", len(got.Asks), len(got.Bids))
	}
	if p, ok := got.Asks[0]["price"].(string); !ok || p != "42000.1" {
		t.Errorf("asks[0].price = %#v, want string \"42000.1\"", got.Asks[0]["price"])
	}
	if q, ok := got.Asks[1]["quantity"].(float64); !ok || q != 1.25 {
		t.Errorf("asks[1].quantity = %#v, want number 1.25", got.Asks[1]["quantity"])
	}
	if !strings.Contains(string(data), "\n    \"asks\"") {
		t.Errorf("output not indented:\n%s", data)
	}
}

func TestExportName(t *testing.T) {
	at := time.Date(2023, 12, 12, 12, 0, 7, 0, time.FixedZone("X", 2*3600))
	if got, want := ExportName(at), "order_book_20231212_100007.json"; got != want {
		t.Errorf("ExportName = %q, want %q", got, want)
	}
}

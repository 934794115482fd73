// Package record turns computed book metrics into persisted sample records
// and encodes full-ladder exports.
package record

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/bookbias/internal/domain"
)

// Builder assembles SampleRecords for one asset.
type Builder struct {
	symbol   string
	schedule *Schedule
}

// NewBuilder returns a Builder for symbol. A nil schedule disables ladder
// exports.
func NewBuilder(symbol string, schedule *Schedule) *Builder {
	return &Builder{symbol: symbol, schedule: schedule}
}

// sampleNamespace scopes sample IDs derived by SampleID.
var sampleNamespace = uuid.MustParse("6f3c2a8e-5b1d-4e7a-9c0f-2d4b8a1e7f35")

// SampleID returns the record ID for symbol's sample in the interval starting
// at bucket. A retried interval gets the same ID, so the store's insert stays
// a no-op when the first attempt was committed.
func SampleID(symbol string, bucket time.Time) uuid.UUID {
	return uuid.NewSHA1(sampleNamespace, []byte(symbol+"|"+bucket.UTC().Format(time.RFC3339)))
}

// Build returns the record for snap and its metrics, sampled at sampledAt
// within the interval starting at bucket.
func (b *Builder) Build(snap domain.LadderSnapshot, m domain.BookMetrics, sampledAt, bucket time.Time) domain.SampleRecord {
	return domain.SampleRecord{
		ID:               SampleID(b.symbol, bucket),
		AssetSymbol:      b.symbol,
		Metrics:          m,
		LastLadderUpdate: snap.UpdatedAt,
		SampledAt:        sampledAt.UTC(),
	}
}

// NextExport returns the first scheduled export minute after t. It reports
// false when exports are disabled.
func (b *Builder) NextExport(t time.Time) (time.Time, bool) {
	if b.schedule == nil {
		return time.Time{}, false
	}
	return b.schedule.Next(t)
}

// ShouldExport reports whether a full ladder export is due for sampledAt.
func (b *Builder) ShouldExport(sampledAt time.Time) bool {
	return b.schedule != nil && b.schedule.Matches(sampledAt)
}

type exportLevel struct {
	Price    string      `json:"price"`
	Quantity json.Number `json:"quantity"`
}

type exportLadder struct {
	Asks []exportLevel `json:"asks"`
	Bids []exportLevel `json:"bids"`
}

// EncodeLadder renders snap as indented JSON. Prices are exact decimal
// strings and quantities are JSON numbers.
func EncodeLadder(snap domain.LadderSnapshot) ([]byte, error) {
	out := exportLadder{
		Asks: toExportLevels(snap.Asks),
		Bids: toExportLevels(snap.Bids),
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "    ")
	if err := enc.Encode(out); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func toExportLevels(levels []domain.PriceLevel) []exportLevel {
	out := make([]exportLevel, len(levels))
	for i, l := range levels {
		out[i] = exportLevel{Price: l.Price.String(), Quantity: json.Number(l.Quantity.String())}
	}
	return out
}

// ExportName returns the file name of a ladder export taken at sampledAt.
func ExportName(sampledAt time.Time) string {
	return "order_book_" + sampledAt.UTC().Format("20060102_150405") + ".json"
}

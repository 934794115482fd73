package binance

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bookbias/internal/domain"
)

// Book is a local depth cache kept in sync from a REST snapshot plus the
// diff stream. It is not safe for concurrent use.
type Book struct {
	lastUpdateID int64
	synced       bool
	asks         map[string]domain.PriceLevel
	bids         map[string]domain.PriceLevel
	updatedAt    time.Time
}

// NewBook seeds a book from a REST depth snapshot taken at fetchedAt.
func NewBook(snap DepthSnapshot, fetchedAt time.Time) (*Book, error) {
	b := &Book{
		lastUpdateID: snap.LastUpdateID,
		asks:         make(map[string]domain.PriceLevel, len(snap.Asks)),
		bids:         make(map[string]domain.PriceLevel, len(snap.Bids)),
		updatedAt:    fetchedAt.UTC(),
	}
	if err := applyLevels(b.asks, snap.Asks); err != nil {
		return nil, fmt.Errorf("binance: snapshot asks: %w", err)
	}
	if err := applyLevels(b.bids, snap.Bids); err != nil {
		return nil, fmt.Errorf("binance: snapshot bids: %w", err)
	}
	return b, nil
}

// LastUpdateID returns the id of the last applied update.
func (b *Book) LastUpdateID() int64 { return b.lastUpdateID }

// Apply merges ev into the book. It reports false for events already covered
// by the book. The first applied event must straddle the snapshot id and
// every later one must start right after its predecessor; otherwise Apply
// fails with domain.ErrSequenceGap and the book must be rebuilt.
func (b *Book) Apply(ev DepthEvent) (bool, error) {
	if ev.FinalUpdateID <= b.lastUpdateID {
		return false, nil
	}
	if b.synced {
		if ev.FirstUpdateID != b.lastUpdateID+1 {
			return false, fmt.Errorf("binance: %w: want U=%d, got U=%d", domain.ErrSequenceGap, b.lastUpdateID+1, ev.FirstUpdateID)
		}
	} else if ev.FirstUpdateID > b.lastUpdateID+1 {
		return false, fmt.Errorf("binance: %w: first event U=%d after snapshot %d", domain.ErrSequenceGap, ev.FirstUpdateID, b.lastUpdateID)
	}

	if err := applyLevels(b.asks, ev.Asks); err != nil {
		return false, fmt.Errorf("binance: event asks: %w", err)
	}
	if err := applyLevels(b.bids, ev.Bids); err != nil {
		return false, fmt.Errorf("binance: event bids: %w", err)
	}
	b.lastUpdateID = ev.FinalUpdateID
	b.synced = true
	if ev.EventTime > 0 {
		b.updatedAt = time.UnixMilli(ev.EventTime).UTC()
	}
	return true, nil
}

// Snapshot materializes the book as a sorted ladder.
func (b *Book) Snapshot() domain.LadderSnapshot {
	asks := levelsOf(b.asks)
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price.LessThan(asks[j].Price) })
	bids := levelsOf(b.bids)
	sort.Slice(bids, func(i, j int) bool { return bids[i].Price.GreaterThan(bids[j].Price) })
	return domain.LadderSnapshot{Asks: asks, Bids: bids, UpdatedAt: b.updatedAt}
}

func levelsOf(m map[string]domain.PriceLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(m))
	for _, l := range m {
		out = append(out, l)
	}
	return out
}

func applyLevels(side map[string]domain.PriceLevel, raw [][2]string) error {
	for _, r := range raw {
		price, err := decimal.NewFromString(r[0])
		if err != nil {
			return fmt.Errorf("price %q: %w", r[0], err)
		}
		qty, err := decimal.NewFromString(r[1])
		if err != nil {
			return fmt.Errorf("quantity %q: %w", r[1], err)
		}
		key := price.String()
		if qty.IsZero() {
			delete(side, key)
			continue
		}
		side[key] = domain.PriceLevel{Price: price, Quantity: qty}
	}
	return nil
}

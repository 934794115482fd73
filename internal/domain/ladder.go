package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel is a single price+quantity entry of one ladder side.
type PriceLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// LadderSnapshot is a point-in-time view of the full two-sided price ladder.
// Asks are sorted by ascending price, bids by descending price, so Asks[0]
// and Bids[0] are the best ask and best bid.
type LadderSnapshot struct {
	Asks      []PriceLevel
	Bids      []PriceLevel
	UpdatedAt time.Time
}

// Validate reports ErrMalformedSnapshot when either side of the ladder is
// empty.
func (s LadderSnapshot) Validate() error {
	if len(s.Asks) == 0 || len(s.Bids) == 0 {
		return fmt.Errorf("%w: asks=%d bids=%d", ErrMalformedSnapshot, len(s.Asks), len(s.Bids))
	}
	return nil
}

// BestAsk returns the lowest ask price. The snapshot must be valid.
func (s LadderSnapshot) BestAsk() decimal.Decimal { return s.Asks[0].Price }

// BestBid returns the highest bid price. The snapshot must be valid.
func (s LadderSnapshot) BestBid() decimal.Decimal { return s.Bids[0].Price }

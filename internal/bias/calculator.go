// Package bias reduces a ladder snapshot to book-bias metrics: mid price,
// best bid/ask, full-ladder depth and per-window bid/ask imbalance.
package bias

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bookbias/internal/domain"
)

var (
	one = decimal.NewFromInt(1)
	two = decimal.NewFromInt(2)
)

// Compute derives BookMetrics from snap for each of windows. The snapshot
// must satisfy LadderSnapshot.Validate. The result holds one WindowMetrics per
// input window, in input order.
func Compute(snap domain.LadderSnapshot, windows []domain.BiasWindow) domain.BookMetrics {
	bestBid := snap.BestBid()
	bestAsk := snap.BestAsk()
	mid := bestBid.Add(bestAsk).Div(two)

	out := domain.BookMetrics{
		MidPrice:      mid,
		BestBid:       bestBid,
		BestAsk:       bestAsk,
		TotalAskDepth: len(snap.Asks),
		TotalBidDepth: len(snap.Bids),
		Windows:       make([]domain.WindowMetrics, 0, len(windows)),
	}

	for _, w := range windows {
		out.Windows = append(out.Windows, computeWindow(snap, mid, w))
	}
	return out
}

func computeWindow(snap domain.LadderSnapshot, mid decimal.Decimal, w domain.BiasWindow) domain.WindowMetrics {
	priceMax := mid.Mul(one.Add(w.HalfWidth))
	priceMin := mid.Mul(one.Sub(w.HalfWidth))

	askQty := sumInBand(snap.Asks, priceMin, priceMax)
	bidQty := sumInBand(snap.Bids, priceMin, priceMax)

	wm := domain.WindowMetrics{
		Window: w,
		AskQty: askQty,
		BidQty: bidQty,
	}

	bias, ok := Imbalance(bidQty, askQty)
	wm.Bias = bias
	wm.LowConfidence = !ok
	return wm
}

// sumInBand adds up the quantity of every level priced within [lo, hi].
func sumInBand(levels []domain.PriceLevel, lo, hi decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, lvl := range levels {
		if lvl.Price.GreaterThanOrEqual(lo) && lvl.Price.LessThanOrEqual(hi) {
			sum = sum.Add(lvl.Quantity)
		}
	}
	return sum
}

// Imbalance returns (bid-ask)/(bid+ask) for raw totals and reports false when
// both are zero.
func Imbalance(bidQty, askQty decimal.Decimal) (float64, bool) {
	total := bidQty.Add(askQty)
	if total.IsZero() {
		return 0, false
	}
	return bidQty.Sub(askQty).DivRound(total, 16).InexactFloat64(), true
}

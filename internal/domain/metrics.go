package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// BiasWindow is a named symmetric price band around the mid price. HalfWidth
// is a fraction, so 0.01 means mid ±1%.
type BiasWindow struct {
	Name      string          `json:"name"`
	HalfWidth decimal.Decimal `json:"half_width"`
}

// ParseBiasWindow parses a percentage such as "0.5" or "4" into a window
// named after it ("05", "4").
func ParseBiasWindow(pct string) (BiasWindow, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(pct))
	if err != nil {
		return BiasWindow{}, fmt.Errorf("bias window %q: %w", pct, err)
	}
	if !d.IsPositive() || d.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return BiasWindow{}, fmt.Errorf("bias window %q: must be in (0, 100)", pct)
	}
	return BiasWindow{
		Name:      strings.ReplaceAll(d.String(), ".", ""),
		HalfWidth: d.Shift(-2),
	}, nil
}

// DefaultBiasWindows returns the 0.5%, 1%, 2% and 4% bands.
func DefaultBiasWindows() []BiasWindow {
	return []BiasWindow{
		{Name: "05", HalfWidth: decimal.RequireFromString("0.005")},
		{Name: "1", HalfWidth: decimal.RequireFromString("0.01")},
		{Name: "2", HalfWidth: decimal.RequireFromString("0.02")},
		{Name: "4", HalfWidth: decimal.RequireFromString("0.04")},
	}
}

// WindowMetrics holds the in-band depth and imbalance for one window.
// LowConfidence is set when neither side had any quantity inside the band,
// in which case Bias is reported as 0.
type WindowMetrics struct {
	Window        BiasWindow      `json:"window"`
	AskQty        decimal.Decimal `json:"ask_qty"`
	BidQty        decimal.Decimal `json:"bid_qty"`
	Bias          float64         `json:"bias"`
	LowConfidence bool            `json:"low_confidence"`
}

// BookMetrics is the reduction of one ladder snapshot.
type BookMetrics struct {
	MidPrice      decimal.Decimal `json:"mid_price"`
	BestBid       decimal.Decimal `json:"best_bid"`
	BestAsk       decimal.Decimal `json:"best_ask"`
	TotalAskDepth int             `json:"total_ask_depth"`
	TotalBidDepth int             `json:"total_bid_depth"`
	Windows       []WindowMetrics `json:"windows"`
}

// Window returns the metrics for the named window.
func (m BookMetrics) Window(name string) (WindowMetrics, bool) {
	for _, w := range m.Windows {
		if w.Window.Name == name {
			return w, true
		}
	}
	return WindowMetrics{}, false
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// SampleRecord is the persisted observation for one sampling interval.
type SampleRecord struct {
	ID               uuid.UUID   `json:"id"`
	AssetSymbol      string      `json:"asset_symbol"`
	Metrics          BookMetrics `json:"metrics"`
	LastLadderUpdate time.Time   `json:"last_ladder_update"`
	SampledAt        time.Time   `json:"sampled_at"`
}

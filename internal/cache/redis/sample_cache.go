package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/bookbias/internal/domain"
)

// SampleCache implements domain.SampleCache with one JSON string per asset
// at key "sample:latest:{symbol}".
type SampleCache struct {
	c   *Client
	ttl time.Duration
}

// NewSampleCache creates a SampleCache. Entries expire after ttl; zero keeps
// them forever.
func NewSampleCache(c *Client, ttl time.Duration) *SampleCache {
	return &SampleCache{c: c, ttl: ttl}
}

func (sc *SampleCache) key(symbol string) string {
	return sc.c.Key("sample:latest:" + symbol)
}

// SetLatest stores rec as the latest sample of its asset.
func (sc *SampleCache) SetLatest(ctx context.Context, rec domain.SampleRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis: encode sample: %w", err)
	}
	if err := sc.c.Underlying().Set(ctx, sc.key(rec.AssetSymbol), data, sc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set latest sample %s: %w", rec.AssetSymbol, err)
	}
	return nil
}

// GetLatest returns the cached sample for symbol, or domain.ErrNotFound.
func (sc *SampleCache) GetLatest(ctx context.Context, symbol string) (domain.SampleRecord, error) {
	data, err := sc.c.Underlying().Get(ctx, sc.key(symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.SampleRecord{}, domain.ErrNotFound
		}
		return domain.SampleRecord{}, fmt.Errorf("redis: get latest sample %s: %w", symbol, err)
	}
	var rec domain.SampleRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.SampleRecord{}, fmt.Errorf("redis: decode sample %s: %w", symbol, err)
	}
	return rec, nil
}

// Compile-time interface check.
var _ domain.SampleCache = (*SampleCache)(nil)

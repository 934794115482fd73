// Package service coordinates the persistence of samples across the durable
// store, the latest-sample cache and the pub/sub bus.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/bookbias/internal/domain"
)

// SampleChannel returns the pub/sub channel samples of symbol are published on.
func SampleChannel(symbol string) string {
	return "samples:" + symbol
}

// SampleService implements domain.SampleSink. The store write is the only
// step that can fail an insert; cache and bus updates are best effort.
// cache and bus may be nil.
type SampleService struct {
	store  domain.SampleStore
	cache  domain.SampleCache
	bus    domain.SignalBus
	logger *slog.Logger

	onSideEffectError func()
}

// NewSampleService creates a SampleService.
func NewSampleService(store domain.SampleStore, cache domain.SampleCache, bus domain.SignalBus, logger *slog.Logger) *SampleService {
	return &SampleService{
		store:  store,
		cache:  cache,
		bus:    bus,
		logger: logger.With(slog.String("component", "sample_service")),
	}
}

// OnSideEffectError registers a hook called for every failed cache or
// publish step.
func (s *SampleService) OnSideEffectError(fn func()) {
	s.onSideEffectError = fn
}

// Insert writes rec to the store, then refreshes the cache and publishes it.
func (s *SampleService) Insert(ctx context.Context, rec domain.SampleRecord) error {
	if err := s.store.Insert(ctx, rec); err != nil {
		return fmt.Errorf("sample_service: insert %s: %w", rec.AssetSymbol, err)
	}

	if s.cache != nil {
		if err := s.cache.SetLatest(ctx, rec); err != nil {
			s.sideEffectFailed(ctx, "cache latest sample", rec, err)
		}
	}
	if s.bus != nil {
		payload, err := json.Marshal(rec)
		if err == nil {
			err = s.bus.Publish(ctx, SampleChannel(rec.AssetSymbol), payload)
		}
		if err != nil {
			s.sideEffectFailed(ctx, "publish sample", rec, err)
		}
	}
	return nil
}

func (s *SampleService) sideEffectFailed(ctx context.Context, what string, rec domain.SampleRecord, err error) {
	s.logger.WarnContext(ctx, what+" failed",
		slog.String("symbol", rec.AssetSymbol),
		slog.String("error", err.Error()),
	)
	if s.onSideEffectError != nil {
		s.onSideEffectError()
	}
}

// Latest returns the newest sample for symbol, from the cache when possible.
func (s *SampleService) Latest(ctx context.Context, symbol string) (domain.SampleRecord, error) {
	if s.cache != nil {
		rec, err := s.cache.GetLatest(ctx, symbol)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "cache read failed", slog.String("symbol", symbol), slog.String("error", err.Error()))
		}
	}
	rec, err := s.store.Latest(ctx, symbol)
	if err != nil {
		return domain.SampleRecord{}, fmt.Errorf("sample_service: latest %s: %w", symbol, err)
	}
	return rec, nil
}

// ListRecent returns stored samples for symbol, newest first.
func (s *SampleService) ListRecent(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.SampleRecord, error) {
	recs, err := s.store.ListRecent(ctx, symbol, opts)
	if err != nil {
		return nil, fmt.Errorf("sample_service: list %s: %w", symbol, err)
	}
	return recs, nil
}

// Compile-time interface check.
var _ domain.SampleStore = (*SampleService)(nil)

package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/alanyoungcy/bookbias/internal/domain"
)

type memStore struct {
	err  error
	recs []domain.SampleRecord
}

func (m *memStore) Insert(_ context.Context, rec domain.SampleRecord) error {
	if m.err != nil {
		return m.err
	}
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memStore) Latest(_ context.Context, symbol string) (domain.SampleRecord, error) {
	for i := len(m.recs) - 1; i >= 0; i-- {
		if m.recs[i].AssetSymbol == symbol {
			return m.recs[i], nil
		}
	}
	return domain.SampleRecord{}, domain.ErrNotFound
}

func (m *memStore) ListRecent(_ context.Context, _ string, _ domain.ListOpts) ([]domain.SampleRecord, error) {
	return m.recs, nil
}

type memCache struct {
	err    error
	latest map[string]domain.SampleRecord
}

func (c *memCache) SetLatest(_ context.Context, rec domain.SampleRecord) error {
	if c.err != nil {
		return c.err
	}
	if c.latest == nil {
		c.latest = map[string]domain.SampleRecord{}
	}
	c.latest[rec.AssetSymbol] = rec
	return nil
}

func (c *memCache) GetLatest(_ context.Context, symbol string) (domain.SampleRecord, error) {
	rec, ok := c.latest[symbol]
	if !ok {
		return domain.SampleRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

type memBus struct {
	err      error
	channels []string
}

func (b *memBus) Publish(_ context.Context, channel string, _ []byte) error {
	b.channels = append(b.channels, channel)
	return b.err
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestInsert_FansOut(t *testing.T) {
	store, cache, bus := &memStore{}, &memCache{}, &memBus{}
	svc := NewSampleService(store, cache, bus, discard())
	rec := domain.SampleRecord{ID: uuid.New(), AssetSymbol: "btc"}

	if err := svc.Insert(context.Background(), rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if len(store.recs) != 1 {
		t.Errorf("store has %d records, want 1", len(store.recs))
	}
	if cache.latest["btc"].ID != rec.ID {
		t.Error("cache not updated")
	}
	if len(bus.channels) != 1 || bus.channels[0] != "samples:btc" {
		t.Errorf("published to %v", bus.channels)
	}
}

func TestInsert_StoreFailureSkipsSideEffects(t *testing.T) {
	boom := errors.New("db down")
	store, cache, bus := &memStore{err: boom}, &memCache{}, &memBus{}
	svc := NewSampleService(store, cache, bus, discard())

	err := svc.Insert(context.Background(), domain.SampleRecord{AssetSymbol: "btc"})
	if !errors.Is(err, boom) {
		t.Fatalf("Insert = %v, want db down", err)
	}
	if len(cache.latest) != 0 || len(bus.channels) != 0 {
		t.Error("side effects ran after a failed store insert")
	}
}

func TestInsert_SideEffectFailuresAreNotFatal(t *testing.T) {
	store := &memStore{}
	svc := NewSampleService(store, &memCache{err: errors.New("redis down")}, &memBus{err: errors.New("redis down")}, discard())
	var hooks int
	svc.OnSideEffectError(func() { hooks++ })

	if err := svc.Insert(context.Background(), domain.SampleRecord{AssetSymbol: "btc"}); err != nil {
		t.Fatalf("Insert = %v, want nil", err)
	}
	if hooks != 2 {
		t.Errorf("side effect hook called %d times, want 2", hooks)
	}
}

func TestLatest_FallsBackToStore(t *testing.T) {
	rec := domain.SampleRecord{ID: uuid.New(), AssetSymbol: "btc"}
	store := &memStore{recs: []domain.SampleRecord{rec}}
	svc := NewSampleService(store, &memCache{}, nil, discard())

	got, err := svc.Latest(context.Background(), "btc")
	if err != nil || got.ID != rec.ID {
		t.Fatalf("Latest = (%v, %v)", got.ID, err)
	}
	if _, err := svc.Latest(context.Background(), "eth"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Latest(eth) = %v, want ErrNotFound", err)
	}
}

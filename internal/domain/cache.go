package domain

import (
	"context"
	"time"
)

// SampleCache keeps the most recent sample per asset for fast reads.
type SampleCache interface {
	SetLatest(ctx context.Context, rec SampleRecord) error
	GetLatest(ctx context.Context, symbol string) (SampleRecord, error)
}

// SignalBus provides pub/sub for sample events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Lease is a held distributed lock.
type Lease interface {
	Refresh(ctx context.Context) error
	Release()
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

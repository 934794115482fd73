package domain

import "context"

// LadderSource opens streaming sessions of ladder snapshots for one
// instrument.
type LadderSource interface {
	Open(ctx context.Context, instrument string) (LadderSession, error)
}

// LadderSession yields successive full-ladder views. Next blocks until the
// next update, ctx is done, or the feed fails. A stalled feed fails with an
// error wrapping ErrTimeout. Close releases the connection and may be called
// more than once.
type LadderSession interface {
	Next(ctx context.Context) (LadderSnapshot, error)
	Close() error
}

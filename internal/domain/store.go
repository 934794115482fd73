package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// SampleSink durably stores one sample record.
type SampleSink interface {
	Insert(ctx context.Context, rec SampleRecord) error
}

// SampleStore persists sample records and reads them back.
type SampleStore interface {
	SampleSink
	Latest(ctx context.Context, symbol string) (SampleRecord, error)
	ListRecent(ctx context.Context, symbol string, opts ListOpts) ([]SampleRecord, error)
}

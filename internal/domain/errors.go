package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrLockHeld          = errors.New("lock already held")
	ErrTimeout           = errors.New("feed timeout")
	ErrMalformedSnapshot = errors.New("malformed ladder snapshot")
	ErrSequenceGap       = errors.New("depth update sequence gap")
	ErrStreamClosed      = errors.New("ladder stream closed")
	ErrRetriesExhausted  = errors.New("retries exhausted")
)

// Package sampler thins a high-frequency stream of ladder updates down to at
// most one observation per sampling interval.
package sampler

import "time"

// MinuteSampler admits the first timestamp seen in each interval bucket.
// It is not safe for concurrent use.
type MinuteSampler struct {
	interval time.Duration

	last    time.Time
	hasLast bool

	prev    time.Time
	hasPrev bool
}

// New returns a sampler with the given bucket width. A non-positive interval
// falls back to one minute.
func New(interval time.Duration) *MinuteSampler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &MinuteSampler{interval: interval}
}

// Interval returns the bucket width.
func (s *MinuteSampler) Interval() time.Duration { return s.interval }

// Admit reports whether ts opens a bucket that has not been admitted yet and,
// if so, marks it admitted.
func (s *MinuteSampler) Admit(ts time.Time) bool {
	bucket := ts.UTC().Truncate(s.interval)
	if s.hasLast && bucket.Equal(s.last) {
		return false
	}
	s.prev, s.hasPrev = s.last, s.hasLast
	s.last, s.hasLast = bucket, true
	return true
}

// Rollback undoes the most recent successful Admit so the same bucket can be
// admitted again. Calling it twice in a row has no further effect.
func (s *MinuteSampler) Rollback() {
	s.last, s.hasLast = s.prev, s.hasPrev
}

// Last returns the start of the most recently admitted bucket.
func (s *MinuteSampler) Last() (time.Time, bool) { return s.last, s.hasLast }

package collector

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"github.com/alanyoungcy/bookbias/internal/domain"
)

// FailureClass separates feed stalls from every other failure.
type FailureClass int

const (
	// FailureGeneric consumes retry budget and backs off exponentially.
	FailureGeneric FailureClass = iota
	// FailureTimeout waits one base delay and leaves the budget untouched.
	FailureTimeout
)

func (c FailureClass) String() string {
	if c == FailureTimeout {
		return "timeout"
	}
	return "generic"
}

// Classify maps a source or pipeline error to its failure class. parent is
// the loop's context; a deadline on a derived context counts as a timeout
// only while parent itself is still live.
func Classify(parent context.Context, err error) FailureClass {
	switch {
	case errors.Is(err, domain.ErrTimeout):
		return FailureTimeout
	case errors.Is(err, os.ErrDeadlineExceeded):
		return FailureTimeout
	case errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil:
		return FailureTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return FailureTimeout
	}
	return FailureGeneric
}

// RetryPolicy bounds consecutive generic failures.
type RetryPolicy struct {
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultRetryPolicy allows five consecutive generic failures with a one
// second base delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 5, RetryDelay: time.Second}
}

// Decision is the outcome of applying the policy to one failure.
type Decision struct {
	Failures  int
	Wait      time.Duration
	Terminate bool
}

// Next returns what to do after a failure of class c, given the number of
// consecutive generic failures seen before it.
func (p RetryPolicy) Next(failures int, c FailureClass) Decision {
	if c == FailureTimeout {
		return Decision{Failures: failures, Wait: p.RetryDelay}
	}
	failures++
	if failures > p.MaxRetries {
		return Decision{Failures: failures, Terminate: true}
	}
	exp := min(failures, p.MaxRetries)
	return Decision{Failures: failures, Wait: p.RetryDelay * time.Duration(1<<exp)}
}

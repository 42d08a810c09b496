package window

import "time"

// Lease is the outcome of an acquisition. Leases are immutable and may be
// shared between callers.
type Lease struct {
	acquired      bool
	retryAfter    time.Duration
	hasRetryAfter bool
}

// Shared outcomes for the zero-permit probes and for queue resolutions.
var (
	grantedLease = &Lease{acquired: true}
	deniedLease  = &Lease{}
)

func deniedAfter(d time.Duration) *Lease {
	return &Lease{retryAfter: d, hasRetryAfter: true}
}

// Acquired reports whether the permits were granted.
func (l *Lease) Acquired() bool {
	return l.acquired
}

// RetryAfter returns an estimate of how long a denied caller should wait
// before the same request could succeed. The second result is false when no
// estimate was attached.
func (l *Lease) RetryAfter() (time.Duration, bool) {
	return l.retryAfter, l.hasRetryAfter
}

// Stats is a point-in-time view of a Limiter.
type Stats struct {
	AvailablePermits int

	// QueuedCount is the number of permits held by queued Acquire calls.
	QueuedCount int

	TotalFailedLeases     int64
	TotalSuccessfulLeases int64
}

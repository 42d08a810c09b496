package window

import "sync/atomic"

// waiter is a queued Acquire call. Its outcome is assigned exactly once by
// whichever of grant, eviction, cancellation or disposal gets there first.
// resolved is atomic so cancellation can skip the lock once an outcome exists.
type waiter struct {
	permits int
	done    chan struct{}

	resolved atomic.Bool
	lease    *Lease
	err      error

	// stop unregisters the context callback. Set and called under the
	// limiter lock.
	stop func() bool
}

func newWaiter(permits int) *waiter {
	return &waiter{
		permits: permits,
		done:    make(chan struct{}),
	}
}

// resolve reports false if the waiter already had an outcome. Callers hold
// the limiter lock.
func (w *waiter) resolve(lease *Lease, err error) bool {
	if !w.resolved.CompareAndSwap(false, true) {
		return false
	}

	w.lease = lease
	w.err = err
	close(w.done)

	return true
}

func (w *waiter) isResolved() bool {
	return w.resolved.Load()
}

func (w *waiter) release() {
	if w.stop != nil {
		w.stop()
	}
}

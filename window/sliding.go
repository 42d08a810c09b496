package window

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Limiter implements a sliding window rate limiter. The window is split into
// SegmentsPerWindow segments; permits granted during a segment are returned
// once the window has slid a full lap past it. Requests that cannot be served
// immediately may wait in a bounded queue until permits come back.
//
// A Limiter with AutoReplenishment owns a background goroutine; call Close
// to stop it.
type Limiter struct {
	mu sync.Mutex

	opts   Options
	period time.Duration
	clock  clock
	logger hclog.Logger

	// available is written under mu and read without it on the zero-permit
	// fast path.
	available atomic.Int64
	disposed  atomic.Bool

	segments      []int
	current       int
	queued        int
	queue         deque[*waiter]
	lastReplenish time.Time
	idleSince     time.Time
	stop          chan struct{}

	successful atomic.Int64
	failed     atomic.Int64
}

// New creates a sliding window limiter from opts.
// It returns a *ConfigError wrapping ErrInvalidConfig if opts is invalid.
func New(opts Options) (*Limiter, error) {
	return NewWithClock(opts, realClock{})
}

// NewWithClock creates a sliding window limiter with a custom clock.
// Use this constructor for testing with a mock clock.
func NewWithClock(opts Options, clock clock) (*Limiter, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	now := clock.Now()
	lim := &Limiter{
		opts:          opts,
		period:        opts.ReplenishmentPeriod(),
		clock:         clock,
		logger:        logger.Named("window"),
		segments:      make([]int, opts.SegmentsPerWindow),
		lastReplenish: now,
		idleSince:     now,
	}
	lim.available.Store(int64(opts.PermitLimit))

	lim.logger.Debug("limiter created",
		"permit_limit", opts.PermitLimit,
		"segments", opts.SegmentsPerWindow,
		"queue_limit", opts.QueueLimit,
		"window", opts.Window,
		"order", opts.QueueProcessingOrder,
		"auto_replenishment", opts.AutoReplenishment,
	)

	if opts.AutoReplenishment {
		lim.stop = make(chan struct{})
		go lim.run(lim.stop)
	}

	return lim, nil
}

func (lim *Limiter) run(stop <-chan struct{}) {
	ticker := time.NewTicker(lim.period)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			lim.replenish(lim.clock.Now())
		}
	}
}

// TryAcquire grants permits if they are available right now. It never waits
// and never queues; a denial comes back as a lease that is not acquired.
//
// A zero-permit request only probes whether any permit is available.
func (lim *Limiter) TryAcquire(permits int) (*Lease, error) {
	if err := lim.checkPermits(permits); err != nil {
		return nil, err
	}

	if permits == 0 && !lim.disposed.Load() {
		if lim.available.Load() > 0 {
			lim.successful.Add(1)

			return grantedLease, nil
		}

		lim.failed.Add(1)

		return deniedLease, nil
	}

	lim.mu.Lock()
	defer lim.mu.Unlock()

	lease, err := lim.tryLeaseLocked(permits)
	if err != nil || lease != nil {
		return lease, err
	}

	lim.failed.Add(1)

	return lim.deniedLocked(permits), nil
}

// Acquire grants permits, waiting in the queue when they are not available.
// It returns once the request is granted, denied (queue full, evicted by a
// newer request, or limiter closed), or ctx is done. In the last case the
// error wraps both ErrCanceled and the context's error.
func (lim *Limiter) Acquire(ctx context.Context, permits int) (*Lease, error) {
	if err := lim.checkPermits(permits); err != nil {
		return nil, err
	}

	if lim.disposed.Load() {
		return nil, ErrDisposed
	}

	if permits == 0 && lim.available.Load() > 0 {
		lim.successful.Add(1)

		return grantedLease, nil
	}

	w, lease, err := lim.enqueue(ctx, permits)
	if w == nil {
		return lease, err
	}

	<-w.done

	return w.lease, w.err
}

func (lim *Limiter) enqueue(ctx context.Context, permits int) (*waiter, *Lease, error) {
	lim.mu.Lock()
	defer lim.mu.Unlock()

	lease, err := lim.tryLeaseLocked(permits)
	if err != nil || lease != nil {
		return nil, lease, err
	}

	invariant(lim.queued <= lim.opts.QueueLimit, "queued permits exceed queue limit")

	// Subtract rather than add so a huge request cannot overflow.
	if lim.opts.QueueLimit-lim.queued < permits {
		if lim.opts.QueueProcessingOrder == NewestFirst && permits <= lim.opts.QueueLimit {
			lim.evictLocked(permits)
		}

		if lim.opts.QueueLimit-lim.queued < permits {
			lim.failed.Add(1)

			return nil, lim.deniedLocked(permits), nil
		}
	}

	w := newWaiter(permits)
	if ctx.Done() != nil {
		w.stop = context.AfterFunc(ctx, func() {
			lim.cancel(ctx, w)
		})
	}

	lim.queue.PushBack(w)
	lim.queued += permits
	invariant(lim.queued <= lim.opts.QueueLimit, "queued permits exceed queue limit")

	return w, nil, nil
}

// evictLocked denies the oldest queued requests until permits fit.
func (lim *Limiter) evictLocked(permits int) {
	for lim.queue.Len() > 0 && lim.opts.QueueLimit-lim.queued < permits {
		oldest := lim.queue.PopFront()
		oldest.release()

		// Canceled entries were already subtracted from queued.
		if !oldest.resolve(deniedLease, nil) {
			continue
		}

		lim.queued -= oldest.permits
		invariant(lim.queued >= 0, "negative queued permits")
		lim.failed.Add(1)
		lim.logger.Trace("evicted queued request", "permits", oldest.permits)
	}
}

// cancel resolves under the lock so queued always equals the permits of the
// unresolved waiters while mu is held.
func (lim *Limiter) cancel(ctx context.Context, w *waiter) {
	if w.isResolved() {
		return
	}

	lim.mu.Lock()
	defer lim.mu.Unlock()

	if w.resolve(nil, fmt.Errorf("%w: %w", ErrCanceled, context.Cause(ctx))) {
		lim.queued -= w.permits
	}
}

// tryLeaseLocked returns a granted lease, or nil if the request cannot be
// served immediately.
func (lim *Limiter) tryLeaseLocked(permits int) (*Lease, error) {
	if lim.disposed.Load() {
		return nil, ErrDisposed
	}

	available := lim.available.Load()
	if available < int64(permits) || available == 0 {
		return nil, nil
	}

	// Permits were released between the fast path check and taking the lock.
	if permits == 0 {
		lim.successful.Add(1)

		return grantedLease, nil
	}

	// Queued requests have priority unless the newest request wins anyway.
	if lim.queued > 0 && lim.opts.QueueProcessingOrder != NewestFirst {
		return nil, nil
	}

	lim.idleSince = time.Time{}
	lim.segments[lim.current] += permits
	invariant(lim.available.Add(-int64(permits)) >= 0, "negative available permits")
	lim.successful.Add(1)

	return grantedLease, nil
}

func (lim *Limiter) deniedLocked(permits int) *Lease {
	if permits == 0 {
		return deniedLease
	}

	return deniedAfter(lim.retryAfterLocked(permits))
}

// retryAfterLocked estimates when enough segments will have aged out to
// serve permits. With OldestFirst the permits of queued requests are served
// first, so they count against the caller too.
func (lim *Limiter) retryAfterLocked(permits int) time.Duration {
	need := permits - int(lim.available.Load())
	if lim.opts.QueueProcessingOrder == OldestFirst {
		need += lim.queued
	}

	n := len(lim.segments)
	steps := n
	restored := 0

	for k := 1; k <= n; k++ {
		restored += lim.segments[(lim.current+k)%n]
		if restored >= need {
			steps = k

			break
		}
	}

	wait := time.Duration(steps)*lim.period - lim.clock.Now().Sub(lim.lastReplenish)

	return max(wait, 0)
}

// TryReplenish slides the window by one segment. It returns false and does
// nothing when AutoReplenishment is enabled, since the background ticker owns
// the window then. Otherwise it returns true, even if less than one
// replenishment period has passed since the last slide and nothing changed.
func (lim *Limiter) TryReplenish() bool {
	if lim.opts.AutoReplenishment {
		return false
	}

	lim.replenish(lim.clock.Now())

	return true
}

func (lim *Limiter) replenish(now time.Time) {
	lim.mu.Lock()
	defer lim.mu.Unlock()

	if lim.disposed.Load() {
		return
	}

	if !lim.opts.AutoReplenishment && now.Sub(lim.lastReplenish) < lim.period {
		return
	}

	lim.lastReplenish = now

	lim.current = (lim.current + 1) % len(lim.segments)
	aged := lim.segments[lim.current]
	lim.segments[lim.current] = 0

	if aged == 0 {
		return
	}

	available := lim.available.Add(int64(aged))
	invariant(available <= int64(lim.opts.PermitLimit), "available permits exceed permit limit")

	lim.drainLocked()

	if lim.available.Load() == int64(lim.opts.PermitLimit) {
		lim.idleSince = lim.clock.Now()
	}
}

// drainLocked grants queued requests in processing order while permits last.
func (lim *Limiter) drainLocked() {
	for lim.queue.Len() > 0 {
		next := lim.peekLocked()

		// Canceled or evicted while waiting.
		if next.isResolved() {
			lim.popLocked().release()

			continue
		}

		if lim.available.Load() < int64(next.permits) {
			return
		}

		lim.popLocked()
		next.release()

		// Every resolution happens under mu, so an unresolved head is ours.
		invariant(next.resolve(grantedLease, nil), "queued waiter resolved concurrently")

		lim.queued -= next.permits
		lim.available.Add(-int64(next.permits))
		lim.segments[lim.current] += next.permits
		lim.idleSince = time.Time{}
		lim.successful.Add(1)

		invariant(lim.queued >= 0, "negative queued permits")
		invariant(lim.available.Load() >= 0, "negative available permits")
	}
}

func (lim *Limiter) peekLocked() *waiter {
	if lim.opts.QueueProcessingOrder == OldestFirst {
		return lim.queue.Front()
	}

	return lim.queue.Back()
}

func (lim *Limiter) popLocked() *waiter {
	if lim.opts.QueueProcessingOrder == OldestFirst {
		return lim.queue.PopFront()
	}

	return lim.queue.PopBack()
}

// Stats returns a consistent snapshot of the limiter.
func (lim *Limiter) Stats() (Stats, error) {
	lim.mu.Lock()
	defer lim.mu.Unlock()

	if lim.disposed.Load() {
		return Stats{}, ErrDisposed
	}

	return Stats{
		AvailablePermits:      int(lim.available.Load()),
		QueuedCount:           lim.queued,
		TotalFailedLeases:     lim.failed.Load(),
		TotalSuccessfulLeases: lim.successful.Load(),
	}, nil
}

// IdleDuration reports how long the limiter has had every permit available.
// The second result is false while any permit is in use.
func (lim *Limiter) IdleDuration() (time.Duration, bool) {
	lim.mu.Lock()
	defer lim.mu.Unlock()

	if lim.idleSince.IsZero() {
		return 0, false
	}

	return lim.clock.Now().Sub(lim.idleSince), true
}

// IsAutoReplenishing reports whether a background ticker slides the window.
func (lim *Limiter) IsAutoReplenishing() bool {
	return lim.opts.AutoReplenishment
}

// ReplenishmentPeriod is the interval between window slides.
func (lim *Limiter) ReplenishmentPeriod() time.Duration {
	return lim.period
}

// Close stops the replenishment ticker and denies every queued request.
// It is safe to call more than once and concurrently with Acquire.
func (lim *Limiter) Close() error {
	lim.mu.Lock()
	defer lim.mu.Unlock()

	if lim.disposed.Load() {
		return nil
	}

	lim.disposed.Store(true)

	if lim.stop != nil {
		close(lim.stop)
	}

	pending := lim.queue.Len()
	for lim.queue.Len() > 0 {
		w := lim.popLocked()
		w.release()
		w.resolve(deniedLease, nil)
	}

	lim.logger.Trace("limiter disposed", "pending", pending)

	return nil
}

func (lim *Limiter) checkPermits(permits int) error {
	if permits < 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidPermits, permits)
	}

	if permits > lim.opts.PermitLimit {
		return fmt.Errorf("%w: requested %d, limit %d", ErrPermitLimitExceeded, permits, lim.opts.PermitLimit)
	}

	return nil
}

// Package registry keeps one sliding window limiter per partition key, so
// that each client, API key or tenant gets its own permit budget.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/serroba/slidewin/window"
)

// ErrClosed is returned by operations on a closed Registry.
var ErrClosed = errors.New("registry: closed")

type (
	// Identifier names a partition.
	Identifier string

	// LimiterFactory builds the limiter for a partition on first use.
	LimiterFactory func(Identifier) (*window.Limiter, error)

	Registry struct {
		mu       sync.Mutex
		limiters map[Identifier]*window.Limiter
		factory  LimiterFactory
		logger   hclog.Logger
		closed   bool
	}
)

// SlidingWindow returns a factory creating limiters from opts. The options
// are validated once here instead of on every new partition.
func SlidingWindow(opts window.Options) (LimiterFactory, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	return func(Identifier) (*window.Limiter, error) {
		return window.New(opts)
	}, nil
}

// NewRegistry creates a registry and eagerly builds limiters for users.
func NewRegistry(factory LimiterFactory, users ...Identifier) (*Registry, error) {
	return NewRegistryWithLogger(factory, hclog.NewNullLogger(), users...)
}

// NewRegistryWithLogger is NewRegistry with a logger for partition lifecycle
// events.
func NewRegistryWithLogger(factory LimiterFactory, logger hclog.Logger, users ...Identifier) (*Registry, error) {
	limiters := make(map[Identifier]*window.Limiter, len(users))

	for _, user := range users {
		lim, err := factory(user)
		if err != nil {
			for _, created := range limiters {
				_ = created.Close()
			}

			return nil, fmt.Errorf("fail to create a new limiter for %q: %w", user, err)
		}

		limiters[user] = lim
	}

	return &Registry{
		limiters: limiters,
		factory:  factory,
		logger:   logger.Named("registry"),
	}, nil
}

func (r *Registry) limiter(key Identifier) (*window.Limiter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}

	lim, ok := r.limiters[key]
	if ok {
		return lim, nil
	}

	lim, err := r.factory(key)
	if err != nil {
		return nil, fmt.Errorf("fail to create a new limiter for %q: %w", key, err)
	}

	r.limiters[key] = lim
	r.logger.Trace("partition created", "key", key)

	return lim, nil
}

// do runs fn against the limiter for key. A limiter swept between lookup and
// use reports ErrDisposed; the call is then retried on a fresh limiter.
func (r *Registry) do(key Identifier, fn func(*window.Limiter) (*window.Lease, error)) (*window.Lease, error) {
	for {
		lim, err := r.limiter(key)
		if err != nil {
			return nil, err
		}

		lease, err := fn(lim)
		if errors.Is(err, window.ErrDisposed) && r.stale(key, lim) {
			continue
		}

		return lease, err
	}
}

// stale reports whether lim was swept or the registry closed.
func (r *Registry) stale(key Identifier, lim *window.Limiter) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.closed || r.limiters[key] != lim
}

// TryAcquire grants permits for key without waiting.
func (r *Registry) TryAcquire(key Identifier, permits int) (*window.Lease, error) {
	return r.do(key, func(lim *window.Limiter) (*window.Lease, error) {
		return lim.TryAcquire(permits)
	})
}

// Acquire grants permits for key, waiting in that partition's queue if needed.
func (r *Registry) Acquire(ctx context.Context, key Identifier, permits int) (*window.Lease, error) {
	return r.do(key, func(lim *window.Limiter) (*window.Lease, error) {
		return lim.Acquire(ctx, permits)
	})
}

// Allow reports whether a single permit was granted for key.
func (r *Registry) Allow(key Identifier) bool {
	lease, err := r.TryAcquire(key, 1)

	return err == nil && lease.Acquired()
}

// Len returns the number of live partitions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.limiters)
}

// Stats returns a snapshot per partition.
func (r *Registry) Stats() map[Identifier]window.Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[Identifier]window.Stats, len(r.limiters))

	for key, lim := range r.limiters {
		s, err := lim.Stats()
		if err != nil {
			continue
		}

		out[key] = s
	}

	return out
}

// Sweep closes and forgets partitions that have been idle for at least
// maxIdle. It returns how many were removed.
func (r *Registry) Sweep(maxIdle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0

	for key, lim := range r.limiters {
		idle, ok := lim.IdleDuration()
		if !ok || idle < maxIdle {
			continue
		}

		_ = lim.Close()
		delete(r.limiters, key)
		removed++
	}

	if removed > 0 {
		r.logger.Debug("swept idle partitions", "removed", removed, "remaining", len(r.limiters))
	}

	return removed
}

// Run sweeps idle partitions every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval, maxIdle time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Sweep(maxIdle)
		}
	}
}

// Replenish slides the window of every partition that is not replenished
// by its own ticker. It returns how many partitions were slid.
func (r *Registry) Replenish() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	slid := 0

	for _, lim := range r.limiters {
		if lim.TryReplenish() {
			slid++
		}
	}

	return slid
}

// RunReplenishment calls Replenish every period until ctx is done. It drives
// limiters created without AutoReplenishment.
func (r *Registry) RunReplenishment(ctx context.Context, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Replenish()
		}
	}
}

// Close closes every partition, denying all queued requests. Later calls
// are no-ops; later acquisitions fail with ErrClosed.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	r.closed = true

	for key, lim := range r.limiters {
		_ = lim.Close()
		delete(r.limiters, key)
	}

	return nil
}

package window

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type steppedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *steppedClock) step(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

// requireAccounting checks that every permit is either available or held by
// a segment, and that queued matches the unresolved waiters.
func requireAccounting(t *testing.T, lim *Limiter) {
	t.Helper()

	lim.mu.Lock()
	defer lim.mu.Unlock()

	inSegments := 0
	for _, n := range lim.segments {
		require.GreaterOrEqual(t, n, 0)
		inSegments += n
	}

	require.Equal(t, lim.opts.PermitLimit, int(lim.available.Load())+inSegments,
		"available %d, segments %v", lim.available.Load(), lim.segments)

	// Rotate the deque once to visit every entry in place.
	waiting := 0
	for range lim.queue.Len() {
		w := lim.queue.PopFront()
		if !w.isResolved() {
			waiting += w.permits
		}

		lim.queue.PushBack(w)
	}

	require.Equal(t, waiting, lim.queued)
	require.LessOrEqual(t, lim.queued, lim.opts.QueueLimit)
}

func TestLimiter_AccountingUnderContention(t *testing.T) {
	t.Parallel()

	for _, order := range []QueueProcessingOrder{OldestFirst, NewestFirst} {
		t.Run(order.String(), func(t *testing.T) {
			t.Parallel()

			clock := &steppedClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
			lim, err := NewWithClock(Options{
				PermitLimit:          10,
				SegmentsPerWindow:    4,
				QueueLimit:           8,
				Window:               4 * time.Second,
				QueueProcessingOrder: order,
			}, clock)
			require.NoError(t, err)

			defer lim.Close()

			var wg sync.WaitGroup

			for i := range 400 {
				wg.Add(1)

				go func(i int) {
					defer wg.Done()

					if i%3 == 0 {
						_, err := lim.TryAcquire(rand.IntN(4))
						assert.NoError(t, err)

						return
					}

					timeout := time.Duration(rand.IntN(3000)) * time.Microsecond
					ctx, cancel := context.WithTimeout(context.Background(), timeout)
					defer cancel()

					lease, err := lim.Acquire(ctx, 1+rand.IntN(3))
					if err != nil {
						assert.ErrorIs(t, err, ErrCanceled)

						return
					}

					assert.NotNil(t, lease)
				}(i)
			}

			for range 300 {
				clock.step(lim.ReplenishmentPeriod())
				require.True(t, lim.TryReplenish())
				requireAccounting(t, lim)
				time.Sleep(50 * time.Microsecond)
			}

			wg.Wait()
			requireAccounting(t, lim)

			// A full lap with no traffic returns every permit.
			for range 4 {
				clock.step(lim.ReplenishmentPeriod())
				lim.TryReplenish()
			}

			s, err := lim.Stats()
			require.NoError(t, err)
			require.Equal(t, 10, s.AvailablePermits)
			require.Equal(t, 0, s.QueuedCount)
			requireAccounting(t, lim)
		})
	}
}

package registry_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/serroba/slidewin/registry"
	"github.com/serroba/slidewin/window"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func options(limit int) window.Options {
	return window.Options{
		PermitLimit:       limit,
		SegmentsPerWindow: 1,
		QueueLimit:        limit,
		Window:            time.Hour,
	}
}

func newRegistry(t *testing.T, limit int, users ...registry.Identifier) *registry.Registry {
	t.Helper()

	factory, err := registry.SlidingWindow(options(limit))
	require.NoError(t, err)

	reg, err := registry.NewRegistry(factory, users...)
	require.NoError(t, err)

	t.Cleanup(func() { _ = reg.Close() })

	return reg
}

func TestSlidingWindow_InvalidOptions(t *testing.T) {
	t.Parallel()

	factory, err := registry.SlidingWindow(window.Options{})
	require.Nil(t, factory)
	require.ErrorIs(t, err, window.ErrInvalidConfig)
}

func TestNewRegistry_WithUsers(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t, 10, "alice", "bob")
	require.Equal(t, 2, reg.Len())
}

func TestNewRegistry_FactoryError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	calls := 0

	factory := func(registry.Identifier) (*window.Limiter, error) {
		calls++
		if calls == 2 {
			return nil, boom
		}

		return window.New(options(1))
	}

	reg, err := registry.NewRegistry(factory, "alice", "bob")
	require.Nil(t, reg)
	require.ErrorIs(t, err, boom)
}

func TestRegistry_Allow_ExistingUser(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t, 2, "alice")

	require.True(t, reg.Allow("alice"))
	require.True(t, reg.Allow("alice"))
	require.False(t, reg.Allow("alice"))
}

func TestRegistry_Allow_NewUser(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t, 2)

	// First call for a new user should create limiter and allow
	require.True(t, reg.Allow("alice"))
	require.True(t, reg.Allow("alice"))
	require.False(t, reg.Allow("alice"))
	require.Equal(t, 1, reg.Len())
}

func TestRegistry_Allow_IndependentUsers(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t, 1)

	require.True(t, reg.Allow("alice"))
	require.True(t, reg.Allow("bob"))

	// Both exhausted now
	require.False(t, reg.Allow("alice"))
	require.False(t, reg.Allow("bob"))
}

func TestRegistry_TryAcquire_PermitLimitExceeded(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t, 2)

	_, err := reg.TryAcquire("alice", 3)
	require.ErrorIs(t, err, window.ErrPermitLimitExceeded)
}

func TestRegistry_Acquire_WaitsPerPartition(t *testing.T) {
	t.Parallel()

	clock := &testClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	factory := func(registry.Identifier) (*window.Limiter, error) {
		return window.NewWithClock(options(1), clock)
	}

	reg, err := registry.NewRegistry(factory)
	require.NoError(t, err)

	defer reg.Close()

	require.True(t, reg.Allow("alice"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// alice waits until her own window slides; bob is unaffected.
	_, err = reg.Acquire(ctx, "alice", 1)
	require.ErrorIs(t, err, window.ErrCanceled)

	lease, err := reg.Acquire(context.Background(), "bob", 1)
	require.NoError(t, err)
	require.True(t, lease.Acquired())
}

func TestRegistry_Stats(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t, 3)

	_, err := reg.TryAcquire("alice", 2)
	require.NoError(t, err)

	_, err = reg.TryAcquire("bob", 3)
	require.NoError(t, err)

	_, err = reg.TryAcquire("bob", 1)
	require.NoError(t, err)

	stats := reg.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, 1, stats["alice"].AvailablePermits)
	assert.Equal(t, 0, stats["bob"].AvailablePermits)
	assert.Equal(t, int64(1), stats["bob"].TotalFailedLeases)
}

func TestRegistry_Sweep(t *testing.T) {
	t.Parallel()

	clock := &testClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	factory := func(registry.Identifier) (*window.Limiter, error) {
		return window.NewWithClock(window.Options{
			PermitLimit:       1,
			SegmentsPerWindow: 1,
			Window:            time.Second,
		}, clock)
	}

	reg, err := registry.NewRegistry(factory, "idle", "busy")
	require.NoError(t, err)

	defer reg.Close()

	require.True(t, reg.Allow("busy"))

	clock.advance(time.Minute)

	require.Equal(t, 1, reg.Sweep(30*time.Second))
	require.Equal(t, 1, reg.Len())

	// The busy partition keeps its state.
	require.False(t, reg.Allow("busy"))

	// A swept partition starts over when it comes back.
	require.True(t, reg.Allow("idle"))
	require.Equal(t, 2, reg.Len())
}

func TestRegistry_Run(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t, 1, "alice", "bob")

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)

	go func() { errCh <- reg.Run(ctx, time.Millisecond, 0) }()

	require.Eventually(t, func() bool { return reg.Len() == 0 }, time.Second, time.Millisecond)

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
}

func TestRegistry_Close(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t, 1)

	require.True(t, reg.Allow("alice"))

	done := make(chan *window.Lease, 1)

	go func() {
		lease, _ := reg.Acquire(context.Background(), "alice", 1)
		done <- lease
	}()

	require.Eventually(t, func() bool {
		return reg.Stats()["alice"].QueuedCount == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, reg.Close())
	require.NoError(t, reg.Close())

	lease := <-done
	require.NotNil(t, lease)
	require.False(t, lease.Acquired())

	_, err := reg.TryAcquire("alice", 1)
	require.ErrorIs(t, err, registry.ErrClosed)
	require.False(t, reg.Allow("alice"))
}

func TestRegistry_Allow_Concurrent(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t, 100)

	var (
		allowed atomic.Int64
		deny    atomic.Int64
		wg      sync.WaitGroup
	)

	users := []registry.Identifier{"alice", "bob", "charlie", "diana"}
	for _, user := range users {
		for range 110 {
			wg.Add(1)

			go func(u registry.Identifier) {
				defer wg.Done()

				if reg.Allow(u) {
					allowed.Add(1)
				} else {
					deny.Add(1)
				}
			}(user)
		}
	}

	wg.Wait()

	assert.Equal(t, int64(400), allowed.Load())
	assert.Equal(t, int64(40), deny.Load())
}

func TestRegistry_SweepWhileAcquiring(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t, 1000)

	var wg sync.WaitGroup

	for i := range 100 {
		wg.Add(1)

		go func(id int) {
			defer wg.Done()

			user := registry.Identifier(string(rune('a' + id%26)))

			_, err := reg.TryAcquire(user, 1)
			assert.NoError(t, err)
		}(i)
	}

	for range 20 {
		reg.Sweep(0)
	}

	wg.Wait()
}

func TestRegistry_Replenish(t *testing.T) {
	t.Parallel()

	clock := &testClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	factory := func(registry.Identifier) (*window.Limiter, error) {
		return window.NewWithClock(window.Options{
			PermitLimit:       1,
			SegmentsPerWindow: 1,
			Window:            time.Minute,
		}, clock)
	}

	reg, err := registry.NewRegistry(factory, "alice", "bob")
	require.NoError(t, err)

	defer reg.Close()

	require.True(t, reg.Allow("alice"))
	require.False(t, reg.Allow("alice"))

	// Nothing changes before a full period has passed.
	require.Equal(t, 2, reg.Replenish())
	require.False(t, reg.Allow("alice"))

	clock.advance(time.Minute)

	require.Equal(t, 2, reg.Replenish())
	require.True(t, reg.Allow("alice"))
}

func TestRegistry_Replenish_SkipsAutoReplenishing(t *testing.T) {
	t.Parallel()

	opts := options(1)
	opts.AutoReplenishment = true

	factory, err := registry.SlidingWindow(opts)
	require.NoError(t, err)

	reg, err := registry.NewRegistry(factory, "alice")
	require.NoError(t, err)

	defer reg.Close()

	require.Equal(t, 0, reg.Replenish())
}

func TestRegistry_RunReplenishment(t *testing.T) {
	t.Parallel()

	factory, err := registry.SlidingWindow(window.Options{
		PermitLimit:       1,
		SegmentsPerWindow: 1,
		Window:            10 * time.Millisecond,
	})
	require.NoError(t, err)

	reg, err := registry.NewRegistry(factory)
	require.NoError(t, err)

	defer reg.Close()

	require.True(t, reg.Allow("alice"))
	require.False(t, reg.Allow("alice"))

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)

	go func() { errCh <- reg.RunReplenishment(ctx, 10*time.Millisecond) }()

	require.Eventually(t, func() bool { return reg.Allow("alice") }, time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
}

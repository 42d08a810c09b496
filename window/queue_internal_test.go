package window

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeque_Ends(t *testing.T) {
	t.Parallel()

	var d deque[int]

	for i := range 10 {
		d.PushBack(i)
	}

	require.Equal(t, 10, d.Len())
	require.Equal(t, 0, d.Front())
	require.Equal(t, 9, d.Back())

	require.Equal(t, 0, d.PopFront())
	require.Equal(t, 9, d.PopBack())
	require.Equal(t, 1, d.PopFront())
	require.Equal(t, 7, d.Len())
}

func TestDeque_WrapsAndGrows(t *testing.T) {
	t.Parallel()

	var d deque[int]

	// Push and pop so head moves past the start of the buffer before growing.
	for i := range 3 {
		d.PushBack(i)
	}

	d.PopFront()
	d.PopFront()

	for i := 3; i < 12; i++ {
		d.PushBack(i)
	}

	got := make([]int, 0, d.Len())
	for d.Len() > 0 {
		got = append(got, d.PopFront())
	}

	require.Equal(t, []int{2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, got)
}

func TestDeque_EmptyPanics(t *testing.T) {
	t.Parallel()

	var d deque[int]

	require.Panics(t, func() { d.Front() })
	require.Panics(t, func() { d.PopBack() })
}

func TestWaiter_ResolveOnce(t *testing.T) {
	t.Parallel()

	w := newWaiter(1)
	require.True(t, w.resolve(grantedLease, nil))
	require.False(t, w.resolve(deniedLease, nil))
	require.True(t, w.isResolved())

	<-w.done
	require.Same(t, grantedLease, w.lease)
}

package window

// deque is a growable ring buffer supporting push at the back and peek/pop
// at both ends. It is not safe for concurrent use.
type deque[T any] struct {
	buf   []T
	head  int
	count int
}

func (d *deque[T]) Len() int {
	return d.count
}

func (d *deque[T]) PushBack(v T) {
	if d.count == len(d.buf) {
		d.grow()
	}

	d.buf[(d.head+d.count)%len(d.buf)] = v
	d.count++
}

func (d *deque[T]) Front() T {
	if d.count == 0 {
		panic("window: Front on empty deque")
	}

	return d.buf[d.head]
}

func (d *deque[T]) Back() T {
	if d.count == 0 {
		panic("window: Back on empty deque")
	}

	return d.buf[(d.head+d.count-1)%len(d.buf)]
}

func (d *deque[T]) PopFront() T {
	v := d.Front()

	var zero T

	d.buf[d.head] = zero
	d.head = (d.head + 1) % len(d.buf)
	d.count--

	return v
}

func (d *deque[T]) PopBack() T {
	v := d.Back()

	var zero T

	d.buf[(d.head+d.count-1)%len(d.buf)] = zero
	d.count--

	return v
}

func (d *deque[T]) grow() {
	next := make([]T, max(4, 2*len(d.buf)))
	for i := range d.count {
		next[i] = d.buf[(d.head+i)%len(d.buf)]
	}

	d.buf = next
	d.head = 0
}

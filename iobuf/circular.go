// Package iobuf provides the buffer building blocks for the socket engine:
// a wraparound byte ring buffer, a fixed-capacity slot allocator with stable
// pointers, and the arena abstraction both allocate from.
package iobuf

// CircularBuf is a wraparound byte ring buffer over externally-owned storage.
//
// To differentiate between an empty buffer and a full buffer with only two
// cursors, the usable capacity is the storage length minus one.
//
// The backing storage must outlive the buffer and must not move while views
// into it are held by the kernel. CircularBuf itself is thread-compatible but
// not thread-safe: producer and consumer operations must be serialized by the
// caller, which the socket components do with their per-component mutex.
type CircularBuf struct {
	buf []byte
	// The head of the buf, manipulated by consumer methods.
	// Invariant: 0 <= head < len(buf).
	head int
	// The tail of the buf, manipulated by producer methods.
	// Invariant: 0 <= tail < len(buf).
	tail int
}

// NewCircularBuf constructs a circular buffer over storage. The storage is
// borrowed, not copied; callers typically carve it from an Arena so that its
// address stays fixed while kernel operations reference it.
func NewCircularBuf(storage []byte) *CircularBuf {
	if len(storage) == 0 {
		panic("iobuf: circular buffer storage must not be empty")
	}
	return &CircularBuf{buf: storage}
}

// Produce copies as many bytes from p as fit and returns the number copied.
func (b *CircularBuf) Produce(p []byte) int {
	return b.WithProducerView(func(part0, part1 []byte) int {
		if len(p) <= len(part0) {
			copy(part0, p)
			return len(p)
		}
		copy(part0, p[:len(part0)])

		rest := p[len(part0):]
		if len(rest) <= len(part1) {
			copy(part1, rest)
			return len(part0) + len(rest)
		}
		copy(part1, rest[:len(part1)])
		return len(part0) + len(part1)
	})
}

// ProduceWithoutCopy advances the producer cursor by up to n bytes without
// touching the storage. It is used to commit bytes the kernel has already
// written directly into a producer view.
func (b *CircularBuf) ProduceWithoutCopy(n int) int {
	return b.WithProducerView(func(part0, part1 []byte) int {
		if m := len(part0) + len(part1); n > m {
			return m
		}
		return n
	})
}

// Producible returns the number of bytes that can currently be produced.
func (b *CircularBuf) Producible() int {
	return b.Capacity() - b.Consumable()
}

// WithProducerView calls f with the up-to-two contiguous free segments of the
// buffer. f reports how many bytes it produced, which must not exceed
// Producible; the producer cursor advances by exactly that amount.
func (b *CircularBuf) WithProducerView(f func(part0, part1 []byte) int) int {
	head, tail, n := b.head, b.tail, len(b.buf)

	// Two typical settings, where "*" is a stored byte:
	//
	// indexes:     0 1 2 3     ...     L-1
	// bytes:      [ | |*|*|*|*|*| | | | ]
	//                 ^         ^
	//                 head      tail
	//
	// indexes:     0 1 2 3     ...     L-1
	// bytes:      [*|*|*|*| | | |*|*|*|*]
	//                     ^     ^
	//                     tail  head
	var part0, part1 []byte
	switch {
	case tail >= head:
		if head > 0 {
			part0, part1 = b.buf[tail:n], b.buf[0:head-1]
		} else if tail < n-1 {
			part0 = b.buf[tail : n-1]
		}
	case tail < head-1:
		part0 = b.buf[tail : head-1]
	}

	produced := f(part0, part1)
	if produced > len(part0)+len(part1) {
		panic("iobuf: produced more bytes than producible")
	}
	b.tail = (tail + produced) % n
	return produced
}

// Consume copies up to len(p) stored bytes into p and returns the number
// copied.
func (b *CircularBuf) Consume(p []byte) int {
	return b.WithConsumerView(func(part0, part1 []byte) int {
		if len(p) <= len(part0) {
			copy(p, part0[:len(p)])
			return len(p)
		}
		copy(p, part0)

		rest := p[len(part0):]
		if len(rest) <= len(part1) {
			copy(rest, part1[:len(rest)])
			return len(part0) + len(rest)
		}
		copy(rest, part1)
		return len(part0) + len(part1)
	})
}

// ConsumeWithoutCopy advances the consumer cursor by up to n bytes without
// touching the storage. It is used to drop bytes the kernel has already read
// directly out of a consumer view.
func (b *CircularBuf) ConsumeWithoutCopy(n int) int {
	return b.WithConsumerView(func(part0, part1 []byte) int {
		if m := len(part0) + len(part1); n > m {
			return m
		}
		return n
	})
}

// WithConsumerView calls f with the up-to-two contiguous stored segments of
// the buffer. f reports how many bytes it consumed, which must not exceed
// Consumable; the consumer cursor advances by exactly that amount.
func (b *CircularBuf) WithConsumerView(f func(part0, part1 []byte) int) int {
	head, tail, n := b.head, b.tail, len(b.buf)

	var part0, part1 []byte
	if head <= tail {
		part0 = b.buf[head:tail]
	} else {
		part0, part1 = b.buf[head:n], b.buf[0:tail]
	}

	consumed := f(part0, part1)
	if consumed > len(part0)+len(part1) {
		panic("iobuf: consumed more bytes than consumable")
	}
	b.head = (head + consumed) % n
	return consumed
}

// Consumable returns the number of stored bytes.
func (b *CircularBuf) Consumable() int {
	head, tail := b.head, b.tail
	if head <= tail {
		return tail - head
	}
	return (len(b.buf) - head) + tail
}

// Capacity returns the usable capacity, one less than the storage length.
func (b *CircularBuf) Capacity() int {
	return len(b.buf) - 1
}

// IsFull reports whether no more bytes can be produced.
func (b *CircularBuf) IsFull() bool {
	return b.Producible() == 0
}

// IsEmpty reports whether no bytes are stored.
func (b *CircularBuf) IsEmpty() bool {
	return b.Consumable() == 0
}

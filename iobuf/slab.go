package iobuf

import "unsafe"

// RawSlab is a fixed-capacity slot allocator over a caller-provided backing
// slice. Every pointer returned by Alloc stays at a fixed address for its
// entire allocated lifetime, which is what lets the kernel hold it while an
// operation is in flight; a growable container would invalidate outstanding
// pointers on reallocation.
//
// Dealloc carries malloc/free discipline: passing a pointer that was not
// returned by Alloc, or freeing twice, corrupts the free list.
type RawSlab[T any] struct {
	buf  []T
	free []int
}

// NewRawSlab creates a slab allocator handing out slots of storage. The
// storage is borrowed and must not be moved or resized while any slot is
// allocated.
func NewRawSlab[T any](storage []T) *RawSlab[T] {
	free := make([]int, len(storage))
	for i := range free {
		free[i] = len(storage) - 1 - i
	}
	return &RawSlab[T]{buf: storage, free: free}
}

// Alloc pops a free slot and returns its pointer, or nil if the slab is
// full. Capacity is fixed at construction; there is no growth.
func (s *RawSlab[T]) Alloc() *T {
	if len(s.free) == 0 {
		return nil
	}
	idx := s.free[len(s.free)-1]
	s.free = s.free[:len(s.free)-1]
	return &s.buf[idx]
}

// Dealloc returns a slot previously obtained from Alloc to the free list.
func (s *RawSlab[T]) Dealloc(p *T) {
	base := uintptr(unsafe.Pointer(&s.buf[0]))
	off := uintptr(unsafe.Pointer(p)) - base
	size := unsafe.Sizeof(s.buf[0])
	idx := int(off / size)
	if off%size != 0 || idx < 0 || idx >= len(s.buf) {
		panic("iobuf: dealloc of pointer not allocated from this slab")
	}
	s.free = append(s.free, idx)
}

// Capacity returns the max number of slots that can be allocated.
func (s *RawSlab[T]) Capacity() int {
	return len(s.buf)
}

// Allocated returns the number of currently allocated slots.
func (s *RawSlab[T]) Allocated() int {
	return s.Capacity() - len(s.free)
}

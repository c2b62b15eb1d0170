package iobuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawSlabAllocOrder(t *testing.T) {
	storage := make([]uint64, 4)
	s := NewRawSlab(storage)
	assert.Equal(t, 4, s.Capacity())
	assert.Equal(t, 0, s.Allocated())

	// Slots come out in index order.
	for i := 0; i < 4; i++ {
		p := s.Alloc()
		require.NotNil(t, p)
		assert.Same(t, &storage[i], p)
	}
	assert.Equal(t, 4, s.Allocated())
	assert.Nil(t, s.Alloc())
}

func TestRawSlabPointerStability(t *testing.T) {
	s := NewRawSlab(make([]uint64, 3))
	a := s.Alloc()
	b := s.Alloc()
	*a = 1
	*b = 2

	s.Dealloc(a)
	c := s.Alloc()
	*c = 3

	// b was never deallocated, so its slot is untouched.
	assert.Equal(t, uint64(2), *b)
	assert.Equal(t, 2, s.Allocated())
}

func TestRawSlabDeallocReuse(t *testing.T) {
	s := NewRawSlab(make([]int32, 2))
	a := s.Alloc()
	b := s.Alloc()
	require.Nil(t, s.Alloc())

	s.Dealloc(b)
	s.Dealloc(a)
	assert.Equal(t, 0, s.Allocated())

	// Both slots become allocatable again.
	require.NotNil(t, s.Alloc())
	require.NotNil(t, s.Alloc())
	require.Nil(t, s.Alloc())
}

func TestRawSlabForeignPointerPanics(t *testing.T) {
	s := NewRawSlab(make([]int64, 2))
	var foreign int64
	assert.Panics(t, func() { s.Dealloc(&foreign) })
}

package collections

import (
	"sync"
)

// SlicePool is a generic pool for slices of any type.
type SlicePool[T any] struct {
	pool       sync.Pool
	initialCap int
}

// NewSlicePool creates a new slice pool with the given initial capacity.
func NewSlicePool[T any](initialCap int) *SlicePool[T] {
	if initialCap <= 0 {
		initialCap = 256
	}
	return &SlicePool[T]{
		initialCap: initialCap,
		pool: sync.Pool{
			New: func() interface{} {
				s := make([]T, 0, initialCap)
				return &s
			},
		},
	}
}

// Get gets an empty slice from the pool.
func (p *SlicePool[T]) Get() *[]T {
	return p.pool.Get().(*[]T)
}

// GetZeroed returns a slice of length n with every element set to the zero value.
// Pooled backing arrays are reused when they are large enough.
func (p *SlicePool[T]) GetZeroed(n int) *[]T {
	s := p.Get()
	if cap(*s) < n {
		*s = make([]T, n)
		return s
	}
	*s = (*s)[:n]
	var zero T
	for i := range *s {
		(*s)[i] = zero
	}
	return s
}

// Put returns a slice to the pool after clearing it.
func (p *SlicePool[T]) Put(s *[]T) {
	if s == nil {
		return
	}
	*s = (*s)[:0]
	p.pool.Put(s)
}

// Uint64SlicePool is a pool for []uint64 slices.
var Uint64SlicePool = NewSlicePool[uint64](256)

// GetUint64Slice gets a zeroed slice of length n from the pool.
func GetUint64Slice(n int) *[]uint64 {
	return Uint64SlicePool.GetZeroed(n)
}

// PutUint64Slice returns a slice to the pool.
func PutUint64Slice(s *[]uint64) {
	Uint64SlicePool.Put(s)
}

// Package collections provides the bit vectors and pools used for probe hit data.
package collections

import (
	"math/bits"
)

// Bitset is a fixed-length boolean vector packed into 64-bit words.
// Probe hit vectors and per-instruction covered-branch masks use it.
//
// Size is the logical length (number of probes); bits at indexes >= Size are
// always zero.
type Bitset struct {
	bits []uint64
	size int
}

// NewBitset creates a cleared bitset of the given length.
func NewBitset(size int) *Bitset {
	if size < 0 {
		size = 0
	}
	return &Bitset{
		bits: make([]uint64, wordsFor(size)),
		size: size,
	}
}

// FromBools packs a boolean slice into a bitset of the same length.
func FromBools(values []bool) *Bitset {
	b := NewBitset(len(values))
	for i, v := range values {
		if v {
			b.bits[i/64] |= 1 << (i % 64)
		}
	}
	return b
}

func wordsFor(size int) int {
	return (size + 63) / 64
}

// Set sets the bit at index i, growing the vector when i is past the end.
func (b *Bitset) Set(i int) {
	if i < 0 {
		return
	}
	if i >= b.size {
		b.grow(i + 1)
	}
	b.bits[i/64] |= 1 << (i % 64)
}

// Clear clears the bit at index i.
func (b *Bitset) Clear(i int) {
	if i < 0 || i >= b.size {
		return
	}
	b.bits[i/64] &^= 1 << (i % 64)
}

// Test returns true if the bit at index i is set.
func (b *Bitset) Test(i int) bool {
	if i < 0 || i >= b.size {
		return false
	}
	return b.bits[i/64]&(1<<(i%64)) != 0
}

// ClearAll clears all bits to 0 without changing the length.
func (b *Bitset) ClearAll() {
	for i := range b.bits {
		b.bits[i] = 0
	}
}

// Count returns the number of set bits (population count).
func (b *Bitset) Count() int {
	count := 0
	for _, word := range b.bits {
		count += bits.OnesCount64(word)
	}
	return count
}

// Size returns the logical length of the bitset.
func (b *Bitset) Size() int {
	return b.size
}

// Any reports whether at least one bit is set.
func (b *Bitset) Any() bool {
	for _, word := range b.bits {
		if word != 0 {
			return true
		}
	}
	return false
}

func (b *Bitset) grow(newSize int) {
	numWords := wordsFor(newSize)
	if numWords > len(b.bits) {
		newCap := len(b.bits) * 2
		if newCap < numWords {
			newCap = numWords
		}
		newBits := make([]uint64, numWords, newCap)
		copy(newBits, b.bits)
		b.bits = newBits
	}
	b.size = newSize
}

// Clone creates a copy of the bitset.
func (b *Bitset) Clone() *Bitset {
	newBits := make([]uint64, len(b.bits))
	copy(newBits, b.bits)
	return &Bitset{bits: newBits, size: b.size}
}

// Or merges other into b (union). The result is as long as the longer input.
func (b *Bitset) Or(other *Bitset) {
	if other == nil {
		return
	}
	if other.size > b.size {
		b.grow(other.size)
	}
	for i, word := range other.bits {
		b.bits[i] |= word
	}
}

// Equal reports whether both bitsets have the same length and bits.
func (b *Bitset) Equal(other *Bitset) bool {
	if other == nil || b.size != other.size {
		return false
	}
	for i := range b.bits {
		if b.bits[i] != other.bits[i] {
			return false
		}
	}
	return true
}

// Iterate calls fn for each set bit index in ascending order until fn returns false.
func (b *Bitset) Iterate(fn func(i int) bool) {
	for wordIdx, word := range b.bits {
		base := wordIdx * 64
		for word != 0 {
			tz := bits.TrailingZeros64(word)
			if !fn(base + tz) {
				return
			}
			word &= word - 1
		}
	}
}

// ToSlice returns a slice of all set bit indices.
func (b *Bitset) ToSlice() []int {
	result := make([]int, 0, b.Count())
	b.Iterate(func(i int) bool {
		result = append(result, i)
		return true
	})
	return result
}

// Bools unpacks the bitset into a boolean slice of length Size.
func (b *Bitset) Bools() []bool {
	out := make([]bool, b.size)
	b.Iterate(func(i int) bool {
		out[i] = true
		return true
	})
	return out
}

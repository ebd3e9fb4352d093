// Package bitmap provides a fixed-size bit vector used to track the
// allocation state of an indexed pool of resources (coremap frames, swap
// chunks). It is a thin wrapper around github.com/willf/bitset; callers
// serialize access themselves since the coremap and swap manager already
// hold their own lock whenever they touch one.
package bitmap

import "github.com/willf/bitset"

/// Bitmap tracks which indices in [0, n) are currently allocated.
type Bitmap struct {
	bits *bitset.BitSet
	n    uint
}

/// New returns a Bitmap with every bit clear, sized for n indices.
func New(n uint) *Bitmap {
	return &Bitmap{bits: bitset.New(n), n: n}
}

/// Len returns the number of indices the bitmap tracks.
func (b *Bitmap) Len() uint {
	return b.n
}

/// Test reports whether index i is set (allocated).
func (b *Bitmap) Test(i uint) bool {
	return b.bits.Test(i)
}

/// Set marks index i as allocated.
func (b *Bitmap) Set(i uint) {
	b.bits.Set(i)
}

/// Clear marks index i as free.
func (b *Bitmap) Clear(i uint) {
	b.bits.Clear(i)
}

/// Count returns the number of set (allocated) bits.
func (b *Bitmap) Count() uint {
	return b.bits.Count()
}

/// FirstClear returns the lowest-indexed free bit. ok is false when the
/// bitmap is completely full.
func (b *Bitmap) FirstClear() (idx uint, ok bool) {
	for i := uint(0); i < b.n; i++ {
		if !b.bits.Test(i) {
			return i, true
		}
	}
	return 0, false
}

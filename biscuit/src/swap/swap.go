// Package swap implements the swap manager: a fixed array of
// disk-chunk-sized backing store entries, inverse-mapped by (vaddr, pid),
// the demand-paging counterpart of coremap. Grounded on original_source's
// swaparea/add_spage/remove_spage/get_spage, with the bitmap allocation
// technique shared with coremap via the bitmap package.
package swap

import (
	"sync"

	"bitmap"
	"caller"
	"coremap"
	"defs"
)

/// ChunkSize is the size in bytes of one swap chunk; it matches the
/// coremap's PageSize since a swapped-out page occupies exactly one chunk.
const ChunkSize = coremap.PageSize

/// entry records the owner of an allocated swap chunk.
type entry struct {
	vaddr coremap.VAddr
	pid   defs.Pid_t
}

/// Swap is the backing store for pages evicted from the coremap.
type Swap struct {
	sync.Mutex
	entries []entry
	used    *bitmap.Bitmap
	backing []byte
}

/// New creates a Swap area with nchunks chunks, all initially free.
func New(nchunks int) *Swap {
	if nchunks <= 0 {
		panic("swap: nchunks must be positive")
	}
	return &Swap{
		entries: make([]entry, nchunks),
		used:    bitmap.New(uint(nchunks)),
		backing: make([]byte, nchunks*ChunkSize),
	}
}

/// NumChunks returns the total number of chunks the swap area manages.
func (s *Swap) NumChunks() int {
	return len(s.entries)
}

/// Used returns the number of currently occupied chunks.
func (s *Swap) Used() int {
	s.Lock()
	defer s.Unlock()
	return int(s.used.Count())
}

/// Bytes returns the byte slice backing chunk idx.
func (s *Swap) Bytes(idx int) []byte {
	return s.backing[idx*ChunkSize : (idx+1)*ChunkSize]
}

/// GetEmptyChunk allocates a free chunk for (vaddr, pid), the Go analogue
/// of get_empty_chunk. ok is false when the swap area is full; the
/// original source treats that as fatal to the calling process, a policy
/// the paging engine enforces by invoking an injected process-killer
/// rather than swap reaching into the process table itself.
func (s *Swap) GetEmptyChunk(vaddr coremap.VAddr, pid defs.Pid_t) (idx int, ok bool) {
	s.Lock()
	defer s.Unlock()
	i, found := s.used.FirstClear()
	if !found {
		return 0, false
	}
	s.used.Set(i)
	s.entries[i] = entry{vaddr: vaddr, pid: pid}
	return int(i), true
}

/// RemoveChunk frees chunk idx (remove_spage).
func (s *Swap) RemoveChunk(idx int) {
	s.Lock()
	defer s.Unlock()
	s.entries[idx] = entry{}
	s.used.Clear(uint(idx))
}

/// Find performs the linear scan get_spage relies on: the chunk, if any,
/// holding (vaddr, pid). It panics on a miss, matching the source's
/// invariant that swapin is only ever called for a page known to have
/// been swapped out.
func (s *Swap) Find(vaddr coremap.VAddr, pid defs.Pid_t) int {
	s.Lock()
	defer s.Unlock()
	for i := range s.entries {
		if !s.used.Test(uint(i)) {
			continue
		}
		if s.entries[i].vaddr == vaddr && s.entries[i].pid == pid {
			return i
		}
	}
	caller.PanicOnce("swap: no chunk for vaddr/pid")
	panic("unreachable")
}

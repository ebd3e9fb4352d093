// Package coremap implements the frame table: a software-managed inverse
// page table indexed by physical frame number. It is the Go-native,
// bitmap-backed replacement for biscuit's mem.Physmem_t, which tracks
// physical pages with an x86 hardware-walked pmap; this kernel has no
// hardware page-table walker to lean on, so every frame's owner is
// recorded explicitly here instead.
package coremap

import (
	"sync"

	"bitmap"
	"caller"
	"defs"
)

/// PageSize is the size in bytes of a single frame or swap chunk.
const PageSize = 4096

/// VAddr is a virtual address.
type VAddr uintptr

/// PAddr is a physical frame number (not a byte address): frame i of the
/// coremap backs physical bytes [i*PageSize, (i+1)*PageSize).
type PAddr uintptr

/// Stamp is a monotonic access timestamp used by the LRU replacement
/// policy, modeled after original_source's last_access_time_sec/nsec pair.
type Stamp struct {
	Sec  int64
	Nsec int64
}

/// Before reports whether s happened strictly before o.
func (s Stamp) Before(o Stamp) bool {
	if s.Sec != o.Sec {
		return s.Sec < o.Sec
	}
	return s.Nsec < o.Nsec
}

/// Status classifies a frame table entry.
type Status int

const (
	StatusFree Status = iota
	StatusClean
	StatusDirty
	StatusKernel
)

/// Frame is one entry of the coremap: the record for a single physical
/// frame, its owner, and its replacement bookkeeping.
type Frame struct {
	Vaddr  VAddr
	Pid    defs.Pid_t
	Status Status
	ATime  Stamp
}

/// Coremap is the inverse page table for all of physical memory. A
/// Coremap owns the bytes backing every frame directly (there is no real
/// physical memory to map), so Bytes(i) is how every other component
/// reads or writes frame contents.
type Coremap struct {
	sync.Mutex
	entries []Frame
	used    *bitmap.Bitmap
	backing []byte
}

/// New creates a Coremap with nframes frames, all initially free.
func New(nframes int) *Coremap {
	if nframes <= 0 {
		panic("coremap: nframes must be positive")
	}
	return &Coremap{
		entries: make([]Frame, nframes),
		used:    bitmap.New(uint(nframes)),
		backing: make([]byte, nframes*PageSize),
	}
}

/// NumFrames returns the total number of frames the coremap manages.
func (c *Coremap) NumFrames() int {
	return len(c.entries)
}

/// Frame returns a copy of the entry at frame idx.
func (c *Coremap) Frame(idx int) Frame {
	c.Lock()
	defer c.Unlock()
	return c.entries[idx]
}

/// Bytes returns the byte slice backing frame idx. It does not take the
/// coremap lock, and callers read and write the returned slice without
/// holding it.
func (c *Coremap) Bytes(idx int) []byte {
	return c.backing[idx*PageSize : (idx+1)*PageSize]
}

/// AddPage installs a new mapping for vaddr/pid into the first free
/// frame (add_ppage). ok is false when the coremap is full; the caller
/// (the paging engine) is responsible for evicting a victim first.
func (c *Coremap) AddPage(vaddr VAddr, pid defs.Pid_t, kernel bool) (idx int, ok bool) {
	c.Lock()
	defer c.Unlock()
	i, found := c.used.FirstClear()
	if !found {
		return 0, false
	}
	c.used.Set(i)
	st := StatusClean
	if kernel {
		st = StatusKernel
	}
	c.entries[i] = Frame{Vaddr: vaddr, Pid: pid, Status: st}
	return int(i), true
}

/// AddPageAt installs a mapping into a specific, already-freed frame
/// index. It is used when the paging engine has just evicted a victim
/// and wants the freed frame reused without a second bitmap scan.
func (c *Coremap) AddPageAt(idx int, vaddr VAddr, pid defs.Pid_t, kernel bool) {
	c.Lock()
	defer c.Unlock()
	if c.used.Test(uint(idx)) {
		panic("coremap: AddPageAt on occupied frame")
	}
	c.used.Set(uint(idx))
	st := StatusClean
	if kernel {
		st = StatusKernel
	}
	c.entries[idx] = Frame{Vaddr: vaddr, Pid: pid, Status: st}
}

/// RemovePage clears frame idx and marks it free (remove_ppage).
func (c *Coremap) RemovePage(idx int) {
	c.Lock()
	defer c.Unlock()
	c.entries[idx] = Frame{}
	c.used.Clear(uint(idx))
}

/// MarkDirty records that frame idx has been written since it was last
/// clean. Eviction does not consult this status: the paging engine writes
/// every victim to swap, clean or dirty.
func (c *Coremap) MarkDirty(idx int) {
	c.Lock()
	defer c.Unlock()
	if c.entries[idx].Status == StatusClean {
		c.entries[idx].Status = StatusDirty
	}
}

/// Touch updates the access-time stamp of frame idx. handle_page_fault
/// calls this only when the LRU replacement policy is active.
func (c *Coremap) Touch(idx int, t Stamp) {
	c.Lock()
	defer c.Unlock()
	c.entries[idx].ATime = t
}

/// Find performs the linear scan get_ppage relies on: the frame, if any,
/// currently mapping (vaddr, pid). A frame owned by NoPid (a kernel page)
/// matches any searching pid, mirroring get_ppage's
/// `coremap[i].pid == pid || coremap[i].pid == 0` condition. found is
/// false on a miss.
func (c *Coremap) Find(vaddr VAddr, pid defs.Pid_t) (idx int, found bool) {
	c.Lock()
	defer c.Unlock()
	for i := range c.entries {
		if !c.used.Test(uint(i)) {
			continue
		}
		e := c.entries[i]
		if e.Vaddr == vaddr && (e.Pid == pid || e.Pid == defs.NoPid) {
			return i, true
		}
	}
	return 0, false
}

/// ReplaceRandom implements replace_rnd_page: pick a uniformly random
/// occupied, non-kernel frame to evict. It panics if every occupied frame
/// is a kernel frame, mirroring the source's invariant that a kernel
/// frame must never be chosen as a victim.
func (c *Coremap) ReplaceRandom(pick func(n int) int) int {
	c.Lock()
	defer c.Unlock()
	var candidates []int
	for i := range c.entries {
		if c.used.Test(uint(i)) && c.entries[i].Status != StatusKernel {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		caller.PanicOnce("coremap: no evictable frame for random replacement")
	}
	return candidates[pick(len(candidates))]
}

/// ReplaceLRU implements replace_lru_page: scan every occupied,
/// non-kernel frame and return the one with the smallest access
/// timestamp. It panics under the same invariant as ReplaceRandom.
func (c *Coremap) ReplaceLRU() int {
	c.Lock()
	defer c.Unlock()
	victim := -1
	var oldest Stamp
	for i := range c.entries {
		if !c.used.Test(uint(i)) || c.entries[i].Status == StatusKernel {
			continue
		}
		if victim == -1 || c.entries[i].ATime.Before(oldest) {
			victim = i
			oldest = c.entries[i].ATime
		}
	}
	if victim == -1 {
		caller.PanicOnce("coremap: no evictable frame for LRU replacement")
	}
	return victim
}

/// Used returns the number of currently occupied frames.
func (c *Coremap) Used() int {
	c.Lock()
	defer c.Unlock()
	return int(c.used.Count())
}

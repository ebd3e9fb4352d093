package vm

import (
	"sync"

	"coremap"
	"defs"
	"util"
)

// USERSTACK is the fixed top-of-stack address every address space's
// stack region grows down from, matching original_source's USERSTACK.
const USERSTACK VAddr = 0x80000000

// VMStackPages bounds how far the stack (and, by the same check sys_sbrk
// uses, how far the heap is allowed to grow) may extend.
const VMStackPages = 16

/// Perm records a region's read/write/execute bits, carried from
// as_define_region's readable/writeable/executable arguments. Enforcement
// is RW-only (see HandlePageFault): the bits are recorded for a future
// permission check, not yet consulted by one.
type Perm struct {
	Read, Write, Exec bool
}

/// Region describes one code/data segment: a page-aligned base address,
// a page count (original_source's vbase1/npages1 and vbase2/npages2),
// and its permission bits.
type Region struct {
	VBase  VAddr
	NPages int
	Perm   Perm
}

func (r Region) empty() bool { return r.NPages == 0 }

/// AddrSpace is a process's virtual address space: up to two code/data
// regions, one stack region, and a heap that grows from HeapBase up to
// HeapTop. It is the Go-native, software-paged replacement for biscuit's
// Vm_t, which instead held an x86 Pmap_t and a Vmregion_t of COW/file
// mappings that this kernel has no use for.
type AddrSpace struct {
	sync.Mutex

	Pid      defs.Pid_t
	Regions  [2]Region
	nregions int
	Stack    Region
	HeapBase VAddr
	HeapTop  VAddr
}

/// CreateAddrSpace implements as_create: a zeroed address space owned by
// pid, ready for DefineRegion/DefineStack/PrepareLoad.
func (w *World) CreateAddrSpace(pid defs.Pid_t) *AddrSpace {
	return &AddrSpace{Pid: pid}
}

/// DefineRegion implements as_define_region: page-aligns vaddr/sz, records
// its read/write/execute bits, and fills the first empty region slot. A
// third call fails with EUNIMP, matching the source's two-region limit
// (code and data).
func (as *AddrSpace) DefineRegion(vaddr VAddr, sz int, read, write, exec bool) defs.Err_t {
	as.Lock()
	defer as.Unlock()
	if as.nregions >= len(as.Regions) {
		return defs.EUNIMP
	}
	base, npages := pageAlign(vaddr, sz)
	as.Regions[as.nregions] = Region{VBase: base, NPages: npages, Perm: Perm{Read: read, Write: write, Exec: exec}}
	as.nregions++
	as.HeapBase = base + VAddr(npages*coremap.PageSize)
	as.HeapTop = as.HeapBase
	return 0
}

/// DefineStack implements as_define_stack: reserve the fixed-size stack
// region below USERSTACK and return the initial stack pointer.
func (as *AddrSpace) DefineStack() VAddr {
	as.Lock()
	defer as.Unlock()
	as.Stack = Region{VBase: USERSTACK - VMStackPages*coremap.PageSize, NPages: VMStackPages}
	return USERSTACK
}

func pageAlign(vaddr VAddr, sz int) (VAddr, int) {
	base := util.Rounddown(vaddr, coremap.PageSize)
	extra := int(vaddr - base)
	npages := util.Roundup(sz+extra, coremap.PageSize) / coremap.PageSize
	return base, npages
}

/// PrepareLoad implements as_prepare_load: allocate and zero every frame
// backing the code/data regions and the stack. original_source allocates
// these pages but leaves zeroing as a "//bzero?" comment; this resolves
// that open question by always zeroing (AllocPage already zeroes every
// frame it hands out, so PrepareLoad simply has to touch every page).
func (as *AddrSpace) PrepareLoad(w *World) defs.Err_t {
	as.Lock()
	regions := append([]Region{}, as.Regions[:as.nregions]...)
	regions = append(regions, as.Stack)
	pid := as.Pid
	as.Unlock()

	for _, r := range regions {
		if r.empty() {
			continue
		}
		for i := 0; i < r.NPages; i++ {
			va := r.VBase + VAddr(i*coremap.PageSize)
			if _, err := w.AllocPage(va, pid, false); err != 0 {
				return err
			}
		}
	}
	return 0
}

/// CompleteLoad implements as_complete_load, a deliberate no-op: once
// PrepareLoad has populated every region there is nothing left to do.
func (as *AddrSpace) CompleteLoad() {}

/// CopyAddrSpace implements as_copy: create a new address space for
// newPid with identical regions, then copy every code/data/stack/heap
// page byte-for-byte from src, exactly as original_source's as_copy does
// via get_ppage+memmove (there is no copy-on-write in this design).
func (w *World) CopyAddrSpace(src *AddrSpace, newPid defs.Pid_t) (*AddrSpace, defs.Err_t) {
	src.Lock()
	dst := &AddrSpace{
		Pid:      newPid,
		Regions:  src.Regions,
		nregions: src.nregions,
		Stack:    src.Stack,
	}
	var heapPages int
	dst.HeapBase = src.HeapBase
	dst.HeapTop = src.HeapBase + (src.HeapTop - src.HeapBase)
	srcPid := src.Pid
	regions := append([]Region{}, src.Regions[:src.nregions]...)
	regions = append(regions, src.Stack)
	heapPages = int(src.HeapTop-src.HeapBase) / coremap.PageSize
	src.Unlock()

	for _, r := range regions {
		if r.empty() {
			continue
		}
		if err := copyRegion(w, r, srcPid, newPid); err != 0 {
			return nil, err
		}
	}
	if heapPages > 0 {
		heapRegion := Region{VBase: dst.HeapBase, NPages: heapPages}
		if err := copyRegion(w, heapRegion, srcPid, newPid); err != 0 {
			return nil, err
		}
	}
	return dst, 0
}

func copyRegion(w *World, r Region, srcPid, dstPid defs.Pid_t) defs.Err_t {
	for i := 0; i < r.NPages; i++ {
		va := r.VBase + VAddr(i*coremap.PageSize)
		srcIdx, found := w.Coremap.Find(va, srcPid)
		if !found {
			var err defs.Err_t
			srcIdx, err = w.LoadPageIntoMemory(va, srcPid)
			if err != 0 {
				return err
			}
		}
		dstIdx, err := w.AllocPage(va, dstPid, false)
		if err != 0 {
			return err
		}
		copy(w.Coremap.Bytes(dstIdx), w.Coremap.Bytes(srcIdx))
	}
	return 0
}

/// Activate implements as_activate: flush the entire TLB since this
// design has no ASID tagging to distinguish address spaces cheaply.
func (as *AddrSpace) Activate(w *World) {
	w.TLB.InvalidateAll()
}

/// Destroy implements as_destroy: release every coremap frame owned by
// this address space's pid. Swap chunks holding its evicted pages are
// not released.
func (as *AddrSpace) Destroy(w *World) {
	as.Lock()
	pid := as.Pid
	as.Unlock()

	for i := 0; i < w.Coremap.NumFrames(); i++ {
		if w.Coremap.Frame(i).Pid == pid {
			w.releaseFrame(i)
		}
	}
}

/// Sbrk implements sys_sbrk: size == 0 is a no-op that returns the
// current heap top; size < 0 is EINVAL; otherwise the heap grows by
// (size/PageSize)+1 pages — the same non-standard rounding
// original_source uses, which is why sbrk(4097) grows by exactly two
// pages rather than rounding up to the nearest page (scenario S6).
func (as *AddrSpace) Sbrk(w *World, size int) (VAddr, defs.Err_t) {
	as.Lock()
	defer as.Unlock()

	if size == 0 {
		return as.HeapTop, 0
	}
	if size < 0 {
		return 0, defs.EINVAL
	}
	pages := size/coremap.PageSize + 1
	grow := VAddr(pages * coremap.PageSize)
	if as.HeapTop+grow > as.Stack.VBase {
		return 0, defs.EINVAL
	}
	old := as.HeapTop
	for i := 0; i < pages; i++ {
		va := as.HeapTop + VAddr(i*coremap.PageSize)
		if _, err := w.AllocPage(va, as.Pid, false); err != 0 {
			return 0, err
		}
	}
	as.HeapTop += grow
	return old, 0
}

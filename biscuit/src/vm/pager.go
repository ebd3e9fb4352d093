package vm

import (
	"caller"
	"coremap"
	"defs"
	"limits"
	"oommsg"
)

// FaultKind mirrors original_source's VM_FAULT_READ/WRITE/READONLY.
type FaultKind int

const (
	FaultRead FaultKind = iota
	FaultWrite
	FaultReadOnly
)

// reserveUserFrame admits a new non-kernel frame against
// limits.Syslimit.Frames; kernel allocations (KpageNalloc) are exempt,
// matching the source's distinction between user and kernel pages.
func reserveUserFrame(kernel bool) bool {
	if kernel {
		return true
	}
	return limits.Syslimit.Frames.Take()
}

// releaseFrame frees frame idx from the coremap and, if it held a
// user (non-kernel) page, returns its unit to limits.Syslimit.Frames.
func (w *World) releaseFrame(idx int) {
	fe := w.Coremap.Frame(idx)
	wasUser := fe.Status != coremap.StatusKernel && fe.Status != coremap.StatusFree
	w.Coremap.RemovePage(idx)
	if wasUser {
		limits.Syslimit.Frames.Give()
	}
}

/// AllocPage installs a brand new mapping for vaddr/pid (alloc_page). If
/// the coremap is full it evicts a victim via SnatchAPage first.
func (w *World) AllocPage(vaddr VAddr, pid defs.Pid_t, kernel bool) (int, defs.Err_t) {
	if !reserveUserFrame(kernel) {
		return 0, defs.ENOMEM
	}
	idx, ok := w.Coremap.AddPage(vaddr, pid, kernel)
	if ok {
		w.zero(idx)
		return idx, 0
	}
	idx, err := w.SnatchAPage(vaddr, pid, kernel)
	if err != 0 {
		if !kernel {
			limits.Syslimit.Frames.Give()
		}
		return 0, err
	}
	w.zero(idx)
	return idx, 0
}

func (w *World) zero(idx int) {
	b := w.Coremap.Bytes(idx)
	for i := range b {
		b[i] = 0
	}
}

/// SnatchAPage implements snatch_a_page: evict a victim frame (chosen per
// the configured replacement policy, never a kernel frame), write its
// contents to swap, and hand the now-free frame to vaddr/pid.
func (w *World) SnatchAPage(vaddr VAddr, pid defs.Pid_t, kernel bool) (int, defs.Err_t) {
	var victim int
	switch w.Policy {
	case ReplaceLRU:
		victim = w.Coremap.ReplaceLRU()
	default:
		victim = w.Coremap.ReplaceRandom(w.pick)
	}
	if err := w.evictFrame(victim); err != 0 {
		return 0, err
	}
	w.Coremap.AddPageAt(victim, vaddr, pid, kernel)
	return victim, 0
}

// evictFrame writes frame idx's contents to swap and frees it, without
// choosing which frame to evict — used both by SnatchAPage (which picks
// the victim via the configured replacement policy) and by KpageNalloc
// (which must evict a specific frame to complete a contiguous run).
func (w *World) evictFrame(idx int) defs.Err_t {
	fe := w.Coremap.Frame(idx)
	if !limits.Syslimit.Swapchunks.Take() {
		notifyOom(1)
		if w.Killer != nil {
			w.Killer.Kill(fe.Pid)
		}
		return defs.ENOMEM
	}
	chunk, ok := w.Swap.GetEmptyChunk(fe.Vaddr, fe.Pid)
	if !ok {
		limits.Syslimit.Swapchunks.Give()
		notifyOom(1)
		if w.Killer != nil {
			w.Killer.Kill(fe.Pid)
		}
		return defs.ENOMEM
	}
	copy(w.Swap.Bytes(chunk), w.Coremap.Bytes(idx))
	w.Stats.AsyncWrites.Inc()
	w.TLB.InvalidateFrame(coremap.PAddr(idx))
	w.releaseFrame(idx)
	return 0
}

/// LoadPageIntoMemory implements load_page_into_memory: bring a
// previously swapped-out page for vaddr/pid back into a coremap frame.
func (w *World) LoadPageIntoMemory(vaddr VAddr, pid defs.Pid_t) (int, defs.Err_t) {
	chunk := w.Swap.Find(vaddr, pid)
	if !reserveUserFrame(false) {
		return 0, defs.ENOMEM
	}
	idx, ok := w.Coremap.AddPage(vaddr, pid, false)
	if !ok {
		var err defs.Err_t
		idx, err = w.SnatchAPage(vaddr, pid, false)
		if err != 0 {
			limits.Syslimit.Frames.Give()
			return 0, err
		}
	}
	copy(w.Coremap.Bytes(idx), w.Swap.Bytes(chunk))
	w.Swap.RemoveChunk(chunk)
	limits.Syslimit.Swapchunks.Give()
	return idx, 0
}

/// WriteUserBytes copies data into pid's address space starting at
// vaddr, allocating any page not yet resident along the way. It exists
// for kernel-side writes that must land in user memory before the
// process ever runs — sys_execv copying argv onto a freshly defined
// stack — which original_source performs via copyout() relying on that
// call itself taking a VM fault if the page is missing; this port has no
// trap to fall into, so the fault's effect (AllocPage) is taken eagerly.
func (w *World) WriteUserBytes(pid defs.Pid_t, vaddr VAddr, data []byte) defs.Err_t {
	for len(data) > 0 {
		pageBase := (vaddr / coremap.PageSize) * coremap.PageSize
		off := int(vaddr - pageBase)
		idx, found := w.Coremap.Find(pageBase, pid)
		if !found {
			var err defs.Err_t
			idx, err = w.AllocPage(pageBase, pid, false)
			if err != 0 {
				return err
			}
		}
		n := coremap.PageSize - off
		if n > len(data) {
			n = len(data)
		}
		copy(w.Coremap.Bytes(idx)[off:off+n], data[:n])
		data = data[n:]
		vaddr += VAddr(n)
	}
	return 0
}

/// GetPPage implements get_ppage: find the frame currently mapping
// vaddr/pid, incrementing the matching fault statistic. found is false on
// a miss (the caller must then consult swap or allocate fresh).
func (w *World) GetPPage(vaddr VAddr, pid, curpid defs.Pid_t) (idx int, found bool) {
	idx, found = w.Coremap.Find(vaddr, pid)
	if !found {
		return 0, false
	}
	if pid == curpid {
		w.Stats.TLBFaults.Inc()
	} else {
		w.Stats.PageFaults.Inc()
	}
	return idx, true
}

/// HandlePageFault implements handle_page_fault: the single entry point
// that turns a TLB miss into either a TLB refill, a swap-in, or a fresh
// allocation, and installs the resulting translation.
func (w *World) HandlePageFault(vaddr VAddr, pid, curpid defs.Pid_t, kind FaultKind, swapped bool, now int64) (PAddr, defs.Err_t) {
	if kind == FaultReadOnly {
		caller.PanicOnce("vm: invalid VM_FAULT_READONLY")
	}

	idx, found := w.GetPPage(vaddr, pid, curpid)
	if !found {
		var err defs.Err_t
		if swapped {
			idx, err = w.LoadPageIntoMemory(vaddr, pid)
		} else {
			idx, err = w.AllocPage(vaddr, pid, false)
		}
		if err != 0 {
			return 0, err
		}
	}

	if w.Policy == ReplaceLRU {
		w.Coremap.Touch(idx, w.clock())
	}
	if kind == FaultWrite {
		w.Coremap.MarkDirty(idx)
	}

	paddr := PAddr(idx)
	w.TLB.Insert(vaddr, paddr, now, w.pick)
	return paddr, 0
}

/// KpageNalloc implements kpage_nalloc: allocate n contiguous frames for
// kernel use (n==1 is the common alloc_page fast path; n>1 scans for, and
// if needed evicts to create, a contiguous run of free/non-kernel
// frames). The returned claim must later be released with FreeKpages.
func (w *World) KpageNalloc(vaddr VAddr, pid defs.Pid_t, n int) (VAddr, defs.Err_t) {
	if n <= 0 {
		panic("vm: KpageNalloc with n <= 0")
	}
	if n == 1 {
		idx, err := w.AllocPage(vaddr, pid, true)
		if err != 0 {
			return 0, err
		}
		w.claims[vaddr] = contigClaim{startFrame: idx, npages: 1}
		return vaddr, 0
	}

	start, ok := w.findContiguousRun(n)
	if !ok {
		return 0, defs.ENOMEM
	}
	for i := 0; i < n; i++ {
		frame := start + i
		pageVaddr := vaddr + VAddr(i*coremap.PageSize)
		if w.Coremap.Frame(frame).Status == coremap.StatusFree {
			w.Coremap.AddPageAt(frame, pageVaddr, pid, true)
		} else {
			if err := w.evictFrame(frame); err != 0 {
				return 0, err
			}
			w.Coremap.AddPageAt(frame, pageVaddr, pid, true)
		}
		w.zero(frame)
	}
	w.claims[vaddr] = contigClaim{startFrame: start, npages: n}
	return vaddr, 0
}

// notifyOom signals a waiting reaper that the swap area is exhausted and
// need more chunks would free up. The send is non-blocking: a kernel
// built without a reaper goroutine listening on oommsg.OomCh must not
// stall the faulting process any longer than the Killer call already does.
func notifyOom(need int) {
	select {
	case oommsg.OomCh <- oommsg.Oommsg_t{Need: need, Resume: make(chan bool)}:
	default:
	}
}

func (w *World) findContiguousRun(n int) (int, bool) {
	run := 0
	start := 0
	total := w.Coremap.NumFrames()
	for i := 0; i < total; i++ {
		if w.Coremap.Frame(i).Status != coremap.StatusKernel {
			if run == 0 {
				start = i
			}
			run++
			if run == n {
				return start, true
			}
		} else {
			run = 0
		}
	}
	return 0, false
}

/// FreeKpages releases a multi-page claim made by KpageNalloc. This
// replaces original_source's free_kpages, whose bookkeeping re-used a
// single loop index across pages and freed the wrong frames on anything
// but a one-page claim; here the claim is recorded explicitly at
// allocation time and released as a unit.
func (w *World) FreeKpages(vaddr VAddr) {
	claim, ok := w.claims[vaddr]
	if !ok {
		panic("vm: FreeKpages on unknown claim")
	}
	for i := 0; i < claim.npages; i++ {
		w.Coremap.RemovePage(claim.startFrame + i)
	}
	delete(w.claims, vaddr)
}

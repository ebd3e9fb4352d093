// Package tlb implements the software TLB controller required on a
// machine with no hardware page-table walker, grounded on
// original_source's arch/mips/mips/tlb.c (TLB_Insert, TLB_Invalidate_all,
// TLB_Invalidate) and on the MIPS cop0/TLBEntry layout retrieved in the
// example pack (SchawnnDev-awesomeVM's internal/mips/cop0.go) for the
// shape of a software TLB entry.
package tlb

import (
	"sync"

	"coremap"
)

/// NumSlots is the number of hardware TLB entries modeled, matching the
/// 8-entry MIPS TLB original_source targets.
const NumSlots = 8

/// Policy selects the replacement strategy used once every slot is valid.
type Policy int

const (
	PolicyRandom Policy = iota
	PolicyNRU
)

type slot struct {
	valid bool
	vaddr coremap.VAddr
	paddr coremap.PAddr
	age   int64
}

/// TLB models the fixed-size hardware translation cache sitting in front
/// of the coremap. Each method holds TLB's own lock for its whole
/// duration, the stand-in for original_source's splhigh()-guarded tlb.c
/// functions; a fault-handling sequence that calls several methods is not
/// held under one lock.
type TLB struct {
	sync.Mutex
	policy Policy
	slots  [NumSlots]slot
}

/// New creates a TLB controller using the given replacement policy.
func New(policy Policy) *TLB {
	return &TLB{policy: policy}
}

/// Insert installs a vaddr->paddr mapping (TLB_Insert). It prefers any
/// invalid slot; once every slot is valid it evicts per the configured
/// policy. pick supplies the random index for PolicyRandom.
func (t *TLB) Insert(vaddr coremap.VAddr, paddr coremap.PAddr, now int64, pick func(n int) int) {
	t.Lock()
	defer t.Unlock()

	for i := range t.slots {
		if !t.slots[i].valid {
			t.slots[i] = slot{valid: true, vaddr: vaddr, paddr: paddr, age: now}
			return
		}
	}

	var victim int
	switch t.policy {
	case PolicyNRU:
		victim = 0
		for i := 1; i < NumSlots; i++ {
			if t.slots[i].age < t.slots[victim].age {
				victim = i
			}
		}
	default:
		victim = pick(NumSlots)
	}
	t.slots[victim] = slot{valid: true, vaddr: vaddr, paddr: paddr, age: now}
}

/// InvalidateAll clears every slot (TLB_Invalidate_all), used whenever an
/// address space is activated since this kernel has no ASID tagging.
func (t *TLB) InvalidateAll() {
	t.Lock()
	defer t.Unlock()
	for i := range t.slots {
		t.slots[i] = slot{}
	}
}

/// InvalidateFrame clears every slot mapping physical frame paddr
/// (TLB_Invalidate), used when swapout evicts that frame.
func (t *TLB) InvalidateFrame(paddr coremap.PAddr) {
	t.Lock()
	defer t.Unlock()
	for i := range t.slots {
		if t.slots[i].valid && t.slots[i].paddr == paddr {
			t.slots[i] = slot{}
		}
	}
}

/// Probe reports the physical frame currently mapped for vaddr, if any.
func (t *TLB) Probe(vaddr coremap.VAddr) (coremap.PAddr, bool) {
	t.Lock()
	defer t.Unlock()
	for i := range t.slots {
		if t.slots[i].valid && t.slots[i].vaddr == vaddr {
			return t.slots[i].paddr, true
		}
	}
	return 0, false
}

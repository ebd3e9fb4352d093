// Package vm implements the paging engine (component D) and address
// space (component E) that sit on top of coremap, swap, and tlb. It is
// the direct descendant of biscuit's vm package, but where biscuit's
// Vm_t walks an x86 Pmap_t, World and AddrSpace here drive the
// software coremap/swap/TLB trio instead — there is no hardware
// page-table walker to delegate to.
package vm

import (
	"math/rand"
	"time"

	"coremap"
	"defs"
	"stats"
	"swap"
	"tlb"
)

/// VAddr and PAddr are re-exported so callers only need to import vm for
// address-space work; they are identical to the coremap package's types.
type VAddr = coremap.VAddr
type PAddr = coremap.PAddr

/// ReplacePolicy selects how the paging engine chooses an eviction victim
/// when the coremap is full, mirroring original_source's
/// PAGE_REPLACEMENT_ALGO compile-time switch.
type ReplacePolicy int

const (
	ReplaceRandom ReplacePolicy = iota
	ReplaceLRU
)

/// Killer terminates a process, invoked by the paging engine when the
/// swap area is exhausted (original_source's get_empty_chunk calls
/// sys__exit(0) directly; here that policy is an injected collaborator so
/// vm need not import proc).
type Killer interface {
	Kill(pid defs.Pid_t)
}

/// World bundles every process-wide mutable VM singleton (coremap, swap,
// TLB, statistics) into one value created at boot, per the redesign note
// that global mutable kernel state should be a single owned value rather
// than scattered package-level vars (contrast biscuit's `var Physmem =
// &Physmem_t{}`).
type World struct {
	Coremap *coremap.Coremap
	Swap    *swap.Swap
	TLB     *tlb.TLB
	Stats   *stats.Counters
	Policy  ReplacePolicy
	Killer  Killer

	rng   *rand.Rand
	clock func() coremap.Stamp

	claims map[VAddr]contigClaim
}

type contigClaim struct {
	startFrame int
	npages     int
}

/// NewWorld constructs a World with the given frame/chunk/TLB capacities.
// seed controls the deterministic random source used by RANDOM
// replacement and RANDOM TLB eviction, so tests can reproduce scenarios
// exactly (original_source used libc random(), seeded by the boot clock;
// Go code makes that seed explicit instead).
func NewWorld(nframes, nchunks int, tlbPolicy tlb.Policy, pagePolicy ReplacePolicy, seed int64) *World {
	return &World{
		Coremap: coremap.New(nframes),
		Swap:    swap.New(nchunks),
		TLB:     tlb.New(tlbPolicy),
		Stats:   stats.NewCounters(),
		Policy:  pagePolicy,
		rng:     rand.New(rand.NewSource(seed)),
		clock:   realClock,
		claims:  make(map[VAddr]contigClaim),
	}
}

func realClock() coremap.Stamp {
	now := time.Now()
	return coremap.Stamp{Sec: now.Unix(), Nsec: int64(now.Nanosecond())}
}

// SetClock overrides the access-time source HandlePageFault stamps frames
// with under LRU replacement, making LRU orderings deterministic.
func (w *World) SetClock(f func() coremap.Stamp) {
	w.clock = f
}

func (w *World) pick(n int) int {
	return w.rng.Intn(n)
}

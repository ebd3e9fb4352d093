// Package limits enforces system-wide admission control: atomically
// decremented counters that cap how many processes, frames, and swap
// chunks the kernel will hand out before turning new requests away. It
// is biscuit's limits package trimmed to the resources this kernel
// still manages (process slots, coremap frames, swap chunks); the
// vnode/futex/arp/route/socket/pipe/block counters it also carried
// belonged to the VFS and networking stacks this kernel does not have.
package limits

import "sync/atomic"

/// Sysatomic_t is a numeric limit that can be atomically updated.
type Sysatomic_t int64

func (s *Sysatomic_t) _aptr() *int64 {
	return (*int64)(s)
}

/// Given increases the limit by the provided amount.
func (s *Sysatomic_t) Given(_n uint) {
	n := int64(_n)
	if n < 0 {
		panic("too mighty")
	}
	atomic.AddInt64(s._aptr(), n)
}

/// Taken tries to decrement the limit by the provided amount. It
/// returns true on success and leaves the limit unchanged on failure.
func (s *Sysatomic_t) Taken(_n uint) bool {
	n := int64(_n)
	if n < 0 {
		panic("too mighty")
	}
	g := atomic.AddInt64(s._aptr(), -n)
	if g >= 0 {
		return true
	}
	atomic.AddInt64(s._aptr(), n)
	return false
}

/// Take decrements the limit by one and reports whether it succeeded.
func (s *Sysatomic_t) Take() bool {
	return s.Taken(1)
}

/// Give increments the limit by one.
func (s *Sysatomic_t) Give() {
	s.Given(1)
}

/// Value returns the limit's current remaining count.
func (s *Sysatomic_t) Value() int64 {
	return atomic.LoadInt64(s._aptr())
}

/// Syslimit_t tracks the system-wide resource ceilings the process
/// table and paging engine admit requests against.
type Syslimit_t struct {
	// Sysprocs bounds live process-table entries, checked by
	// proc.Table.Allocate before MaxProcesses's array bound is ever
	// consulted.
	Sysprocs Sysatomic_t
	// Frames bounds coremap allocations handed to user address
	// spaces (kernel-owned frames from KpageNalloc are exempt, as in
	// the source's distinction between user and kernel pages).
	Frames Sysatomic_t
	// Swapchunks bounds outstanding swap-area chunks.
	Swapchunks Sysatomic_t
}

/// Syslimit holds the configured system-wide limits; MkSysLimit gives
/// its defaults, scaled for the coremap/swap capacities a given boot
/// configures rather than hardware page counts.
var Syslimit = MkSysLimit(4096, 1024, 4096)

/// MkSysLimit returns a fresh Syslimit_t sized for the given process,
/// frame, and swap-chunk capacities.
func MkSysLimit(procs, frames, swapchunks int) *Syslimit_t {
	return &Syslimit_t{
		Sysprocs:   Sysatomic_t(procs),
		Frames:     Sysatomic_t(frames),
		Swapchunks: Sysatomic_t(swapchunks),
	}
}

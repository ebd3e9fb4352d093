// Package stats provides lightweight atomic counters gated by a
// compile-time flag, adapted from biscuit's own stats package, plus the
// three paging-engine counters original_source tracks
// (total_tlb_faults/total_page_faults/total_asyncpage_write) and the
// diagnostics export built on top of them.
package stats

import (
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unsafe"
)

// Stats gates whether counters actually accumulate; Timing gates cycle
// accounting. biscuit defaults both off; this package defaults Stats on
// since the paging engine's fault/eviction counters are load-bearing for
// the diagnostics dump, not merely optional instrumentation.
const Stats = true
const Timing = false

/// Counter_t is a statistical counter.
type Counter_t int64

/// Cycles_t holds an elapsed-time accumulator, in nanoseconds. biscuit
// measured this with runtime.Rdtsc(), a hook only its own forked Go
// runtime provides; this kernel has no forked runtime to lean on, so the
// cycle source is a plain wall-clock read instead (see Clock below).
type Cycles_t int64

/// Clock returns the current time in nanoseconds when Timing is enabled,
// the portable stand-in for biscuit's runtime.Rdtsc().
func Clock() uint64 {
	if Timing {
		return uint64(time.Now().UnixNano())
	}
	return 0
}

/// Inc increments the counter.
func (c *Counter_t) Inc() {
	if Stats {
		n := (*int64)(unsafe.Pointer(c))
		atomic.AddInt64(n, 1)
	}
}

/// Get reads the counter's current value.
func (c *Counter_t) Get() int64 {
	n := (*int64)(unsafe.Pointer(c))
	return atomic.LoadInt64(n)
}

/// Add adds elapsed nanoseconds to the counter.
func (c *Cycles_t) Add(since uint64) {
	if Timing {
		n := (*int64)(unsafe.Pointer(c))
		atomic.AddInt64(n, int64(Clock()-since))
	}
}

/// Stats2String converts a struct of counters to a printable string.
func Stats2String(st interface{}) string {
	if !Stats {
		return ""
	}
	v := reflect.ValueOf(st)
	s := ""
	for i := 0; i < v.NumField(); i++ {
		t := v.Field(i).Type().String()
		if strings.HasSuffix(t, "Counter_t") {
			n := v.Field(i).Interface().(Counter_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}
		if strings.HasSuffix(t, "Cycles_t") {
			n := v.Field(i).Interface().(Cycles_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}
	}
	return s + "\n"
}

/// Counters holds the paging engine's three free-running statistics,
// incremented at the same call sites original_source's vm.c increments
// total_tlb_faults, total_page_faults, and total_asyncpage_write.
type Counters struct {
	TLBFaults   Counter_t
	PageFaults  Counter_t
	AsyncWrites Counter_t
}

/// NewCounters returns a zeroed Counters.
func NewCounters() *Counters {
	return &Counters{}
}

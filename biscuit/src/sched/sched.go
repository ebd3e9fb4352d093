// Package sched implements the scheduler: a bounded run queue of
// runnable threads with three interchangeable selection policies
// (FIFO/RANDOM/MLFQ), grounded on original_source's
// kern/thread/scheduler.c. Per the redesign note, the three policies
// that original_source switches on inline are modeled as a tagged
// Policy with one pick_next operation per variant, rather than a single
// function with a three-way branch repeated at every call site.
package sched

import (
	"math/rand"
	"strconv"
	"sync"

	"circbuf"
	"defs"
)

/// Policy selects how Next chooses among the runnable threads.
type Policy int

const (
	FIFO Policy = iota
	RANDOM
	MLFQ
)

// mlfqResetPeriod is the number of Next() invocations after which every
// runnable thread's priority is reset to mlfqDefaultPriority, matching
// original_source's 2000-invocation anti-starvation reset.
const mlfqResetPeriod = 2000
const mlfqDefaultPriority = 50

/// Thread is the scheduler's view of a runnable thread: just enough to
// order the run queue, not a full thread control block (out of scope).
type Thread struct {
	Tid      defs.Tid_t
	Priority int
}

/// Scheduler holds the run queue and whatever bookkeeping its policy
// needs (MLFQ's invocation counter).
type Scheduler struct {
	mu     sync.Mutex
	policy Policy
	runq   *circbuf.Ring[*Thread]
	cycles int
	rng    *rand.Rand
}

/// New creates a Scheduler with the given run-queue capacity and policy.
// seed controls the deterministic random source RANDOM and MLFQ's
// tie-break use.
func New(capacity int, policy Policy, seed int64) *Scheduler {
	return &Scheduler{
		policy: policy,
		runq:   circbuf.NewRing[*Thread](capacity),
		rng:    rand.New(rand.NewSource(seed)),
	}
}

/// MakeRunnable implements make_runnable: enqueue t. ENOMEM if the run
// queue (sized at boot, like original_source's q_create(32)) is full.
func (s *Scheduler) MakeRunnable(t *Thread) defs.Err_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.runq.PushBack(t) {
		return defs.ENOMEM
	}
	return 0
}

/// Next implements the scheduler() dispatch loop: pick and dequeue the
// next thread to run per the configured policy. ok is false when the run
// queue is empty.
func (s *Scheduler) Next() (*Thread, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runq.Empty() {
		return nil, false
	}
	switch s.policy {
	case RANDOM:
		return s.nextRandom(), true
	case MLFQ:
		return s.nextMLFQ(), true
	default:
		t, _ := s.runq.PopFront()
		return t, true
	}
}

func (s *Scheduler) nextRandom() *Thread {
	i := s.rng.Intn(s.runq.Len())
	return s.runq.RemoveAt(i)
}

func (s *Scheduler) nextMLFQ() *Thread {
	s.cycles++
	if s.cycles >= mlfqResetPeriod {
		s.runq.Each(func(_ int, t *Thread) { t.Priority = mlfqDefaultPriority })
		s.cycles = 0
		t, _ := s.runq.PopFront()
		return t
	}

	best := 0
	s.runq.Each(func(i int, t *Thread) {
		if t.Priority > s.runq.PeekAt(best).Priority {
			best = i
			return
		}
		if t.Priority == s.runq.PeekAt(best).Priority && s.rng.Intn(3) == 0 {
			best = i
		}
	})
	return s.runq.RemoveAt(best)
}

/// Dump implements print_run_queue: a debug string listing every
// runnable thread in queue order.
func (s *Scheduler) Dump() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := "run queue:"
	s.runq.Each(func(_ int, t *Thread) {
		out += " " + strconv.Itoa(int(t.Tid)) + "(p=" + strconv.Itoa(t.Priority) + ")"
	})
	return out
}

package coremap

import "testing"

func TestAddFindRemove(t *testing.T) {
	c := New(4)
	idx, ok := c.AddPage(0x1000, 1, false)
	if !ok {
		t.Fatal("AddPage failed on empty coremap")
	}
	got, found := c.Find(0x1000, 1)
	if !found || got != idx {
		t.Fatalf("Find() = (%d, %v), want (%d, true)", got, found, idx)
	}
	c.RemovePage(idx)
	if _, found := c.Find(0x1000, 1); found {
		t.Fatal("Find() still reports removed page")
	}
}

// Bijection (spec property 1): every occupied frame maps a unique
// (vaddr, pid) pair, and Used() tracks exactly how many are occupied.
func TestBijection(t *testing.T) {
	c := New(4)
	seen := map[VAddr]bool{}
	for i := 0; i < 4; i++ {
		va := VAddr(0x1000 * (i + 1))
		idx, ok := c.AddPage(va, 1, false)
		if !ok {
			t.Fatalf("AddPage %d failed", i)
		}
		if seen[c.Frame(idx).Vaddr] {
			t.Fatalf("frame %d reused vaddr %v", idx, va)
		}
		seen[va] = true
	}
	if c.Used() != 4 {
		t.Fatalf("Used() = %d, want 4", c.Used())
	}
	if _, ok := c.AddPage(0x9999, 1, false); ok {
		t.Fatal("AddPage succeeded on a full coremap")
	}
}

// No-kernel-eviction (spec property 3): a coremap fully occupied by
// KERNEL frames has no eviction candidate, so ReplaceRandom panics rather
// than return one.
func TestNoKernelEviction(t *testing.T) {
	c := New(2)
	c.AddPage(0x1000, 0, true)
	c.AddPage(0x2000, 0, true)

	defer func() {
		if recover() == nil {
			t.Fatal("ReplaceRandom did not panic with only kernel frames present")
		}
	}()
	c.ReplaceRandom(func(n int) int { return 0 })
}

func TestReplaceLRUPicksOldest(t *testing.T) {
	c := New(3)
	i0, _ := c.AddPage(0x1000, 1, false)
	i1, _ := c.AddPage(0x2000, 1, false)
	i2, _ := c.AddPage(0x3000, 1, false)
	c.Touch(i1, Stamp{Sec: 5})
	c.Touch(i2, Stamp{Sec: 10})
	c.Touch(i0, Stamp{Sec: 1})

	victim := c.ReplaceLRU()
	if victim != i0 {
		t.Fatalf("ReplaceLRU() = %d, want %d (oldest atime)", victim, i0)
	}
}

func TestReplaceSkipsKernelFrames(t *testing.T) {
	c := New(3)
	c.AddPage(0x1000, 0, true)
	user, _ := c.AddPage(0x2000, 1, false)
	c.AddPage(0x3000, 0, true)

	for i := 0; i < 10; i++ {
		victim := c.ReplaceRandom(func(n int) int { return 0 })
		if victim != user {
			t.Fatalf("ReplaceRandom() chose %d, want the only non-kernel frame %d", victim, user)
		}
	}
}

func TestAddPageAtOccupiedPanics(t *testing.T) {
	c := New(2)
	idx, _ := c.AddPage(0x1000, 1, false)
	defer func() {
		if recover() == nil {
			t.Fatal("AddPageAt did not panic on an occupied frame")
		}
	}()
	c.AddPageAt(idx, 0x2000, 2, false)
}

func TestMarkDirtyOnlyFromClean(t *testing.T) {
	c := New(1)
	idx, _ := c.AddPage(0x1000, 1, true)
	c.MarkDirty(idx)
	if c.Frame(idx).Status != StatusKernel {
		t.Fatalf("MarkDirty changed a KERNEL frame's status to %v", c.Frame(idx).Status)
	}
}

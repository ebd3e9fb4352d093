package swap

import (
	"coremap"
	"defs"
	"testing"
)

func TestGetEmptyChunkFindRemove(t *testing.T) {
	s := New(4)
	idx, ok := s.GetEmptyChunk(0x1000, 1)
	if !ok {
		t.Fatal("GetEmptyChunk failed on empty swap area")
	}
	if got := s.Find(coremap.VAddr(0x1000), defs.Pid_t(1)); got != idx {
		t.Fatalf("Find() = %d, want %d", got, idx)
	}
	s.RemoveChunk(idx)
	if s.Used() != 0 {
		t.Fatalf("Used() = %d after RemoveChunk, want 0", s.Used())
	}
}

func TestSwapExhaustion(t *testing.T) {
	s := New(2)
	s.GetEmptyChunk(0x1000, 1)
	s.GetEmptyChunk(0x2000, 1)
	if _, ok := s.GetEmptyChunk(0x3000, 1); ok {
		t.Fatal("GetEmptyChunk succeeded past capacity")
	}
}

func TestFindMissPanics(t *testing.T) {
	s := New(2)
	defer func() {
		if recover() == nil {
			t.Fatal("Find did not panic on a miss")
		}
	}()
	s.Find(0xDEAD, 1)
}

func TestBytesRoundTrip(t *testing.T) {
	s := New(1)
	idx, _ := s.GetEmptyChunk(0x1000, 1)
	b := s.Bytes(idx)
	b[0] = 0xAB
	if s.Bytes(idx)[0] != 0xAB {
		t.Fatal("Bytes() did not return a view onto persistent chunk storage")
	}
}

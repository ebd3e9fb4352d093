package caller

import "testing"

func TestDistinctCallerFirstAndRepeat(t *testing.T) {
	dc := &Distinct_caller_t{Enabled: true}
	first, trace := dc.Distinct()
	if !first || trace == "" {
		t.Fatal("first call from a new path was not reported as distinct")
	}
	second, _ := dc.Distinct()
	if second {
		t.Fatal("repeated call from the same path was reported as distinct")
	}
}

func TestDistinctCallerDisabled(t *testing.T) {
	dc := &Distinct_caller_t{Enabled: false}
	if distinct, _ := dc.Distinct(); distinct {
		t.Fatal("Distinct() reported true while disabled")
	}
}

func TestPanicOnceAlwaysPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("PanicOnce did not panic")
		}
	}()
	PanicOnce("test invariant violation")
}

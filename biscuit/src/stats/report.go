package stats

import (
	"io"

	"github.com/google/pprof/profile"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Snapshot encodes the paging engine counters as a pprof profile, one
// sample per counter tagged with its name, so the counters can be
// inspected with any pprof-compatible viewer. This reuses biscuit's own
// pprof dependency for a purpose biscuit itself never put it to: biscuit
// imports pprof to symbolize CPU/heap profiles of the kernel build
// itself; here it symbolizes the paging engine's own activity.
func (c *Counters) Snapshot() *profile.Profile {
	faultsType := &profile.ValueType{Type: "faults", Unit: "count"}
	p := &profile.Profile{
		SampleType: []*profile.ValueType{faultsType},
		PeriodType: faultsType,
		Period:     1,
	}
	add := func(name string, v int64) {
		p.Sample = append(p.Sample, &profile.Sample{
			Value: []int64{v},
			Label: map[string][]string{"counter": {name}},
		})
	}
	add("tlb_faults", c.TLBFaults.Get())
	add("page_faults", c.PageFaults.Get())
	add("async_writes", c.AsyncWrites.Get())
	return p
}

// WriteProfile writes the counters as a gzip-compressed pprof profile,
// the same format biscuit's own profiling tooling consumes.
func (c *Counters) WriteProfile(w io.Writer) error {
	return c.Snapshot().Write(w)
}

// Report formats the counters for a human-readable diagnostics dump with
// locale-aware thousands separators, using biscuit's other retained
// third-party dependency (golang.org/x/text) for a concern biscuit itself
// never applied it to: number formatting rather than build tooling.
func (c *Counters) Report() string {
	p := message.NewPrinter(language.English)
	return p.Sprintf("tlb faults: %v, page faults: %v, async writes: %v\n",
		number.Decimal(c.TLBFaults.Get()),
		number.Decimal(c.PageFaults.Get()),
		number.Decimal(c.AsyncWrites.Get()))
}

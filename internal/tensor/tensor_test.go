package tensor

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/spikeraster/server/internal/data/events"
)

func mustTable(t *testing.T, times []float64, trials, neurons, factors []int) *events.Table {
	t.Helper()
	tbl, err := events.NewTable(times, trials, neurons, factors)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	return tbl
}

func mustBuild(t *testing.T, tbl *events.Table) *Tensor {
	t.Helper()
	tn, err := Build(events.NewAxisIndex(tbl), tbl)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return tn
}

func randomTable(t *testing.T, n int, seed int64) *events.Table {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	times := make([]float64, n)
	trials := make([]int, n)
	neurons := make([]int, n)
	factors := make([]int, n)
	for i := 0; i < n; i++ {
		times[i] = rng.Float64() * 10
		trials[i] = 3 + rng.Intn(20)*2 // sparse, not zero-based
		neurons[i] = 100 + rng.Intn(15)
		factors[i] = rng.Intn(4)
	}
	return mustTable(t, times, trials, neurons, factors)
}

func TestBuild_MinimalScenario(t *testing.T) {
	tbl := mustTable(t, []float64{0.1, 0.2, 0.3}, []int{0, 0, 1}, []int{5, 5, 5}, nil)
	axes := events.NewAxisIndex(tbl)

	if len(axes.NeuronIDs) != 1 || axes.NeuronIDs[0] != 5 {
		t.Fatalf("unexpected neuron ids: %v", axes.NeuronIDs)
	}
	if len(axes.TrialIDs) != 2 || axes.TrialIDs[0] != 0 || axes.TrialIDs[1] != 1 {
		t.Fatalf("unexpected trial ids: %v", axes.TrialIDs)
	}

	tn, err := Build(axes, tbl)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	c0, _ := tn.Cell(5, 0)
	if len(c0.Times) != 2 || c0.Times[0] != 0.1 || c0.Times[1] != 0.2 {
		t.Fatalf("unexpected cell [5][0]: %v", c0.Times)
	}
	c1, _ := tn.Cell(5, 1)
	if len(c1.Times) != 1 || c1.Times[0] != 0.3 {
		t.Fatalf("unexpected cell [5][1]: %v", c1.Times)
	}
	if c0.Factors[0] != 0 || c0.Factors[1] != 0 {
		t.Fatalf("expected default factors of 0, got %v", c0.Factors)
	}

	s, err := SliceOf(tn, ByNeuron, 5)
	if err != nil {
		t.Fatalf("SliceOf: %v", err)
	}
	if len(s) != 2 {
		t.Fatalf("expected 2 records, got %d", len(s))
	}
	if s[0].IndexID != 0 || len(s[0].SpikeTimesSec) != 2 {
		t.Fatalf("unexpected record 0: %+v", s[0])
	}
	if s[1].IndexID != 1 || len(s[1].SpikeTimesSec) != 1 {
		t.Fatalf("unexpected record 1: %+v", s[1])
	}
}

func TestBuild_DensityAndRouting(t *testing.T) {
	tbl := randomTable(t, 5000, 42)
	axes := events.NewAxisIndex(tbl)
	tn := mustBuild(t, tbl)

	if tn.NumCells() != len(axes.NeuronIDs)*len(axes.TrialIDs) {
		t.Fatalf("expected %d cells, got %d", len(axes.NeuronIDs)*len(axes.TrialIDs), tn.NumCells())
	}

	total := 0
	for _, n := range axes.NeuronIDs {
		for _, tr := range axes.TrialIDs {
			c, err := tn.Cell(n, tr)
			if err != nil {
				t.Fatalf("Cell(%d, %d): %v", n, tr, err)
			}
			if len(c.Times) != len(c.Factors) {
				t.Fatalf("cell (%d, %d) has %d times but %d factors", n, tr, len(c.Times), len(c.Factors))
			}
			total += len(c.Times)
		}
	}
	if total != tbl.Len() {
		t.Fatalf("expected %d routed spikes, got %d", tbl.Len(), total)
	}

	// Every event lands in its own cell with its factor at the same position.
	cursor := map[[2]int]int{}
	for i := 0; i < tbl.Len(); i++ {
		key := [2]int{tbl.NeuronIDs[i], tbl.TrialIDs[i]}
		c, _ := tn.Cell(key[0], key[1])
		pos := cursor[key]
		if c.Times[pos] != tbl.Times[i] || c.Factors[pos] != tbl.FactorIDs[i] {
			t.Fatalf("event %d misrouted: cell has (%v, %d) at %d, want (%v, %d)",
				i, c.Times[pos], c.Factors[pos], pos, tbl.Times[i], tbl.FactorIDs[i])
		}
		cursor[key] = pos + 1
	}
}

func TestBuild_Idempotent(t *testing.T) {
	tbl := randomTable(t, 2000, 7)
	a := mustBuild(t, tbl)
	b := mustBuild(t, tbl)

	for i := range a.cells {
		ca, cb := a.cells[i], b.cells[i]
		if len(ca.Times) != len(cb.Times) {
			t.Fatalf("cell %d length differs: %d vs %d", i, len(ca.Times), len(cb.Times))
		}
		for j := range ca.Times {
			if ca.Times[j] != cb.Times[j] || ca.Factors[j] != cb.Factors[j] {
				t.Fatalf("cell %d differs at %d", i, j)
			}
		}
	}
}

func TestBuild_OutOfRange(t *testing.T) {
	tbl := mustTable(t, []float64{0.1, 0.2}, []int{0, 1}, []int{1, 2}, nil)
	axes := events.NewAxisIndexFromIDs([]int{1}, []int{0, 1})

	_, err := Build(axes, tbl)
	if !errors.Is(err, ErrOutOfRangeIndex) {
		t.Fatalf("expected ErrOutOfRangeIndex, got %v", err)
	}
}

func TestBuild_Empty(t *testing.T) {
	tbl := mustTable(t, nil, nil, nil, nil)
	axes := events.NewAxisIndex(tbl)
	if !axes.Empty() {
		t.Fatalf("expected empty axes")
	}
	tn, err := Build(axes, tbl)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if tn.NumCells() != 0 || tn.NumSpikes() != 0 {
		t.Fatalf("expected empty tensor, got %d cells, %d spikes", tn.NumCells(), tn.NumSpikes())
	}
}

func TestSliceOf_Completeness(t *testing.T) {
	tbl := randomTable(t, 3000, 11)
	axes := events.NewAxisIndex(tbl)
	tn := mustBuild(t, tbl)

	for _, n := range axes.NeuronIDs {
		s, err := SliceOf(tn, ByNeuron, n)
		if err != nil {
			t.Fatalf("SliceOf(ByNeuron, %d): %v", n, err)
		}
		if len(s) != len(axes.TrialIDs) {
			t.Fatalf("neuron %d: expected %d records, got %d", n, len(axes.TrialIDs), len(s))
		}
		want := 0
		for _, id := range tbl.NeuronIDs {
			if id == n {
				want++
			}
		}
		if s.SpikeCount() != want {
			t.Fatalf("neuron %d: expected %d spikes, got %d", n, want, s.SpikeCount())
		}
	}

	tr := axes.TrialIDs[0]
	s, err := SliceOf(tn, ByTrial, tr)
	if err != nil {
		t.Fatalf("SliceOf(ByTrial, %d): %v", tr, err)
	}
	if len(s) != len(axes.NeuronIDs) {
		t.Fatalf("expected %d records, got %d", len(axes.NeuronIDs), len(s))
	}
	for i, rec := range s {
		if rec.IndexID != axes.NeuronIDs[i] {
			t.Fatalf("record %d has id %d, want %d", i, rec.IndexID, axes.NeuronIDs[i])
		}
	}
}

func TestSliceOf_UnknownSelection(t *testing.T) {
	tbl := mustTable(t, []float64{0.1}, []int{0}, []int{5}, nil)
	tn := mustBuild(t, tbl)

	if _, err := SliceOf(tn, ByNeuron, 6); !errors.Is(err, ErrUnknownSelection) {
		t.Fatalf("expected ErrUnknownSelection, got %v", err)
	}
	if _, err := SliceOf(tn, ByTrial, 1); !errors.Is(err, ErrUnknownSelection) {
		t.Fatalf("expected ErrUnknownSelection, got %v", err)
	}
}

func TestSlice_Sorted(t *testing.T) {
	s := Slice{{IndexID: 3}, {IndexID: 1}, {IndexID: 2}}
	sorted := s.Sorted()
	for i, want := range []int{1, 2, 3} {
		if sorted[i].IndexID != want {
			t.Fatalf("position %d: got %d, want %d", i, sorted[i].IndexID, want)
		}
	}
	if s[0].IndexID != 3 {
		t.Fatalf("Sorted should not modify the receiver")
	}
}

func TestParseAxis(t *testing.T) {
	for in, want := range map[string]Axis{
		"slicing_by_neuron": ByNeuron,
		"slicing_by_trial":  ByTrial,
		"trial":             ByTrial,
	} {
		got, err := ParseAxis(in)
		if err != nil || got != want {
			t.Fatalf("ParseAxis(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseAxis("sideways"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestPSTH(t *testing.T) {
	s := Slice{
		{IndexID: 0, SpikeTimesSec: []float64{0.05, 0.15, 0.95, 1.0, 2.0}},
		{IndexID: 1, SpikeTimesSec: []float64{0.0, 0.55}},
	}
	h, err := PSTH(s, events.Range{Start: 0, End: 1}, 0.5)
	if err != nil {
		t.Fatalf("PSTH: %v", err)
	}
	if len(h.Counts) != 2 {
		t.Fatalf("expected 2 bins, got %d", len(h.Counts))
	}
	// Bin 0: 0.05, 0.15, 0.0. Bin 1: 0.95, 1.0 (window end), 0.55.
	if h.Counts[0] != 3 || h.Counts[1] != 3 {
		t.Fatalf("unexpected counts: %v", h.Counts)
	}
	if h.Rates[0] != 3.0 {
		t.Fatalf("expected rate 3 spikes/s/record, got %v", h.Rates[0])
	}
}

func TestPSTH_InvalidBins(t *testing.T) {
	if _, err := PSTH(nil, events.Range{Start: 0, End: 1}, 0); err == nil {
		t.Fatalf("expected error for zero bin width")
	}
	if _, err := PSTH(nil, events.Range{Start: 0, End: 1e9}, 1e-3); err == nil {
		t.Fatalf("expected error for too many bins")
	}
	s := Slice{{IndexID: 0, SpikeTimesSec: []float64{5}}}
	if _, err := PSTH(s, events.Range{Start: 0, End: 10}, 1e-300); !errors.Is(err, ErrInvalidBinning) {
		t.Fatalf("expected ErrInvalidBinning for a bin count beyond int range, got %v", err)
	}
}

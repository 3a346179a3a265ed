package tensor

import (
	"fmt"
	"sort"
)

// Axis selects which dimension is held fixed while the other is enumerated.
type Axis int

const (
	// ByNeuron holds one neuron fixed and shows all its trials.
	ByNeuron Axis = iota
	// ByTrial holds one trial fixed and shows all neurons.
	ByTrial
)

// String returns the wire name of the axis.
func (a Axis) String() string {
	switch a {
	case ByNeuron:
		return "slicing_by_neuron"
	case ByTrial:
		return "slicing_by_trial"
	default:
		return fmt.Sprintf("Axis(%d)", int(a))
	}
}

// ParseAxis converts a wire name to an Axis.
func ParseAxis(s string) (Axis, error) {
	switch s {
	case "slicing_by_neuron", "neuron":
		return ByNeuron, nil
	case "slicing_by_trial", "trial":
		return ByTrial, nil
	default:
		return 0, fmt.Errorf("unknown slicing mode %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (a Axis) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Axis) UnmarshalText(b []byte) error {
	v, err := ParseAxis(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Record is one spike train of a slice. The slices alias tensor storage and
// must not be modified.
type Record struct {
	IndexID       int
	SpikeTimesSec []float64
	Factors       []int
}

// Slice holds one record per id on the axis opposite the slicing axis.
type Slice []Record

// SliceOf extracts the records for selectedID on axis. Records come out in
// axis order, ascending by IndexID.
func SliceOf(t *Tensor, axis Axis, selectedID int) (Slice, error) {
	axes := t.axes
	switch axis {
	case ByNeuron:
		n, ok := axes.NeuronOrdinal(selectedID)
		if !ok {
			return nil, fmt.Errorf("%w: neuron %d", ErrUnknownSelection, selectedID)
		}
		out := make(Slice, len(axes.TrialIDs))
		for i, trialID := range axes.TrialIDs {
			c := t.cellAt(n, i)
			out[i] = Record{IndexID: trialID, SpikeTimesSec: c.Times, Factors: c.Factors}
		}
		return out, nil
	case ByTrial:
		tr, ok := axes.TrialOrdinal(selectedID)
		if !ok {
			return nil, fmt.Errorf("%w: trial %d", ErrUnknownSelection, selectedID)
		}
		out := make(Slice, len(axes.NeuronIDs))
		for i, neuronID := range axes.NeuronIDs {
			c := t.cellAt(i, tr)
			out[i] = Record{IndexID: neuronID, SpikeTimesSec: c.Times, Factors: c.Factors}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: axis %v", ErrUnknownSelection, axis)
	}
}

// Sorted returns a copy of s stably sorted ascending by IndexID.
func (s Slice) Sorted() Slice {
	out := make(Slice, len(s))
	copy(out, s)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].IndexID < out[j].IndexID
	})
	return out
}

// SpikeCount returns the total number of spikes across all records.
func (s Slice) SpikeCount() int {
	n := 0
	for _, r := range s {
		n += len(r.SpikeTimesSec)
	}
	return n
}

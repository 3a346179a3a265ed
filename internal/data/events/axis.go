package events

import "sort"

// DistinctSorted returns the unique values of in, ascending.
func DistinctSorted(in []int) []int {
	seen := make(map[int]struct{}, 64)
	out := make([]int, 0, 64)
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// AxisIndex holds the sorted distinct ids of both axes plus reverse lookups
// from id to position. It is read-only once built.
type AxisIndex struct {
	NeuronIDs []int
	TrialIDs  []int

	neuronOrd map[int]int
	trialOrd  map[int]int
}

// NewAxisIndex derives the axis index from a table.
func NewAxisIndex(t *Table) *AxisIndex {
	return NewAxisIndexFromIDs(DistinctSorted(t.NeuronIDs), DistinctSorted(t.TrialIDs))
}

// NewAxisIndexFromIDs builds an index over already sorted distinct ids.
func NewAxisIndexFromIDs(neuronIDs, trialIDs []int) *AxisIndex {
	return &AxisIndex{
		NeuronIDs: neuronIDs,
		TrialIDs:  trialIDs,
		neuronOrd: ordinals(neuronIDs),
		trialOrd:  ordinals(trialIDs),
	}
}

func ordinals(ids []int) map[int]int {
	m := make(map[int]int, len(ids))
	for i, id := range ids {
		m[id] = i
	}
	return m
}

// NeuronOrdinal returns the position of a neuron id on its axis.
func (a *AxisIndex) NeuronOrdinal(id int) (int, bool) {
	i, ok := a.neuronOrd[id]
	return i, ok
}

// TrialOrdinal returns the position of a trial id on its axis.
func (a *AxisIndex) TrialOrdinal(id int) (int, bool) {
	i, ok := a.trialOrd[id]
	return i, ok
}

// HasNeuron reports whether id is on the neuron axis.
func (a *AxisIndex) HasNeuron(id int) bool {
	_, ok := a.neuronOrd[id]
	return ok
}

// HasTrial reports whether id is on the trial axis.
func (a *AxisIndex) HasTrial(id int) bool {
	_, ok := a.trialOrd[id]
	return ok
}

// Empty reports whether either axis has no ids.
func (a *AxisIndex) Empty() bool {
	return len(a.NeuronIDs) == 0 || len(a.TrialIDs) == 0
}

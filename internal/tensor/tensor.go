// Package tensor routes flat spike events into a dense (neuron, trial) grid
// and slices that grid along either axis.
package tensor

import (
	"errors"
	"fmt"

	"github.com/spikeraster/server/internal/data/events"
)

var (
	// ErrOutOfRangeIndex is returned when an id is not covered by the axes.
	ErrOutOfRangeIndex = errors.New("index out of range")
	// ErrUnknownSelection is returned when a selected id is not on the active axis.
	ErrUnknownSelection = errors.New("unknown selection")
)

// Cell holds the spikes of one (neuron, trial) pair. Times[i] pairs with
// Factors[i].
type Cell struct {
	Times   []float64
	Factors []int
}

// Tensor is a dense neuron × trial grid of cells addressed by axis ordinal.
// It is read-only once built.
type Tensor struct {
	axes   *events.AxisIndex
	cells  []Cell // row-major: neuron ordinal * nTrials + trial ordinal
	nTrial int
	spikes int
}

// Build allocates a cell for every pair on the axes and routes each event to
// its cell in table order.
func Build(axes *events.AxisIndex, table *events.Table) (*Tensor, error) {
	nNeuron := len(axes.NeuronIDs)
	nTrial := len(axes.TrialIDs)
	t := &Tensor{
		axes:   axes,
		cells:  make([]Cell, nNeuron*nTrial),
		nTrial: nTrial,
	}
	for i := range t.cells {
		t.cells[i] = Cell{Times: []float64{}, Factors: []int{}}
	}

	for i, time := range table.Times {
		c, err := t.Cell(table.NeuronIDs[i], table.TrialIDs[i])
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		c.Times = append(c.Times, time)
		c.Factors = append(c.Factors, table.Factor(i))
	}
	t.spikes = table.Len()
	return t, nil
}

// Axes returns the axis index the tensor was built over.
func (t *Tensor) Axes() *events.AxisIndex {
	return t.axes
}

// Cell returns the cell for a (neuron, trial) id pair.
func (t *Tensor) Cell(neuronID, trialID int) (*Cell, error) {
	n, ok := t.axes.NeuronOrdinal(neuronID)
	if !ok {
		return nil, fmt.Errorf("%w: neuron %d", ErrOutOfRangeIndex, neuronID)
	}
	tr, ok := t.axes.TrialOrdinal(trialID)
	if !ok {
		return nil, fmt.Errorf("%w: trial %d", ErrOutOfRangeIndex, trialID)
	}
	return &t.cells[n*t.nTrial+tr], nil
}

func (t *Tensor) cellAt(neuronOrd, trialOrd int) *Cell {
	return &t.cells[neuronOrd*t.nTrial+trialOrd]
}

// NumCells returns |neurons| × |trials|.
func (t *Tensor) NumCells() int {
	return len(t.cells)
}

// NumSpikes returns the number of events routed into the tensor.
func (t *Tensor) NumSpikes() int {
	return t.spikes
}

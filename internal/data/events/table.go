// Package events holds the flat spike event table and the structures derived
// directly from it (axis index, global time range).
package events

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	"github.com/minio/highwayhash"
)

// Error taxonomy shared by the loader and the render pipeline.
var (
	ErrInvalidPayloadShape = errors.New("invalid payload shape")
	ErrEmptyDataset        = errors.New("empty dataset")
)

// versionKey is the fixed HighwayHash key for table content hashes.
// Hashes only need to be stable within a process, not secret.
var versionKey = []byte("spikeraster-table-version-key-01")

// Table is an immutable column-wise view over the raw event arrays.
type Table struct {
	Times     []float64
	TrialIDs  []int
	NeuronIDs []int
	// FactorIDs is nil when the payload carries no factor column.
	FactorIDs []int

	version string
}

// NewTable wraps the columns after checking their lengths agree.
func NewTable(times []float64, trialIDs, neuronIDs, factorIDs []int) (*Table, error) {
	n := len(times)
	if len(trialIDs) != n || len(neuronIDs) != n {
		return nil, fmt.Errorf("%w: column lengths differ (spike_time=%d trial_idx=%d neuron_idx=%d)",
			ErrInvalidPayloadShape, n, len(trialIDs), len(neuronIDs))
	}
	if factorIDs != nil && len(factorIDs) != n {
		return nil, fmt.Errorf("%w: factor_idx has %d entries, expected %d",
			ErrInvalidPayloadShape, len(factorIDs), n)
	}
	t := &Table{
		Times:     times,
		TrialIDs:  trialIDs,
		NeuronIDs: neuronIDs,
		FactorIDs: factorIDs,
	}
	v, err := t.hash()
	if err != nil {
		return nil, err
	}
	t.version = v
	return t, nil
}

// Len returns the number of events.
func (t *Table) Len() int {
	return len(t.Times)
}

// Factor returns the factor id of event i, or 0 when there is no factor column.
func (t *Table) Factor(i int) int {
	if t.FactorIDs == nil {
		return 0
	}
	return t.FactorIDs[i]
}

// HasFactors reports whether the table carries a factor column.
func (t *Table) HasFactors() bool {
	return t.FactorIDs != nil
}

// Version identifies the table contents. Two tables with equal columns have
// equal versions.
func (t *Table) Version() string {
	return t.version
}

func (t *Table) hash() (string, error) {
	h, err := highwayhash.New64(versionKey)
	if err != nil {
		return "", fmt.Errorf("failed to create hash: %w", err)
	}

	var buf [8]byte
	writeInt := func(v int) {
		binary.LittleEndian.PutUint64(buf[:], uint64(int64(v)))
		h.Write(buf[:])
	}

	writeInt(len(t.Times))
	for _, v := range t.Times {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	for _, v := range t.TrialIDs {
		writeInt(v)
	}
	for _, v := range t.NeuronIDs {
		writeInt(v)
	}
	if t.FactorIDs != nil {
		h.Write([]byte{1})
		for _, v := range t.FactorIDs {
			writeInt(v)
		}
	} else {
		h.Write([]byte{0})
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Package service provides the staged raster pipeline behind the HTTP API:
// dataset snapshots, per-session selection state and memoized frames.
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spikeraster/server/internal/data/events"
	"github.com/spikeraster/server/internal/tensor"
)

// State is the render readiness of a dataset.
type State string

const (
	// StateUninitialized means no table has been loaded yet.
	StateUninitialized State = "uninitialized"
	// StateEmpty means the loaded table has no events.
	StateEmpty State = "empty"
	// StateReady means bounds and axes are known and frames can be painted.
	StateReady State = "ready"
)

// ErrNotLoaded is returned while a dataset has no table.
var ErrNotLoaded = errors.New("dataset not loaded")

// Dataset bundles a table with everything derived from it. It is immutable;
// replacing the table means building a new Dataset, so derived state can
// never outlive the table it came from.
type Dataset struct {
	ID        string
	Version   string
	Source    string
	Table     *events.Table
	Axes      *events.AxisIndex
	Tensor    *tensor.Tensor
	Base      *events.Range // nil for an empty table
	FactorIDs []int
	Layout    events.LayoutOpts
	LoadedAt  time.Time
}

// BuildDataset derives axes, range and tensor from a payload. ctx is checked
// between stages so a superseded load stops early.
func BuildDataset(ctx context.Context, id, source string, p *events.Payload) (*Dataset, error) {
	table, err := p.Table()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d := &Dataset{
		ID:       id,
		Version:  datasetVersion(table.Version(), p.Layout()),
		Source:   source,
		Table:    table,
		Axes:     events.NewAxisIndex(table),
		Layout:   p.Layout(),
		LoadedAt: time.Now(),
	}
	if table.HasFactors() {
		d.FactorIDs = events.DistinctSorted(table.FactorIDs)
	} else {
		d.FactorIDs = []int{0}
	}

	r, err := events.TimeRange(table.Times)
	switch {
	case errors.Is(err, events.ErrEmptyDataset):
		// no bounds; painting stays suspended
	case err != nil:
		return nil, err
	default:
		d.Base = &r
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.Tensor, err = tensor.Build(d.Axes, table)
	if err != nil {
		return nil, fmt.Errorf("failed to build spike tensor: %w", err)
	}
	return d, nil
}

// datasetVersion extends the table version with the layout flags, since they
// change the geometry of every frame.
func datasetVersion(tableVersion string, l events.LayoutOpts) string {
	var bits int
	for i, set := range []bool{l.HideToolbar, l.HideTimeAxis, l.UseYAxis} {
		if set {
			bits |= 1 << i
		}
	}
	return tableVersion + "-" + strconv.Itoa(bits)
}

// State reports whether the dataset can be painted.
func (d *Dataset) State() State {
	if d == nil {
		return StateUninitialized
	}
	if d.Base == nil || d.Axes.Empty() {
		return StateEmpty
	}
	return StateReady
}

// Metadata summarizes a dataset for clients.
type Metadata struct {
	DatasetID  string            `json:"dataset_id"`
	Version    string            `json:"version,omitempty"`
	State      State             `json:"state"`
	Source     string            `json:"source,omitempty"`
	NumEvents  int               `json:"num_events"`
	NeuronIDs  []int             `json:"distinctNeuronIds"`
	TrialIDs   []int             `json:"distinctTrialIds"`
	FactorIDs  []int             `json:"distinctFactorIds"`
	HasFactors bool              `json:"has_factors"`
	BaseRange  *events.Range     `json:"base_range,omitempty"`
	LayoutOpts events.LayoutOpts `json:"timeseriesLayoutOpts"`
	LoadedAt   *time.Time        `json:"loaded_at,omitempty"`
}

// Metadata returns the dataset summary.
func (d *Dataset) Metadata() Metadata {
	if d == nil {
		return Metadata{State: StateUninitialized, NeuronIDs: []int{}, TrialIDs: []int{}, FactorIDs: []int{}}
	}
	loaded := d.LoadedAt
	return Metadata{
		DatasetID:  d.ID,
		Version:    d.Version,
		State:      d.State(),
		Source:     d.Source,
		NumEvents:  d.Table.Len(),
		NeuronIDs:  d.Axes.NeuronIDs,
		TrialIDs:   d.Axes.TrialIDs,
		FactorIDs:  d.FactorIDs,
		HasFactors: d.Table.HasFactors(),
		BaseRange:  d.Base,
		LayoutOpts: d.Layout,
		LoadedAt:   &loaded,
	}
}

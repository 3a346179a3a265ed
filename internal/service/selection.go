package service

import (
	"errors"
	"fmt"
	"math"

	"github.com/spikeraster/server/internal/data/events"
	"github.com/spikeraster/server/internal/tensor"
)

// ColorMode selects how spike ticks are colored.
type ColorMode int

const (
	// ColorNone colors every tick of a panel with the panel color.
	ColorNone ColorMode = iota
	// ColorByFactor colors each tick by its factor id.
	ColorByFactor
)

func (m ColorMode) String() string {
	switch m {
	case ColorNone:
		return "none"
	case ColorByFactor:
		return "factor"
	default:
		return fmt.Sprintf("ColorMode(%d)", int(m))
	}
}

// ParseColorMode converts a wire name to a ColorMode.
func ParseColorMode(s string) (ColorMode, error) {
	switch s {
	case "none", "":
		return ColorNone, nil
	case "factor", "by_factor":
		return ColorByFactor, nil
	default:
		return 0, fmt.Errorf("unknown color mode %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m ColorMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *ColorMode) UnmarshalText(b []byte) error {
	v, err := ParseColorMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ErrInvalidViewport is returned for non-finite or reversed windows.
var ErrInvalidViewport = errors.New("invalid viewport")

// Viewport is the visible time window. Both ends are nil until initialized.
type Viewport struct {
	Start *float64 `json:"visibleTimeStartSeconds,omitempty"`
	End   *float64 `json:"visibleTimeEndSeconds,omitempty"`
}

// NewViewport returns a resolved viewport over [start, end]. The bounds must
// be finite and ordered.
func NewViewport(start, end float64) (Viewport, error) {
	if math.IsNaN(start) || math.IsNaN(end) || math.IsInf(start, 0) || math.IsInf(end, 0) {
		return Viewport{}, fmt.Errorf("%w: bounds must be finite: [%v, %v]", ErrInvalidViewport, start, end)
	}
	if start > end {
		return Viewport{}, fmt.Errorf("%w: start %v is after end %v", ErrInvalidViewport, start, end)
	}
	return Viewport{Start: &start, End: &end}, nil
}

// Resolved reports whether both ends are set.
func (v Viewport) Resolved() bool {
	return v.Start != nil && v.End != nil
}

// Range returns the window; only meaningful when Resolved.
func (v Viewport) Range() events.Range {
	if !v.Resolved() {
		return events.Range{}
	}
	return events.Range{Start: *v.Start, End: *v.End}
}

// Selection is an immutable snapshot of one controller's choices. The With
// methods return modified copies.
type Selection struct {
	Mode           tensor.Axis `json:"mode"`
	SelectedNeuron int         `json:"selectedNeuron"`
	SelectedTrial  int         `json:"selectedTrial"`
	ColorMode      ColorMode   `json:"colorMode"`
	Viewport       Viewport    `json:"viewport"`
	// Version is the table version the selection was made against.
	Version string `json:"version"`
}

// DefaultSelection selects the first id on each axis and the full time range.
func DefaultSelection(d *Dataset) Selection {
	sel := Selection{Mode: tensor.ByNeuron}
	if d == nil {
		return sel
	}
	sel.Version = d.Version
	if len(d.Axes.NeuronIDs) > 0 {
		sel.SelectedNeuron = d.Axes.NeuronIDs[0]
	}
	if len(d.Axes.TrialIDs) > 0 {
		sel.SelectedTrial = d.Axes.TrialIDs[0]
	}
	if d.Base != nil {
		sel.Viewport, _ = NewViewport(d.Base.Start, d.Base.End)
	}
	return sel
}

// WithMode returns a copy with the slicing mode changed.
func (s Selection) WithMode(a tensor.Axis) Selection {
	s.Mode = a
	return s
}

// WithNeuron returns a copy with the selected neuron changed.
func (s Selection) WithNeuron(id int) Selection {
	s.SelectedNeuron = id
	return s
}

// WithTrial returns a copy with the selected trial changed.
func (s Selection) WithTrial(id int) Selection {
	s.SelectedTrial = id
	return s
}

// WithColorMode returns a copy with the color mode changed.
func (s Selection) WithColorMode(m ColorMode) Selection {
	s.ColorMode = m
	return s
}

// WithViewport returns a copy with the visible window changed.
func (s Selection) WithViewport(v Viewport) Selection {
	s.Viewport = v
	return s
}

// SelectedID returns the selected id on the active axis.
func (s Selection) SelectedID() int {
	if s.Mode == tensor.ByTrial {
		return s.SelectedTrial
	}
	return s.SelectedNeuron
}

// Resolve adapts a selection to a dataset: a snapshot taken against another
// table version is reset to the defaults (keeping mode and color mode), ids no
// longer on their axis fall back to the first id, and an unset viewport takes
// the dataset's full range.
func (s Selection) Resolve(d *Dataset) Selection {
	if d == nil {
		return s
	}
	if s.Version != d.Version {
		def := DefaultSelection(d)
		def.Mode = s.Mode
		def.ColorMode = s.ColorMode
		return def
	}
	if !d.Axes.HasNeuron(s.SelectedNeuron) && len(d.Axes.NeuronIDs) > 0 {
		s.SelectedNeuron = d.Axes.NeuronIDs[0]
	}
	if !d.Axes.HasTrial(s.SelectedTrial) && len(d.Axes.TrialIDs) > 0 {
		s.SelectedTrial = d.Axes.TrialIDs[0]
	}
	if !s.Viewport.Resolved() && d.Base != nil {
		s.Viewport, _ = NewViewport(d.Base.Start, d.Base.End)
	}
	return s
}

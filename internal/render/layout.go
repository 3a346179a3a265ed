package render

import (
	"github.com/spikeraster/server/internal/data/events"
	"github.com/spikeraster/server/internal/tensor"
)

// Margins surround the panel area of a frame, in pixels.
type Margins struct {
	Left   float64 `json:"left"`
	Right  float64 `json:"right"`
	Top    float64 `json:"top"`
	Bottom float64 `json:"bottom"`
}

// MarginsFor derives frame margins from the payload layout flags.
func MarginsFor(opts events.LayoutOpts) Margins {
	m := Margins{Left: 30, Right: 20, Top: 20, Bottom: 50}
	if opts.UseYAxis {
		m.Left = 60
	}
	if opts.HideTimeAxis {
		m.Bottom = 20
	}
	return m
}

// DefaultToolbarWidth is the strip reserved left of the panels for the time
// navigation toolbar.
const DefaultToolbarWidth = 18.0

// ToolbarWidth returns the toolbar strip width, 0 when the payload hides it.
func ToolbarWidth(opts events.LayoutOpts) float64 {
	if opts.HideToolbar {
		return 0
	}
	return DefaultToolbarWidth
}

// Panel spacing per slicing mode: neuron panels are separated, trial rows touch.
const (
	NeuronPanelSpacing = 4.0
	TrialPanelSpacing  = 0.0
)

// PanelSpacing returns the vertical gap between panels for a slicing mode.
func PanelSpacing(axis tensor.Axis) float64 {
	if axis == tensor.ByTrial {
		return NeuronPanelSpacing
	}
	return TrialPanelSpacing
}

// PanelDimensions returns the drawable width of each panel and the height of
// each of count panels stacked with spacing inside a width × height frame.
func PanelDimensions(width, height float64, count int, spacing float64, m Margins) (panelWidth, panelHeight float64) {
	panelWidth = width - m.Left - m.Right
	if panelWidth < 0 {
		panelWidth = 0
	}
	if count <= 0 {
		return panelWidth, 0
	}
	avail := height - m.Top - m.Bottom - spacing*float64(count-1)
	if avail <= 0 {
		return panelWidth, 0
	}
	return panelWidth, avail / float64(count)
}

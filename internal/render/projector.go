package render

import (
	"errors"
	"math"
	"strconv"

	"github.com/spikeraster/server/internal/tensor"
	"github.com/spikeraster/server/pkg/colormap"
)

// ErrUnresolvedViewport is returned when the visible window is not yet known.
var ErrUnresolvedViewport = errors.New("viewport not initialized")

// PixelRecord is the drawable form of one slice record.
type PixelRecord struct {
	Key           string    `json:"key"`
	Color         string    `json:"color"`
	Height        float64   `json:"height"`
	PixelSpikes   []float64 `json:"pixelSpikes"`
	PerSpikeColor []string  `json:"perSpikeColor,omitempty"`
}

// PixelsPerSecond returns the horizontal scale for a panel of the given width
// showing [start, end]. Degenerate or non-finite windows yield 0, so every
// spike maps to the panel origin instead of NaN.
func PixelsPerSecond(panelWidth, start, end float64) float64 {
	span := end - start
	if !(span > 0) || math.IsInf(span, 0) || !(panelWidth > 0) || math.IsInf(panelWidth, 0) {
		return 0
	}
	return panelWidth / span
}

// TimeToPixel is the affine map pixel = PixelsPerSecond * (t - Origin).
type TimeToPixel struct {
	PixelsPerSecond float64
	Origin          float64
}

// NewTimeToPixel builds the map for a visible window starting at start.
func NewTimeToPixel(pixelsPerSecond, start float64) TimeToPixel {
	return TimeToPixel{PixelsPerSecond: pixelsPerSecond, Origin: start}
}

// Apply maps a time in seconds to a horizontal pixel.
func (m TimeToPixel) Apply(t float64) float64 {
	return m.PixelsPerSecond * (t - m.Origin)
}

// Matrix returns the 1×2 form [a, b] such that pixel = a*t + b.
func (m TimeToPixel) Matrix() [2]float64 {
	return [2]float64{m.PixelsPerSecond, -m.PixelsPerSecond * m.Origin}
}

// ProjectOptions carries everything a projection depends on besides the slice.
type ProjectOptions struct {
	VisibleStart *float64
	VisibleEnd   *float64
	TimeToPixel  TimeToPixel
	RecordHeight float64
	// ColorForIndex colors a whole record. Defaults to the unit palette.
	ColorForIndex func(id int) string
	// ColorForFactor is set when spikes are colored by factor.
	ColorForFactor func(factor int) string
}

// Project turns a slice into pixel records ordered by IndexID. Spikes outside
// the closed visible window are dropped, never clamped.
func Project(s tensor.Slice, opts ProjectOptions) ([]PixelRecord, error) {
	if opts.VisibleStart == nil || opts.VisibleEnd == nil {
		return nil, ErrUnresolvedViewport
	}
	start, end := *opts.VisibleStart, *opts.VisibleEnd
	colorFor := opts.ColorForIndex
	if colorFor == nil {
		colorFor = colormap.ForUnitID
	}

	sorted := s.Sorted()
	out := make([]PixelRecord, len(sorted))
	for i, rec := range sorted {
		pr := PixelRecord{
			Key:         strconv.Itoa(rec.IndexID),
			Color:       colorFor(rec.IndexID),
			Height:      opts.RecordHeight,
			PixelSpikes: make([]float64, 0, len(rec.SpikeTimesSec)),
		}
		if opts.ColorForFactor != nil {
			pr.PerSpikeColor = make([]string, 0, len(rec.SpikeTimesSec))
		}
		for j, t := range rec.SpikeTimesSec {
			if !(start <= t && t <= end) {
				continue
			}
			pr.PixelSpikes = append(pr.PixelSpikes, opts.TimeToPixel.Apply(t))
			if opts.ColorForFactor != nil {
				pr.PerSpikeColor = append(pr.PerSpikeColor, opts.ColorForFactor(rec.Factors[j]))
			}
		}
		out[i] = pr
	}
	return out, nil
}

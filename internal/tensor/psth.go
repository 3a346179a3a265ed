package tensor

import (
	"errors"
	"fmt"
	"math"

	"github.com/spikeraster/server/internal/data/events"
)

// ErrInvalidBinning is returned for unusable bin widths or windows.
var ErrInvalidBinning = errors.New("invalid histogram binning")

// MaxHistogramBins caps the number of bins a single histogram may allocate.
const MaxHistogramBins = 10000

// Histogram is a peri-stimulus time histogram over the records of a slice.
type Histogram struct {
	Start      float64   `json:"start"`
	BinSeconds float64   `json:"bin_seconds"`
	Counts     []int     `json:"counts"`
	Rates      []float64 `json:"rates"` // spikes per second per record
	Records    int       `json:"records"`
}

// PSTH bins the spikes of s falling in window into fixed-width bins. A spike
// on the window end is counted in the last bin.
func PSTH(s Slice, window events.Range, binSeconds float64) (*Histogram, error) {
	if !(binSeconds > 0) || math.IsInf(binSeconds, 0) {
		return nil, fmt.Errorf("%w: bin width %v", ErrInvalidBinning, binSeconds)
	}
	span := window.Span()
	if span < 0 || math.IsNaN(span) || math.IsInf(span, 0) {
		return nil, fmt.Errorf("%w: window %+v", ErrInvalidBinning, window)
	}

	ratio := math.Ceil(span / binSeconds)
	if ratio > MaxHistogramBins || math.IsNaN(ratio) {
		return nil, fmt.Errorf("%w: window %.6gs with %.6gs bins needs %.6g bins (max %d)",
			ErrInvalidBinning, span, binSeconds, ratio, MaxHistogramBins)
	}
	nBins := int(ratio)
	if nBins < 1 {
		nBins = 1
	}

	h := &Histogram{
		Start:      window.Start,
		BinSeconds: binSeconds,
		Counts:     make([]int, nBins),
		Rates:      make([]float64, nBins),
		Records:    len(s),
	}
	for _, rec := range s {
		for _, t := range rec.SpikeTimesSec {
			if !window.Contains(t) {
				continue
			}
			b := int((t - window.Start) / binSeconds)
			if b >= nBins {
				b = nBins - 1
			} else if b < 0 {
				b = 0
			}
			h.Counts[b]++
		}
	}
	if len(s) > 0 {
		denom := binSeconds * float64(len(s))
		for i, c := range h.Counts {
			h.Rates[i] = float64(c) / denom
		}
	}
	return h, nil
}

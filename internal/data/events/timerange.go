package events

import "math"

// Range is a closed time interval in seconds.
type Range struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Span returns End - Start.
func (r Range) Span() float64 {
	return r.End - r.Start
}

// Contains reports whether t lies in the closed interval.
func (r Range) Contains(t float64) bool {
	return r.Start <= t && t <= r.End
}

// TimeRange scans times once, tracking a running min/max. Non-finite entries
// are ignored; ErrEmptyDataset is returned when nothing remains.
func TimeRange(times []float64) (Range, error) {
	minT := math.Inf(1)
	maxT := math.Inf(-1)
	found := false
	for _, t := range times {
		if math.IsNaN(t) || math.IsInf(t, 0) {
			continue
		}
		if t < minT {
			minT = t
		}
		if t > maxT {
			maxT = t
		}
		found = true
	}
	if !found {
		return Range{}, ErrEmptyDataset
	}
	return Range{Start: minT, End: maxT}, nil
}

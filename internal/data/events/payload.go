package events

import (
	"encoding/json"
	"fmt"
	"math"
)

// LayoutOpts are the optional timeseries layout flags carried by a payload.
type LayoutOpts struct {
	HideToolbar  bool `json:"hideToolbar,omitempty"`
	HideTimeAxis bool `json:"hideTimeAxis,omitempty"`
	UseYAxis     bool `json:"useYAxis,omitempty"`
}

// Payload is the raw event blob handed over by a data source.
type Payload struct {
	SpikeTime  []float64   `json:"spike_time"`
	TrialIdx   IntColumn   `json:"trial_idx"`
	NeuronIdx  IntColumn   `json:"neuron_idx"`
	FactorIdx  IntColumn   `json:"factor_idx,omitempty"`
	LayoutOpts *LayoutOpts `json:"timeseriesLayoutOpts,omitempty"`
}

// requiredKeys are the payload fields that must be present.
var requiredKeys = []string{"spike_time", "trial_idx", "neuron_idx"}

// IntColumn decodes a JSON array of integers. Integral floats such as 3.0
// are accepted since numeric exporters often emit them.
type IntColumn []int

// UnmarshalJSON implements json.Unmarshaler.
func (c *IntColumn) UnmarshalJSON(data []byte) error {
	var raw []float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*c = nil
		return nil
	}
	out := make([]int, len(raw))
	for i, v := range raw {
		id, err := IntegralID(v)
		if err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = id
	}
	*c = out
	return nil
}

// IntegralID converts an integral float to an id. Fractions, non-finite
// values and magnitudes outside the int64 range are rejected.
func IntegralID(v float64) (int, error) {
	if v != math.Trunc(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %v is not an integer", ErrInvalidPayloadShape, v)
	}
	// -2^63 is exact in float64; 2^63 is the first value past MaxInt64.
	if v < math.MinInt64 || v >= -math.MinInt64 {
		return 0, fmt.Errorf("%w: id %v out of range", ErrInvalidPayloadShape, v)
	}
	return int(v), nil
}

// IsPayload reports whether raw is a JSON object carrying the required keys.
func IsPayload(raw []byte) bool {
	return ValidateShape(raw) == nil
}

// ValidateShape performs the structural check only: the required keys must be
// present. Column lengths are checked when the table is built.
func ValidateShape(raw []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayloadShape, err)
	}
	for _, key := range requiredKeys {
		if _, ok := obj[key]; !ok {
			return fmt.Errorf("%w: missing %q", ErrInvalidPayloadShape, key)
		}
	}
	return nil
}

// ParsePayload validates the shape of raw and decodes it.
func ParsePayload(raw []byte) (*Payload, error) {
	if err := ValidateShape(raw); err != nil {
		return nil, err
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayloadShape, err)
	}
	return &p, nil
}

// Table builds the event table from the payload columns.
func (p *Payload) Table() (*Table, error) {
	var factors []int
	if p.FactorIdx != nil {
		factors = []int(p.FactorIdx)
	}
	return NewTable(p.SpikeTime, []int(p.TrialIdx), []int(p.NeuronIdx), factors)
}

// Layout returns the layout options, or the zero value when absent.
func (p *Payload) Layout() LayoutOpts {
	if p.LayoutOpts == nil {
		return LayoutOpts{}
	}
	return *p.LayoutOpts
}

package loader

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/spikeraster/server/internal/data/events"
	"github.com/xuri/excelize/v2"
)

// Column headers of a tabular event file. Matching ignores case and
// surrounding whitespace.
const (
	colSpikeTime = "spike_time"
	colTrialIdx  = "trial_idx"
	colNeuronIdx = "neuron_idx"
	colFactorIdx = "factor_idx"
)

// loadCSV reads an event table with one event per row.
func loadCSV(path string, limit int64) (*events.Payload, error) {
	data, _, err := readFile(path, limit)
	if err != nil {
		return nil, err
	}
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: csv: %v", events.ErrInvalidPayloadShape, err)
	}
	return rowsToPayload(rows)
}

// loadXLSX reads an event table from the first sheet of a workbook.
func loadXLSX(path string) (*events.Payload, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: no sheets found in XLSX file", events.ErrInvalidPayloadShape)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, err
	}
	return rowsToPayload(rows)
}

// rowsToPayload converts a header row plus data rows into a payload. Blank
// rows are skipped.
func rowsToPayload(rows [][]string) (*events.Payload, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no header row", events.ErrInvalidPayloadShape)
	}
	cols := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, key := range []string{colSpikeTime, colTrialIdx, colNeuronIdx} {
		if _, ok := cols[key]; !ok {
			return nil, fmt.Errorf("%w: missing %q column", events.ErrInvalidPayloadShape, key)
		}
	}
	factorCol, hasFactor := cols[colFactorIdx]

	n := len(rows) - 1
	p := &events.Payload{
		SpikeTime: make([]float64, 0, n),
		TrialIdx:  make(events.IntColumn, 0, n),
		NeuronIdx: make(events.IntColumn, 0, n),
	}
	if hasFactor {
		p.FactorIdx = make(events.IntColumn, 0, n)
	}

	for r, row := range rows[1:] {
		if blankRow(row) {
			continue
		}
		line := r + 2
		t, err := strconv.ParseFloat(cell(row, cols[colSpikeTime]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: spike_time: %v", events.ErrInvalidPayloadShape, line, err)
		}
		trial, err := parseID(cell(row, cols[colTrialIdx]))
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: trial_idx: %v", events.ErrInvalidPayloadShape, line, err)
		}
		neuron, err := parseID(cell(row, cols[colNeuronIdx]))
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: neuron_idx: %v", events.ErrInvalidPayloadShape, line, err)
		}
		p.SpikeTime = append(p.SpikeTime, t)
		p.TrialIdx = append(p.TrialIdx, trial)
		p.NeuronIdx = append(p.NeuronIdx, neuron)

		if hasFactor {
			factor, err := parseID(cell(row, factorCol))
			if err != nil {
				return nil, fmt.Errorf("%w: row %d: factor_idx: %v", events.ErrInvalidPayloadShape, line, err)
			}
			p.FactorIdx = append(p.FactorIdx, factor)
		}
	}
	return p, nil
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func blankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// parseID accepts integers and integral floats such as "3.0".
func parseID(s string) (int, error) {
	if v, err := strconv.Atoi(s); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return events.IntegralID(f)
}

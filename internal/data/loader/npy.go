package loader

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/spikeraster/server/internal/data/events"
)

var npyMagic = []byte("\x93NUMPY")

var (
	npyDescrRe = regexp.MustCompile(`'descr'\s*:\s*'([<>|=])([fiub])(\d+)'`)
	npyShapeRe = regexp.MustCompile(`'shape'\s*:\s*\(([^)]*)\)`)
)

// npyArray is a decoded one-dimensional .npy array.
type npyArray struct {
	kind  byte // 'f', 'i', 'u' or 'b'
	size  int
	count int
	data  []byte
}

// parseNPY decodes a little-endian one-dimensional .npy file.
func parseNPY(raw []byte) (*npyArray, error) {
	if !bytes.HasPrefix(raw, npyMagic) || len(raw) < 10 {
		return nil, fmt.Errorf("not a .npy file")
	}
	major := raw[6]
	var headerLen, offset int
	switch major {
	case 1:
		headerLen = int(binary.LittleEndian.Uint16(raw[8:10]))
		offset = 10
	case 2, 3:
		if len(raw) < 12 {
			return nil, fmt.Errorf("truncated .npy header")
		}
		headerLen = int(binary.LittleEndian.Uint32(raw[8:12]))
		offset = 12
	default:
		return nil, fmt.Errorf("unsupported .npy version %d", major)
	}
	if offset+headerLen > len(raw) {
		return nil, fmt.Errorf("truncated .npy header")
	}
	header := string(raw[offset : offset+headerLen])
	body := raw[offset+headerLen:]

	m := npyDescrRe.FindStringSubmatch(header)
	if m == nil {
		return nil, fmt.Errorf("unsupported .npy dtype in header %q", strings.TrimSpace(header))
	}
	if m[1] == ">" {
		return nil, fmt.Errorf("big-endian .npy arrays are not supported")
	}
	size, _ := strconv.Atoi(m[3])
	a := &npyArray{kind: m[2][0], size: size}
	if !validNPYSize(a.kind, size) {
		return nil, fmt.Errorf("unsupported .npy dtype %s%s", m[2], m[3])
	}

	s := npyShapeRe.FindStringSubmatch(header)
	if s == nil {
		return nil, fmt.Errorf("missing .npy shape")
	}
	dims := strings.FieldsFunc(s[1], func(r rune) bool { return r == ',' || r == ' ' })
	switch len(dims) {
	case 0:
		a.count = 1
	case 1:
		n, err := strconv.Atoi(dims[0])
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: invalid .npy shape (%s)", events.ErrInvalidPayloadShape, s[1])
		}
		a.count = n
	default:
		return nil, fmt.Errorf("%w: expected a one-dimensional array, got shape (%s)", events.ErrInvalidPayloadShape, s[1])
	}

	// compare by division so a huge count cannot overflow count*size
	if a.count > len(body)/a.size {
		return nil, fmt.Errorf("%w: .npy body has %d bytes, shape needs %d elements of %d bytes",
			events.ErrInvalidPayloadShape, len(body), a.count, a.size)
	}
	a.data = body[:a.count*a.size]
	return a, nil
}

func validNPYSize(kind byte, size int) bool {
	switch kind {
	case 'f':
		return size == 4 || size == 8
	case 'b':
		return size == 1
	default:
		return size == 1 || size == 2 || size == 4 || size == 8
	}
}

func (a *npyArray) float(i int) float64 {
	b := a.data[i*a.size : (i+1)*a.size]
	switch {
	case a.kind == 'f' && a.size == 4:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case a.kind == 'f':
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	default:
		return float64(a.int(i))
	}
}

// uint64At reads element i of an unsigned 8-byte array without conversion.
func (a *npyArray) uint64At(i int) uint64 {
	return binary.LittleEndian.Uint64(a.data[i*a.size : (i+1)*a.size])
}

func (a *npyArray) int(i int) int64 {
	b := a.data[i*a.size : (i+1)*a.size]
	switch a.kind {
	case 'i':
		switch a.size {
		case 1:
			return int64(int8(b[0]))
		case 2:
			return int64(int16(binary.LittleEndian.Uint16(b)))
		case 4:
			return int64(int32(binary.LittleEndian.Uint32(b)))
		default:
			return int64(binary.LittleEndian.Uint64(b))
		}
	case 'u', 'b':
		switch a.size {
		case 1:
			return int64(b[0])
		case 2:
			return int64(binary.LittleEndian.Uint16(b))
		case 4:
			return int64(binary.LittleEndian.Uint32(b))
		default:
			return int64(binary.LittleEndian.Uint64(b))
		}
	default:
		return int64(a.float(i))
	}
}

// Floats returns the array as float64 values.
func (a *npyArray) Floats() []float64 {
	out := make([]float64, a.count)
	for i := range out {
		out[i] = a.float(i)
	}
	return out
}

// Ints returns the array as ints. Float arrays must hold integral values.
func (a *npyArray) Ints() ([]int, error) {
	out := make([]int, a.count)
	for i := range out {
		switch {
		case a.kind == 'f':
			id, err := events.IntegralID(a.float(i))
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = id
		case a.kind == 'u' && a.size == 8 && a.uint64At(i) > math.MaxInt64:
			return nil, fmt.Errorf("%w: element %d: id %d out of range",
				events.ErrInvalidPayloadShape, i, a.uint64At(i))
		default:
			out[i] = int(a.int(i))
		}
	}
	return out, nil
}

// Column file names of a .npy directory.
const (
	npySpikeTime = "spike_time.npy"
	npyTrialIdx  = "trial_idx.npy"
	npyNeuronIdx = "neuron_idx.npy"
	npyFactorIdx = "factor_idx.npy"
)

func readNPY(path string, limit int64) (*npyArray, error) {
	raw, _, err := readFile(path, limit)
	if err != nil {
		return nil, err
	}
	a, err := parseNPY(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return a, nil
}

// loadNPYDir reads one .npy file per column from dir. factor_idx.npy is
// optional.
func loadNPYDir(dir string, limit int64) (*events.Payload, error) {
	times, err := readNPY(filepath.Join(dir, npySpikeTime), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", events.ErrInvalidPayloadShape, err)
	}
	p := &events.Payload{SpikeTime: times.Floats()}

	for _, col := range []struct {
		name string
		dst  *events.IntColumn
	}{
		{npyTrialIdx, &p.TrialIdx},
		{npyNeuronIdx, &p.NeuronIdx},
	} {
		a, err := readNPY(filepath.Join(dir, col.name), limit)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", events.ErrInvalidPayloadShape, err)
		}
		ids, err := a.Ints()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", events.ErrInvalidPayloadShape, col.name, err)
		}
		*col.dst = ids
	}

	factorPath := filepath.Join(dir, npyFactorIdx)
	if _, err := os.Stat(factorPath); err == nil {
		a, err := readNPY(factorPath, limit)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", events.ErrInvalidPayloadShape, err)
		}
		ids, err := a.Ints()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", events.ErrInvalidPayloadShape, npyFactorIdx, err)
		}
		p.FactorIdx = ids
	}
	return p, nil
}

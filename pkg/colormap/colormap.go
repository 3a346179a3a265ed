// Package colormap provides color schemes for raster panels and spike factors.
package colormap

import (
	"fmt"
	"image/color"
	"sort"

	"github.com/lucasb-eyer/go-colorful"
)

// Colormap maps normalized values [0, 1] or integer indices to colors.
type Colormap interface {
	At(t float64) color.Color
	AtIndex(i int) color.Color
}

// LinearColormap is a linear interpolation colormap.
type LinearColormap struct {
	colors []color.RGBA
}

// At returns the color at position t (0-1).
func (c LinearColormap) At(t float64) color.Color {
	if t <= 0 {
		return c.colors[0]
	}
	if t >= 1 {
		return c.colors[len(c.colors)-1]
	}

	idx := t * float64(len(c.colors)-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= len(c.colors) {
		upper = len(c.colors) - 1
	}

	frac := idx - float64(lower)
	return interpolate(c.colors[lower], c.colors[upper], frac)
}

// AtIndex returns color at index i (wraps around, negative indices included).
func (c LinearColormap) AtIndex(i int) color.Color {
	return c.colors[wrap(i, len(c.colors))]
}

func interpolate(c1, c2 color.RGBA, t float64) color.RGBA {
	return color.RGBA{
		R: uint8(float64(c1.R) + t*(float64(c2.R)-float64(c1.R))),
		G: uint8(float64(c1.G) + t*(float64(c2.G)-float64(c1.G))),
		B: uint8(float64(c1.B) + t*(float64(c2.B)-float64(c1.B))),
		A: 255,
	}
}

func wrap(i, n int) int {
	i %= n
	if i < 0 {
		i += n
	}
	return i
}

// Viridis colormap (matplotlib viridis)
var Viridis = LinearColormap{
	colors: []color.RGBA{
		{68, 1, 84, 255},
		{72, 35, 116, 255},
		{64, 67, 135, 255},
		{52, 94, 141, 255},
		{41, 120, 142, 255},
		{32, 144, 140, 255},
		{34, 167, 132, 255},
		{68, 190, 112, 255},
		{121, 209, 81, 255},
		{189, 222, 38, 255},
		{253, 231, 37, 255},
	},
}

// Plasma colormap
var Plasma = LinearColormap{
	colors: []color.RGBA{
		{13, 8, 135, 255},
		{75, 3, 161, 255},
		{125, 3, 168, 255},
		{168, 34, 150, 255},
		{203, 70, 121, 255},
		{229, 107, 93, 255},
		{248, 148, 65, 255},
		{253, 195, 40, 255},
		{240, 249, 33, 255},
	},
}

// CategoricalColormap provides distinct colors for categories.
type CategoricalColormap struct {
	colors []color.RGBA
}

// At returns color at position t.
func (c CategoricalColormap) At(t float64) color.Color {
	idx := int(t * float64(len(c.colors)))
	if idx >= len(c.colors) {
		idx = len(c.colors) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return c.colors[idx]
}

// AtIndex returns color at index.
func (c CategoricalColormap) AtIndex(i int) color.Color {
	return c.colors[wrap(i, len(c.colors))]
}

// Len returns the palette size.
func (c CategoricalColormap) Len() int {
	return len(c.colors)
}

// Categorical colormap with 20 distinct colors. Adjacent indices alternate
// hue families so neighbouring panels never share a color.
var Categorical = CategoricalColormap{
	colors: []color.RGBA{
		{31, 119, 180, 255},  // Blue
		{255, 127, 14, 255},  // Orange
		{44, 160, 44, 255},   // Green
		{214, 39, 40, 255},   // Red
		{148, 103, 189, 255}, // Purple
		{140, 86, 75, 255},   // Brown
		{227, 119, 194, 255}, // Pink
		{127, 127, 127, 255}, // Gray
		{188, 189, 34, 255},  // Olive
		{23, 190, 207, 255},  // Cyan
		{174, 199, 232, 255}, // Light blue
		{255, 187, 120, 255}, // Light orange
		{152, 223, 138, 255}, // Light green
		{255, 152, 150, 255}, // Light red
		{197, 176, 213, 255}, // Light purple
		{196, 156, 148, 255}, // Light brown
		{247, 182, 210, 255}, // Light pink
		{199, 199, 199, 255}, // Light gray
		{219, 219, 141, 255}, // Light olive
		{158, 218, 229, 255}, // Light cyan
	},
}

var named = map[string]Colormap{
	"categorical": Categorical,
	"viridis":     Viridis,
	"plasma":      Plasma,
}

// Lookup returns the named colormap.
func Lookup(name string) (Colormap, bool) {
	c, ok := named[name]
	return c, ok
}

// Names returns the registered colormap names, sorted.
func Names() []string {
	out := make([]string, 0, len(named))
	for k := range named {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Hex formats c as "#rrggbb".
func Hex(c color.Color) string {
	cf, ok := colorful.MakeColor(c)
	if !ok {
		// fully transparent colors carry no hue
		return "#000000"
	}
	return cf.Hex()
}

// ForUnitID returns the panel color of a unit (neuron or trial) id.
func ForUnitID(id int) string {
	return Hex(Categorical.AtIndex(id))
}

// FactorPalette resolves factor ids to colors. Categorical maps index
// directly; linear maps spread the known factors across [0, 1].
type FactorPalette struct {
	cmap    Colormap
	ordinal map[int]int
	n       int
	linear  bool
}

// NewFactorPalette builds a palette over the sorted distinct factor ids.
func NewFactorPalette(name string, factorIDs []int) (*FactorPalette, error) {
	cmap, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown colormap %q", name)
	}
	_, isLinear := cmap.(LinearColormap)
	p := &FactorPalette{
		cmap:    cmap,
		ordinal: make(map[int]int, len(factorIDs)),
		n:       len(factorIDs),
		linear:  isLinear,
	}
	for i, id := range factorIDs {
		p.ordinal[id] = i
	}
	return p, nil
}

// Color returns the hex color of a factor id.
func (p *FactorPalette) Color(factorID int) string {
	if !p.linear {
		return Hex(p.cmap.AtIndex(factorID))
	}
	ord, ok := p.ordinal[factorID]
	if !ok || p.n <= 1 {
		return Hex(p.cmap.At(0))
	}
	return Hex(p.cmap.At(float64(ord) / float64(p.n-1)))
}

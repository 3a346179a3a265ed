package render

// Surface is the immediate-mode drawing subset the painter needs.
// *gg.Context satisfies it.
type Surface interface {
	SetHexColor(hex string)
	SetLineWidth(w float64)
	MoveTo(x, y float64)
	LineTo(x, y float64)
	Stroke()
}

// Default tick geometry.
const (
	DefaultTickWidth = 3.0
	DefaultOverdraw  = 2.0
)

// Painter draws spike ticks for a single panel.
type Painter struct {
	TickWidth float64
	// Overdraw extends each tick past the panel edges so stacked panels touch.
	Overdraw float64
}

// NewPainter returns a painter with the default geometry.
func NewPainter() Painter {
	return Painter{TickWidth: DefaultTickWidth, Overdraw: DefaultOverdraw}
}

// Paint strokes one vertical tick per pixel spike in panel-local
// coordinates. Ticks share a single path unless per-spike colors are set.
func (p Painter) Paint(s Surface, rec PixelRecord) {
	if len(rec.PixelSpikes) == 0 {
		return
	}
	top := -p.Overdraw
	bottom := rec.Height + p.Overdraw
	s.SetLineWidth(p.TickWidth)

	if len(rec.PerSpikeColor) == len(rec.PixelSpikes) {
		for i, x := range rec.PixelSpikes {
			s.SetHexColor(rec.PerSpikeColor[i])
			s.MoveTo(x, top)
			s.LineTo(x, bottom)
			s.Stroke()
		}
		return
	}

	s.SetHexColor(rec.Color)
	for _, x := range rec.PixelSpikes {
		s.MoveTo(x, top)
		s.LineTo(x, bottom)
	}
	s.Stroke()
}

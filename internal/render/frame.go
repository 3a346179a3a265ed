// Package render projects spike slices into pixel space and paints raster
// frames using fogleman/gg.
package render

import (
	"bytes"
	"fmt"
	"image/color"
	"image/png"
	"math"
	"strconv"
	"sync"

	"github.com/fogleman/gg"
	"github.com/spikeraster/server/internal/data/events"
)

// Config contains renderer configuration.
type Config struct {
	Width     int
	Height    int
	TickWidth float64
}

// Panel is one positioned record of a frame.
type Panel struct {
	Key   string      `json:"key"`
	Label string      `json:"label"`
	Props PixelRecord `json:"props"`
}

// Frame is the full set of drawing instructions for one visible window.
type Frame struct {
	Width                   int               `json:"width"`
	Height                  int               `json:"height"`
	ToolbarWidth            float64           `json:"toolbarWidth"`
	Margins                 Margins           `json:"margins"`
	PanelSpacing            float64           `json:"panelSpacing"`
	PanelWidth              float64           `json:"panelWidth"`
	VisibleTimeStartSeconds float64           `json:"visibleTimeStartSeconds"`
	VisibleTimeEndSeconds   float64           `json:"visibleTimeEndSeconds"`
	LayoutOpts              events.LayoutOpts `json:"timeseriesLayoutOpts"`
	Panels                  []Panel           `json:"panels"`
}

// PanelsFrom wraps pixel records as frame panels, labelled by their key.
func PanelsFrom(records []PixelRecord) []Panel {
	out := make([]Panel, len(records))
	for i, r := range records {
		out[i] = Panel{Key: r.Key, Label: r.Key, Props: r}
	}
	return out
}

// FrameRenderer paints frames to PNG.
type FrameRenderer struct {
	config     Config
	painter    Painter
	pools      sync.Map // [2]int -> *sync.Pool of *gg.Context
	bufferPool sync.Pool
}

// NewFrameRenderer creates a new frame renderer.
func NewFrameRenderer(cfg Config) *FrameRenderer {
	p := NewPainter()
	if cfg.TickWidth > 0 {
		p.TickWidth = cfg.TickWidth
	}
	return &FrameRenderer{
		config:  cfg,
		painter: p,
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 64*1024))
			},
		},
	}
}

// Config returns the renderer configuration.
func (r *FrameRenderer) Config() Config {
	return r.config
}

// Painter returns the tick painter used for panels.
func (r *FrameRenderer) Painter() Painter {
	return r.painter
}

func (r *FrameRenderer) context(w, h int) (*gg.Context, func()) {
	key := [2]int{w, h}
	v, _ := r.pools.LoadOrStore(key, &sync.Pool{
		New: func() interface{} {
			return gg.NewContext(w, h)
		},
	})
	pool := v.(*sync.Pool)
	dc := pool.Get().(*gg.Context)
	return dc, func() {
		dc.Identity()
		pool.Put(dc)
	}
}

// RenderPNG paints every panel of f and the time axis.
func (r *FrameRenderer) RenderPNG(f *Frame) ([]byte, error) {
	if f.Width <= 0 || f.Height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", f.Width, f.Height)
	}
	dc, release := r.context(f.Width, f.Height)
	defer release()

	dc.SetColor(color.White)
	dc.Clear()

	left := f.ToolbarWidth + f.Margins.Left
	y := f.Margins.Top
	for _, p := range f.Panels {
		dc.Push()
		dc.Translate(left, y)
		r.painter.Paint(dc, p.Props)
		dc.Pop()

		if p.Props.Height >= 8 {
			dc.SetHexColor("#333333")
			dc.DrawStringAnchored(p.Label, left-4, y+p.Props.Height/2, 1, 0.5)
		}
		y += p.Props.Height + f.PanelSpacing
	}

	if !f.LayoutOpts.HideTimeAxis {
		r.drawTimeAxis(dc, f)
	}

	return r.encodeContext(dc)
}

func (r *FrameRenderer) drawTimeAxis(dc *gg.Context, f *Frame) {
	axisY := float64(f.Height) - f.Margins.Bottom + 4
	left := f.ToolbarWidth + f.Margins.Left
	right := left + f.PanelWidth

	dc.SetHexColor("#555555")
	dc.SetLineWidth(1)
	dc.DrawLine(left, axisY, right, axisY)
	dc.Stroke()

	start, end := f.VisibleTimeStartSeconds, f.VisibleTimeEndSeconds
	m := NewTimeToPixel(PixelsPerSecond(f.PanelWidth, start, end), start)
	if m.PixelsPerSecond == 0 {
		return
	}
	step := niceStep(end-start, 6)
	first := math.Ceil(start/step) * step
	// step below the float spacing at first would never advance t
	if !(step > 0) || first+step == first {
		return
	}
	for i := 0; i < maxTimeTicks; i++ {
		t := first + float64(i)*step
		if t > end {
			break
		}
		x := left + m.Apply(t)
		dc.DrawLine(x, axisY, x, axisY+5)
		dc.Stroke()
		dc.DrawStringAnchored(formatTick(t, step), x, axisY+8, 0.5, 1)
	}
}

// maxTimeTicks bounds the ticks drawn on one time axis.
const maxTimeTicks = 100

// niceStep picks a 1/2/5 × 10^k step giving roughly target ticks over span.
func niceStep(span float64, target int) float64 {
	raw := span / float64(target)
	mag := math.Pow(10, math.Floor(math.Log10(raw)))
	switch norm := raw / mag; {
	case norm < 1.5:
		return mag
	case norm < 3.5:
		return 2 * mag
	case norm < 7.5:
		return 5 * mag
	default:
		return 10 * mag
	}
}

func formatTick(t, step float64) string {
	decimals := 0
	if step < 1 {
		decimals = int(math.Ceil(-math.Log10(step)))
	}
	return strconv.FormatFloat(t, 'f', decimals, 64)
}

// RenderMessage paints a blank frame with a centered status message, used
// while a dataset is loading or has no data.
func (r *FrameRenderer) RenderMessage(w, h int, msg string) ([]byte, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", w, h)
	}
	dc, release := r.context(w, h)
	defer release()

	dc.SetColor(color.White)
	dc.Clear()
	dc.SetHexColor("#777777")
	dc.DrawStringAnchored(msg, float64(w)/2, float64(h)/2, 0.5, 0.5)
	return r.encodeContext(dc)
}

func (r *FrameRenderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	// Use fast PNG encoder
	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

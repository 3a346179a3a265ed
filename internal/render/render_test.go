package render

import (
	"bytes"
	"errors"
	"image/png"
	"math"
	"testing"
	"time"

	"github.com/spikeraster/server/internal/tensor"
)

func f64(v float64) *float64 { return &v }

// recordingSurface captures draw calls for assertions.
type recordingSurface struct {
	colors  []string
	widths  []float64
	moves   [][2]float64
	lines   [][2]float64
	strokes int
}

func (s *recordingSurface) SetHexColor(hex string) { s.colors = append(s.colors, hex) }
func (s *recordingSurface) SetLineWidth(w float64) { s.widths = append(s.widths, w) }
func (s *recordingSurface) MoveTo(x, y float64) { s.moves = append(s.moves, [2]float64{x, y}) }
func (s *recordingSurface) LineTo(x, y float64) { s.lines = append(s.lines, [2]float64{x, y}) }
func (s *recordingSurface) Stroke() { s.strokes++ }

func TestPixelsPerSecond(t *testing.T) {
	if got := PixelsPerSecond(500, 2, 7); got != 100 {
		t.Fatalf("expected 100 px/s, got %v", got)
	}
	for _, tc := range [][3]float64{
		{500, 3, 3},
		{500, 5, 1},
		{0, 0, 1},
		{500, math.Inf(-1), 1},
		{500, math.NaN(), 1},
	} {
		got := PixelsPerSecond(tc[0], tc[1], tc[2])
		if got != 0 {
			t.Fatalf("PixelsPerSecond(%v) = %v, want 0", tc, got)
		}
	}
}

func TestTimeToPixel_Affine(t *testing.T) {
	m := NewTimeToPixel(100, 2.0)
	if got := m.Apply(2.5); got != 50.0 {
		t.Fatalf("expected 2.5s to map to 50px, got %v", got)
	}
	mat := m.Matrix()
	if mat[0]*2.5+mat[1] != 50.0 {
		t.Fatalf("matrix form disagrees: %v", mat)
	}
	if m.Apply(2.5) != NewTimeToPixel(100, 2.0).Apply(2.5) {
		t.Fatalf("transform should be pure")
	}
}

func TestProject_FiltersToWindow(t *testing.T) {
	s := tensor.Slice{{IndexID: 7, SpikeTimesSec: []float64{1.0, 2.5, 4.0}, Factors: []int{0, 1, 2}}}
	recs, err := Project(s, ProjectOptions{
		VisibleStart: f64(2.0),
		VisibleEnd:   f64(3.0),
		TimeToPixel:  NewTimeToPixel(100, 2.0),
		RecordHeight: 12,
	})
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	r := recs[0]
	if len(r.PixelSpikes) != 1 || r.PixelSpikes[0] != 50 {
		t.Fatalf("expected single spike at 50px, got %v", r.PixelSpikes)
	}
	if r.PerSpikeColor != nil {
		t.Fatalf("per-spike colors should be omitted without a factor color function")
	}
	if r.Key != "7" || r.Height != 12 || r.Color == "" {
		t.Fatalf("unexpected record: %+v", r)
	}
}

func TestProject_ClosedInterval(t *testing.T) {
	s := tensor.Slice{{IndexID: 0, SpikeTimesSec: []float64{2.0, 3.0, math.NaN()}, Factors: []int{0, 0, 0}}}
	recs, err := Project(s, ProjectOptions{
		VisibleStart: f64(2.0),
		VisibleEnd:   f64(3.0),
		TimeToPixel:  NewTimeToPixel(10, 2.0),
	})
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if got := recs[0].PixelSpikes; len(got) != 2 || got[0] != 0 || got[1] != 10 {
		t.Fatalf("expected window endpoints to be kept, got %v", got)
	}
}

func TestProject_SortsAndColors(t *testing.T) {
	s := tensor.Slice{
		{IndexID: 9, SpikeTimesSec: []float64{0.5, 1.5}, Factors: []int{1, 2}},
		{IndexID: 2, SpikeTimesSec: []float64{0.2}, Factors: []int{3}},
	}
	colorForFactor := func(f int) string { return []string{"#000000", "#111111", "#222222", "#333333"}[f] }
	recs, err := Project(s, ProjectOptions{
		VisibleStart:   f64(0),
		VisibleEnd:     f64(1),
		TimeToPixel:    NewTimeToPixel(100, 0),
		ColorForIndex:  func(id int) string { return "id" },
		ColorForFactor: colorForFactor,
	})
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if recs[0].Key != "2" || recs[1].Key != "9" {
		t.Fatalf("records should be ordered by id, got %s, %s", recs[0].Key, recs[1].Key)
	}
	if len(recs[1].PixelSpikes) != len(recs[1].PerSpikeColor) {
		t.Fatalf("per-spike colors misaligned: %v vs %v", recs[1].PixelSpikes, recs[1].PerSpikeColor)
	}
	if recs[1].PerSpikeColor[0] != "#111111" {
		t.Fatalf("expected factor 1 color for surviving spike, got %s", recs[1].PerSpikeColor[0])
	}
	if recs[0].Color != "id" {
		t.Fatalf("expected injected index color, got %s", recs[0].Color)
	}
}

func TestProject_OffsetWindowKeepsFactorColorsAligned(t *testing.T) {
	s := tensor.Slice{
		{IndexID: 0, SpikeTimesSec: []float64{1.0, 2.5, 2.75, 4.0}, Factors: []int{0, 1, 2, 3}},
	}
	palette := []string{"#000000", "#111111", "#222222", "#333333"}
	recs, err := Project(s, ProjectOptions{
		VisibleStart:   f64(2),
		VisibleEnd:     f64(3),
		TimeToPixel:    NewTimeToPixel(100, 2),
		ColorForFactor: func(f int) string { return palette[f] },
	})
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	got := recs[0]
	if len(got.PixelSpikes) != 2 || got.PixelSpikes[0] != 50 || got.PixelSpikes[1] != 75 {
		t.Fatalf("unexpected pixels %v", got.PixelSpikes)
	}
	if len(got.PerSpikeColor) != 2 || got.PerSpikeColor[0] != "#111111" || got.PerSpikeColor[1] != "#222222" {
		t.Fatalf("per-spike colors not aligned with surviving spikes: %v", got.PerSpikeColor)
	}
}

func TestProject_UnresolvedViewport(t *testing.T) {
	_, err := Project(tensor.Slice{}, ProjectOptions{VisibleStart: f64(0)})
	if !errors.Is(err, ErrUnresolvedViewport) {
		t.Fatalf("expected ErrUnresolvedViewport, got %v", err)
	}
}

func TestPainter_Batched(t *testing.T) {
	s := &recordingSurface{}
	NewPainter().Paint(s, PixelRecord{Color: "#ff0000", Height: 10, PixelSpikes: []float64{1, 5, 9}})

	if s.strokes != 1 {
		t.Fatalf("expected a single batched stroke, got %d", s.strokes)
	}
	if len(s.colors) != 1 || s.colors[0] != "#ff0000" {
		t.Fatalf("unexpected colors: %v", s.colors)
	}
	if len(s.moves) != 3 || s.moves[1] != [2]float64{5, -2} || s.lines[1] != [2]float64{5, 12} {
		t.Fatalf("unexpected tick geometry: moves=%v lines=%v", s.moves, s.lines)
	}
	if s.widths[0] != DefaultTickWidth {
		t.Fatalf("unexpected tick width: %v", s.widths)
	}
}

func TestPainter_PerSpikeColor(t *testing.T) {
	s := &recordingSurface{}
	NewPainter().Paint(s, PixelRecord{
		Color:         "#ff0000",
		Height:        10,
		PixelSpikes:   []float64{1, 5},
		PerSpikeColor: []string{"#00ff00", "#0000ff"},
	})
	if s.strokes != 2 {
		t.Fatalf("expected one stroke per tick, got %d", s.strokes)
	}
	if s.colors[0] != "#00ff00" || s.colors[1] != "#0000ff" {
		t.Fatalf("unexpected colors: %v", s.colors)
	}
}

func TestPainter_Empty(t *testing.T) {
	s := &recordingSurface{}
	NewPainter().Paint(s, PixelRecord{Height: 10})
	if s.strokes != 0 || len(s.moves) != 0 {
		t.Fatalf("expected no draw calls for an empty record")
	}
}

func TestPanelDimensions(t *testing.T) {
	m := Margins{Left: 30, Right: 20, Top: 20, Bottom: 50}
	w, h := PanelDimensions(550, 470, 4, 4, m)
	if w != 500 {
		t.Fatalf("expected panel width 500, got %v", w)
	}
	// 470 - 70 = 400 available, minus 3 gaps of 4 = 388 over 4 panels
	if h != 97 {
		t.Fatalf("expected panel height 97, got %v", h)
	}
	if _, h := PanelDimensions(550, 470, 0, 4, m); h != 0 {
		t.Fatalf("expected zero height with no panels, got %v", h)
	}
}

func TestFrameRenderer_RenderPNG(t *testing.T) {
	r := NewFrameRenderer(Config{Width: 200, Height: 120})
	f := &Frame{
		Width:                   200,
		Height:                  120,
		Margins:                 Margins{Left: 30, Right: 20, Top: 20, Bottom: 50},
		PanelWidth:              150,
		VisibleTimeStartSeconds: 0,
		VisibleTimeEndSeconds:   1.5,
		Panels: PanelsFrom([]PixelRecord{
			{Key: "0", Color: "#1f77b4", Height: 25, PixelSpikes: []float64{10, 75, 140}},
			{Key: "1", Color: "#ff7f0e", Height: 25, PixelSpikes: []float64{50}},
		}),
	}
	data, err := r.RenderPNG(f)
	if err != nil {
		t.Fatalf("RenderPNG: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not a PNG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 200 || b.Dy() != 120 {
		t.Fatalf("unexpected image size: %v", b)
	}

	// Tick at x=30+75 inside the first panel is drawn in the panel color.
	cr, cg, cb, _ := img.At(105, 30).RGBA()
	if cr>>8 != 0x1f || cg>>8 != 0x77 || cb>>8 != 0xb4 {
		t.Fatalf("expected panel color at tick, got %02x%02x%02x", cr>>8, cg>>8, cb>>8)
	}

	if _, err := r.RenderPNG(&Frame{}); err == nil {
		t.Fatalf("expected error for zero-size frame")
	}
}

func TestFrameRenderer_NarrowWindowAtLargeTime(t *testing.T) {
	r := NewFrameRenderer(Config{Width: 200, Height: 120})
	f := &Frame{
		Width:                   200,
		Height:                  120,
		Margins:                 Margins{Left: 30, Right: 20, Top: 20, Bottom: 50},
		PanelWidth:              150,
		VisibleTimeStartSeconds: 1e6,
		VisibleTimeEndSeconds:   math.Nextafter(1e6, math.Inf(1)),
	}
	done := make(chan error, 1)
	go func() {
		_, err := r.RenderPNG(f)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RenderPNG: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("RenderPNG did not return for a sub-ulp tick step")
	}
}

func TestFrameRenderer_RenderMessage(t *testing.T) {
	r := NewFrameRenderer(Config{})
	data, err := r.RenderMessage(100, 40, "Loading...")
	if err != nil {
		t.Fatalf("RenderMessage: %v", err)
	}
	if _, err := png.Decode(bytes.NewReader(data)); err != nil {
		t.Fatalf("output is not a PNG: %v", err)
	}
}

func TestNiceStep(t *testing.T) {
	for _, tc := range []struct {
		span float64
		want float64
	}{
		{6, 1},
		{12, 2},
		{30, 5},
		{0.6, 0.1},
	} {
		if got := niceStep(tc.span, 6); math.Abs(got-tc.want) > 1e-12 {
			t.Fatalf("niceStep(%v) = %v, want %v", tc.span, got, tc.want)
		}
	}
}

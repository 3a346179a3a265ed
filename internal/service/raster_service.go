package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"

	"github.com/spikeraster/server/internal/cache"
	"github.com/spikeraster/server/internal/data/events"
	"github.com/spikeraster/server/internal/render"
	"github.com/spikeraster/server/internal/tensor"
	"github.com/spikeraster/server/pkg/colormap"
)

// Status messages painted instead of a raster.
const (
	MessageLoading = "Loading..."
	MessageNoData  = "No data"
)

// RasterServiceConfig contains raster service configuration.
type RasterServiceConfig struct {
	DatasetID      string
	Cache          *cache.Manager
	Renderer       *render.FrameRenderer
	FactorColormap string
	MemoSize       int
	MaxSessions    int
}

// RasterService serves frames for one dataset. The current dataset snapshot
// is swapped atomically; every derived value is keyed by table version.
type RasterService struct {
	datasetID      string
	cache          *cache.Manager
	renderer       *render.FrameRenderer
	factorColormap string

	current atomic.Pointer[snapshot]

	slices      *cache.Memo[tensor.Slice]
	projections *cache.Memo[[]render.PixelRecord]
	sessions    *SessionStore
}

type snapshot struct {
	dataset *Dataset
	palette *colormap.FactorPalette
}

// NewRasterService creates a raster service with no dataset loaded.
func NewRasterService(cfg RasterServiceConfig) (*RasterService, error) {
	datasetID := cfg.DatasetID
	if datasetID == "" {
		datasetID = "default"
	}
	if cfg.FactorColormap == "" {
		cfg.FactorColormap = "categorical"
	}
	if _, ok := colormap.Lookup(cfg.FactorColormap); !ok {
		return nil, fmt.Errorf("unknown factor colormap %q (available: %s)",
			cfg.FactorColormap, strings.Join(colormap.Names(), ", "))
	}
	if cfg.Renderer == nil {
		cfg.Renderer = render.NewFrameRenderer(render.Config{Width: 800, Height: 600})
	}

	slices, err := cache.NewMemo[tensor.Slice](cfg.MemoSize)
	if err != nil {
		return nil, err
	}
	projections, err := cache.NewMemo[[]render.PixelRecord](cfg.MemoSize)
	if err != nil {
		return nil, err
	}
	sessions, err := NewSessionStore(cfg.MaxSessions)
	if err != nil {
		return nil, err
	}

	return &RasterService{
		datasetID:      datasetID,
		cache:          cfg.Cache,
		renderer:       cfg.Renderer,
		factorColormap: cfg.FactorColormap,
		slices:         slices,
		projections:    projections,
		sessions:       sessions,
	}, nil
}

// DatasetID returns the id this service serves.
func (s *RasterService) DatasetID() string {
	return s.datasetID
}

// DefaultFrameSize returns the configured frame size in pixels.
func (s *RasterService) DefaultFrameSize() (width, height int) {
	cfg := s.renderer.Config()
	width, height = cfg.Width, cfg.Height
	if width <= 0 {
		width = 800
	}
	if height <= 0 {
		height = 600
	}
	return width, height
}

// Swap installs a new dataset snapshot and drops everything derived from the
// previous one.
func (s *RasterService) Swap(d *Dataset) error {
	next := &snapshot{dataset: d}
	if d != nil {
		p, err := colormap.NewFactorPalette(s.factorColormap, d.FactorIDs)
		if err != nil {
			return err
		}
		next.palette = p
	}

	prev := s.current.Swap(next)
	if prev != nil && prev.dataset != nil && (d == nil || prev.dataset.Version != d.Version) {
		v := prev.dataset.Version
		n := s.slices.PurgeVersion(v) + s.projections.PurgeVersion(v)
		if s.cache != nil {
			n += s.cache.PurgeVersion(v)
		}
		log.Printf("[Raster] dataset=%s dropped %d derived entries of version %s", s.datasetID, n, v)
	}
	if d != nil {
		log.Printf("[Raster] dataset=%s version=%s state=%s events=%d neurons=%d trials=%d",
			s.datasetID, d.Version, d.State(), d.Table.Len(), len(d.Axes.NeuronIDs), len(d.Axes.TrialIDs))
	}
	return nil
}

func (s *RasterService) load() *snapshot {
	if snap := s.current.Load(); snap != nil {
		return snap
	}
	return &snapshot{}
}

// Dataset returns the current dataset snapshot, or nil before the first load.
func (s *RasterService) Dataset() *Dataset {
	return s.load().dataset
}

// State reports the render readiness of the current dataset.
func (s *RasterService) State() State {
	return s.load().dataset.State()
}

// Metadata returns the summary of the current dataset.
func (s *RasterService) Metadata() Metadata {
	md := s.load().dataset.Metadata()
	md.DatasetID = s.datasetID
	return md
}

// Sessions returns the session store.
func (s *RasterService) Sessions() *SessionStore {
	return s.sessions
}

// NewSession opens a session initialized to the dataset defaults.
func (s *RasterService) NewSession() (string, Selection) {
	sel := DefaultSelection(s.Dataset())
	return s.sessions.Create(sel), sel
}

// Selection returns a session's selection resolved against the current
// dataset. A session created against an older table is reset here.
func (s *RasterService) Selection(sessionID string) (Selection, error) {
	d := s.Dataset()
	return s.sessions.Update(sessionID, func(sel Selection) (Selection, error) {
		return sel.Resolve(d), nil
	})
}

// SetMode changes the slicing axis of a session.
func (s *RasterService) SetMode(sessionID string, a tensor.Axis) (Selection, error) {
	d := s.Dataset()
	return s.sessions.Update(sessionID, func(sel Selection) (Selection, error) {
		return sel.Resolve(d).WithMode(a), nil
	})
}

// SetSelectedNeuron changes the selected neuron. Ids outside the neuron axis
// are rejected and leave the selection unchanged.
func (s *RasterService) SetSelectedNeuron(sessionID string, id int) (Selection, error) {
	d := s.Dataset()
	return s.sessions.Update(sessionID, func(sel Selection) (Selection, error) {
		if d == nil || !d.Axes.HasNeuron(id) {
			return sel, fmt.Errorf("neuron %d: %w", id, tensor.ErrUnknownSelection)
		}
		return sel.Resolve(d).WithNeuron(id), nil
	})
}

// SetSelectedTrial changes the selected trial. Ids outside the trial axis are
// rejected and leave the selection unchanged.
func (s *RasterService) SetSelectedTrial(sessionID string, id int) (Selection, error) {
	d := s.Dataset()
	return s.sessions.Update(sessionID, func(sel Selection) (Selection, error) {
		if d == nil || !d.Axes.HasTrial(id) {
			return sel, fmt.Errorf("trial %d: %w", id, tensor.ErrUnknownSelection)
		}
		return sel.Resolve(d).WithTrial(id), nil
	})
}

// SetColorMode changes how ticks are colored.
func (s *RasterService) SetColorMode(sessionID string, m ColorMode) (Selection, error) {
	d := s.Dataset()
	return s.sessions.Update(sessionID, func(sel Selection) (Selection, error) {
		return sel.Resolve(d).WithColorMode(m), nil
	})
}

// SetViewport changes the visible time window.
func (s *RasterService) SetViewport(sessionID string, v Viewport) (Selection, error) {
	if !v.Resolved() {
		return Selection{}, render.ErrUnresolvedViewport
	}
	if _, err := NewViewport(*v.Start, *v.End); err != nil {
		return Selection{}, err
	}
	d := s.Dataset()
	return s.sessions.Update(sessionID, func(sel Selection) (Selection, error) {
		return sel.Resolve(d).WithViewport(v), nil
	})
}

// Slice returns the memoized slice for an axis and id of the current dataset.
func (s *RasterService) Slice(axis tensor.Axis, selectedID int) (tensor.Slice, error) {
	d := s.Dataset()
	if d == nil {
		return nil, ErrNotLoaded
	}
	return s.sliceOf(d, axis, selectedID)
}

func (s *RasterService) sliceOf(d *Dataset, axis tensor.Axis, selectedID int) (tensor.Slice, error) {
	key := cache.SliceKey(d.Version, axis.String(), selectedID)
	if sl, ok := s.slices.Get(key); ok {
		return sl, nil
	}
	sl, err := tensor.SliceOf(d.Tensor, axis, selectedID)
	if err != nil {
		return nil, err
	}
	s.slices.Add(key, sl)
	return sl, nil
}

// Frame runs one render pass for sel against the current dataset and returns
// the positioned panels of a width × height frame.
func (s *RasterService) Frame(sel Selection, width, height int) (*render.Frame, error) {
	snap := s.load()
	f, _, err := s.frame(snap, sel, width, height)
	return f, err
}

func (s *RasterService) frame(snap *snapshot, sel Selection, width, height int) (*render.Frame, string, error) {
	d := snap.dataset
	if d == nil {
		return nil, "", ErrNotLoaded
	}
	if d.State() != StateReady {
		return nil, "", events.ErrEmptyDataset
	}
	if width <= 0 || height <= 0 {
		return nil, "", fmt.Errorf("invalid frame size %dx%d", width, height)
	}

	sel = sel.Resolve(d)
	if !sel.Viewport.Resolved() {
		return nil, "", render.ErrUnresolvedViewport
	}
	window := sel.Viewport.Range()

	sliceKey := cache.SliceKey(d.Version, sel.Mode.String(), sel.SelectedID())
	sl, err := s.sliceOf(d, sel.Mode, sel.SelectedID())
	if err != nil {
		return nil, "", err
	}

	margins := render.MarginsFor(d.Layout)
	spacing := render.PanelSpacing(sel.Mode)
	toolbar := render.ToolbarWidth(d.Layout)
	panelWidth, panelHeight := render.PanelDimensions(float64(width)-toolbar, float64(height), len(sl), spacing, margins)

	projKey := cache.ProjectionKey(sliceKey, window.Start, window.End, panelWidth, panelHeight, sel.ColorMode.String())
	records, ok := s.projections.Get(projKey)
	if !ok {
		opts := render.ProjectOptions{
			VisibleStart: sel.Viewport.Start,
			VisibleEnd:   sel.Viewport.End,
			TimeToPixel: render.NewTimeToPixel(
				render.PixelsPerSecond(panelWidth, window.Start, window.End), window.Start),
			RecordHeight: panelHeight,
		}
		if sel.ColorMode == ColorByFactor && snap.palette != nil {
			opts.ColorForFactor = snap.palette.Color
		}
		records, err = render.Project(sl, opts)
		if err != nil {
			return nil, "", err
		}
		s.projections.Add(projKey, records)
	}

	return &render.Frame{
		Width:                   width,
		Height:                  height,
		ToolbarWidth:            toolbar,
		Margins:                 margins,
		PanelSpacing:            spacing,
		PanelWidth:              panelWidth,
		VisibleTimeStartSeconds: window.Start,
		VisibleTimeEndSeconds:   window.End,
		LayoutOpts:              d.Layout,
		Panels:                  render.PanelsFrom(records),
	}, cache.FrameKey(projKey, width, height), nil
}

// FramePNG paints a frame for sel. Before the first load and for an empty
// dataset a status message is painted instead of failing.
func (s *RasterService) FramePNG(sel Selection, width, height int) ([]byte, error) {
	snap := s.load()
	f, key, err := s.frame(snap, sel, width, height)
	switch {
	case errors.Is(err, ErrNotLoaded):
		return s.renderer.RenderMessage(width, height, MessageLoading)
	case errors.Is(err, events.ErrEmptyDataset):
		return s.renderer.RenderMessage(width, height, MessageNoData)
	case err != nil:
		return nil, err
	}

	if s.cache != nil {
		if data, ok := s.cache.GetFrame(key); ok {
			return data, nil
		}
	}
	data, err := s.renderer.RenderPNG(f)
	if err != nil {
		return nil, fmt.Errorf("failed to render frame: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.SetFrame(key, data); err != nil {
			log.Printf("[Raster] dataset=%s frame cache set failed: %v", s.datasetID, err)
		}
	}
	return data, nil
}

// PSTH bins the slice selected by sel over its visible window.
func (s *RasterService) PSTH(sel Selection, binSeconds float64) (*tensor.Histogram, error) {
	d := s.Dataset()
	if d == nil {
		return nil, ErrNotLoaded
	}
	if d.State() != StateReady {
		return nil, events.ErrEmptyDataset
	}
	sel = sel.Resolve(d)
	if !sel.Viewport.Resolved() {
		return nil, render.ErrUnresolvedViewport
	}
	window := sel.Viewport.Range()
	key := cache.PSTHKey(cache.SliceKey(d.Version, sel.Mode.String(), sel.SelectedID()), window.Start, window.End, binSeconds)
	if s.cache != nil {
		if data, ok := s.cache.GetQuery(key); ok {
			var h tensor.Histogram
			if err := json.Unmarshal(data, &h); err == nil {
				return &h, nil
			}
		}
	}

	sl, err := s.sliceOf(d, sel.Mode, sel.SelectedID())
	if err != nil {
		return nil, err
	}
	h, err := tensor.PSTH(sl, window, binSeconds)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if data, err := json.Marshal(h); err == nil {
			s.cache.SetQuery(key, data)
		}
	}
	return h, nil
}

// FactorLegendItem is one entry of the factor legend.
type FactorLegendItem struct {
	FactorID   int    `json:"factor_id"`
	Color      string `json:"color"`
	SpikeCount int    `json:"spike_count"`
}

// FactorLegend returns the distinct factor ids with their palette colors and
// spike counts.
func (s *RasterService) FactorLegend() ([]FactorLegendItem, error) {
	snap := s.load()
	d := snap.dataset
	if d == nil {
		return nil, ErrNotLoaded
	}

	counts := make(map[int]int, len(d.FactorIDs))
	for i := 0; i < d.Table.Len(); i++ {
		counts[d.Table.Factor(i)]++
	}
	out := make([]FactorLegendItem, len(d.FactorIDs))
	for i, id := range d.FactorIDs {
		out[i] = FactorLegendItem{
			FactorID:   id,
			Color:      snap.palette.Color(id),
			SpikeCount: counts[id],
		}
	}
	return out, nil
}

// Stats reports the size of the current table and of the derived-state
// caches.
func (s *RasterService) Stats() map[string]interface{} {
	stats := map[string]interface{}{
		"dataset_id":  s.datasetID,
		"state":       s.State(),
		"sessions":    s.sessions.Len(),
		"slices":      s.slices.Len(),
		"projections": s.projections.Len(),
	}
	if d := s.Dataset(); d != nil {
		stats["version"] = d.Version
		stats["num_events"] = d.Table.Len()
		stats["num_cells"] = d.Tensor.NumCells()
	}
	if s.cache != nil {
		stats["cache"] = s.cache.Stats()
	}
	return stats
}

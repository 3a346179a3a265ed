// Command rasterctl renders a spike raster frame from a payload file without
// running the server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/spikeraster/server/internal/data/loader"
	"github.com/spikeraster/server/internal/render"
	"github.com/spikeraster/server/internal/service"
	"github.com/spikeraster/server/internal/tensor"
)

func main() {
	format := flag.String("format", "auto", "Payload format: auto, json, npy, csv, xlsx")
	mode := flag.String("mode", "slicing_by_neuron", "Slicing mode: slicing_by_neuron or slicing_by_trial")
	id := flag.String("id", "", "Selected neuron or trial id (default: first id)")
	start := flag.String("start", "", "Visible window start in seconds (default: first spike)")
	end := flag.String("end", "", "Visible window end in seconds (default: last spike)")
	width := flag.Int("width", 800, "Frame width in pixels")
	height := flag.Int("height", 600, "Frame height in pixels")
	color := flag.String("color", "none", "Color mode: none or factor")
	out := flag.String("out", "raster.png", "Output PNG path")
	asJSON := flag.Bool("json", false, "Print the frame layout as JSON instead of painting")
	info := flag.Bool("info", false, "Print dataset metadata and exit")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: rasterctl [flags] <payload.json|dir|events.csv|events.xlsx>")
		flag.PrintDefaults()
		os.Exit(1)
	}
	path := args[0]

	f, err := loader.ParseFormat(*format)
	if err != nil {
		log.Fatalf("invalid -format: %v", err)
	}
	ctx := context.Background()
	p, err := loader.Load(ctx, path, loader.Options{Format: f})
	if err != nil {
		log.Fatalf("failed to load %q: %v", path, err)
	}
	d, err := service.BuildDataset(ctx, "cli", path, p)
	if err != nil {
		log.Fatalf("failed to build dataset: %v", err)
	}

	if *info {
		printJSON(d.Metadata())
		return
	}

	svc, err := service.NewRasterService(service.RasterServiceConfig{
		DatasetID: "cli",
		Renderer:  render.NewFrameRenderer(render.Config{Width: *width, Height: *height}),
	})
	if err != nil {
		log.Fatalf("failed to create raster service: %v", err)
	}
	if err := svc.Swap(d); err != nil {
		log.Fatalf("failed to install dataset: %v", err)
	}

	sel, err := selectionFromFlags(d, *mode, *id, *start, *end, *color)
	if err != nil {
		log.Fatal(err)
	}

	if *asJSON {
		frame, err := svc.Frame(sel, *width, *height)
		if err != nil {
			log.Fatalf("failed to lay out frame: %v", err)
		}
		printJSON(frame)
		return
	}

	data, err := svc.FramePNG(sel, *width, *height)
	if err != nil {
		log.Fatalf("failed to render frame: %v", err)
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		log.Fatalf("failed to write %s: %v", *out, err)
	}
	log.Printf("wrote %s (%d bytes, %s=%d)", *out, len(data), sel.Mode, sel.SelectedID())
}

// selectionFromFlags starts from the dataset defaults and applies whatever
// the flags override.
func selectionFromFlags(d *service.Dataset, mode, id, start, end, color string) (service.Selection, error) {
	sel := service.DefaultSelection(d)

	axis, err := tensor.ParseAxis(mode)
	if err != nil {
		return sel, fmt.Errorf("invalid -mode: %w", err)
	}
	sel = sel.WithMode(axis)

	if id != "" {
		n, err := strconv.Atoi(id)
		if err != nil {
			return sel, fmt.Errorf("invalid -id %q: %w", id, err)
		}
		if axis == tensor.ByTrial {
			if !d.Axes.HasTrial(n) {
				return sel, fmt.Errorf("%w: trial %d", tensor.ErrUnknownSelection, n)
			}
			sel = sel.WithTrial(n)
		} else {
			if !d.Axes.HasNeuron(n) {
				return sel, fmt.Errorf("%w: neuron %d", tensor.ErrUnknownSelection, n)
			}
			sel = sel.WithNeuron(n)
		}
	}

	cm, err := service.ParseColorMode(color)
	if err != nil {
		return sel, fmt.Errorf("invalid -color: %w", err)
	}
	sel = sel.WithColorMode(cm)

	if start != "" || end != "" {
		window := sel.Viewport.Range()
		lo, hi := window.Start, window.End
		if start != "" {
			if lo, err = strconv.ParseFloat(start, 64); err != nil {
				return sel, fmt.Errorf("invalid -start %q: %w", start, err)
			}
		}
		if end != "" {
			if hi, err = strconv.ParseFloat(end, 64); err != nil {
				return sel, fmt.Errorf("invalid -end %q: %w", end, err)
			}
		}
		v, err := service.NewViewport(lo, hi)
		if err != nil {
			return sel, err
		}
		sel = sel.WithViewport(v)
	}
	return sel, nil
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("failed to encode output: %v", err)
	}
}

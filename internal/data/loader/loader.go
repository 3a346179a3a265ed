// Package loader reads spike event payloads from disk. JSON payloads may be
// gzip, xz or zstd compressed; column directories of .npy files and CSV or
// XLSX tables are accepted as well.
package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spikeraster/server/internal/data/events"
)

// Format is the on-disk layout of a payload.
type Format string

const (
	FormatAuto Format = ""
	FormatJSON Format = "json"
	FormatNPY  Format = "npy"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat validates a configured format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatAuto, FormatJSON, FormatNPY, FormatCSV, FormatXLSX:
		return f, nil
	case "auto":
		return FormatAuto, nil
	default:
		return "", fmt.Errorf("unknown payload format %q", s)
	}
}

// Options control how a payload is read.
type Options struct {
	Format Format
	// MaxBytes caps the decompressed size of a single file. Zero means no cap.
	MaxBytes int64
}

// DetectFormat guesses the format of path: directories hold .npy columns,
// otherwise the extension decides after any compression suffix is stripped.
func DetectFormat(path string) (Format, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return FormatNPY, nil
	}
	name := strings.ToLower(filepath.Base(path))
	for _, suffix := range []string{".gz", ".xz", ".zst"} {
		name = strings.TrimSuffix(name, suffix)
	}
	switch filepath.Ext(name) {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	default:
		return FormatJSON, nil
	}
}

// Load reads the payload at path.
func Load(ctx context.Context, path string, opts Options) (*events.Payload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	format := opts.Format
	if format == FormatAuto {
		f, err := DetectFormat(path)
		if err != nil {
			return nil, err
		}
		format = f
	}

	var (
		p   *events.Payload
		err error
	)
	switch format {
	case FormatJSON:
		p, err = loadJSON(path, opts.MaxBytes)
	case FormatNPY:
		p, err = loadNPYDir(path, opts.MaxBytes)
	case FormatCSV:
		p, err = loadCSV(path, opts.MaxBytes)
	case FormatXLSX:
		p, err = loadXLSX(path)
	default:
		return nil, fmt.Errorf("unsupported payload format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s payload %s: %w", format, path, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

func loadJSON(path string, limit int64) (*events.Payload, error) {
	data, _, err := readFile(path, limit)
	if err != nil {
		return nil, err
	}
	return events.ParsePayload(data)
}

package loader

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Compression is the compression format of a payload file.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionXZ
	CompressionZstd
)

func (c Compression) String() string {
	switch c {
	case CompressionGzip:
		return "gzip"
	case CompressionXZ:
		return "xz"
	case CompressionZstd:
		return "zstd"
	default:
		return "none"
	}
}

// Magic byte signatures
var (
	gzipMagic = []byte{0x1f, 0x8b}
	xzMagic   = []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// DetectCompression inspects the leading bytes of data.
func DetectCompression(header []byte) Compression {
	switch {
	case bytes.HasPrefix(header, gzipMagic):
		return CompressionGzip
	case bytes.HasPrefix(header, xzMagic):
		return CompressionXZ
	case bytes.HasPrefix(header, zstdMagic):
		return CompressionZstd
	default:
		return CompressionNone
	}
}

// readFile reads path, transparently decompressing it when its magic bytes
// name a known format.
func readFile(path string, limit int64) ([]byte, Compression, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, CompressionNone, err
	}
	c := DetectCompression(raw)
	data, err := decompress(raw, c, limit)
	if err != nil {
		return nil, c, err
	}
	return data, c, nil
}

func decompress(raw []byte, c Compression, limit int64) ([]byte, error) {
	var r io.Reader
	switch c {
	case CompressionNone:
		if limit > 0 && int64(len(raw)) > limit {
			return nil, fmt.Errorf("payload is %d bytes (limit %d)", len(raw), limit)
		}
		return raw, nil
	case CompressionGzip:
		gz, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gz.Close()
		r = gz
	case CompressionXZ:
		xr, err := xz.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to create xz reader: %w", err)
		}
		r = xr
	case CompressionZstd:
		dec, err := zstd.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		defer dec.Close()
		r = dec
	default:
		return nil, fmt.Errorf("unsupported compression: %v", c)
	}

	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, fmt.Errorf("%s decompression failed: %w", c, err)
	}
	if limit > 0 && int64(buf.Len()) > limit {
		return nil, fmt.Errorf("decompressed payload exceeds %d bytes", limit)
	}
	return buf.Bytes(), nil
}

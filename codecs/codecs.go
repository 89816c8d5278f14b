// Package codecs provides the compression codecs used to encode store
// compaction artifacts.
package codecs

import (
	"fmt"
	"io"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
)

// CompressionCodec enumerates supported artifact compressions.
type CompressionCodec int

const (
	// NONE writes the artifact as plain SQL text.
	NONE CompressionCodec = iota
	// GZIP compresses with gzip. It's the default.
	GZIP
	// SNAPPY compresses with the snappy framing format.
	SNAPPY
	// ZSTANDARD compresses with zstd. It requires cgo.
	ZSTANDARD
)

var codecNames = map[CompressionCodec]string{
	NONE:      "none",
	GZIP:      "gzip",
	SNAPPY:    "snappy",
	ZSTANDARD: "zstd",
}

func (c CompressionCodec) String() string {
	if n, ok := codecNames[c]; ok {
		return n
	}
	return fmt.Sprintf("CompressionCodec(%d)", int(c))
}

// Extension returns the conventional file extension of the codec, including
// its leading dot. NONE has an empty extension.
func (c CompressionCodec) Extension() string {
	switch c {
	case GZIP:
		return ".gz"
	case SNAPPY:
		return ".sz"
	case ZSTANDARD:
		return ".zst"
	default:
		return ""
	}
}

// Validate returns an error if the CompressionCodec is not known.
func (c CompressionCodec) Validate() error {
	if _, ok := codecNames[c]; !ok {
		return fmt.Errorf("invalid CompressionCodec (%d)", int(c))
	}
	return nil
}

// ParseCodec maps a codec name (as returned by String) to its CompressionCodec.
func ParseCodec(name string) (CompressionCodec, error) {
	for c, n := range codecNames {
		if strings.EqualFold(n, name) {
			return c, nil
		}
	}
	return NONE, fmt.Errorf("unsupported codec %q", name)
}

// Decompressor is a ReadCloser where Close closes and releases Decompressor
// state, but does not Close or affect the underlying Reader.
type Decompressor io.ReadCloser

// Compressor is a WriteCloser where Close closes and releases Compressor
// state, potentially flushing final content to the underlying Writer,
// but does not Close or otherwise affect the underlying Writer.
type Compressor io.WriteCloser

// NewCodecReader returns a Decompressor of the Reader encoded with CompressionCodec.
func NewCodecReader(r io.Reader, codec CompressionCodec) (Decompressor, error) {
	switch codec {
	case NONE:
		return io.NopCloser(r), nil
	case GZIP:
		return gzip.NewReader(r)
	case SNAPPY:
		return io.NopCloser(snappy.NewReader(r)), nil
	case ZSTANDARD:
		return zstdNewReader(r)
	default:
		return nil, fmt.Errorf("unsupported codec %s", codec.String())
	}
}

// NewCodecWriter returns a Compressor wrapping the Writer encoding with CompressionCodec.
func NewCodecWriter(w io.Writer, codec CompressionCodec) (Compressor, error) {
	switch codec {
	case NONE:
		return nopWriteCloser{w}, nil
	case GZIP:
		return gzip.NewWriter(w), nil
	case SNAPPY:
		return snappy.NewBufferedWriter(w), nil
	case ZSTANDARD:
		return zstdNewWriter(w)
	default:
		return nil, fmt.Errorf("unsupported codec %s", codec.String())
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

var (
	zstdNewReader = func(io.Reader) (io.ReadCloser, error) {
		return nil, fmt.Errorf("ZSTANDARD was not enabled at compile time")
	}
	zstdNewWriter = func(io.Writer) (io.WriteCloser, error) {
		return nil, fmt.Errorf("ZSTANDARD was not enabled at compile time")
	}
)

// Package source turns raw inputs into a stream of newline-delimited JSON records.
package source

import (
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec names a stream compression recognised from a file extension.
type Codec string

const (
	CodecNone   Codec = ""
	CodecGzip   Codec = "gzip"
	CodecZstd   Codec = "zstd"
	CodecLZ4    Codec = "lz4"
	CodecSnappy Codec = "snappy"
)

// CodecFor returns the codec implied by the extension of name.
func CodecFor(name string) Codec {
	switch strings.ToLower(path.Ext(name)) {
	case ".gz", ".gzip":
		return CodecGzip
	case ".zst", ".zstd":
		return CodecZstd
	case ".lz4":
		return CodecLZ4
	case ".sz", ".snappy":
		return CodecSnappy
	}
	return CodecNone
}

// TrimCodecExt removes a compression extension from name, so "a/b.json.gz" becomes
// "a/b.json".
func TrimCodecExt(name string) string {
	if CodecFor(name) == CodecNone {
		return name
	}
	return strings.TrimSuffix(name, path.Ext(name))
}

// Decompress wraps r with the decoder implied by name. Closing the result releases the
// decoder but does not close r.
func Decompress(r io.Reader, name string) (io.ReadCloser, error) {
	switch CodecFor(name) {
	case CodecGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr, nil
	case CodecZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	case CodecLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case CodecSnappy:
		return io.NopCloser(snappy.NewReader(r)), nil
	}
	return io.NopCloser(r), nil
}

// Compress wraps w with the encoder implied by name. The caller must Close the result to
// flush the stream; w itself is left open.
func Compress(w io.Writer, name string) (io.WriteCloser, error) {
	switch CodecFor(name) {
	case CodecGzip:
		return gzip.NewWriter(w), nil
	case CodecZstd:
		return zstd.NewWriter(w)
	case CodecLZ4:
		return lz4.NewWriter(w), nil
	case CodecSnappy:
		return snappy.NewBufferedWriter(w), nil
	}
	return nopWriteCloser{w}, nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// Package sink contains the columnar sinks a convertor flushes batches into.
//
// Every sink follows the same protocol: Open with the root struct type, Append for each
// batch, Close once. Sinks write to an io.Writer owned by the caller and never close it.
package sink

import (
	"fmt"
	"io"
	"math"
	"strings"

	"go_json_columnar_convertor/columnar"
	"go_json_columnar_convertor/schema"
)

// Sink persists batches in a columnar format.
type Sink interface {
	Open(root *schema.TypeNode) error
	Append(batch *columnar.Batch) error
	Close() error
}

// Format names a sink implementation.
type Format string

const (
	// FormatParquet writes Parquet through arrow-go's pqarrow writer.
	FormatParquet Format = "parquet"
	// FormatArrow writes an Arrow IPC file.
	FormatArrow Format = "arrow"
	// FormatParquetJSON writes Parquet through xitongsys/parquet-go's JSON row writer.
	FormatParquetJSON Format = "parquet-json"
	// FormatGoParquet writes Parquet through fraugster/parquet-go.
	FormatGoParquet Format = "parquet-go"
)

// Formats lists the supported formats.
func Formats() []Format {
	return []Format{FormatParquet, FormatArrow, FormatParquetJSON, FormatGoParquet}
}

// Extension is the file suffix for outputs of the format.
func (f Format) Extension() string {
	if f == FormatArrow {
		return ".arrow"
	}
	return ".parquet"
}

// Compression names a page compression codec.
type Compression string

const (
	CompressionNone   Compression = "none"
	CompressionSnappy Compression = "snappy"
	CompressionGzip   Compression = "gzip"
	CompressionZstd   Compression = "zstd"
)

// Options configures a sink.
type Options struct {
	// Compression defaults to snappy.
	Compression Compression
	// CreatedBy is recorded in file metadata where the format supports it.
	CreatedBy string
}

func (o Options) withDefaults() Options {
	if o.Compression == "" {
		o.Compression = CompressionSnappy
	}
	if o.CreatedBy == "" {
		o.CreatedBy = "go_json_columnar_convertor"
	}
	return o
}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if f == "" {
		return FormatParquet, nil
	}
	for _, known := range Formats() {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown sink format %q", s)
}

// ParseCompression validates a compression name.
func ParseCompression(s string) (Compression, error) {
	c := Compression(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case "":
		return CompressionSnappy, nil
	case CompressionNone, CompressionSnappy, CompressionGzip, CompressionZstd:
		return c, nil
	}
	return "", fmt.Errorf("unknown compression %q", s)
}

// New returns an unopened sink of the given format writing to w.
func New(format Format, w io.Writer, opts Options) (Sink, error) {
	opts = opts.withDefaults()
	if _, err := ParseCompression(string(opts.Compression)); err != nil {
		return nil, err
	}
	if format == FormatArrow && opts.Compression == CompressionGzip {
		return nil, fmt.Errorf("compression %q is not supported by the %s format", opts.Compression, format)
	}
	w = writerOnly{w}

	switch format {
	case FormatParquet, "":
		return &Parquet{w: w, opts: opts}, nil
	case FormatArrow:
		return &Arrow{w: w, opts: opts}, nil
	case FormatParquetJSON:
		return &ParquetJSON{w: w, opts: opts}, nil
	case FormatGoParquet:
		return &GoParquet{w: w, opts: opts}, nil
	}
	return nil, fmt.Errorf("unknown sink format %q", format)
}

// timestampNanos returns the instant as nanoseconds since the epoch. Instants outside
// the int64 nanosecond range, roughly 1677 to 2262, are rejected.
func timestampNanos(sec int64, nanos int32) (int64, error) {
	return scaleInstant(sec, nanos, 1e9)
}

// timestampMicros returns the instant as microseconds since the epoch.
func timestampMicros(sec int64, nanos int32) (int64, error) {
	return scaleInstant(sec, nanos, 1e6)
}

func scaleInstant(sec int64, nanos int32, perSecond int64) (int64, error) {
	// Seconds are floored, so nanos is in [0, 1e9) and only adds to the result.
	if sec > (math.MaxInt64-perSecond)/perSecond || sec < math.MinInt64/perSecond {
		return 0, fmt.Errorf("timestamp %d s is outside the representable range", sec)
	}
	return sec*perSecond + int64(nanos)/(1e9/perSecond), nil
}

// writerOnly hides any Close method of the wrapped writer from file writers that would
// otherwise close it.
type writerOnly struct {
	io.Writer
}

// Memory keeps every appended batch. It is useful for tests and dry runs.
type Memory struct {
	Root    *schema.TypeNode
	Batches []*columnar.Batch
	Opens   int
	Closes  int
}

func (m *Memory) Open(root *schema.TypeNode) error {
	m.Root = root
	m.Opens++
	return nil
}

func (m *Memory) Append(batch *columnar.Batch) error {
	m.Batches = append(m.Batches, batch)
	return nil
}

func (m *Memory) Close() error {
	m.Closes++
	return nil
}

// Rows returns all rows of all batches in order.
func (m *Memory) Rows() []map[string]interface{} {
	var rows []map[string]interface{}
	for _, b := range m.Batches {
		rows = append(rows, b.Rows()...)
	}
	return rows
}

// Package pipeline runs a newline-delimited JSON stream through a convertor into a
// columnar file.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"go_json_columnar_convertor/convertor"
	cerrors "go_json_columnar_convertor/errors"
	"go_json_columnar_convertor/sink"
	"go_json_columnar_convertor/source"
)

// ErrorPolicy decides what happens to a record that cannot be decoded or converted.
type ErrorPolicy string

const (
	// Abort stops the conversion at the first bad record. Rows accepted before it are
	// still written.
	Abort ErrorPolicy = "abort"
	// Skip logs and drops bad records.
	Skip ErrorPolicy = "skip"
)

// ParseErrorPolicy validates a policy name. Empty means Abort.
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch p := ErrorPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return Abort, nil
	case Abort, Skip:
		return p, nil
	}
	return "", cerrors.Newf(cerrors.ErrorTypeConfig, "unknown error policy %q", s)
}

type Options struct {
	// Schema is the type description of every record, e.g. "struct<id:bigint,name:string>".
	Schema          string
	Format          sink.Format
	Compression     sink.Compression
	BatchSize       int
	TimestampFormat string
	Location        *time.Location
	OnError         ErrorPolicy
	Logger          *zap.Logger
	Recorder        convertor.Recorder
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// Stats summarises one conversion.
type Stats struct {
	// Lines is the line number of the last record read.
	Lines   int
	Rows    int64
	Skipped int
	Batches int64
}

// Open builds the sink for opts.Format on out and a convertor feeding it. The caller
// writes records and must Close the convertor; out stays open.
func Open(out io.Writer, opts Options) (*convertor.Convertor, error) {
	s, err := sink.New(opts.Format, out, sink.Options{Compression: opts.Compression})
	if err != nil {
		return nil, cerrors.Wrap(err, cerrors.ErrorTypeConfig, "invalid sink options")
	}
	return convertor.New(opts.Schema, s,
		convertor.WithBatchSize(opts.BatchSize),
		convertor.WithTimestampFormat(opts.TimestampFormat),
		convertor.WithLocation(opts.Location),
		convertor.WithLogger(opts.logger()),
		convertor.WithRecorder(opts.Recorder),
	)
}

// Convert reads one JSON record per line from in and writes the columnar file to out.
// The convertor is closed on every path once it was opened, so rows accepted before an
// abort still form a readable file.
func Convert(ctx context.Context, in io.Reader, out io.Writer, opts Options) (Stats, error) {
	ctx, span := otel.Tracer("go_json_columnar_convertor/pipeline").Start(ctx, "pipeline.Convert")
	defer span.End()
	span.SetAttributes(
		attribute.String("convertor.format", string(opts.Format)),
		attribute.Int("convertor.batch_size", opts.BatchSize),
	)

	var stats Stats
	conv, err := Open(out, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "open failed")
		return stats, err
	}

	log := opts.logger()
	err = source.Lines(ctx, in, func(line int, record []byte) error {
		stats.Lines = line
		werr := conv.WriteJSON(record)
		if werr == nil {
			return nil
		}
		if opts.OnError == Skip && (cerrors.IsType(werr, cerrors.ErrorTypeDecode) || cerrors.IsType(werr, cerrors.ErrorTypeValue)) {
			stats.Skipped++
			log.Warn("skipped record", zap.Int("line", line), zap.Error(werr))
			return nil
		}
		var ce *cerrors.Error
		if cerrors.As(werr, &ce) {
			return ce.WithDetail("line", line)
		}
		return fmt.Errorf("line %d: %w", line, werr)
	})

	closeErr := conv.Close()
	stats.Rows = conv.RowsWritten()
	stats.Batches = conv.BatchesFlushed()
	span.SetAttributes(
		attribute.Int64("convertor.rows", stats.Rows),
		attribute.Int("convertor.skipped", stats.Skipped),
	)

	if err == nil {
		err = closeErr
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "conversion failed")
		return stats, err
	}
	log.Info("conversion finished",
		zap.Int("lines", stats.Lines),
		zap.Int64("rows", stats.Rows),
		zap.Int("skipped", stats.Skipped),
		zap.Int64("batches", stats.Batches))
	return stats, nil
}

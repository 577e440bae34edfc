package convertor

import (
	"time"

	"go.uber.org/zap"

	"go_json_columnar_convertor/columnar"
)

// Recorder receives conversion events. metrics.Collector implements it.
type Recorder interface {
	RowWritten()
	BatchFlushed(rows int, d time.Duration)
	RecordRejected(reason string)
}

type nopRecorder struct{}

func (nopRecorder) RowWritten()                    {}
func (nopRecorder) BatchFlushed(int, time.Duration) {}
func (nopRecorder) RecordRejected(string)          {}

type options struct {
	batchSize       int
	timestampFormat string
	location        *time.Location
	logger          *zap.Logger
	recorder        Recorder
}

func defaultOptions() options {
	return options{
		batchSize: columnar.DefaultBatchSize,
		location:  time.Local,
		logger:    zap.NewNop(),
		recorder:  nopRecorder{},
	}
}

// Option configures a Convertor.
type Option func(*options)

// WithBatchSize sets the number of rows per batch handed to the sink. Values below 1
// are ignored.
func WithBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithTimestampFormat sets the Go reference layout used for every timestamp field. With
// an empty layout, timestamps are parsed leniently by recognising common formats.
func WithTimestampFormat(layout string) Option {
	return func(o *options) {
		o.timestampFormat = layout
	}
}

// WithLocation sets the zone used for timestamps that carry no offset.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.location = loc
		}
	}
}

// WithLogger sets the logger used for flush diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRecorder sets the receiver of conversion events.
func WithRecorder(r Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

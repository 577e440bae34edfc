// Package convertor turns JSON records into columnar batches.
//
// A Convertor compiles its schema into a tree of converters once, then routes every
// record through that tree into the current batch. Full batches are handed to a Sink and
// replaced by a fresh batch; Close flushes the remainder and finalises the sink.
//
// A Convertor is not safe for concurrent use.
package convertor

import (
	"bytes"
	"io"
	"time"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"go_json_columnar_convertor/columnar"
	cerrors "go_json_columnar_convertor/errors"
	"go_json_columnar_convertor/schema"
)

// Sink receives completed batches. The convertor calls Open once, Append for every
// flushed batch and Close once. A batch passed to Append is never touched again by the
// convertor, so the sink may keep it.
type Sink interface {
	Open(root *schema.TypeNode) error
	Append(batch *columnar.Batch) error
	Close() error
}

type Convertor struct {
	schema     *schema.TypeNode
	fieldNames []string
	converters []converter
	sink       Sink
	batch      *columnar.Batch
	opts       options
	closed     bool
	rows       int64
	batches    int64
}

// New parses description, builds the converter tree and opens sink.
func New(description string, sink Sink, opts ...Option) (*Convertor, error) {
	root, err := schema.Parse(description)
	if err != nil {
		return nil, err
	}
	return NewFromSchema(root, sink, opts...)
}

// NewFromSchema is like New for an already parsed schema. root must be a struct.
func NewFromSchema(root *schema.TypeNode, sink Sink, opts ...Option) (*Convertor, error) {
	if root.Kind != schema.KindStruct {
		return nil, cerrors.Newf(cerrors.ErrorTypeSchema, "schema root must be a struct, got %s", root.Kind)
	}

	c := &Convertor{
		schema:     root,
		fieldNames: root.FieldNames(),
		converters: make([]converter, len(root.Fields)),
		sink:       sink,
		opts:       defaultOptions(),
	}
	for _, opt := range opts {
		opt(&c.opts)
	}

	for i, f := range root.Fields {
		conv, err := c.compile(f.Type, f.Name)
		if err != nil {
			return nil, err
		}
		c.converters[i] = conv
	}

	batch, err := columnar.NewBatch(root, c.opts.batchSize)
	if err != nil {
		return nil, cerrors.Wrap(err, cerrors.ErrorTypeConfig, "create batch")
	}
	c.batch = batch

	if err := sink.Open(root); err != nil {
		return nil, cerrors.Wrap(err, cerrors.ErrorTypeSink, "open sink")
	}
	return c, nil
}

// Schema returns the root type the convertor was built for.
func (c *Convertor) Schema() *schema.TypeNode { return c.schema }

// BatchSize is the row capacity of every batch.
func (c *Convertor) BatchSize() int { return c.opts.batchSize }

// RowsWritten counts successful writes.
func (c *Convertor) RowsWritten() int64 { return c.rows }

// BatchesFlushed counts batches handed to the sink.
func (c *Convertor) BatchesFlushed() int64 { return c.batches }

// Pending is the number of rows in the current, not yet flushed batch.
func (c *Convertor) Pending() int { return c.batch.Size }

// WriteJSON decodes one JSON object and writes it as the next row.
func (c *Convertor) WriteJSON(record []byte) error {
	if c.closed {
		return cerrors.New(cerrors.ErrorTypeClosed, "write on closed convertor")
	}

	dec := gojson.NewDecoder(bytes.NewReader(record))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		c.opts.recorder.RecordRejected(string(cerrors.ErrorTypeDecode))
		return cerrors.Wrap(err, cerrors.ErrorTypeDecode, "malformed record")
	}
	var extra interface{}
	if err := dec.Decode(&extra); err != io.EOF {
		c.opts.recorder.RecordRejected(string(cerrors.ErrorTypeDecode))
		return cerrors.New(cerrors.ErrorTypeDecode, "unexpected data after record")
	}

	obj, ok := v.(map[string]interface{})
	if !ok {
		c.opts.recorder.RecordRejected(string(cerrors.ErrorTypeDecode))
		return cerrors.Newf(cerrors.ErrorTypeDecode, "record must be an object, got %s", jsonKind(v))
	}
	return c.WriteRecord(obj)
}

// WriteRecord writes an already decoded record as the next row. Keys missing from the
// schema are ignored; schema fields missing from the record are null. On error the row is
// not counted and the next write reuses its index.
func (c *Convertor) WriteRecord(record map[string]interface{}) error {
	if c.closed {
		return cerrors.New(cerrors.ErrorTypeClosed, "write on closed convertor")
	}

	row := c.batch.Size
	mark := c.batch.Mark()
	for i, conv := range c.converters {
		if err := conv.convert(record[c.fieldNames[i]], c.batch.Cols[i], row); err != nil {
			c.batch.Rollback(mark)
			c.opts.recorder.RecordRejected(string(cerrors.ErrorTypeValue))
			return err
		}
	}
	c.batch.Size++
	c.rows++
	c.opts.recorder.RowWritten()

	if c.batch.Full() {
		return c.flush()
	}
	return nil
}

// flush hands the current batch to the sink and starts a fresh one.
func (c *Convertor) flush() error {
	start := time.Now()
	full := c.batch

	if err := c.sink.Append(full); err != nil {
		return cerrors.Wrap(err, cerrors.ErrorTypeSink, "append batch")
	}
	c.batches++
	c.opts.recorder.BatchFlushed(full.Size, time.Since(start))
	c.opts.logger.Debug("flushed batch",
		zap.Int("rows", full.Size),
		zap.Int64("batches", c.batches),
		zap.Int64("total_rows", c.rows))

	next, err := columnar.NewBatch(c.schema, c.opts.batchSize)
	if err != nil {
		return cerrors.Wrap(err, cerrors.ErrorTypeConfig, "create batch")
	}
	c.batch = next
	return nil
}

// Close flushes any pending rows and closes the sink. Calling Close again is a no-op.
func (c *Convertor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	var flushErr error
	if c.batch.Size > 0 {
		flushErr = c.flush()
	}
	if err := c.sink.Close(); err != nil && flushErr == nil {
		return cerrors.Wrap(err, cerrors.ErrorTypeSink, "close sink")
	}
	if flushErr == nil {
		c.opts.logger.Debug("closed convertor",
			zap.Int64("rows", c.rows),
			zap.Int64("batches", c.batches))
	}
	return flushErr
}

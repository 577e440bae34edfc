package sink

import (
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow/ipc"

	"go_json_columnar_convertor/columnar"
	"go_json_columnar_convertor/schema"
)

// Arrow writes an Arrow IPC file with one record batch per flushed batch.
type Arrow struct {
	w    io.Writer
	opts Options
	rb   *recordBuilder
	fw   *ipc.FileWriter
}

func (a *Arrow) Open(root *schema.TypeNode) error {
	rb, err := newRecordBuilder(root)
	if err != nil {
		return err
	}
	opts := []ipc.Option{ipc.WithSchema(rb.schema), ipc.WithAllocator(rb.mem)}
	switch a.opts.Compression {
	case CompressionZstd:
		opts = append(opts, ipc.WithZstd())
	case CompressionSnappy:
		// IPC bodies support lz4 and zstd only; the snappy default maps to lz4.
		opts = append(opts, ipc.WithLZ4())
	}
	fw, err := ipc.NewFileWriter(a.w, opts...)
	if err != nil {
		return fmt.Errorf("create arrow writer: %w", err)
	}
	a.rb, a.fw = rb, fw
	return nil
}

func (a *Arrow) Append(batch *columnar.Batch) error {
	if a.fw == nil {
		return fmt.Errorf("arrow sink not open")
	}
	rec, err := a.rb.build(batch)
	if err != nil {
		return err
	}
	defer rec.Release()
	return a.fw.Write(rec)
}

func (a *Arrow) Close() error {
	if a.fw == nil {
		return nil
	}
	fw := a.fw
	a.fw = nil
	return fw.Close()
}

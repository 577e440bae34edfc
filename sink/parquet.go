package sink

import (
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"go_json_columnar_convertor/columnar"
	"go_json_columnar_convertor/schema"
)

// Parquet writes each batch as one row group through arrow-go's pqarrow writer.
type Parquet struct {
	w    io.Writer
	opts Options
	rb   *recordBuilder
	fw   *pqarrow.FileWriter
}

func parquetCodec(c Compression) compress.Compression {
	switch c {
	case CompressionNone:
		return compress.Codecs.Uncompressed
	case CompressionGzip:
		return compress.Codecs.Gzip
	case CompressionZstd:
		return compress.Codecs.Zstd
	}
	return compress.Codecs.Snappy
}

func (p *Parquet) Open(root *schema.TypeNode) error {
	rb, err := newRecordBuilder(root)
	if err != nil {
		return err
	}
	props := parquet.NewWriterProperties(
		parquet.WithCompression(parquetCodec(p.opts.Compression)),
		parquet.WithVersion(parquet.V2_LATEST),
		parquet.WithCreatedBy(p.opts.CreatedBy),
		parquet.WithAllocator(rb.mem),
	)
	arrProps := pqarrow.NewArrowWriterProperties(
		pqarrow.WithAllocator(rb.mem),
		pqarrow.WithStoreSchema(),
	)
	fw, err := pqarrow.NewFileWriter(rb.schema, p.w, props, arrProps)
	if err != nil {
		return fmt.Errorf("create parquet writer: %w", err)
	}
	p.rb, p.fw = rb, fw
	return nil
}

func (p *Parquet) Append(batch *columnar.Batch) error {
	if p.fw == nil {
		return fmt.Errorf("parquet sink not open")
	}
	rec, err := p.rb.build(batch)
	if err != nil {
		return err
	}
	defer rec.Release()
	return p.fw.Write(rec)
}

func (p *Parquet) Close() error {
	if p.fw == nil {
		return nil
	}
	fw := p.fw
	p.fw = nil
	return fw.Close()
}

package sink

import (
	"fmt"
	"io"
	"strings"

	gojson "github.com/goccy/go-json"
	"github.com/xitongsys/parquet-go-source/writerfile"
	xparquet "github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"go_json_columnar_convertor/columnar"
	"go_json_columnar_convertor/schema"
)

// rowGroupSize bounds the buffered size of a row group before the writer flushes it on
// its own. Every batch is flushed explicitly as well.
const rowGroupSize = 128 * 128 * 1024

// maxJSONDecimalPrecision is the widest decimal the JSON writer converts exactly.
const maxJSONDecimalPrecision = 18

// ParquetJSON writes Parquet through xitongsys/parquet-go. Rows are re-encoded as JSON
// and fed to its JSON writer against a schema generated from the root type.
//
// JSON text cannot carry arbitrary bytes, and the writer parses decimals through a 64 bit
// float mantissa, so binary fields and decimals wider than 18 digits are refused by Open.
// The writer has no encoding for a null list element or map value; such rows fail Append.
type ParquetJSON struct {
	w    io.Writer
	opts Options
	pf   source.ParquetFile
	pw   *writer.JSONWriter
}

func xitongsysCodec(c Compression) xparquet.CompressionCodec {
	switch c {
	case CompressionNone:
		return xparquet.CompressionCodec_UNCOMPRESSED
	case CompressionGzip:
		return xparquet.CompressionCodec_GZIP
	case CompressionZstd:
		return xparquet.CompressionCodec_ZSTD
	}
	return xparquet.CompressionCodec_SNAPPY
}

func (p *ParquetJSON) Open(root *schema.TypeNode) error {
	schemaJSON, err := xitongsysSchema(root)
	if err != nil {
		return err
	}
	pf := writerfile.NewWriterFile(p.w)
	pw, err := writer.NewJSONWriter(schemaJSON, pf, 1)
	if err != nil {
		return fmt.Errorf("create parquet json writer: %w", err)
	}
	pw.RowGroupSize = rowGroupSize
	pw.CompressionType = xitongsysCodec(p.opts.Compression)
	p.pf, p.pw = pf, pw
	return nil
}

func (p *ParquetJSON) Append(batch *columnar.Batch) error {
	if p.pw == nil {
		return fmt.Errorf("parquet json sink not open")
	}
	for row := 0; row < batch.Size; row++ {
		rec := make(map[string]interface{}, len(batch.Cols))
		for c, col := range batch.Cols {
			v, err := jsonValue(col, row)
			if err != nil {
				return fmt.Errorf("column %s row %d: %w", batch.Names[c], row, err)
			}
			if v != nil {
				rec[batch.Names[c]] = v
			}
		}
		b, err := gojson.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode row %d: %w", row, err)
		}
		if err := p.pw.Write(string(b)); err != nil {
			return fmt.Errorf("write row %d: %w", row, err)
		}
	}
	return p.pw.Flush(true)
}

func (p *ParquetJSON) Close() error {
	if p.pw == nil {
		return nil
	}
	pw := p.pw
	p.pw = nil
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("finish parquet json file: %w", err)
	}
	return p.pf.Close()
}

// schemaNode is the JSON schema document understood by writer.NewJSONWriter.
type schemaNode struct {
	Tag    string        `json:"Tag"`
	Fields []*schemaNode `json:"Fields,omitempty"`
}

func xitongsysSchema(root *schema.TypeNode) (string, error) {
	if root.Kind != schema.KindStruct {
		return "", fmt.Errorf("root must be a struct, got %s", root.Kind)
	}
	doc := &schemaNode{Tag: "name=parquet_go_root, repetitiontype=REQUIRED"}
	for _, f := range root.Fields {
		n, err := xitongsysNode(f.Name, f.Type, "OPTIONAL")
		if err != nil {
			return "", err
		}
		doc.Fields = append(doc.Fields, n)
	}
	b, err := gojson.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func xitongsysNode(name string, t *schema.TypeNode, repetition string) (*schemaNode, error) {
	if name == "" || strings.ContainsAny(name, ",= \t") {
		return nil, fmt.Errorf("field name %q cannot be used in a parquet tag", name)
	}
	tag := func(attrs string) string {
		if attrs != "" {
			attrs = ", " + attrs
		}
		return fmt.Sprintf("name=%s%s, repetitiontype=%s", name, attrs, repetition)
	}

	switch t.Kind {
	case schema.KindBoolean:
		return &schemaNode{Tag: tag("type=BOOLEAN")}, nil
	case schema.KindByte:
		return &schemaNode{Tag: tag("type=INT32, convertedtype=INT_8")}, nil
	case schema.KindShort:
		return &schemaNode{Tag: tag("type=INT32, convertedtype=INT_16")}, nil
	case schema.KindInt:
		return &schemaNode{Tag: tag("type=INT32")}, nil
	case schema.KindLong:
		return &schemaNode{Tag: tag("type=INT64")}, nil
	case schema.KindFloat:
		return &schemaNode{Tag: tag("type=FLOAT")}, nil
	case schema.KindDouble:
		return &schemaNode{Tag: tag("type=DOUBLE")}, nil
	case schema.KindString, schema.KindChar, schema.KindVarchar:
		return &schemaNode{Tag: tag("type=BYTE_ARRAY, convertedtype=UTF8")}, nil
	case schema.KindBinary:
		return nil, fmt.Errorf("binary field %q is not supported by the %s format", name, FormatParquetJSON)
	case schema.KindDecimal:
		if t.Precision > maxJSONDecimalPrecision {
			return nil, fmt.Errorf("decimal field %q wider than %d digits is not supported by the %s format",
				name, maxJSONDecimalPrecision, FormatParquetJSON)
		}
		return &schemaNode{Tag: tag(fmt.Sprintf("type=BYTE_ARRAY, convertedtype=DECIMAL, precision=%d, scale=%d",
			t.Precision, t.Scale))}, nil
	case schema.KindTimestamp:
		return &schemaNode{Tag: tag("type=INT64, convertedtype=TIMESTAMP_MICROS")}, nil
	case schema.KindDate:
		return &schemaNode{Tag: tag("type=INT32, convertedtype=DATE")}, nil
	case schema.KindStruct:
		n := &schemaNode{Tag: tag("")}
		for _, f := range t.Fields {
			child, err := xitongsysNode(f.Name, f.Type, "OPTIONAL")
			if err != nil {
				return nil, err
			}
			n.Fields = append(n.Fields, child)
		}
		return n, nil
	case schema.KindList:
		elem, err := xitongsysNode("element", t.Elem, "OPTIONAL")
		if err != nil {
			return nil, err
		}
		return &schemaNode{Tag: tag("type=LIST"), Fields: []*schemaNode{elem}}, nil
	case schema.KindMap:
		key, err := xitongsysNode("key", t.Key, "REQUIRED")
		if err != nil {
			return nil, err
		}
		value, err := xitongsysNode("value", t.Value, "OPTIONAL")
		if err != nil {
			return nil, err
		}
		return &schemaNode{Tag: tag("type=MAP"), Fields: []*schemaNode{key, value}}, nil
	}
	return nil, fmt.Errorf("unsupported type %s", t)
}

// jsonValue renders row of v the way the xitongsys JSON writer expects it. Null is nil.
func jsonValue(v columnar.Vector, row int) (interface{}, error) {
	if v.IsNull(row) {
		return nil, nil
	}
	switch vec := v.(type) {
	case *columnar.LongVector:
		if vec.Type().Kind == schema.KindBoolean {
			return vec.Vector[row] != 0, nil
		}
		return vec.Vector[row], nil
	case *columnar.DoubleVector:
		return vec.Vector[row], nil
	case *columnar.BytesVector:
		return string(vec.Vector[row]), nil
	case *columnar.DecimalVector:
		return vec.Vector[row].StringFixed(int32(vec.Scale())), nil
	case *columnar.TimestampVector:
		return timestampMicros(vec.Seconds[row], vec.Nanos[row])
	case *columnar.StructVector:
		names := vec.Type().FieldNames()
		obj := make(map[string]interface{}, len(vec.Fields))
		for i, f := range vec.Fields {
			x, err := jsonValue(f, row)
			if err != nil {
				return nil, err
			}
			if x != nil {
				obj[names[i]] = x
			}
		}
		return obj, nil
	case *columnar.ListVector:
		off, n := int(vec.Offsets[row]), int(vec.Lengths[row])
		list := make([]interface{}, 0, n)
		for i := off; i < off+n; i++ {
			x, err := jsonValue(vec.Child, i)
			if err != nil {
				return nil, err
			}
			if x == nil {
				return nil, fmt.Errorf("null list element %d is not supported by the %s format", i-off, FormatParquetJSON)
			}
			list = append(list, x)
		}
		return list, nil
	case *columnar.MapVector:
		off, n := int(vec.Offsets[row]), int(vec.Lengths[row])
		m := make(map[string]interface{}, n)
		for i := off; i < off+n; i++ {
			k, err := jsonValue(vec.Keys, i)
			if err != nil {
				return nil, err
			}
			key := fmt.Sprint(k)
			x, err := jsonValue(vec.Values, i)
			if err != nil {
				return nil, err
			}
			if x == nil {
				return nil, fmt.Errorf("null value for map key %q is not supported by the %s format", key, FormatParquetJSON)
			}
			m[key] = x
		}
		return m, nil
	}
	return nil, fmt.Errorf("unsupported vector %T", v)
}

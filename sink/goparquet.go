package sink

import (
	"fmt"
	"io"
	"math/big"
	"strings"
	"unicode"

	goparquet "github.com/fraugster/parquet-go"
	fparquet "github.com/fraugster/parquet-go/parquet"
	"github.com/fraugster/parquet-go/parquetschema"

	"go_json_columnar_convertor/columnar"
	"go_json_columnar_convertor/schema"
)

// GoParquet writes Parquet through fraugster/parquet-go, one row group per batch. The
// Parquet schema is generated as a message definition and parsed by parquetschema.
type GoParquet struct {
	w    io.Writer
	opts Options
	fw   *goparquet.FileWriter
}

func goParquetCodec(c Compression) fparquet.CompressionCodec {
	switch c {
	case CompressionNone:
		return fparquet.CompressionCodec_UNCOMPRESSED
	case CompressionGzip:
		return fparquet.CompressionCodec_GZIP
	case CompressionZstd:
		return fparquet.CompressionCodec_ZSTD
	}
	return fparquet.CompressionCodec_SNAPPY
}

func (g *GoParquet) Open(root *schema.TypeNode) error {
	text, err := MessageDefinition(root)
	if err != nil {
		return err
	}
	sd, err := parquetschema.ParseSchemaDefinition(text)
	if err != nil {
		return fmt.Errorf("parse parquet schema: %w", err)
	}
	g.fw = goparquet.NewFileWriter(g.w,
		goparquet.WithSchemaDefinition(sd),
		goparquet.WithCompressionCodec(goParquetCodec(g.opts.Compression)),
		goparquet.WithCreator(g.opts.CreatedBy),
	)
	return nil
}

func (g *GoParquet) Append(batch *columnar.Batch) error {
	if g.fw == nil {
		return fmt.Errorf("parquet-go sink not open")
	}
	for row := 0; row < batch.Size; row++ {
		rec := make(map[string]interface{}, len(batch.Cols))
		for c, col := range batch.Cols {
			v, err := goParquetValue(col, row)
			if err != nil {
				return fmt.Errorf("column %s row %d: %w", batch.Names[c], row, err)
			}
			if v != nil {
				rec[batch.Names[c]] = v
			}
		}
		if err := g.fw.AddData(rec); err != nil {
			return fmt.Errorf("add row %d: %w", row, err)
		}
	}
	return g.fw.FlushRowGroup()
}

func (g *GoParquet) Close() error {
	if g.fw == nil {
		return nil
	}
	fw := g.fw
	g.fw = nil
	return fw.Close()
}

// MessageDefinition renders root as a Parquet message definition. Every field is
// optional; lists and maps use the three-level LIST and MAP layouts.
func MessageDefinition(root *schema.TypeNode) (string, error) {
	if root.Kind != schema.KindStruct {
		return "", fmt.Errorf("root must be a struct, got %s", root.Kind)
	}
	var sb strings.Builder
	sb.WriteString("message convertor {\n")
	for _, f := range root.Fields {
		if err := writeColumn(&sb, 1, "optional", f.Name, f.Type); err != nil {
			return "", err
		}
	}
	sb.WriteString("}\n")
	return sb.String(), nil
}

func validColumnName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return true
}

func writeColumn(sb *strings.Builder, depth int, rep, name string, t *schema.TypeNode) error {
	if !validColumnName(name) {
		return fmt.Errorf("field name %q cannot be used in a parquet message definition", name)
	}
	indent := strings.Repeat("  ", depth)
	leaf := func(def string) {
		fmt.Fprintf(sb, "%s%s %s;\n", indent, rep, fmt.Sprintf(def, name))
	}

	switch t.Kind {
	case schema.KindBoolean:
		leaf("boolean %s")
	case schema.KindByte:
		leaf("int32 %s (INT(8, true))")
	case schema.KindShort:
		leaf("int32 %s (INT(16, true))")
	case schema.KindInt:
		leaf("int32 %s")
	case schema.KindLong:
		leaf("int64 %s")
	case schema.KindFloat:
		leaf("float %s")
	case schema.KindDouble:
		leaf("double %s")
	case schema.KindString, schema.KindChar, schema.KindVarchar:
		leaf("binary %s (STRING)")
	case schema.KindBinary:
		leaf("binary %s")
	case schema.KindDecimal:
		leaf(fmt.Sprintf("binary %%s (DECIMAL(%d, %d))", t.Precision, t.Scale))
	case schema.KindTimestamp:
		leaf("int64 %s (TIMESTAMP(NANOS, true))")
	case schema.KindDate:
		leaf("int32 %s (DATE)")
	case schema.KindStruct:
		fmt.Fprintf(sb, "%s%s group %s {\n", indent, rep, name)
		for _, f := range t.Fields {
			if err := writeColumn(sb, depth+1, "optional", f.Name, f.Type); err != nil {
				return err
			}
		}
		fmt.Fprintf(sb, "%s}\n", indent)
	case schema.KindList:
		fmt.Fprintf(sb, "%s%s group %s (LIST) {\n", indent, rep, name)
		fmt.Fprintf(sb, "%s  repeated group list {\n", indent)
		if err := writeColumn(sb, depth+2, "optional", "element", t.Elem); err != nil {
			return err
		}
		fmt.Fprintf(sb, "%s  }\n%s}\n", indent, indent)
	case schema.KindMap:
		fmt.Fprintf(sb, "%s%s group %s (MAP) {\n", indent, rep, name)
		fmt.Fprintf(sb, "%s  repeated group key_value {\n", indent)
		if err := writeColumn(sb, depth+2, "required", "key", t.Key); err != nil {
			return err
		}
		if err := writeColumn(sb, depth+2, "optional", "value", t.Value); err != nil {
			return err
		}
		fmt.Fprintf(sb, "%s  }\n%s}\n", indent, indent)
	default:
		return fmt.Errorf("unsupported type %s", t)
	}
	return nil
}

// goParquetValue renders row of v in the shape FileWriter.AddData expects. Null is nil.
func goParquetValue(v columnar.Vector, row int) (interface{}, error) {
	if v.IsNull(row) {
		return nil, nil
	}
	switch vec := v.(type) {
	case *columnar.LongVector:
		n := vec.Vector[row]
		switch vec.Type().Kind {
		case schema.KindBoolean:
			return n != 0, nil
		case schema.KindLong:
			return n, nil
		}
		return int32(n), nil
	case *columnar.DoubleVector:
		if vec.Type().Kind == schema.KindFloat {
			return float32(vec.Vector[row]), nil
		}
		return vec.Vector[row], nil
	case *columnar.BytesVector:
		return vec.Vector[row], nil
	case *columnar.DecimalVector:
		return twosComplement(vec.Vector[row].Shift(int32(vec.Scale())).BigInt()), nil
	case *columnar.TimestampVector:
		return timestampNanos(vec.Seconds[row], vec.Nanos[row])
	case *columnar.StructVector:
		names := vec.Type().FieldNames()
		obj := make(map[string]interface{}, len(vec.Fields))
		for i, f := range vec.Fields {
			x, err := goParquetValue(f, row)
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
		elems := make([]map[string]interface{}, 0, n)
		for i := off; i < off+n; i++ {
			x, err := goParquetValue(vec.Child, i)
			if err != nil {
				return nil, err
			}
			elem := map[string]interface{}{}
			if x != nil {
				elem["element"] = x
			}
			elems = append(elems, elem)
		}
		return map[string]interface{}{"list": elems}, nil
	case *columnar.MapVector:
		off, n := int(vec.Offsets[row]), int(vec.Lengths[row])
		kvs := make([]map[string]interface{}, 0, n)
		for i := off; i < off+n; i++ {
			k, err := goParquetValue(vec.Keys, i)
			if err != nil {
				return nil, err
			}
			x, err := goParquetValue(vec.Values, i)
			if err != nil {
				return nil, err
			}
			kv := map[string]interface{}{"key": k}
			if x != nil {
				kv["value"] = x
			}
			kvs = append(kvs, kv)
		}
		return map[string]interface{}{"key_value": kvs}, nil
	}
	return nil, fmt.Errorf("unsupported vector %T", v)
}

// twosComplement is the big-endian two's complement encoding Parquet uses for binary
// decimals.
func twosComplement(n *big.Int) []byte {
	if n.Sign() >= 0 {
		b := n.Bytes()
		if len(b) == 0 || b[0]&0x80 != 0 {
			b = append([]byte{0}, b...)
		}
		return b
	}
	size := (n.BitLen() + 8) / 8
	mod := new(big.Int).Lsh(big.NewInt(1), uint(size*8))
	return new(big.Int).Add(mod, n).Bytes()
}

package sink

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/decimal128"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/shopspring/decimal"

	"go_json_columnar_convertor/columnar"
	"go_json_columnar_convertor/schema"
)

// arrowSchema maps the root struct to an Arrow schema with one nullable field per member.
func arrowSchema(root *schema.TypeNode) (*arrow.Schema, error) {
	if root.Kind != schema.KindStruct {
		return nil, fmt.Errorf("root must be a struct, got %s", root.Kind)
	}
	fields, err := arrowFields(root)
	if err != nil {
		return nil, err
	}
	return arrow.NewSchema(fields, nil), nil
}

func arrowFields(t *schema.TypeNode) ([]arrow.Field, error) {
	fields := make([]arrow.Field, 0, len(t.Fields))
	for _, f := range t.Fields {
		dt, err := arrowType(f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		fields = append(fields, arrow.Field{Name: f.Name, Type: dt, Nullable: true})
	}
	return fields, nil
}

func arrowType(t *schema.TypeNode) (arrow.DataType, error) {
	switch t.Kind {
	case schema.KindBoolean:
		return arrow.FixedWidthTypes.Boolean, nil
	case schema.KindByte:
		return arrow.PrimitiveTypes.Int8, nil
	case schema.KindShort:
		return arrow.PrimitiveTypes.Int16, nil
	case schema.KindInt:
		return arrow.PrimitiveTypes.Int32, nil
	case schema.KindLong:
		return arrow.PrimitiveTypes.Int64, nil
	case schema.KindFloat:
		return arrow.PrimitiveTypes.Float32, nil
	case schema.KindDouble:
		return arrow.PrimitiveTypes.Float64, nil
	case schema.KindString, schema.KindChar, schema.KindVarchar:
		return arrow.BinaryTypes.String, nil
	case schema.KindBinary:
		return arrow.BinaryTypes.Binary, nil
	case schema.KindDecimal:
		return &arrow.Decimal128Type{Precision: int32(t.Precision), Scale: int32(t.Scale)}, nil
	case schema.KindTimestamp:
		return &arrow.TimestampType{Unit: arrow.Nanosecond, TimeZone: "UTC"}, nil
	case schema.KindDate:
		return arrow.FixedWidthTypes.Date32, nil
	case schema.KindStruct:
		fields, err := arrowFields(t)
		if err != nil {
			return nil, err
		}
		return arrow.StructOf(fields...), nil
	case schema.KindList:
		elem, err := arrowType(t.Elem)
		if err != nil {
			return nil, err
		}
		return arrow.ListOf(elem), nil
	case schema.KindMap:
		key, err := arrowType(t.Key)
		if err != nil {
			return nil, err
		}
		item, err := arrowType(t.Value)
		if err != nil {
			return nil, err
		}
		return arrow.MapOf(key, item), nil
	}
	return nil, fmt.Errorf("unsupported type %s", t)
}

// recordBuilder turns batches into Arrow records for one schema.
type recordBuilder struct {
	schema *arrow.Schema
	mem    memory.Allocator
}

func newRecordBuilder(root *schema.TypeNode) (*recordBuilder, error) {
	sc, err := arrowSchema(root)
	if err != nil {
		return nil, err
	}
	return &recordBuilder{schema: sc, mem: memory.NewGoAllocator()}, nil
}

// build copies the batch into a new record. The caller releases it.
func (rb *recordBuilder) build(batch *columnar.Batch) (arrow.Record, error) {
	b := array.NewRecordBuilder(rb.mem, rb.schema)
	defer b.Release()

	b.Reserve(batch.Size)
	for c, col := range batch.Cols {
		fb := b.Field(c)
		for row := 0; row < batch.Size; row++ {
			if err := appendValue(fb, col, row); err != nil {
				return nil, fmt.Errorf("column %s row %d: %w", batch.Names[c], row, err)
			}
		}
	}
	return b.NewRecord(), nil
}

// appendValue appends row of v to the builder, recursing through composite vectors by
// following their offsets, so child rows not referenced by any parent row are skipped.
func appendValue(b array.Builder, v columnar.Vector, row int) error {
	if v.IsNull(row) {
		b.AppendNull()
		return nil
	}

	switch vec := v.(type) {
	case *columnar.LongVector:
		n := vec.Vector[row]
		switch bb := b.(type) {
		case *array.BooleanBuilder:
			bb.Append(n != 0)
		case *array.Int8Builder:
			bb.Append(int8(n))
		case *array.Int16Builder:
			bb.Append(int16(n))
		case *array.Int32Builder:
			bb.Append(int32(n))
		case *array.Int64Builder:
			bb.Append(n)
		case *array.Date32Builder:
			bb.Append(arrow.Date32(n))
		default:
			return fmt.Errorf("unexpected builder %T for integer column", b)
		}

	case *columnar.DoubleVector:
		switch bb := b.(type) {
		case *array.Float32Builder:
			bb.Append(float32(vec.Vector[row]))
		case *array.Float64Builder:
			bb.Append(vec.Vector[row])
		default:
			return fmt.Errorf("unexpected builder %T for floating column", b)
		}

	case *columnar.BytesVector:
		switch bb := b.(type) {
		case *array.StringBuilder:
			bb.Append(string(vec.Vector[row]))
		case *array.BinaryBuilder:
			bb.Append(vec.Vector[row])
		default:
			return fmt.Errorf("unexpected builder %T for bytes column", b)
		}

	case *columnar.DecimalVector:
		bb, ok := b.(*array.Decimal128Builder)
		if !ok {
			return fmt.Errorf("unexpected builder %T for decimal column", b)
		}
		bb.Append(toDecimal128(vec.Vector[row], vec.Scale()))

	case *columnar.TimestampVector:
		bb, ok := b.(*array.TimestampBuilder)
		if !ok {
			return fmt.Errorf("unexpected builder %T for timestamp column", b)
		}
		ns, err := timestampNanos(vec.Seconds[row], vec.Nanos[row])
		if err != nil {
			return err
		}
		bb.Append(arrow.Timestamp(ns))

	case *columnar.StructVector:
		sb, ok := b.(*array.StructBuilder)
		if !ok {
			return fmt.Errorf("unexpected builder %T for struct column", b)
		}
		sb.Append(true)
		for i, f := range vec.Fields {
			if err := appendValue(sb.FieldBuilder(i), f, row); err != nil {
				return err
			}
		}

	case *columnar.ListVector:
		lb, ok := b.(*array.ListBuilder)
		if !ok {
			return fmt.Errorf("unexpected builder %T for list column", b)
		}
		lb.Append(true)
		vb := lb.ValueBuilder()
		off, n := int(vec.Offsets[row]), int(vec.Lengths[row])
		for i := off; i < off+n; i++ {
			if err := appendValue(vb, vec.Child, i); err != nil {
				return err
			}
		}

	case *columnar.MapVector:
		mb, ok := b.(*array.MapBuilder)
		if !ok {
			return fmt.Errorf("unexpected builder %T for map column", b)
		}
		mb.Append(true)
		kb, ib := mb.KeyBuilder(), mb.ItemBuilder()
		off, n := int(vec.Offsets[row]), int(vec.Lengths[row])
		for i := off; i < off+n; i++ {
			if err := appendValue(kb, vec.Keys, i); err != nil {
				return err
			}
			if err := appendValue(ib, vec.Values, i); err != nil {
				return err
			}
		}

	default:
		return fmt.Errorf("unsupported vector %T", v)
	}
	return nil
}

// toDecimal128 returns the unscaled value of d at the given scale.
func toDecimal128(d decimal.Decimal, scale int) decimal128.Num {
	return decimal128.FromBigInt(d.Shift(int32(scale)).BigInt())
}

package columnar

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go_json_columnar_convertor/schema"
)

func TestNewBatch(t *testing.T) {
	b, err := NewBatch(schema.MustParse("struct<a:int,b:string,c:list<double>>"), 4)
	require.NoError(t, err)

	assert.Equal(t, 4, b.MaxSize())
	assert.Equal(t, []string{"a", "b", "c"}, b.Names)
	assert.IsType(t, &LongVector{}, b.Cols[0])
	assert.IsType(t, &BytesVector{}, b.Cols[1])
	assert.IsType(t, &ListVector{}, b.Cols[2])
	for _, c := range b.Cols {
		assert.Equal(t, 4, c.Len())
		assert.True(t, c.NoNulls())
	}
	assert.False(t, b.Full())

	col, ok := b.Column("b")
	require.True(t, ok)
	assert.Same(t, b.Cols[1], col)
	_, ok = b.Column("z")
	assert.False(t, ok)

	_, err = NewBatch(schema.MustParse("int"), 4)
	require.Error(t, err)
	_, err = NewBatch(schema.MustParse("struct<a:int>"), 0)
	require.Error(t, err)
}

func TestSetClearsNull(t *testing.T) {
	v := NewVector(schema.MustParse("bigint"), 2).(*LongVector)
	v.SetNull(0)
	assert.True(t, v.IsNull(0))
	assert.False(t, v.NoNulls())

	v.Set(0, 42)
	assert.False(t, v.IsNull(0))
	assert.Equal(t, int64(42), v.Value(0))

	v.Reset()
	assert.True(t, v.NoNulls())
}

func TestLongVectorValues(t *testing.T) {
	b := NewVector(schema.MustParse("boolean"), 1).(*LongVector)
	b.Set(0, 1)
	assert.Equal(t, true, b.Value(0))

	d := NewVector(schema.MustParse("date"), 1).(*LongVector)
	d.Set(0, 1)
	assert.True(t, time.Date(1970, 1, 2, 0, 0, 0, 0, time.UTC).Equal(d.Value(0).(time.Time)))

	d.SetNull(0)
	assert.Nil(t, d.Value(0))
}

func TestBytesVector(t *testing.T) {
	s := NewVector(schema.MustParse("varchar(4)"), 1).(*BytesVector)
	s.Set(0, []byte("abc"))
	assert.Equal(t, "abc", s.Value(0))

	bin := NewVector(schema.MustParse("binary"), 1).(*BytesVector)
	bin.Set(0, []byte{0xa1, 0x0f})
	assert.Equal(t, []byte{0xa1, 0x0f}, bin.Value(0))
}

func TestDecimalAndTimestampVectors(t *testing.T) {
	d := NewVector(schema.MustParse("decimal(6,2)"), 1).(*DecimalVector)
	assert.Equal(t, 6, d.Precision())
	assert.Equal(t, 2, d.Scale())
	d.Set(0, decimal.RequireFromString("12.50"))
	assert.True(t, decimal.RequireFromString("12.5").Equal(d.Value(0).(decimal.Decimal)))

	ts := NewVector(schema.MustParse("timestamp"), 1).(*TimestampVector)
	at := time.Date(2021, 3, 4, 5, 6, 7, 890, time.FixedZone("x", 3600))
	ts.Set(0, at)
	assert.Equal(t, at.Unix(), ts.Seconds[0])
	assert.Equal(t, int32(890), ts.Nanos[0])
	assert.True(t, at.Equal(ts.Time(0)))
	assert.Equal(t, time.UTC, ts.Time(0).Location())
}

func TestEnsureSizeKeepsData(t *testing.T) {
	v := NewVector(schema.MustParse("double"), 2).(*DoubleVector)
	v.Set(0, 1.5)
	v.SetNull(1)

	v.EnsureSize(3)
	assert.Equal(t, 4, v.Len())
	assert.Equal(t, 1.5, v.Value(0))
	assert.True(t, v.IsNull(1))
	assert.False(t, v.IsNull(3))

	v.EnsureSize(2)
	assert.Equal(t, 4, v.Len())
}

func TestListVectorReserve(t *testing.T) {
	v := NewVector(schema.MustParse("list<int>"), 2).(*ListVector)
	child := v.Child.(*LongVector)

	off := v.Reserve(0, 3)
	assert.Equal(t, 0, off)
	for i := 0; i < 3; i++ {
		child.Set(off+i, int64(i+10))
	}

	off = v.Reserve(1, 0)
	assert.Equal(t, 3, off)
	assert.Equal(t, 3, v.ChildCount)
	assert.GreaterOrEqual(t, child.Len(), 3)

	assert.Equal(t, []interface{}{int64(10), int64(11), int64(12)}, v.Value(0))
	assert.Equal(t, []interface{}{}, v.Value(1))
	assert.Equal(t, []int64{0, 3}, v.Offsets)
	assert.Equal(t, []int64{3, 0}, v.Lengths)

	// Child storage grows past the parent's row capacity.
	v.EnsureSize(3)
	off = v.Reserve(2, 5)
	assert.Equal(t, 3, off)
	assert.GreaterOrEqual(t, child.Len(), 8)

	v.Reset()
	assert.Equal(t, 0, v.ChildCount)
}

func TestMapVector(t *testing.T) {
	v := NewVector(schema.MustParse("map<string,bigint>"), 1).(*MapVector)
	off := v.Reserve(0, 2)
	v.Keys.(*BytesVector).Set(off, []byte("a"))
	v.Values.(*LongVector).Set(off, 1)
	v.Keys.(*BytesVector).Set(off+1, []byte("b"))
	v.Values.SetNull(off + 1)

	assert.Equal(t, []MapEntry{
		{Key: "a", Value: int64(1)},
		{Key: "b", Value: nil},
	}, v.Value(0))
}

func TestStructVectorValue(t *testing.T) {
	v := NewVector(schema.MustParse("struct<x:int,y:string>"), 2).(*StructVector)
	v.SetValid(0)
	v.Fields[0].(*LongVector).Set(0, 7)
	v.Fields[1].SetNull(0)
	v.SetNull(1)

	assert.Equal(t, map[string]interface{}{"x": int64(7), "y": nil}, v.Value(0))
	assert.Nil(t, v.Value(1))

	v.EnsureSize(5)
	assert.Equal(t, 5, v.Len())
	assert.GreaterOrEqual(t, v.Fields[0].Len(), 5)
}

func TestBatchRows(t *testing.T) {
	b, err := NewBatch(schema.MustParse("struct<a:int,b:string>"), 2)
	require.NoError(t, err)

	b.Cols[0].(*LongVector).Set(0, 1)
	b.Cols[1].SetNull(0)
	b.Size = 1
	assert.Equal(t, []map[string]interface{}{{"a": int64(1), "b": nil}}, b.Rows())

	b.Size = 2
	assert.True(t, b.Full())
	b.Reset()
	assert.Equal(t, 0, b.Size)
	assert.True(t, b.Cols[1].NoNulls())
}

func TestBatchRollback(t *testing.T) {
	b, err := NewBatch(schema.MustParse("struct<xs:list<list<int>>,m:map<string,list<int>>,s:struct<ys:list<int>>>"), 2)
	require.NoError(t, err)

	xs := b.Cols[0].(*ListVector)
	inner := xs.Child.(*ListVector)
	m := b.Cols[1].(*MapVector)
	ys := b.Cols[2].(*StructVector).Fields[0].(*ListVector)

	xs.Reserve(0, 1)
	inner.Reserve(0, 2)
	mark := b.Mark()
	assert.Equal(t, Mark{1, 2, 0, 0, 0}, mark)

	off := xs.Reserve(1, 2)
	inner.Reserve(off, 3)
	inner.Reserve(off+1, 1)
	m.Reserve(1, 2)
	m.Values.(*ListVector).Reserve(0, 4)
	ys.Reserve(1, 5)

	b.Rollback(mark)
	assert.Equal(t, 1, xs.ChildCount)
	assert.Equal(t, 2, inner.ChildCount)
	assert.Equal(t, 0, m.ChildCount)
	assert.Equal(t, 0, m.Values.(*ListVector).ChildCount)
	assert.Equal(t, 0, ys.ChildCount)

	assert.Equal(t, 1, xs.Reserve(1, 1))
}

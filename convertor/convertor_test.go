package convertor

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"go_json_columnar_convertor/columnar"
	cerrors "go_json_columnar_convertor/errors"
	"go_json_columnar_convertor/schema"
)

// memorySink records every call made by the convertor.
type memorySink struct {
	root      *schema.TypeNode
	batches   []*columnar.Batch
	opens     int
	closes    int
	appendErr error
	closeErr  error
}

func (s *memorySink) Open(root *schema.TypeNode) error {
	s.root = root
	s.opens++
	return nil
}

func (s *memorySink) Append(b *columnar.Batch) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	s.batches = append(s.batches, b)
	return nil
}

func (s *memorySink) Close() error {
	s.closes++
	return s.closeErr
}

func (s *memorySink) rows() []map[string]interface{} {
	var out []map[string]interface{}
	for _, b := range s.batches {
		out = append(out, b.Rows()...)
	}
	return out
}

type countingRecorder struct {
	rows     int
	flushes  []int
	rejected map[string]int
}

func (r *countingRecorder) RowWritten() { r.rows++ }

func (r *countingRecorder) BatchFlushed(rows int, _ time.Duration) {
	r.flushes = append(r.flushes, rows)
}

func (r *countingRecorder) RecordRejected(reason string) {
	if r.rejected == nil {
		r.rejected = map[string]int{}
	}
	r.rejected[reason]++
}

func newTestConvertor(t *testing.T, desc string, opts ...Option) (*Convertor, *memorySink) {
	t.Helper()
	sink := &memorySink{}
	opts = append([]Option{WithLogger(zaptest.NewLogger(t)), WithLocation(time.UTC)}, opts...)
	c, err := New(desc, sink, opts...)
	require.NoError(t, err)
	return c, sink
}

func TestBatchFlushing(t *testing.T) {
	rec := &countingRecorder{}
	c, sink := newTestConvertor(t, "struct<price_date:string,id:string,close_price:double>",
		WithBatchSize(2), WithRecorder(rec))

	assert.Equal(t, 1, sink.opens)
	assert.Equal(t, 2, c.BatchSize())

	require.NoError(t, c.WriteJSON([]byte(`{"price_date":"2021-01-04","id":"A","close_price":1.5}`)))
	assert.Empty(t, sink.batches)
	assert.Equal(t, 1, c.Pending())

	require.NoError(t, c.WriteJSON([]byte(`{"price_date":"2021-01-05","id":"B","close_price":2}`)))
	require.Len(t, sink.batches, 1)
	assert.Equal(t, 2, sink.batches[0].Size)
	assert.Equal(t, 0, c.Pending())

	require.NoError(t, c.WriteJSON([]byte(`{"price_date":"2021-01-06","close_price":null}`)))
	require.Len(t, sink.batches, 1)

	require.NoError(t, c.Close())
	require.Len(t, sink.batches, 2)
	assert.Equal(t, 1, sink.batches[1].Size)
	assert.Equal(t, 1, sink.closes)
	assert.NotSame(t, sink.batches[0], sink.batches[1])

	assert.Equal(t, []map[string]interface{}{
		{"price_date": "2021-01-04", "id": "A", "close_price": 1.5},
		{"price_date": "2021-01-05", "id": "B", "close_price": 2.0},
		{"price_date": "2021-01-06", "id": nil, "close_price": nil},
	}, sink.rows())

	assert.Equal(t, int64(3), c.RowsWritten())
	assert.Equal(t, int64(2), c.BatchesFlushed())
	assert.Equal(t, 3, rec.rows)
	assert.Equal(t, []int{2, 1}, rec.flushes)
}

func TestCloseWithoutRows(t *testing.T) {
	c, sink := newTestConvertor(t, "struct<a:int>")
	require.NoError(t, c.Close())
	assert.Empty(t, sink.batches)
	assert.Equal(t, 1, sink.closes)
}

func TestCloseIsIdempotent(t *testing.T) {
	c, sink := newTestConvertor(t, "struct<a:int>")
	require.NoError(t, c.WriteJSON([]byte(`{"a":1}`)))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, 1, sink.closes)
	assert.Len(t, sink.batches, 1)

	err := c.WriteJSON([]byte(`{"a":2}`))
	assert.True(t, cerrors.IsType(err, cerrors.ErrorTypeClosed), "got %v", err)
	err = c.WriteRecord(map[string]interface{}{"a": 2})
	assert.True(t, cerrors.IsType(err, cerrors.ErrorTypeClosed), "got %v", err)
}

func TestSinkErrors(t *testing.T) {
	boom := errors.New("disk full")

	sink := &memorySink{appendErr: boom}
	c, err := New("struct<a:int>", sink, WithBatchSize(1))
	require.NoError(t, err)
	err = c.WriteJSON([]byte(`{"a":1}`))
	assert.True(t, cerrors.IsType(err, cerrors.ErrorTypeSink))
	assert.ErrorIs(t, err, boom)

	sink = &memorySink{closeErr: boom}
	c, err = New("struct<a:int>", sink)
	require.NoError(t, err)
	err = c.Close()
	assert.True(t, cerrors.IsType(err, cerrors.ErrorTypeSink))
}

func TestMissingAndUnknownFields(t *testing.T) {
	c, sink := newTestConvertor(t, "struct<id:bigint,name:string>")
	require.NoError(t, c.WriteJSON([]byte(`{"name":"x","extra":[1,2,3]}`)))
	require.NoError(t, c.Close())
	assert.Equal(t, []map[string]interface{}{{"id": nil, "name": "x"}}, sink.rows())
}

func TestScalarConversions(t *testing.T) {
	c, sink := newTestConvertor(t,
		"struct<b:boolean,t:tinyint,s:smallint,i:int,l:bigint,f:float,d:double,str:string,ch:char(2),vc:varchar(8),bin:binary,dec:decimal(6,2),ts:timestamp>")

	require.NoError(t, c.WriteJSON([]byte(`{
		"b": true, "t": -128, "s": 32767, "i": "42", "l": 9007199254740993,
		"f": 1.25, "d": "2.5", "str": 12, "ch": "ab", "vc": false,
		"bin": "a1", "dec": 1234.567, "ts": "2021-03-04T05:06:07.5+01:00"}`)))
	require.NoError(t, c.WriteJSON([]byte(`{"b":"false","l":"1e3","dec":"-0.001","ts":"2021-03-04 05:06:07"}`)))
	require.NoError(t, c.Close())

	rows := sink.rows()
	require.Len(t, rows, 2)

	first := rows[0]
	assert.Equal(t, true, first["b"])
	assert.Equal(t, int64(-128), first["t"])
	assert.Equal(t, int64(32767), first["s"])
	assert.Equal(t, int64(42), first["i"])
	assert.Equal(t, int64(9007199254740993), first["l"])
	assert.Equal(t, 1.25, first["f"])
	assert.Equal(t, 2.5, first["d"])
	assert.Equal(t, "12", first["str"])
	assert.Equal(t, "ab", first["ch"])
	assert.Equal(t, "false", first["vc"])
	assert.Equal(t, []byte{0xa1}, first["bin"])
	assert.True(t, decimal.RequireFromString("1234.57").Equal(first["dec"].(decimal.Decimal)))
	assert.True(t, time.Date(2021, 3, 4, 4, 6, 7, 5e8, time.UTC).Equal(first["ts"].(time.Time)))

	second := rows[1]
	assert.Equal(t, false, second["b"])
	assert.Equal(t, int64(1000), second["l"])
	assert.True(t, decimal.Zero.Equal(second["dec"].(decimal.Decimal)))
	assert.True(t, time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC).Equal(second["ts"].(time.Time)))
	assert.Nil(t, second["bin"])
}

func TestTimestampFormat(t *testing.T) {
	loc := time.FixedZone("plus2", 2*3600)
	c, sink := newTestConvertor(t, "struct<ts:timestamp>",
		WithTimestampFormat("2006-01-02 15:04:05"), WithLocation(loc))

	require.NoError(t, c.WriteJSON([]byte(`{"ts":"2020-01-01 10:00:00"}`)))
	require.NoError(t, c.WriteJSON([]byte(`{"ts":"01/01/2020"}`)))
	require.NoError(t, c.WriteJSON([]byte(`{"ts":42}`)))
	require.NoError(t, c.Close())

	rows := sink.rows()
	assert.True(t, time.Date(2020, 1, 1, 8, 0, 0, 0, time.UTC).Equal(rows[0]["ts"].(time.Time)))
	assert.Nil(t, rows[1]["ts"])
	assert.Nil(t, rows[2]["ts"])
}

func TestValueErrors(t *testing.T) {
	tests := map[string]struct {
		schema string
		record string
	}{
		"tinyint overflow":     {schema: "struct<a:tinyint>", record: `{"a":128}`},
		"smallint underflow":   {schema: "struct<a:smallint>", record: `{"a":-32769}`},
		"int overflow":         {schema: "struct<a:int>", record: `{"a":2147483648}`},
		"bigint overflow":      {schema: "struct<a:bigint>", record: `{"a":9223372036854775808}`},
		"fractional integer":   {schema: "struct<a:int>", record: `{"a":1.5}`},
		"integer from object":  {schema: "struct<a:int>", record: `{"a":{}}`},
		"boolean from text":    {schema: "struct<a:boolean>", record: `{"a":"yes"}`},
		"double from text":     {schema: "struct<a:double>", record: `{"a":"abc"}`},
		"string from array":    {schema: "struct<a:string>", record: `{"a":[1]}`},
		"odd hex":              {schema: "struct<a:binary>", record: `{"a":"a1b"}`},
		"invalid hex":          {schema: "struct<a:binary>", record: `{"a":"zz"}`},
		"binary from number":   {schema: "struct<a:binary>", record: `{"a":1}`},
		"decimal too wide":     {schema: "struct<a:decimal(4,2)>", record: `{"a":100}`},
		"decimal rounds over":  {schema: "struct<a:decimal(4,2)>", record: `{"a":99.999}`},
		"decimal from text":    {schema: "struct<a:decimal(4,2)>", record: `{"a":"x"}`},
		"struct from scalar":   {schema: "struct<a:struct<b:int>>", record: `{"a":1}`},
		"list from object":     {schema: "struct<a:list<int>>", record: `{"a":{"b":1}}`},
		"map from array":       {schema: "struct<a:map<string,int>>", record: `{"a":[1]}`},
		"bad list element":     {schema: "struct<a:list<int>>", record: `{"a":[1,"x"]}`},
		"bad nested map value": {schema: "struct<a:map<string,struct<b:tinyint>>>", record: `{"a":{"k":{"b":1000}}}`},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			rec := &countingRecorder{}
			c, sink := newTestConvertor(t, tt.schema, WithRecorder(rec))

			err := c.WriteJSON([]byte(tt.record))
			require.Error(t, err)
			assert.True(t, cerrors.IsType(err, cerrors.ErrorTypeValue), "got %v", err)
			assert.Equal(t, 0, c.Pending())
			assert.Equal(t, int64(0), c.RowsWritten())
			assert.Equal(t, 1, rec.rejected["value"])

			require.NoError(t, c.Close())
			assert.Empty(t, sink.batches)
		})
	}
}

func TestValueErrorNamesField(t *testing.T) {
	c, _ := newTestConvertor(t, "struct<outer:struct<inner:list<tinyint>>>")
	err := c.WriteJSON([]byte(`{"outer":{"inner":[1,300]}}`))
	require.Error(t, err)

	var e *cerrors.Error
	require.True(t, cerrors.As(err, &e))
	assert.Equal(t, "outer.inner[]", e.Details["field"])
}

func TestFailedWriteLeavesNoStaleValues(t *testing.T) {
	c, sink := newTestConvertor(t, "struct<a:int,b:tinyint>")

	// a is written before b fails; the row index is reused by the next record.
	err := c.WriteJSON([]byte(`{"a":7,"b":1000}`))
	require.Error(t, err)

	require.NoError(t, c.WriteJSON([]byte(`{"b":1}`)))
	require.NoError(t, c.Close())

	assert.Equal(t, []map[string]interface{}{{"a": nil, "b": int64(1)}}, sink.rows())
}

func TestFailedWriteReleasesChildRows(t *testing.T) {
	c, sink := newTestConvertor(t, "struct<xs:list<int>,b:tinyint>", WithBatchSize(2))

	require.Error(t, c.WriteJSON([]byte(`{"xs":[1,2,3],"b":1000}`)))
	require.NoError(t, c.WriteJSON([]byte(`{"xs":[4],"b":1}`)))
	require.NoError(t, c.WriteJSON([]byte(`{"xs":[5],"b":1}`)))
	require.Len(t, sink.batches, 1)

	xs := sink.batches[0].Cols[0].(*columnar.ListVector)
	assert.Equal(t, []int64{0, 1}, xs.Offsets[:2])
	assert.Equal(t, 2, xs.ChildCount)
	assert.Equal(t, []interface{}{int64(5)}, xs.Value(1))
}

func TestDecodeErrors(t *testing.T) {
	tests := map[string]string{
		"malformed":     `{"a":`,
		"not an object": `[1,2]`,
		"scalar":        `42`,
		"null":          `null`,
		"trailing data": `{"a":1} {"a":2}`,
		"empty":         ``,
	}
	for name, record := range tests {
		t.Run(name, func(t *testing.T) {
			rec := &countingRecorder{}
			c, _ := newTestConvertor(t, "struct<a:int>", WithRecorder(rec))

			err := c.WriteJSON([]byte(record))
			require.Error(t, err)
			assert.True(t, cerrors.IsType(err, cerrors.ErrorTypeDecode), "got %v", err)
			assert.Equal(t, 0, c.Pending())
			assert.Equal(t, 1, rec.rejected["decode"])
		})
	}

	c, sink := newTestConvertor(t, "struct<a:int>")
	require.NoError(t, c.WriteJSON([]byte("  {\"a\":1}\n")))
	require.NoError(t, c.Close())
	assert.Len(t, sink.rows(), 1)
}

func TestLists(t *testing.T) {
	c, sink := newTestConvertor(t, "struct<xs:list<int>>", WithBatchSize(4))

	require.NoError(t, c.WriteJSON([]byte(`{"xs":[1,2,3]}`)))
	require.NoError(t, c.WriteJSON([]byte(`{"xs":[]}`)))
	require.NoError(t, c.WriteJSON([]byte(`{"xs":null}`)))
	require.NoError(t, c.WriteJSON([]byte(`{"xs":[4,null]}`)))

	require.Len(t, sink.batches, 1)
	xs := sink.batches[0].Cols[0].(*columnar.ListVector)
	assert.Equal(t, []int64{0, 3, 0, 3}, xs.Offsets)
	assert.Equal(t, []int64{3, 0, 0, 2}, xs.Lengths)
	assert.Equal(t, 5, xs.ChildCount)
	assert.True(t, xs.IsNull(2))
	assert.False(t, xs.IsNull(1))

	assert.Equal(t, []interface{}{int64(1), int64(2), int64(3)}, xs.Value(0))
	assert.Equal(t, []interface{}{}, xs.Value(1))
	assert.Nil(t, xs.Value(2))
	assert.Equal(t, []interface{}{int64(4), nil}, xs.Value(3))
	require.NoError(t, c.Close())
}

func TestListGrowsPastBatchSize(t *testing.T) {
	c, sink := newTestConvertor(t, "struct<xs:list<string>>", WithBatchSize(2))
	require.NoError(t, c.WriteJSON([]byte(`{"xs":["a","b","c","d","e"]}`)))
	require.NoError(t, c.WriteJSON([]byte(`{"xs":["f"]}`)))

	xs := sink.batches[0].Cols[0].(*columnar.ListVector)
	assert.Equal(t, []interface{}{"a", "b", "c", "d", "e"}, xs.Value(0))
	assert.Equal(t, []interface{}{"f"}, xs.Value(1))
	require.NoError(t, c.Close())
}

func TestMaps(t *testing.T) {
	c, sink := newTestConvertor(t, "struct<m:map<string,double>>")
	require.NoError(t, c.WriteJSON([]byte(`{"m":{"b":2,"a":1,"c":null}}`)))
	require.NoError(t, c.WriteJSON([]byte(`{"m":{}}`)))
	require.NoError(t, c.Close())

	rows := sink.rows()
	assert.Equal(t, []columnar.MapEntry{
		{Key: "a", Value: 1.0},
		{Key: "b", Value: 2.0},
		{Key: "c", Value: nil},
	}, rows[0]["m"])
	assert.Equal(t, []columnar.MapEntry{}, rows[1]["m"])
}

func TestNestedStructs(t *testing.T) {
	c, sink := newTestConvertor(t, "struct<a:struct<b:int,c:list<struct<d:string>>>>")
	require.NoError(t, c.WriteJSON([]byte(`{"a":{"b":1,"c":[{"d":"x"},{},null]}}`)))
	require.NoError(t, c.WriteJSON([]byte(`{"a":null}`)))
	require.NoError(t, c.Close())

	rows := sink.rows()
	assert.Equal(t, map[string]interface{}{
		"b": int64(1),
		"c": []interface{}{
			map[string]interface{}{"d": "x"},
			map[string]interface{}{"d": nil},
			nil,
		},
	}, rows[0]["a"])
	assert.Nil(t, rows[1]["a"])
}

func TestWriteRecord(t *testing.T) {
	c, sink := newTestConvertor(t, "struct<a:bigint,b:double,s:string>")
	require.NoError(t, c.WriteRecord(map[string]interface{}{"a": 3, "b": int64(4), "s": 1.5}))
	require.NoError(t, c.Close())
	assert.Equal(t, []map[string]interface{}{{"a": int64(3), "b": 4.0, "s": "1.5"}}, sink.rows())
}

func TestSchemaErrors(t *testing.T) {
	tests := map[string]string{
		"malformed":       "struct<a:int",
		"root not struct": "list<int>",
		"date column":     "struct<d:date>",
		"nested date":     "struct<a:list<date>>",
		"int map key":     "struct<m:map<int,string>>",
		"varchar map key": "struct<m:map<varchar(3),string>>",
	}
	for name, desc := range tests {
		t.Run(name, func(t *testing.T) {
			sink := &memorySink{}
			_, err := New(desc, sink)
			require.Error(t, err)
			assert.True(t, cerrors.IsType(err, cerrors.ErrorTypeSchema), "got %v", err)
			assert.Equal(t, 0, sink.opens)
		})
	}
}

func TestNewFromSchema(t *testing.T) {
	root := schema.MustParse("struct<a:int>")
	sink := &memorySink{}
	c, err := NewFromSchema(root, sink, WithBatchSize(0))
	require.NoError(t, err)
	assert.Same(t, root, c.Schema())
	assert.Same(t, root, sink.root)
	assert.Equal(t, columnar.DefaultBatchSize, c.BatchSize())
}

// Package columnar holds the typed, row-indexed column buffers that converted records are
// written into, and the Batch that groups them for a sink.
package columnar

import (
	"time"

	"github.com/shopspring/decimal"

	"go_json_columnar_convertor/schema"
)

// DefaultBatchSize is the row capacity of a batch when none is configured.
const DefaultBatchSize = 1024

// Vector is one column buffer. Rows are addressed by index in [0, Len()).
type Vector interface {
	// Type is the schema node the vector was built for.
	Type() *schema.TypeNode
	// Len is the number of allocated rows.
	Len() int
	// EnsureSize grows the vector to at least n rows, keeping existing data.
	EnsureSize(n int)
	IsNull(row int) bool
	SetNull(row int)
	// NoNulls reports whether no row has been marked null since the last Reset.
	NoNulls() bool
	// Reset clears all null flags and child counts so the vector can be refilled.
	Reset()
	// Value materialises row as a plain Go value, nil when the row is null.
	Value(row int) interface{}
}

// NewVector allocates a vector for t with size rows.
func NewVector(t *schema.TypeNode, size int) Vector {
	switch t.Kind {
	case schema.KindBoolean, schema.KindByte, schema.KindShort, schema.KindInt,
		schema.KindLong, schema.KindDate:
		return &LongVector{nulls: newNulls(size), typ: t, Vector: make([]int64, size)}
	case schema.KindFloat, schema.KindDouble:
		return &DoubleVector{nulls: newNulls(size), typ: t, Vector: make([]float64, size)}
	case schema.KindString, schema.KindChar, schema.KindVarchar, schema.KindBinary:
		return &BytesVector{nulls: newNulls(size), typ: t, Vector: make([][]byte, size)}
	case schema.KindDecimal:
		return &DecimalVector{nulls: newNulls(size), typ: t, Vector: make([]decimal.Decimal, size)}
	case schema.KindTimestamp:
		return &TimestampVector{
			nulls:   newNulls(size),
			typ:     t,
			Seconds: make([]int64, size),
			Nanos:   make([]int32, size),
		}
	case schema.KindStruct:
		v := &StructVector{nulls: newNulls(size), typ: t, Fields: make([]Vector, len(t.Fields))}
		for i, f := range t.Fields {
			v.Fields[i] = NewVector(f.Type, size)
		}
		return v
	case schema.KindList:
		return &ListVector{
			multiValued: newMultiValued(size),
			typ:         t,
			Child:       NewVector(t.Elem, size),
		}
	case schema.KindMap:
		return &MapVector{
			multiValued: newMultiValued(size),
			typ:         t,
			Keys:        NewVector(t.Key, size),
			Values:      NewVector(t.Value, size),
		}
	}
	panic("columnar: unhandled kind " + t.Kind.String())
}

// grow returns the capacity to use when n rows are needed and have is allocated.
func grow(have, n int) int {
	if n <= have {
		return have
	}
	c := have * 2
	if c < n {
		c = n
	}
	return c
}

type nulls struct {
	isNull  []bool
	noNulls bool
}

func newNulls(size int) nulls {
	return nulls{isNull: make([]bool, size), noNulls: true}
}

func (n *nulls) Len() int { return len(n.isNull) }

func (n *nulls) IsNull(row int) bool { return n.isNull[row] }

func (n *nulls) SetNull(row int) {
	n.noNulls = false
	n.isNull[row] = true
}

func (n *nulls) NoNulls() bool { return n.noNulls }

func (n *nulls) setValid(row int) { n.isNull[row] = false }

func (n *nulls) resetNulls() {
	for i := range n.isNull {
		n.isNull[i] = false
	}
	n.noNulls = true
}

func (n *nulls) growNulls(size int) {
	next := make([]bool, size)
	copy(next, n.isNull)
	n.isNull = next
}

// LongVector stores booleans (0/1), all integer widths and dates (days since epoch).
type LongVector struct {
	nulls
	typ    *schema.TypeNode
	Vector []int64
}

func (v *LongVector) Type() *schema.TypeNode { return v.typ }

func (v *LongVector) EnsureSize(n int) {
	if n <= len(v.Vector) {
		return
	}
	size := grow(len(v.Vector), n)
	next := make([]int64, size)
	copy(next, v.Vector)
	v.Vector = next
	v.growNulls(size)
}

func (v *LongVector) Set(row int, val int64) {
	v.setValid(row)
	v.Vector[row] = val
}

func (v *LongVector) Reset() { v.resetNulls() }

func (v *LongVector) Value(row int) interface{} {
	if v.isNull[row] {
		return nil
	}
	switch v.typ.Kind {
	case schema.KindBoolean:
		return v.Vector[row] != 0
	case schema.KindDate:
		return time.Unix(v.Vector[row]*86400, 0).UTC()
	}
	return v.Vector[row]
}

// DoubleVector stores float and double values.
type DoubleVector struct {
	nulls
	typ    *schema.TypeNode
	Vector []float64
}

func (v *DoubleVector) Type() *schema.TypeNode { return v.typ }

func (v *DoubleVector) EnsureSize(n int) {
	if n <= len(v.Vector) {
		return
	}
	size := grow(len(v.Vector), n)
	next := make([]float64, size)
	copy(next, v.Vector)
	v.Vector = next
	v.growNulls(size)
}

func (v *DoubleVector) Set(row int, val float64) {
	v.setValid(row)
	v.Vector[row] = val
}

func (v *DoubleVector) Reset() { v.resetNulls() }

func (v *DoubleVector) Value(row int) interface{} {
	if v.isNull[row] {
		return nil
	}
	return v.Vector[row]
}

// BytesVector stores text (as UTF-8) and binary values. Set keeps a reference to the
// given slice.
type BytesVector struct {
	nulls
	typ    *schema.TypeNode
	Vector [][]byte
}

func (v *BytesVector) Type() *schema.TypeNode { return v.typ }

func (v *BytesVector) EnsureSize(n int) {
	if n <= len(v.Vector) {
		return
	}
	size := grow(len(v.Vector), n)
	next := make([][]byte, size)
	copy(next, v.Vector)
	v.Vector = next
	v.growNulls(size)
}

func (v *BytesVector) Set(row int, val []byte) {
	v.setValid(row)
	v.Vector[row] = val
}

func (v *BytesVector) Reset() { v.resetNulls() }

// Value returns a string for text kinds and a []byte for binary.
func (v *BytesVector) Value(row int) interface{} {
	if v.isNull[row] {
		return nil
	}
	if v.typ.Kind == schema.KindBinary {
		return v.Vector[row]
	}
	return string(v.Vector[row])
}

// DecimalVector stores fixed-precision decimals already rounded to the type's scale.
type DecimalVector struct {
	nulls
	typ    *schema.TypeNode
	Vector []decimal.Decimal
}

func (v *DecimalVector) Type() *schema.TypeNode { return v.typ }

func (v *DecimalVector) Precision() int { return v.typ.Precision }

func (v *DecimalVector) Scale() int { return v.typ.Scale }

func (v *DecimalVector) EnsureSize(n int) {
	if n <= len(v.Vector) {
		return
	}
	size := grow(len(v.Vector), n)
	next := make([]decimal.Decimal, size)
	copy(next, v.Vector)
	v.Vector = next
	v.growNulls(size)
}

func (v *DecimalVector) Set(row int, val decimal.Decimal) {
	v.setValid(row)
	v.Vector[row] = val
}

func (v *DecimalVector) Reset() { v.resetNulls() }

func (v *DecimalVector) Value(row int) interface{} {
	if v.isNull[row] {
		return nil
	}
	return v.Vector[row]
}

// TimestampVector stores instants as seconds and nanoseconds since the Unix epoch.
type TimestampVector struct {
	nulls
	typ     *schema.TypeNode
	Seconds []int64
	Nanos   []int32
}

func (v *TimestampVector) Type() *schema.TypeNode { return v.typ }

func (v *TimestampVector) EnsureSize(n int) {
	if n <= len(v.Seconds) {
		return
	}
	size := grow(len(v.Seconds), n)
	secs := make([]int64, size)
	copy(secs, v.Seconds)
	nanos := make([]int32, size)
	copy(nanos, v.Nanos)
	v.Seconds, v.Nanos = secs, nanos
	v.growNulls(size)
}

func (v *TimestampVector) Set(row int, t time.Time) {
	v.setValid(row)
	v.Seconds[row] = t.Unix()
	v.Nanos[row] = int32(t.Nanosecond())
}

// Time returns the row as a UTC time.
func (v *TimestampVector) Time(row int) time.Time {
	return time.Unix(v.Seconds[row], int64(v.Nanos[row])).UTC()
}

func (v *TimestampVector) Reset() { v.resetNulls() }

func (v *TimestampVector) Value(row int) interface{} {
	if v.isNull[row] {
		return nil
	}
	return v.Time(row)
}

// StructVector holds one child vector per struct member. The children share the
// struct's row space; when the struct is null at a row its children are undefined there.
type StructVector struct {
	nulls
	typ    *schema.TypeNode
	Fields []Vector
}

func (v *StructVector) Type() *schema.TypeNode { return v.typ }

func (v *StructVector) EnsureSize(n int) {
	if n <= len(v.isNull) {
		return
	}
	size := grow(len(v.isNull), n)
	v.growNulls(size)
	for _, f := range v.Fields {
		f.EnsureSize(size)
	}
}

// SetValid marks row as present.
func (v *StructVector) SetValid(row int) { v.setValid(row) }

func (v *StructVector) Reset() {
	v.resetNulls()
	for _, f := range v.Fields {
		f.Reset()
	}
}

// Value returns a map keyed by member name.
func (v *StructVector) Value(row int) interface{} {
	if v.isNull[row] {
		return nil
	}
	m := make(map[string]interface{}, len(v.Fields))
	for i, f := range v.typ.Fields {
		m[f.Name] = v.Fields[i].Value(row)
	}
	return m
}

// multiValued is the offset/length bookkeeping shared by lists and maps. Row r owns the
// child rows [Offsets[r], Offsets[r]+Lengths[r]).
type multiValued struct {
	nulls
	Offsets    []int64
	Lengths    []int64
	ChildCount int
}

func newMultiValued(size int) multiValued {
	return multiValued{
		nulls:   newNulls(size),
		Offsets: make([]int64, size),
		Lengths: make([]int64, size),
	}
}

func (m *multiValued) growRows(n int) bool {
	if n <= len(m.Offsets) {
		return false
	}
	size := grow(len(m.Offsets), n)
	offsets := make([]int64, size)
	copy(offsets, m.Offsets)
	lengths := make([]int64, size)
	copy(lengths, m.Lengths)
	m.Offsets, m.Lengths = offsets, lengths
	m.growNulls(size)
	return true
}

// Start reserves length child rows for row, starting at the current child count, and
// returns the first child index.
func (m *multiValued) Start(row, length int) int {
	m.setValid(row)
	offset := m.ChildCount
	m.Offsets[row] = int64(offset)
	m.Lengths[row] = int64(length)
	m.ChildCount += length
	return offset
}

func (m *multiValued) resetMulti() {
	m.resetNulls()
	m.ChildCount = 0
}

// ListVector stores the elements of all rows contiguously in Child.
type ListVector struct {
	multiValued
	typ   *schema.TypeNode
	Child Vector
}

func (v *ListVector) Type() *schema.TypeNode { return v.typ }

func (v *ListVector) EnsureSize(n int) { v.growRows(n) }

// Reserve marks row as a list of length elements and grows the child vector so that
// the elements fit. It returns the child index of the first element.
func (v *ListVector) Reserve(row, length int) int {
	offset := v.Start(row, length)
	v.Child.EnsureSize(v.ChildCount)
	return offset
}

func (v *ListVector) Reset() {
	v.resetMulti()
	v.Child.Reset()
}

// Value returns the elements of row as a []interface{}.
func (v *ListVector) Value(row int) interface{} {
	if v.isNull[row] {
		return nil
	}
	off, n := int(v.Offsets[row]), int(v.Lengths[row])
	out := make([]interface{}, n)
	for i := 0; i < n; i++ {
		out[i] = v.Child.Value(off + i)
	}
	return out
}

// MapEntry is one key/value pair of a materialised map row.
type MapEntry struct {
	Key   interface{}
	Value interface{}
}

// MapVector stores keys and values of all rows contiguously; Keys and Values at the same
// child index form one entry.
type MapVector struct {
	multiValued
	typ    *schema.TypeNode
	Keys   Vector
	Values Vector
}

func (v *MapVector) Type() *schema.TypeNode { return v.typ }

func (v *MapVector) EnsureSize(n int) { v.growRows(n) }

// Reserve marks row as a map of length entries and grows the key and value vectors so
// that the entries fit. It returns the child index of the first entry.
func (v *MapVector) Reserve(row, length int) int {
	offset := v.Start(row, length)
	v.Keys.EnsureSize(v.ChildCount)
	v.Values.EnsureSize(v.ChildCount)
	return offset
}

func (v *MapVector) Reset() {
	v.resetMulti()
	v.Keys.Reset()
	v.Values.Reset()
}

// Value returns the entries of row in stored order as a []MapEntry.
func (v *MapVector) Value(row int) interface{} {
	if v.isNull[row] {
		return nil
	}
	off, n := int(v.Offsets[row]), int(v.Lengths[row])
	out := make([]MapEntry, n)
	for i := 0; i < n; i++ {
		out[i] = MapEntry{Key: v.Keys.Value(off + i), Value: v.Values.Value(off + i)}
	}
	return out
}

package columnar

import (
	"fmt"

	"go_json_columnar_convertor/schema"
)

// Batch is a fixed-capacity group of top-level column vectors, one per member of the
// root struct, in declaration order. All columns share Size.
type Batch struct {
	Schema *schema.TypeNode
	Names  []string
	Cols   []Vector
	Size   int

	maxSize int
}

// NewBatch allocates an empty batch for the struct type root.
func NewBatch(root *schema.TypeNode, capacity int) (*Batch, error) {
	if root.Kind != schema.KindStruct {
		return nil, fmt.Errorf("batch root must be a struct, got %s", root.Kind)
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("batch capacity must be positive, got %d", capacity)
	}
	b := &Batch{
		Schema:  root,
		Names:   root.FieldNames(),
		Cols:    make([]Vector, len(root.Fields)),
		maxSize: capacity,
	}
	for i, f := range root.Fields {
		b.Cols[i] = NewVector(f.Type, capacity)
	}
	return b, nil
}

// MaxSize is the row capacity of the batch.
func (b *Batch) MaxSize() int { return b.maxSize }

// Full reports whether the batch has reached its capacity.
func (b *Batch) Full() bool { return b.Size >= b.maxSize }

// Reset empties the batch for reuse.
func (b *Batch) Reset() {
	b.Size = 0
	for _, c := range b.Cols {
		c.Reset()
	}
}

// Column returns the top-level column with the given name.
func (b *Batch) Column(name string) (Vector, bool) {
	for i, n := range b.Names {
		if n == name {
			return b.Cols[i], true
		}
	}
	return nil, false
}

// Row materialises row i as a map keyed by top-level field name. Null fields map to nil.
func (b *Batch) Row(i int) map[string]interface{} {
	row := make(map[string]interface{}, len(b.Cols))
	for c, name := range b.Names {
		row[name] = b.Cols[c].Value(i)
	}
	return row
}

// Rows materialises every row of the batch.
func (b *Batch) Rows() []map[string]interface{} {
	rows := make([]map[string]interface{}, b.Size)
	for i := range rows {
		rows[i] = b.Row(i)
	}
	return rows
}

// Mark is the child high-water mark of every list and map column in a batch, in the
// order they are reached walking the columns depth first.
type Mark []int

// Mark captures the child counts of all list and map vectors, including nested ones.
func (b *Batch) Mark() Mark {
	var m Mark
	for _, c := range b.Cols {
		walkMulti(c, func(mv *multiValued) { m = append(m, mv.ChildCount) })
	}
	return m
}

// Rollback restores the child counts captured by Mark, releasing child rows reserved
// by a partially written row.
func (b *Batch) Rollback(m Mark) {
	i := 0
	for _, c := range b.Cols {
		walkMulti(c, func(mv *multiValued) {
			mv.ChildCount = m[i]
			i++
		})
	}
}

func walkMulti(v Vector, fn func(*multiValued)) {
	switch v := v.(type) {
	case *StructVector:
		for _, f := range v.Fields {
			walkMulti(f, fn)
		}
	case *ListVector:
		fn(&v.multiValued)
		walkMulti(v.Child, fn)
	case *MapVector:
		fn(&v.multiValued)
		walkMulti(v.Keys, fn)
		walkMulti(v.Values, fn)
	}
}

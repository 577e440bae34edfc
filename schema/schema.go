// Package schema contains the type tree that drives record conversion.
//
// A schema is described with a compact textual grammar, for example
//
//	struct<price_date:string,id:string,close_price:double>
//
// with the composite forms list<T> (or array<T>), map<K,V> and struct<name:T,...>, and the
// parameterised forms decimal(p,s), char(n) and varchar(n). Parse turns such a description
// into a tree of TypeNode values; the tree is immutable after parsing and is shared
// read-only by everything that is built from it.
package schema

import (
	"strconv"
	"strings"
)

// Kind is the category of a TypeNode.
type Kind int

const (
	KindBoolean Kind = iota
	KindByte
	KindShort
	KindInt
	KindLong
	KindFloat
	KindDouble
	KindString
	KindChar
	KindVarchar
	KindBinary
	KindDecimal
	KindTimestamp
	KindDate
	KindStruct
	KindList
	KindMap
)

var kindNames = map[Kind]string{
	KindBoolean:   "boolean",
	KindByte:      "tinyint",
	KindShort:     "smallint",
	KindInt:       "int",
	KindLong:      "bigint",
	KindFloat:     "float",
	KindDouble:    "double",
	KindString:    "string",
	KindChar:      "char",
	KindVarchar:   "varchar",
	KindBinary:    "binary",
	KindDecimal:   "decimal",
	KindTimestamp: "timestamp",
	KindDate:      "date",
	KindStruct:    "struct",
	KindList:      "list",
	KindMap:       "map",
}

func (k Kind) String() string {
	n, ok := kindNames[k]
	if !ok {
		return "<kind:" + strconv.Itoa(int(k)) + ">"
	}
	return n
}

// IsInteger reports whether values of the kind are stored as 64-bit integers.
func (k Kind) IsInteger() bool {
	switch k {
	case KindByte, KindShort, KindInt, KindLong:
		return true
	}
	return false
}

// IsText reports whether the kind holds UTF-8 text.
func (k Kind) IsText() bool {
	return k == KindString || k == KindChar || k == KindVarchar
}

// IsComposite reports whether the kind has child types.
func (k Kind) IsComposite() bool {
	return k == KindStruct || k == KindList || k == KindMap
}

const (
	// MaxDecimalPrecision is the largest precision a decimal may declare.
	MaxDecimalPrecision = 38
	// DefaultDecimalPrecision is used for a bare "decimal".
	DefaultDecimalPrecision = 38
	// DefaultDecimalScale is used for a bare "decimal".
	DefaultDecimalScale = 10
)

// Field is one named member of a struct.
type Field struct {
	Name string
	Type *TypeNode
}

// TypeNode is one node of a schema tree.
type TypeNode struct {
	Kind Kind

	// Precision and Scale are set for KindDecimal.
	Precision int
	Scale     int

	// MaxLength is the declared width of KindChar and KindVarchar. It is informational;
	// values are not checked against it.
	MaxLength int

	// Fields holds the members of a KindStruct in declaration order.
	Fields []Field

	// Elem is the element type of a KindList.
	Elem *TypeNode

	// Key and Value are the entry types of a KindMap.
	Key   *TypeNode
	Value *TypeNode
}

// FieldNames returns the member names of a struct in declaration order.
func (t *TypeNode) FieldNames() []string {
	names := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		names[i] = f.Name
	}
	return names
}

// Children returns the direct child types: struct members, the list element, or the map
// key and value.
func (t *TypeNode) Children() []*TypeNode {
	switch t.Kind {
	case KindStruct:
		kids := make([]*TypeNode, len(t.Fields))
		for i, f := range t.Fields {
			kids[i] = f.Type
		}
		return kids
	case KindList:
		return []*TypeNode{t.Elem}
	case KindMap:
		return []*TypeNode{t.Key, t.Value}
	}
	return nil
}

// Field looks up a struct member by name.
func (t *TypeNode) Field(name string) (*TypeNode, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f.Type, true
		}
	}
	return nil, false
}

// Walk visits t and all of its descendants depth-first. The path of the root is empty;
// struct members append ".name", list elements "[]" and map keys/values "{key}"/"{}".
func (t *TypeNode) Walk(fn func(path string, node *TypeNode) error) error {
	return t.walk("", fn)
}

func (t *TypeNode) walk(path string, fn func(string, *TypeNode) error) error {
	if err := fn(path, t); err != nil {
		return err
	}
	switch t.Kind {
	case KindStruct:
		for _, f := range t.Fields {
			if err := f.Type.walk(JoinPath(path, f.Name), fn); err != nil {
				return err
			}
		}
	case KindList:
		return t.Elem.walk(path+"[]", fn)
	case KindMap:
		if err := t.Key.walk(path+"{key}", fn); err != nil {
			return err
		}
		return t.Value.walk(path+"{}", fn)
	}
	return nil
}

// JoinPath appends a struct member name to a dotted path.
func JoinPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

// Equal reports whether two trees describe the same type.
func (t *TypeNode) Equal(o *TypeNode) bool {
	if t == nil || o == nil {
		return t == o
	}
	if t.Kind != o.Kind {
		return false
	}
	switch t.Kind {
	case KindDecimal:
		return t.Precision == o.Precision && t.Scale == o.Scale
	case KindChar, KindVarchar:
		return t.MaxLength == o.MaxLength
	case KindStruct:
		if len(t.Fields) != len(o.Fields) {
			return false
		}
		for i := range t.Fields {
			if t.Fields[i].Name != o.Fields[i].Name || !t.Fields[i].Type.Equal(o.Fields[i].Type) {
				return false
			}
		}
		return true
	case KindList:
		return t.Elem.Equal(o.Elem)
	case KindMap:
		return t.Key.Equal(o.Key) && t.Value.Equal(o.Value)
	}
	return true
}

// String renders the canonical description of t. Parse(t.String()) yields an equal tree.
func (t *TypeNode) String() string {
	var sb strings.Builder
	t.printTo(&sb)
	return sb.String()
}

func (t *TypeNode) printTo(sb *strings.Builder) {
	sb.WriteString(t.Kind.String())
	switch t.Kind {
	case KindDecimal:
		sb.WriteString("(")
		sb.WriteString(strconv.Itoa(t.Precision))
		sb.WriteString(",")
		sb.WriteString(strconv.Itoa(t.Scale))
		sb.WriteString(")")
	case KindChar, KindVarchar:
		sb.WriteString("(")
		sb.WriteString(strconv.Itoa(t.MaxLength))
		sb.WriteString(")")
	case KindStruct:
		sb.WriteString("<")
		for i, f := range t.Fields {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString(quoteName(f.Name))
			sb.WriteString(":")
			f.Type.printTo(sb)
		}
		sb.WriteString(">")
	case KindList:
		sb.WriteString("<")
		t.Elem.printTo(sb)
		sb.WriteString(">")
	case KindMap:
		sb.WriteString("<")
		t.Key.printTo(sb)
		sb.WriteString(",")
		t.Value.printTo(sb)
		sb.WriteString(">")
	}
}

func quoteName(name string) string {
	if name == "" {
		return "``"
	}
	for i, r := range name {
		if !isAlpha(r) && (i == 0 || !isDigit(r)) {
			return "`" + name + "`"
		}
	}
	return name
}

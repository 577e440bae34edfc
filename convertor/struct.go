package convertor

import (
	"sort"

	"go_json_columnar_convertor/columnar"
	cerrors "go_json_columnar_convertor/errors"
	"go_json_columnar_convertor/schema"
)

type structConverter struct {
	path     string
	names    []string
	children []converter
}

func (c *Convertor) newStructConverter(t *schema.TypeNode, path string) (*structConverter, error) {
	sc := &structConverter{
		path:     path,
		names:    t.FieldNames(),
		children: make([]converter, len(t.Fields)),
	}
	for i, f := range t.Fields {
		child, err := c.compile(f.Type, schema.JoinPath(path, f.Name))
		if err != nil {
			return nil, err
		}
		sc.children[i] = child
	}
	return sc, nil
}

func (c *structConverter) convert(value interface{}, vec columnar.Vector, row int) error {
	if value == nil {
		vec.SetNull(row)
		return nil
	}
	obj, ok := value.(map[string]interface{})
	if !ok {
		return valueError(c.path, schema.KindStruct, value, nil)
	}
	sv := vec.(*columnar.StructVector)
	sv.SetValid(row)
	for i, child := range c.children {
		if err := child.convert(obj[c.names[i]], sv.Fields[i], row); err != nil {
			return err
		}
	}
	return nil
}

type listConverter struct {
	path string
	elem converter
}

func (c *Convertor) newListConverter(t *schema.TypeNode, path string) (*listConverter, error) {
	elem, err := c.compile(t.Elem, path+"[]")
	if err != nil {
		return nil, err
	}
	return &listConverter{path: path, elem: elem}, nil
}

func (c *listConverter) convert(value interface{}, vec columnar.Vector, row int) error {
	if value == nil {
		vec.SetNull(row)
		return nil
	}
	arr, ok := value.([]interface{})
	if !ok {
		return valueError(c.path, schema.KindList, value, nil)
	}
	lv := vec.(*columnar.ListVector)
	offset := lv.Reserve(row, len(arr))
	for i, elem := range arr {
		if err := c.elem.convert(elem, lv.Child, offset+i); err != nil {
			return err
		}
	}
	return nil
}

// mapConverter writes entries in ascending key order so that equal maps always produce
// the same column layout.
type mapConverter struct {
	path  string
	key   converter
	value converter
}

func (c *Convertor) newMapConverter(t *schema.TypeNode, path string) (*mapConverter, error) {
	if t.Key.Kind != schema.KindString {
		return nil, cerrors.Newf(cerrors.ErrorTypeSchema,
			"map keys must be string, got %s", t.Key).WithDetail("field", path)
	}
	key, err := c.compile(t.Key, path+"{key}")
	if err != nil {
		return nil, err
	}
	value, err := c.compile(t.Value, path+"{}")
	if err != nil {
		return nil, err
	}
	return &mapConverter{path: path, key: key, value: value}, nil
}

func (c *mapConverter) convert(value interface{}, vec columnar.Vector, row int) error {
	if value == nil {
		vec.SetNull(row)
		return nil
	}
	obj, ok := value.(map[string]interface{})
	if !ok {
		return valueError(c.path, schema.KindMap, value, nil)
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	mv := vec.(*columnar.MapVector)
	offset := mv.Reserve(row, len(keys))
	for i, k := range keys {
		if err := c.key.convert(k, mv.Keys, offset+i); err != nil {
			return err
		}
		if err := c.value.convert(obj[k], mv.Values, offset+i); err != nil {
			return err
		}
	}
	return nil
}

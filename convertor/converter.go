package convertor

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	gojson "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"go_json_columnar_convertor/columnar"
	cerrors "go_json_columnar_convertor/errors"
	"go_json_columnar_convertor/schema"
)

// converter writes one decoded value into one vector at one row. value is nil when the
// field is absent or an explicit null.
type converter interface {
	convert(value interface{}, vec columnar.Vector, row int) error
}

// compile builds the converter tree for t. It runs once per schema.
func (c *Convertor) compile(t *schema.TypeNode, path string) (converter, error) {
	switch t.Kind {
	case schema.KindBoolean:
		return &booleanConverter{path: path}, nil
	case schema.KindByte:
		return &longConverter{path: path, kind: t.Kind, min: math.MinInt8, max: math.MaxInt8}, nil
	case schema.KindShort:
		return &longConverter{path: path, kind: t.Kind, min: math.MinInt16, max: math.MaxInt16}, nil
	case schema.KindInt:
		return &longConverter{path: path, kind: t.Kind, min: math.MinInt32, max: math.MaxInt32}, nil
	case schema.KindLong:
		return &longConverter{path: path, kind: t.Kind, min: math.MinInt64, max: math.MaxInt64}, nil
	case schema.KindFloat, schema.KindDouble:
		return &doubleConverter{path: path, kind: t.Kind}, nil
	case schema.KindString, schema.KindChar, schema.KindVarchar:
		return &stringConverter{path: path, kind: t.Kind}, nil
	case schema.KindBinary:
		return &binaryConverter{path: path}, nil
	case schema.KindDecimal:
		return &decimalConverter{
			path:  path,
			typ:   t,
			limit: decimal.New(1, int32(t.Precision-t.Scale)),
		}, nil
	case schema.KindTimestamp:
		return &timestampConverter{
			path:   path,
			layout: c.opts.timestampFormat,
			loc:    c.opts.location,
		}, nil
	case schema.KindStruct:
		return c.newStructConverter(t, path)
	case schema.KindList:
		return c.newListConverter(t, path)
	case schema.KindMap:
		return c.newMapConverter(t, path)
	}
	return nil, cerrors.Newf(cerrors.ErrorTypeSchema, "unhandled type %s", t).
		WithDetail("field", path)
}

func valueError(path string, kind schema.Kind, value interface{}, cause error) error {
	err := cerrors.Newf(cerrors.ErrorTypeValue, "cannot convert %s to %s", jsonKind(value), kind).
		WithDetail("field", path)
	err.Cause = cause
	return err
}

func jsonKind(value interface{}) string {
	switch v := value.(type) {
	case map[string]interface{}:
		return "object"
	case []interface{}:
		return "array"
	case string:
		return fmt.Sprintf("string %q", truncate(v))
	case gojson.Number:
		return "number " + truncate(string(v))
	case bool:
		return "boolean"
	case float64, float32, int, int32, int64:
		return fmt.Sprintf("number %v", v)
	}
	return fmt.Sprintf("%T", value)
}

func truncate(s string) string {
	if len(s) > 32 {
		return s[:32] + "..."
	}
	return s
}

// numberText returns the literal text of a numeric or string value.
func numberText(value interface{}) (string, bool) {
	switch v := value.(type) {
	case gojson.Number:
		return string(v), true
	case string:
		return strings.TrimSpace(v), true
	}
	return "", false
}

type booleanConverter struct {
	path string
}

func (c *booleanConverter) convert(value interface{}, vec columnar.Vector, row int) error {
	if value == nil {
		vec.SetNull(row)
		return nil
	}
	var b bool
	switch v := value.(type) {
	case bool:
		b = v
	default:
		s, ok := numberText(value)
		if !ok {
			return valueError(c.path, schema.KindBoolean, value, nil)
		}
		parsed, err := strconv.ParseBool(s)
		if err != nil {
			return valueError(c.path, schema.KindBoolean, value, err)
		}
		b = parsed
	}
	var n int64
	if b {
		n = 1
	}
	vec.(*columnar.LongVector).Set(row, n)
	return nil
}

type longConverter struct {
	path     string
	kind     schema.Kind
	min, max int64
}

func (c *longConverter) convert(value interface{}, vec columnar.Vector, row int) error {
	if value == nil {
		vec.SetNull(row)
		return nil
	}
	n, err := c.toInt64(value)
	if err != nil {
		return valueError(c.path, c.kind, value, err)
	}
	if n < c.min || n > c.max {
		return valueError(c.path, c.kind, value, fmt.Errorf("%d out of range [%d,%d]", n, c.min, c.max))
	}
	vec.(*columnar.LongVector).Set(row, n)
	return nil
}

func (c *longConverter) toInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) || v < math.MinInt64 || v >= math.MaxInt64 {
			return 0, fmt.Errorf("%v is not a 64-bit integer", v)
		}
		return int64(v), nil
	}
	s, ok := numberText(value)
	if !ok {
		return 0, fmt.Errorf("not a number")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	// Exponent or fractional notation of an integral value, e.g. 1e3 or 10.0.
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	if !d.IsInteger() {
		return 0, fmt.Errorf("%s is not integral", s)
	}
	bi := d.BigInt()
	if !bi.IsInt64() {
		return 0, fmt.Errorf("%s overflows 64 bits", s)
	}
	return bi.Int64(), nil
}

type doubleConverter struct {
	path string
	kind schema.Kind
}

func (c *doubleConverter) convert(value interface{}, vec columnar.Vector, row int) error {
	if value == nil {
		vec.SetNull(row)
		return nil
	}
	var f float64
	switch v := value.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int64:
		f = float64(v)
	case int:
		f = float64(v)
	default:
		s, ok := numberText(value)
		if !ok {
			return valueError(c.path, c.kind, value, nil)
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return valueError(c.path, c.kind, value, err)
		}
		f = parsed
	}
	vec.(*columnar.DoubleVector).Set(row, f)
	return nil
}

type stringConverter struct {
	path string
	kind schema.Kind
}

func (c *stringConverter) convert(value interface{}, vec columnar.Vector, row int) error {
	if value == nil {
		vec.SetNull(row)
		return nil
	}
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case gojson.Number:
		s = string(v)
	case bool:
		s = strconv.FormatBool(v)
	case float64:
		s = strconv.FormatFloat(v, 'g', -1, 64)
	case int64:
		s = strconv.FormatInt(v, 10)
	case int:
		s = strconv.Itoa(v)
	default:
		return valueError(c.path, c.kind, value, nil)
	}
	vec.(*columnar.BytesVector).Set(row, []byte(s))
	return nil
}

type binaryConverter struct {
	path string
}

func (c *binaryConverter) convert(value interface{}, vec columnar.Vector, row int) error {
	if value == nil {
		vec.SetNull(row)
		return nil
	}
	s, ok := value.(string)
	if !ok {
		return valueError(c.path, schema.KindBinary, value, nil)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return valueError(c.path, schema.KindBinary, value, err)
	}
	vec.(*columnar.BytesVector).Set(row, b)
	return nil
}

type decimalConverter struct {
	path  string
	typ   *schema.TypeNode
	limit decimal.Decimal
}

func (c *decimalConverter) convert(value interface{}, vec columnar.Vector, row int) error {
	if value == nil {
		vec.SetNull(row)
		return nil
	}
	var d decimal.Decimal
	switch v := value.(type) {
	case float64:
		d = decimal.NewFromFloat(v)
	case int64:
		d = decimal.NewFromInt(v)
	case int:
		d = decimal.NewFromInt(int64(v))
	default:
		s, ok := numberText(value)
		if !ok {
			return valueError(c.path, schema.KindDecimal, value, nil)
		}
		parsed, err := decimal.NewFromString(s)
		if err != nil {
			return valueError(c.path, schema.KindDecimal, value, err)
		}
		d = parsed
	}
	d = d.Round(int32(c.typ.Scale))
	if d.Abs().GreaterThanOrEqual(c.limit) {
		return valueError(c.path, schema.KindDecimal, value,
			fmt.Errorf("%s does not fit decimal(%d,%d)", d, c.typ.Precision, c.typ.Scale))
	}
	vec.(*columnar.DecimalVector).Set(row, d)
	return nil
}

// timestampConverter parses text with the configured layout. A value carrying a zone
// offset keeps it; one without is read in loc. Unparseable values become null.
type timestampConverter struct {
	path   string
	layout string
	loc    *time.Location
}

func (c *timestampConverter) convert(value interface{}, vec columnar.Vector, row int) error {
	if value == nil {
		vec.SetNull(row)
		return nil
	}
	var (
		t   time.Time
		err error
	)
	switch v := value.(type) {
	case time.Time:
		t = v
	case string:
		t, err = c.parse(v)
	case gojson.Number:
		t, err = c.parse(string(v))
	default:
		err = fmt.Errorf("not text")
	}
	if err != nil {
		vec.SetNull(row)
		return nil
	}
	vec.(*columnar.TimestampVector).Set(row, t)
	return nil
}

func (c *timestampConverter) parse(s string) (time.Time, error) {
	if c.layout == "" {
		return dateparse.ParseIn(s, c.loc)
	}
	return time.ParseInLocation(c.layout, s, c.loc)
}

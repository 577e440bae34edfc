package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "go_json_columnar_convertor/errors"
)

func TestParseScalars(t *testing.T) {
	tests := map[string]struct {
		in   string
		want *TypeNode
	}{
		"boolean":         {in: "boolean", want: &TypeNode{Kind: KindBoolean}},
		"tinyint":         {in: "tinyint", want: &TypeNode{Kind: KindByte}},
		"smallint":        {in: "smallint", want: &TypeNode{Kind: KindShort}},
		"int":             {in: "int", want: &TypeNode{Kind: KindInt}},
		"bigint":          {in: "bigint", want: &TypeNode{Kind: KindLong}},
		"float":           {in: "float", want: &TypeNode{Kind: KindFloat}},
		"double":          {in: "double", want: &TypeNode{Kind: KindDouble}},
		"string":          {in: "string", want: &TypeNode{Kind: KindString}},
		"binary":          {in: "binary", want: &TypeNode{Kind: KindBinary}},
		"timestamp":       {in: "timestamp", want: &TypeNode{Kind: KindTimestamp}},
		"date":            {in: "date", want: &TypeNode{Kind: KindDate}},
		"upper case":      {in: "BIGINT", want: &TypeNode{Kind: KindLong}},
		"char":            {in: "char(3)", want: &TypeNode{Kind: KindChar, MaxLength: 3}},
		"varchar":         {in: "varchar(255)", want: &TypeNode{Kind: KindVarchar, MaxLength: 255}},
		"decimal":         {in: "decimal(10,2)", want: &TypeNode{Kind: KindDecimal, Precision: 10, Scale: 2}},
		"decimal spaces":  {in: " decimal ( 5 , 0 ) ", want: &TypeNode{Kind: KindDecimal, Precision: 5}},
		"decimal default": {in: "decimal", want: &TypeNode{Kind: KindDecimal, Precision: 38, Scale: 10}},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}

func TestParseComposite(t *testing.T) {
	got, err := Parse("struct<price_date:string,id:string,close_price:double,tags:array<int>,attrs:map<string,struct<a:bigint>>>")
	require.NoError(t, err)

	require.Equal(t, KindStruct, got.Kind)
	assert.Equal(t, []string{"price_date", "id", "close_price", "tags", "attrs"}, got.FieldNames())

	tags, ok := got.Field("tags")
	require.True(t, ok)
	assert.Equal(t, KindList, tags.Kind)
	assert.Equal(t, KindInt, tags.Elem.Kind)

	attrs, ok := got.Field("attrs")
	require.True(t, ok)
	assert.Equal(t, KindMap, attrs.Kind)
	assert.Equal(t, KindString, attrs.Key.Kind)
	assert.Equal(t, []string{"a"}, attrs.Value.FieldNames())

	_, ok = got.Field("missing")
	assert.False(t, ok)
}

func TestParseQuotedNames(t *testing.T) {
	got, err := Parse("struct<`first name`:string,`1st`:int,plain:int>")
	require.NoError(t, err)
	assert.Equal(t, []string{"first name", "1st", "plain"}, got.FieldNames())
	assert.Equal(t, "struct<`first name`:string,`1st`:int,plain:int>", got.String())
}

func TestParseErrors(t *testing.T) {
	tests := map[string]string{
		"empty":              "",
		"unknown type":       "struct<a:uuid>",
		"empty struct":       "struct<>",
		"empty list":         "list<>",
		"empty map":          "map<>",
		"duplicate field":    "struct<a:int,a:string>",
		"missing colon":      "struct<a int>",
		"unterminated":       "struct<a:int",
		"trailing input":     "struct<a:int> extra",
		"precision too big":  "decimal(39,2)",
		"zero precision":     "decimal(0,0)",
		"scale > precision":  "decimal(4,5)",
		"char without size":  "char",
		"zero length":        "varchar(0)",
		"map one param":      "map<string>",
		"bad character":      "struct<a:int;b:int>",
		"unterminated quote": "struct<`a:int>",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := Parse(in)
			require.Error(t, err)
			assert.Nil(t, got)
			assert.True(t, cerrors.IsType(err, cerrors.ErrorTypeSchema), "unexpected error %v", err)
		})
	}
}

func TestMustParsePanics(t *testing.T) {
	assert.Panics(t, func() { MustParse("struct<") })
	assert.NotPanics(t, func() { MustParse("struct<a:int>") })
}

func TestStringRoundTrip(t *testing.T) {
	for _, in := range []string{
		"struct<a:int,b:list<map<string,decimal(12,4)>>,c:struct<d:char(2),e:varchar(9)>>",
		"list<timestamp>",
		"map<string,binary>",
		"decimal(38,10)",
	} {
		t.Run(in, func(t *testing.T) {
			first := MustParse(in)
			assert.Equal(t, in, first.String())

			second, err := Parse(first.String())
			require.NoError(t, err)
			assert.True(t, first.Equal(second))
		})
	}

	assert.Equal(t, "list<int>", MustParse("array<INT>").String())
}

func TestWalk(t *testing.T) {
	root := MustParse("struct<a:int,b:list<struct<c:string>>,m:map<string,double>>")

	var paths []string
	err := root.Walk(func(path string, node *TypeNode) error {
		paths = append(paths, path+"="+node.Kind.String())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"=struct",
		"a=int",
		"b=list",
		"b[]=struct",
		"b[].c=string",
		"m=map",
		"m{key}=string",
		"m{}=double",
	}, paths)
}

func TestEqual(t *testing.T) {
	assert.True(t, MustParse("decimal(5,2)").Equal(MustParse("decimal(5,2)")))
	assert.False(t, MustParse("decimal(5,2)").Equal(MustParse("decimal(5,3)")))
	assert.False(t, MustParse("struct<a:int>").Equal(MustParse("struct<b:int>")))
	assert.False(t, MustParse("list<int>").Equal(MustParse("list<bigint>")))
	assert.False(t, MustParse("char(2)").Equal(MustParse("char(3)")))
	assert.True(t, (*TypeNode)(nil).Equal(nil))
}

func TestKindHelpers(t *testing.T) {
	assert.True(t, KindByte.IsInteger())
	assert.False(t, KindDouble.IsInteger())
	assert.True(t, KindVarchar.IsText())
	assert.False(t, KindBinary.IsText())
	assert.True(t, KindMap.IsComposite())
	assert.Equal(t, "bigint", KindLong.String())
	assert.Equal(t, "<kind:99>", Kind(99).String())
}

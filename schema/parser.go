package schema

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	cerrors "go_json_columnar_convertor/errors"
)

type item struct {
	typ itemType
	pos pos
	val string
}

type pos int

func (i item) String() string {
	switch {
	case i.typ == itemEOF:
		return "EOF"
	case i.typ == itemError:
		return i.val
	case len(i.val) > 10:
		return fmt.Sprintf("%.10q...", i.val)
	}
	return fmt.Sprintf("%q", i.val)
}

type itemType int

const (
	itemError itemType = iota
	itemEOF

	itemLess
	itemGreater
	itemLeftParen
	itemRightParen
	itemComma
	itemColon
	itemNumber
	itemIdentifier
	itemQuoted
)

func (i itemType) String() string {
	typeNames := map[itemType]string{
		itemError:      "error",
		itemEOF:        "EOF",
		itemLess:       "<",
		itemGreater:    ">",
		itemLeftParen:  "(",
		itemRightParen: ")",
		itemComma:      ",",
		itemColon:      ":",
		itemNumber:     "number",
		itemIdentifier: "identifier",
		itemQuoted:     "quoted name",
	}

	n, ok := typeNames[i]
	if !ok {
		return fmt.Sprintf("<type:%d>", int(i))
	}
	return n
}

const eof = -1

type stateFn func(*schemaLexer) stateFn

type schemaLexer struct {
	input string
	pos   pos
	start pos
	width pos
	items chan item
}

func (l *schemaLexer) next() rune {
	if int(l.pos) >= len(l.input) {
		l.width = 0
		return eof
	}

	r, w := utf8.DecodeRuneInString(l.input[l.pos:])
	l.width = pos(w)
	l.pos += l.width
	return r
}

func (l *schemaLexer) peek() rune {
	r := l.next()
	l.backup()
	return r
}

func (l *schemaLexer) backup() {
	l.pos -= l.width
}

func (l *schemaLexer) ignore() {
	l.start = l.pos
}

func (l *schemaLexer) emit(t itemType) {
	l.items <- item{t, l.start, l.input[l.start:l.pos]}
	l.start = l.pos
}

func (l *schemaLexer) errorf(format string, args ...interface{}) stateFn {
	l.items <- item{itemError, l.start, fmt.Sprintf(format, args...)}
	return nil
}

func (l *schemaLexer) nextItem() item {
	it, ok := <-l.items
	if !ok {
		return item{typ: itemEOF, pos: pos(len(l.input))}
	}
	return it
}

func (l *schemaLexer) drain() {
	for range l.items {
	}
}

func lex(input string) *schemaLexer {
	l := &schemaLexer{
		input: input,
		items: make(chan item),
	}

	go l.run()
	return l
}

func (l *schemaLexer) run() {
	for state := lexText; state != nil; {
		state = state(l)
	}
	close(l.items)
}

func lexText(l *schemaLexer) stateFn {
	switch r := l.next(); {
	case r == eof:
		l.emit(itemEOF)
		return nil
	case isSpace(r):
		return lexSpace
	case r == '<':
		l.emit(itemLess)
	case r == '>':
		l.emit(itemGreater)
	case r == '(':
		l.emit(itemLeftParen)
	case r == ')':
		l.emit(itemRightParen)
	case r == ',':
		l.emit(itemComma)
	case r == ':':
		l.emit(itemColon)
	case r == '`':
		return lexQuoted
	case isDigit(r):
		return lexNumber
	case isAlpha(r):
		return lexIdentifier
	default:
		return l.errorf("unknown start of token %q", r)
	}
	return lexText
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

func isDigit(r rune) bool {
	return unicode.IsDigit(r)
}

func isAlpha(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isAlphaNum(r rune) bool {
	return isAlpha(r) || isDigit(r)
}

func lexSpace(l *schemaLexer) stateFn {
	for isSpace(l.peek()) {
		l.next()
	}
	l.ignore()
	return lexText
}

func lexNumber(l *schemaLexer) stateFn {
	for isDigit(l.peek()) {
		l.next()
	}
	l.emit(itemNumber)
	return lexText
}

func lexIdentifier(l *schemaLexer) stateFn {
	for isAlphaNum(l.peek()) {
		l.next()
	}
	l.emit(itemIdentifier)
	return lexText
}

// lexQuoted scans a backquoted field name. The emitted value excludes the quotes.
func lexQuoted(l *schemaLexer) stateFn {
	l.ignore()
	for {
		switch l.next() {
		case eof:
			return l.errorf("unterminated quoted name")
		case '`':
			l.backup()
			l.emit(itemQuoted)
			l.next()
			l.ignore()
			return lexText
		}
	}
}

type schemaParser struct {
	l      *schemaLexer
	token  item
	peeked *item
	root   *TypeNode
}

func newSchemaParser(text string) *schemaParser {
	return &schemaParser{l: lex(text)}
}

// Parse parses a schema description into a type tree.
func Parse(description string) (*TypeNode, error) {
	p := newSchemaParser(description)
	if err := p.parse(); err != nil {
		return nil, err
	}
	return p.root, nil
}

// MustParse is like Parse but panics on error. It is meant for package-level schemas
// and tests.
func MustParse(description string) *TypeNode {
	t, err := Parse(description)
	if err != nil {
		panic(err)
	}
	return t
}

func (p *schemaParser) parse() (err error) {
	defer p.recover(&err)

	p.next()
	p.root = p.parseType()

	p.next()
	p.expect(itemEOF)

	return nil
}

func (p *schemaParser) recover(errp *error) {
	if e := recover(); e != nil {
		if _, ok := e.(runtime.Error); ok {
			panic(e)
		}
		p.l.drain()
		p.root = nil
		*errp = e.(error)
	}
}

func (p *schemaParser) errorf(msg string, args ...interface{}) {
	err := cerrors.Newf(cerrors.ErrorTypeSchema, msg, args...).
		WithDetail("pos", int(p.token.pos))
	panic(err)
}

func (p *schemaParser) expect(typ itemType) {
	if p.token.typ == itemError {
		p.errorf("%s", p.token.val)
	}
	if p.token.typ != typ {
		p.errorf("expected %s, got %s instead", typ, p.token)
	}
}

func (p *schemaParser) next() {
	if p.peeked != nil {
		p.token = *p.peeked
		p.peeked = nil
		return
	}
	p.token = p.l.nextItem()
}

func (p *schemaParser) peek() item {
	if p.peeked == nil {
		it := p.l.nextItem()
		p.peeked = &it
	}
	return *p.peeked
}

// parseType parses the type starting at the current token. On return the current token
// is the last token of the type.
func (p *schemaParser) parseType() *TypeNode {
	p.expect(itemIdentifier)

	name := strings.ToLower(p.token.val)
	switch name {
	case "boolean":
		return &TypeNode{Kind: KindBoolean}
	case "tinyint":
		return &TypeNode{Kind: KindByte}
	case "smallint":
		return &TypeNode{Kind: KindShort}
	case "int":
		return &TypeNode{Kind: KindInt}
	case "bigint":
		return &TypeNode{Kind: KindLong}
	case "float":
		return &TypeNode{Kind: KindFloat}
	case "double":
		return &TypeNode{Kind: KindDouble}
	case "string":
		return &TypeNode{Kind: KindString}
	case "binary":
		return &TypeNode{Kind: KindBinary}
	case "timestamp":
		return &TypeNode{Kind: KindTimestamp}
	case "date":
		return &TypeNode{Kind: KindDate}
	case "char", "varchar":
		return p.parseSized(name)
	case "decimal":
		return p.parseDecimal()
	case "struct":
		return p.parseStruct()
	case "list", "array":
		return p.parseList()
	case "map":
		return p.parseMap()
	}

	p.errorf("unknown type %q", p.token.val)
	return nil
}

func (p *schemaParser) parseNumber(what string) int {
	p.next()
	p.expect(itemNumber)
	n, err := strconv.Atoi(p.token.val)
	if err != nil {
		p.errorf("invalid %s %q", what, p.token.val)
	}
	return n
}

func (p *schemaParser) parseSized(name string) *TypeNode {
	t := &TypeNode{Kind: KindChar}
	if name == "varchar" {
		t.Kind = KindVarchar
	}

	p.next()
	p.expect(itemLeftParen)
	t.MaxLength = p.parseNumber(name + " length")
	if t.MaxLength <= 0 {
		p.errorf("%s length must be positive, got %d", name, t.MaxLength)
	}
	p.next()
	p.expect(itemRightParen)
	return t
}

func (p *schemaParser) parseDecimal() *TypeNode {
	t := &TypeNode{
		Kind:      KindDecimal,
		Precision: DefaultDecimalPrecision,
		Scale:     DefaultDecimalScale,
	}
	if p.peek().typ != itemLeftParen {
		return t
	}
	p.next()

	t.Precision = p.parseNumber("decimal precision")
	p.next()
	p.expect(itemComma)
	t.Scale = p.parseNumber("decimal scale")
	p.next()
	p.expect(itemRightParen)

	if t.Precision < 1 || t.Precision > MaxDecimalPrecision {
		p.errorf("decimal precision %d out of range [1,%d]", t.Precision, MaxDecimalPrecision)
	}
	if t.Scale > t.Precision {
		p.errorf("decimal scale %d exceeds precision %d", t.Scale, t.Precision)
	}
	return t
}

func (p *schemaParser) parseStruct() *TypeNode {
	t := &TypeNode{Kind: KindStruct}
	seen := make(map[string]bool)

	p.next()
	p.expect(itemLess)
	if p.peek().typ == itemGreater {
		p.next()
		p.errorf("struct must declare at least one field")
	}

	for {
		p.next()
		if p.token.typ != itemQuoted {
			p.expect(itemIdentifier)
		}
		name := p.token.val
		if seen[name] {
			p.errorf("duplicate field name %q", name)
		}
		seen[name] = true

		p.next()
		p.expect(itemColon)
		p.next()
		t.Fields = append(t.Fields, Field{Name: name, Type: p.parseType()})

		p.next()
		if p.token.typ == itemGreater {
			return t
		}
		p.expect(itemComma)
	}
}

func (p *schemaParser) parseList() *TypeNode {
	p.next()
	p.expect(itemLess)
	if p.peek().typ == itemGreater {
		p.next()
		p.errorf("list must declare an element type")
	}
	p.next()
	t := &TypeNode{Kind: KindList, Elem: p.parseType()}
	p.next()
	p.expect(itemGreater)
	return t
}

func (p *schemaParser) parseMap() *TypeNode {
	p.next()
	p.expect(itemLess)
	if p.peek().typ == itemGreater {
		p.next()
		p.errorf("map must declare key and value types")
	}
	p.next()
	t := &TypeNode{Kind: KindMap, Key: p.parseType()}
	p.next()
	p.expect(itemComma)
	p.next()
	t.Value = p.parseType()
	p.next()
	p.expect(itemGreater)
	return t
}

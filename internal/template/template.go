// Package template implements the transformation template language: literal
// text interleaved with {{ ... }} expressions over a fixed callback surface.
// Templates are parsed once at config load and are safe for concurrent
// rendering afterwards.
package template

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Notation selects how element access inside expressions is written.
type Notation int

const (
	// NotationDot resolves nested values via dot-separated keys
	// ({{ user.name }}, {{ context().user.name }}).
	NotationDot Notation = iota
	// NotationPointer resolves nested values via JSON-Pointer segments
	// ({{ /user/name }}). Selected by the advanced_templates config flag.
	NotationPointer
)

// callbackArities is the fixed callback surface. A parse fails on any name or
// arity outside this table.
var callbackArities = map[string][]int{
	"header":              {1},
	"request_header":      {1},
	"extraction":          {1},
	"context":             {0},
	"body":                {0},
	"env":                 {1},
	"clusterMetadata":     {1},
	"base64_encode":       {1},
	"base64_decode":       {1},
	"substring":           {2, 3},
	"replace_with_random": {2},
}

// Template is a compiled template. It references callbacks by name and holds
// no message state; binding happens at render time.
type Template struct {
	src      string
	notation Notation
	nodes    []node
}

// Source returns the original template text.
func (t *Template) Source() string { return t.src }

type node interface{}

type literalNode struct {
	text string
}

type exprNode struct {
	primary   primary
	selectors []string
}

type primary interface{}

// callPrimary is a callback invocation.
type callPrimary struct {
	name string
	args []arg
}

// pathPrimary is a bare element lookup against the message context.
type pathPrimary struct {
	segments []string
}

type argKind int

const (
	argString argKind = iota
	argInt
	argExpr
)

type arg struct {
	kind argKind
	str  string
	num  int64
	expr *exprNode
}

// Parse compiles source into a Template using the given notation.
func Parse(source string, notation Notation) (*Template, error) {
	t := &Template{src: source, notation: notation}
	rest := source
	offset := 0
	for {
		idx := strings.Index(rest, "{{")
		if idx < 0 {
			if rest != "" {
				t.nodes = append(t.nodes, literalNode{text: rest})
			}
			return t, nil
		}
		if idx > 0 {
			t.nodes = append(t.nodes, literalNode{text: rest[:idx]})
		}
		end := strings.Index(rest[idx:], "}}")
		if end < 0 {
			return nil, fmt.Errorf("unterminated expression at offset %d", offset+idx)
		}
		exprSrc := rest[idx+2 : idx+end]
		p := &parser{src: exprSrc, notation: notation, base: offset + idx + 2}
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if !p.eof() {
			return nil, fmt.Errorf("unexpected %q at offset %d", p.peek(), p.base+p.pos)
		}
		t.nodes = append(t.nodes, expr)
		rest = rest[idx+end+2:]
		offset += idx + end + 2
	}
}

// MustParse is a test helper that panics on parse failure.
func MustParse(source string, notation Notation) *Template {
	t, err := Parse(source, notation)
	if err != nil {
		panic(err)
	}
	return t
}

type parser struct {
	src      string
	pos      int
	base     int
	notation Notation
}

func (p *parser) eof() bool { return p.pos >= len(p.src) }

func (p *parser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) skipSpace() {
	for !p.eof() && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

func isIdentStart(c byte) bool {
	return c == '_' || unicode.IsLetter(rune(c))
}

func isIdentPart(c byte) bool {
	return c == '_' || unicode.IsLetter(rune(c)) || unicode.IsDigit(rune(c))
}

func (p *parser) parseIdent() (string, error) {
	start := p.pos
	if p.eof() || !isIdentStart(p.src[p.pos]) {
		return "", fmt.Errorf("expected identifier at offset %d", p.base+p.pos)
	}
	for !p.eof() && isIdentPart(p.src[p.pos]) {
		p.pos++
	}
	return p.src[start:p.pos], nil
}

// parsePointerSegment reads one JSON-Pointer reference token, applying the
// ~0 and ~1 escapes.
func (p *parser) parsePointerSegment() (string, error) {
	start := p.pos
	for !p.eof() {
		c := p.src[p.pos]
		if c == '/' || c == ' ' || c == '\t' || c == ',' || c == ')' {
			break
		}
		p.pos++
	}
	if p.pos == start {
		return "", fmt.Errorf("empty pointer segment at offset %d", p.base+start)
	}
	seg := p.src[start:p.pos]
	seg = strings.ReplaceAll(seg, "~1", "/")
	seg = strings.ReplaceAll(seg, "~0", "~")
	return seg, nil
}

func (p *parser) parseExpression() (*exprNode, error) {
	p.skipSpace()
	prim, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	expr := &exprNode{primary: prim}
	for {
		switch {
		case p.notation == NotationDot && p.peek() == '.':
			p.pos++
			seg, err := p.parseIdent()
			if err != nil {
				return nil, err
			}
			expr.selectors = append(expr.selectors, seg)
		case p.notation == NotationPointer && p.peek() == '/':
			p.pos++
			seg, err := p.parsePointerSegment()
			if err != nil {
				return nil, err
			}
			expr.selectors = append(expr.selectors, seg)
		default:
			return expr, nil
		}
	}
}

func (p *parser) parsePrimary() (primary, error) {
	p.skipSpace()
	if p.eof() {
		return nil, fmt.Errorf("empty expression at offset %d", p.base+p.pos)
	}
	if p.notation == NotationPointer && p.peek() == '/' {
		p.pos++
		seg, err := p.parsePointerSegment()
		if err != nil {
			return nil, err
		}
		return pathPrimary{segments: []string{seg}}, nil
	}
	name, err := p.parseIdent()
	if err != nil {
		return nil, err
	}
	if p.peek() != '(' {
		// Bare identifier: an element lookup against the context.
		return pathPrimary{segments: []string{name}}, nil
	}
	p.pos++
	args, err := p.parseArgs()
	if err != nil {
		return nil, fmt.Errorf("callback %q: %w", name, err)
	}
	arities, ok := callbackArities[name]
	if !ok {
		return nil, fmt.Errorf("unknown callback %q at offset %d", name, p.base+p.pos)
	}
	arityOK := false
	for _, a := range arities {
		if len(args) == a {
			arityOK = true
			break
		}
	}
	if !arityOK {
		return nil, fmt.Errorf("callback %q does not accept %d arguments", name, len(args))
	}
	return callPrimary{name: name, args: args}, nil
}

func (p *parser) parseArgs() ([]arg, error) {
	var args []arg
	p.skipSpace()
	if p.peek() == ')' {
		p.pos++
		return args, nil
	}
	for {
		a, err := p.parseArg()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
			p.skipSpace()
		case ')':
			p.pos++
			return args, nil
		default:
			return nil, fmt.Errorf("expected ',' or ')' at offset %d", p.base+p.pos)
		}
	}
}

func (p *parser) parseArg() (arg, error) {
	p.skipSpace()
	c := p.peek()
	switch {
	case c == '"':
		s, err := p.parseString()
		if err != nil {
			return arg{}, err
		}
		return arg{kind: argString, str: s}, nil
	case c == '-' || (c >= '0' && c <= '9'):
		start := p.pos
		if c == '-' {
			p.pos++
		}
		for !p.eof() && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
			p.pos++
		}
		n, err := strconv.ParseInt(p.src[start:p.pos], 10, 64)
		if err != nil {
			return arg{}, fmt.Errorf("bad integer literal at offset %d", p.base+start)
		}
		return arg{kind: argInt, num: n}, nil
	default:
		expr, err := p.parseExpression()
		if err != nil {
			return arg{}, err
		}
		return arg{kind: argExpr, expr: expr}, nil
	}
}

func (p *parser) parseString() (string, error) {
	start := p.pos
	p.pos++ // opening quote
	var sb strings.Builder
	for !p.eof() {
		c := p.src[p.pos]
		switch c {
		case '\\':
			p.pos++
			if p.eof() {
				return "", fmt.Errorf("unterminated string at offset %d", p.base+start)
			}
			esc := p.src[p.pos]
			switch esc {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			default:
				sb.WriteByte(esc)
			}
			p.pos++
		case '"':
			p.pos++
			return sb.String(), nil
		default:
			sb.WriteByte(c)
			p.pos++
		}
	}
	return "", fmt.Errorf("unterminated string at offset %d", p.base+start)
}

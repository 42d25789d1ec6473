package adaptivity

// Guard mini-language: comparisons, boolean logic, parentheses, literals,
// and dotted property paths rooted at session, slotId, and variant.
//
// Guard text originates from policy authors, so it is never executed as
// code: ParseExpr builds an operator tree once and evalNode walks it
// against the three bound activation values only. Anything outside that
// scope is unreachable by construction.

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokIdent
	tokTrue
	tokFalse
	tokNull
	tokLParen
	tokRParen
	tokDot
	tokBang
	tokMinus
	tokLT
	tokLE
	tokGT
	tokGE
	tokEQ
	tokNE
	tokAnd
	tokOr
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

type lexer struct {
	src string
	pos int
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) && isSpace(l.src[l.pos]) {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: l.pos}, nil
	}
	start := l.pos
	c := l.src[l.pos]
	switch {
	case c == '(':
		l.pos++
		return token{kind: tokLParen, pos: start}, nil
	case c == ')':
		l.pos++
		return token{kind: tokRParen, pos: start}, nil
	case c == '.':
		l.pos++
		return token{kind: tokDot, pos: start}, nil
	case c == '-':
		l.pos++
		return token{kind: tokMinus, pos: start}, nil
	case c == '<':
		l.pos++
		if l.pos < len(l.src) && l.src[l.pos] == '=' {
			l.pos++
			return token{kind: tokLE, pos: start}, nil
		}
		return token{kind: tokLT, pos: start}, nil
	case c == '>':
		l.pos++
		if l.pos < len(l.src) && l.src[l.pos] == '=' {
			l.pos++
			return token{kind: tokGE, pos: start}, nil
		}
		return token{kind: tokGT, pos: start}, nil
	case c == '=':
		if l.pos+1 < len(l.src) && l.src[l.pos+1] == '=' {
			l.pos += 2
			return token{kind: tokEQ, pos: start}, nil
		}
		return token{}, fmt.Errorf("unexpected '=' at %d (did you mean '==')", start)
	case c == '!':
		l.pos++
		if l.pos < len(l.src) && l.src[l.pos] == '=' {
			l.pos++
			return token{kind: tokNE, pos: start}, nil
		}
		return token{kind: tokBang, pos: start}, nil
	case c == '&':
		if l.pos+1 < len(l.src) && l.src[l.pos+1] == '&' {
			l.pos += 2
			return token{kind: tokAnd, pos: start}, nil
		}
		return token{}, fmt.Errorf("unexpected '&' at %d", start)
	case c == '|':
		if l.pos+1 < len(l.src) && l.src[l.pos+1] == '|' {
			l.pos += 2
			return token{kind: tokOr, pos: start}, nil
		}
		return token{}, fmt.Errorf("unexpected '|' at %d", start)
	case c == '\'' || c == '"':
		quote := c
		l.pos++
		var sb strings.Builder
		for l.pos < len(l.src) && l.src[l.pos] != quote {
			if l.src[l.pos] == '\\' && l.pos+1 < len(l.src) {
				l.pos++
			}
			sb.WriteByte(l.src[l.pos])
			l.pos++
		}
		if l.pos >= len(l.src) {
			return token{}, fmt.Errorf("unterminated string at %d", start)
		}
		l.pos++
		return token{kind: tokString, text: sb.String(), pos: start}, nil
	case c >= '0' && c <= '9':
		for l.pos < len(l.src) && (l.src[l.pos] >= '0' && l.src[l.pos] <= '9' || l.src[l.pos] == '.') {
			l.pos++
		}
		n, err := strconv.ParseFloat(l.src[start:l.pos], 64)
		if err != nil {
			return token{}, fmt.Errorf("bad number %q at %d", l.src[start:l.pos], start)
		}
		return token{kind: tokNumber, num: n, pos: start}, nil
	case isIdentStart(c):
		for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
			l.pos++
		}
		word := l.src[start:l.pos]
		switch word {
		case "true":
			return token{kind: tokTrue, pos: start}, nil
		case "false":
			return token{kind: tokFalse, pos: start}, nil
		case "null":
			return token{kind: tokNull, pos: start}, nil
		}
		return token{kind: tokIdent, text: word, pos: start}, nil
	}
	return token{}, fmt.Errorf("unexpected character %q at %d", c, start)
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' }

func isIdentStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isIdentPart(c byte) bool { return isIdentStart(c) || c >= '0' && c <= '9' }

// exprNode is one node of the parsed guard expression tree.
type exprNode interface {
	eval(a GuardActivation) (any, error)
}

type literalNode struct{ val any }

func (n literalNode) eval(GuardActivation) (any, error) { return n.val, nil }

type pathNode struct{ segs []string }

type unaryNode struct {
	op    tokenKind
	child exprNode
}

type binaryNode struct {
	op          tokenKind
	left, right exprNode
}

type parser struct {
	lex lexer
	cur token
}

// ParseExpr parses guard source into an expression tree. It does not
// evaluate anything.
func ParseExpr(src string) (exprNode, error) {
	p := &parser{lex: lexer{src: src}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.cur.kind != tokEOF {
		return nil, fmt.Errorf("unexpected trailing input at %d", p.cur.pos)
	}
	return node, nil
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.cur = t
	return nil
}

func (p *parser) parseOr() (exprNode, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokOr {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: tokOr, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (exprNode, error) {
	left, err := p.parseEquality()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokAnd {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseEquality()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: tokAnd, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseEquality() (exprNode, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokEQ || p.cur.kind == tokNE {
		op := p.cur.kind
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseComparison() (exprNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokLT || p.cur.kind == tokLE || p.cur.kind == tokGT || p.cur.kind == tokGE {
		op := p.cur.kind
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (exprNode, error) {
	switch p.cur.kind {
	case tokBang:
		if err := p.advance(); err != nil {
			return nil, err
		}
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unaryNode{op: tokBang, child: child}, nil
	case tokMinus:
		if err := p.advance(); err != nil {
			return nil, err
		}
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unaryNode{op: tokMinus, child: child}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (exprNode, error) {
	switch p.cur.kind {
	case tokNumber:
		n := literalNode{val: p.cur.num}
		return n, p.advance()
	case tokString:
		n := literalNode{val: p.cur.text}
		return n, p.advance()
	case tokTrue:
		return literalNode{val: true}, p.advance()
	case tokFalse:
		return literalNode{val: false}, p.advance()
	case tokNull:
		return literalNode{val: nil}, p.advance()
	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.cur.kind != tokRParen {
			return nil, fmt.Errorf("missing ')' at %d", p.cur.pos)
		}
		return inner, p.advance()
	case tokIdent:
		segs := []string{p.cur.text}
		if err := p.advance(); err != nil {
			return nil, err
		}
		for p.cur.kind == tokDot {
			if err := p.advance(); err != nil {
				return nil, err
			}
			if p.cur.kind != tokIdent {
				return nil, fmt.Errorf("expected property name at %d", p.cur.pos)
			}
			segs = append(segs, p.cur.text)
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		switch segs[0] {
		case "session", "slotId", "variant":
		default:
			return nil, fmt.Errorf("unknown identifier %q (guards may reference session, slotId, variant)", segs[0])
		}
		return pathNode{segs: segs}, nil
	}
	return nil, fmt.Errorf("unexpected token at %d", p.cur.pos)
}

func (n unaryNode) eval(a GuardActivation) (any, error) {
	v, err := n.child.eval(a)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case tokBang:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("'!' requires a boolean operand")
		}
		return !b, nil
	case tokMinus:
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("unary '-' requires a numeric operand")
		}
		return -f, nil
	}
	return nil, fmt.Errorf("bad unary operator")
}

func (n binaryNode) eval(a GuardActivation) (any, error) {
	if n.op == tokAnd || n.op == tokOr {
		lv, err := n.left.eval(a)
		if err != nil {
			return nil, err
		}
		lb, ok := lv.(bool)
		if !ok {
			return nil, fmt.Errorf("logical operand is not a boolean")
		}
		// Short-circuit.
		if n.op == tokAnd && !lb {
			return false, nil
		}
		if n.op == tokOr && lb {
			return true, nil
		}
		rv, err := n.right.eval(a)
		if err != nil {
			return nil, err
		}
		rb, ok := rv.(bool)
		if !ok {
			return nil, fmt.Errorf("logical operand is not a boolean")
		}
		return rb, nil
	}

	lv, err := n.left.eval(a)
	if err != nil {
		return nil, err
	}
	rv, err := n.right.eval(a)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case tokEQ:
		return looseEqual(lv, rv), nil
	case tokNE:
		return !looseEqual(lv, rv), nil
	}

	lf, lok := lv.(float64)
	rf, rok := rv.(float64)
	if lok && rok {
		switch n.op {
		case tokLT:
			return lf < rf, nil
		case tokLE:
			return lf <= rf, nil
		case tokGT:
			return lf > rf, nil
		case tokGE:
			return lf >= rf, nil
		}
	}
	ls, lok := lv.(string)
	rs, rok := rv.(string)
	if lok && rok {
		switch n.op {
		case tokLT:
			return ls < rs, nil
		case tokLE:
			return ls <= rs, nil
		case tokGT:
			return ls > rs, nil
		case tokGE:
			return ls >= rs, nil
		}
	}
	return nil, fmt.Errorf("comparison requires two numbers or two strings")
}

// looseEqual compares like types; values of different types are simply not
// equal rather than an evaluation error.
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return false
}

func (n pathNode) eval(a GuardActivation) (any, error) {
	var cur any
	switch n.segs[0] {
	case "session":
		if a.Session == nil {
			return nil, fmt.Errorf("no session bound")
		}
		cur = a.Session
	case "slotId":
		if len(n.segs) > 1 {
			return nil, fmt.Errorf("slotId has no properties")
		}
		return string(a.SlotID), nil
	case "variant":
		if a.Variant == nil {
			return nil, fmt.Errorf("no variant bound")
		}
		cur = a.Variant
	default:
		return nil, fmt.Errorf("unknown root %q", n.segs[0])
	}
	for _, seg := range n.segs[1:] {
		next, err := resolveSegment(cur, seg)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", strings.Join(n.segs, "."), err)
		}
		cur = next
	}
	return normalizeValue(cur), nil
}

// resolveSegment looks one property up on a struct (by json tag) or a
// string-keyed map. A present-but-nil field resolves to null; resolving on
// a nil container is an error, which fails the guard closed.
func resolveSegment(cur any, seg string) (any, error) {
	if cur == nil {
		return nil, fmt.Errorf("cannot read %q of null", seg)
	}
	v := reflect.ValueOf(cur)
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, fmt.Errorf("cannot read %q of null", seg)
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("cannot index %q", seg)
		}
		mv := v.MapIndex(reflect.ValueOf(seg).Convert(v.Type().Key()))
		if !mv.IsValid() {
			return nil, nil
		}
		return mv.Interface(), nil
	case reflect.Struct:
		idx, ok := fieldIndexByJSONName(v.Type(), seg)
		if !ok {
			return nil, fmt.Errorf("unknown property %q", seg)
		}
		fv := v.Field(idx)
		if fv.Kind() == reflect.Pointer && fv.IsNil() {
			return nil, nil
		}
		return fv.Interface(), nil
	}
	return nil, fmt.Errorf("cannot read %q of %s", seg, v.Kind())
}

// normalizeValue flattens a resolved value into the evaluator's type
// universe: float64, string, bool, or nil. Anything else is returned
// as-is and only comparable against null.
func normalizeValue(val any) any {
	if val == nil {
		return nil
	}
	v := reflect.ValueOf(val)
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Bool:
		return v.Bool()
	case reflect.String:
		return v.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint())
	case reflect.Float32, reflect.Float64:
		return v.Float()
	}
	return v.Interface()
}

var (
	fieldIndexMu    sync.RWMutex
	fieldIndexCache = map[reflect.Type]map[string]int{}
)

func fieldIndexByJSONName(t reflect.Type, name string) (int, bool) {
	fieldIndexMu.RLock()
	m, ok := fieldIndexCache[t]
	fieldIndexMu.RUnlock()
	if !ok {
		m = map[string]int{}
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			tag := f.Tag.Get("json")
			if tag == "-" {
				continue
			}
			key := f.Name
			if tag != "" {
				if comma := strings.IndexByte(tag, ','); comma >= 0 {
					tag = tag[:comma]
				}
				if tag != "" {
					key = tag
				}
			}
			m[key] = i
		}
		fieldIndexMu.Lock()
		fieldIndexCache[t] = m
		fieldIndexMu.Unlock()
	}
	idx, ok := m[name]
	return idx, ok
}

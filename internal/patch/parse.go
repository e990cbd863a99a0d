package patch

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Atom patterns, tried in order at the start of every primary. A GUID is
// tried before a number because GUIDs may begin with decimal digits.
var (
	sectionPattern = regexp.MustCompile(`^([0-9A-Fa-f]{8}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{12}):(0[xX][0-9A-Fa-f]+|[0-9]+)`)
	basePattern    = regexp.MustCompile(`^_BASE_([A-Za-z0-9\-]+)_`)
	hexPattern     = regexp.MustCompile(`^0[xX]([0-9A-Fa-f]+)`)
	decPattern     = regexp.MustCompile(`^[0-9]+`)
	symbolPattern  = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*):([A-Za-z_][A-Za-z0-9_]*)`)
)

var closers = map[byte]byte{'[': ']', '<': '>', '{': '}', '(': ')'}

// ParseExpr parses one patch expression.
//
// Grammar:
//
//	expr    := primary { ('+' | '-' | '&' | '|') primary }
//	primary := NUMBER | _BASE_name_ | GUID:NUMBER | Module:Symbol
//	         | '(' expr ')' | '[' expr ']' | '<' expr '>' | '{' expr '}'
//
// Operators have no precedence: `a | b & c` is `(a | b) & c`.
func ParseExpr(s string) (*Expr, error) {
	p := &parser{src: s}
	e, err := p.expr()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return nil, p.fail("unexpected %q", p.src[p.pos:p.pos+1])
	}
	return e, nil
}

// MustParseExpr is like ParseExpr but panics on error. It is meant for
// expressions fixed at compile time.
func MustParseExpr(s string) *Expr {
	e, err := ParseExpr(s)
	if err != nil {
		panic(err)
	}
	return e
}

type parser struct {
	src string
	pos int
}

func (p *parser) fail(format string, args ...interface{}) error {
	return &MalformedExpressionError{Input: p.src, Pos: p.pos, Reason: fmt.Sprintf(format, args...)}
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

func (p *parser) expr() (*Expr, error) {
	lhs, err := p.primary()
	if err != nil {
		return nil, err
	}
	for {
		p.skipSpace()
		if p.pos >= len(p.src) {
			return lhs, nil
		}
		op := Op(p.src[p.pos])
		switch op {
		case OpAdd, OpSub, OpAnd, OpOr:
		default:
			return lhs, nil
		}
		p.pos++
		rhs, err := p.primary()
		if err != nil {
			return nil, err
		}
		lhs = Bin(op, lhs, rhs)
	}
}

func (p *parser) primary() (*Expr, error) {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return nil, p.fail("expected operand, found end of input")
	}

	if closer, ok := closers[p.src[p.pos]]; ok {
		open := p.src[p.pos]
		p.pos++
		inner, err := p.expr()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if p.pos >= len(p.src) || p.src[p.pos] != closer {
			return nil, p.fail("expected %q to close %q", string(closer), string(open))
		}
		p.pos++
		switch open {
		case '[':
			return Deref(inner), nil
		case '<':
			return ToOffset(inner), nil
		case '{':
			return ToAddress(inner), nil
		default:
			return inner, nil
		}
	}

	rest := p.src[p.pos:]

	if m := sectionPattern.FindStringSubmatch(rest); m != nil {
		field, err := parseNumber(m[2])
		if err != nil {
			return nil, p.fail("%v", err)
		}
		p.pos += len(m[0])
		return Section(m[1], field), nil
	}

	if m := basePattern.FindStringSubmatch(rest); m != nil {
		p.pos += len(m[0])
		return Base(m[1]), nil
	}

	if m := hexPattern.FindString(rest); m != "" {
		return p.number(m)
	}

	if m := decPattern.FindString(rest); m != "" {
		return p.number(m)
	}

	if m := symbolPattern.FindStringSubmatch(rest); m != nil {
		p.pos += len(m[0])
		return Sym(m[1], m[2]), nil
	}

	return nil, p.fail("expected operand")
}

// number consumes a matched numeric token and rejects identifiers that
// merely begin with digits.
func (p *parser) number(tok string) (*Expr, error) {
	end := p.pos + len(tok)
	if end < len(p.src) && isIdentByte(p.src[end]) {
		return nil, p.fail("invalid number %q", p.src[p.pos:end+1])
	}
	v, err := parseNumber(tok)
	if err != nil {
		return nil, p.fail("%v", err)
	}
	p.pos = end
	return Lit(v), nil
}

func isIdentByte(c byte) bool {
	return c == '_' || c == ':' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// parseNumber parses a hex (0x-prefixed) or decimal constant that must fit in
// 32 bits.
func parseNumber(s string) (uint32, error) {
	base := 10
	digits := s
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base = 16
		digits = s[2:]
	}
	v, err := strconv.ParseUint(digits, base, 32)
	if err != nil {
		return 0, fmt.Errorf("constant %q does not fit in 32 bits", s)
	}
	return uint32(v), nil
}

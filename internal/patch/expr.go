package patch

import (
	"fmt"
	"strings"
)

// Kind identifies the variant held by an Expr.
type Kind int

const (
	// KindLiteral is a hex or decimal constant.
	KindLiteral Kind = iota
	// KindBase is a `_BASE_<name>_` marker resolved from the build parameters.
	KindBase
	// KindDeref is `[expr]`: the 32-bit little-endian value stored at expr.
	KindDeref
	// KindToOffset is `<expr>`: an address converted into an image offset.
	KindToOffset
	// KindToAddress is `{expr}`: an image offset converted into an address.
	KindToAddress
	// KindSymbol is `Module:Symbol`.
	KindSymbol
	// KindSection is `GUID:0xNN`.
	KindSection
	// KindBinary is `lhs op rhs`.
	KindBinary
)

// String returns the variant name
func (k Kind) String() string {
	switch k {
	case KindLiteral:
		return "Literal"
	case KindBase:
		return "BaseMarker"
	case KindDeref:
		return "Deref"
	case KindToOffset:
		return "ToOffset"
	case KindToAddress:
		return "ToAddress"
	case KindSymbol:
		return "SymbolRef"
	case KindSection:
		return "SectionRef"
	case KindBinary:
		return "BinaryOp"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Op is a binary operator of the patch language.
type Op byte

const (
	OpAdd Op = '+'
	OpSub Op = '-'
	OpAnd Op = '&'
	OpOr  Op = '|'
)

// Apply evaluates the operator with 32-bit unsigned wraparound.
func (o Op) Apply(lhs, rhs uint32) uint32 {
	switch o {
	case OpAdd:
		return lhs + rhs
	case OpSub:
		return lhs - rhs
	case OpAnd:
		return lhs & rhs
	case OpOr:
		return lhs | rhs
	}
	panic(fmt.Sprintf("patch: unknown operator %q", byte(o)))
}

// Expr is one node of a patch expression.
//
// Field use by kind:
//
//	Literal     Value
//	BaseMarker  Name (e.g. "FSP-T")
//	Deref, ToOffset, ToAddress
//	            Inner
//	SymbolRef   Name (module), Symbol
//	SectionRef  Name (GUID, upper case), Value (field offset)
//	BinaryOp    Op, Left, Right
type Expr struct {
	Kind   Kind
	Value  uint32
	Name   string
	Symbol string
	Op     Op
	Inner  *Expr
	Left   *Expr
	Right  *Expr
}

// Lit returns a literal expression.
func Lit(v uint32) *Expr { return &Expr{Kind: KindLiteral, Value: v} }

// Base returns a `_BASE_<name>_` marker.
func Base(name string) *Expr { return &Expr{Kind: KindBase, Name: name} }

// Deref returns `[inner]`.
func Deref(inner *Expr) *Expr { return &Expr{Kind: KindDeref, Inner: inner} }

// ToOffset returns `<inner>`.
func ToOffset(inner *Expr) *Expr { return &Expr{Kind: KindToOffset, Inner: inner} }

// ToAddress returns `{inner}`.
func ToAddress(inner *Expr) *Expr { return &Expr{Kind: KindToAddress, Inner: inner} }

// Sym returns `module:symbol`.
func Sym(module, symbol string) *Expr {
	return &Expr{Kind: KindSymbol, Name: module, Symbol: symbol}
}

// Section returns `GUID:field`.
func Section(guid string, field uint32) *Expr {
	return &Expr{Kind: KindSection, Name: strings.ToUpper(guid), Value: field}
}

// Bin returns `lhs op rhs`.
func Bin(op Op, lhs, rhs *Expr) *Expr {
	return &Expr{Kind: KindBinary, Op: op, Left: lhs, Right: rhs}
}

// AbsoluteRef returns `[off]`, the value stored at a fixed image offset.
func AbsoluteRef(off uint32) *Expr { return Deref(Lit(off)) }

// RelativeAddRef returns `<[off]>+disp`: the address stored at off, as an
// image offset, displaced by disp.
func RelativeAddRef(off, disp uint32) *Expr {
	return Bin(OpAdd, ToOffset(AbsoluteRef(off)), Lit(disp))
}

// String renders the expression back into patch-language text. Binary
// operations on the right-hand side are parenthesized so the text re-parses
// to the same tree under left-to-right evaluation.
func (e *Expr) String() string {
	if e == nil {
		return "<nil>"
	}
	switch e.Kind {
	case KindLiteral:
		return fmt.Sprintf("0x%X", e.Value)
	case KindBase:
		return "_BASE_" + e.Name + "_"
	case KindDeref:
		return "[" + e.Inner.String() + "]"
	case KindToOffset:
		return "<" + e.Inner.String() + ">"
	case KindToAddress:
		return "{" + e.Inner.String() + "}"
	case KindSymbol:
		return e.Name + ":" + e.Symbol
	case KindSection:
		return fmt.Sprintf("%s:0x%X", e.Name, e.Value)
	case KindBinary:
		rhs := e.Right.String()
		if e.Right.Kind == KindBinary {
			rhs = "(" + rhs + ")"
		}
		return fmt.Sprintf("%s %c %s", e.Left.String(), byte(e.Op), rhs)
	default:
		return fmt.Sprintf("<%s>", e.Kind)
	}
}

// Walk calls fn for e and every sub-expression, parents first.
func (e *Expr) Walk(fn func(*Expr)) {
	if e == nil {
		return
	}
	fn(e)
	e.Inner.Walk(fn)
	e.Left.Walk(fn)
	e.Right.Walk(fn)
}

// References lists the symbol and section keys an expression depends on,
// formatted as they appear in the text.
func (e *Expr) References() []string {
	var refs []string
	e.Walk(func(n *Expr) {
		switch n.Kind {
		case KindSymbol, KindSection, KindBase:
			refs = append(refs, n.String())
		}
	})
	return refs
}

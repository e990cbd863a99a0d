package patch

// Symbols is the lookup contract the resolver needs from a symbol table.
type Symbols interface {
	// Symbol returns the value of module:symbol.
	Symbol(module, symbol string) (uint32, bool)
	// SectionOffset returns the image offset of the FFS file with the given
	// GUID plus field.
	SectionOffset(guid string, field uint32) (uint32, bool)
}

// Resolver evaluates expressions against a symbol table and an image.
// Resolution only ever reads the image.
type Resolver struct {
	Table Symbols
	Image *Image
	// Bases maps base marker names ("FSP-T") to load addresses.
	Bases map[string]uint32
}

// Resolve evaluates e to a 32-bit value.
func (r *Resolver) Resolve(e *Expr) (uint32, error) {
	switch e.Kind {
	case KindLiteral:
		return e.Value, nil

	case KindBase:
		v, ok := r.Bases[e.Name]
		if !ok {
			return 0, &UnresolvedSymbolError{Ref: e.String(), Kind: "base"}
		}
		return v, nil

	case KindDeref:
		addr, err := r.Resolve(e.Inner)
		if err != nil {
			return 0, err
		}
		return r.Image.Read(r.Image.ToOffset(addr), 4)

	case KindToOffset:
		v, err := r.Resolve(e.Inner)
		if err != nil {
			return 0, err
		}
		return r.Image.ToOffset(v), nil

	case KindToAddress:
		v, err := r.Resolve(e.Inner)
		if err != nil {
			return 0, err
		}
		return r.Image.ToAddress(v), nil

	case KindSymbol:
		if r.Table != nil {
			if v, ok := r.Table.Symbol(e.Name, e.Symbol); ok {
				return v, nil
			}
		}
		return 0, &UnresolvedSymbolError{Ref: e.String(), Kind: "symbol"}

	case KindSection:
		if r.Table != nil {
			if v, ok := r.Table.SectionOffset(e.Name, e.Value); ok {
				return v, nil
			}
		}
		return 0, &UnresolvedSymbolError{Ref: e.String(), Kind: "section"}

	case KindBinary:
		lhs, err := r.Resolve(e.Left)
		if err != nil {
			return 0, err
		}
		rhs, err := r.Resolve(e.Right)
		if err != nil {
			return 0, err
		}
		return e.Op.Apply(lhs, rhs), nil
	}

	return 0, &MalformedExpressionError{Input: e.String(), Reason: "unknown expression kind " + e.Kind.String()}
}

// Offset evaluates an address expression and converts the result to an
// image offset.
func (r *Resolver) Offset(e *Expr) (uint32, error) {
	v, err := r.Resolve(e)
	if err != nil {
		return 0, err
	}
	return r.Image.ToOffset(v), nil
}

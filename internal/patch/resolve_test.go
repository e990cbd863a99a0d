package patch

import (
	"encoding/binary"
	"errors"
	"testing"
)

// fakeTable is a map-backed Symbols implementation.
type fakeTable struct {
	symbols  map[string]uint32
	sections map[string]uint32
}

func (f *fakeTable) Symbol(module, symbol string) (uint32, bool) {
	v, ok := f.symbols[module+":"+symbol]
	return v, ok
}

func (f *fakeTable) SectionOffset(guid string, field uint32) (uint32, bool) {
	v, ok := f.sections[guid]
	if !ok {
		return 0, false
	}
	return v + field, true
}

func newFakeTable() *fakeTable {
	return &fakeTable{
		symbols: map[string]uint32{
			"FspSecCoreT:_TempRamInitApi": 0x40,
		},
		sections: map[string]uint32{
			"912740BE-2284-4734-B971-84B027353F0C": 0x78,
		},
	}
}

func TestOpApply(t *testing.T) {
	tests := []struct {
		op   Op
		a, b uint32
		want uint32
	}{
		{OpAdd, 0xFFFFFFFF, 2, 1},
		{OpAdd, 0x1000, 0xC4, 0x10C4},
		{OpSub, 0x40, 0x1000, 0xFFFFF040},
		{OpSub, 0, 1, 0xFFFFFFFF},
		{OpAnd, 0xFFFF0FFF, 0x12345678, 0x12340678},
		{OpOr, 0x0F00, 0x00F0, 0x0FF0},
	}

	for _, tt := range tests {
		r := &Resolver{Image: NewImage(nil, 0)}
		got, err := r.Resolve(Bin(tt.op, Lit(tt.a), Lit(tt.b)))
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if got != tt.want {
			t.Errorf("0x%X %c 0x%X = 0x%X, want 0x%X", tt.a, byte(tt.op), tt.b, got, tt.want)
		}
	}
}

func TestResolve(t *testing.T) {
	data := make([]byte, 0x100)
	binary.LittleEndian.PutUint32(data[0:], 0x1000)
	binary.LittleEndian.PutUint32(data[0x10:], 0xFFF00020)

	r := &Resolver{
		Table: newFakeTable(),
		Image: NewImage(data, 0),
		Bases: map[string]uint32{"FSP-T": 0xFFF00000},
	}

	tests := []struct {
		expr string
		want uint32
	}{
		{"0x1234", 0x1234},
		{"_BASE_FSP-T_", 0xFFF00000},
		{"[0x0000]", 0x1000},
		{"<[0x0000]>+0x00C4", 0x10C4},
		{"FspSecCoreT:_TempRamInitApi - [0x0000]", 0xFFFFF040},
		{"912740BE-2284-4734-B971-84B027353F0C:0x1C", 0x94},
		{"912740be-2284-4734-b971-84b027353f0c:0x1C", 0x94},
		{"1 | 2 & 1", 1},
		{"1 | (2 & 1)", 1},
		{"4 - 1 - 1", 2},
		{"4 - (1 - 1)", 4},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := r.Resolve(MustParseExpr(tt.expr))
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("got 0x%X, want 0x%X", got, tt.want)
			}
		})
	}
}

func TestResolveWithImageBase(t *testing.T) {
	data := make([]byte, 0x100)
	binary.LittleEndian.PutUint32(data[0x10:], 0xFFF00020)
	r := &Resolver{Image: NewImage(data, 0xFFF00000)}

	tests := []struct {
		expr string
		want uint32
	}{
		// offsets below the base are used as they are
		{"[0x10]", 0xFFF00020},
		{"[0xFFF00010]", 0xFFF00020},
		{"<[0x10]>", 0x20},
		{"{0x20}", 0xFFF00020},
		{"<{0x20}>", 0x20},
	}
	for _, tt := range tests {
		got, err := r.Resolve(MustParseExpr(tt.expr))
		if err != nil {
			t.Fatalf("Resolve(%s) failed: %v", tt.expr, err)
		}
		if got != tt.want {
			t.Errorf("Resolve(%s) = 0x%X, want 0x%X", tt.expr, got, tt.want)
		}
	}
}

func TestResolveErrors(t *testing.T) {
	r := &Resolver{
		Table: newFakeTable(),
		Image: NewImage(make([]byte, 0x10), 0),
		Bases: map[string]uint32{},
	}

	tests := []struct {
		name string
		expr string
		kind string
	}{
		{name: "missing symbol", expr: "FspSecCoreM:_FspMemoryInitApi", kind: "symbol"},
		{name: "missing module", expr: "NoSuchModule:_TempRamInitApi", kind: "symbol"},
		{name: "missing section", expr: "34686CA3-34F9-4901-B82A-BA630F0714C6:0x1C", kind: "section"},
		{name: "missing base", expr: "_BASE_FSP-M_", kind: "base"},
		{name: "missing symbol inside binary", expr: "0x10 + Foo:Bar", kind: "symbol"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(MustParseExpr(tt.expr))
			var unresolved *UnresolvedSymbolError
			if !errors.As(err, &unresolved) {
				t.Fatalf("expected *UnresolvedSymbolError, got %v", err)
			}
			if unresolved.Kind != tt.kind {
				t.Errorf("Kind = %q, want %q", unresolved.Kind, tt.kind)
			}
		})
	}

	t.Run("deref out of range", func(t *testing.T) {
		_, err := r.Resolve(MustParseExpr("[0x0E]"))
		var oor *OutOfRangeError
		if !errors.As(err, &oor) {
			t.Fatalf("expected *OutOfRangeError, got %v", err)
		}
		if oor.Offset != 0x0E || oor.Width != 4 || oor.Size != 0x10 {
			t.Errorf("unexpected error fields: %+v", oor)
		}
	})

	t.Run("nil table", func(t *testing.T) {
		r := &Resolver{Image: NewImage(nil, 0)}
		_, err := r.Resolve(MustParseExpr("A:B"))
		var unresolved *UnresolvedSymbolError
		if !errors.As(err, &unresolved) {
			t.Fatalf("expected *UnresolvedSymbolError, got %v", err)
		}
	})
}

func TestReferences(t *testing.T) {
	e := MustParseExpr("FspSecCoreT:_TempRamInitApi - [_BASE_FSP-T_] + 912740BE-2284-4734-B971-84B027353F0C:0x1C")
	refs := e.References()
	want := []string{
		"_BASE_FSP-T_",
		"FspSecCoreT:_TempRamInitApi",
		"912740BE-2284-4734-B971-84B027353F0C:0x1C",
	}
	if len(refs) != len(want) {
		t.Fatalf("References() = %v, want %v", refs, want)
	}
	seen := map[string]bool{}
	for _, r := range refs {
		seen[r] = true
	}
	for _, w := range want {
		if !seen[w] {
			t.Errorf("missing reference %q in %v", w, refs)
		}
	}
}

func TestResolveSectionSizeFromFfsHeader(t *testing.T) {
	data := make([]byte, 0x100)
	// EFI_FFS_FILE_HEADER at 0x78: 24-bit Size at +0x14, State at +0x17
	binary.LittleEndian.PutUint32(data[0x78+0x14:], 0xF8000070)

	r := &Resolver{Table: newFakeTable(), Image: NewImage(data, 0)}
	got, err := r.Resolve(MustParseExpr("[912740BE-2284-4734-B971-84B027353F0C:0x14] & 0xFFFFFF - 0x1C"))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got != 0x70-0x1C {
		t.Errorf("size expression = 0x%X, want 0x%X", got, 0x70-0x1C)
	}
}

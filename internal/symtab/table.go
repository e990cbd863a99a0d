package symtab

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/linuxboot/fiano/pkg/guid"
)

// ErrFrozen is returned when a table is modified after Freeze.
var ErrFrozen = errors.New("symbol table is frozen")

// DuplicateError is returned when a key is added to a table twice.
type DuplicateError struct {
	// Kind is "section" or "symbol"
	Kind string
	// Key is the GUID or module:symbol pair
	Key string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate %s %s", e.Kind, e.Key)
}

// Section is one FFS file of a firmware volume.
type Section struct {
	// GUID is the file name GUID in upper-case canonical form
	GUID string `yaml:"guid"`
	// Offset is the image offset of the FFS file header
	Offset uint32 `yaml:"offset"`
	// Size is the FFS file size in bytes, header included
	Size uint32 `yaml:"size"`
	// Name is the module name from Guid.xref, if known
	Name string `yaml:"name,omitempty"`
}

// Symbol is one module:symbol value.
type Symbol struct {
	Module string `yaml:"module"`
	Name   string `yaml:"symbol"`
	Value  uint32 `yaml:"value"`
}

type symbolKey struct {
	module string
	name   string
}

// Table holds the section and symbol lookups for one image. It is filled
// once by a loader, frozen, and then only read.
type Table struct {
	sections map[string]Section
	symbols  map[symbolKey]uint32
	frozen   bool
}

// New returns an empty table.
func New() *Table {
	return &Table{
		sections: make(map[string]Section),
		symbols:  make(map[symbolKey]uint32),
	}
}

// NormalizeGUID returns the upper-case canonical form of a GUID string.
func NormalizeGUID(s string) (string, error) {
	g, err := guid.Parse(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("invalid GUID %q: %w", s, err)
	}
	return strings.ToUpper(g.String()), nil
}

// AddSection records an FFS file.
func (t *Table) AddSection(s Section) error {
	if t.frozen {
		return ErrFrozen
	}
	key, err := NormalizeGUID(s.GUID)
	if err != nil {
		return err
	}
	if _, ok := t.sections[key]; ok {
		return &DuplicateError{Kind: "section", Key: key}
	}
	s.GUID = key
	t.sections[key] = s
	return nil
}

// AddSymbol records module:symbol = value.
func (t *Table) AddSymbol(module, symbol string, value uint32) error {
	if t.frozen {
		return ErrFrozen
	}
	if module == "" || symbol == "" {
		return fmt.Errorf("empty module or symbol name in %q:%q", module, symbol)
	}
	key := symbolKey{module: module, name: symbol}
	if _, ok := t.symbols[key]; ok {
		return &DuplicateError{Kind: "symbol", Key: module + ":" + symbol}
	}
	t.symbols[key] = value
	return nil
}

// Freeze makes the table read-only.
func (t *Table) Freeze() {
	t.frozen = true
}

// Frozen reports whether Freeze has been called.
func (t *Table) Frozen() bool {
	return t.frozen
}

// Symbol returns the value of module:symbol.
func (t *Table) Symbol(module, symbol string) (uint32, bool) {
	v, ok := t.symbols[symbolKey{module: module, name: symbol}]
	return v, ok
}

// HasSymbol reports whether module:symbol is defined.
func (t *Table) HasSymbol(module, symbol string) bool {
	_, ok := t.Symbol(module, symbol)
	return ok
}

// Section returns the FFS file with the given GUID.
func (t *Table) Section(g string) (Section, bool) {
	key, err := NormalizeGUID(g)
	if err != nil {
		return Section{}, false
	}
	s, ok := t.sections[key]
	return s, ok
}

// SectionOffset returns the image offset of the FFS file plus field.
func (t *Table) SectionOffset(g string, field uint32) (uint32, bool) {
	s, ok := t.Section(g)
	if !ok {
		return 0, false
	}
	return s.Offset + field, true
}

// SectionSize returns the size of the FFS file.
func (t *Table) SectionSize(g string) (uint32, bool) {
	s, ok := t.Section(g)
	if !ok {
		return 0, false
	}
	return s.Size, true
}

// Sections returns every section ordered by offset.
func (t *Table) Sections() []Section {
	out := make([]Section, 0, len(t.sections))
	for _, s := range t.sections {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Offset != out[j].Offset {
			return out[i].Offset < out[j].Offset
		}
		return out[i].GUID < out[j].GUID
	})
	return out
}

// Symbols returns every symbol ordered by module, then value.
func (t *Table) Symbols() []Symbol {
	out := make([]Symbol, 0, len(t.symbols))
	for k, v := range t.symbols {
		out = append(out, Symbol{Module: k.module, Name: k.name, Value: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Module != out[j].Module {
			return out[i].Module < out[j].Module
		}
		if out[i].Value != out[j].Value {
			return out[i].Value < out[j].Value
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Len returns the number of sections and symbols.
func (t *Table) Len() (sections, symbols int) {
	return len(t.sections), len(t.symbols)
}

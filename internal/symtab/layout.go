package symtab

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Layout is the YAML form of a table. It is used for hand-written tables in
// tests and for dumping what a loader found.
//
//	sections:
//	  - guid: 912740BE-2284-4734-B971-84B027353F0C
//	    offset: 0x78
//	    size: 0x6C
//	symbols:
//	  - module: FspSecCoreT
//	    symbol: _TempRamInitApi
//	    value: 0xFFF00240
type Layout struct {
	Sections []Section `yaml:"sections"`
	Symbols  []Symbol  `yaml:"symbols"`
}

// LoadLayout reads a YAML layout file into a frozen table.
func LoadLayout(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read layout file: %w", err)
	}
	return ParseLayout(data)
}

// ParseLayout builds a frozen table from YAML layout data.
func ParseLayout(data []byte) (*Table, error) {
	var layout Layout
	if err := yaml.Unmarshal(data, &layout); err != nil {
		return nil, fmt.Errorf("failed to parse layout: %w", err)
	}

	t := New()
	for _, s := range layout.Sections {
		if err := t.AddSection(s); err != nil {
			return nil, err
		}
	}
	for _, s := range layout.Symbols {
		if err := t.AddSymbol(s.Module, s.Name, s.Value); err != nil {
			return nil, err
		}
	}
	t.Freeze()
	return t, nil
}

// WriteLayout writes the table as YAML.
func (t *Table) WriteLayout(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(Layout{Sections: t.Sections(), Symbols: t.Symbols()}); err != nil {
		return fmt.Errorf("failed to encode layout: %w", err)
	}
	return enc.Close()
}

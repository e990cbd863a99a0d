package symtab

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

const sampleLayout = `sections:
  - guid: 912740be-2284-4734-b971-84b027353f0c
    offset: 0x78
    size: 0x6C
symbols:
  - module: FspSecCoreT
    symbol: _TempRamInitApi
    value: 0xFFF00240
`

func TestLoadLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layout.yaml")
	if err := os.WriteFile(path, []byte(sampleLayout), 0644); err != nil {
		t.Fatalf("failed to write layout: %v", err)
	}

	tbl, err := LoadLayout(path)
	if err != nil {
		t.Fatalf("LoadLayout failed: %v", err)
	}
	if !tbl.Frozen() {
		t.Error("layout tables should be frozen")
	}
	if off, ok := tbl.SectionOffset("912740BE-2284-4734-B971-84B027353F0C", 0x1C); !ok || off != 0x94 {
		t.Errorf("SectionOffset = 0x%X, %v", off, ok)
	}
	if v, ok := tbl.Symbol("FspSecCoreT", "_TempRamInitApi"); !ok || v != 0xFFF00240 {
		t.Errorf("Symbol = 0x%X, %v", v, ok)
	}
}

func TestLayoutRoundTrip(t *testing.T) {
	tbl, err := ParseLayout([]byte(sampleLayout))
	if err != nil {
		t.Fatalf("ParseLayout failed: %v", err)
	}
	var buf bytes.Buffer
	if err := tbl.WriteLayout(&buf); err != nil {
		t.Fatalf("WriteLayout failed: %v", err)
	}
	again, err := ParseLayout(buf.Bytes())
	if err != nil {
		t.Fatalf("re-parse failed: %v\n%s", err, buf.String())
	}
	if ns, nsym := again.Len(); ns != 1 || nsym != 1 {
		t.Errorf("Len = %d, %d; want 1, 1", ns, nsym)
	}
}

func TestParseLayoutErrors(t *testing.T) {
	tests := map[string]string{
		"bad yaml":          "sections: [",
		"duplicate section": "sections:\n  - guid: 912740BE-2284-4734-B971-84B027353F0C\n  - guid: 912740be-2284-4734-b971-84b027353f0c\n",
		"duplicate symbol":  "symbols:\n  - {module: A, symbol: b, value: 1}\n  - {module: A, symbol: b, value: 2}\n",
		"bad guid":          "sections:\n  - guid: nope\n",
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseLayout([]byte(input)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

package symtab

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

// newFvDir lays out a two-FV build output directory.
func newFvDir(t *testing.T) string {
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "FSP-T.inf"), sampleFvInf)
	writeFile(t, filepath.Join(dir, "FSP-T.Fv.txt"), sampleFvTxt)
	writeFile(t, filepath.Join(dir, "FSP-T.Fv.map"), sampleFvMap)

	writeFile(t, filepath.Join(dir, "FSP-M.inf"), "[options]\nEFI_BASE_ADDRESS = 0xFFF20000\n")
	writeFile(t, filepath.Join(dir, "FSP-M.Fv.txt"), "EFI_FV_TAKEN_SIZE = 0x200\n0x00000078 D5B86AEA-6AF7-40D4-8014-982301BC3D89\n")
	writeFile(t, filepath.Join(dir, "FSP-M.Fv.map"), "FspSecCoreM (Fixed Flash Address, BaseAddress=0xfff20100, EntryPoint=0xfff20200)\n")

	writeFile(t, filepath.Join(dir, "Guid.xref"), "912740BE-2284-4734-B971-84B027353F0C FspHeader\n")
	writeFile(t, filepath.Join(dir, "Ffs", "1BA0062E-C779-4582-8566-336AE8F78F09FspSecCoreT", "1BA0062E-C779-4582-8566-336AE8F78F09.map"), gccMap)
	writeFile(t, filepath.Join(dir, "Ffs", "52C05B14-0B98-496C-BC3B-04B50211D680PeiCore", "PeiCore.map"), msvcMap)

	// not an FV description
	writeFile(t, filepath.Join(dir, "Other.inf"), "[Defines]\nBASE_NAME = Other\n")
	return dir
}

func TestLoaderLoad(t *testing.T) {
	l := NewLoader(newFvDir(t), zap.NewNop())

	base, err := l.Base()
	if err != nil {
		t.Fatalf("Base failed: %v", err)
	}
	if base != 0xFFF00000 {
		t.Errorf("Base = 0x%X, want 0xFFF00000", base)
	}

	tbl, err := l.Load("FSP-T", "FSP-M")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !tbl.Frozen() {
		t.Error("loaded table should be frozen")
	}

	s, ok := tbl.Section("912740BE-2284-4734-B971-84B027353F0C")
	if !ok || s.Offset != 0x78 || s.Name != "FspHeader" {
		t.Errorf("FSP-T header section = %+v, %v", s, ok)
	}
	// FSP-M sits 0x20000 into the FD
	if off, ok := tbl.SectionOffset("D5B86AEA-6AF7-40D4-8014-982301BC3D89", 0x1C); !ok || off != 0x20094 {
		t.Errorf("FSP-M CFG offset = 0x%X, %v", off, ok)
	}

	tests := []struct {
		module, symbol string
		want           uint32
	}{
		{"FspSecCoreT", "_TempRamInitApi", 0xFFF00420 + 0x250},
		{"FspSecCoreT", "_ModuleEntryPoint", 0xFFF00420 + 0x240},
		{"FspSecCoreT", EntryPointSymbol, 0xFFF00560},
		{"PeiCore", "_TempRamInitApi", 0xFFF10000 + 0x240},
		{"PeiCore", EntryPointSymbol, 0xFFF10250},
		{"FspSecCoreM", EntryPointSymbol, 0xFFF20200},
	}
	for _, tt := range tests {
		v, ok := tbl.Symbol(tt.module, tt.symbol)
		if !ok || v != tt.want {
			t.Errorf("%s:%s = 0x%X, %v; want 0x%X", tt.module, tt.symbol, v, ok, tt.want)
		}
	}
}

func TestLoaderBases(t *testing.T) {
	l := NewLoader(newFvDir(t), nil)
	bases, err := l.Bases()
	if err != nil {
		t.Fatalf("Bases failed: %v", err)
	}
	if bases["FSP-T"] != 0xFFF00000 || bases["FSP-M"] != 0xFFF20000 {
		t.Errorf("unexpected bases: %v", bases)
	}
	if _, ok := bases["Other"]; ok {
		t.Error("non-FV inf should be skipped")
	}

	names, err := l.Volumes()
	if err != nil {
		t.Fatalf("Volumes failed: %v", err)
	}
	if len(names) != 2 || names[0] != "FSP-M" || names[1] != "FSP-T" {
		t.Errorf("Volumes = %v", names)
	}
}

func TestLoaderErrors(t *testing.T) {
	l := NewLoader(newFvDir(t), nil)
	if _, err := l.Load("FSP-S"); err == nil {
		t.Error("expected error for missing FV")
	}

	l = NewLoader(newFvDir(t), nil)
	l.FdBase = 0xFFF10000
	if _, err := l.Load("FSP-T"); err == nil {
		t.Error("expected error for FV below the FD base")
	}

	l = NewLoader(t.TempDir(), nil)
	if _, err := l.Base(); err == nil {
		t.Error("expected error for empty directory")
	}
}

package symtab

import (
	"strings"
	"testing"
)

const gccMap = `Archive member included to satisfy reference by file (symbol)

Linker script and memory map

                0x0000000000000000                PECOFF_HEADER_SIZE = 0x0
.text           0x0000000000000240     0x1c40
 *(.text .text.* .stub .gnu.linkonce.t.*)
 .text          0x0000000000000240       0x2a /tmp/FspSecCoreT.dll.ltrans0.o
                0x0000000000000240                _ModuleEntryPoint
                0x0000000000000250                _TempRamInitApi
                0x0000000000000260                _FspInfoHeaderRelativeOff
                0x0000000000000250                _TempRamInitApi
`

const msvcMap = ` FspSecCoreT

 Timestamp is 5b3f6e2d (Fri Jul  6 13:23:09 2018)

 Preferred load address is 00000000

 Start         Length     Name                   Class
 0001:00000000 00001a10H .text$mn                CODE

  Address         Publics by Value              Rva+Base       Lib:Object

 0001:00000000       _TempRamInitApi            00000240 f   FspSecCoreT:SecEntry.obj
 0001:00000010       _AsmGetFspInfoHeader       00000250 f   FspSecCoreT:FspHelper.obj
 0002:00000000       _FspInfoHeaderRelativeOff  00001c00     FspSecCoreT:FspHelper.obj

 entry point at        0001:00000000
`

func TestParseModuleMapGCC(t *testing.T) {
	symbols, err := ParseModuleMap(strings.NewReader(gccMap))
	if err != nil {
		t.Fatalf("ParseModuleMap failed: %v", err)
	}
	want := map[string]uint32{
		"_ModuleEntryPoint":         0x240,
		"_TempRamInitApi":           0x250,
		"_FspInfoHeaderRelativeOff": 0x260,
	}
	for name, v := range want {
		if symbols[name] != v {
			t.Errorf("%s = 0x%X, want 0x%X", name, symbols[name], v)
		}
	}
	if _, ok := symbols["PECOFF_HEADER_SIZE"]; ok {
		t.Error("assignment lines should not produce symbols")
	}
}

func TestParseModuleMapMSVC(t *testing.T) {
	symbols, err := ParseModuleMap(strings.NewReader(msvcMap))
	if err != nil {
		t.Fatalf("ParseModuleMap failed: %v", err)
	}
	want := map[string]uint32{
		"_TempRamInitApi":           0x240,
		"_AsmGetFspInfoHeader":      0x250,
		"_FspInfoHeaderRelativeOff": 0x1C00,
	}
	if len(symbols) != len(want) {
		t.Errorf("got %d symbols, want %d: %v", len(symbols), len(want), symbols)
	}
	for name, v := range want {
		if symbols[name] != v {
			t.Errorf("%s = 0x%X, want 0x%X", name, symbols[name], v)
		}
	}
}

func TestParseModuleMapPreferredBase(t *testing.T) {
	input := "Preferred load address is 00010000\n" +
		" 0001:00000000       _Entry            00010240 f   a.obj\n"
	symbols, err := ParseModuleMap(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseModuleMap failed: %v", err)
	}
	if symbols["_Entry"] != 0x240 {
		t.Errorf("_Entry = 0x%X, want 0x240", symbols["_Entry"])
	}
}

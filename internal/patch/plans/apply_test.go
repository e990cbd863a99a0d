package plans

import (
	"encoding/binary"
	"testing"

	"go.uber.org/zap"

	"github.com/muurk/fspbuild/internal/patch"
	"github.com/muurk/fspbuild/internal/symtab"
)

func TestApplyFspTPlan(t *testing.T) {
	const fdBase = 0xFFF00000

	data := make([]byte, 0x1000)
	le := binary.LittleEndian
	le.PutUint32(data[0x20:], 0x1000) // FvLength
	le.PutUint32(data[0x214:], 0x100) // CFG FFS size
	img := patch.NewImage(data, fdBase)

	tbl := symtab.New()
	for _, s := range []symtab.Section{
		{GUID: "912740BE-2284-4734-B971-84B027353F0C", Offset: 0x78, Size: 0x70},
		{GUID: "70BCF6A5-FFB1-47D8-B1AE-EFE5508E23EA", Offset: 0x200, Size: 0x100},
	} {
		if err := tbl.AddSection(s); err != nil {
			t.Fatalf("AddSection failed: %v", err)
		}
	}
	for name, v := range map[string]uint32{
		"_TempRamInitApi":           0xFFF00300,
		"_AsmGetFspInfoHeader":      0xFFF00310,
		"_FspInfoHeaderRelativeOff": 0xFFF00400,
	} {
		if err := tbl.AddSymbol("FspSecCoreT", name, v); err != nil {
			t.Fatalf("AddSymbol failed: %v", err)
		}
	}
	tbl.Freeze()

	c, err := Builtin()
	if err != nil {
		t.Fatalf("Builtin failed: %v", err)
	}
	set, _ := c.Get(DefaultSet)
	plan, err := set.Plan("T", ParamsFor("DEBUG", "x64"))
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	engine := patch.NewEngine(map[string]uint32{"FSP-T": fdBase}, zap.NewNop())
	if _, err := engine.Apply(plan, tbl, img); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	checks := []struct {
		name  string
		off   int
		width int
		want  uint32
	}{
		{"temporary base restored", 0x00, 4, 0},
		{"image size", 0xAC, 4, 0x1000},
		{"image base", 0xB0, 4, fdBase},
		{"image attribute", 0xB4, 2, 0x0001},
		{"component attribute", 0xB6, 2, 0x1002},
		{"cfg offset", 0xB8, 4, 0x21C},
		{"cfg size", 0xBC, 4, 0xE4},
		{"TempRamInit", 0xC4, 4, 0x300},
		{"header offset", 0x400, 4, 0x27C},
	}
	for _, c := range checks {
		var got uint32
		if c.width == 2 {
			got = uint32(le.Uint16(img.Data[c.off:]))
		} else {
			got = le.Uint32(img.Data[c.off:])
		}
		if got != c.want {
			t.Errorf("%s at 0x%X = 0x%X, want 0x%X", c.name, c.off, got, c.want)
		}
	}
}

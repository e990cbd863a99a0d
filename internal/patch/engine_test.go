package patch

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func mustPlan(t *testing.T, name string, lines ...string) *Plan {
	t.Helper()
	plan, err := ParsePlan(name, lines)
	if err != nil {
		t.Fatalf("ParsePlan failed: %v", err)
	}
	return plan
}

func newTestEngine() *Engine {
	return NewEngine(map[string]uint32{"FSP-T": 0x1000}, zap.NewNop())
}

func TestApplyOutOfRange(t *testing.T) {
	img := NewImage(make([]byte, 0x1000), 0)
	plan := mustPlan(t, "FSP-T",
		"0x0000, _BASE_FSP-T_, @Temporary Base",
		"<[0x0000]>+0x00C4, FspSecCoreT:_TempRamInitApi - [0x0000], @TempRamInit API",
	)

	n, err := newTestEngine().Apply(plan, newFakeTable(), img)
	if err == nil {
		t.Fatal("expected failure")
	}
	if n != 0 {
		t.Errorf("expected 0 bytes reported on failure, got %d", n)
	}

	var oor *OutOfRangeError
	if !errors.As(err, &oor) {
		t.Fatalf("expected *OutOfRangeError, got %v", err)
	}
	if oor.Offset != 0x10C4 {
		t.Errorf("Offset = 0x%X, want 0x10C4", oor.Offset)
	}

	var perr *PatchError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *PatchError, got %T", err)
	}
	if perr.Plan != "FSP-T" || perr.Index != 1 {
		t.Errorf("unexpected PatchError: plan=%s index=%d", perr.Plan, perr.Index)
	}

	// the first write must have been rolled back
	if !bytes.Equal(img.Data, make([]byte, 0x1000)) {
		t.Error("image was not rolled back")
	}
	if !img.Aborted() {
		t.Error("image should be marked aborted")
	}
}

func TestApplyWrapsValue(t *testing.T) {
	img := NewImage(make([]byte, 0x2000), 0)
	plan := mustPlan(t, "FSP-T",
		"0x0000, _BASE_FSP-T_, @Temporary Base",
		"<[0x0000]>+0x00C4, FspSecCoreT:_TempRamInitApi - [0x0000], @TempRamInit API",
	)

	n, err := newTestEngine().Apply(plan, newFakeTable(), img)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if n != 8 {
		t.Errorf("bytes touched = %d, want 8", n)
	}

	if got := binary.LittleEndian.Uint32(img.Data[0:]); got != 0x1000 {
		t.Errorf("value at 0x0 = 0x%X, want 0x1000", got)
	}
	want := []byte{0x40, 0xF0, 0xFF, 0xFF}
	if got := img.Data[0x10C4:0x10C8]; !bytes.Equal(got, want) {
		t.Errorf("bytes at 0x10C4 = % X, want % X", got, want)
	}
	if img.Aborted() {
		t.Error("image should not be aborted")
	}
}

func TestApplyRestoresOriginalBytes(t *testing.T) {
	data := make([]byte, 0x100)
	binary.LittleEndian.PutUint32(data[0:], 0xDEADBEEF)
	img := NewImage(data, 0)

	plan := mustPlan(t, "FSP-T",
		"0x0000, 0x00000080, @Temporary Base",
		"<[0x0000]>+0x0004, 0x11223344, @Field",
		"0x0000, 0x12345678, @Another temporary value",
		"0x0000, 0x00000000, @Restore the value",
	)

	if _, err := newTestEngine().Apply(plan, nil, img); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if got := binary.LittleEndian.Uint32(img.Data[0:]); got != 0xDEADBEEF {
		t.Errorf("restored value = 0x%X, want 0xDEADBEEF", got)
	}
	if got := binary.LittleEndian.Uint32(img.Data[0x84:]); got != 0x11223344 {
		t.Errorf("field = 0x%X, want 0x11223344", got)
	}
}

func TestApplyRestoreUntouchedIsNoOp(t *testing.T) {
	data := make([]byte, 0x20)
	binary.LittleEndian.PutUint32(data[0x10:], 0xCAFEF00D)
	img := NewImage(data, 0)

	plan := mustPlan(t, "FSP-S", "0x0010, RESTORE, @never written")
	n, err := newTestEngine().Apply(plan, nil, img)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if n != 0 {
		t.Errorf("bytes touched = %d, want 0", n)
	}
	if got := binary.LittleEndian.Uint32(img.Data[0x10:]); got != 0xCAFEF00D {
		t.Errorf("value = 0x%X, want 0xCAFEF00D", got)
	}
}

func TestApplyRoundTrip(t *testing.T) {
	original := make([]byte, 0x100)
	for i := range original {
		original[i] = byte(i * 7)
	}
	img := NewImage(append([]byte(nil), original...), 0)

	writes := []string{
		"0x00B4, 0x00010000, @FSP-T Base",
		"0x00B6, 0xFFFFFFFF, @overlapping write",
		"0x0010, 0xAB, 1, @byte",
		"0x0020, 0xABCD, 2, @word",
		"0x00B4, [0x0010], @re-write",
	}
	restores := []string{
		"0x00B4, RESTORE, @Restore",
		"0x00B6, RESTORE, @Restore",
		"0x0010, RESTORE, 1, @Restore",
		"0x0020, RESTORE, 2, @Restore",
	}

	plan := mustPlan(t, "FSP-T", append(append([]string{}, writes...), restores...)...)
	n, err := newTestEngine().Apply(plan, nil, img)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	// 0xB4..0xB9, 0x10, 0x20..0x21
	if n != 9 {
		t.Errorf("bytes touched = %d, want 9", n)
	}
	if !bytes.Equal(img.Data, original) {
		t.Error("image differs from original after restoring every written address")
	}
}

func TestApplyWidths(t *testing.T) {
	img := NewImage(bytes.Repeat([]byte{0xEE}, 8), 0)
	plan := mustPlan(t, "FSP-M",
		"0x0, 0x11223344, 1",
		"0x2, 0x11223344, 2",
		"0x4, 0x11223344",
	)
	if _, err := newTestEngine().Apply(plan, nil, img); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	want := []byte{0x44, 0xEE, 0x44, 0x33, 0x44, 0x33, 0x22, 0x11}
	if !bytes.Equal(img.Data, want) {
		t.Errorf("image = % X, want % X", img.Data, want)
	}
}

func TestApplyFailureLeavesImageUnpublished(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "QEMUFSP.fd")
	original := make([]byte, 0x40)
	if err := os.WriteFile(path, original, 0644); err != nil {
		t.Fatalf("failed to write image: %v", err)
	}

	img, err := LoadImage(path, 0)
	if err != nil {
		t.Fatalf("LoadImage failed: %v", err)
	}

	plan := mustPlan(t, "FSP-M",
		"0x0000, 0x11111111, @first",
		"0x0004, 0x22222222, @second",
		"0x0008, FspSecCoreM:_FspMemoryInitApi, @third",
		"0x000C, 0x44444444, @never reached",
	)
	_, err = newTestEngine().Apply(plan, newFakeTable(), img)

	var unresolved *UnresolvedSymbolError
	if !errors.As(err, &unresolved) {
		t.Fatalf("expected *UnresolvedSymbolError, got %v", err)
	}
	var perr *PatchError
	if !errors.As(err, &perr) || perr.Index != 2 || perr.Comment != "third" {
		t.Fatalf("expected PatchError for the third operation, got %v", err)
	}

	if err := img.Save(""); !errors.Is(err, ErrImageAborted) {
		t.Fatalf("Save should refuse an aborted image, got %v", err)
	}
	onDisk, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read image: %v", err)
	}
	if !bytes.Equal(onDisk, original) {
		t.Error("file on disk contains a partial patch")
	}
	if !bytes.Equal(img.Data, original) {
		t.Error("in-memory image was not rolled back")
	}

	// A later successful plan must not make the image saveable again.
	ok := mustPlan(t, "FSP-S", "0x0000, 0x11111111, @first")
	if _, err := newTestEngine().Apply(ok, nil, img); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !img.Aborted() {
		t.Error("a successful plan cleared the abort mark")
	}
	if err := img.Save(""); !errors.Is(err, ErrImageAborted) {
		t.Fatalf("Save after a failed plan should be refused, got %v", err)
	}
	onDisk, _ = os.ReadFile(path)
	if !bytes.Equal(onDisk, original) {
		t.Error("file on disk was rewritten after a failed plan")
	}

	reloaded, err := LoadImage(path, 0)
	if err != nil {
		t.Fatalf("LoadImage failed: %v", err)
	}
	if reloaded.Aborted() {
		t.Error("a reloaded image should not be aborted")
	}
}

func TestImageSaveAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.fd")

	img := NewImage([]byte{1, 2, 3, 4}, 0)
	if err := img.Save(""); err == nil {
		t.Error("expected error without a path")
	}
	if err := img.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the image in %s, found %d entries", dir, len(entries))
	}
}

func TestImageReadWriteErrors(t *testing.T) {
	img := NewImage(make([]byte, 4), 0)
	if _, err := img.Read(0, 3); err == nil {
		t.Error("expected error for width 3")
	}
	if err := img.Write(2, 4, 1); err == nil {
		t.Error("expected out of range error")
	}
	if err := img.Write(3, 1, 0x1FF); err != nil {
		t.Errorf("Write failed: %v", err)
	}
	if img.Data[3] != 0xFF {
		t.Errorf("byte write not truncated: 0x%X", img.Data[3])
	}
}

func TestImageToOffset(t *testing.T) {
	img := NewImage(make([]byte, 0x2000), 0x1000)
	tests := []struct {
		addr uint32
		want uint32
	}{
		{0x1000, 0x0000},
		{0x2FFC, 0x1FFC},
		// already an offset, below the base
		{0x0010, 0x0010},
		// an offset at or above the base that is not inside the mapped range
		{0x3000, 0x3000},
		{0x1FFC, 0x0FFC},
	}
	for _, tt := range tests {
		if got := img.ToOffset(tt.addr); got != tt.want {
			t.Errorf("ToOffset(0x%X) = 0x%X, want 0x%X", tt.addr, got, tt.want)
		}
	}
}

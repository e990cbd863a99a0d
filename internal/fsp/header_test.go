package fsp

import (
	"errors"
	"strings"
	"testing"
)

func TestReadComponentErrors(t *testing.T) {
	data := make([]byte, 0x200)

	if _, err := ReadComponent(data, "FSP-T", 0x400); err == nil {
		t.Error("expected error for offset outside the image")
	}

	_, err := ReadComponent(data, "FSP-M", 0)
	if err == nil {
		t.Fatal("expected error for an image without an FV")
	}
	if !strings.HasPrefix(err.Error(), "FSP-M:") {
		t.Errorf("error should name the volume: %v", err)
	}
	if !errors.Is(err, ErrNoFirmwareVolume) {
		t.Errorf("expected ErrNoFirmwareVolume, got %v", err)
	}
}

func TestReadComponentRejectsWrongSignature(t *testing.T) {
	data := make([]byte, 0x1000)
	copy(data[0x28:], "_FVX")

	_, err := ReadComponent(data, "FSP-S", 0)
	if !errors.Is(err, ErrNoFirmwareVolume) {
		t.Fatalf("expected ErrNoFirmwareVolume, got %v", err)
	}
	if strings.Contains(err.Error(), "has no files") {
		t.Errorf("error should not report an empty volume: %v", err)
	}
}

func TestCheckAllCollectsErrors(t *testing.T) {
	data := make([]byte, 0x100)
	_, err := CheckAll(data, []Expect{
		{Volume: "FSP-T", Offset: 0},
		{Volume: "FSP-M", Offset: 0x1000},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	for _, name := range []string{"FSP-T", "FSP-M"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error should mention %s: %v", name, err)
		}
	}
}

func TestMismatchError(t *testing.T) {
	err := error(&MismatchError{Volume: "FSP-S", Field: "ImageBase", Got: 0, Want: 0xFFF40000})
	var mm *MismatchError
	if !errors.As(err, &mm) {
		t.Fatal("errors.As failed")
	}
	want := "FSP-S: FSP info header ImageBase is 0x00000000, expected 0xFFF40000"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

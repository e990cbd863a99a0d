package symtab

import (
	"fmt"
	"strings"

	"github.com/linuxboot/fiano/pkg/uefi"
)

// fvSignature is "_FVH" read as a little-endian uint32.
const fvSignature = 0x4856465F

// Volume is one firmware volume found in an FD.
type Volume struct {
	// Offset is the FV's offset within the FD
	Offset uint32
	// Length is the FV length from its header
	Length uint32
	Files  []Section
}

// ScanImage parses the firmware volume at fvOffset in an FD and returns its
// FFS files. Offsets are FD offsets.
func ScanImage(data []byte, fvOffset uint32) (*Volume, error) {
	if uint64(fvOffset) >= uint64(len(data)) {
		return nil, fmt.Errorf("FV offset 0x%X is outside the 0x%X-byte image", fvOffset, len(data))
	}
	fv, err := uefi.NewFirmwareVolume(data[fvOffset:], uint64(fvOffset), false)
	if err != nil {
		return nil, fmt.Errorf("cannot parse firmware volume at 0x%X: %w", fvOffset, err)
	}
	if fv.Signature != fvSignature {
		return nil, fmt.Errorf("no firmware volume at 0x%X: signature 0x%08X", fvOffset, fv.Signature)
	}

	vol := &Volume{Offset: fvOffset, Length: uint32(fv.Length)}

	// FFS files are 8-byte aligned and laid out back to back after the FV
	// header.
	pos := fv.DataOffset
	for _, file := range fv.Files {
		pos = align8(pos)
		size := uint64(len(file.Buf()))
		if file.Header.Type != uefi.FVFileTypePad {
			vol.Files = append(vol.Files, Section{
				GUID:   strings.ToUpper(file.Header.GUID.String()),
				Offset: fvOffset + uint32(pos),
				Size:   uint32(size),
			})
		}
		pos += size
	}
	return vol, nil
}

// ScanVolumes finds and parses every firmware volume in an FD.
func ScanVolumes(data []byte) ([]*Volume, error) {
	var volumes []*Volume
	pos := 0
	for pos < len(data) {
		off := uefi.FindFirmwareVolumeOffset(data[pos:])
		if off < 0 {
			break
		}
		start := pos + int(off)
		vol, err := ScanImage(data, uint32(start))
		if err != nil {
			return nil, err
		}
		volumes = append(volumes, vol)
		if vol.Length == 0 {
			break
		}
		pos = start + int(vol.Length)
	}
	if len(volumes) == 0 {
		return nil, fmt.Errorf("no firmware volume found in image")
	}
	return volumes, nil
}

// AddVolume adds every file of a scanned volume to the table. Files already
// present are skipped, so a table loaded from FV reports can be completed
// from the image.
func (t *Table) AddVolume(vol *Volume) (int, error) {
	added := 0
	for _, f := range vol.Files {
		if _, ok := t.Section(f.GUID); ok {
			continue
		}
		if err := t.AddSection(f); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

func align8(v uint64) uint64 {
	return (v + 7) &^ 7
}

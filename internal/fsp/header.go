// Package fsp reads and checks the FSP_INFO_HEADER of patched FSP components.
package fsp

import (
	"errors"
	"fmt"

	fianofsp "github.com/linuxboot/fiano/pkg/fsp"
	"github.com/linuxboot/fiano/pkg/uefi"
)

// sectionHeaderSize is the size of a common section header; the info header
// follows it directly.
const sectionHeaderSize = 4

// fvSignature is "_FVH" read as a little-endian uint32.
const fvSignature = 0x4856465F

// ErrNoFirmwareVolume is returned when no FV header is found at the offset.
var ErrNoFirmwareVolume = errors.New("no firmware volume")

// Component is one FSP component found in an FD.
type Component struct {
	// Volume is the FV name, e.g. "FSP-T"
	Volume string
	// Offset is the FV's offset in the FD
	Offset uint32
	// FvLength is the FV length from its header
	FvLength uint32
	Header   *fianofsp.CommonInfoHeader
}

// ReadComponent parses the FV at fvOffset and decodes the FSP_INFO_HEADER
// held in the raw section of its first FFS file.
func ReadComponent(data []byte, volume string, fvOffset uint32) (*Component, error) {
	if uint64(fvOffset) >= uint64(len(data)) {
		return nil, fmt.Errorf("%s: FV offset 0x%X is outside the 0x%X-byte image", volume, fvOffset, len(data))
	}
	fv, err := uefi.NewFirmwareVolume(data[fvOffset:], uint64(fvOffset), false)
	if err != nil {
		return nil, fmt.Errorf("%s: cannot parse firmware volume: %w", volume, err)
	}
	if fv.Signature != fvSignature {
		return nil, fmt.Errorf("%s: %w at offset 0x%X", volume, ErrNoFirmwareVolume, fvOffset)
	}
	if len(fv.Files) < 1 {
		return nil, fmt.Errorf("%s: firmware volume has no files", volume)
	}
	file := fv.Files[0]
	sec, err := uefi.NewSection(file.Buf()[file.DataOffset:], 0)
	if err != nil {
		return nil, fmt.Errorf("%s: cannot parse section: %w", volume, err)
	}
	buf := sec.Buf()
	if len(buf) <= sectionHeaderSize {
		return nil, fmt.Errorf("%s: FSP info section is empty", volume)
	}
	hdr, err := fianofsp.NewInfoHeader(buf[sectionHeaderSize:])
	if err != nil {
		return nil, fmt.Errorf("%s: cannot parse FSP info header: %w", volume, err)
	}
	return &Component{
		Volume:   volume,
		Offset:   fvOffset,
		FvLength: uint32(fv.Length),
		Header:   hdr,
	}, nil
}

// Summary returns a human-readable dump of the info header.
func (c *Component) Summary() string {
	return c.Header.Summary()
}

// MismatchError is returned when a patched header field does not hold the
// value the build laid out.
type MismatchError struct {
	Volume string
	Field  string
	Got    uint32
	Want   uint32
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s: FSP info header %s is 0x%08X, expected 0x%08X", e.Volume, e.Field, e.Got, e.Want)
}

// Expect describes what a patched component's header must hold.
type Expect struct {
	Volume string
	// Offset is the FV offset in the FD
	Offset uint32
	// Base is the component load address
	Base uint32
}

// Check verifies the header of one component: ImageBase must be the
// component base and ImageSize the FV length.
func Check(data []byte, e Expect) (*Component, error) {
	c, err := ReadComponent(data, e.Volume, e.Offset)
	if err != nil {
		return nil, err
	}
	var errs []error
	if c.Header.ImageBase != e.Base {
		errs = append(errs, &MismatchError{Volume: e.Volume, Field: "ImageBase", Got: c.Header.ImageBase, Want: e.Base})
	}
	if c.Header.ImageSize != c.FvLength {
		errs = append(errs, &MismatchError{Volume: e.Volume, Field: "ImageSize", Got: c.Header.ImageSize, Want: c.FvLength})
	}
	return c, errors.Join(errs...)
}

// CheckAll verifies every component and returns all mismatches together.
func CheckAll(data []byte, expects []Expect) ([]*Component, error) {
	var comps []*Component
	var errs []error
	for _, e := range expects {
		c, err := Check(data, e)
		if c != nil {
			comps = append(comps, c)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return comps, errors.Join(errs...)
}

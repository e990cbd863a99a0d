package patch

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
)

// Image is a firmware device image being patched.
//
// Base is the address at which byte 0 of Data is mapped (the flash base of
// the FD). With a zero Base, offsets and addresses are the same number.
type Image struct {
	Data []byte
	Base uint32
	Path string

	aborted bool
}

// NewImage wraps data as an image mapped at base.
func NewImage(data []byte, base uint32) *Image {
	return &Image{Data: data, Base: base}
}

// LoadImage reads an image file from disk.
func LoadImage(path string, base uint32) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return &Image{Data: data, Base: base, Path: path}, nil
}

// Len returns the image size in bytes.
func (img *Image) Len() int {
	return len(img.Data)
}

// Aborted reports whether any plan applied to the image failed. Only
// reloading the image from disk clears it.
func (img *Image) Aborted() bool {
	return img.aborted
}

// ToOffset converts an address to an image offset. Only addresses inside
// [Base, Base+Len) are mapped; anything else is taken to be an offset
// already.
func (img *Image) ToOffset(addr uint32) uint32 {
	if img.Base != 0 && addr >= img.Base && uint64(addr-img.Base) < uint64(len(img.Data)) {
		return addr - img.Base
	}
	return addr
}

// ToAddress converts an image offset to an address.
func (img *Image) ToAddress(off uint32) uint32 {
	return off + img.Base
}

func (img *Image) check(access string, off uint32, width int) error {
	if uint64(off)+uint64(width) > uint64(len(img.Data)) {
		return &OutOfRangeError{Access: access, Offset: uint64(off), Width: width, Size: len(img.Data)}
	}
	return nil
}

// Read returns the little-endian value of the given width at off.
func (img *Image) Read(off uint32, width int) (uint32, error) {
	if err := checkWidth(width); err != nil {
		return 0, err
	}
	if err := img.check("read", off, width); err != nil {
		return 0, err
	}
	b := img.Data[off : int(off)+width]
	switch width {
	case 1:
		return uint32(b[0]), nil
	case 2:
		return uint32(binary.LittleEndian.Uint16(b)), nil
	default:
		return binary.LittleEndian.Uint32(b), nil
	}
}

// Write stores v at off, little-endian, truncated to width bytes.
func (img *Image) Write(off uint32, width int, v uint32) error {
	if err := checkWidth(width); err != nil {
		return err
	}
	if err := img.check("write", off, width); err != nil {
		return err
	}
	b := img.Data[off : int(off)+width]
	switch width {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	default:
		binary.LittleEndian.PutUint32(b, v)
	}
	return nil
}

func checkWidth(width int) error {
	switch width {
	case 1, 2, 4:
		return nil
	}
	return fmt.Errorf("unsupported write width %d (must be 1, 2 or 4)", width)
}

// Save writes the image to path through a temporary file and rename, so a
// reader never sees a half-written image. An aborted image is refused.
func (img *Image) Save(path string) error {
	if img.aborted {
		return ErrImageAborted
	}
	if path == "" {
		path = img.Path
	}
	if path == "" {
		return fmt.Errorf("no output path for image")
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary image file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(img.Data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write image: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save image: %w", err)
	}
	return nil
}

// Package firmware loads firmware image files for download and writes
// flash dumps back out, speaking Intel HEX through
// github.com/marcinbor85/gohex and raw binary for everything else.
package firmware

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcinbor85/gohex"

	"github.com/aika-io/dfuboot/pkg"
)

// PadByte fills address gaps between HEX data segments. It matches the
// erased flash pattern, so padded ranges cost no extra programming.
const PadByte = 0xFF

// maxExtent bounds the flattened image size. HEX files can place
// segments anywhere in the 32-bit space; a stray segment must not make
// the loader allocate the gap.
const maxExtent = 64 << 20

// Image is a firmware image staged for download: a flat payload plus the
// flash address it was linked for. Raw binaries carry Addr 0, leaving
// placement to the device profile.
type Image struct {
	Addr uint32
	Data []byte
}

// String returns a human-readable summary.
func (img Image) String() string {
	if img.Addr == 0 {
		return fmt.Sprintf("%d bytes", len(img.Data))
	}
	return fmt.Sprintf("%d bytes @ 0x%08X", len(img.Data), img.Addr)
}

// Load reads a firmware image file, dispatching on the extension:
// .hex and .ihex parse as Intel HEX, anything else loads as raw binary.
func Load(path string) (Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return Image{}, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".hex", ".ihex":
		return ReadHex(f)
	default:
		return ReadBin(f)
	}
}

// ReadBin loads a raw binary image.
func ReadBin(r io.Reader) (Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Image{}, fmt.Errorf("read image: %w", err)
	}
	if len(data) == 0 {
		return Image{}, fmt.Errorf("empty image: %w", pkg.ErrImageFormat)
	}
	return Image{Data: data}, nil
}

// ReadHex parses an Intel HEX image and flattens every data segment into
// one contiguous extent based at the lowest segment address, filling
// gaps with PadByte.
func ReadHex(r io.Reader) (Image, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return Image{}, fmt.Errorf("%w: %v", pkg.ErrImageFormat, err)
	}
	segs := mem.GetDataSegments()
	if len(segs) == 0 {
		return Image{}, fmt.Errorf("no data records: %w", pkg.ErrImageFormat)
	}

	lo, hi := segs[0].Address, segs[0].Address+uint32(len(segs[0].Data))
	for _, s := range segs[1:] {
		if s.Address < lo {
			lo = s.Address
		}
		if end := s.Address + uint32(len(s.Data)); end > hi {
			hi = end
		}
	}
	if hi-lo > maxExtent {
		return Image{}, fmt.Errorf("segments span %d bytes: %w", hi-lo, pkg.ErrImageFormat)
	}

	data := make([]byte, hi-lo)
	for i := range data {
		data[i] = PadByte
	}
	for _, s := range segs {
		copy(data[s.Address-lo:], s.Data)
	}
	return Image{Addr: lo, Data: data}, nil
}

// WriteHex dumps data based at addr as Intel HEX with 16-byte records,
// the format the simulator uses for flash dumps.
func WriteHex(w io.Writer, addr uint32, data []byte) error {
	mem := gohex.NewMemory()
	if err := mem.AddBinary(addr, data); err != nil {
		return fmt.Errorf("%w: %v", pkg.ErrImageFormat, err)
	}
	if err := mem.DumpIntelHex(w, 16); err != nil {
		return fmt.Errorf("write hex: %w", err)
	}
	return nil
}

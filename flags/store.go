package flags

import (
	"fmt"
	"math"

	"github.com/aika-io/dfuboot/hal"
	"github.com/aika-io/dfuboot/pkg"
)

// Store reads and writes the boot flags record at a fixed flash page.
// It owns the record between load and store; nothing else touches the
// page.
type Store struct {
	flash hal.Flash
	addr  uint32
	geom  hal.Geometry
}

// NewStore creates a store for the record page at addr. The address must
// be page-aligned per the geometry.
func NewStore(flash hal.Flash, addr uint32, geom hal.Geometry) *Store {
	return &Store{flash: flash, addr: addr, geom: geom}
}

// Addr returns the record page address.
func (s *Store) Addr() uint32 {
	return s.addr
}

// Load reads and decodes the record. Uninitialized, torn, or unreadable
// flash yields an invalid record with a zero flash count; Load never
// fails, because an unreadable record is a defined state (stay in the
// bootloader), not a halt condition.
func (s *Store) Load() Record {
	var buf [RecordSize]byte
	var rec Record
	if err := s.flash.Read(s.addr, buf[:]); err != nil {
		pkg.LogWarn(pkg.ComponentStore, "flags read failed, treating as uninitialized",
			"addr", fmt.Sprintf("0x%08X", s.addr), "error", err)
		return Record{Auth: AuthInvalid}
	}
	if err := ParseRecord(buf[:], &rec); err != nil {
		return Record{Auth: AuthInvalid}
	}
	if !rec.Valid() {
		pkg.LogDebug(pkg.ComponentStore, "flags record uninitialized",
			"magic", fmt.Sprintf("0x%08X", rec.Magic))
		return Record{Magic: rec.Magic, Version: rec.Version, Auth: AuthInvalid}
	}
	pkg.LogDebug(pkg.ComponentStore, "flags record loaded",
		"auth", rec.Auth.String(), "count", rec.FlashCount, "size", rec.ImageSize)
	return rec
}

// MarkVerified rewrites the record with the verified flag, the given image
// size, and the flash count incremented from the current record
// (saturating, and starting from zero when the record is uninitialized).
// The page is erased before programming; a crash between the two steps
// leaves an erased page that loads as invalid.
func (s *Store) MarkVerified(imageSize uint32) (Record, error) {
	old := s.Load()
	count := old.FlashCount
	if !old.Valid() {
		count = 0
	}
	if count < math.MaxUint32 {
		count++
	}

	rec := Record{
		Magic:      Magic,
		Version:    LayoutVersion,
		Auth:       AuthVerified,
		FlashCount: count,
		ImageSize:  imageSize,
	}
	if err := s.write(&rec); err != nil {
		return Record{}, fmt.Errorf("mark verified: %w", err)
	}
	pkg.LogInfo(pkg.ComponentStore, "image marked verified",
		"count", rec.FlashCount, "size", rec.ImageSize)
	return rec, nil
}

// Invalidate rewrites the record with the invalid flag, preserving the
// flash count and image size. Uses the same erase-then-program pattern as
// MarkVerified.
func (s *Store) Invalidate() error {
	old := s.Load()
	rec := Record{
		Magic:      Magic,
		Version:    LayoutVersion,
		Auth:       AuthInvalid,
		FlashCount: old.FlashCount,
		ImageSize:  old.ImageSize,
	}
	if err := s.write(&rec); err != nil {
		return fmt.Errorf("invalidate: %w", err)
	}
	pkg.LogInfo(pkg.ComponentStore, "image invalidated", "count", rec.FlashCount)
	return nil
}

// write erases the record page and programs rec into it. The payload
// (count, size, reserved tail) is programmed first and the gate (magic,
// version, flag) last, so a crash at any point leaves a page that decodes
// as invalid rather than as a verified record with torn payload fields.
func (s *Store) write(rec *Record) error {
	var buf [RecordSize]byte
	rec.MarshalTo(buf[:])

	if err := s.flash.Erase(s.addr); err != nil {
		return err
	}
	if err := s.flash.Program(s.addr+gateSize, buf[gateSize:]); err != nil {
		return err
	}
	return s.flash.Program(s.addr, buf[:gateSize])
}

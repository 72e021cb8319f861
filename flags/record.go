package flags

import (
	"encoding/binary"
	"fmt"

	"github.com/aika-io/dfuboot/pkg"
)

// Record layout constants, shared with host tooling.
const (
	// Magic proves the record was intentionally written, as opposed to
	// erased or torn flash.
	Magic = 0xDEADCAFE

	// LayoutVersion is the current record layout version.
	LayoutVersion = 0x01

	// RecordSize is the size of the persisted record in bytes.
	RecordSize = 32

	// gateSize is the length of the leading gate fields (magic, version,
	// flag, padding). The store programs the gate after the payload so a
	// torn write can never decode as verified.
	gateSize = 8
)

// Authenticity reports whether the resident application image may run.
// The values are the persisted byte encodings.
type Authenticity uint8

// Authenticity flag values.
const (
	// AuthInvalid marks an image that must not run. It is the canonical
	// write value; any unrecognized flag byte also decodes to it.
	AuthInvalid Authenticity = 0x00

	// AuthVerified marks an image that completed manifestation.
	AuthVerified Authenticity = 0xA5

	// AuthUnverified marks an image that was flashed but not yet vetted.
	// It doubles as the erased flash pattern.
	AuthUnverified Authenticity = 0xFF
)

// String returns a human-readable flag name.
func (a Authenticity) String() string {
	switch a {
	case AuthVerified:
		return "verified"
	case AuthUnverified:
		return "unverified"
	default:
		return "invalid"
	}
}

// Record is the decoded boot flags record.
type Record struct {
	Magic      uint32       // Magic as read from flash
	Version    uint8        // Layout version as read from flash
	Auth       Authenticity // Authenticity flag
	FlashCount uint32       // Completed downloads, saturating
	ImageSize  uint32       // Bytes committed by the last manifestation
}

// Valid reports whether the record carries the expected magic and layout
// version. An invalid record means never-flashed or torn flash and always
// routes to the bootloader.
func (r *Record) Valid() bool {
	return r.Magic == Magic && r.Version == LayoutVersion
}

// String returns a human-readable summary.
func (r *Record) String() string {
	if !r.Valid() {
		return fmt.Sprintf("Record[uninitialized magic=0x%08X]", r.Magic)
	}
	return fmt.Sprintf("Record[%s count=%d size=%d]", r.Auth, r.FlashCount, r.ImageSize)
}

// MarshalTo serializes the record to buf.
// Returns the number of bytes written (always RecordSize if buf is large
// enough). Reserved bytes are written as the erased pattern.
func (r *Record) MarshalTo(buf []byte) int {
	if len(buf) < RecordSize {
		return 0
	}
	binary.LittleEndian.PutUint32(buf[0:4], r.Magic)
	buf[4] = r.Version
	buf[5] = uint8(r.Auth)
	buf[6] = 0xFF
	buf[7] = 0xFF
	binary.LittleEndian.PutUint32(buf[8:12], r.FlashCount)
	binary.LittleEndian.PutUint32(buf[12:16], r.ImageSize)
	for i := 16; i < RecordSize; i++ {
		buf[i] = 0xFF
	}
	return RecordSize
}

// ParseRecord decodes a record from data into out. Unrecognized flag bytes
// decode as AuthInvalid. Returns an error only if data is too short.
func ParseRecord(data []byte, out *Record) error {
	if len(data) < RecordSize {
		return pkg.ErrBufferTooSmall
	}
	out.Magic = binary.LittleEndian.Uint32(data[0:4])
	out.Version = data[4]
	switch Authenticity(data[5]) {
	case AuthVerified:
		out.Auth = AuthVerified
	case AuthUnverified:
		out.Auth = AuthUnverified
	default:
		out.Auth = AuthInvalid
	}
	out.FlashCount = binary.LittleEndian.Uint32(data[8:12])
	out.ImageSize = binary.LittleEndian.Uint32(data[12:16])
	return nil
}

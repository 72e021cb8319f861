package fifousb

import (
	"encoding/binary"
	"fmt"

	"github.com/aika-io/dfuboot/pkg"
)

// Frame types. Values are shared with the host/fifousb package and must
// never be renumbered.
const (
	FrameSetup = 0x01 // SETUP packet, host to device
	FrameData  = 0x02 // Data payload, either direction
	FrameAck   = 0x03 // Successful status stage, device to host
	FrameStall = 0x05 // Protocol stall, device to host
	FrameReset = 0x12 // Bus reset, host to device
)

// HeaderSize is the frame header length: type byte plus little-endian
// uint16 payload length.
const HeaderSize = 3

// MaxPayload bounds a single frame payload. Large enough for any transfer
// size a device profile can reasonably advertise.
const MaxPayload = 4096

// Pipe file names under the transport directory.
const (
	PipeHostToDevice = "h2d"
	PipeDeviceToHost = "d2h"
)

// FrameError reports a violation of the frame protocol: an unknown frame
// type, an oversized payload, or a header that cannot be decoded.
type FrameError struct {
	Type uint8 // Frame type as read from the header
	Len  int   // Declared payload length
	Err  error // Underlying cause
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame %s len %d: %v", FrameName(e.Type), e.Len, e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }

// FrameName returns a readable name for a frame type.
func FrameName(typ uint8) string {
	switch typ {
	case FrameSetup:
		return "SETUP"
	case FrameData:
		return "DATA"
	case FrameAck:
		return "ACK"
	case FrameStall:
		return "STALL"
	case FrameReset:
		return "RESET"
	default:
		return fmt.Sprintf("0x%02X", typ)
	}
}

// PutHeader writes a frame header to buf.
// Returns the number of bytes written (always HeaderSize if buf is large
// enough).
func PutHeader(buf []byte, typ uint8, payloadLen int) int {
	if len(buf) < HeaderSize {
		return 0
	}
	buf[0] = typ
	binary.LittleEndian.PutUint16(buf[1:3], uint16(payloadLen))
	return HeaderSize
}

// ParseHeader decodes a frame header, rejecting payload lengths beyond
// MaxPayload.
func ParseHeader(buf []byte) (typ uint8, payloadLen int, err error) {
	if len(buf) < HeaderSize {
		return 0, 0, &FrameError{Err: fmt.Errorf("%w: header truncated", pkg.ErrBadFrame)}
	}
	typ = buf[0]
	payloadLen = int(binary.LittleEndian.Uint16(buf[1:3]))
	if payloadLen > MaxPayload {
		return 0, 0, &FrameError{Type: typ, Len: payloadLen,
			Err: fmt.Errorf("%w: payload exceeds %d bytes", pkg.ErrBadFrame, MaxPayload)}
	}
	return typ, payloadLen, nil
}

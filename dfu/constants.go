package dfu

import (
	"fmt"
	"time"

	"github.com/aika-io/dfuboot/pkg"
)

// DFU class identification (DFU 1.1 spec section 4.2.3).
const (
	ClassApplicationSpecific = 0xFE // bInterfaceClass for DFU
	SubclassDFU              = 0x01 // bInterfaceSubClass for DFU
	ProtocolRuntime          = 0x01 // bInterfaceProtocol in run-time mode
	ProtocolDFUMode          = 0x02 // bInterfaceProtocol in DFU mode
)

// Version is the DFU specification release in BCD (1.1).
const Version = 0x0110

// DFU class requests (DFU 1.1 spec section 3).
const (
	RequestDetach    Request = 0 // DFU_DETACH
	RequestDownload  Request = 1 // DFU_DNLOAD
	RequestUpload    Request = 2 // DFU_UPLOAD
	RequestGetStatus Request = 3 // DFU_GETSTATUS
	RequestClrStatus Request = 4 // DFU_CLRSTATUS
	RequestGetState  Request = 5 // DFU_GETSTATE
	RequestAbort     Request = 6 // DFU_ABORT
)

// Request is a DFU class request code.
type Request uint8

// String returns the canonical request name.
func (r Request) String() string {
	switch r {
	case RequestDetach:
		return "DFU_DETACH"
	case RequestDownload:
		return "DFU_DNLOAD"
	case RequestUpload:
		return "DFU_UPLOAD"
	case RequestGetStatus:
		return "DFU_GETSTATUS"
	case RequestClrStatus:
		return "DFU_CLRSTATUS"
	case RequestGetState:
		return "DFU_GETSTATE"
	case RequestAbort:
		return "DFU_ABORT"
	default:
		return fmt.Sprintf("DFU_UNKNOWN(0x%02X)", uint8(r))
	}
}

// DFU device states (DFU 1.1 spec section 6.1.2).
const (
	StateAppIdle           State = 0  // Device is running application firmware
	StateAppDetach         State = 1  // Device received DFU_DETACH, awaiting reset
	StateIdle              State = 2  // DFU mode, no transfer in progress
	StateDownloadSync      State = 3  // Block received, awaiting DFU_GETSTATUS
	StateDownloadBusy      State = 4  // Block being programmed
	StateDownloadIdle      State = 5  // Mid-download, expecting more blocks
	StateManifestSync      State = 6  // Terminator received, awaiting DFU_GETSTATUS
	StateManifest          State = 7  // Manifestation in progress
	StateManifestWaitReset State = 8  // Manifestation done, awaiting bus reset
	StateUploadIdle        State = 9  // Upload in progress
	StateError             State = 10 // Error reported, awaiting DFU_CLRSTATUS
)

// State is a DFU device state.
type State uint8

// String returns the canonical state name from the DFU 1.1 specification.
func (s State) String() string {
	switch s {
	case StateAppIdle:
		return "appIDLE"
	case StateAppDetach:
		return "appDETACH"
	case StateIdle:
		return "dfuIDLE"
	case StateDownloadSync:
		return "dfuDNLOAD-SYNC"
	case StateDownloadBusy:
		return "dfuDNBUSY"
	case StateDownloadIdle:
		return "dfuDNLOAD-IDLE"
	case StateManifestSync:
		return "dfuMANIFEST-SYNC"
	case StateManifest:
		return "dfuMANIFEST"
	case StateManifestWaitReset:
		return "dfuMANIFEST-WAIT-RESET"
	case StateUploadIdle:
		return "dfuUPLOAD-IDLE"
	case StateError:
		return "dfuERROR"
	default:
		return fmt.Sprintf("dfuSTATE(%d)", uint8(s))
	}
}

// DFU status codes (DFU 1.1 spec section 6.1.2).
const (
	StatusOK             Status = 0x00 // No error condition is present
	StatusErrTarget      Status = 0x01 // File is not targeted for use by this device
	StatusErrFile        Status = 0x02 // File fails a vendor-specific verification test
	StatusErrWrite       Status = 0x03 // Device is unable to write memory
	StatusErrErase       Status = 0x04 // Memory erase function failed
	StatusErrCheckErased Status = 0x05 // Memory erase check failed
	StatusErrProg        Status = 0x06 // Program memory function failed
	StatusErrVerify      Status = 0x07 // Programmed memory failed verification
	StatusErrAddress     Status = 0x08 // Received address is out of range
	StatusErrNotDone     Status = 0x09 // Terminator received before all data
	StatusErrFirmware    Status = 0x0A // Firmware is corrupt, cannot return to run-time
	StatusErrVendor      Status = 0x0B // Vendor-specific error
	StatusErrUSBReset    Status = 0x0C // Unexpected USB reset signaling detected
	StatusErrPowerReset  Status = 0x0D // Unexpected power-on reset detected
	StatusErrUnknown     Status = 0x0E // Something went wrong
	StatusErrStalledPkt  Status = 0x0F // Device stalled an unexpected request
)

// Status is a DFU status code as reported by DFU_GETSTATUS.
type Status uint8

// String returns the canonical status name from the DFU 1.1 specification.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusErrTarget:
		return "errTARGET"
	case StatusErrFile:
		return "errFILE"
	case StatusErrWrite:
		return "errWRITE"
	case StatusErrErase:
		return "errERASE"
	case StatusErrCheckErased:
		return "errCHECK_ERASED"
	case StatusErrProg:
		return "errPROG"
	case StatusErrVerify:
		return "errVERIFY"
	case StatusErrAddress:
		return "errADDRESS"
	case StatusErrNotDone:
		return "errNOTDONE"
	case StatusErrFirmware:
		return "errFIRMWARE"
	case StatusErrVendor:
		return "errVENDOR"
	case StatusErrUSBReset:
		return "errUSBR"
	case StatusErrPowerReset:
		return "errPOR"
	case StatusErrUnknown:
		return "errUNKNOWN"
	case StatusErrStalledPkt:
		return "errSTALLEDPKT"
	default:
		return fmt.Sprintf("errSTATUS(0x%02X)", uint8(s))
	}
}

// Description returns the status description text from the DFU 1.1
// specification.
func (s Status) Description() string {
	switch s {
	case StatusOK:
		return "No error condition is present"
	case StatusErrTarget:
		return "File is not targeted for use by this device"
	case StatusErrFile:
		return "File is for this device but fails some vendor-specific verification test"
	case StatusErrWrite:
		return "Device is unable to write memory"
	case StatusErrErase:
		return "Memory erase function failed"
	case StatusErrCheckErased:
		return "Memory erase check failed"
	case StatusErrProg:
		return "Program memory function failed"
	case StatusErrVerify:
		return "Programmed memory failed verification"
	case StatusErrAddress:
		return "Cannot program memory due to received address that is out of range"
	case StatusErrNotDone:
		return "Received DFU_DNLOAD with wLength = 0, but device does not think it has all of the data yet"
	case StatusErrFirmware:
		return "Device's firmware is corrupt; it cannot return to run-time operations"
	case StatusErrVendor:
		return "iString indicates a vendor-specific error"
	case StatusErrUSBReset:
		return "Device detected unexpected USB reset signaling"
	case StatusErrPowerReset:
		return "Device detected unexpected power-on reset"
	case StatusErrUnknown:
		return "Something went wrong, but the device does not know what it was"
	case StatusErrStalledPkt:
		return "Device stalled an unexpected request"
	default:
		return "Reserved status code"
	}
}

// StatusResponseSize is the size of a DFU_GETSTATUS response in bytes.
const StatusResponseSize = 6

// maxPollTimeout is the largest interval bwPollTimeout can express.
const maxPollTimeout = 0xFFFFFF * time.Millisecond

// StatusResponse is the decoded payload of DFU_GETSTATUS: status code,
// minimum host poll interval, post-transition state, and an optional
// vendor string index (always 0 here).
type StatusResponse struct {
	Code        Status        // bStatus
	PollTimeout time.Duration // bwPollTimeout, millisecond resolution
	State       State         // bState
	StringIndex uint8         // iString
}

// MarshalTo serializes the response to buf. The poll timeout is rounded
// down to whole milliseconds and clamped to the 24-bit field.
// Returns the number of bytes written (always 6 if buf is large enough).
func (r *StatusResponse) MarshalTo(buf []byte) int {
	if len(buf) < StatusResponseSize {
		return 0
	}
	timeout := r.PollTimeout
	if timeout < 0 {
		timeout = 0
	}
	if timeout > maxPollTimeout {
		timeout = maxPollTimeout
	}
	ms := uint32(timeout / time.Millisecond)
	buf[0] = uint8(r.Code)
	buf[1] = uint8(ms)
	buf[2] = uint8(ms >> 8)
	buf[3] = uint8(ms >> 16)
	buf[4] = uint8(r.State)
	buf[5] = r.StringIndex
	return StatusResponseSize
}

// ParseStatusResponse parses a DFU_GETSTATUS payload from data into out.
// Returns an error if the data is too short.
func ParseStatusResponse(data []byte, out *StatusResponse) error {
	if len(data) < StatusResponseSize {
		return pkg.ErrBufferTooSmall
	}
	ms := uint32(data[1]) | uint32(data[2])<<8 | uint32(data[3])<<16
	out.Code = Status(data[0])
	out.PollTimeout = time.Duration(ms) * time.Millisecond
	out.State = State(data[4])
	out.StringIndex = data[5]
	return nil
}

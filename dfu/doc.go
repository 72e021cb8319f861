// Package dfu implements the device side of the USB Device Firmware
// Upgrade protocol (DFU 1.1) together with the protocol vocabulary shared
// with host tooling.
//
// # Session
//
// [Session] is the protocol state machine. It implements [hal.Handler]:
// a transport adapter delivers bus events (reset, setup, data, transfer
// complete) from a single goroutine and calls ProcessFlash after each
// event; the session replies through the adapter's [hal.ControlPort].
// The session performs no locking and must only be driven from that
// event goroutine.
//
// Flash work never runs inside event delivery. A DFU_DNLOAD that passes
// validation is acknowledged immediately with state dfuDNBUSY and a poll
// timeout sized to the pending write; ProcessFlash then performs the
// erase and program synchronously. The host learns the outcome from its
// next DFU_GETSTATUS. Manifestation works the same way: the zero-length
// download is acknowledged in dfuMANIFEST-SYNC, ProcessFlash flushes the
// image and commits the metadata record, and the session parks in
// dfuMANIFEST-WAIT-RESET until the bus reset it schedules through the
// configured [hal.Resetter].
//
// # State Machine
//
// The session moves through the download subset of the DFU 1.1 states:
//
//	dfuIDLE → dfuDNBUSY → dfuDNLOAD-SYNC → dfuDNLOAD-IDLE → … →
//	dfuMANIFEST-SYNC → dfuMANIFEST → dfuMANIFEST-WAIT-RESET
//
// Invalid traffic stalls the endpoint and parks the session in dfuERROR
// with a specific [Status] code until the host issues DFU_CLRSTATUS.
// DFU_ABORT returns to dfuIDLE from any download state, discarding
// progress. Upload and detach are not supported and are refused with a
// stall. A bus reset yields a fresh dfuIDLE session in any state.
//
// # Image Writer
//
// [ImageWriter] streams the received blocks into the application flash
// region, buffering one erase page so every page is erased exactly once
// and only received bytes are programmed. The final partial program unit
// is padded with the erased pattern on Flush.
//
// # Descriptors
//
// descriptor.go carries the enumeration material a transport serves for
// a DFU device: the DFU functional descriptor, the BOS descriptor with
// WebUSB and Microsoft OS 2.0 platform capabilities, the WebUSB URL
// descriptor, and the MS OS 2.0 descriptor set. All use the
// MarshalTo/Parse codec style of package hal.
//
// # Loopback
//
// [Loopback] is an in-process transport that couples a Session directly
// to the host client's transport interface, used by the package tests
// and by host-side tests that need a real protocol peer without hardware
// or pipes.
package dfu

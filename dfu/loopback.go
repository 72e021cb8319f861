package dfu

import (
	"github.com/aika-io/dfuboot/flags"
	"github.com/aika-io/dfuboot/hal"
	"github.com/aika-io/dfuboot/pkg"
)

// Loopback couples a Session to host-side code in the same process. It
// exposes the host transport method set (ControlIn, ControlOut, Reset,
// Close) and satisfies it by delivering events straight into the session,
// honoring the hal.Handler ordering contract, and capturing the replies
// the session sends through its hal.ControlPort.
//
// It is the protocol peer for unit tests and for host.Client tests that
// need a real device without hardware or pipes. Not safe for concurrent
// use.
type Loopback struct {
	session *Session

	// Reply capture for the in-flight transfer.
	data    []byte
	acked   bool
	stalled bool
}

var _ hal.ControlPort = (*Loopback)(nil)

// NewLoopback builds a session streaming into w and committing through
// store, wired to an in-process transport.
func NewLoopback(w *ImageWriter, store *flags.Store) *Loopback {
	lb := &Loopback{}
	lb.session = NewSession(w, store, lb)
	return lb
}

// Session returns the device-side session for configuration and
// inspection.
func (lb *Loopback) Session() *Session {
	return lb.session
}

// SendStatus captures the session's reply.
func (lb *Loopback) SendStatus(data []byte) error {
	lb.acked = true
	lb.data = append(lb.data[:0], data...)
	return nil
}

// StallEndpoint captures a protocol stall.
func (lb *Loopback) StallEndpoint() {
	lb.stalled = true
}

// ControlOut performs a host-to-device class transfer.
func (lb *Loopback) ControlOut(request uint8, value uint16, data []byte) error {
	lb.begin()

	var setup hal.SetupPacket
	hal.ClassOutSetup(&setup, request, value, 0, uint16(len(data)))
	lb.session.HandleSetup(setup)
	lb.session.ProcessFlash()

	if len(data) > 0 && !lb.stalled {
		lb.session.HandleData(data)
		lb.session.ProcessFlash()
	}

	return lb.finish()
}

// ControlIn performs a device-to-host class transfer, copying the reply
// into buf.
func (lb *Loopback) ControlIn(request uint8, value uint16, buf []byte) (int, error) {
	lb.begin()

	var setup hal.SetupPacket
	hal.ClassInSetup(&setup, request, value, 0, uint16(len(buf)))
	lb.session.HandleSetup(setup)
	lb.session.ProcessFlash()

	if err := lb.finish(); err != nil {
		return 0, err
	}
	return copy(buf, lb.data), nil
}

// Reset simulates a bus reset.
func (lb *Loopback) Reset() error {
	lb.begin()
	lb.session.HandleBusReset()
	lb.session.ProcessFlash()
	return nil
}

// Close releases nothing; the loopback holds no resources.
func (lb *Loopback) Close() error {
	return nil
}

func (lb *Loopback) begin() {
	lb.data = lb.data[:0]
	lb.acked = false
	lb.stalled = false
}

// finish concludes the transfer: a stall surfaces as pkg.ErrStall, an
// acknowledged transfer delivers the status-stage completion event.
func (lb *Loopback) finish() error {
	if lb.stalled {
		return pkg.ErrStall
	}
	if !lb.acked {
		return pkg.ErrTimeout
	}
	lb.session.HandleTransferComplete()
	return nil
}

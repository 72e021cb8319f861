// Package fifousb connects the host DFU client to a simulated device
// over the named-pipe control transport. It speaks the frame codec of
// package hal/fifousb from the other end of the pipes: requests go out
// as SETUP (plus DATA for OUT payloads) frames on h2d, and each draws
// exactly one DATA, ACK, or STALL reply on d2h.
//
// Open attaches to a device that is already serving; Dial polls until
// one appears. The transport holds no goroutines and is not safe for
// concurrent use, matching the one-transfer-at-a-time control model.
package fifousb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aika-io/dfuboot/hal"
	frame "github.com/aika-io/dfuboot/hal/fifousb"
	"github.com/aika-io/dfuboot/host"
	"github.com/aika-io/dfuboot/pkg"
)

// DefaultTimeout bounds one control transfer round trip. Flash work on
// the device side runs between transfers, so replies normally arrive in
// well under a second.
const DefaultTimeout = 5 * time.Second

// dialInterval is how often Dial rechecks for the device pipes.
const dialInterval = 50 * time.Millisecond

// dfuInterface is the wIndex of the DFU interface in the simulated
// device.
const dfuInterface = 0

// Transport drives a pipe-simulated DFU device.
type Transport struct {
	dir     string
	h2d     *os.File // host writes requests
	d2h     *os.File // host reads responses
	timeout time.Duration

	txBuf [frame.HeaderSize + frame.MaxPayload]byte
	rxBuf [frame.HeaderSize + frame.MaxPayload]byte
}

var _ host.ControlTransport = (*Transport)(nil)

// Open attaches to the device pipes under dir. The write side of h2d
// only opens once the device holds its read side, so a missing or idle
// device surfaces as pkg.ErrNoDevice rather than a hang.
func Open(dir string) (*Transport, error) {
	t := &Transport{dir: dir, timeout: DefaultTimeout}
	var err error
	t.h2d, err = os.OpenFile(filepath.Join(dir, frame.PipeHostToDevice), os.O_WRONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		return nil, wrapAbsent(frame.PipeHostToDevice, err)
	}
	t.d2h, err = os.OpenFile(filepath.Join(dir, frame.PipeDeviceToHost), os.O_RDONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		t.h2d.Close()
		return nil, wrapAbsent(frame.PipeDeviceToHost, err)
	}
	pkg.LogInfo(pkg.ComponentHost, "fifo device opened", "dir", dir)
	return t, nil
}

// Dial waits for a device to start serving under dir, polling until the
// pipes accept a connection or ctx ends.
func Dial(ctx context.Context, dir string) (*Transport, error) {
	ticker := time.NewTicker(dialInterval)
	defer ticker.Stop()
	for {
		t, err := Open(dir)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, pkg.ErrNoDevice) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for device in %s: %w", dir, ctx.Err())
		case <-ticker.C:
		}
	}
}

// wrapAbsent tags the open errors that mean no device is serving.
func wrapAbsent(name string, err error) error {
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ENXIO) {
		return fmt.Errorf("%s: %w", name, pkg.ErrNoDevice)
	}
	return fmt.Errorf("open %s: %w", name, err)
}

// SetTimeout adjusts the per-transfer reply deadline.
func (t *Transport) SetTimeout(d time.Duration) {
	t.timeout = d
}

// ControlIn implements host.ControlTransport.
func (t *Transport) ControlIn(request uint8, value uint16, buf []byte) (int, error) {
	var setup hal.SetupPacket
	hal.ClassInSetup(&setup, request, value, dfuInterface, uint16(len(buf)))
	if err := t.sendSetup(&setup, nil); err != nil {
		return 0, fmt.Errorf("control in 0x%02x: %w", request, err)
	}
	typ, payload, err := t.readReply()
	if err != nil {
		return 0, fmt.Errorf("control in 0x%02x: %w", request, err)
	}
	switch typ {
	case frame.FrameData:
		return copy(buf, payload), nil
	case frame.FrameAck:
		return 0, nil
	case frame.FrameStall:
		return 0, fmt.Errorf("control in 0x%02x: %w", request, pkg.ErrStall)
	default:
		return 0, &frame.FrameError{Type: typ, Len: len(payload), Err: pkg.ErrBadFrame}
	}
}

// ControlOut implements host.ControlTransport.
func (t *Transport) ControlOut(request uint8, value uint16, data []byte) error {
	var setup hal.SetupPacket
	hal.ClassOutSetup(&setup, request, value, dfuInterface, uint16(len(data)))
	if err := t.sendSetup(&setup, data); err != nil {
		return fmt.Errorf("control out 0x%02x: %w", request, err)
	}
	typ, payload, err := t.readReply()
	if err != nil {
		return fmt.Errorf("control out 0x%02x: %w", request, err)
	}
	switch typ {
	case frame.FrameAck:
		return nil
	case frame.FrameStall:
		return fmt.Errorf("control out 0x%02x: %w", request, pkg.ErrStall)
	default:
		return &frame.FrameError{Type: typ, Len: len(payload), Err: pkg.ErrBadFrame}
	}
}

// Reset implements host.ControlTransport by sending the simulated bus
// reset frame.
func (t *Transport) Reset() error {
	if err := t.writeFrame(frame.FrameReset, nil); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	typ, payload, err := t.readReply()
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	if typ != frame.FrameAck {
		return &frame.FrameError{Type: typ, Len: len(payload), Err: pkg.ErrBadFrame}
	}
	return nil
}

// Close releases both pipe ends.
func (t *Transport) Close() error {
	var first error
	if t.h2d != nil {
		first = t.h2d.Close()
		t.h2d = nil
	}
	if t.d2h != nil {
		if err := t.d2h.Close(); err != nil && first == nil {
			first = err
		}
		t.d2h = nil
	}
	return first
}

// sendSetup writes the setup frame and, for OUT requests with a payload,
// the data frame that carries it.
func (t *Transport) sendSetup(setup *hal.SetupPacket, data []byte) error {
	var buf [hal.SetupPacketSize]byte
	setup.MarshalTo(buf[:])
	if err := t.writeFrame(frame.FrameSetup, buf[:]); err != nil {
		return err
	}
	if setup.IsHostToDevice() && len(data) > 0 {
		return t.writeFrame(frame.FrameData, data)
	}
	return nil
}

func (t *Transport) writeFrame(typ uint8, payload []byte) error {
	if len(payload) > frame.MaxPayload {
		return &frame.FrameError{Type: typ, Len: len(payload), Err: pkg.ErrBadFrame}
	}
	frame.PutHeader(t.txBuf[:], typ, len(payload))
	total := frame.HeaderSize + copy(t.txBuf[frame.HeaderSize:], payload)

	written := 0
	for written < total {
		n, err := t.h2d.Write(t.txBuf[written:total])
		if n > 0 {
			written += n
		}
		if err != nil {
			return fmt.Errorf("write %s: %w", frame.PipeHostToDevice, classify(err))
		}
	}
	return nil
}

// readReply reads one complete reply frame within the transfer deadline.
func (t *Transport) readReply() (uint8, []byte, error) {
	deadline := time.Now().Add(t.timeout)
	if err := t.readFull(t.rxBuf[:frame.HeaderSize], deadline); err != nil {
		return 0, nil, err
	}
	typ, n, err := frame.ParseHeader(t.rxBuf[:frame.HeaderSize])
	if err != nil {
		return 0, nil, err
	}
	payload := t.rxBuf[frame.HeaderSize : frame.HeaderSize+n]
	if n > 0 {
		if err := t.readFull(payload, deadline); err != nil {
			return 0, nil, err
		}
	}
	return typ, payload, nil
}

func (t *Transport) readFull(buf []byte, deadline time.Time) error {
	t.d2h.SetReadDeadline(deadline)
	total := 0
	for total < len(buf) {
		n, err := t.d2h.Read(buf[total:])
		if n > 0 {
			total += n
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", frame.PipeDeviceToHost, classify(err))
		}
	}
	return nil
}

// classify maps pipe-level failures onto the transport error taxonomy:
// expired deadlines become pkg.ErrTimeout and a vanished peer becomes
// pkg.ErrDisconnected, which the client treats as the device resetting
// itself after manifestation.
func classify(err error) error {
	switch {
	case os.IsTimeout(err):
		return fmt.Errorf("%w: %v", pkg.ErrTimeout, err)
	case errors.Is(err, io.EOF), errors.Is(err, syscall.EPIPE), errors.Is(err, os.ErrClosed):
		return fmt.Errorf("%w: %v", pkg.ErrDisconnected, err)
	default:
		return err
	}
}

package fifousb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aika-io/dfuboot/hal"
	"github.com/aika-io/dfuboot/pkg"
)

// readRetry is how long a blocked pipe read waits before rechecking the
// context.
const readRetry = 100 * time.Millisecond

// ErrNotOpen is returned when the pipe pair has not been opened yet.
var ErrNotOpen = errors.New("fifo transport not open")

// Device is the device end of the pipe transport. It feeds decoded bus
// events to a hal.Handler and writes the handler's control responses back,
// acting as the handler's hal.ControlPort. Not safe for concurrent use;
// Serve owns it while running.
type Device struct {
	dir string
	h2d *os.File // device reads requests
	d2h *os.File // device writes responses

	readBuf  [HeaderSize + MaxPayload]byte
	writeBuf [HeaderSize + MaxPayload]byte

	replied  bool // a response frame went out for the current event
	resetReq bool // handler requested a system reset
}

var (
	_ hal.ControlPort = (*Device)(nil)
	_ hal.Resetter    = (*Device)(nil)
)

// New returns a device transport rooted at dir. Nothing is created or
// opened until CreateFIFOs and Open run.
func New(dir string) *Device {
	return &Device{dir: dir}
}

// Dir returns the transport directory.
func (d *Device) Dir() string { return d.dir }

// CreateFIFOs creates the transport directory and the pipe pair, replacing
// any stale pipes from a previous run.
func (d *Device) CreateFIFOs() error {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("create transport dir: %w", err)
	}
	for _, name := range []string{PipeHostToDevice, PipeDeviceToHost} {
		path := filepath.Join(d.dir, name)
		os.Remove(path)
		if err := syscall.Mkfifo(path, 0o666); err != nil {
			return fmt.Errorf("mkfifo %s: %w", name, err)
		}
	}
	pkg.LogDebug(pkg.ComponentHAL, "fifos created", "dir", d.dir)
	return nil
}

// RemoveFIFOs deletes the pipe pair. Missing pipes are not an error.
func (d *Device) RemoveFIFOs() error {
	var first error
	for _, name := range []string{PipeHostToDevice, PipeDeviceToHost} {
		err := os.Remove(filepath.Join(d.dir, name))
		if err != nil && !os.IsNotExist(err) && first == nil {
			first = err
		}
	}
	return first
}

// Open opens both pipe ends. Read-write mode keeps a writer on each pipe
// for the whole device lifetime, so opens never block and host reconnects
// never see a vanished peer. The d2h side opens first: the host gates its
// connect on the h2d reader, and by then the reply pipe must be ready.
func (d *Device) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var err error
	d.d2h, err = os.OpenFile(filepath.Join(d.dir, PipeDeviceToHost), os.O_RDWR|syscall.O_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", PipeDeviceToHost, err)
	}
	d.h2d, err = os.OpenFile(filepath.Join(d.dir, PipeHostToDevice), os.O_RDWR|syscall.O_NONBLOCK, 0)
	if err != nil {
		d.d2h.Close()
		d.d2h = nil
		return fmt.Errorf("open %s: %w", PipeHostToDevice, err)
	}
	pkg.LogInfo(pkg.ComponentHAL, "fifo transport open", "dir", d.dir)
	return nil
}

// Close closes both pipe ends.
func (d *Device) Close() error {
	var first error
	if d.h2d != nil {
		first = d.h2d.Close()
		d.h2d = nil
	}
	if d.d2h != nil {
		if err := d.d2h.Close(); err != nil && first == nil {
			first = err
		}
		d.d2h = nil
	}
	return first
}

// Reset implements hal.Resetter. Serve returns after finishing the event
// in flight, standing in for the system reset a hardware bootloader would
// take here.
func (d *Device) Reset() {
	d.resetReq = true
}

// SendStatus implements hal.ControlPort: payload replies go out as a DATA
// frame, empty ones as ACK.
func (d *Device) SendStatus(data []byte) error {
	typ := uint8(FrameAck)
	if len(data) > 0 {
		typ = FrameData
	}
	if err := d.writeFrame(typ, data); err != nil {
		return err
	}
	d.replied = true
	return nil
}

// StallEndpoint implements hal.ControlPort.
func (d *Device) StallEndpoint() {
	if err := d.writeFrame(FrameStall, nil); err != nil {
		pkg.LogWarn(pkg.ComponentHAL, "stall not delivered", "error", err)
	}
}

// Serve decodes frames from the host and delivers them to h, one event at
// a time, running the deferred flash step after each. It returns nil once
// the handler requests a reset through the hal.Resetter side of this
// device, ctx.Err() on cancellation, and a *FrameError when the peer
// breaks protocol.
func (d *Device) Serve(ctx context.Context, h hal.Handler) error {
	if d.h2d == nil || d.d2h == nil {
		return ErrNotOpen
	}
	d.resetReq = false

	for {
		typ, payload, err := d.readFrame(ctx)
		if err != nil {
			return err
		}

		d.replied = false
		switch typ {
		case FrameSetup:
			if len(payload) > hal.SetupPacketSize {
				return &FrameError{Type: typ, Len: len(payload), Err: pkg.ErrBadSetup}
			}
			var setup hal.SetupPacket
			if perr := hal.ParseSetupPacket(payload, &setup); perr != nil {
				return &FrameError{Type: typ, Len: len(payload), Err: perr}
			}
			h.HandleSetup(setup)
		case FrameData:
			h.HandleData(payload)
		case FrameReset:
			h.HandleBusReset()
			if err := d.writeFrame(FrameAck, nil); err != nil {
				return err
			}
		default:
			return &FrameError{Type: typ, Len: len(payload), Err: pkg.ErrBadFrame}
		}

		if d.replied {
			d.replied = false
			h.HandleTransferComplete()
		}
		h.ProcessFlash()

		if d.resetReq {
			pkg.LogInfo(pkg.ComponentHAL, "handler requested reset, leaving serve loop")
			return nil
		}
	}
}

// readFrame reads one complete frame, blocking until the host sends one
// or ctx ends.
func (d *Device) readFrame(ctx context.Context) (uint8, []byte, error) {
	if err := d.readFull(ctx, d.readBuf[:HeaderSize]); err != nil {
		return 0, nil, err
	}
	typ, n, err := ParseHeader(d.readBuf[:HeaderSize])
	if err != nil {
		return 0, nil, err
	}
	payload := d.readBuf[HeaderSize : HeaderSize+n]
	if n > 0 {
		if err := d.readFull(ctx, payload); err != nil {
			return 0, nil, err
		}
	}
	return typ, payload, nil
}

// readFull reads exactly len(buf) bytes, waking up periodically to honor
// context cancellation.
func (d *Device) readFull(ctx context.Context, buf []byte) error {
	total := 0
	for total < len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		d.h2d.SetReadDeadline(time.Now().Add(readRetry))
		n, err := d.h2d.Read(buf[total:])
		if n > 0 {
			total += n
		}
		if err != nil {
			if os.IsTimeout(err) {
				continue
			}
			return fmt.Errorf("read %s: %w", PipeHostToDevice, err)
		}
	}
	return nil
}

func (d *Device) writeFrame(typ uint8, payload []byte) error {
	if len(payload) > MaxPayload {
		return &FrameError{Type: typ, Len: len(payload), Err: pkg.ErrBadFrame}
	}
	PutHeader(d.writeBuf[:], typ, len(payload))
	total := HeaderSize + copy(d.writeBuf[HeaderSize:], payload)

	written := 0
	for written < total {
		n, err := d.d2h.Write(d.writeBuf[written:total])
		if n > 0 {
			written += n
		}
		if err != nil {
			return fmt.Errorf("write %s: %w", PipeDeviceToHost, err)
		}
	}
	return nil
}

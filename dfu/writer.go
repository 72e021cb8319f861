package dfu

import (
	"fmt"
	"time"

	"github.com/aika-io/dfuboot/hal"
	"github.com/aika-io/dfuboot/pkg"
)

// Flash step names carried by WriteError.
const (
	OpErase   = "erase"
	OpProgram = "program"
)

// WriteError reports which flash step failed while streaming an image.
// The session maps the step to the DFU status code reported to the host.
type WriteError struct {
	Op   string // OpErase or OpProgram
	Addr uint32 // Page or program address of the failed step
	Err  error  // Underlying driver error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("flash %s at 0x%08X: %v", e.Op, e.Addr, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ImageWriter streams a firmware image into an application flash region.
//
// Incoming bytes accumulate in a one-page buffer; each time the buffer
// fills, its page is erased once and programmed with exactly the received
// bytes. Flush commits a trailing partial page, padding only the final
// program unit with the erased pattern. Nothing is erased speculatively,
// so an aborted download leaves untouched pages intact.
type ImageWriter struct {
	flash  hal.Flash
	region hal.Region
	geom   hal.Geometry

	buf       []byte // received bytes of the current page
	committed uint32 // received bytes whose page has been programmed
}

// NewImageWriter returns a writer targeting region on f.
func NewImageWriter(f hal.Flash, region hal.Region, geom hal.Geometry) *ImageWriter {
	return &ImageWriter{
		flash:  f,
		region: region,
		geom:   geom,
		buf:    make([]byte, 0, geom.PageSize),
	}
}

// Capacity returns the size of the target region in bytes.
func (w *ImageWriter) Capacity() uint32 {
	return w.region.Size
}

// Committed returns the number of received bytes already programmed.
func (w *ImageWriter) Committed() uint32 {
	return w.committed
}

// Total returns the number of bytes received so far, programmed plus
// buffered.
func (w *ImageWriter) Total() uint32 {
	return w.committed + uint32(len(w.buf))
}

// Estimate returns a latency bound for accepting n more bytes, used to
// size the poll timeout reported to the host.
func (w *ImageWriter) Estimate(n int) time.Duration {
	return w.geom.WriteEstimate(n)
}

// Reset discards all progress. The flash content already programmed is
// left as is; the next download starts over at offset zero.
func (w *ImageWriter) Reset() {
	w.buf = w.buf[:0]
	w.committed = 0
}

// Write appends p to the image. offset must equal Total(), retiring the
// block-sequence redundancy the session tracks with its block counter.
// Capacity violations fail with pkg.ErrImageTooLarge before any flash
// mutation; flash failures surface as *WriteError.
func (w *ImageWriter) Write(offset uint32, p []byte) error {
	if offset != w.Total() {
		return fmt.Errorf("%w: offset %d, expected %d", pkg.ErrWriteSequence, offset, w.Total())
	}
	if uint32(len(p)) > w.region.Size-w.Total() {
		return fmt.Errorf("%w: %d bytes at offset %d exceed %d-byte region",
			pkg.ErrImageTooLarge, len(p), offset, w.region.Size)
	}

	for len(p) > 0 {
		n := int(w.geom.PageSize) - len(w.buf)
		if n > len(p) {
			n = len(p)
		}
		w.buf = append(w.buf, p[:n]...)
		p = p[n:]

		if uint32(len(w.buf)) == w.geom.PageSize {
			if err := w.commit(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Flush programs the buffered partial page. A writer with an empty
// buffer flushes to a no-op.
func (w *ImageWriter) Flush() error {
	if len(w.buf) == 0 {
		return nil
	}
	return w.commit()
}

// commit erases the page holding the buffered bytes and programs them,
// padding the trailing program unit with the erased pattern.
func (w *ImageWriter) commit() error {
	n := len(w.buf)
	addr := w.region.Base + w.committed

	if err := w.flash.Erase(addr); err != nil {
		return &WriteError{Op: OpErase, Addr: addr, Err: err}
	}

	data := w.buf
	for uint32(len(data))%w.geom.ProgramUnit != 0 {
		data = append(data, 0xFF)
	}
	if err := w.flash.Program(addr, data); err != nil {
		return &WriteError{Op: OpProgram, Addr: addr, Err: err}
	}

	pkg.LogDebug(pkg.ComponentFlash, "page committed",
		"addr", fmt.Sprintf("0x%08X", addr),
		"bytes", n)

	w.committed += uint32(n)
	w.buf = w.buf[:0]
	return nil
}

package memflash

import (
	"fmt"
	"sync"

	"github.com/aika-io/dfuboot/hal"
	"github.com/aika-io/dfuboot/pkg"
)

// ErasedByte is the value of every byte after an erase.
const ErasedByte = 0xFF

// Device is an in-memory hal.Flash with NOR semantics and fault injection.
// It is safe for concurrent use so test assertions can inspect it while a
// device goroutine runs.
type Device struct {
	mu   sync.Mutex
	base uint32
	mem  []byte
	geom hal.Geometry

	eraseCounts map[uint32]int

	nextEraseErr   error
	nextProgramErr error
	programLimit   int // remaining programmable bytes, -1 = unlimited
}

var _ hal.Flash = (*Device)(nil)

// New creates a device covering [base, base+size) filled with the erased
// pattern. Size must be a multiple of the page size.
func New(base, size uint32, geom hal.Geometry) *Device {
	mem := make([]byte, size)
	for i := range mem {
		mem[i] = ErasedByte
	}
	return &Device{
		base:          base,
		mem:           mem,
		geom:          geom,
		eraseCounts:   make(map[uint32]int),
		programLimit: -1,
	}
}

// Geometry returns the device geometry.
func (d *Device) Geometry() hal.Geometry {
	return d.geom
}

// Erase sets every byte of the page starting at page to the erased pattern.
func (d *Device) Erase(page uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if page%d.geom.PageSize != 0 {
		return fmt.Errorf("erase 0x%08X: %w", page, pkg.ErrFlashAlign)
	}
	off, err := d.offset(page, d.geom.PageSize)
	if err != nil {
		return fmt.Errorf("erase 0x%08X: %w", page, err)
	}
	if d.nextEraseErr != nil {
		err := d.nextEraseErr
		d.nextEraseErr = nil
		return fmt.Errorf("erase 0x%08X: %w: %w", page, pkg.ErrFlashOp, err)
	}
	for i := uint32(0); i < d.geom.PageSize; i++ {
		d.mem[off+i] = ErasedByte
	}
	d.eraseCounts[page]++
	return nil
}

// Program clears bits at addr according to data. The write fails without
// touching memory on misalignment or out-of-range addresses, fails after
// committing a prefix when the program limit runs out, and fails after
// committing everything if any byte required setting a bit.
func (d *Device) Program(addr uint32, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if addr%d.geom.ProgramUnit != 0 || uint32(len(data))%d.geom.ProgramUnit != 0 {
		return fmt.Errorf("program 0x%08X+%d: %w", addr, len(data), pkg.ErrFlashAlign)
	}
	off, err := d.offset(addr, uint32(len(data)))
	if err != nil {
		return fmt.Errorf("program 0x%08X+%d: %w", addr, len(data), err)
	}
	if d.nextProgramErr != nil {
		err := d.nextProgramErr
		d.nextProgramErr = nil
		return fmt.Errorf("program 0x%08X: %w: %w", addr, pkg.ErrFlashOp, err)
	}

	verifyFailed := false
	for i, b := range data {
		if d.programLimit == 0 {
			return fmt.Errorf("program 0x%08X: power lost after %d bytes: %w",
				addr, i, pkg.ErrFlashOp)
		}
		if d.programLimit > 0 {
			d.programLimit--
		}
		d.mem[off+uint32(i)] &= b
		if d.mem[off+uint32(i)] != b {
			verifyFailed = true
		}
	}
	if verifyFailed {
		return fmt.Errorf("program 0x%08X: readback mismatch (bit set without erase): %w",
			addr, pkg.ErrFlashOp)
	}
	return nil
}

// Read copies len(buf) bytes starting at addr into buf.
func (d *Device) Read(addr uint32, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	off, err := d.offset(addr, uint32(len(buf)))
	if err != nil {
		return fmt.Errorf("read 0x%08X+%d: %w", addr, len(buf), err)
	}
	copy(buf, d.mem[off:off+uint32(len(buf))])
	return nil
}

// offset validates [addr, addr+n) and returns the index of addr in mem.
// Callers must hold d.mu.
func (d *Device) offset(addr, n uint32) (uint32, error) {
	if addr < d.base || addr-d.base > uint32(len(d.mem)) || n > uint32(len(d.mem))-(addr-d.base) {
		return 0, pkg.ErrFlashBounds
	}
	return addr - d.base, nil
}

// FailNextErase makes the next Erase fail with err wrapped in ErrFlashOp.
func (d *Device) FailNextErase(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextEraseErr = err
}

// FailNextProgram makes the next Program fail with err wrapped in ErrFlashOp.
func (d *Device) FailNextProgram(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextProgramErr = err
}

// LimitProgram allows n more bytes to be programmed; the byte after that
// fails as a power cut, leaving the committed prefix in place. Pass -1 to
// remove the limit.
func (d *Device) LimitProgram(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.programLimit = n
}

// EraseCount returns how many times the page starting at page was erased.
func (d *Device) EraseCount(page uint32) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.eraseCounts[page]
}

// Bytes returns a copy of n bytes starting at addr for test assertions.
func (d *Device) Bytes(addr uint32, n int) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	off, err := d.offset(addr, uint32(n))
	if err != nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, d.mem[off:off+uint32(n)])
	return out
}

// Seed writes data at addr directly, bypassing NOR semantics and fault
// injection. Intended for preloading simulated flash content.
func (d *Device) Seed(addr uint32, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	off, err := d.offset(addr, uint32(len(data)))
	if err != nil {
		return fmt.Errorf("seed 0x%08X+%d: %w", addr, len(data), err)
	}
	copy(d.mem[off:], data)
	return nil
}

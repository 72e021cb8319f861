package hal

import (
	"time"
)

// Flash is the non-volatile memory driver contract.
//
// Addresses are absolute device addresses (the same values host tooling
// sees in linker maps). Erase operates on whole pages; Program and Read
// operate on byte ranges. Program must only clear bits: programming a 1
// over a 0 is a hardware impossibility and implementations must fail the
// operation rather than pretend it succeeded. A failed or interrupted
// erase/program leaves the affected bytes indeterminate, never silently
// intact.
type Flash interface {
	// Erase erases one page, setting every bit. The address must be
	// page-aligned.
	Erase(page uint32) error

	// Program writes data starting at addr. The address and length must
	// be aligned to the geometry's program unit.
	Program(addr uint32, data []byte) error

	// Read copies len(buf) bytes starting at addr into buf.
	Read(addr uint32, buf []byte) error
}

// Geometry describes the erase/program granularity and latency bounds of a
// flash part. Latencies feed the DFU poll-timeout values reported to the
// host, so they should be worst-case figures from the datasheet.
type Geometry struct {
	PageSize       uint32        // Erase granularity in bytes
	ProgramUnit    uint32        // Program granularity in bytes (1, 2, 4, or 8)
	EraseLatency   time.Duration // Worst-case single page erase
	ProgramLatency time.Duration // Worst-case single program unit write
}

// PageBase returns the base address of the page containing addr.
func (g Geometry) PageBase(addr uint32) uint32 {
	return addr &^ (g.PageSize - 1)
}

// WriteEstimate returns a latency bound for erasing and programming n
// bytes, assuming every touched page needs one erase.
func (g Geometry) WriteEstimate(n int) time.Duration {
	if n <= 0 || g.PageSize == 0 || g.ProgramUnit == 0 {
		return 0
	}
	pages := (uint32(n) + g.PageSize - 1) / g.PageSize
	units := (uint32(n) + g.ProgramUnit - 1) / g.ProgramUnit
	return time.Duration(pages)*g.EraseLatency + time.Duration(units)*g.ProgramLatency
}

// Region is a contiguous flash address range.
type Region struct {
	Base uint32 // First address of the region
	Size uint32 // Length in bytes
}

// End returns the first address past the region.
func (r Region) End() uint32 {
	return r.Base + r.Size
}

// Contains reports whether [addr, addr+n) lies entirely inside the region.
func (r Region) Contains(addr uint32, n uint32) bool {
	return addr >= r.Base && n <= r.Size && addr-r.Base <= r.Size-n
}

// Overlaps reports whether the two regions share any address.
func (r Region) Overlaps(o Region) bool {
	return r.Base < o.End() && o.Base < r.End()
}

// ScratchRegister is a word that survives a system reset but not power
// loss: a backup register or a linker-reserved noinit RAM word on
// hardware, a plain variable in the simulator. The application writes a
// magic value here to request the bootloader before resetting itself.
type ScratchRegister interface {
	Load() uint32
	Store(v uint32)
}

// Resetter requests a system reset. On hardware this is the NVIC reset
// that does not return; simulators record the request and unwind.
type Resetter interface {
	Reset()
}

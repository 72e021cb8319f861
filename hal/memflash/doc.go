// Package memflash implements an in-memory flash device for testing and
// simulation.
//
// The device enforces real NOR flash semantics rather than behaving like a
// byte array: erase sets every bit of a page, program can only clear bits,
// and programming a set bit over a cleared one fails the operation. Tests
// that exercise the bootloader's crash-safety rules depend on these
// semantics being enforced, not merely documented.
//
// # Fault Injection
//
// Power loss and failing hardware are simulated through test hooks:
//
//	dev.FailNextErase(io.ErrUnexpectedEOF)   // next Erase fails
//	dev.FailNextProgram(io.ErrUnexpectedEOF) // next Program fails
//	dev.LimitProgram(5)                      // power cut after 5 more bytes
//
// LimitProgram commits the bytes before the cut and fails the rest, which
// is how a torn metadata write is produced for the mark-verified crash
// tests.
//
// # Usage
//
//	geom := hal.Geometry{PageSize: 1024, ProgramUnit: 2}
//	dev := memflash.New(0x08000000, 128*1024, geom)
//	store := flags.NewStore(dev, 0x0801FC00, geom)
package memflash

// Package hal defines the hardware abstraction boundary of the bootloader core.
//
// The core never touches registers. Everything platform-specific arrives
// through the small interfaces in this package, which platform ports
// implement and the simulators fake:
//
//   - [Flash]: page erase, program, and read against non-volatile memory
//   - [Handler] and [ControlPort]: the USB control-transfer event contract
//     between the transport adapter and the DFU state machine
//   - [ScratchRegister]: a reset-surviving word for the force-bootloader flag
//   - [Resetter]: system reset, requested at the end of manifestation
//
// # Flash Semantics
//
// Flash hardware erases in pages (all bits set) and programs by clearing
// bits. Implementations of [Flash] must preserve that asymmetry: Program
// must never set a cleared bit, and a failed or interrupted operation must
// leave the affected bytes indeterminate rather than silently complete.
// The metadata store and image writer depend on this model for crash
// safety.
//
// # Event Ordering
//
// A transport adapter delivers bus events for the control endpoint strictly
// in arrival order, from a single goroutine, and calls
// [Handler.ProcessFlash] after each delivery. The core relies on that
// single-writer discipline instead of locks; adapters must never deliver
// events concurrently or re-enter the handler from a callback.
//
// # Implementations
//
// [github.com/aika-io/dfuboot/hal/memflash] provides an in-memory Flash
// with fault injection for tests. [github.com/aika-io/dfuboot/hal/fifousb]
// provides a named-pipe transport adapter so a simulated device and a real
// host client can run as separate processes.
package hal

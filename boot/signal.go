package boot

import "github.com/aika-io/dfuboot/hal"

// Signal is a force-bootloader input. It is sampled exactly once per
// boot, before the decision is made.
type Signal interface {
	// ForceBootloader samples the signal. Implementations backed by a
	// latched request consume the request here.
	ForceBootloader() bool
}

// SignalFunc adapts a plain function to the Signal interface.
type SignalFunc func() bool

func (f SignalFunc) ForceBootloader() bool { return f() }

// Any combines signals into one that forces when at least one input
// does. Every input is sampled on every boot, including nil-safe skips,
// even after the first hit; latched inputs are therefore consumed
// consistently.
func Any(signals ...Signal) Signal {
	return SignalFunc(func() bool {
		force := false
		for _, s := range signals {
			if s != nil && s.ForceBootloader() {
				force = true
			}
		}
		return force
	})
}

// ScratchMagic is the word an application stores into the scratch
// register to request bootloader entry across a self-reset. The
// little-endian bytes spell "boot".
const ScratchMagic uint32 = 0x746F6F62

// ScratchSignal forces bootloader entry when the scratch register holds
// ScratchMagic. The register survives a system reset but not a power
// cycle, so a running application can demand exactly one firmware update
// without touching persistent state.
type ScratchSignal struct {
	reg hal.ScratchRegister
}

var _ Signal = (*ScratchSignal)(nil)

// NewScratchSignal returns a signal backed by reg.
func NewScratchSignal(reg hal.ScratchRegister) *ScratchSignal {
	return &ScratchSignal{reg: reg}
}

// ForceBootloader reports whether the magic word is present and clears
// it, limiting the request to a single boot.
func (s *ScratchSignal) ForceBootloader() bool {
	if s.reg.Load() != ScratchMagic {
		return false
	}
	s.reg.Store(0)
	return true
}

// Request arms the signal for the next boot. An application calls this
// immediately before resetting itself into the bootloader.
func (s *ScratchSignal) Request() {
	s.reg.Store(ScratchMagic)
}

// Clear disarms a pending request.
func (s *ScratchSignal) Clear() {
	s.reg.Store(0)
}

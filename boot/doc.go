// Package boot implements the reset-time decision between entering the
// bootloader and handing control to the resident application.
//
// The decision is fail-closed: [JumpToApplication] requires a well-formed
// flash metadata record, an image marked verified, and no force-bootloader
// request. Every other combination, including a blank or torn record,
// resolves to [EnterBootloader].
//
// # Force Signals
//
// A [Signal] supplies the force-bootloader input. Sources compose with
// [Any]:
//
//   - A strapped GPIO pin for field recovery (package gpiopin)
//   - [ScratchSignal], armed by a running application before a self-reset
//   - [SignalFunc] for anything else
//
// Signals are sampled exactly once per boot, before the decision is made.
//
// # Hand-Off
//
// A [Launcher] performs the jump into the application. On hardware this
// relocates the vector table and stack pointer and does not return; test
// and simulator implementations record the call instead. A refused
// hand-off degrades the decision to [EnterBootloader].
//
// # Usage
//
//	store := flags.NewStore(flash, profile.MetadataAddr, geom)
//	sig := boot.Any(forcePin, boot.NewScratchSignal(scratch))
//
//	d, err := boot.Run(store, sig, launcher)
//	if d == boot.EnterBootloader {
//	    // Start the DFU session.
//	}
package boot

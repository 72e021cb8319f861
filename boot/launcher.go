package boot

import (
	"fmt"

	"github.com/aika-io/dfuboot/flags"
	"github.com/aika-io/dfuboot/pkg"
)

// Launcher hands control to the resident application. On hardware this
// relocates the vector table and stack pointer and does not return.
type Launcher interface {
	// Launch performs the hand-off. It returns only on refusal, in which
	// case the caller stays in the bootloader.
	Launch() error
}

// LaunchFunc adapts a plain function to the Launcher interface.
type LaunchFunc func() error

func (f LaunchFunc) Launch() error { return f() }

// Run executes the startup sequence: load the boot flags record, sample
// the force signal, decide, and on JumpToApplication invoke the launcher.
// A nil sig never forces. When the launcher refuses the hand-off the
// decision degrades to EnterBootloader and the refusal error is returned.
func Run(store *flags.Store, sig Signal, l Launcher) (Decision, error) {
	rec := store.Load()

	force := false
	if sig != nil {
		force = sig.ForceBootloader()
	}

	d := Decide(rec, force)
	pkg.LogInfo(pkg.ComponentBoot, "boot decision",
		"decision", d,
		"record", rec.String(),
		"force", force)

	if d == JumpToApplication {
		if err := l.Launch(); err != nil {
			pkg.LogWarn(pkg.ComponentBoot, "application hand-off refused", "error", err)
			return EnterBootloader, fmt.Errorf("launch application: %w", err)
		}
	}
	return d, nil
}

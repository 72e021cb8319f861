package boot

import (
	"fmt"

	"github.com/aika-io/dfuboot/flags"
)

// Decision is the outcome of the reset-time boot flags evaluation.
type Decision uint8

const (
	// EnterBootloader keeps control in the bootloader, which then serves
	// a DFU session until a verified image is in place.
	EnterBootloader Decision = iota

	// JumpToApplication hands control to the resident application.
	JumpToApplication
)

func (d Decision) String() string {
	switch d {
	case EnterBootloader:
		return "enter-bootloader"
	case JumpToApplication:
		return "jump-to-application"
	default:
		return fmt.Sprintf("Decision(%d)", uint8(d))
	}
}

// Decide maps a boot flags record and the sampled force signal to a
// Decision. JumpToApplication requires a well-formed record, a verified
// image, and no force request; every other combination enters the
// bootloader.
func Decide(rec flags.Record, force bool) Decision {
	if force {
		return EnterBootloader
	}
	if !rec.Valid() || rec.Auth != flags.AuthVerified {
		return EnterBootloader
	}
	return JumpToApplication
}

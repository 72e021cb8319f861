// Package flags implements the boot flags record: the persisted metadata
// that tells the boot decision engine whether the resident application
// image may run.
//
// The record occupies one flash page at a fixed address outside the
// application image region. Its byte layout is versioned and shared with
// host tooling:
//
//	offset  size  field
//	     0     4  magic (0xDEADCAFE, little-endian)
//	     4     1  layout version (0x01)
//	     5     1  authenticity flag
//	     6     2  reserved (0xFFFF)
//	     8     4  flash count (little-endian, saturating)
//	    12     4  image size in bytes (little-endian)
//	    16    16  reserved for future signature/hash data
//
// # Crash Safety
//
// Updates erase the page and then program the new record, in that order,
// because flash programming can only clear bits. The record is programmed
// in two steps: the payload fields (count, size, reserved tail) first,
// the gate fields (magic, version, flag) last. A crash before or between
// the steps leaves the gate erased, and a crash inside the gate write
// leaves it incomplete; either way decoding yields an invalid record,
// never a verified one with torn payload fields. Verification requires
// the exact magic, the exact layout version, and the exact verified flag
// byte, so no partial write can forge it.
//
// # Authenticity Flag
//
// Three states are defined: verified (0xA5), unverified (0xFF, which is
// also the erased pattern), and invalid (canonically 0x00; any
// unrecognized byte decodes as invalid). New states must take unused byte
// values rather than redefining existing ones, because records written by
// older bootloaders stay in the field.
package flags

// Package pkg provides shared utilities for the dfuboot bootloader core.
//
// This package contains common functionality used across the device-side
// core, the host-side client, and the simulators, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error types for flash, protocol, and transport failures
//   - Component identifiers for log filtering
//
// The package is designed to have zero external dependencies, relying
// only on the Go standard library.
//
// # Logging
//
// The logging subsystem wraps [log/slog] with bootloader-specific context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentBoot, "decision taken", "decision", d)
//
// The log output can be redirected, which is how a serial debug sink is
// attached on embedded targets:
//
//	pkg.SetLogOutput(sink)
//
// # Errors
//
// Failure conditions are defined as sentinel values:
//
//	if errors.Is(err, pkg.ErrFlashOp) {
//	    // Erase or program operation failed
//	}
package pkg

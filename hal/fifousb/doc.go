// Package fifousb carries the DFU control endpoint over a pair of named
// pipes, so a simulated device and a real host-side client can run as two
// ordinary processes.
//
// # Frame Protocol
//
// Both pipes carry frames with a three byte header (type, length as
// little-endian uint16) followed by the payload. The host writes to the
// h2d pipe and reads from d2h:
//
//	host to device:  FrameSetup (8-byte SETUP), FrameData (OUT payload),
//	                 FrameReset (bus reset)
//	device to host:  FrameData (IN payload), FrameAck (status stage),
//	                 FrameStall (protocol stall)
//
// A control transfer is one FrameSetup, an optional FrameData carrying the
// OUT payload, and exactly one reply frame. FrameReset is acknowledged
// with FrameAck after the handler observed the bus reset.
//
// # Device Side
//
// Device owns the pipe pair. It implements hal.ControlPort, so session
// replies flow straight back through the d2h pipe, and hal.Resetter, so a
// session can end the serve loop the way a system reset would:
//
//	dev := fifousb.New(dir)
//	if err := dev.CreateFIFOs(); err != nil { ... }
//	defer dev.RemoveFIFOs()
//	if err := dev.Open(ctx); err != nil { ... }
//	defer dev.Close()
//
//	session := dfu.NewSession(writer, store, dev)
//	session.SetResetter(dev)
//	err := dev.Serve(ctx, session)
//
// Serve delivers events to the handler strictly in order from a single
// goroutine and runs the deferred flash step after every event, honoring
// the hal.Handler contract. It returns nil when the handler requested a
// reset, the context error on cancellation, and a *FrameError when the
// peer violates the frame protocol.
//
// The matching host side lives in the host/fifousb package.
package fifousb

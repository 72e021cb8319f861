package host

// ControlTransport issues DFU class control transfers to one device.
// Implementations address the device's DFU interface; the request codes
// and wValue semantics are those of the DFU 1.1 class specification.
type ControlTransport interface {
	// ControlIn performs a device-to-host class interface transfer,
	// filling buf and returning the number of bytes received.
	ControlIn(request uint8, value uint16, buf []byte) (int, error)

	// ControlOut performs a host-to-device class interface transfer.
	// data may be empty for requests without a data stage.
	ControlOut(request uint8, value uint16, data []byte) error

	// Reset issues a USB bus or port reset.
	Reset() error

	// Close releases the device.
	Close() error
}

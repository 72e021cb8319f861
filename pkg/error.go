package pkg

import "errors"

// Flash and storage errors.
var (
	// ErrFlashOp indicates a flash erase, program, or read failure.
	ErrFlashOp = errors.New("flash operation failed")

	// ErrFlashBounds indicates an access outside the flash address space.
	ErrFlashBounds = errors.New("flash address out of bounds")

	// ErrFlashAlign indicates a misaligned erase or program address.
	ErrFlashAlign = errors.New("flash address misaligned")

	// ErrImageTooLarge indicates the image exceeds the region capacity.
	ErrImageTooLarge = errors.New("image exceeds region capacity")

	// ErrImageEmpty indicates a download was requested with no image data.
	ErrImageEmpty = errors.New("image is empty")

	// ErrWriteSequence indicates a non-sequential image write offset.
	ErrWriteSequence = errors.New("write offset out of sequence")
)

// Protocol and transport errors.
var (
	// ErrStall indicates the control endpoint was stalled.
	ErrStall = errors.New("endpoint stalled")

	// ErrBadSetup indicates a malformed or unexpected setup packet.
	ErrBadSetup = errors.New("malformed setup packet")

	// ErrSetupTooShort indicates the setup packet data is too short.
	ErrSetupTooShort = errors.New("setup packet too short")

	// ErrBadDescriptor indicates malformed descriptor data.
	ErrBadDescriptor = errors.New("malformed descriptor")

	// ErrDescriptorTooShort indicates the descriptor data is too short.
	ErrDescriptorTooShort = errors.New("descriptor too short")

	// ErrBadFrame indicates a malformed transport frame.
	ErrBadFrame = errors.New("malformed transport frame")

	// ErrTimeout indicates a transfer or poll timeout.
	ErrTimeout = errors.New("transfer timeout")

	// ErrDisconnected indicates the peer closed the transport.
	ErrDisconnected = errors.New("transport disconnected")

	// ErrNoDevice indicates no matching device is present.
	ErrNoDevice = errors.New("device not present")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")
)

// Configuration and image-file errors.
var (
	// ErrImageFormat indicates an unreadable firmware image file.
	ErrImageFormat = errors.New("unrecognized image format")

	// ErrBadProfile indicates an invalid device profile.
	ErrBadProfile = errors.New("invalid device profile")
)

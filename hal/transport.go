package hal

// Handler receives USB control events from a transport adapter. The DFU
// session implements it.
//
// Adapters must deliver events for one connection from a single goroutine,
// strictly in bus order, and must invoke ProcessFlash after each delivered
// event so deferred flash work completes before the next event is
// serviced. A setup packet with an OUT data stage is delivered as
// HandleSetup followed by HandleData carrying the complete payload.
type Handler interface {
	// HandleBusReset signals a USB bus reset. The handler discards all
	// session progress.
	HandleBusReset()

	// HandleSetup delivers a SETUP packet. For OUT requests with a data
	// stage the handler parks the request until HandleData arrives.
	HandleSetup(setup SetupPacket)

	// HandleData delivers the data stage of the most recent OUT setup.
	HandleData(data []byte)

	// HandleTransferComplete signals that the status stage of the most
	// recent transfer reached the bus.
	HandleTransferComplete()

	// ProcessFlash runs pending deferred flash work (block programming or
	// manifestation). It must be called on the event goroutine.
	ProcessFlash()
}

// ControlPort is the reply surface a transport adapter exposes to the
// handler. Exactly one of SendStatus or StallEndpoint concludes each
// delivered setup packet.
type ControlPort interface {
	// SendStatus completes the transfer successfully. For IN requests
	// data carries the response payload; for OUT requests data is empty
	// and only the status stage is acknowledged.
	SendStatus(data []byte) error

	// StallEndpoint rejects the transfer with a protocol stall.
	StallEndpoint()
}

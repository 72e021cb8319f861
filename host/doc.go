// Package host implements the host side of the DFU 1.1 download
// protocol: the flashing counterpart to the device session in package
// dfu.
//
// # Client
//
// [Client] drives a bootloader over any [ControlTransport]. The
// low-level methods map one-to-one onto DFU class requests (GetStatus,
// GetState, ClrStatus, Abort, Detach, Download); [Client.DownloadImage]
// runs the whole download: it chunks the image into transfer-size
// blocks with sequential block numbers, polls DFU_GETSTATUS after each
// block honoring the device's bwPollTimeout, sends the zero-length
// terminator, and drives the manifestation polls until the device
// reports dfuMANIFEST-WAIT-RESET. A device that parks in dfuERROR is
// cleared with DFU_CLRSTATUS and the failure is returned as a
// [StatusError] carrying the reported code.
//
// # Transports
//
// Three transports satisfy [ControlTransport]:
//
//   - [USBTransport] in this package drives physical devices through
//     libusb (github.com/google/gousb)
//   - host/fifousb drives the two-process simulator over named pipes
//   - dfu.Loopback couples a client to an in-process device session,
//     for tests
//
// # Example
//
//	t, err := host.OpenUSB(0x41CA, 0x2137)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer t.Close()
//
//	client := host.NewClient(t)
//	err = client.DownloadImage(ctx, firmware,
//	    host.WithTransferSize(256),
//	    host.WithProgress(func(sent, total int) {
//	        fmt.Printf("\r%d/%d", sent, total)
//	    }))
package host

package host

import (
	"errors"
	"fmt"

	"github.com/google/gousb"
	"github.com/google/gousb/usbid"

	"github.com/aika-io/dfuboot/dfu"
	"github.com/aika-io/dfuboot/pkg"
)

// USBTransport drives a physical DFU device through libusb.
type USBTransport struct {
	ctx   *gousb.Context
	dev   *gousb.Device
	cfg   *gousb.Config
	intf  *gousb.Interface
	iface uint16
}

var _ ControlTransport = (*USBTransport)(nil)

// OpenUSB opens the first device matching vid:pid, detaches any kernel
// driver, and claims its DFU interface.
func OpenUSB(vid, pid uint16) (*USBTransport, error) {
	ctx := gousb.NewContext()
	t, err := openUSB(ctx, vid, pid)
	if err != nil {
		ctx.Close()
		return nil, err
	}
	return t, nil
}

func openUSB(ctx *gousb.Context, vid, pid uint16) (*USBTransport, error) {
	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		return nil, fmt.Errorf("open device %04x:%04x: %w", vid, pid, err)
	}
	if dev == nil {
		return nil, fmt.Errorf("device %04x:%04x: %w", vid, pid, pkg.ErrNoDevice)
	}

	cfgNum, ifNum, alt, ok := findDFUInterface(dev.Desc)
	if !ok {
		dev.Close()
		return nil, fmt.Errorf("device %04x:%04x has no DFU interface: %w", vid, pid, pkg.ErrNoDevice)
	}

	if err := dev.SetAutoDetach(true); err != nil {
		dev.Close()
		return nil, fmt.Errorf("detach kernel driver: %w", err)
	}
	cfg, err := dev.Config(cfgNum)
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("claim configuration %d: %w", cfgNum, err)
	}
	intf, err := cfg.Interface(ifNum, alt)
	if err != nil {
		cfg.Close()
		dev.Close()
		return nil, fmt.Errorf("claim interface %d: %w", ifNum, err)
	}

	pkg.LogInfo(pkg.ComponentHost, "device opened",
		"bus", dev.Desc.Bus,
		"address", dev.Desc.Address,
		"interface", ifNum)

	return &USBTransport{
		ctx:   ctx,
		dev:   dev,
		cfg:   cfg,
		intf:  intf,
		iface: uint16(ifNum),
	}, nil
}

// findDFUInterface scans the configuration descriptors for an interface
// with the DFU class triple, preferring a DFU-mode alternate over a
// run-time one.
func findDFUInterface(desc *gousb.DeviceDesc) (cfgNum, ifNum, alt int, ok bool) {
	dfuMode := false
	for _, cfg := range desc.Configs {
		for _, intf := range cfg.Interfaces {
			for _, s := range intf.AltSettings {
				if s.Class != gousb.Class(dfu.ClassApplicationSpecific) ||
					s.SubClass != gousb.Class(dfu.SubclassDFU) {
					continue
				}
				mode := s.Protocol == gousb.Protocol(dfu.ProtocolDFUMode)
				if !ok || (mode && !dfuMode) {
					cfgNum, ifNum, alt = cfg.Number, s.Number, s.Alternate
					ok, dfuMode = true, mode
				}
			}
		}
	}
	return
}

// ControlIn performs a device-to-host class interface transfer.
func (t *USBTransport) ControlIn(request uint8, value uint16, buf []byte) (int, error) {
	n, err := t.dev.Control(
		gousb.ControlIn|gousb.ControlClass|gousb.ControlInterface,
		request, value, t.iface, buf,
	)
	if err != nil {
		return n, fmt.Errorf("control in 0x%02x: %w", request, wrapGone(err))
	}
	return n, nil
}

// ControlOut performs a host-to-device class interface transfer.
func (t *USBTransport) ControlOut(request uint8, value uint16, data []byte) error {
	_, err := t.dev.Control(
		gousb.ControlOut|gousb.ControlClass|gousb.ControlInterface,
		request, value, t.iface, data,
	)
	if err != nil {
		return fmt.Errorf("control out 0x%02x: %w", request, wrapGone(err))
	}
	return nil
}

// Reset issues a USB port reset. The device re-enumerates; the transport
// must be reopened afterwards.
func (t *USBTransport) Reset() error {
	if err := t.dev.Reset(); err != nil {
		return fmt.Errorf("port reset: %w", wrapGone(err))
	}
	return nil
}

// Close releases the interface and the libusb context.
func (t *USBTransport) Close() error {
	t.intf.Close()
	err := t.cfg.Close()
	if derr := t.dev.Close(); err == nil {
		err = derr
	}
	if cerr := t.ctx.Close(); err == nil {
		err = cerr
	}
	return err
}

// wrapGone tags libusb errors that mean the device left the bus, which
// the client treats as success while waiting out manifestation.
func wrapGone(err error) error {
	if errors.Is(err, gousb.ErrorNoDevice) || errors.Is(err, gousb.ErrorNotFound) {
		return fmt.Errorf("%w: %w", pkg.ErrDisconnected, err)
	}
	return err
}

// DeviceInfo identifies a connected DFU-capable device.
type DeviceInfo struct {
	Bus     int
	Address int
	VID     uint16
	PID     uint16
	Name    string // usbid-resolved vendor/product description
}

func (d DeviceInfo) String() string {
	return fmt.Sprintf("bus %03d addr %03d  %04x:%04x  %s",
		d.Bus, d.Address, d.VID, d.PID, d.Name)
}

// ListUSB enumerates connected devices exposing a DFU interface. A zero
// vid or pid matches any vendor or product.
func ListUSB(vid, pid uint16) ([]DeviceInfo, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	var infos []DeviceInfo
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if vid != 0 && uint16(desc.Vendor) != vid {
			return false
		}
		if pid != 0 && uint16(desc.Product) != pid {
			return false
		}
		if _, _, _, ok := findDFUInterface(desc); !ok {
			return false
		}
		infos = append(infos, DeviceInfo{
			Bus:     desc.Bus,
			Address: desc.Address,
			VID:     uint16(desc.Vendor),
			PID:     uint16(desc.Product),
			Name:    usbid.Describe(desc),
		})
		// Inspection only; never open the device.
		return false
	})
	for _, d := range devs {
		d.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	return infos, nil
}

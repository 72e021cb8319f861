// Package config loads device profiles: the YAML description of one DFU
// target's USB identity, flash geometry, and protocol parameters shared
// by the bootloader, the simulator, and the host tools.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aika-io/dfuboot/dfu"
	"github.com/aika-io/dfuboot/hal"
	"github.com/aika-io/dfuboot/pkg"
)

// Profile describes one device.
type Profile struct {
	USB   USBConfig   `yaml:"usb"`
	Flash FlashConfig `yaml:"flash"`
	DFU   DFUConfig   `yaml:"dfu"`
	Boot  BootConfig  `yaml:"boot"`
}

// USBConfig is the enumeration identity.
type USBConfig struct {
	VendorID     uint16 `yaml:"vendor_id"`
	ProductID    uint16 `yaml:"product_id"`
	Manufacturer string `yaml:"manufacturer"`
	Product      string `yaml:"product"`
	SerialNumber string `yaml:"serial_number"`

	// LandingURL is served in the WebUSB URL descriptor.
	LandingURL string `yaml:"landing_url"`
}

// FlashConfig is the flash part layout and timing.
type FlashConfig struct {
	PageSize         uint32 `yaml:"page_size"`
	ProgramUnit      uint32 `yaml:"program_unit"`
	AppBase          uint32 `yaml:"app_base"`
	AppSize          uint32 `yaml:"app_size"`
	MetadataAddr     uint32 `yaml:"metadata_addr"`
	EraseLatencyMs   uint32 `yaml:"erase_latency_ms"`
	ProgramLatencyUs uint32 `yaml:"program_latency_us"`
}

// DFUConfig is the protocol parameter set advertised to hosts.
type DFUConfig struct {
	TransferSize    uint16 `yaml:"transfer_size"`
	DetachTimeoutMs uint16 `yaml:"detach_timeout_ms"`
	BusyPollMs      uint32 `yaml:"busy_poll_ms"`
	ManifestPollMs  uint32 `yaml:"manifest_poll_ms"`
}

// BootConfig selects the bootloader-entry override pin.
type BootConfig struct {
	ForcePin      string `yaml:"force_pin"`       // gpio name, empty disables
	ForcePinLevel string `yaml:"force_pin_level"` // "high" or "low"
}

// Default returns the profile of the reference STM32F103 target.
func Default() *Profile {
	return &Profile{
		USB: USBConfig{
			VendorID:     0x41CA,
			ProductID:    0x2137,
			Manufacturer: "aika",
			Product:      "DFU Bootloader",
			SerialNumber: "8971842209015648",
			LandingURL:   "devanlai.github.io/webdfu/dfu-util/",
		},
		Flash: FlashConfig{
			PageSize:         1024,
			ProgramUnit:      2,
			AppBase:          0x08004800,
			AppSize:          0x1B400,
			MetadataAddr:     0x0801FC00,
			EraseLatencyMs:   25,
			ProgramLatencyUs: 53,
		},
		DFU: DFUConfig{
			TransferSize:    dfu.DefaultTransferSize,
			DetachTimeoutMs: 255,
			BusyPollMs:      uint32(dfu.DefaultBusyPoll / time.Millisecond),
			ManifestPollMs:  uint32(dfu.DefaultManifestPoll / time.Millisecond),
		},
		Boot: BootConfig{
			ForcePinLevel: "high",
		},
	}
}

// Load reads a profile file over the defaults, so partial profiles only
// need the fields they change.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	p := Default()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("%w: %v", pkg.ErrBadProfile, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	pkg.LogDebug(pkg.ComponentConfig, "profile loaded", "path", path,
		"vid", fmt.Sprintf("%04x", p.USB.VendorID),
		"pid", fmt.Sprintf("%04x", p.USB.ProductID))
	return p, nil
}

// Validate checks the layout invariants the bootloader depends on.
func (p *Profile) Validate() error {
	f := &p.Flash
	switch {
	case f.PageSize == 0 || f.PageSize&(f.PageSize-1) != 0:
		return fmt.Errorf("page_size %d is not a power of two: %w", f.PageSize, pkg.ErrBadProfile)
	case f.ProgramUnit == 0 || f.ProgramUnit > 8 || f.ProgramUnit&(f.ProgramUnit-1) != 0:
		return fmt.Errorf("program_unit %d is not 1, 2, 4, or 8: %w", f.ProgramUnit, pkg.ErrBadProfile)
	case f.AppBase%f.PageSize != 0:
		return fmt.Errorf("app_base 0x%08X is not page-aligned: %w", f.AppBase, pkg.ErrBadProfile)
	case f.AppSize == 0 || f.AppSize%f.PageSize != 0:
		return fmt.Errorf("app_size 0x%X is not a whole number of pages: %w", f.AppSize, pkg.ErrBadProfile)
	case f.MetadataAddr%f.PageSize != 0:
		return fmt.Errorf("metadata_addr 0x%08X is not page-aligned: %w", f.MetadataAddr, pkg.ErrBadProfile)
	}

	meta := hal.Region{Base: f.MetadataAddr, Size: f.PageSize}
	if p.AppRegion().Overlaps(meta) {
		return fmt.Errorf("metadata page 0x%08X overlaps the application region: %w",
			f.MetadataAddr, pkg.ErrBadProfile)
	}

	if p.DFU.TransferSize == 0 || uint32(p.DFU.TransferSize) > f.PageSize {
		return fmt.Errorf("transfer_size %d must be between 1 and the page size %d: %w",
			p.DFU.TransferSize, f.PageSize, pkg.ErrBadProfile)
	}

	switch p.Boot.ForcePinLevel {
	case "", "high", "low":
	default:
		return fmt.Errorf("force_pin_level %q must be high or low: %w",
			p.Boot.ForcePinLevel, pkg.ErrBadProfile)
	}
	return nil
}

// Geometry projects the flash section onto the HAL geometry type.
func (p *Profile) Geometry() hal.Geometry {
	return hal.Geometry{
		PageSize:       p.Flash.PageSize,
		ProgramUnit:    p.Flash.ProgramUnit,
		EraseLatency:   time.Duration(p.Flash.EraseLatencyMs) * time.Millisecond,
		ProgramLatency: time.Duration(p.Flash.ProgramLatencyUs) * time.Microsecond,
	}
}

// AppRegion returns the application image region.
func (p *Profile) AppRegion() hal.Region {
	return hal.Region{Base: p.Flash.AppBase, Size: p.Flash.AppSize}
}

// BusyPoll returns the dfuDNBUSY poll interval.
func (p *Profile) BusyPoll() time.Duration {
	return time.Duration(p.DFU.BusyPollMs) * time.Millisecond
}

// ManifestPoll returns the dfuMANIFEST poll interval.
func (p *Profile) ManifestPoll() time.Duration {
	return time.Duration(p.DFU.ManifestPollMs) * time.Millisecond
}

// DetachTimeout returns the advertised wDetachTimeOut.
func (p *Profile) DetachTimeout() time.Duration {
	return time.Duration(p.DFU.DetachTimeoutMs) * time.Millisecond
}

// ActiveHigh reports whether the force pin asserts on a high level.
func (b BootConfig) ActiveHigh() bool {
	return b.ForcePinLevel != "low"
}

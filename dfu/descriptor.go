package dfu

import (
	"encoding/binary"

	"github.com/aika-io/dfuboot/pkg"
)

// Descriptor types served during enumeration.
const (
	DescriptorTypeBOS           = 0x0F // USB 3.0 Binary Object Store
	DescriptorTypeCapability    = 0x10 // Device capability
	DescriptorTypeDFUFunctional = 0x21 // DFU functional (DFU 1.1 spec 4.1.3)
)

// Platform capability type inside a BOS capability descriptor.
const CapabilityTypePlatform = 0x05

// Vendor request codes carried by the platform capabilities. A host that
// read the BOS descriptor issues vendor requests with these codes to
// fetch the WebUSB URL descriptor and the MS OS 2.0 descriptor set.
const (
	WebUSBVendorCode = 0x01
	MSOSVendorCode   = 0x02
)

// WebUSB URL descriptor scheme prefixes.
const (
	URLSchemeHTTP  = 0x00
	URLSchemeHTTPS = 0x01
)

// URL descriptor type (WebUSB spec section 4.3.1).
const descriptorTypeURL = 0x03

// Index of the landing page URL announced in the WebUSB capability.
const landingPageIndex = 0x01

// DFU functional descriptor attribute bits (DFU 1.1 spec section 4.1.3).
const (
	AttrCanDownload           = 1 << 0 // bitCanDnload
	AttrCanUpload             = 1 << 1 // bitCanUpload
	AttrManifestationTolerant = 1 << 2 // bitManifestationTolerant
	AttrWillDetach            = 1 << 3 // bitWillDetach
)

// FunctionalDescriptor is the DFU functional descriptor appended to the
// DFU interface (9 bytes). The profile used here is download-only and
// manifestation-intolerant: AttrCanDownload set, everything else clear.
type FunctionalDescriptor struct {
	Attributes    uint8  // bmAttributes
	DetachTimeout uint16 // wDetachTimeOut in milliseconds
	TransferSize  uint16 // wTransferSize
	DFUVersion    uint16 // bcdDFUVersion
}

// FunctionalDescriptorSize is the size of a DFU functional descriptor in
// bytes.
const FunctionalDescriptorSize = 9

// MarshalTo serializes the functional descriptor to buf.
// Returns the number of bytes written (always 9 if buf is large enough).
func (d *FunctionalDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < FunctionalDescriptorSize {
		return 0
	}
	buf[0] = FunctionalDescriptorSize
	buf[1] = DescriptorTypeDFUFunctional
	buf[2] = d.Attributes
	binary.LittleEndian.PutUint16(buf[3:5], d.DetachTimeout)
	binary.LittleEndian.PutUint16(buf[5:7], d.TransferSize)
	binary.LittleEndian.PutUint16(buf[7:9], d.DFUVersion)
	return FunctionalDescriptorSize
}

// ParseFunctionalDescriptor parses a DFU functional descriptor from bytes
// into out. Returns an error if the data is too short or the descriptor
// type is wrong.
func ParseFunctionalDescriptor(data []byte, out *FunctionalDescriptor) error {
	if len(data) < FunctionalDescriptorSize {
		return pkg.ErrDescriptorTooShort
	}
	if data[1] != DescriptorTypeDFUFunctional {
		return pkg.ErrBadDescriptor
	}
	out.Attributes = data[2]
	out.DetachTimeout = binary.LittleEndian.Uint16(data[3:5])
	out.TransferSize = binary.LittleEndian.Uint16(data[5:7])
	out.DFUVersion = binary.LittleEndian.Uint16(data[7:9])
	return nil
}

// Platform capability UUIDs, in the little-endian GUID byte order they
// appear on the wire.
var (
	// {3408b638-09a9-47a0-8bfd-a0768815b665}, WebUSB spec section 4.2.
	webUSBPlatformUUID = [16]byte{
		0x38, 0xB6, 0x08, 0x34, 0xA9, 0x09, 0xA0, 0x47,
		0x8B, 0xFD, 0xA0, 0x76, 0x88, 0x15, 0xB6, 0x65,
	}

	// {D8DD60DF-4589-4CC7-9CD2-659D9E648A9F}, MS OS 2.0 spec.
	msosPlatformUUID = [16]byte{
		0xDF, 0x60, 0xDD, 0xD8, 0x89, 0x45, 0xC7, 0x4C,
		0x9C, 0xD2, 0x65, 0x9D, 0x9E, 0x64, 0x8A, 0x9F,
	}
)

// dwWindowsVersion for Windows 8.1, the first release with MS OS 2.0
// descriptor support.
const msosWindowsVersion = 0x06030000

const (
	bosHeaderSize    = 5
	webUSBCapSize    = 24
	msosCapSize      = 28
	msosSetHeaderLen = 10
	msosCompatIDLen  = 20
)

// BuildBOS returns the Binary Object Store descriptor advertising the
// WebUSB and Microsoft OS 2.0 platform capabilities. msosSetLength is the
// total length of the descriptor set returned by BuildMSOSDescriptorSet.
func BuildBOS(msosSetLength uint16) []byte {
	total := bosHeaderSize + webUSBCapSize + msosCapSize
	buf := make([]byte, 0, total)

	// BOS header
	buf = append(buf, bosHeaderSize, DescriptorTypeBOS)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(total))
	buf = append(buf, 2) // bNumDeviceCaps

	// WebUSB platform capability
	buf = append(buf, webUSBCapSize, DescriptorTypeCapability, CapabilityTypePlatform, 0)
	buf = append(buf, webUSBPlatformUUID[:]...)
	buf = binary.LittleEndian.AppendUint16(buf, 0x0100) // bcdVersion
	buf = append(buf, WebUSBVendorCode, landingPageIndex)

	// Microsoft OS 2.0 platform capability
	buf = append(buf, msosCapSize, DescriptorTypeCapability, CapabilityTypePlatform, 0)
	buf = append(buf, msosPlatformUUID[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, msosWindowsVersion)
	buf = binary.LittleEndian.AppendUint16(buf, msosSetLength)
	buf = append(buf, MSOSVendorCode, 0) // bAltEnumCode = 0

	return buf
}

// BuildURLDescriptor returns the WebUSB URL descriptor for the landing
// page. url carries no scheme prefix; the scheme byte encodes it.
func BuildURLDescriptor(scheme uint8, url string) []byte {
	buf := make([]byte, 0, 3+len(url))
	buf = append(buf, uint8(3+len(url)), descriptorTypeURL, scheme)
	buf = append(buf, url...)
	return buf
}

// BuildMSOSDescriptorSet returns the Microsoft OS 2.0 descriptor set
// binding the device to the WINUSB driver.
func BuildMSOSDescriptorSet() []byte {
	total := msosSetHeaderLen + msosCompatIDLen
	buf := make([]byte, 0, total)

	// Set header
	buf = binary.LittleEndian.AppendUint16(buf, msosSetHeaderLen)
	buf = binary.LittleEndian.AppendUint16(buf, 0x0000) // MS_OS_20_SET_HEADER_DESCRIPTOR
	buf = binary.LittleEndian.AppendUint32(buf, msosWindowsVersion)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(total))

	// Compatible ID feature descriptor
	buf = binary.LittleEndian.AppendUint16(buf, msosCompatIDLen)
	buf = binary.LittleEndian.AppendUint16(buf, 0x0003) // MS_OS_20_FEATURE_COMPATBLE_ID
	buf = append(buf, 'W', 'I', 'N', 'U', 'S', 'B', 0, 0)
	buf = append(buf, 0, 0, 0, 0, 0, 0, 0, 0) // SubCompatibleID unused

	return buf
}

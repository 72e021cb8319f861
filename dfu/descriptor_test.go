package dfu

import (
	"bytes"
	"errors"
	"testing"

	"github.com/aika-io/dfuboot/pkg"
)

func TestFunctionalDescriptor_MarshalTo(t *testing.T) {
	d := FunctionalDescriptor{
		Attributes:    AttrCanDownload,
		DetachTimeout: 255,
		TransferSize:  256,
		DFUVersion:    Version,
	}

	var buf [FunctionalDescriptorSize]byte
	if n := d.MarshalTo(buf[:]); n != FunctionalDescriptorSize {
		t.Fatalf("MarshalTo() = %d, want %d", n, FunctionalDescriptorSize)
	}

	want := []byte{0x09, 0x21, 0x01, 0xFF, 0x00, 0x00, 0x01, 0x10, 0x01}
	if !bytes.Equal(buf[:], want) {
		t.Errorf("MarshalTo() bytes = % X, want % X", buf[:], want)
	}

	var back FunctionalDescriptor
	if err := ParseFunctionalDescriptor(buf[:], &back); err != nil {
		t.Fatalf("ParseFunctionalDescriptor() error = %v", err)
	}
	if back != d {
		t.Errorf("round trip = %+v, want %+v", back, d)
	}
}

func TestParseFunctionalDescriptor_Errors(t *testing.T) {
	t.Run("too short", func(t *testing.T) {
		var d FunctionalDescriptor
		err := ParseFunctionalDescriptor([]byte{0x09, 0x21, 0x01}, &d)
		if !errors.Is(err, pkg.ErrDescriptorTooShort) {
			t.Errorf("error = %v, want ErrDescriptorTooShort", err)
		}
	})

	t.Run("wrong type", func(t *testing.T) {
		raw := []byte{0x09, 0x04, 0x01, 0xFF, 0x00, 0x00, 0x01, 0x10, 0x01}
		var d FunctionalDescriptor
		err := ParseFunctionalDescriptor(raw, &d)
		if !errors.Is(err, pkg.ErrBadDescriptor) {
			t.Errorf("error = %v, want ErrBadDescriptor", err)
		}
	})
}

func TestBuildBOS(t *testing.T) {
	set := BuildMSOSDescriptorSet()
	bos := BuildBOS(uint16(len(set)))

	want := []byte{
		// BOS header: 57 bytes total, 2 capabilities
		0x05, 0x0F, 0x39, 0x00, 0x02,
		// WebUSB platform capability
		0x18, 0x10, 0x05, 0x00,
		0x38, 0xB6, 0x08, 0x34, 0xA9, 0x09, 0xA0, 0x47,
		0x8B, 0xFD, 0xA0, 0x76, 0x88, 0x15, 0xB6, 0x65,
		0x00, 0x01, // bcdVersion 1.00
		0x01, // bVendorCode
		0x01, // iLandingPage
		// Microsoft OS 2.0 platform capability
		0x1C, 0x10, 0x05, 0x00,
		0xDF, 0x60, 0xDD, 0xD8, 0x89, 0x45, 0xC7, 0x4C,
		0x9C, 0xD2, 0x65, 0x9D, 0x9E, 0x64, 0x8A, 0x9F,
		0x00, 0x00, 0x03, 0x06, // dwWindowsVersion 8.1
		0x1E, 0x00, // wMSOSDescriptorSetTotalLength
		0x02, // bMS_VendorCode
		0x00, // bAltEnumCode
	}
	if !bytes.Equal(bos, want) {
		t.Errorf("BuildBOS() = % X,\nwant % X", bos, want)
	}
}

func TestBuildMSOSDescriptorSet(t *testing.T) {
	set := BuildMSOSDescriptorSet()

	want := []byte{
		// Set header
		0x0A, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x03, 0x06,
		0x1E, 0x00,
		// Compatible ID feature descriptor
		0x14, 0x00, 0x03, 0x00,
		'W', 'I', 'N', 'U', 'S', 'B', 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}
	if !bytes.Equal(set, want) {
		t.Errorf("BuildMSOSDescriptorSet() = % X,\nwant % X", set, want)
	}
}

func TestBuildURLDescriptor(t *testing.T) {
	url := "devanlai.github.io/webdfu/dfu-util/"
	desc := BuildURLDescriptor(URLSchemeHTTPS, url)

	if len(desc) != 3+len(url) {
		t.Fatalf("len = %d, want %d", len(desc), 3+len(url))
	}
	if desc[0] != 0x26 || desc[1] != 0x03 || desc[2] != URLSchemeHTTPS {
		t.Errorf("header = % X, want 26 03 01", desc[:3])
	}
	if got := string(desc[3:]); got != url {
		t.Errorf("url = %q, want %q", got, url)
	}
}

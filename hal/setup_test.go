package hal

import (
	"errors"
	"testing"

	"github.com/aika-io/dfuboot/pkg"
)

func TestParseSetupPacket(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    SetupPacket
		wantErr error
	}{
		{
			name: "class out download",
			data: []byte{0x21, 0x01, 0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
			want: SetupPacket{
				RequestType: 0x21,
				Request:     0x01,
				Value:       0x0002,
				Index:       0x0000,
				Length:      0x0100,
			},
		},
		{
			name: "class in get status",
			data: []byte{0xA1, 0x03, 0x00, 0x00, 0x00, 0x00, 0x06, 0x00},
			want: SetupPacket{
				RequestType: 0xA1,
				Request:     0x03,
				Value:       0x0000,
				Index:       0x0000,
				Length:      0x0006,
			},
		},
		{
			name:    "too short",
			data:    []byte{0x21, 0x01, 0x02},
			wantErr: pkg.ErrSetupTooShort,
		},
		{
			name:    "empty",
			data:    nil,
			wantErr: pkg.ErrSetupTooShort,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got SetupPacket
			err := ParseSetupPacket(tt.data, &got)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseSetupPacket() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSetupPacket() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseSetupPacket() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSetupPacket_MarshalRoundTrip(t *testing.T) {
	orig := SetupPacket{
		RequestType: 0x21,
		Request:     0x01,
		Value:       0x1234,
		Index:       0x0001,
		Length:      0x0100,
	}

	var buf [SetupPacketSize]byte
	if n := orig.MarshalTo(buf[:]); n != SetupPacketSize {
		t.Fatalf("MarshalTo() = %d, want %d", n, SetupPacketSize)
	}

	var got SetupPacket
	if err := ParseSetupPacket(buf[:], &got); err != nil {
		t.Fatalf("ParseSetupPacket() error = %v", err)
	}
	if got != orig {
		t.Errorf("round trip = %+v, want %+v", got, orig)
	}
}

func TestSetupPacket_MarshalToSmallBuffer(t *testing.T) {
	s := SetupPacket{Request: 0x01}
	buf := make([]byte, 4)
	if n := s.MarshalTo(buf); n != 0 {
		t.Errorf("MarshalTo(short buf) = %d, want 0", n)
	}
}

func TestSetupPacket_Predicates(t *testing.T) {
	tests := []struct {
		name        string
		requestType uint8
		isIn        bool
		isClass     bool
		isVendor    bool
		isInterface bool
	}{
		{"class out interface", 0x21, false, true, false, true},
		{"class in interface", 0xA1, true, true, false, true},
		{"vendor in device", 0xC0, true, false, true, false},
		{"standard out device", 0x00, false, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := SetupPacket{RequestType: tt.requestType}
			if got := s.IsDeviceToHost(); got != tt.isIn {
				t.Errorf("IsDeviceToHost() = %v, want %v", got, tt.isIn)
			}
			if got := s.IsHostToDevice(); got == tt.isIn {
				t.Errorf("IsHostToDevice() = %v, want %v", got, !tt.isIn)
			}
			if got := s.IsClass(); got != tt.isClass {
				t.Errorf("IsClass() = %v, want %v", got, tt.isClass)
			}
			if got := s.IsVendor(); got != tt.isVendor {
				t.Errorf("IsVendor() = %v, want %v", got, tt.isVendor)
			}
			if got := s.IsInterfaceRecipient(); got != tt.isInterface {
				t.Errorf("IsInterfaceRecipient() = %v, want %v", got, tt.isInterface)
			}
		})
	}
}

func TestClassSetupConstructors(t *testing.T) {
	var out SetupPacket

	ClassOutSetup(&out, 0x01, 7, 0, 256)
	want := SetupPacket{RequestType: 0x21, Request: 0x01, Value: 7, Index: 0, Length: 256}
	if out != want {
		t.Errorf("ClassOutSetup() = %+v, want %+v", out, want)
	}

	ClassInSetup(&out, 0x03, 0, 2, 6)
	want = SetupPacket{RequestType: 0xA1, Request: 0x03, Value: 0, Index: 2, Length: 6}
	if out != want {
		t.Errorf("ClassInSetup() = %+v, want %+v", out, want)
	}

	if got := want.InterfaceNumber(); got != 2 {
		t.Errorf("InterfaceNumber() = %d, want 2", got)
	}
}

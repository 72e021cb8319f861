package flags

import (
	"bytes"
	"errors"
	"testing"

	"github.com/aika-io/dfuboot/pkg"
)

func TestAuthenticity_String(t *testing.T) {
	tests := []struct {
		auth Authenticity
		want string
	}{
		{AuthVerified, "verified"},
		{AuthUnverified, "unverified"},
		{AuthInvalid, "invalid"},
		{Authenticity(0x3C), "invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.auth.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRecord_MarshalTo_Golden(t *testing.T) {
	rec := Record{
		Magic:      Magic,
		Version:    LayoutVersion,
		Auth:       AuthVerified,
		FlashCount: 7,
		ImageSize:  0x2400,
	}

	var buf [RecordSize]byte
	if n := rec.MarshalTo(buf[:]); n != RecordSize {
		t.Fatalf("MarshalTo() = %d, want %d", n, RecordSize)
	}

	want := []byte{
		0xFE, 0xCA, 0xAD, 0xDE, // magic, little-endian
		0x01,       // layout version
		0xA5,       // verified
		0xFF, 0xFF, // reserved
		0x07, 0x00, 0x00, 0x00, // flash count
		0x00, 0x24, 0x00, 0x00, // image size
		0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
		0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
	}
	if !bytes.Equal(buf[:], want) {
		t.Errorf("MarshalTo()\n got % X\nwant % X", buf[:], want)
	}
}

func TestRecord_MarshalToSmallBuffer(t *testing.T) {
	rec := Record{Magic: Magic}
	buf := make([]byte, RecordSize-1)
	if n := rec.MarshalTo(buf); n != 0 {
		t.Errorf("MarshalTo(short buf) = %d, want 0", n)
	}
}

func TestParseRecord(t *testing.T) {
	tests := []struct {
		name string
		data func() []byte
		want Record
	}{
		{
			name: "verified round trip",
			data: func() []byte {
				rec := Record{Magic: Magic, Version: LayoutVersion, Auth: AuthVerified, FlashCount: 41, ImageSize: 1024}
				buf := make([]byte, RecordSize)
				rec.MarshalTo(buf)
				return buf
			},
			want: Record{Magic: Magic, Version: LayoutVersion, Auth: AuthVerified, FlashCount: 41, ImageSize: 1024},
		},
		{
			name: "erased page",
			data: func() []byte {
				return bytes.Repeat([]byte{0xFF}, RecordSize)
			},
			want: Record{Magic: 0xFFFFFFFF, Version: 0xFF, Auth: AuthUnverified, FlashCount: 0xFFFFFFFF, ImageSize: 0xFFFFFFFF},
		},
		{
			name: "unknown flag byte decodes invalid",
			data: func() []byte {
				rec := Record{Magic: Magic, Version: LayoutVersion, Auth: AuthVerified, FlashCount: 1}
				buf := make([]byte, RecordSize)
				rec.MarshalTo(buf)
				buf[5] = 0x5A
				return buf
			},
			want: Record{Magic: Magic, Version: LayoutVersion, Auth: AuthInvalid, FlashCount: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Record
			if err := ParseRecord(tt.data(), &got); err != nil {
				t.Fatalf("ParseRecord() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseRecord() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseRecord_TooShort(t *testing.T) {
	var rec Record
	err := ParseRecord(make([]byte, RecordSize-1), &rec)
	if !errors.Is(err, pkg.ErrBufferTooSmall) {
		t.Errorf("ParseRecord() error = %v, want ErrBufferTooSmall", err)
	}
}

func TestRecord_Valid(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
		want bool
	}{
		{"good", Record{Magic: Magic, Version: LayoutVersion}, true},
		{"wrong magic", Record{Magic: 0xDEADBEEF, Version: LayoutVersion}, false},
		{"erased magic", Record{Magic: 0xFFFFFFFF, Version: LayoutVersion}, false},
		{"wrong version", Record{Magic: Magic, Version: 2}, false},
		{"zero", Record{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRecord_TornWriteNeverVerified(t *testing.T) {
	// The store programs the payload (bytes 8..31) first and the gate
	// (bytes 0..7) last. Simulate a crash after every possible number of
	// committed bytes in that order: any outcome short of a complete gate
	// must decode as not-verified, and once the gate is complete the
	// payload is already fully committed, so count and size are exact.
	rec := Record{Magic: Magic, Version: LayoutVersion, Auth: AuthVerified, FlashCount: 3, ImageSize: 512}
	full := make([]byte, RecordSize)
	rec.MarshalTo(full)

	for n := 0; n <= RecordSize; n++ {
		page := bytes.Repeat([]byte{0xFF}, RecordSize)
		payload := n
		if payload > RecordSize-8 {
			payload = RecordSize - 8
		}
		copy(page[8:], full[8:8+payload])
		if gate := n - (RecordSize - 8); gate > 0 {
			copy(page, full[:gate])
		}

		var got Record
		if err := ParseRecord(page, &got); err != nil {
			t.Fatalf("ParseRecord() error = %v", err)
		}
		verified := got.Valid() && got.Auth == AuthVerified
		gateDone := n >= RecordSize-8+6 // magic, version, and flag committed
		if verified && !gateDone {
			t.Errorf("torn write of %d bytes decoded as verified", n)
		}
		if verified && (got.FlashCount != 3 || got.ImageSize != 512) {
			t.Errorf("torn write of %d bytes decoded verified with torn payload: %+v", n, got)
		}
	}
}

package firmware

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aika-io/dfuboot/pkg"
)

// appHex is a minimal Intel HEX image: four bytes at 0x08004000 behind
// an extended linear address record.
const appHex = ":020000040800F2\n" +
	":0440000001020304B2\n" +
	":00000001FF\n"

func writeTempImage(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoad_HexImage(t *testing.T) {
	path := writeTempImage(t, "app.hex", []byte(appHex))

	img, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if img.Addr != 0x08004000 {
		t.Errorf("Addr = 0x%08X, want 0x08004000", img.Addr)
	}
	if want := []byte{0x01, 0x02, 0x03, 0x04}; !bytes.Equal(img.Data, want) {
		t.Errorf("Data = % X, want % X", img.Data, want)
	}
}

func TestLoad_HexExtensionCaseInsensitive(t *testing.T) {
	path := writeTempImage(t, "APP.HEX", []byte(appHex))

	img, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if img.Addr != 0x08004000 {
		t.Errorf("Addr = 0x%08X, want 0x08004000", img.Addr)
	}
}

func TestLoad_RawBinary(t *testing.T) {
	raw := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x42}
	path := writeTempImage(t, "app.bin", raw)

	img, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if img.Addr != 0 {
		t.Errorf("Addr = 0x%08X, want 0 for raw binaries", img.Addr)
	}
	if !bytes.Equal(img.Data, raw) {
		t.Errorf("Data = % X, want % X", img.Data, raw)
	}
}

func TestLoad_EmptyBinary(t *testing.T) {
	path := writeTempImage(t, "empty.bin", nil)

	if _, err := Load(path); !errors.Is(err, pkg.ErrImageFormat) {
		t.Errorf("Load() error = %v, want %v", err, pkg.ErrImageFormat)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.hex")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load() error = %v, want %v", err, os.ErrNotExist)
	}
}

func TestReadHex_FillsGaps(t *testing.T) {
	// Two segments with a four-byte hole between them.
	hex := ":04010000DEADBEEFC3\n" +
		":020108001234AF\n" +
		":00000001FF\n"

	img, err := ReadHex(strings.NewReader(hex))
	if err != nil {
		t.Fatalf("ReadHex() error = %v", err)
	}
	if img.Addr != 0x0100 {
		t.Errorf("Addr = 0x%04X, want 0x0100", img.Addr)
	}
	want := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0xFF, 0xFF, 0xFF, 0xFF, 0x12, 0x34}
	if !bytes.Equal(img.Data, want) {
		t.Errorf("Data = % X, want % X", img.Data, want)
	}
}

func TestReadHex_Malformed(t *testing.T) {
	if _, err := ReadHex(strings.NewReader("not an intel hex file")); !errors.Is(err, pkg.ErrImageFormat) {
		t.Errorf("ReadHex() error = %v, want %v", err, pkg.ErrImageFormat)
	}
}

func TestReadHex_NoDataRecords(t *testing.T) {
	if _, err := ReadHex(strings.NewReader(":00000001FF\n")); !errors.Is(err, pkg.ErrImageFormat) {
		t.Errorf("ReadHex() error = %v, want %v", err, pkg.ErrImageFormat)
	}
}

func TestReadHex_RejectsHugeExtent(t *testing.T) {
	// One byte at 0 and one at 0x08000000: flattening would allocate
	// the whole gap.
	hex := ":01000000AA55\n" +
		":020000040800F2\n" +
		":01000000BB44\n" +
		":00000001FF\n"

	if _, err := ReadHex(strings.NewReader(hex)); !errors.Is(err, pkg.ErrImageFormat) {
		t.Errorf("ReadHex() error = %v, want %v", err, pkg.ErrImageFormat)
	}
}

func TestWriteHex_RoundTrip(t *testing.T) {
	data := make([]byte, 40)
	for i := range data {
		data[i] = byte(i * 7)
	}

	var buf bytes.Buffer
	if err := WriteHex(&buf, 0x08004000, data); err != nil {
		t.Fatalf("WriteHex() error = %v", err)
	}
	dump := strings.ToUpper(buf.String())
	if !strings.Contains(dump, ":020000040800F2") {
		t.Errorf("dump missing extended linear address record:\n%s", dump)
	}
	if !strings.Contains(dump, ":10") {
		t.Errorf("dump missing 16-byte data records:\n%s", dump)
	}

	img, err := ReadHex(&buf)
	if err != nil {
		t.Fatalf("ReadHex() error = %v", err)
	}
	if img.Addr != 0x08004000 || !bytes.Equal(img.Data, data) {
		t.Errorf("round trip = %v, want %d bytes @ 0x08004000", img, len(data))
	}
}

func TestImage_String(t *testing.T) {
	tests := []struct {
		name string
		img  Image
		want string
	}{
		{"placed", Image{Addr: 0x08004000, Data: make([]byte, 1124)}, "1124 bytes @ 0x08004000"},
		{"raw", Image{Data: make([]byte, 64)}, "64 bytes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.img.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

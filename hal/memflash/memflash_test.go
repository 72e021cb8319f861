package memflash

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/aika-io/dfuboot/hal"
	"github.com/aika-io/dfuboot/pkg"
)

const testBase = 0x08000000

func newTestDevice() *Device {
	geom := hal.Geometry{PageSize: 1024, ProgramUnit: 2}
	return New(testBase, 16*1024, geom)
}

func TestNew_Erased(t *testing.T) {
	d := newTestDevice()

	got := d.Bytes(testBase, 16)
	want := bytes.Repeat([]byte{ErasedByte}, 16)
	if !bytes.Equal(got, want) {
		t.Errorf("fresh device = % X, want all FF", got)
	}
}

func TestEraseProgramRead(t *testing.T) {
	d := newTestDevice()

	if err := d.Erase(testBase); err != nil {
		t.Fatalf("Erase() error = %v", err)
	}
	data := []byte{0xDE, 0xAD, 0xCA, 0xFE}
	if err := d.Program(testBase, data); err != nil {
		t.Fatalf("Program() error = %v", err)
	}

	buf := make([]byte, 4)
	if err := d.Read(testBase, buf); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !bytes.Equal(buf, data) {
		t.Errorf("Read() = % X, want % X", buf, data)
	}
	if got := d.EraseCount(testBase); got != 1 {
		t.Errorf("EraseCount() = %d, want 1", got)
	}
}

func TestProgram_OnlyClearsBits(t *testing.T) {
	d := newTestDevice()

	if err := d.Program(testBase, []byte{0x00, 0x00}); err != nil {
		t.Fatalf("Program(zeros) error = %v", err)
	}
	// 0xFF over 0x00 would need an erase; the device must refuse.
	err := d.Program(testBase, []byte{0xFF, 0xFF})
	if !errors.Is(err, pkg.ErrFlashOp) {
		t.Fatalf("Program(set bits) error = %v, want ErrFlashOp", err)
	}

	buf := make([]byte, 2)
	if err := d.Read(testBase, buf); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !bytes.Equal(buf, []byte{0x00, 0x00}) {
		t.Errorf("memory after refused program = % X, want 00 00", buf)
	}
}

func TestEraseRestoresBits(t *testing.T) {
	d := newTestDevice()

	if err := d.Program(testBase, []byte{0x12, 0x34}); err != nil {
		t.Fatalf("Program() error = %v", err)
	}
	if err := d.Erase(testBase); err != nil {
		t.Fatalf("Erase() error = %v", err)
	}
	if err := d.Program(testBase, []byte{0xAB, 0xCD}); err != nil {
		t.Fatalf("Program() after erase error = %v", err)
	}

	got := d.Bytes(testBase, 2)
	if !bytes.Equal(got, []byte{0xAB, 0xCD}) {
		t.Errorf("memory = % X, want AB CD", got)
	}
}

func TestAlignment(t *testing.T) {
	d := newTestDevice()

	tests := []struct {
		name string
		op   func() error
	}{
		{"erase mid-page", func() error { return d.Erase(testBase + 512) }},
		{"program odd address", func() error { return d.Program(testBase+1, []byte{0x00, 0x00}) }},
		{"program odd length", func() error { return d.Program(testBase, []byte{0x00}) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.op(); !errors.Is(err, pkg.ErrFlashAlign) {
				t.Errorf("error = %v, want ErrFlashAlign", err)
			}
		})
	}
}

func TestBounds(t *testing.T) {
	d := newTestDevice()
	end := uint32(testBase + 16*1024)

	tests := []struct {
		name string
		op   func() error
	}{
		{"erase below base", func() error { return d.Erase(testBase - 1024) }},
		{"erase past end", func() error { return d.Erase(end) }},
		{"program past end", func() error { return d.Program(end-2, []byte{0, 0, 0, 0}) }},
		{"read past end", func() error { return d.Read(end-1, make([]byte, 2)) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.op(); !errors.Is(err, pkg.ErrFlashBounds) {
				t.Errorf("error = %v, want ErrFlashBounds", err)
			}
		})
	}
}

func TestFailNextErase(t *testing.T) {
	d := newTestDevice()

	d.FailNextErase(io.ErrUnexpectedEOF)
	if err := d.Erase(testBase); !errors.Is(err, pkg.ErrFlashOp) {
		t.Fatalf("Erase() error = %v, want ErrFlashOp", err)
	}
	// The injected failure is consumed.
	if err := d.Erase(testBase); err != nil {
		t.Fatalf("second Erase() error = %v", err)
	}
}

func TestFailNextProgram(t *testing.T) {
	d := newTestDevice()

	d.FailNextProgram(io.ErrUnexpectedEOF)
	if err := d.Program(testBase, []byte{0, 0}); !errors.Is(err, pkg.ErrFlashOp) {
		t.Fatalf("Program() error = %v, want ErrFlashOp", err)
	}
	if err := d.Program(testBase, []byte{0, 0}); err != nil {
		t.Fatalf("second Program() error = %v", err)
	}
}

func TestLimitProgram_CommitsPrefix(t *testing.T) {
	d := newTestDevice()

	d.LimitProgram(2)
	err := d.Program(testBase, []byte{0x11, 0x22, 0x33, 0x44})
	if !errors.Is(err, pkg.ErrFlashOp) {
		t.Fatalf("Program() error = %v, want ErrFlashOp", err)
	}

	// The two bytes before the cut are committed, the rest untouched.
	got := d.Bytes(testBase, 4)
	want := []byte{0x11, 0x22, 0xFF, 0xFF}
	if !bytes.Equal(got, want) {
		t.Errorf("memory after cut = % X, want % X", got, want)
	}

	// Power stays lost until the limit is lifted.
	if err := d.Program(testBase+4, []byte{0, 0}); !errors.Is(err, pkg.ErrFlashOp) {
		t.Errorf("Program() after cut error = %v, want ErrFlashOp", err)
	}
	d.LimitProgram(-1)
	if err := d.Program(testBase+4, []byte{0, 0}); err != nil {
		t.Errorf("Program() after restore error = %v", err)
	}
}

func TestSeed(t *testing.T) {
	d := newTestDevice()

	// Seed bypasses NOR rules: setting bits without an erase.
	if err := d.Program(testBase, []byte{0x00, 0x00}); err != nil {
		t.Fatalf("Program() error = %v", err)
	}
	if err := d.Seed(testBase, []byte{0xAA, 0x55}); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	got := d.Bytes(testBase, 2)
	if !bytes.Equal(got, []byte{0xAA, 0x55}) {
		t.Errorf("memory = % X, want AA 55", got)
	}
}

package flags

import (
	"errors"
	"io"
	"math"
	"testing"

	"github.com/aika-io/dfuboot/hal"
	"github.com/aika-io/dfuboot/hal/memflash"
	"github.com/aika-io/dfuboot/pkg"
)

const (
	testBase     = 0x08000000
	testFlagAddr = 0x08003C00 // last page of a 16KB device
)

func newTestStore() (*Store, *memflash.Device) {
	geom := hal.Geometry{PageSize: 1024, ProgramUnit: 2}
	dev := memflash.New(testBase, 16*1024, geom)
	return NewStore(dev, testFlagAddr, geom), dev
}

func TestStore_LoadErased(t *testing.T) {
	s, _ := newTestStore()

	rec := s.Load()
	if rec.Valid() {
		t.Error("erased page loaded as valid record")
	}
	if rec.Auth != AuthInvalid {
		t.Errorf("Auth = %v, want invalid", rec.Auth)
	}
	if rec.FlashCount != 0 {
		t.Errorf("FlashCount = %d, want 0", rec.FlashCount)
	}
}

func TestStore_MarkVerified(t *testing.T) {
	s, _ := newTestStore()

	rec, err := s.MarkVerified(4096)
	if err != nil {
		t.Fatalf("MarkVerified() error = %v", err)
	}
	if rec.Auth != AuthVerified {
		t.Errorf("returned Auth = %v, want verified", rec.Auth)
	}
	if rec.FlashCount != 1 {
		t.Errorf("returned FlashCount = %d, want 1", rec.FlashCount)
	}

	got := s.Load()
	if !got.Valid() || got.Auth != AuthVerified {
		t.Fatalf("Load() after MarkVerified = %+v, want valid verified", got)
	}
	if got.FlashCount != 1 || got.ImageSize != 4096 {
		t.Errorf("Load() = count %d size %d, want 1, 4096", got.FlashCount, got.ImageSize)
	}
}

func TestStore_MarkVerifiedIncrements(t *testing.T) {
	s, _ := newTestStore()

	for i := 1; i <= 5; i++ {
		rec, err := s.MarkVerified(uint32(i * 100))
		if err != nil {
			t.Fatalf("MarkVerified() #%d error = %v", i, err)
		}
		if rec.FlashCount != uint32(i) {
			t.Errorf("FlashCount after %d downloads = %d, want %d", i, rec.FlashCount, i)
		}
	}
}

func TestStore_FlashCountSaturates(t *testing.T) {
	s, dev := newTestStore()

	// Seed a record one increment away from saturation.
	seed := Record{
		Magic:      Magic,
		Version:    LayoutVersion,
		Auth:       AuthVerified,
		FlashCount: math.MaxUint32 - 1,
	}
	buf := make([]byte, RecordSize)
	seed.MarshalTo(buf)
	if err := dev.Seed(testFlagAddr, buf); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	rec, err := s.MarkVerified(16)
	if err != nil {
		t.Fatalf("MarkVerified() error = %v", err)
	}
	if rec.FlashCount != math.MaxUint32 {
		t.Fatalf("FlashCount = %d, want MaxUint32", rec.FlashCount)
	}

	// Saturated: another manifestation must not wrap.
	rec, err = s.MarkVerified(16)
	if err != nil {
		t.Fatalf("MarkVerified() at saturation error = %v", err)
	}
	if rec.FlashCount != math.MaxUint32 {
		t.Errorf("FlashCount after saturation = %d, want MaxUint32", rec.FlashCount)
	}
}

func TestStore_Invalidate(t *testing.T) {
	s, _ := newTestStore()

	if _, err := s.MarkVerified(2048); err != nil {
		t.Fatalf("MarkVerified() error = %v", err)
	}
	if err := s.Invalidate(); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}

	rec := s.Load()
	if !rec.Valid() {
		t.Fatal("Load() after Invalidate = uninitialized, want valid record")
	}
	if rec.Auth != AuthInvalid {
		t.Errorf("Auth = %v, want invalid", rec.Auth)
	}
	if rec.FlashCount != 1 || rec.ImageSize != 2048 {
		t.Errorf("count %d size %d, want preserved 1, 2048", rec.FlashCount, rec.ImageSize)
	}
}

func TestStore_CrashBetweenEraseAndProgram(t *testing.T) {
	s, dev := newTestStore()

	if _, err := s.MarkVerified(1024); err != nil {
		t.Fatalf("MarkVerified() error = %v", err)
	}

	// Power fails after the erase, before any program byte lands.
	dev.LimitProgram(0)
	if _, err := s.MarkVerified(1024); !errors.Is(err, pkg.ErrFlashOp) {
		t.Fatalf("MarkVerified() error = %v, want ErrFlashOp", err)
	}
	dev.LimitProgram(-1)

	rec := s.Load()
	if rec.Valid() {
		t.Errorf("Load() after torn write = %+v, want uninitialized", rec)
	}
	if rec.Auth == AuthVerified {
		t.Error("torn write loaded as verified")
	}
}

func TestStore_CrashMidProgram(t *testing.T) {
	// Cut the write at every byte count up to a full record; no cut may
	// yield a verified load with wrong payload, and cuts before the gate
	// must not yield verified at all.
	for limit := 0; limit < RecordSize; limit++ {
		s, dev := newTestStore()

		dev.LimitProgram(limit)
		_, err := s.MarkVerified(777)
		dev.LimitProgram(-1)

		rec := s.Load()
		switch {
		case err == nil:
			t.Fatalf("limit %d: MarkVerified() succeeded, want failure", limit)
		case rec.Auth == AuthVerified && limit < RecordSize-8+6:
			t.Errorf("limit %d: torn write loaded as verified", limit)
		case rec.Auth == AuthVerified && (rec.FlashCount != 1 || rec.ImageSize != 777):
			t.Errorf("limit %d: verified with torn payload: %+v", limit, rec)
		}
	}
}

func TestStore_EraseFailureSurfaces(t *testing.T) {
	s, dev := newTestStore()

	dev.FailNextErase(io.ErrUnexpectedEOF)
	if _, err := s.MarkVerified(64); !errors.Is(err, pkg.ErrFlashOp) {
		t.Fatalf("MarkVerified() error = %v, want ErrFlashOp", err)
	}
}

func TestStore_OneErasePerUpdate(t *testing.T) {
	s, dev := newTestStore()

	if _, err := s.MarkVerified(128); err != nil {
		t.Fatalf("MarkVerified() error = %v", err)
	}
	if err := s.Invalidate(); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}

	if got := dev.EraseCount(testFlagAddr); got != 2 {
		t.Errorf("EraseCount() = %d, want 2 (one per update)", got)
	}
}

package boot

import (
	"errors"
	"testing"

	"github.com/aika-io/dfuboot/flags"
	"github.com/aika-io/dfuboot/hal"
	"github.com/aika-io/dfuboot/hal/memflash"
)

type fakeLauncher struct {
	calls int
	err   error
}

func (l *fakeLauncher) Launch() error {
	l.calls++
	return l.err
}

func newBootStore(t *testing.T, verified bool) *flags.Store {
	t.Helper()
	geom := hal.Geometry{PageSize: 1024, ProgramUnit: 2}
	dev := memflash.New(0x08000000, 8*1024, geom)
	store := flags.NewStore(dev, 0x08001C00, geom)
	if verified {
		if _, err := store.MarkVerified(512); err != nil {
			t.Fatalf("MarkVerified() error = %v", err)
		}
	}
	return store
}

func TestRun_VerifiedImageLaunches(t *testing.T) {
	store := newBootStore(t, true)
	l := &fakeLauncher{}

	d, err := Run(store, nil, l)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if d != JumpToApplication {
		t.Errorf("Run() = %v, want jump-to-application", d)
	}
	if l.calls != 1 {
		t.Errorf("Launch() called %d times, want 1", l.calls)
	}
}

func TestRun_BlankFlashStaysInBootloader(t *testing.T) {
	store := newBootStore(t, false)
	l := &fakeLauncher{}

	d, err := Run(store, nil, l)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if d != EnterBootloader {
		t.Errorf("Run() = %v, want enter-bootloader", d)
	}
	if l.calls != 0 {
		t.Errorf("Launch() called %d times, want 0", l.calls)
	}
}

func TestRun_ForceSignalOverridesVerified(t *testing.T) {
	store := newBootStore(t, true)
	l := &fakeLauncher{}
	force := SignalFunc(func() bool { return true })

	d, err := Run(store, force, l)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if d != EnterBootloader {
		t.Errorf("Run() = %v, want enter-bootloader", d)
	}
	if l.calls != 0 {
		t.Errorf("Launch() called %d times, want 0", l.calls)
	}
}

func TestRun_RefusedLaunchDegrades(t *testing.T) {
	store := newBootStore(t, true)
	refusal := errors.New("vector table unsound")
	l := &fakeLauncher{err: refusal}

	d, err := Run(store, nil, l)
	if !errors.Is(err, refusal) {
		t.Fatalf("Run() error = %v, want wrapped refusal", err)
	}
	if d != EnterBootloader {
		t.Errorf("Run() = %v, want enter-bootloader", d)
	}
}

func TestRun_ScratchRequestConsumed(t *testing.T) {
	store := newBootStore(t, true)
	reg := &fakeScratch{}
	sig := NewScratchSignal(reg)
	sig.Request()

	d, err := Run(store, sig, &fakeLauncher{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if d != EnterBootloader {
		t.Errorf("first boot after Request = %v, want enter-bootloader", d)
	}

	// The request was one-shot: the next boot runs the application.
	d, err = Run(store, sig, &fakeLauncher{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if d != JumpToApplication {
		t.Errorf("second boot = %v, want jump-to-application", d)
	}
}

// Package gpiopin adapts periph.io GPIO pins to the bootloader's pin
// roles on hosts that have real pins: the force-bootloader input and the
// blink-count status LED.
package gpiopin

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/aika-io/dfuboot/boot"
	"github.com/aika-io/dfuboot/flags"
	"github.com/aika-io/dfuboot/pkg"
)

// ForcePin is a force-bootloader input backed by a GPIO, sampled once
// per boot.
type ForcePin struct {
	pin    gpio.PinIO
	active gpio.Level
}

var _ boot.Signal = (*ForcePin)(nil)

// NewForcePin wraps an already-configured input pin. active is the
// level that requests the bootloader.
func NewForcePin(pin gpio.PinIO, active gpio.Level) *ForcePin {
	return &ForcePin{pin: pin, active: active}
}

// ByName resolves a pin through the periph registry and configures it
// as an input pulled toward the inactive level.
func ByName(name string, activeHigh bool) (*ForcePin, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init gpio host: %w", err)
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("gpio %q not found", name)
	}
	active, pull := gpio.High, gpio.PullDown
	if !activeHigh {
		active, pull = gpio.Low, gpio.PullUp
	}
	if err := pin.In(pull, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("configure %s: %w", name, err)
	}
	return NewForcePin(pin, active), nil
}

// ForceBootloader implements boot.Signal.
func (f *ForcePin) ForceBootloader() bool {
	asserted := f.pin.Read() == f.active
	if asserted {
		pkg.LogInfo(pkg.ComponentBoot, "force pin asserted", "pin", f.pin.Name())
	}
	return asserted
}

// Blink timing.
const (
	blinkOn    = 120 * time.Millisecond
	blinkOff   = 180 * time.Millisecond
	blinkPause = 900 * time.Millisecond
)

// StatusLED repeats a blink count on a pin: N flashes, a pause, again.
// The count can change while running; the new value takes effect at the
// next cycle.
type StatusLED struct {
	pin gpio.PinOut

	mu    sync.Mutex
	count int

	quit chan struct{}
	done chan struct{}
	once sync.Once
}

// NewStatusLED starts blinking count flashes per cycle on pin.
func NewStatusLED(pin gpio.PinOut, count int) *StatusLED {
	l := &StatusLED{
		pin:   pin,
		count: count,
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go l.run()
	return l
}

// Count returns the current blink count.
func (l *StatusLED) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// SetCount changes the blink count starting with the next cycle.
func (l *StatusLED) SetCount(n int) {
	l.mu.Lock()
	l.count = n
	l.mu.Unlock()
}

// Stop ends the blink loop and leaves the pin low.
func (l *StatusLED) Stop() {
	l.once.Do(func() {
		close(l.quit)
		<-l.done
		if err := l.pin.Out(gpio.Low); err != nil {
			pkg.LogWarn(pkg.ComponentBoot, "status led off failed", "error", err)
		}
	})
}

func (l *StatusLED) run() {
	defer close(l.done)
	for {
		n := l.Count()
		for i := 0; i < n; i++ {
			if !l.hold(gpio.High, blinkOn) {
				return
			}
			if !l.hold(gpio.Low, blinkOff) {
				return
			}
		}
		if !l.sleep(blinkPause) {
			return
		}
	}
}

func (l *StatusLED) hold(level gpio.Level, d time.Duration) bool {
	if err := l.pin.Out(level); err != nil {
		pkg.LogWarn(pkg.ComponentBoot, "status led write failed", "error", err)
	}
	return l.sleep(d)
}

func (l *StatusLED) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-l.quit:
		return false
	case <-t.C:
		return true
	}
}

// BlinkCount maps a boot flags record onto the indicator convention:
// four blinks with a verified image resident, two otherwise.
func BlinkCount(rec flags.Record) int {
	if rec.Valid() && rec.Auth == flags.AuthVerified {
		return 4
	}
	return 2
}

// Package serialdbg mirrors bootloader logs onto a UART debug port.
//
// The Sink is a fire-and-forget io.Writer: the logging path queues bytes
// and moves on, a single goroutine drains the queue to the port, and
// writes that find the queue full are dropped and counted. Wiring a Sink
// into pkg.SetLogOutput turns the port into the debug console without
// ever letting a slow or wedged UART stall the bootloader.
package serialdbg

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/aika-io/dfuboot/pkg"
)

// queueDepth bounds the pending write queue. At 115200 baud a full
// queue of typical log lines drains in well under a second.
const queueDepth = 256

// Sink is a non-blocking writer over a serial port.
type Sink struct {
	port  io.WriteCloser
	queue chan []byte
	quit  chan struct{}
	done  chan struct{}

	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// Open opens the named serial port at baud and starts the drain
// goroutine.
func Open(portName string, baud int) (*Sink, error) {
	port, err := serial.Open(portName, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", portName, err)
	}
	s := NewSink(port)
	pkg.LogInfo(pkg.ComponentSerial, "debug port open", "port", portName, "baud", baud)
	return s, nil
}

// NewSink wraps an already-open port.
func NewSink(w io.WriteCloser) *Sink {
	s := &Sink{
		port:  w,
		queue: make(chan []byte, queueDepth),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go s.drain()
	return s
}

// Write implements io.Writer. It copies p, queues it, and returns
// immediately; when the queue is full or the sink is closed the write is
// dropped and counted. The returned length is always len(p) so the
// logging handler never sees a short write.
func (s *Sink) Write(p []byte) (int, error) {
	if s.closed.Load() {
		s.dropped.Add(1)
		return len(p), nil
	}
	buf := append([]byte(nil), p...)
	select {
	case s.queue <- buf:
	default:
		s.dropped.Add(1)
	}
	return len(p), nil
}

// Dropped returns the number of writes discarded, whether for a full
// queue, a closed sink, or a port write failure.
func (s *Sink) Dropped() uint64 {
	return s.dropped.Load()
}

// Close flushes queued writes, stops the drain goroutine, and closes the
// port.
func (s *Sink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.quit)
		<-s.done
		err = s.port.Close()
	})
	return err
}

func (s *Sink) drain() {
	defer close(s.done)
	for {
		select {
		case buf := <-s.queue:
			s.write(buf)
		case <-s.quit:
			for {
				select {
				case buf := <-s.queue:
					s.write(buf)
				default:
					return
				}
			}
		}
	}
}

func (s *Sink) write(buf []byte) {
	if _, err := s.port.Write(buf); err != nil {
		s.dropped.Add(1)
	}
}

// PortInfo describes a candidate debug port.
type PortInfo struct {
	Name         string
	USB          bool
	VID          string
	PID          string
	Product      string
	SerialNumber string
}

// String returns a one-line listing entry.
func (p PortInfo) String() string {
	if !p.USB {
		return p.Name
	}
	return fmt.Sprintf("%s  %s:%s  %s", p.Name, p.VID, p.PID, p.Product)
}

// List enumerates serial ports, with USB identity details where the
// platform provides them.
func List() ([]PortInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate ports: %w", err)
	}
	infos := make([]PortInfo, 0, len(ports))
	for _, p := range ports {
		infos = append(infos, PortInfo{
			Name:         p.Name,
			USB:          p.IsUSB,
			VID:          p.VID,
			PID:          p.PID,
			Product:      p.Product,
			SerialNumber: p.SerialNumber,
		})
	}
	return infos, nil
}

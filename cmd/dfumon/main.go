// Package main provides dfumon, a line-oriented monitor for the serial
// debug output of a device.
//
// Usage:
//
//	dfumon -port /dev/ttyUSB0 [options]
//
// Options:
//
//	-list        List candidate serial ports and exit
//	-port name   Serial port to open
//	-baud n      Baud rate (default 115200)
//	-json        Use JSON log format
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"go.bug.st/serial"

	"github.com/aika-io/dfuboot/pkg"
	"github.com/aika-io/dfuboot/serialdbg"
)

// component identifies this executable for structured logging.
const component = pkg.ComponentSerial

func main() {
	list := flag.Bool("list", false, "list candidate serial ports and exit")
	portName := flag.String("port", "", "serial port to open")
	baud := flag.Int("baud", 115200, "baud rate")
	jsonLog := flag.Bool("json", false, "use JSON log format")
	flag.Parse()

	pkg.SetLogLevel(slog.LevelInfo)
	if *jsonLog {
		pkg.SetLogFormat(pkg.LogFormatJSON)
	}

	if *list {
		if err := listPorts(); err != nil {
			pkg.LogError(component, "port listing failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if *portName == "" {
		pkg.LogError(component, "missing port",
			"usage", "dfumon -port <name> [-baud n]")
		os.Exit(1)
	}

	port, err := serial.Open(*portName, &serial.Mode{BaudRate: *baud})
	if err != nil {
		pkg.LogError(component, "failed to open port",
			"port", *portName, "baud", *baud, "error", err)
		os.Exit(1)
	}

	// Closing the port from the signal handler unblocks the read loop.
	var closing atomic.Bool
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		closing.Store(true)
		port.Close()
	}()

	pkg.LogInfo(component, "monitoring", "port", *portName, "baud", *baud)

	sc := bufio.NewScanner(port)
	sc.Buffer(make([]byte, 4096), 64*1024)
	for sc.Scan() {
		fmt.Println(sc.Text())
	}
	if err := sc.Err(); err != nil && !closing.Load() && !errors.Is(err, io.EOF) {
		pkg.LogError(component, "read failed", "port", *portName, "error", err)
		os.Exit(1)
	}
}

func listPorts() error {
	ports, err := serialdbg.List()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("no serial ports found")
		return nil
	}
	for _, p := range ports {
		fmt.Println(p)
	}
	return nil
}

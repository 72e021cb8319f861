// Package main provides dfuflash, a firmware flasher for USB DFU devices.
//
// It downloads an Intel HEX or raw binary image to a device exposing a
// DFU interface, polling status between blocks and waiting through
// manifestation.
//
// Usage:
//
//	dfuflash [options] firmware.{hex,bin}
//
// Options:
//
//	-list            List connected DFU devices and exit
//	-vid hex         Vendor ID to match (default: reference profile)
//	-pid hex         Product ID to match (default: reference profile)
//	-transfer n      Transfer size per DNLOAD block
//	-detach          Send DFU_DETACH first (device is in runtime mode)
//	-v               Enable verbose (debug) logging
//	-json            Use JSON log format
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/aika-io/dfuboot/config"
	"github.com/aika-io/dfuboot/firmware"
	"github.com/aika-io/dfuboot/host"
	"github.com/aika-io/dfuboot/pkg"
)

// component identifies this executable for structured logging.
const component = pkg.ComponentHost

// detachTimeout is the wTimeout handed to DFU_DETACH, after which the
// runtime stack gives up waiting for the reset.
const detachTimeout = 255 * time.Millisecond

func main() {
	def := config.Default()

	list := flag.Bool("list", false, "list connected DFU devices and exit")
	vidStr := flag.String("vid", fmt.Sprintf("%04x", def.USB.VendorID), "vendor ID to match")
	pidStr := flag.String("pid", fmt.Sprintf("%04x", def.USB.ProductID), "product ID to match")
	transfer := flag.Int("transfer", int(def.DFU.TransferSize), "transfer size per DNLOAD block")
	detach := flag.Bool("detach", false, "send DFU_DETACH first (device is in runtime mode)")
	verbose := flag.Bool("v", false, "enable verbose (debug) logging")
	jsonLog := flag.Bool("json", false, "use JSON log format")
	flag.Parse()

	pkg.SetLogLevel(slog.LevelInfo)
	if *verbose {
		pkg.SetLogLevel(slog.LevelDebug)
	}
	if *jsonLog {
		pkg.SetLogFormat(pkg.LogFormatJSON)
	}

	vid, err := parseID(*vidStr)
	if err != nil {
		pkg.LogError(component, "bad vendor ID", "vid", *vidStr, "error", err)
		os.Exit(1)
	}
	pid, err := parseID(*pidStr)
	if err != nil {
		pkg.LogError(component, "bad product ID", "pid", *pidStr, "error", err)
		os.Exit(1)
	}

	if *list {
		if err := listDevices(vid, pid); err != nil {
			pkg.LogError(component, "device listing failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if flag.NArg() < 1 {
		pkg.LogError(component, "missing firmware file argument",
			"usage", "dfuflash [options] <firmware.hex|firmware.bin>")
		os.Exit(1)
	}

	img, err := firmware.Load(flag.Arg(0))
	if err != nil {
		pkg.LogError(component, "failed to load firmware", "path", flag.Arg(0), "error", err)
		os.Exit(1)
	}
	pkg.LogInfo(component, "loaded firmware image", "path", flag.Arg(0), "image", img.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		pkg.LogInfo(component, "interrupted")
		cancel()
	}()

	if err := run(ctx, vid, pid, img, *transfer, *detach); err != nil {
		pkg.LogError(component, "flash failed", "error", err)
		os.Exit(1)
	}
	pkg.LogInfo(component, "flash complete", "bytes", len(img.Data))
}

func run(ctx context.Context, vid, pid uint16, img firmware.Image, transfer int, detach bool) error {
	t, err := host.OpenUSB(vid, pid)
	if err != nil {
		return err
	}
	defer t.Close()

	if detach {
		t, err = detachToDFU(t, vid, pid)
		if err != nil {
			return err
		}
		defer t.Close()
	}

	c := host.NewClient(t)
	return c.DownloadImage(ctx, img.Data,
		host.WithTransferSize(transfer),
		host.WithProgress(printProgress),
	)
}

// detachToDFU asks a runtime-mode device to re-enumerate in DFU mode and
// reopens it. The original transport is consumed.
func detachToDFU(t *host.USBTransport, vid, pid uint16) (*host.USBTransport, error) {
	c := host.NewClient(t)
	if err := c.Detach(detachTimeout); err != nil {
		t.Close()
		return nil, fmt.Errorf("detach: %w", err)
	}
	if err := t.Reset(); err != nil {
		pkg.LogDebug(component, "reset after detach", "error", err)
	}
	t.Close()

	pkg.LogInfo(component, "waiting for device to re-enumerate")
	time.Sleep(2 * time.Second)

	nt, err := host.OpenUSB(vid, pid)
	if err != nil {
		return nil, fmt.Errorf("reopen after detach: %w", err)
	}
	return nt, nil
}

func listDevices(vid, pid uint16) error {
	infos, err := host.ListUSB(vid, pid)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Println("no DFU devices found")
		return nil
	}
	for _, info := range infos {
		fmt.Println(info)
	}
	return nil
}

func printProgress(sent, total int) {
	pct := 100
	if total > 0 {
		pct = sent * 100 / total
	}
	fmt.Fprintf(os.Stderr, "\r%3d%% (%d/%d bytes)", pct, sent, total)
	if sent >= total {
		fmt.Fprintln(os.Stderr)
	}
}

// parseID reads a 16-bit hex identifier, with or without a 0x prefix.
func parseID(s string) (uint16, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}

package host

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aika-io/dfuboot/dfu"
	"github.com/aika-io/dfuboot/pkg"
)

// Status is the decoded DFU_GETSTATUS report.
type Status struct {
	Code        dfu.Status    // Reported status code
	PollTimeout time.Duration // Minimum wait before the next GETSTATUS
	State       dfu.State     // Post-transition device state
}

// StatusError is returned when the device parks in dfuERROR during a
// download. The client has already issued DFU_CLRSTATUS by the time it
// returns one.
type StatusError struct {
	Code  dfu.Status
	State dfu.State
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("device reported %s: %s", e.Code, e.Code.Description())
}

// Client drives a DFU device over a ControlTransport.
type Client struct {
	t ControlTransport
}

// NewClient returns a client speaking to the device behind t.
func NewClient(t ControlTransport) *Client {
	return &Client{t: t}
}

// GetStatus issues DFU_GETSTATUS and decodes the 6-byte report.
func (c *Client) GetStatus() (Status, error) {
	var buf [dfu.StatusResponseSize]byte
	n, err := c.t.ControlIn(uint8(dfu.RequestGetStatus), 0, buf[:])
	if err != nil {
		return Status{}, fmt.Errorf("GETSTATUS: %w", err)
	}
	var resp dfu.StatusResponse
	if err := dfu.ParseStatusResponse(buf[:n], &resp); err != nil {
		return Status{}, fmt.Errorf("GETSTATUS: %w", err)
	}
	return Status{Code: resp.Code, PollTimeout: resp.PollTimeout, State: resp.State}, nil
}

// GetState issues DFU_GETSTATE and returns the device state byte.
// Unlike GETSTATUS it causes no state transition on the device.
func (c *Client) GetState() (dfu.State, error) {
	var buf [1]byte
	n, err := c.t.ControlIn(uint8(dfu.RequestGetState), 0, buf[:])
	if err != nil {
		return 0, fmt.Errorf("GETSTATE: %w", err)
	}
	if n < 1 {
		return 0, fmt.Errorf("GETSTATE: empty response")
	}
	return dfu.State(buf[0]), nil
}

// ClrStatus issues DFU_CLRSTATUS, returning an errored device to dfuIDLE.
func (c *Client) ClrStatus() error {
	if err := c.t.ControlOut(uint8(dfu.RequestClrStatus), 0, nil); err != nil {
		return fmt.Errorf("CLRSTATUS: %w", err)
	}
	return nil
}

// Abort issues DFU_ABORT, discarding any download in progress.
func (c *Client) Abort() error {
	if err := c.t.ControlOut(uint8(dfu.RequestAbort), 0, nil); err != nil {
		return fmt.Errorf("ABORT: %w", err)
	}
	return nil
}

// Detach issues DFU_DETACH to a device running in application mode. The
// bootloader refuses it; it exists for run-time descriptors that
// advertise detach support.
func (c *Client) Detach(timeout time.Duration) error {
	ms := timeout.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	if ms > 0xFFFF {
		ms = 0xFFFF
	}
	if err := c.t.ControlOut(uint8(dfu.RequestDetach), uint16(ms), nil); err != nil {
		return fmt.Errorf("DETACH: %w", err)
	}
	return nil
}

// Download sends one DFU_DNLOAD block. An empty p is the end-of-image
// terminator that starts manifestation.
func (c *Client) Download(block uint16, p []byte) error {
	if err := c.t.ControlOut(uint8(dfu.RequestDownload), block, p); err != nil {
		return fmt.Errorf("DNLOAD block %d: %w", block, err)
	}
	return nil
}

// Reset issues a bus reset, restarting the device's session.
func (c *Client) Reset() error {
	return c.t.Reset()
}

// DownloadOption configures a DownloadImage run.
type DownloadOption func(*downloadConfig)

type downloadConfig struct {
	transferSize int
	progress     func(sent, total int)
}

// WithTransferSize sets the block size, which must not exceed the
// wTransferSize the device advertises. The default is 256.
func WithTransferSize(n int) DownloadOption {
	return func(cfg *downloadConfig) {
		if n > 0 {
			cfg.transferSize = n
		}
	}
}

// WithProgress registers a callback invoked after every accepted block.
func WithProgress(fn func(sent, total int)) DownloadOption {
	return func(cfg *downloadConfig) {
		cfg.progress = fn
	}
}

// DownloadImage transfers a complete firmware image and drives
// manifestation to the end. It returns once the device reports
// dfuMANIFEST-WAIT-RESET (or has already reset itself off the bus); the
// caller decides whether to issue the final bus reset.
func (c *Client) DownloadImage(ctx context.Context, data []byte, opts ...DownloadOption) error {
	cfg := downloadConfig{transferSize: dfu.DefaultTransferSize}
	for _, o := range opts {
		o(&cfg)
	}

	if len(data) == 0 {
		return pkg.ErrImageEmpty
	}
	if err := c.ensureIdle(); err != nil {
		return err
	}

	total := len(data)
	pkg.LogInfo(pkg.ComponentHost, "downloading image",
		"bytes", total,
		"transfer_size", cfg.transferSize)

	sent := 0
	block := uint16(0)
	for sent < total {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := total - sent
		if n > cfg.transferSize {
			n = cfg.transferSize
		}
		if err := c.Download(block, data[sent:sent+n]); err != nil {
			return c.explainStall(err)
		}
		if err := c.waitBlockDone(ctx); err != nil {
			return err
		}
		sent += n
		block++
		pkg.LogDebug(pkg.ComponentHost, "block accepted", "block", block-1, "sent", sent)
		if cfg.progress != nil {
			cfg.progress(sent, total)
		}
	}

	if err := c.Download(block, nil); err != nil {
		return c.explainStall(err)
	}
	if err := c.waitManifested(ctx); err != nil {
		return err
	}

	pkg.LogInfo(pkg.ComponentHost, "download complete", "bytes", total, "blocks", block)
	return nil
}

// ensureIdle brings the device to dfuIDLE: an errored device is cleared,
// one holding a committed image is reset, a mid-transfer one is aborted.
func (c *Client) ensureIdle() error {
	state, err := c.GetState()
	if err != nil {
		return err
	}
	switch state {
	case dfu.StateIdle:
		return nil
	case dfu.StateError:
		pkg.LogDebug(pkg.ComponentHost, "clearing device error before download")
		return c.ClrStatus()
	case dfu.StateManifestWaitReset:
		pkg.LogDebug(pkg.ComponentHost, "resetting manifested device before download")
		return c.Reset()
	default:
		pkg.LogDebug(pkg.ComponentHost, "aborting stale transfer before download", "state", state)
		return c.Abort()
	}
}

// explainStall trades a stalled DNLOAD for the status code behind it.
// The device parks in dfuERROR when it stalls a request, so a follow-up
// GETSTATUS names the reason; anything else returns the original error.
func (c *Client) explainStall(err error) error {
	if !errors.Is(err, pkg.ErrStall) {
		return err
	}
	st, gerr := c.GetStatus()
	if gerr != nil || st.State != dfu.StateError {
		return err
	}
	return c.clearAndReport(st)
}

// waitBlockDone polls GETSTATUS until the device leaves dfuDNBUSY.
func (c *Client) waitBlockDone(ctx context.Context) error {
	for {
		st, err := c.GetStatus()
		if err != nil {
			return err
		}
		switch st.State {
		case dfu.StateError:
			return c.clearAndReport(st)
		case dfu.StateDownloadBusy:
			if err := sleepCtx(ctx, st.PollTimeout); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// waitManifested polls GETSTATUS until the device reports
// dfuMANIFEST-WAIT-RESET. Transports that report the device gone are
// treated as success: a manifestation-intolerant device may reset itself
// as soon as the report is acknowledged.
func (c *Client) waitManifested(ctx context.Context) error {
	for {
		st, err := c.GetStatus()
		if err != nil {
			if errors.Is(err, pkg.ErrDisconnected) || errors.Is(err, pkg.ErrNoDevice) {
				pkg.LogDebug(pkg.ComponentHost, "device left the bus after manifestation")
				return nil
			}
			return err
		}
		switch st.State {
		case dfu.StateManifestWaitReset:
			return nil
		case dfu.StateManifestSync, dfu.StateManifest:
			if err := sleepCtx(ctx, st.PollTimeout); err != nil {
				return err
			}
		case dfu.StateError:
			return c.clearAndReport(st)
		default:
			return fmt.Errorf("unexpected state %s after manifestation", st.State)
		}
	}
}

// clearAndReport recovers the device from dfuERROR and surfaces the
// reported code as a StatusError.
func (c *Client) clearAndReport(st Status) error {
	if err := c.ClrStatus(); err != nil {
		pkg.LogWarn(pkg.ComponentHost, "CLRSTATUS after device error failed", "error", err)
	}
	return &StatusError{Code: st.Code, State: st.State}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

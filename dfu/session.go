package dfu

import (
	"errors"
	"time"

	"github.com/aika-io/dfuboot/flags"
	"github.com/aika-io/dfuboot/hal"
	"github.com/aika-io/dfuboot/pkg"
)

// Default session parameters, matching the reference device profile.
const (
	DefaultTransferSize = 256                    // wTransferSize
	DefaultBusyPoll     = 500 * time.Millisecond // dfuDNBUSY poll interval
	DefaultManifestPoll = 500 * time.Millisecond // dfuMANIFEST poll interval
)

// Deferred flash work executed by ProcessFlash.
type workKind uint8

const (
	workNone     workKind = iota
	workBlock             // program the queued download block
	workManifest          // flush the image and commit the metadata record
)

// Session is the device-side DFU protocol state machine.
//
// It implements hal.Handler: a transport adapter delivers bus events from
// one goroutine, strictly in order, and calls ProcessFlash after each
// event. Replies go out through the hal.ControlPort. The session holds no
// locks and must not be driven concurrently.
type Session struct {
	writer *ImageWriter
	store  *flags.Store
	port   hal.ControlPort

	state  State
	status Status

	// Parked OUT request awaiting its data stage.
	pending    hal.SetupPacket
	hasPending bool

	// Deferred flash work and its block payload.
	work        workKind
	blockData   []byte
	busyTimeout time.Duration

	expectedBlock uint16
	received      uint32

	transferSize uint16
	busyPoll     time.Duration
	manifestPoll time.Duration

	resetter       hal.Resetter
	resetScheduled bool // manifestation committed, reset pending
	armReset       bool // fire the reset when the current response completes

	onStateChange func(old, new State)
}

var _ hal.Handler = (*Session)(nil)

// NewSession returns an idle session that streams downloads through w and
// commits the metadata record through store.
func NewSession(w *ImageWriter, store *flags.Store, port hal.ControlPort) *Session {
	return &Session{
		writer:       w,
		store:        store,
		port:         port,
		state:        StateIdle,
		status:       StatusOK,
		blockData:    make([]byte, 0, DefaultTransferSize),
		transferSize: DefaultTransferSize,
		busyPoll:     DefaultBusyPoll,
		manifestPoll: DefaultManifestPoll,
	}
}

// SetTransferSize sets the largest DNLOAD block the session accepts. It
// must match the wTransferSize advertised in the functional descriptor.
func (s *Session) SetTransferSize(n uint16) {
	s.transferSize = n
	s.blockData = make([]byte, 0, n)
}

// SetPollTimeouts sets the fallback poll intervals reported while a block
// program or the manifestation is pending. The block interval is only
// used when the flash geometry carries no latency figures.
func (s *Session) SetPollTimeouts(busy, manifest time.Duration) {
	s.busyPoll = busy
	s.manifestPoll = manifest
}

// SetResetter sets the system reset hook fired after manifestation.
func (s *Session) SetResetter(r hal.Resetter) {
	s.resetter = r
}

// SetOnStateChange registers a callback invoked on every state
// transition, from the event goroutine.
func (s *Session) SetOnStateChange(fn func(old, new State)) {
	s.onStateChange = fn
}

// State returns the current protocol state.
func (s *Session) State() State {
	return s.state
}

// Status returns the status code reported by DFU_GETSTATUS.
func (s *Session) Status() Status {
	return s.status
}

// Received returns the number of image bytes accepted so far.
func (s *Session) Received() uint32 {
	return s.received
}

// HandleBusReset discards all progress and returns to dfuIDLE.
func (s *Session) HandleBusReset() {
	pkg.LogInfo(pkg.ComponentDFU, "bus reset")
	s.resetProgress()
	s.resetScheduled = false
	s.armReset = false
	s.setState(StateIdle)
}

// HandleSetup dispatches a class request. OUT requests with a data stage
// are parked until HandleData delivers the payload.
func (s *Session) HandleSetup(setup hal.SetupPacket) {
	if !setup.IsClass() {
		pkg.LogDebug(pkg.ComponentDFU, "ignoring non-class setup", "setup", setup.String())
		s.port.StallEndpoint()
		return
	}
	if setup.IsHostToDevice() && setup.Length > 0 {
		s.pending = setup
		s.hasPending = true
		return
	}
	s.dispatch(setup, nil)
}

// HandleData completes the parked OUT request with its payload.
func (s *Session) HandleData(data []byte) {
	if !s.hasPending {
		pkg.LogWarn(pkg.ComponentDFU, "data stage with no parked request", "len", len(data))
		s.port.StallEndpoint()
		return
	}
	setup := s.pending
	s.hasPending = false
	s.dispatch(setup, data)
}

// HandleTransferComplete fires the scheduled reset once the response that
// reported dfuMANIFEST-WAIT-RESET has reached the bus.
func (s *Session) HandleTransferComplete() {
	if !s.armReset {
		return
	}
	s.armReset = false
	pkg.LogInfo(pkg.ComponentDFU, "manifestation acknowledged, requesting reset")
	if s.resetter != nil {
		s.resetter.Reset()
	}
}

// ProcessFlash executes the deferred flash step queued by the last event.
// Transport adapters must call it after every delivered event.
func (s *Session) ProcessFlash() {
	switch s.work {
	case workBlock:
		s.work = workNone
		s.completeBlock()
	case workManifest:
		s.work = workNone
		s.completeManifest()
	}
}

func (s *Session) dispatch(setup hal.SetupPacket, data []byte) {
	req := Request(setup.Request)
	pkg.LogDebug(pkg.ComponentDFU, "class request",
		"request", req,
		"state", s.state,
		"value", setup.Value,
		"len", len(data))

	switch req {
	case RequestDownload:
		s.download(setup, data)
	case RequestGetStatus:
		s.getStatus()
	case RequestGetState:
		s.getState()
	case RequestClrStatus:
		s.clrStatus()
	case RequestAbort:
		s.abort()
	case RequestUpload, RequestDetach:
		s.reject(StatusErrStalledPkt, "request not supported", "request", req)
	default:
		s.reject(StatusErrStalledPkt, "unknown request", "request", uint8(setup.Request))
	}
}

// download handles DFU_DNLOAD: a data block extends the image, a
// zero-length block ends it and queues manifestation.
func (s *Session) download(setup hal.SetupPacket, data []byte) {
	switch s.state {
	case StateIdle, StateDownloadSync, StateDownloadIdle:
	default:
		s.reject(StatusErrStalledPkt, "DNLOAD not valid here", "state", s.state)
		return
	}

	if len(data) == 0 {
		s.work = workManifest
		s.setState(StateManifestSync)
		s.ack()
		return
	}

	if setup.Value != s.expectedBlock {
		s.reject(StatusErrStalledPkt, "block out of sequence",
			"got", setup.Value, "want", s.expectedBlock)
		return
	}
	if len(data) > int(s.transferSize) {
		s.reject(StatusErrStalledPkt, "block exceeds transfer size",
			"len", len(data), "max", s.transferSize)
		return
	}
	if uint32(len(data)) > s.writer.Capacity()-s.received {
		s.reject(StatusErrAddress, "image exceeds application region",
			"received", s.received, "len", len(data), "capacity", s.writer.Capacity())
		return
	}

	s.blockData = append(s.blockData[:0], data...)
	s.work = workBlock
	s.busyTimeout = s.writer.Estimate(len(data))
	if s.busyTimeout == 0 {
		s.busyTimeout = s.busyPoll
	}
	s.setState(StateDownloadBusy)
	s.ack()
}

// getStatus answers DFU_GETSTATUS. Pending flash work is reported as
// still busy; a completed block rests the session in dfuDNLOAD-IDLE. The
// state byte reflects the post-transition state.
func (s *Session) getStatus() {
	resp := StatusResponse{Code: s.status, State: s.state}

	switch {
	case s.work == workBlock:
		resp.State = StateDownloadBusy
		resp.PollTimeout = s.busyTimeout
	case s.work == workManifest:
		resp.State = StateManifest
		resp.PollTimeout = s.manifestPoll
	case s.state == StateDownloadSync:
		s.setState(StateDownloadIdle)
		resp.State = StateDownloadIdle
	}

	var buf [StatusResponseSize]byte
	resp.MarshalTo(buf[:])
	s.send(buf[:])
}

// getState answers DFU_GETSTATE with the current state byte.
func (s *Session) getState() {
	var buf [1]byte
	buf[0] = uint8(s.state)
	s.send(buf[:])
}

// clrStatus handles DFU_CLRSTATUS, valid only in dfuERROR.
func (s *Session) clrStatus() {
	if s.state != StateError {
		s.reject(StatusErrStalledPkt, "CLRSTATUS outside dfuERROR", "state", s.state)
		return
	}
	s.resetProgress()
	s.setState(StateIdle)
	s.ack()
}

// abort handles DFU_ABORT: any download progress is discarded and the
// session returns to dfuIDLE. Once manifestation has begun there is
// nothing left to abandon and the request is refused.
func (s *Session) abort() {
	switch s.state {
	case StateIdle, StateDownloadBusy, StateDownloadSync, StateDownloadIdle, StateManifestSync:
		s.resetProgress()
		s.setState(StateIdle)
		s.ack()
	default:
		s.reject(StatusErrStalledPkt, "ABORT not valid here", "state", s.state)
	}
}

// completeBlock programs the queued block through the image writer.
func (s *Session) completeBlock() {
	if err := s.writer.Write(s.received, s.blockData); err != nil {
		code := StatusErrWrite
		var we *WriteError
		switch {
		case errors.As(err, &we) && we.Op == OpErase:
			code = StatusErrErase
		case errors.As(err, &we):
			code = StatusErrWrite
		case errors.Is(err, pkg.ErrImageTooLarge):
			code = StatusErrAddress
		case errors.Is(err, pkg.ErrWriteSequence):
			code = StatusErrStalledPkt
		}
		pkg.LogError(pkg.ComponentDFU, "block program failed",
			"block", s.expectedBlock, "error", err)
		s.fail(code)
		return
	}

	s.received += uint32(len(s.blockData))
	s.expectedBlock++
	s.setState(StateDownloadSync)
}

// completeManifest flushes the image and commits the metadata record.
func (s *Session) completeManifest() {
	s.setState(StateManifest)

	if err := s.writer.Flush(); err != nil {
		pkg.LogError(pkg.ComponentDFU, "image flush failed", "error", err)
		s.fail(StatusErrVerify)
		return
	}

	total := s.writer.Total()
	if total == 0 {
		pkg.LogWarn(pkg.ComponentDFU, "manifestation with no image data")
		s.fail(StatusErrNotDone)
		return
	}

	rec, err := s.store.MarkVerified(total)
	if err != nil {
		pkg.LogError(pkg.ComponentDFU, "metadata commit failed", "error", err)
		s.fail(StatusErrVerify)
		return
	}

	pkg.LogInfo(pkg.ComponentDFU, "image manifested",
		"bytes", total, "flash_count", rec.FlashCount)
	s.resetScheduled = true
	s.setState(StateManifestWaitReset)
}

// fail records a flash failure discovered by deferred work. There is no
// transfer to stall; the host learns the code from its next GETSTATUS.
func (s *Session) fail(code Status) {
	s.work = workNone
	s.hasPending = false
	s.status = code
	s.setState(StateError)
}

// reject stalls an invalid request. In dfuMANIFEST-WAIT-RESET the
// metadata is already committed and the state is preserved; in dfuERROR
// the first reported status is kept. Everywhere else the session parks in
// dfuERROR with the given code.
func (s *Session) reject(code Status, msg string, kv ...any) {
	pkg.LogWarn(pkg.ComponentDFU, msg, append(kv, "status", code)...)
	s.port.StallEndpoint()

	switch s.state {
	case StateManifestWaitReset, StateError:
		return
	}
	s.work = workNone
	s.hasPending = false
	s.status = code
	s.setState(StateError)
}

// send completes the transfer, arming the post-manifestation reset when
// the response reports dfuMANIFEST-WAIT-RESET.
func (s *Session) send(data []byte) {
	if err := s.port.SendStatus(data); err != nil {
		pkg.LogWarn(pkg.ComponentDFU, "response not delivered", "error", err)
		return
	}
	if s.state == StateManifestWaitReset && s.resetScheduled {
		s.resetScheduled = false
		s.armReset = true
	}
}

func (s *Session) ack() {
	s.send(nil)
}

// resetProgress returns the session to a clean dfuIDLE footing: status
// OK, writer rewound, counters zeroed, queued work discarded. Flash pages
// already programmed are left untouched.
func (s *Session) resetProgress() {
	s.status = StatusOK
	s.work = workNone
	s.hasPending = false
	s.blockData = s.blockData[:0]
	s.expectedBlock = 0
	s.received = 0
	s.writer.Reset()
}

func (s *Session) setState(next State) {
	if next == s.state {
		return
	}
	old := s.state
	s.state = next
	pkg.LogDebug(pkg.ComponentDFU, "state transition", "from", old, "to", next)
	if s.onStateChange != nil {
		s.onStateChange(old, next)
	}
}

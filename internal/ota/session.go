// Package ota drives a firmware upload: start handshake, raw transfer,
// finish handshake and reboot confirmation.
package ota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/vitaminmoo/bluelocate/internal/config"
	"github.com/vitaminmoo/bluelocate/internal/firmware"
	"github.com/vitaminmoo/bluelocate/internal/protocol"
	"github.com/vitaminmoo/bluelocate/internal/transfer"
	"github.com/vitaminmoo/bluelocate/internal/transport"
)

// WarnNoFinalConfirmation is the warning of an upload whose finish wait timed out.
const WarnNoFinalConfirmation = "no final confirmation"

// Endpoints are the three characteristics of the OTA service.
type Endpoints struct {
	Start   transport.Endpoint // command frames, acknowledged writes
	Confirm transport.Endpoint // status notifications
	RawData transport.Endpoint // firmware bytes, write-without-response
}

// Config tunes one upload.
type Config struct {
	BaseAddress     uint32
	ChunkSize       int
	ChunkDelay      time.Duration
	Attempts        int
	Backoff         time.Duration
	ConfirmTimeout  time.Duration
	SendSectorCount bool
}

// DefaultConfig matches the stock device firmware.
func DefaultConfig() Config {
	return Config{
		ChunkSize:       config.DefaultOTAChunkSize,
		ChunkDelay:      config.DefaultOTAChunkDelayMs * time.Millisecond,
		Attempts:        config.DefaultOTAAttempts,
		Backoff:         config.DefaultOTABackoffMs * time.Millisecond,
		ConfirmTimeout:  config.DefaultOTAConfirmTimeoutMs * time.Millisecond,
		SendSectorCount: true,
	}
}

// FromSettings builds the upload config and endpoints from normalized settings.
func FromSettings(s config.OTASettings) (Config, Endpoints) {
	cfg := Config{
		BaseAddress:     s.BaseAddress,
		ChunkSize:       s.ChunkSize,
		ChunkDelay:      s.ChunkDelay(),
		Attempts:        s.Attempts,
		Backoff:         s.Backoff(),
		ConfirmTimeout:  s.ConfirmTimeout(),
		SendSectorCount: s.SendSectorCount(),
	}
	eps := Endpoints{
		Start:   transport.NewEndpoint(s.Service, s.Start),
		Confirm: transport.NewEndpoint(s.Service, s.Confirm),
		RawData: transport.NewEndpoint(s.Service, s.RawData),
	}
	return cfg, eps
}

// Resolve checks that services expose all three endpoints.
func (e Endpoints) Resolve(services []transport.Service) error {
	known := make(map[string]bool)
	for _, svc := range services {
		for _, c := range svc.Characteristics {
			known[transport.NewEndpoint(svc.UUID, c.UUID).Key()] = true
		}
	}
	for _, r := range []struct {
		field string
		ep    transport.Endpoint
	}{
		{"ota.start", e.Start},
		{"ota.confirm", e.Confirm},
		{"ota.raw_data", e.RawData},
	} {
		if !known[r.ep.Key()] {
			return &transfer.UnresolvedEndpointError{Field: r.field, Characteristic: r.ep.String()}
		}
	}
	return nil
}

// StartSectors is the sector count the start frame carries for img. A count
// too large for the frame is sent as zero and reported as clamped.
func (c Config) StartSectors(img *firmware.Image) (sectors int, clamped bool) {
	if !c.SendSectorCount {
		return 0, false
	}
	n := img.SectorCount()
	if n > protocol.MaxSectorCount {
		return 0, true
	}
	return n, false
}

// ProgressEvent is published on every state change and every percent change
// while transferring.
type ProgressEvent struct {
	Percent    int
	State      State
	BytesSent  int
	TotalBytes int
}

// Result is the terminal outcome of a session.
type Result struct {
	SessionID       string
	State           State
	RebootConfirmed bool
	Warning         string
	Err             error
	BytesSent       int
	Elapsed         time.Duration
}

// Session is a single firmware upload. It is not reusable.
type Session struct {
	id    string
	t     transport.Transport
	eps   Endpoints
	img   *firmware.Image
	cfg   Config
	clock transfer.Clock

	writer *transfer.Writer
	waiter *transfer.Waiter

	onProgress func(ProgressEvent)

	mu          sync.Mutex
	state       State
	percent     int
	bytesSent   int
	lastPublish ProgressEvent
	published   bool

	machine *fsm.FSM
}

// Option configures a Session.
type Option func(*Session)

// WithClock replaces the real clock, for tests.
func WithClock(c transfer.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithProgress registers a progress callback. It is called from the session
// goroutine and must not block.
func WithProgress(fn func(ProgressEvent)) Option {
	return func(s *Session) { s.onProgress = fn }
}

// WithID sets the session id; a random UUID is used otherwise.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// NewSession prepares an upload of img over t.
func NewSession(t transport.Transport, eps Endpoints, img *firmware.Image, cfg Config, opts ...Option) *Session {
	s := &Session{
		t:     t,
		eps:   eps,
		img:   img,
		cfg:   cfg,
		clock: transfer.RealClock{},
		state: Idle,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	s.writer = transfer.NewWriter(t, s.clock)
	s.waiter = transfer.NewWaiter(s.clock)
	s.machine = newMachine(s.id, s.entered)
	return s
}

func (s *Session) ID() string { return s.id }

// State is safe to call from any goroutine.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StartFrame is the command that opens this upload.
func (s *Session) StartFrame() protocol.Command {
	sectors, _ := s.cfg.StartSectors(s.img)
	return protocol.Start(s.cfg.BaseAddress, sectors)
}

// Preflight checks what can be checked without writing to the device: the
// endpoints against the discovered layout and the start frame.
func (s *Session) Preflight() error {
	if d, ok := s.t.(transport.Discoverer); ok {
		services, err := d.Services()
		if err != nil {
			return fmt.Errorf("failed to discover services: %w", err)
		}
		if err := s.eps.Resolve(services); err != nil {
			return err
		}
	}
	if _, err := protocol.Encode(s.StartFrame()); err != nil {
		return err
	}
	return nil
}

// Run executes the upload to a terminal state. It never retries the session;
// cancelling ctx yields Failed with the context cause.
func (s *Session) Run(ctx context.Context) Result {
	started := s.clock.Now()
	ctx, stop := transfer.WatchDisconnect(ctx, s.t)
	defer stop(nil)

	log := config.WithFields(map[string]interface{}{"session": s.id})
	log.Infof("Uploading %s", s.img.Estimate(s.cfg.ChunkSize))
	if _, clamped := s.cfg.StartSectors(s.img); clamped {
		log.Warnf("%d sectors do not fit the start frame, sending 0", s.img.SectorCount())
	}

	res := s.run(ctx)
	res.SessionID = s.id
	res.State = s.State()
	res.BytesSent = s.sent()
	res.Elapsed = s.clock.Now().Sub(started)

	switch {
	case res.State == Failed:
		log.Warnf("Upload failed after %d bytes: %v", res.BytesSent, res.Err)
	case res.Warning != "":
		log.Warnf("Upload completed with warning: %s", res.Warning)
	default:
		log.Infof("Upload completed, reboot confirmed")
	}
	return res
}

func (s *Session) run(ctx context.Context) Result {
	if err := s.Preflight(); err != nil {
		return s.fail(ctx, err)
	}

	detach, err := s.waiter.Attach(s.t, s.eps.Confirm)
	if err != nil {
		return s.fail(ctx, err)
	}
	defer detach()

	// Start handshake.
	start, err := protocol.Encode(s.StartFrame())
	if err != nil {
		return s.fail(ctx, err)
	}
	s.fire(evSendStart)
	reg := s.waiter.Arm(s.eps.Confirm)
	if err := s.command(ctx, start); err != nil {
		reg.Cancel()
		return s.fail(ctx, fmt.Errorf("failed to send start: %w", err))
	}
	s.fire(evStartSent)

	status, err := reg.Await(ctx, s.cfg.ConfirmTimeout)
	if err != nil {
		return s.fail(ctx, fmt.Errorf("start: %w", err))
	}
	if status != protocol.StatusReady {
		return s.fail(ctx, &transfer.UnexpectedStatusError{
			Stage: "start",
			Code:  byte(status),
			Want:  byte(protocol.StatusReady),
		})
	}
	s.fire(evStartConfirmed)

	// Raw transfer.
	_, err = s.writer.Write(ctx, s.eps.RawData, s.img.Bytes(), transfer.WriteOptions{
		ChunkSize: s.cfg.ChunkSize,
		Mode:      transfer.FireAndForget,
		Attempts:  s.cfg.Attempts,
		Backoff:   s.cfg.Backoff,
		Delay:     s.cfg.ChunkDelay,
		OnChunk:   s.chunkDone,
	})
	if err != nil {
		return s.fail(ctx, err)
	}

	// Finish handshake.
	s.fire(evSendFinish)
	eof, err := protocol.Encode(protocol.EndOfFile(s.cfg.BaseAddress))
	if err != nil {
		return s.fail(ctx, err)
	}
	if err := s.command(ctx, eof); err != nil {
		return s.fail(ctx, fmt.Errorf("failed to send end of file: %w", err))
	}
	finish, err := protocol.Encode(protocol.Finish(s.cfg.BaseAddress))
	if err != nil {
		return s.fail(ctx, err)
	}
	reg = s.waiter.Arm(s.eps.Confirm)
	if err := s.command(ctx, finish); err != nil {
		reg.Cancel()
		return s.fail(ctx, fmt.Errorf("failed to send finish: %w", err))
	}
	s.fire(evFinishSent)

	var res Result
	status, err = reg.Await(ctx, s.cfg.ConfirmTimeout)
	var malformed *protocol.MalformedFrameError
	switch {
	case err == nil && status == protocol.StatusRebootConfirmed:
		res.RebootConfirmed = true
	case err == nil:
		res.Warning = fmt.Sprintf("unexpected final status 0x%02X", byte(status))
	case errors.Is(err, transfer.ErrConfirmationTimeout):
		res.Warning = WarnNoFinalConfirmation
	case errors.As(err, &malformed):
		res.Warning = fmt.Sprintf("unreadable final status: %v", err)
	default:
		return s.fail(ctx, fmt.Errorf("finish: %w", err))
	}

	s.fire(evComplete)
	return res
}

// command writes one acknowledged frame to the Start characteristic.
func (s *Session) command(ctx context.Context, frame []byte) error {
	_, err := s.writer.Write(ctx, s.eps.Start, frame, transfer.WriteOptions{
		ChunkSize: protocol.FrameSize,
		Mode:      transfer.Acknowledged,
		Attempts:  s.cfg.Attempts,
		Backoff:   s.cfg.Backoff,
	})
	return err
}

func (s *Session) fail(ctx context.Context, err error) Result {
	err = transfer.Failure(ctx, err)
	s.fire(evFail)
	return Result{Err: err}
}

// fire advances the machine. Transitions are only driven from Run, never
// from callbacks.
func (s *Session) fire(event string) {
	if err := s.machine.Event(context.Background(), event); err != nil {
		config.Debugf("OTA %s: event %s rejected: %v", s.id, event, err)
	}
}

func (s *Session) entered(_, to State) {
	s.mu.Lock()
	s.state = to
	if to == Completed {
		s.percent = 100
	}
	s.mu.Unlock()
	s.publish()
}

func (s *Session) chunkDone(p transfer.ChunkProgress) {
	s.mu.Lock()
	s.bytesSent = p.BytesSent
	if pct := p.Percent(); pct > s.percent {
		s.percent = pct
	}
	s.mu.Unlock()
	s.publish()
}

func (s *Session) sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesSent
}

// publish emits the current progress if it differs from the last event.
func (s *Session) publish() {
	s.mu.Lock()
	ev := ProgressEvent{
		Percent:    s.percent,
		State:      s.state,
		BytesSent:  s.bytesSent,
		TotalBytes: s.img.Len(),
	}
	if s.published && ev.Percent == s.lastPublish.Percent && ev.State == s.lastPublish.State {
		s.mu.Unlock()
		return
	}
	s.published = true
	s.lastPublish = ev
	fn := s.onProgress
	s.mu.Unlock()

	if fn != nil {
		fn(ev)
	}
}

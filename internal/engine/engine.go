// Package engine owns the single active transfer session on a connection
// and hands callers a handle to observe and cancel it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/vitaminmoo/bluelocate/internal/config"
	"github.com/vitaminmoo/bluelocate/internal/fields"
	"github.com/vitaminmoo/bluelocate/internal/firmware"
	"github.com/vitaminmoo/bluelocate/internal/ota"
	"github.com/vitaminmoo/bluelocate/internal/transfer"
	"github.com/vitaminmoo/bluelocate/internal/transport"
)

// progressBuffer bounds queued progress events per upload.
const progressBuffer = 128

var (
	// ErrSessionActive is returned when a session is already running.
	ErrSessionActive = errors.New("a transfer session is already active")

	// ErrDeclined is returned when the caller rejects the upload estimate.
	ErrDeclined = errors.New("upload declined")
)

// ConfirmFunc approves an upload after seeing its estimate.
type ConfirmFunc func(firmware.Estimate) bool

// Options configures an Engine.
type Options struct {
	OTA       ota.Config
	Endpoints ota.Endpoints
	Push      fields.Config
	// Clock drives delays and deadlines; nil means the real clock.
	Clock transfer.Clock
}

// OptionsFromSettings derives engine options from normalized settings.
func OptionsFromSettings(s *config.Settings) Options {
	cfg, eps := ota.FromSettings(s.OTA)
	return Options{
		OTA:       cfg,
		Endpoints: eps,
		Push:      fields.FromSettings(s.Push),
	}
}

// Engine runs at most one session at a time over a connected transport.
type Engine struct {
	t    transport.Transport
	opts Options

	mu     sync.Mutex
	active string
	cancel context.CancelCauseFunc
}

// New creates an engine for t.
func New(t transport.Transport, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = transfer.RealClock{}
	}
	return &Engine{t: t, opts: opts}
}

// Active returns the id of the running session, or "".
func (e *Engine) Active() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Cancel stops the running session, if any, and reports whether there was one.
func (e *Engine) Cancel() bool {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel(transfer.ErrCancelled)
	return true
}

// reserve claims the session slot for id.
func (e *Engine) reserve(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active != "" {
		return fmt.Errorf("%w (%s)", ErrSessionActive, e.active)
	}
	select {
	case <-e.t.Disconnected():
		return transfer.ErrDisconnected
	default:
	}
	e.active = id
	return nil
}

func (e *Engine) arm(id string, cancel context.CancelCauseFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == id {
		e.cancel = cancel
	}
}

func (e *Engine) release(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == id {
		e.active = ""
		e.cancel = nil
	}
}

// Upload is the handle of a running firmware upload.
type Upload struct {
	ID string

	session  *ota.Session
	progress chan ota.ProgressEvent
	done     chan struct{}
	result   ota.Result
	cancel   context.CancelCauseFunc
}

// Progress streams progress events; it is closed when the upload ends.
// Events are dropped rather than blocking the transfer if nobody reads.
func (u *Upload) Progress() <-chan ota.ProgressEvent { return u.progress }

// Done is closed when the upload reached a terminal state.
func (u *Upload) Done() <-chan struct{} { return u.done }

// Wait blocks until the upload ends and returns its result.
func (u *Upload) Wait() ota.Result {
	<-u.done
	return u.result
}

// Cancel aborts the upload; Wait then reports Failed with ErrCancelled.
func (u *Upload) Cancel() { u.cancel(transfer.ErrCancelled) }

// State is the current session state.
func (u *Upload) State() ota.State { return u.session.State() }

// StartUpload begins uploading img. The endpoints and start frame are checked
// before confirm sees the estimate; confirm may then decline, in which case
// nothing is written and ErrDeclined is returned.
func (e *Engine) StartUpload(ctx context.Context, img *firmware.Image, confirm ConfirmFunc) (*Upload, error) {
	id := uuid.NewString()
	if err := e.reserve(id); err != nil {
		return nil, err
	}

	u := &Upload{
		ID:       id,
		progress: make(chan ota.ProgressEvent, progressBuffer),
		done:     make(chan struct{}),
	}
	u.session = ota.NewSession(e.t, e.opts.Endpoints, img, e.opts.OTA,
		ota.WithID(id),
		ota.WithClock(e.opts.Clock),
		ota.WithProgress(func(ev ota.ProgressEvent) {
			select {
			case u.progress <- ev:
			default:
				config.Debugf("Progress consumer is slow, dropping %d%%", ev.Percent)
			}
		}),
	)
	if err := u.session.Preflight(); err != nil {
		e.release(id)
		return nil, err
	}

	if confirm != nil && !confirm(img.Estimate(e.opts.OTA.ChunkSize)) {
		e.release(id)
		return nil, ErrDeclined
	}

	ctx, cancel := transfer.WatchDisconnect(ctx, e.t)
	u.cancel = cancel
	e.arm(id, cancel)

	go func() {
		defer close(u.done)
		defer close(u.progress)
		defer e.release(id)
		defer cancel(nil)
		u.result = u.session.Run(ctx)
	}()
	return u, nil
}

// Push is the handle of a running configuration push.
type Push struct {
	ID string

	outcomes chan fields.FieldOutcome
	done     chan struct{}
	summary  fields.Summary
	cancel   context.CancelCauseFunc
}

// Outcomes streams each field outcome; it is closed when the push ends.
func (p *Push) Outcomes() <-chan fields.FieldOutcome { return p.outcomes }

func (p *Push) Done() <-chan struct{} { return p.done }

// Wait blocks until the push ends and returns its summary.
func (p *Push) Wait() fields.Summary {
	<-p.done
	return p.summary
}

func (p *Push) Cancel() { p.cancel(transfer.ErrCancelled) }

// PushConfig writes values using the field layout fm.
func (e *Engine) PushConfig(ctx context.Context, fm *fields.FieldMap, values fields.Values) (*Push, error) {
	id := uuid.NewString()
	if err := e.reserve(id); err != nil {
		return nil, err
	}

	ctx, cancel := transfer.WatchDisconnect(ctx, e.t)
	p := &Push{
		ID:       id,
		outcomes: make(chan fields.FieldOutcome, len(fm.Names())),
		done:     make(chan struct{}),
		cancel:   cancel,
	}
	session := fields.NewSession(e.t, fm, values, e.opts.Push,
		fields.WithID(id),
		fields.WithClock(e.opts.Clock),
		fields.WithOutcome(func(o fields.FieldOutcome) { p.outcomes <- o }),
	)
	e.arm(id, cancel)

	go func() {
		defer close(p.done)
		defer close(p.outcomes)
		defer e.release(id)
		defer cancel(nil)
		p.summary = session.Run(ctx)
	}()
	return p, nil
}

package transfer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vitaminmoo/bluelocate/internal/config"
	"github.com/vitaminmoo/bluelocate/internal/protocol"
	"github.com/vitaminmoo/bluelocate/internal/transport"
)

// Waiter routes notifications to at most one registration per endpoint.
// In BLE only the newest wait on a characteristic is meaningful, so arming
// a new wait cancels the previous one for the same endpoint.
type Waiter struct {
	mu    sync.Mutex
	clock Clock
	regs  map[string]*Registration
}

// NewWaiter creates a Waiter. A nil clock means RealClock.
func NewWaiter(clock Clock) *Waiter {
	if clock == nil {
		clock = RealClock{}
	}
	return &Waiter{clock: clock, regs: make(map[string]*Registration)}
}

// Registration is interest in the next notification on one endpoint.
type Registration struct {
	w        *Waiter
	key      string
	endpoint transport.Endpoint
	events   chan transport.ConfirmationEvent
	done     chan struct{}
	once     sync.Once
	err      error
}

// Arm registers interest in the next event on ep. Arm before issuing the
// write that provokes the notification so a fast peer cannot be missed.
func (w *Waiter) Arm(ep transport.Endpoint) *Registration {
	r := &Registration{
		w:        w,
		key:      ep.Key(),
		endpoint: ep,
		events:   make(chan transport.ConfirmationEvent, 1),
		done:     make(chan struct{}),
	}

	w.mu.Lock()
	old := w.regs[r.key]
	w.regs[r.key] = r
	w.mu.Unlock()

	if old != nil {
		config.Debugf("Superseding outstanding wait on %s", ep)
		old.cancel(ErrWaitSuperseded)
	}
	return r
}

// Wait is Arm followed by Await.
func (w *Waiter) Wait(ctx context.Context, ep transport.Endpoint, timeout time.Duration) (protocol.Status, error) {
	return w.Arm(ep).Await(ctx, timeout)
}

// Deliver hands ev to the registration for its endpoint.
// It returns false when nobody is waiting; the event is dropped.
func (w *Waiter) Deliver(ev transport.ConfirmationEvent) bool {
	key := ev.Endpoint.Key()

	w.mu.Lock()
	r := w.regs[key]
	if r != nil {
		delete(w.regs, key)
	}
	w.mu.Unlock()

	if r == nil {
		config.Debugf("Dropping notification on %s with no waiter: % X", ev.Endpoint, ev.Payload)
		return false
	}
	r.events <- ev
	return true
}

// Pending reports whether a wait is registered on ep.
func (w *Waiter) Pending(ep transport.Endpoint) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.regs[ep.Key()]
	return ok
}

// Outstanding is the number of registered waits.
func (w *Waiter) Outstanding() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.regs)
}

// Attach subscribes to ep on t and feeds its notifications into w until the
// returned detach function is called.
func (w *Waiter) Attach(t transport.Transport, ep transport.Endpoint) (detach func(), err error) {
	ch, err := t.Subscribe(ep)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", ep, err)
	}

	go func() {
		for ev := range ch {
			w.Deliver(ev)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := t.Unsubscribe(ep); err != nil {
				config.Debugf("Unsubscribe %s: %v", ep, err)
			}
		})
	}, nil
}

// Await blocks until the armed event arrives, timeout elapses, ctx is done or
// the registration is superseded. The registration is released on every path.
func (r *Registration) Await(ctx context.Context, timeout time.Duration) (protocol.Status, error) {
	defer r.release()

	select {
	case ev := <-r.events:
		return protocol.DecodeStatus(ev.Payload)
	case <-r.done:
		return 0, r.err
	default:
	}

	timer := r.w.clock.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-r.events:
		return protocol.DecodeStatus(ev.Payload)
	case <-r.done:
		return 0, r.err
	case <-timer.C():
		return 0, fmt.Errorf("%w on %s after %v", ErrConfirmationTimeout, r.endpoint, timeout)
	case <-ctx.Done():
		return 0, context.Cause(ctx)
	}
}

// Cancel unregisters the wait; a concurrent Await returns ErrCancelled.
func (r *Registration) Cancel() {
	r.cancel(ErrCancelled)
	r.release()
}

func (r *Registration) cancel(err error) {
	r.once.Do(func() {
		r.err = err
		close(r.done)
	})
}

func (r *Registration) release() {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	if r.w.regs[r.key] == r {
		delete(r.w.regs, r.key)
	}
}

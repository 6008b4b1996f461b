package transfer

import (
	"context"

	"github.com/vitaminmoo/bluelocate/internal/transport"
)

// WatchDisconnect derives a context that is cancelled with ErrDisconnected
// when t drops. The returned cancel function cancels it with ErrCancelled
// and stops the watch.
func WatchDisconnect(parent context.Context, t transport.Transport) (context.Context, context.CancelCauseFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	go func() {
		select {
		case <-t.Disconnected():
			cancel(ErrDisconnected)
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// Failure maps an error observed inside a session to the reason reported to
// the caller: once ctx is done its cause wins over whatever the blocked
// operation returned.
func Failure(ctx context.Context, err error) error {
	if ctx.Err() == nil {
		return err
	}
	cause := context.Cause(ctx)
	switch cause {
	case ErrDisconnected, ErrCancelled:
		return cause
	case context.Canceled:
		return ErrCancelled
	}
	if err != nil {
		return err
	}
	return cause
}

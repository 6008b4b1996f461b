package fields

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vitaminmoo/bluelocate/internal/config"
	"github.com/vitaminmoo/bluelocate/internal/transfer"
	"github.com/vitaminmoo/bluelocate/internal/transport"
)

// Status is the outcome of one field.
type Status int

const (
	Written Status = iota // every slot that received bytes was written
	Partial               // some slots written, some exhausted their attempts
	Skipped               // nothing written: unresolved or every slot failed
	Empty                 // no value, nothing to write
)

func (s Status) String() string {
	switch s {
	case Written:
		return "written"
	case Partial:
		return "partial"
	case Skipped:
		return "skipped"
	case Empty:
		return "empty"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// FieldOutcome reports what happened to one field.
type FieldOutcome struct {
	Field        string
	Status       Status
	Value        string // the value as written, after truncation
	SlotsWritten int
	Attempts     int
	Reason       string
}

// Summary is the result of a push.
type Summary struct {
	SessionID string
	Outcomes  []FieldOutcome
	Warnings  []string
	// Err is set when the push stopped early (disconnect or cancel).
	Err     error
	Elapsed time.Duration
}

// Count returns the number of outcomes with status s.
func (s Summary) Count(status Status) int {
	n := 0
	for _, o := range s.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// Config tunes a push.
type Config struct {
	Attempts        int
	Backoff         time.Duration
	ChunkDelay      time.Duration
	InterFieldDelay time.Duration
}

// DefaultConfig mirrors the pacing the device tolerates.
func DefaultConfig() Config {
	return Config{
		Attempts:        config.DefaultPushAttempts,
		Backoff:         config.DefaultPushBackoffMs * time.Millisecond,
		ChunkDelay:      config.DefaultPushChunkDelayMs * time.Millisecond,
		InterFieldDelay: config.DefaultPushInterFieldDelayMs * time.Millisecond,
	}
}

// FromSettings builds the push config from normalized settings.
func FromSettings(p config.PushSettings) Config {
	return Config{
		Attempts:        p.Attempts,
		Backoff:         p.Backoff(),
		ChunkDelay:      p.ChunkDelay(),
		InterFieldDelay: p.InterFieldDelay(),
	}
}

// Session writes one set of values. It is not reusable.
type Session struct {
	id     string
	t      transport.Transport
	fm     *FieldMap
	values Values
	cfg    Config
	clock  transfer.Clock
	writer *transfer.Writer

	onOutcome func(FieldOutcome)
}

// Option configures a Session.
type Option func(*Session)

func WithClock(c transfer.Clock) Option {
	return func(s *Session) { s.clock = c }
}

func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// WithOutcome registers a callback invoked as each field finishes.
func WithOutcome(fn func(FieldOutcome)) Option {
	return func(s *Session) { s.onOutcome = fn }
}

// NewSession prepares a push of values over t using fm.
func NewSession(t transport.Transport, fm *FieldMap, values Values, cfg Config, opts ...Option) *Session {
	s := &Session{
		t:      t,
		fm:     fm,
		values: values.Clone(),
		cfg:    cfg,
		clock:  transfer.RealClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	s.writer = transfer.NewWriter(t, s.clock)
	return s
}

func (s *Session) ID() string { return s.id }

// Run writes every field in layout order. A field that cannot be written is
// skipped and later fields still run; only disconnect or cancellation stop
// the push early. The pending values are cleared when Run returns.
func (s *Session) Run(ctx context.Context) Summary {
	started := s.clock.Now()
	ctx, stop := transfer.WatchDisconnect(ctx, s.t)
	defer stop(nil)

	values := s.values.WithDefaults(s.fm)
	s.values = nil

	sum := Summary{SessionID: s.id}
	known := make(map[string]bool)
	for _, name := range s.fm.Names() {
		known[name] = true
	}
	for _, name := range values.Keys() {
		if !known[name] && values[name] != "" {
			sum.Warnings = append(sum.Warnings, fmt.Sprintf("unknown field %s ignored", name))
		}
	}

	names := s.fm.Names()
	for i, name := range names {
		if ctx.Err() != nil {
			sum.Err = transfer.Failure(ctx, nil)
			break
		}

		out, warn, err := s.pushField(ctx, name, values[name])
		if warn != "" {
			sum.Warnings = append(sum.Warnings, warn)
		}
		sum.Outcomes = append(sum.Outcomes, out)
		if s.onOutcome != nil {
			s.onOutcome(out)
		}
		if err != nil {
			sum.Err = err
			break
		}

		if i < len(names)-1 && out.Attempts > 0 {
			if err := s.clock.Sleep(ctx, s.cfg.InterFieldDelay); err != nil {
				sum.Err = transfer.Failure(ctx, err)
				break
			}
		}
	}

	sum.Elapsed = s.clock.Now().Sub(started)
	for _, w := range sum.Warnings {
		config.Warnf("%s", w)
	}
	config.WithFields(map[string]interface{}{
		"session": s.id,
		"written": sum.Count(Written),
		"partial": sum.Count(Partial),
		"skipped": sum.Count(Skipped),
	}).Infof("Config push finished")
	return sum
}

// pushField writes one field. The returned error is non-nil only when the
// whole push must stop.
func (s *Session) pushField(ctx context.Context, name, value string) (FieldOutcome, string, error) {
	out := FieldOutcome{Field: name}

	if value == "" {
		out.Status = Empty
		return out, "", nil
	}
	field, _ := s.fm.Lookup(name)
	if err := s.fm.Err(name); err != nil {
		out.Status = Skipped
		out.Reason = err.Error()
		return out, fmt.Sprintf("field %s skipped: %v", name, err), nil
	}

	var warn string
	if limit := field.Cap(); len(value) > limit {
		value = Truncate(value, limit)
		warn = fmt.Sprintf("field %s truncated to %d bytes", name, len(value))
	}
	out.Value = value

	parts := SplitSlots([]byte(value), field.Slots)
	failed := 0
	var lastErr error
	for i, part := range parts {
		slot := field.Slots[i]
		retries := 0
		n, err := s.writer.Write(ctx, slot.Endpoint, part, transfer.WriteOptions{
			ChunkSize: slot.MaxBytes,
			Mode:      transfer.Acknowledged,
			Attempts:  s.cfg.Attempts,
			Backoff:   s.cfg.Backoff,
			Delay:     s.cfg.ChunkDelay,
			OnRetry:   func(int, int, error) { retries++ },
		})

		var exhausted *transfer.ChunkWriteExhaustedError
		switch {
		case err == nil:
			out.Attempts += retries + 1
			out.SlotsWritten++
			config.Debugf("Wrote %s slot %d (%s) on attempt %d", name, i+1, slot.Endpoint, retries+1)
		case errors.As(err, &exhausted):
			out.Attempts += exhausted.Attempts
			failed++
			lastErr = err
			config.Debugf("Field %s slot %s: %v", name, slot.Endpoint, err)
		case errors.Is(err, transport.ErrUnknownEndpoint):
			out.Attempts++
			failed++
			lastErr = err
			config.Debugf("Field %s slot %s: %v", name, slot.Endpoint, err)
		default:
			if n == len(part) {
				// written; the pacing delay after it was interrupted
				out.Attempts += retries + 1
				out.SlotsWritten++
			} else {
				out.Attempts += retries
			}
			out.Status = Skipped
			if out.SlotsWritten > 0 {
				out.Status = Partial
			}
			err = transfer.Failure(ctx, err)
			out.Reason = err.Error()
			return out, warn, err
		}
	}

	switch {
	case failed == 0:
		out.Status = Written
	case out.SlotsWritten > 0:
		out.Status = Partial
		out.Reason = lastErr.Error()
	default:
		out.Status = Skipped
		out.Reason = lastErr.Error()
	}
	if failed > 0 {
		warn = joinWarn(warn, fmt.Sprintf("field %s %s: %d of %d slots failed", name, out.Status, failed, len(parts)))
	}
	return out, warn, nil
}

func joinWarn(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}

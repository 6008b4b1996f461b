package ota

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vitaminmoo/bluelocate/internal/config"
	"github.com/vitaminmoo/bluelocate/internal/firmware"
	"github.com/vitaminmoo/bluelocate/internal/protocol"
	"github.com/vitaminmoo/bluelocate/internal/sim"
	"github.com/vitaminmoo/bluelocate/internal/transfer"
	"github.com/vitaminmoo/bluelocate/internal/transport"
)

type recorder struct {
	mu     sync.Mutex
	events []ProgressEvent
}

func (r *recorder) add(ev ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ProgressEvent(nil), r.events...)
}

type fixture struct {
	peer  *sim.Peer
	clock *transfer.ManualClock
	rec   *recorder
	eps   Endpoints
	cfg   Config
	img   *firmware.Image
}

func newFixture(t *testing.T, b sim.Behavior, size int) *fixture {
	t.Helper()
	settings := config.Default()
	cfg, eps := FromSettings(settings.OTA)

	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i * 7)
	}
	return &fixture{
		peer:  sim.New(settings, b),
		clock: transfer.NewManualClock(),
		rec:   &recorder{},
		eps:   eps,
		cfg:   cfg,
		img:   firmware.New("test.bin", data),
	}
}

func (f *fixture) session() *Session {
	return NewSession(f.peer, f.eps, f.img, f.cfg,
		WithClock(f.clock),
		WithProgress(f.rec.add),
		WithID("test-session"),
	)
}

// runUntilWaiting runs s in the background and blocks until it is parked
// in state with its confirmation timer armed.
func runUntilWaiting(t *testing.T, s *Session, clk *transfer.ManualClock, state State, ctx context.Context) <-chan Result {
	t.Helper()
	done := make(chan Result, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for s.State() != state || clk.PendingTimers() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("session never reached %s (state %s)", state, s.State())
		}
		time.Sleep(time.Millisecond)
	}
	return done
}

func await(t *testing.T, done <-chan Result) Result {
	t.Helper()
	select {
	case res := <-done:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
		return Result{}
	}
}

func TestUploadCompletes(t *testing.T) {
	f := newFixture(t, sim.Behavior{}, 1000)
	res := f.session().Run(context.Background())

	if res.State != Completed || !res.RebootConfirmed || res.Err != nil {
		t.Fatalf("result = %+v", res)
	}
	if res.SessionID != "test-session" || res.BytesSent != 1000 {
		t.Errorf("result = %+v", res)
	}
	if !bytes.Equal(f.peer.Firmware(), f.img.Bytes()) {
		t.Error("peer received different firmware bytes")
	}
	if f.peer.Chunks() != 5 {
		t.Errorf("chunks = %d, want 5", f.peer.Chunks())
	}

	want := []protocol.Command{
		protocol.Start(0, 5),
		protocol.EndOfFile(0),
		protocol.Finish(0),
	}
	frames := f.peer.Frames()
	if len(frames) != len(want) {
		t.Fatalf("frames = %v", frames)
	}
	for i := range want {
		if frames[i] != want[i] {
			t.Errorf("frame %d = %v, want %v", i, frames[i], want[i])
		}
	}

	for _, w := range f.peer.WritesTo(f.eps.Start) {
		if !w.WithResponse || len(w.Data) != protocol.FrameSize {
			t.Errorf("command write = %+v", w)
		}
	}
	for _, w := range f.peer.WritesTo(f.eps.RawData) {
		if w.WithResponse || len(w.Data) > 240 {
			t.Errorf("raw write = %d bytes, with response %v", len(w.Data), w.WithResponse)
		}
	}
	if f.peer.Subscribed(f.eps.Confirm) {
		t.Error("confirm subscription not released")
	}
}

func TestUploadProgress(t *testing.T) {
	f := newFixture(t, sim.Behavior{}, 1000)
	f.session().Run(context.Background())

	var percents []int
	states := map[State]bool{}
	last := -1
	for _, ev := range f.rec.snapshot() {
		states[ev.State] = true
		if ev.Percent < last {
			t.Errorf("progress went backwards: %d after %d", ev.Percent, last)
		}
		last = ev.Percent
		if ev.State == Transferring {
			percents = append(percents, ev.Percent)
		}
		if ev.TotalBytes != 1000 {
			t.Errorf("TotalBytes = %d", ev.TotalBytes)
		}
	}

	want := []int{0, 24, 48, 72, 96, 100}
	if len(percents) != len(want) {
		t.Fatalf("transferring percents = %v, want %v", percents, want)
	}
	for i := range want {
		if percents[i] != want[i] {
			t.Errorf("percents = %v, want %v", percents, want)
			break
		}
	}

	for _, s := range []State{SentStart, AwaitingStartConfirm, Transferring, SentFinish, AwaitingFinishConfirm, Completed} {
		if !states[s] {
			t.Errorf("no progress event for state %s", s)
		}
	}
	if f.clock.Slept() != 5*50*time.Millisecond {
		t.Errorf("slept %v, want 250ms of chunk delay", f.clock.Slept())
	}
}

func TestUploadWithoutSectorCount(t *testing.T) {
	f := newFixture(t, sim.Behavior{}, 100)
	f.cfg.SendSectorCount = false
	f.cfg.BaseAddress = 0x010000

	if res := f.session().Run(context.Background()); res.State != Completed {
		t.Fatalf("result = %+v", res)
	}
	frames := f.peer.Frames()
	if frames[0] != protocol.Start(0x010000, 0) {
		t.Errorf("start frame = %v", frames[0])
	}
	if frames[2] != protocol.Finish(0x010000) {
		t.Errorf("finish frame = %v", frames[2])
	}
}

func TestUploadUnresolvedEndpoint(t *testing.T) {
	tests := []struct {
		name  string
		field string
		set   func(*Endpoints, string)
	}{
		{"start", "ota.start", func(e *Endpoints, svc string) { e.Start = transport.NewEndpoint(svc, "dead") }},
		{"confirm", "ota.confirm", func(e *Endpoints, svc string) { e.Confirm = transport.NewEndpoint(svc, "dead") }},
		{"raw data", "ota.raw_data", func(e *Endpoints, svc string) { e.RawData = transport.NewEndpoint(svc, "dead") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, sim.Behavior{}, 1000)
			tt.set(&f.eps, f.eps.Start.Service)

			res := f.session().Run(context.Background())
			var unresolved *transfer.UnresolvedEndpointError
			if res.State != Failed || !errors.As(res.Err, &unresolved) || unresolved.Field != tt.field {
				t.Fatalf("result = %+v", res)
			}
			if len(f.peer.Writes()) != 0 {
				t.Errorf("frames = %v, want none", f.peer.Frames())
			}
		})
	}
}

func TestStartSectorsClamped(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		size    int
		send    bool
		want    int
		clamped bool
	}{
		{size: 1000, send: true, want: 5},
		{size: 251 * 8192, send: true, want: 255},
		{size: 2_100_000, send: true, want: 0, clamped: true},
		{size: 2_100_000, send: false, want: 0},
	}
	for _, tt := range tests {
		cfg.SendSectorCount = tt.send
		got, clamped := cfg.StartSectors(firmware.New("fw.bin", make([]byte, tt.size)))
		if got != tt.want || clamped != tt.clamped {
			t.Errorf("StartSectors(%d, send=%v) = %d, %v; want %d, %v", tt.size, tt.send, got, clamped, tt.want, tt.clamped)
		}
	}
}

func TestUploadStartRejected(t *testing.T) {
	f := newFixture(t, sim.Behavior{StartReply: []byte{0x00}}, 1000)
	res := f.session().Run(context.Background())

	if res.State != Failed {
		t.Fatalf("state = %s, want failed", res.State)
	}
	var unexpected *transfer.UnexpectedStatusError
	if !errors.As(res.Err, &unexpected) {
		t.Fatalf("err = %v, want UnexpectedStatusError", res.Err)
	}
	if unexpected.Code != 0x00 || unexpected.Stage != "start" {
		t.Errorf("err = %+v", unexpected)
	}
	if n := len(f.peer.WritesTo(f.eps.RawData)); n != 0 {
		t.Errorf("%d raw writes after rejected start", n)
	}
}

func TestUploadStartTimeout(t *testing.T) {
	f := newFixture(t, sim.Behavior{SilentStart: true}, 1000)
	s := f.session()

	done := runUntilWaiting(t, s, f.clock, AwaitingStartConfirm, context.Background())
	f.clock.Advance(5 * time.Second)
	res := await(t, done)

	if res.State != Failed || !errors.Is(res.Err, transfer.ErrConfirmationTimeout) {
		t.Errorf("result = %+v", res)
	}
}

func TestUploadFinishTimeout(t *testing.T) {
	f := newFixture(t, sim.Behavior{SilentFinish: true}, 500)
	s := f.session()

	done := runUntilWaiting(t, s, f.clock, AwaitingFinishConfirm, context.Background())
	f.clock.Advance(5 * time.Second)
	res := await(t, done)

	if res.State != Completed || res.RebootConfirmed {
		t.Fatalf("result = %+v", res)
	}
	if res.Warning != WarnNoFinalConfirmation || res.Err != nil {
		t.Errorf("warning = %q, err = %v", res.Warning, res.Err)
	}
}

func TestUploadFinishUnexpectedStatus(t *testing.T) {
	f := newFixture(t, sim.Behavior{FinishReply: []byte{0x02}}, 500)
	res := f.session().Run(context.Background())

	if res.State != Completed || res.RebootConfirmed || res.Warning == "" {
		t.Errorf("result = %+v", res)
	}
}

func TestUploadDisconnect(t *testing.T) {
	tests := []struct {
		name     string
		behavior sim.Behavior
	}{
		{"during transfer", sim.Behavior{DisconnectAfterChunks: 2}},
		{"during finish wait", sim.Behavior{DisconnectOnFinish: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.behavior, 1000)
			done := make(chan Result, 1)
			go func() { done <- f.session().Run(context.Background()) }()
			res := await(t, done)

			if res.State != Failed || !errors.Is(res.Err, transfer.ErrDisconnected) {
				t.Errorf("result = %+v", res)
			}
		})
	}
}

func TestUploadChunkExhausted(t *testing.T) {
	f := newFixture(t, sim.Behavior{}, 1000)
	f.peer.FailNextWrites(f.eps.RawData, 3)
	res := f.session().Run(context.Background())

	var exhausted *transfer.ChunkWriteExhaustedError
	if res.State != Failed || !errors.As(res.Err, &exhausted) {
		t.Fatalf("result = %+v", res)
	}
	if exhausted.Index != 0 || exhausted.Attempts != 3 {
		t.Errorf("exhausted = %+v", exhausted)
	}
	for _, c := range f.peer.Frames() {
		if c.Action != protocol.ActionStart {
			t.Errorf("unexpected %s after failed transfer", c)
		}
	}
}

func TestUploadChunkRetried(t *testing.T) {
	f := newFixture(t, sim.Behavior{}, 1000)
	f.peer.FailNextWrites(f.eps.RawData, 2)
	res := f.session().Run(context.Background())

	if res.State != Completed || res.BytesSent != 1000 {
		t.Errorf("result = %+v", res)
	}
}

func TestUploadCancelled(t *testing.T) {
	f := newFixture(t, sim.Behavior{SilentStart: true}, 1000)
	s := f.session()
	ctx, cancel := context.WithCancelCause(context.Background())

	done := runUntilWaiting(t, s, f.clock, AwaitingStartConfirm, ctx)
	cancel(transfer.ErrCancelled)
	res := await(t, done)

	if res.State != Failed || !errors.Is(res.Err, transfer.ErrCancelled) {
		t.Errorf("result = %+v", res)
	}
	if s.State() != Failed {
		t.Errorf("State() = %s", s.State())
	}
}

func TestFromSettings(t *testing.T) {
	s := config.Default()
	off := false
	s.OTA.TransmitSectorCount = &off
	cfg, eps := FromSettings(s.OTA)

	if cfg.SendSectorCount || cfg.ChunkSize != 240 || cfg.ConfirmTimeout != 5*time.Second {
		t.Errorf("cfg = %+v", cfg)
	}
	if !eps.Confirm.Equal(transport.NewEndpoint("ff00", "ff02")) {
		t.Errorf("confirm endpoint = %v", eps.Confirm)
	}
	if DefaultConfig().ChunkDelay != 50*time.Millisecond {
		t.Error("default chunk delay")
	}
}

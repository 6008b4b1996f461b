package transfer

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/vitaminmoo/bluelocate/internal/transport"
)

var (
	testService = transport.Service{
		UUID: "ff00",
		Characteristics: []transport.Characteristic{
			{UUID: "ff01"},
			{UUID: "ff02"},
			{UUID: "ff03"},
		},
	}
	startEP   = transport.NewEndpoint("ff00", "ff01")
	confirmEP = transport.NewEndpoint("ff00", "ff02")
	rawEP     = transport.NewEndpoint("ff00", "ff03")
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name  string
		len   int
		size  int
		sizes []int
	}{
		{"empty", 0, 240, nil},
		{"shorter than chunk", 10, 240, []int{10}},
		{"exact multiple", 480, 240, []int{240, 240}},
		{"remainder", 1000, 240, []int{240, 240, 240, 240, 40}},
		{"one byte chunks", 3, 1, []int{1, 1, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := make([]byte, tt.len)
			for i := range payload {
				payload[i] = byte(i)
			}
			var sizes []int
			var joined []byte
			for _, c := range Split(payload, tt.size) {
				sizes = append(sizes, len(c))
				joined = append(joined, c...)
			}
			if !reflect.DeepEqual(sizes, tt.sizes) {
				t.Errorf("sizes = %v, want %v", sizes, tt.sizes)
			}
			if len(joined) != tt.len {
				t.Errorf("joined %d bytes, want %d", len(joined), tt.len)
			}
			for i := range joined {
				if joined[i] != payload[i] {
					t.Fatalf("byte %d out of order", i)
				}
			}
		})
	}
}

func TestWriteProgress(t *testing.T) {
	m := transport.NewMemory(testService)
	clk := NewManualClock()
	w := NewWriter(m, clk)

	var percents []int
	n, err := w.Write(context.Background(), rawEP, make([]byte, 1000), WriteOptions{
		ChunkSize: 240,
		Mode:      FireAndForget,
		Attempts:  3,
		Delay:     50 * time.Millisecond,
		OnChunk:   func(p ChunkProgress) { percents = append(percents, p.Percent()) },
	})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n != 1000 {
		t.Errorf("Write() = %d bytes, want 1000", n)
	}
	if want := []int{24, 48, 72, 96, 100}; !reflect.DeepEqual(percents, want) {
		t.Errorf("percents = %v, want %v", percents, want)
	}

	writes := m.WritesTo(rawEP)
	if len(writes) != 5 {
		t.Fatalf("got %d writes, want 5", len(writes))
	}
	for _, wr := range writes {
		if wr.WithResponse {
			t.Error("raw chunks should be written without response")
		}
	}
	if got := clk.Slept(); got != 250*time.Millisecond {
		t.Errorf("slept %v, want 250ms", got)
	}
}

func TestWriteEmptyPayload(t *testing.T) {
	m := transport.NewMemory(testService)
	w := NewWriter(m, NewManualClock())

	called := false
	n, err := w.Write(context.Background(), startEP, nil, WriteOptions{
		ChunkSize: 19,
		OnChunk:   func(ChunkProgress) { called = true },
	})
	if err != nil || n != 0 {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	if called || len(m.Writes()) != 0 {
		t.Error("empty payload should produce no writes")
	}
}

func TestWriteRetry(t *testing.T) {
	m := transport.NewMemory(testService)
	clk := NewManualClock()
	w := NewWriter(m, clk)
	m.FailNextWrites(startEP, 2)

	n, err := w.Write(context.Background(), startEP, []byte("abc"), WriteOptions{
		ChunkSize: 19,
		Attempts:  3,
		Backoff:   time.Second,
		Delay:     500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n != 3 {
		t.Errorf("n = %d, want 3", n)
	}
	want := []time.Duration{time.Second, time.Second, 500 * time.Millisecond}
	if got := clk.Sleeps(); !reflect.DeepEqual(got, want) {
		t.Errorf("sleeps = %v, want %v", got, want)
	}
	if writes := m.WritesTo(startEP); len(writes) != 1 || !writes[0].WithResponse {
		t.Errorf("writes = %+v", writes)
	}
}

func TestWriteExhausted(t *testing.T) {
	m := transport.NewMemory(testService)
	w := NewWriter(m, NewManualClock())
	m.FailNextWrites(rawEP, 3)

	payload := make([]byte, 20)
	n, err := w.Write(context.Background(), rawEP, payload, WriteOptions{
		ChunkSize: 10,
		Mode:      FireAndForget,
		Attempts:  3,
	})

	var exhausted *ChunkWriteExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("error = %v, want ChunkWriteExhaustedError", err)
	}
	if exhausted.Index != 0 || exhausted.Attempts != 3 {
		t.Errorf("exhausted = %+v", exhausted)
	}
	if !errors.Is(err, transport.ErrInjected) {
		t.Error("exhausted error should wrap the last write error")
	}
	if n != 0 {
		t.Errorf("n = %d, want 0", n)
	}
	if len(m.Writes()) != 0 {
		t.Error("no chunk should have been accepted")
	}
}

func TestWriteCancelled(t *testing.T) {
	m := transport.NewMemory(testService)
	w := NewWriter(m, NewManualClock())

	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(ErrCancelled)

	_, err := w.Write(ctx, rawEP, make([]byte, 10), WriteOptions{ChunkSize: 5, Mode: FireAndForget})
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("error = %v, want ErrCancelled", err)
	}
}

func TestWriteDisconnected(t *testing.T) {
	m := transport.NewMemory(testService)
	w := NewWriter(m, NewManualClock())
	m.Disconnect()

	_, err := w.Write(context.Background(), startEP, []byte{1}, WriteOptions{ChunkSize: 5, Attempts: 3})
	if !errors.Is(err, ErrDisconnected) {
		t.Errorf("error = %v, want ErrDisconnected", err)
	}
}

func TestWriteUnknownEndpointNotRetried(t *testing.T) {
	m := transport.NewMemory(testService)
	clk := NewManualClock()
	w := NewWriter(m, clk)

	retries := 0
	_, err := w.Write(context.Background(), transport.NewEndpoint("ff00", "dead"), []byte{1, 2}, WriteOptions{
		ChunkSize: 5,
		Attempts:  3,
		Backoff:   time.Second,
		OnRetry:   func(int, int, error) { retries++ },
	})
	if !errors.Is(err, transport.ErrUnknownEndpoint) {
		t.Fatalf("error = %v, want ErrUnknownEndpoint", err)
	}
	var exhausted *ChunkWriteExhaustedError
	if errors.As(err, &exhausted) {
		t.Errorf("unknown endpoint reported as exhausted: %v", err)
	}
	if retries != 0 || clk.Slept() != 0 {
		t.Errorf("retried %d times, slept %v", retries, clk.Slept())
	}
}

func TestWriteInvalidChunkSize(t *testing.T) {
	w := NewWriter(transport.NewMemory(testService), NewManualClock())
	if _, err := w.Write(context.Background(), startEP, []byte{1}, WriteOptions{}); err == nil {
		t.Error("expected error for zero chunk size")
	}
}

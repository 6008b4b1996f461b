package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vitaminmoo/bluelocate/internal/config"
	"github.com/vitaminmoo/bluelocate/internal/transport"
)

// WriteMode selects how each chunk is written.
type WriteMode int

const (
	// Acknowledged waits for the peer's write response (command frames, config fields).
	Acknowledged WriteMode = iota
	// FireAndForget uses write-without-response for throughput (raw firmware).
	FireAndForget
)

func (m WriteMode) String() string {
	if m == FireAndForget {
		return "without-response"
	}
	return "with-response"
}

// WriteOptions configures one Writer.Write call.
type WriteOptions struct {
	// ChunkSize is the maximum bytes per write; must be positive.
	ChunkSize int

	Mode WriteMode

	// Attempts is the maximum number of tries per chunk (first try included).
	// Values below 1 mean a single try.
	Attempts int

	// Backoff is the pause between failed attempts of the same chunk.
	Backoff time.Duration

	// Delay is the pause after every chunk, whether it succeeded or not.
	Delay time.Duration

	// OnChunk is called after each chunk is written (optional).
	OnChunk func(ChunkProgress)

	// OnRetry is called after each failed attempt (optional).
	OnRetry func(index, attempt int, err error)
}

// ChunkProgress describes the state after one successful chunk.
type ChunkProgress struct {
	Index      int // zero-based index of the chunk just written
	Count      int // total number of chunks
	Size       int // bytes in this chunk
	BytesSent  int // cumulative bytes written
	TotalBytes int
}

// Percent is floor(BytesSent / TotalBytes * 100); an empty payload is 100.
func (p ChunkProgress) Percent() int {
	if p.TotalBytes == 0 {
		return 100
	}
	return p.BytesSent * 100 / p.TotalBytes
}

// Split partitions payload into ceil(len/size) ordered pieces.
// An empty payload yields no pieces and no trailing empty piece is produced.
// The pieces alias payload.
func Split(payload []byte, size int) [][]byte {
	if size <= 0 || len(payload) == 0 {
		return nil
	}
	chunks := make([][]byte, 0, (len(payload)+size-1)/size)
	for offset := 0; offset < len(payload); offset += size {
		end := offset + size
		if end > len(payload) {
			end = len(payload)
		}
		chunks = append(chunks, payload[offset:end])
	}
	return chunks
}

// Writer issues chunked writes strictly in order, one outstanding write at a time.
type Writer struct {
	t     transport.Transport
	clock Clock
}

// NewWriter creates a Writer. A nil clock means RealClock.
func NewWriter(t transport.Transport, clock Clock) *Writer {
	if clock == nil {
		clock = RealClock{}
	}
	return &Writer{t: t, clock: clock}
}

// Write sends payload to ep in opts.ChunkSize pieces and returns the number of
// bytes written. A chunk that fails on every attempt stops the write with a
// *ChunkWriteExhaustedError; a cancelled ctx stops it with the context cause.
// Writes to an endpoint the peer does not expose are not retried.
func (w *Writer) Write(ctx context.Context, ep transport.Endpoint, payload []byte, opts WriteOptions) (int, error) {
	if opts.ChunkSize <= 0 {
		return 0, fmt.Errorf("chunk size must be positive, got %d", opts.ChunkSize)
	}
	attempts := opts.Attempts
	if attempts < 1 {
		attempts = 1
	}

	chunks := Split(payload, opts.ChunkSize)
	sent := 0
	for i, chunk := range chunks {
		var err error
		for attempt := 1; attempt <= attempts; attempt++ {
			if ctx.Err() != nil {
				return sent, context.Cause(ctx)
			}

			err = w.writeOnce(ep, chunk, opts)
			if err == nil {
				if attempt > 1 {
					config.Debugf("Chunk %d/%d to %s succeeded on attempt %d", i+1, len(chunks), ep, attempt)
				}
				break
			}
			if errors.Is(err, transport.ErrNotConnected) {
				return sent, fmt.Errorf("%w: %v", ErrDisconnected, err)
			}
			if errors.Is(err, transport.ErrUnknownEndpoint) {
				return sent, fmt.Errorf("chunk %d: %w", i, err)
			}

			config.Debugf("Chunk %d/%d to %s failed (attempt %d/%d): %v", i+1, len(chunks), ep, attempt, attempts, err)
			if opts.OnRetry != nil {
				opts.OnRetry(i, attempt, err)
			}
			if attempt < attempts {
				if serr := w.clock.Sleep(ctx, opts.Backoff); serr != nil {
					return sent, serr
				}
			}
		}

		if err != nil {
			if serr := w.clock.Sleep(ctx, opts.Delay); serr != nil {
				return sent, serr
			}
			return sent, &ChunkWriteExhaustedError{Index: i, Attempts: attempts, Err: err}
		}

		sent += len(chunk)
		if opts.OnChunk != nil {
			opts.OnChunk(ChunkProgress{
				Index:      i,
				Count:      len(chunks),
				Size:       len(chunk),
				BytesSent:  sent,
				TotalBytes: len(payload),
			})
		}

		if serr := w.clock.Sleep(ctx, opts.Delay); serr != nil {
			return sent, serr
		}
	}

	return sent, nil
}

func (w *Writer) writeOnce(ep transport.Endpoint, chunk []byte, opts WriteOptions) error {
	if opts.Mode == FireAndForget {
		return w.t.WriteWithoutResponse(ep, chunk, opts.ChunkSize)
	}
	return w.t.WriteWithResponse(ep, chunk)
}

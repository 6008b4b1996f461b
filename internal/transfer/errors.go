package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrConfirmationTimeout means no matching notification arrived in time.
	ErrConfirmationTimeout = errors.New("confirmation timeout")

	// ErrDisconnected means the link dropped mid-session.
	ErrDisconnected = errors.New("transport disconnected")

	// ErrCancelled means the caller cancelled the session.
	ErrCancelled = errors.New("cancelled by caller")

	// ErrWaitSuperseded is returned to a waiter replaced by a newer wait on
	// the same endpoint.
	ErrWaitSuperseded = errors.New("wait superseded by a newer wait")
)

// ChunkWriteExhaustedError reports a chunk that failed on every attempt.
type ChunkWriteExhaustedError struct {
	Index    int
	Attempts int
	Err      error
}

func (e *ChunkWriteExhaustedError) Error() string {
	return fmt.Sprintf("chunk %d: write failed after %d attempts: %v", e.Index, e.Attempts, e.Err)
}

func (e *ChunkWriteExhaustedError) Unwrap() error { return e.Err }

// UnexpectedStatusError reports a confirmation outside the expected set.
type UnexpectedStatusError struct {
	Stage string
	Code  byte
	Want  byte
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status 0x%02X (want 0x%02X)", e.Stage, e.Code, e.Want)
}

// UnresolvedEndpointError reports a logical field with no matching characteristic.
type UnresolvedEndpointError struct {
	Field          string
	Characteristic string
}

func (e *UnresolvedEndpointError) Error() string {
	if e.Characteristic != "" {
		return fmt.Sprintf("field %s: characteristic %s not found", e.Field, e.Characteristic)
	}
	return fmt.Sprintf("field %s: no characteristic resolved", e.Field)
}

package ble

import "time"

const (
	// settleDelay lets the peer apply a CCCD write before traffic starts.
	settleDelay = 100 * time.Millisecond

	// notifyBuffer bounds queued notifications per subscription.
	notifyBuffer = 16

	// readBufferSize is large enough for any characteristic on the tracker.
	readBufferSize = 512
)

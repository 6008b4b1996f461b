// Package transport defines what the transfer engine needs from a BLE link.
//
// A Transport is supplied already connected; discovery, pairing and
// connection management happen elsewhere (see internal/ble).
package transport

import "errors"

var (
	// ErrNotConnected is returned by operations on a dropped link.
	ErrNotConnected = errors.New("not connected")

	// ErrUnknownEndpoint is returned for a characteristic the peer does not expose.
	ErrUnknownEndpoint = errors.New("unknown endpoint")
)

// ConfirmationEvent is one notification received from the peer.
// The first payload byte is the status code.
type ConfirmationEvent struct {
	Endpoint Endpoint
	Payload  []byte
}

// Transport is the capability surface of a connected peripheral.
type Transport interface {
	// WriteWithoutResponse writes data, splitting it into maxChunk pieces
	// when it exceeds the link's write size. maxChunk <= 0 means one write.
	WriteWithoutResponse(ep Endpoint, data []byte, maxChunk int) error

	// WriteWithResponse writes data and returns once the peer acknowledged it.
	WriteWithResponse(ep Endpoint, data []byte) error

	// Subscribe enables notifications on ep. The channel is closed on
	// Unsubscribe or disconnect.
	Subscribe(ep Endpoint) (<-chan ConfirmationEvent, error)
	Unsubscribe(ep Endpoint) error

	Read(ep Endpoint) ([]byte, error)

	// Disconnected is closed when the link drops.
	Disconnected() <-chan struct{}
}

// Characteristic describes one discovered characteristic.
type Characteristic struct {
	UUID string
}

// Service is one discovered primary service and its characteristics.
type Service struct {
	UUID            string
	Characteristics []Characteristic
}

// Discoverer exposes the discovered service layout of a connected peer.
type Discoverer interface {
	Services() ([]Service, error)
}

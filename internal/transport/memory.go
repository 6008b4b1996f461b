package transport

import (
	"errors"
	"fmt"
	"sync"

	"github.com/vitaminmoo/bluelocate/internal/config"
	"github.com/vitaminmoo/bluelocate/internal/util"
)

// notifyBuffer bounds queued notifications per subscription.
const notifyBuffer = 16

// ErrInjected is the error returned by writes scripted to fail.
var ErrInjected = errors.New("injected write failure")

// Write records one write received by a Memory peripheral.
type Write struct {
	Endpoint     Endpoint
	Data         []byte
	WithResponse bool
}

// Memory is an in-process peripheral implementing Transport and Discoverer.
// Writes are recorded, failures can be scripted per endpoint, and an
// optional handler can answer writes with notifications.
type Memory struct {
	mu        sync.Mutex
	services  []Service
	known     map[string]bool
	values    map[string][]byte
	writes    []Write
	subs      map[string]chan ConfirmationEvent
	failures  map[string]int
	onWrite   func(Write)
	down      chan struct{}
	connected bool
}

// NewMemory creates a connected peripheral exposing services.
func NewMemory(services ...Service) *Memory {
	m := &Memory{
		services:  services,
		known:     make(map[string]bool),
		values:    make(map[string][]byte),
		subs:      make(map[string]chan ConfirmationEvent),
		failures:  make(map[string]int),
		down:      make(chan struct{}),
		connected: true,
	}
	for _, svc := range services {
		for _, c := range svc.Characteristics {
			m.known[NewEndpoint(svc.UUID, c.UUID).Key()] = true
		}
	}
	return m
}

// OnWrite installs a handler called after every accepted write.
// The handler runs without the peripheral lock held and may call Notify.
func (m *Memory) OnWrite(fn func(Write)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onWrite = fn
}

// FailNextWrites makes the next n writes to ep fail with ErrInjected.
func (m *Memory) FailNextWrites(ep Endpoint, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[ep.Key()] = n
}

// Services implements Discoverer.
func (m *Memory) Services() ([]Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, ErrNotConnected
	}
	out := make([]Service, len(m.services))
	copy(out, m.services)
	return out, nil
}

func (m *Memory) WriteWithoutResponse(ep Endpoint, data []byte, maxChunk int) error {
	if maxChunk > 0 && len(data) > maxChunk {
		return fmt.Errorf("write of %d bytes exceeds max chunk %d", len(data), maxChunk)
	}
	return m.write(ep, data, false)
}

func (m *Memory) WriteWithResponse(ep Endpoint, data []byte) error {
	return m.write(ep, data, true)
}

func (m *Memory) write(ep Endpoint, data []byte, withResponse bool) error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return ErrNotConnected
	}
	key := ep.Key()
	if !m.known[key] {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownEndpoint, ep)
	}
	if n := m.failures[key]; n > 0 {
		m.failures[key] = n - 1
		m.mu.Unlock()
		config.Debugf("memory: failing write to %s (%d left)", ep, n-1)
		return ErrInjected
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	w := Write{Endpoint: ep, Data: buf, WithResponse: withResponse}
	m.writes = append(m.writes, w)
	m.values[key] = buf
	handler := m.onWrite
	m.mu.Unlock()

	if config.Verbose {
		config.Debugf("memory: write %s (%d bytes)\n%s", ep, len(buf), util.HexDump(buf))
	}
	if handler != nil {
		handler(w)
	}
	return nil
}

func (m *Memory) Subscribe(ep Endpoint) (<-chan ConfirmationEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, ErrNotConnected
	}
	key := ep.Key()
	if !m.known[key] {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEndpoint, ep)
	}
	if old, ok := m.subs[key]; ok {
		close(old)
	}
	ch := make(chan ConfirmationEvent, notifyBuffer)
	m.subs[key] = ch
	return ch, nil
}

func (m *Memory) Unsubscribe(ep Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ep.Key()
	if ch, ok := m.subs[key]; ok {
		close(ch)
		delete(m.subs, key)
	}
	return nil
}

// Subscribed reports whether notifications are enabled on ep.
func (m *Memory) Subscribed(ep Endpoint) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subs[ep.Key()]
	return ok
}

func (m *Memory) Read(ep Endpoint) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, ErrNotConnected
	}
	key := ep.Key()
	if !m.known[key] {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEndpoint, ep)
	}
	v := m.values[key]
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Notify pushes a notification to the subscriber of ep, if any.
// It returns false when nobody is subscribed or the queue is full.
func (m *Memory) Notify(ep Endpoint, payload []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.subs[ep.Key()]
	if !ok {
		return false
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	select {
	case ch <- ConfirmationEvent{Endpoint: ep, Payload: buf}:
		return true
	default:
		config.Warnf("memory: notification queue full on %s, dropping", ep)
		return false
	}
}

// Disconnect drops the link: pending subscriptions close and further
// operations fail with ErrNotConnected.
func (m *Memory) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return
	}
	m.connected = false
	for key, ch := range m.subs {
		close(ch)
		delete(m.subs, key)
	}
	close(m.down)
}

func (m *Memory) Disconnected() <-chan struct{} {
	return m.down
}

// Writes returns a copy of every accepted write, in order.
func (m *Memory) Writes() []Write {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Write, len(m.writes))
	copy(out, m.writes)
	return out
}

// WritesTo returns the accepted writes for one endpoint.
func (m *Memory) WritesTo(ep Endpoint) []Write {
	var out []Write
	for _, w := range m.Writes() {
		if w.Endpoint.Equal(ep) {
			out = append(out, w)
		}
	}
	return out
}

// Value returns the last value written to ep.
func (m *Memory) Value(ep Endpoint) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[ep.Key()]
}

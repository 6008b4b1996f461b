package ble

import (
	"fmt"
	"sync"
	"time"

	"github.com/vitaminmoo/bluelocate/internal/config"
	"github.com/vitaminmoo/bluelocate/internal/transport"
	"github.com/vitaminmoo/bluelocate/internal/util"

	"tinygo.org/x/bluetooth"
)

// Link is a connected peripheral. It implements transport.Transport and
// transport.Discoverer over tinygo bluetooth.
type Link struct {
	adapter *bluetooth.Adapter
	device  bluetooth.Device
	address string

	mu       sync.Mutex
	services []transport.Service
	chars    map[string]*bluetooth.DeviceCharacteristic
	subs     map[string]chan transport.ConfirmationEvent

	down     chan struct{}
	downOnce sync.Once
}

var (
	_ transport.Transport  = (*Link)(nil)
	_ transport.Discoverer = (*Link)(nil)
)

func newLink(adapter *bluetooth.Adapter, address string) *Link {
	return &Link{
		adapter: adapter,
		address: address,
		chars:   make(map[string]*bluetooth.DeviceCharacteristic),
		subs:    make(map[string]chan transport.ConfirmationEvent),
		down:    make(chan struct{}),
	}
}

// Address is the peer's Bluetooth address.
func (l *Link) Address() string { return l.address }

func (l *Link) connectHandler(device bluetooth.Device, connected bool) {
	address, _ := device.Address.MarshalText()
	if connected || string(address) != l.address {
		return
	}
	config.Warnf("Device %s disconnected", l.address)
	l.markDown()
}

func (l *Link) markDown() {
	l.downOnce.Do(func() {
		l.mu.Lock()
		for key, ch := range l.subs {
			close(ch)
			delete(l.subs, key)
		}
		l.mu.Unlock()
		close(l.down)
	})
}

// discover walks every service and characteristic once.
func (l *Link) discover() error {
	config.Debugf("Discovering services...")

	services, err := l.device.DiscoverServices(nil)
	if err != nil {
		return fmt.Errorf("failed to discover services: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range services {
		svcUUID := services[i].UUID().String()
		chars, err := services[i].DiscoverCharacteristics(nil)
		if err != nil {
			return fmt.Errorf("failed to discover characteristics of %s: %w", svcUUID, err)
		}

		svc := transport.Service{UUID: svcUUID}
		for j := range chars {
			charUUID := chars[j].UUID().String()
			config.Debugf("Found characteristic: %s/%s", transport.ShortID(svcUUID), transport.ShortID(charUUID))
			l.chars[transport.NewEndpoint(svcUUID, charUUID).Key()] = &chars[j]
			svc.Characteristics = append(svc.Characteristics, transport.Characteristic{UUID: charUUID})
		}
		l.services = append(l.services, svc)
	}
	return nil
}

// Services implements transport.Discoverer.
func (l *Link) Services() ([]transport.Service, error) {
	if l.isDown() {
		return nil, transport.ErrNotConnected
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]transport.Service, len(l.services))
	copy(out, l.services)
	return out, nil
}

func (l *Link) isDown() bool {
	select {
	case <-l.down:
		return true
	default:
		return false
	}
}

func (l *Link) char(ep transport.Endpoint) (*bluetooth.DeviceCharacteristic, error) {
	if l.isDown() {
		return nil, transport.ErrNotConnected
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.chars[ep.Key()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", transport.ErrUnknownEndpoint, ep)
	}
	return c, nil
}

// WriteWithoutResponse implements transport.Transport.
func (l *Link) WriteWithoutResponse(ep transport.Endpoint, data []byte, maxChunk int) error {
	c, err := l.char(ep)
	if err != nil {
		return err
	}
	if maxChunk <= 0 {
		maxChunk = len(data)
	}
	for offset := 0; offset < len(data); offset += maxChunk {
		end := offset + maxChunk
		if end > len(data) {
			end = len(data)
		}
		if _, err := c.WriteWithoutResponse(data[offset:end]); err != nil {
			return fmt.Errorf("failed to write %s: %w", ep, err)
		}
	}
	return nil
}

// WriteWithResponse implements transport.Transport.
func (l *Link) WriteWithResponse(ep transport.Endpoint, data []byte) error {
	c, err := l.char(ep)
	if err != nil {
		return err
	}
	if config.Verbose {
		config.Debugf("Write %s (%d bytes)\n%s", ep, len(data), util.HexDump(data))
	}
	if _, err := c.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", ep, err)
	}
	return nil
}

// Subscribe implements transport.Transport.
func (l *Link) Subscribe(ep transport.Endpoint) (<-chan transport.ConfirmationEvent, error) {
	c, err := l.char(ep)
	if err != nil {
		return nil, err
	}

	ch := make(chan transport.ConfirmationEvent, notifyBuffer)
	err = c.EnableNotifications(func(buf []byte) {
		config.Debugf("Notification on %s: % X", ep, buf)
		payload := make([]byte, len(buf))
		copy(payload, buf)

		l.mu.Lock()
		defer l.mu.Unlock()
		sub, ok := l.subs[ep.Key()]
		if !ok {
			return
		}
		select {
		case sub <- transport.ConfirmationEvent{Endpoint: ep, Payload: payload}:
		default:
			config.Warnf("Notification queue full on %s, dropping", ep)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enable notifications on %s: %w", ep, err)
	}

	l.mu.Lock()
	if old, ok := l.subs[ep.Key()]; ok {
		close(old)
	}
	l.subs[ep.Key()] = ch
	l.mu.Unlock()

	time.Sleep(settleDelay)
	return ch, nil
}

// Unsubscribe implements transport.Transport.
func (l *Link) Unsubscribe(ep transport.Endpoint) error {
	l.mu.Lock()
	if ch, ok := l.subs[ep.Key()]; ok {
		close(ch)
		delete(l.subs, ep.Key())
	}
	l.mu.Unlock()

	c, err := l.char(ep)
	if err != nil {
		return nil
	}
	if err := c.EnableNotifications(nil); err != nil {
		return fmt.Errorf("failed to disable notifications on %s: %w", ep, err)
	}
	return nil
}

// Read implements transport.Transport.
func (l *Link) Read(ep transport.Endpoint) ([]byte, error) {
	c, err := l.char(ep)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, readBufferSize)
	n, err := c.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", ep, err)
	}
	return buf[:n], nil
}

// Disconnected implements transport.Transport.
func (l *Link) Disconnected() <-chan struct{} { return l.down }

// Close drops the connection.
func (l *Link) Close() error {
	if l.isDown() {
		return nil
	}
	err := l.device.Disconnect()
	l.markDown()
	return err
}

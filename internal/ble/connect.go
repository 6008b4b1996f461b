package ble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vitaminmoo/bluelocate/internal/config"

	"tinygo.org/x/bluetooth"
)

// ErrDeviceNotFound is returned when no advertiser matched before the scan timeout.
var ErrDeviceNotFound = errors.New("device not found")

// ScanResult is one advertiser seen during a scan.
type ScanResult struct {
	Name    string
	Address string
	RSSI    int16
}

// Scan lists advertisers whose name contains filter (case-insensitive) until
// timeout or ctx is done. An empty filter matches every named advertiser.
func Scan(ctx context.Context, filter string, timeout time.Duration) ([]ScanResult, error) {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("failed to enable Bluetooth: %w", err)
	}

	var mu sync.Mutex
	seen := make(map[string]ScanResult)
	err := scan(ctx, adapter, timeout, func(result bluetooth.ScanResult) bool {
		name := result.LocalName()
		if name == "" || !matches(name, filter) {
			return false
		}
		address, _ := result.Address.MarshalText()
		mu.Lock()
		seen[string(address)] = ScanResult{Name: name, Address: string(address), RSSI: result.RSSI}
		mu.Unlock()
		return false
	})
	if err != nil {
		return nil, err
	}

	out := make([]ScanResult, 0, len(seen))
	for _, r := range seen {
		out = append(out, r)
	}
	return out, nil
}

// Connect scans for the first advertiser whose name contains name, connects
// and discovers its GATT table.
func Connect(ctx context.Context, name string, timeout time.Duration) (*Link, error) {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("failed to enable Bluetooth: %w", err)
	}

	config.Infof("Scanning for %s...", name)

	var found bluetooth.ScanResult
	var ok bool
	err := scan(ctx, adapter, timeout, func(result bluetooth.ScanResult) bool {
		local := result.LocalName()
		if config.Verbose && local != "" {
			address, _ := result.Address.MarshalText()
			config.Debugf("  Found: '%s' (%s)", local, string(address))
		}
		if local != "" && matches(local, name) {
			found = result
			ok = true
			return true
		}
		return false
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no advertiser named %q within %v", ErrDeviceNotFound, name, timeout)
	}

	address, _ := found.Address.MarshalText()
	config.Infof("Connecting to %s (%s)...", found.LocalName(), string(address))

	link := newLink(adapter, string(address))
	adapter.SetConnectHandler(link.connectHandler)

	device, err := adapter.Connect(found.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	link.device = device

	if err := link.discover(); err != nil {
		_ = device.Disconnect()
		return nil, err
	}

	config.Infof("Connected")
	return link, nil
}

// scan runs adapter.Scan until match returns true, timeout elapses or ctx is done.
func scan(ctx context.Context, adapter *bluetooth.Adapter, timeout time.Duration, match func(bluetooth.ScanResult) bool) error {
	stop := make(chan struct{})
	var once sync.Once
	stopScan := func() {
		once.Do(func() {
			close(stop)
			if err := adapter.StopScan(); err != nil {
				config.Debugf("StopScan: %v", err)
			}
		})
	}

	go func() {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-timer.C:
			stopScan()
		case <-ctx.Done():
			stopScan()
		case <-stop:
		}
	}()

	err := adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		if match(result) {
			stopScan()
		}
	})
	stopScan()
	if err != nil {
		return fmt.Errorf("scan error: %w", err)
	}
	return ctx.Err()
}

func matches(name, filter string) bool {
	return strings.Contains(strings.ToUpper(name), strings.ToUpper(filter))
}

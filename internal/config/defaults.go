package config

import (
	"fmt"
	"strings"
)

// Stock values for the EPSUMLABS tracker firmware.
const (
	DefaultDeviceName    = "EPSUMLABS"
	DefaultScanTimeoutMs = 15000

	DefaultOTAService = "ff00"
	DefaultOTAStart   = "ff01"
	DefaultOTAConfirm = "ff02"
	DefaultOTARawData = "ff03"

	DefaultOTAChunkSize        = 240
	DefaultOTAChunkDelayMs     = 50
	DefaultOTAAttempts         = 3
	DefaultOTABackoffMs        = 100
	DefaultOTAConfirmTimeoutMs = 5000

	DefaultPushAttempts          = 3
	DefaultPushBackoffMs         = 1000
	DefaultPushChunkDelayMs      = 1000
	DefaultPushInterFieldDelayMs = 500

	maxBaseAddress = 0xFFFFFF
)

// Default returns the built-in settings.
func Default() *Settings {
	s := &Settings{}
	Normalize(s)
	return s
}

// DefaultFields is the characteristic layout of the stock firmware.
func DefaultFields() []FieldLayout {
	slot := func(id string, n int) SlotLayout { return SlotLayout{Characteristic: id, MaxBytes: n} }
	fields := []FieldLayout{
		{Name: "url", Slots: []SlotLayout{slot("0001", 19), slot("0002", 19), slot("0003", 19)}},
		{Name: "apn", Slots: []SlotLayout{slot("0004", 19), slot("0005", 19)}},
		{Name: "topic", Slots: []SlotLayout{slot("0006", 19)}},
		{Name: "sleep-interval", Default: "4", Slots: []SlotLayout{slot("0007", 19)}},
		{Name: "port", Slots: []SlotLayout{slot("0008", 19)}},
		{Name: "data-rate", Slots: []SlotLayout{slot("0009", 19)}},
	}
	for i := 1; i <= 6; i++ {
		fields = append(fields, FieldLayout{
			Name:  fmt.Sprintf("phone-%d", i),
			Slots: []SlotLayout{slot(fmt.Sprintf("%04d", 9+i), 13)},
		})
	}
	return fields
}

// Validate checks values that cannot be defaulted.
// It must be called before Normalize.
func Validate(s *Settings) error {
	if s == nil {
		return fmt.Errorf("settings is nil")
	}

	if s.OTA.BaseAddress > maxBaseAddress {
		return fmt.Errorf("ota.base_address 0x%X exceeds 24 bits", s.OTA.BaseAddress)
	}
	if s.OTA.ChunkSize < 0 {
		return fmt.Errorf("ota.chunk_size must be positive")
	}
	if s.OTA.Attempts < 0 || s.Push.Attempts < 0 {
		return fmt.Errorf("attempts must not be negative")
	}

	seen := make(map[string]bool)
	for i, f := range s.Push.Fields {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			return fmt.Errorf("push.fields[%d]: name is required", i)
		}
		if seen[name] {
			return fmt.Errorf("push.fields[%d]: duplicate field %q", i, name)
		}
		seen[name] = true
		if len(f.Slots) == 0 {
			return fmt.Errorf("push.fields[%d] (%s): at least one slot is required", i, name)
		}
		for j, sl := range f.Slots {
			if strings.TrimSpace(sl.Characteristic) == "" {
				return fmt.Errorf("push.fields[%d].slots[%d]: characteristic is required", i, j)
			}
			if sl.MaxBytes <= 0 {
				return fmt.Errorf("push.fields[%d].slots[%d]: max_bytes must be positive", i, j)
			}
		}
	}
	return nil
}

// Normalize fills zero values with defaults.
// It MUST be called only after Validate().
func Normalize(s *Settings) {
	if s == nil {
		return
	}

	if s.Device.Name == "" {
		s.Device.Name = DefaultDeviceName
	}
	if s.Device.ScanTimeoutMs == 0 {
		s.Device.ScanTimeoutMs = DefaultScanTimeoutMs
	}

	o := &s.OTA
	if o.Service == "" {
		o.Service = DefaultOTAService
	}
	if o.Start == "" {
		o.Start = DefaultOTAStart
	}
	if o.Confirm == "" {
		o.Confirm = DefaultOTAConfirm
	}
	if o.RawData == "" {
		o.RawData = DefaultOTARawData
	}
	if o.ChunkSize == 0 {
		o.ChunkSize = DefaultOTAChunkSize
	}
	if o.ChunkDelayMs == 0 {
		o.ChunkDelayMs = DefaultOTAChunkDelayMs
	}
	if o.Attempts == 0 {
		o.Attempts = DefaultOTAAttempts
	}
	if o.BackoffMs == 0 {
		o.BackoffMs = DefaultOTABackoffMs
	}
	if o.ConfirmTimeoutMs == 0 {
		o.ConfirmTimeoutMs = DefaultOTAConfirmTimeoutMs
	}

	p := &s.Push
	if p.Attempts == 0 {
		p.Attempts = DefaultPushAttempts
	}
	if p.BackoffMs == 0 {
		p.BackoffMs = DefaultPushBackoffMs
	}
	if p.ChunkDelayMs == 0 {
		p.ChunkDelayMs = DefaultPushChunkDelayMs
	}
	if p.InterFieldDelayMs == 0 {
		p.InterFieldDelayMs = DefaultPushInterFieldDelayMs
	}
	if len(p.Fields) == 0 {
		p.Fields = DefaultFields()
	}
	for i := range p.Fields {
		p.Fields[i].Name = strings.TrimSpace(p.Fields[i].Name)
	}
}

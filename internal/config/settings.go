package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings is the on-disk configuration for the tool.
type Settings struct {
	Device DeviceSettings `yaml:"device"`
	OTA    OTASettings    `yaml:"ota"`
	Push   PushSettings   `yaml:"push"`
}

// ---- DEVICE ----

type DeviceSettings struct {
	Name          string `yaml:"name"`
	ScanTimeoutMs int    `yaml:"scan_timeout_ms"`
}

// ---- OTA ----

type OTASettings struct {
	Service string `yaml:"service"`
	Start   string `yaml:"start"`
	Confirm string `yaml:"confirm"`
	RawData string `yaml:"raw_data"`

	BaseAddress      uint32 `yaml:"base_address"`
	ChunkSize        int    `yaml:"chunk_size"`
	ChunkDelayMs     int    `yaml:"chunk_delay_ms"`
	Attempts         int    `yaml:"attempts"`
	BackoffMs        int    `yaml:"backoff_ms"`
	ConfirmTimeoutMs int    `yaml:"confirm_timeout_ms"`

	// Pointer so an absent key keeps the default (true).
	TransmitSectorCount *bool `yaml:"transmit_sector_count"`
}

// ---- CONFIG PUSH ----

type PushSettings struct {
	Attempts          int           `yaml:"attempts"`
	BackoffMs         int           `yaml:"backoff_ms"`
	ChunkDelayMs      int           `yaml:"chunk_delay_ms"`
	InterFieldDelayMs int           `yaml:"inter_field_delay_ms"`
	Fields            []FieldLayout `yaml:"fields"`
}

// FieldLayout declares which characteristics carry one logical field.
type FieldLayout struct {
	Name    string       `yaml:"name"`
	Default string       `yaml:"default,omitempty"`
	Slots   []SlotLayout `yaml:"slots"`
}

type SlotLayout struct {
	Characteristic string `yaml:"characteristic"`
	MaxBytes       int    `yaml:"max_bytes"`
}

// Durations derived from the millisecond fields.

func (o OTASettings) ChunkDelay() time.Duration {
	return time.Duration(o.ChunkDelayMs) * time.Millisecond
}

func (o OTASettings) Backoff() time.Duration {
	return time.Duration(o.BackoffMs) * time.Millisecond
}

func (o OTASettings) ConfirmTimeout() time.Duration {
	return time.Duration(o.ConfirmTimeoutMs) * time.Millisecond
}

func (o OTASettings) SendSectorCount() bool {
	return o.TransmitSectorCount == nil || *o.TransmitSectorCount
}

func (p PushSettings) Backoff() time.Duration {
	return time.Duration(p.BackoffMs) * time.Millisecond
}

func (p PushSettings) ChunkDelay() time.Duration {
	return time.Duration(p.ChunkDelayMs) * time.Millisecond
}

func (p PushSettings) InterFieldDelay() time.Duration {
	return time.Duration(p.InterFieldDelayMs) * time.Millisecond
}

func (d DeviceSettings) ScanTimeout() time.Duration {
	return time.Duration(d.ScanTimeoutMs) * time.Millisecond
}

// DefaultPath returns ~/.config/bluelocate/config.yaml.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "bluelocate", "config.yaml"), nil
}

// Load reads settings from path. A missing file yields the defaults.
// The result has been validated and normalized.
func Load(path string) (*Settings, error) {
	s := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			Debugf("No settings at %s, using defaults", path)
			return s, nil
		}
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	var file Settings
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse settings %s: %w", path, err)
	}

	if err := Validate(&file); err != nil {
		return nil, fmt.Errorf("invalid settings %s: %w", path, err)
	}
	Normalize(&file)
	return &file, nil
}

// Save writes settings as YAML, creating the parent directory.
func Save(path string, s *Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create settings dir: %w", err)
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

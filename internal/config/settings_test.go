package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	s := Default()

	if s.Device.Name != "EPSUMLABS" {
		t.Errorf("Device.Name = %q, want EPSUMLABS", s.Device.Name)
	}
	if s.OTA.ChunkSize != 240 {
		t.Errorf("OTA.ChunkSize = %d, want 240", s.OTA.ChunkSize)
	}
	if s.OTA.ChunkDelay() != 50*time.Millisecond {
		t.Errorf("OTA.ChunkDelay() = %v, want 50ms", s.OTA.ChunkDelay())
	}
	if s.OTA.ConfirmTimeout() != 5*time.Second {
		t.Errorf("OTA.ConfirmTimeout() = %v, want 5s", s.OTA.ConfirmTimeout())
	}
	if !s.OTA.SendSectorCount() {
		t.Error("SendSectorCount() should default to true")
	}
	if s.Push.Attempts != 3 {
		t.Errorf("Push.Attempts = %d, want 3", s.Push.Attempts)
	}
	if len(s.Push.Fields) != 12 {
		t.Fatalf("len(Push.Fields) = %d, want 12", len(s.Push.Fields))
	}

	caps := map[string]int{}
	for _, f := range s.Push.Fields {
		total := 0
		for _, sl := range f.Slots {
			total += sl.MaxBytes
		}
		caps[f.Name] = total
	}
	want := map[string]int{"url": 57, "apn": 38, "topic": 19, "phone-1": 13, "phone-6": 13}
	for name, c := range want {
		if caps[name] != c {
			t.Errorf("cap(%s) = %d, want %d", name, caps[name], c)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s.OTA.Start != DefaultOTAStart {
		t.Errorf("OTA.Start = %q, want %q", s.OTA.Start, DefaultOTAStart)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
device:
  name: TRACKER
ota:
  base_address: 0x010000
  chunk_size: 180
  transmit_sector_count: false
push:
  fields:
    - name: url
      slots:
        - characteristic: "00AA"
          max_bytes: 20
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s.Device.Name != "TRACKER" {
		t.Errorf("Device.Name = %q", s.Device.Name)
	}
	if s.OTA.BaseAddress != 0x010000 {
		t.Errorf("BaseAddress = 0x%X", s.OTA.BaseAddress)
	}
	if s.OTA.ChunkSize != 180 {
		t.Errorf("ChunkSize = %d", s.OTA.ChunkSize)
	}
	if s.OTA.SendSectorCount() {
		t.Error("SendSectorCount() = true, want false")
	}
	if s.OTA.ChunkDelayMs != DefaultOTAChunkDelayMs {
		t.Errorf("ChunkDelayMs = %d, want default", s.OTA.ChunkDelayMs)
	}
	if len(s.Push.Fields) != 1 || s.Push.Fields[0].Slots[0].MaxBytes != 20 {
		t.Errorf("Push.Fields = %+v", s.Push.Fields)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{
			name:    "base address over 24 bits",
			mutate:  func(s *Settings) { s.OTA.BaseAddress = 0x1000000 },
			wantErr: "exceeds 24 bits",
		},
		{
			name: "duplicate field",
			mutate: func(s *Settings) {
				s.Push.Fields = []FieldLayout{
					{Name: "url", Slots: []SlotLayout{{Characteristic: "0001", MaxBytes: 19}}},
					{Name: "url", Slots: []SlotLayout{{Characteristic: "0002", MaxBytes: 19}}},
				}
			},
			wantErr: "duplicate",
		},
		{
			name: "slot without size",
			mutate: func(s *Settings) {
				s.Push.Fields = []FieldLayout{{Name: "topic", Slots: []SlotLayout{{Characteristic: "0006"}}}}
			},
			wantErr: "max_bytes",
		},
		{
			name: "field without slots",
			mutate: func(s *Settings) {
				s.Push.Fields = []FieldLayout{{Name: "topic"}}
			},
			wantErr: "at least one slot",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Settings{}
			tt.mutate(s)
			err := Validate(s)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	s := Default()
	s.Device.Name = "BENCH"

	if err := Save(path, s); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Device.Name != "BENCH" {
		t.Errorf("Device.Name = %q, want BENCH", got.Device.Name)
	}
}

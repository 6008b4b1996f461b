package firmware

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSectorCount(t *testing.T) {
	tests := []struct {
		n    int
		want int
	}{
		{0, 4},
		{1, 5},
		{8192, 5},
		{8193, 6},
		{16384, 6},
		{1000, 5},
		{1 << 20, 132},
	}

	for _, tt := range tests {
		if got := SectorCount(tt.n); got != tt.want {
			t.Errorf("SectorCount(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}

func TestNewCopies(t *testing.T) {
	data := []byte{1, 2, 3}
	img := New("x.bin", data)
	data[0] = 9
	if img.Bytes()[0] != 1 {
		t.Error("New should copy its input")
	}
	if img.Len() != 3 || img.Name() != "x.bin" {
		t.Errorf("img = %q len %d", img.Name(), img.Len())
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fw.bin")
	if err := os.WriteFile(path, make([]byte, 20000), 0o644); err != nil {
		t.Fatal(err)
	}

	img, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	est := img.Estimate(240)
	if est.Size != 20000 || est.SectorCount != 7 || est.Chunks != 84 {
		t.Errorf("Estimate() = %+v", est)
	}
	if est.HumanSize != "20 kB" {
		t.Errorf("HumanSize = %q", est.HumanSize)
	}
	if !strings.Contains(est.String(), "20,000 bytes") {
		t.Errorf("String() = %q", est.String())
	}

	empty := filepath.Join(dir, "empty.bin")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(empty); !errors.Is(err, ErrEmptyImage) {
		t.Errorf("Load(empty) error = %v", err)
	}
	if _, err := Load(filepath.Join(dir, "missing.bin")); err == nil {
		t.Error("Load(missing) should fail")
	}
}

func esp32Image(segments ...[]byte) []byte {
	hdr := make([]byte, ESP32HeaderSize)
	hdr[0] = ESP32ImageMagic
	hdr[1] = byte(len(segments))
	binary.LittleEndian.PutUint32(hdr[4:], 0x40080000)
	binary.LittleEndian.PutUint16(hdr[12:], 0x0009)
	out := hdr
	for i, seg := range segments {
		sh := make([]byte, ESP32SegmentHdrSize)
		binary.LittleEndian.PutUint32(sh, 0x3C000000+uint32(i)*0x10000)
		binary.LittleEndian.PutUint32(sh[4:], uint32(len(seg)))
		out = append(out, sh...)
		out = append(out, seg...)
	}
	return out
}

func TestInspectESP32(t *testing.T) {
	data := esp32Image([]byte{1, 2, 3, 4}, make([]byte, 16))

	info := InspectESP32(New("app.bin", data))
	if info == nil {
		t.Fatal("InspectESP32() = nil")
	}
	if info.Chip() != "ESP32-S3" || len(info.Segments) != 2 {
		t.Errorf("info = %s", info)
	}
	if info.Segments[1].Offset != ESP32HeaderSize+ESP32SegmentHdrSize+4+ESP32SegmentHdrSize {
		t.Errorf("segment offset = %d", info.Segments[1].Offset)
	}
	if got := info.String(); got != "ESP32-S3 app image, 2 segments, entry 0x40080000" {
		t.Errorf("String() = %q", got)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"short", []byte{ESP32ImageMagic, 1}},
		{"wrong magic", make([]byte, 64)},
		{"truncated segment", data[:len(data)-1]},
	}
	for _, tt := range tests {
		if InspectESP32(New(tt.name, tt.data)) != nil {
			t.Errorf("%s: expected nil", tt.name)
		}
	}
}

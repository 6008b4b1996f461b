package firmware

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
)

// SectorSize is the device flash sector size used for the erase estimate.
const SectorSize = 8192

// sectorMargin is added to every sector estimate.
const sectorMargin = 4

// ErrEmptyImage is returned when loading a zero-length firmware file.
var ErrEmptyImage = errors.New("firmware image is empty")

// Image is an immutable firmware payload.
type Image struct {
	name string
	data []byte
}

// New wraps data as an image. The slice is copied.
func New(name string, data []byte) *Image {
	buf := make([]byte, len(data))
	copy(buf, data)
	return &Image{name: name, data: buf}
}

// Load reads a firmware image from disk.
func Load(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read firmware: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyImage)
	}
	return &Image{name: filepath.Base(path), data: data}, nil
}

func (img *Image) Name() string { return img.name }

func (img *Image) Len() int { return len(img.data) }

// Bytes returns the payload. Callers must not modify it.
func (img *Image) Bytes() []byte { return img.data }

// SectorCount is ceil(Len / SectorSize) + 4.
func (img *Image) SectorCount() int {
	return SectorCount(len(img.data))
}

// SectorCount computes the sector estimate for a payload of n bytes.
func SectorCount(n int) int {
	return (n+SectorSize-1)/SectorSize + sectorMargin
}

// Estimate is what the user confirms before an upload starts.
type Estimate struct {
	Name        string
	Size        int
	HumanSize   string
	SectorCount int
	Chunks      int
}

// Estimate describes the upload of img using chunkSize-byte writes.
func (img *Image) Estimate(chunkSize int) Estimate {
	chunks := 0
	if chunkSize > 0 {
		chunks = (len(img.data) + chunkSize - 1) / chunkSize
	}
	return Estimate{
		Name:        img.name,
		Size:        len(img.data),
		HumanSize:   humanize.Bytes(uint64(len(img.data))),
		SectorCount: img.SectorCount(),
		Chunks:      chunks,
	}
}

func (e Estimate) String() string {
	return fmt.Sprintf("%s: %s (%s bytes), %d sectors, %d chunks",
		e.Name, e.HumanSize, humanize.Comma(int64(e.Size)), e.SectorCount, e.Chunks)
}

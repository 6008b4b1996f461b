package firmware

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// ESP32 app image layout constants.
const (
	ESP32ImageMagic     = 0xE9
	ESP32HeaderSize     = 24 // main header incl. extended header
	ESP32SegmentHdrSize = 8  // load_addr + data_len
)

// ESP32ImageHeader is the main header of an ESP32 app image.
type ESP32ImageHeader struct {
	Magic        uint8
	SegmentCount uint8
	SPIMode      uint8
	SPISpeed     uint8
	EntryAddr    uint32
	WPPin        uint8
	SPIPinDrv    [3]uint8
	ChipID       uint16
	MinChipRev   uint8
	MinRevFull   uint16
	MaxRevFull   uint16
	Reserved     [4]uint8
	HashAppended uint8
}

// ESP32Segment is one load segment of an image.
type ESP32Segment struct {
	LoadAddr uint32
	DataLen  uint32
	Offset   int // where segment data starts in the image
}

// ESP32Info describes an image that carries an ESP32 app header.
// It is informational; upload never depends on it.
type ESP32Info struct {
	Header   ESP32ImageHeader
	Segments []ESP32Segment
}

// Chip names the target from the header chip id.
func (i *ESP32Info) Chip() string {
	switch i.Header.ChipID {
	case 0x0000:
		return "ESP32"
	case 0x0002:
		return "ESP32-S2"
	case 0x0005:
		return "ESP32-C3"
	case 0x0009:
		return "ESP32-S3"
	case 0x000C:
		return "ESP32-C2"
	case 0x000D:
		return "ESP32-C6"
	default:
		return fmt.Sprintf("chip 0x%04x", i.Header.ChipID)
	}
}

func (i *ESP32Info) String() string {
	return fmt.Sprintf("%s app image, %d segments, entry 0x%08x", i.Chip(), len(i.Segments), i.Header.EntryAddr)
}

// InspectESP32 parses the ESP32 app header of img. It returns nil when the
// image does not start with the ESP32 magic or the segment table is cut short.
func InspectESP32(img *Image) *ESP32Info {
	data := img.Bytes()
	if len(data) < ESP32HeaderSize || data[0] != ESP32ImageMagic {
		return nil
	}

	info := &ESP32Info{}
	r := bytes.NewReader(data)
	if err := binary.Read(r, binary.LittleEndian, &info.Header); err != nil {
		return nil
	}

	offset := ESP32HeaderSize
	for n := 0; n < int(info.Header.SegmentCount); n++ {
		if offset+ESP32SegmentHdrSize > len(data) {
			return nil
		}
		seg := ESP32Segment{
			LoadAddr: binary.LittleEndian.Uint32(data[offset:]),
			DataLen:  binary.LittleEndian.Uint32(data[offset+4:]),
			Offset:   offset + ESP32SegmentHdrSize,
		}
		if seg.Offset+int(seg.DataLen) > len(data) {
			return nil
		}
		info.Segments = append(info.Segments, seg)
		offset = seg.Offset + int(seg.DataLen)
	}
	return info
}

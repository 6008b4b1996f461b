package protocol

import (
	"errors"
	"fmt"
)

// Action is the first byte of a command frame.
type Action byte

const (
	ActionStart     Action = 0x02
	ActionEndOfFile Action = 0x06
	ActionFinish    Action = 0x07
)

func (a Action) String() string {
	switch a {
	case ActionStart:
		return "start"
	case ActionEndOfFile:
		return "end-of-file"
	case ActionFinish:
		return "finish"
	default:
		return fmt.Sprintf("action(0x%02x)", byte(a))
	}
}

// FrameSize is the fixed length of an encoded command.
const FrameSize = 5

// MaxBaseAddress is the largest address a frame can carry (24 bits).
const MaxBaseAddress = 0xFFFFFF

// MaxSectorCount is the largest sector count a start frame can carry.
const MaxSectorCount = 0xFF

// ErrFieldRange is returned when a command field does not fit its wire width.
var ErrFieldRange = errors.New("command field out of range")

// Command is one transfer command sent to the start characteristic.
// Only Start carries a sector count; it is zero for the others.
//
// Wire format:
//
//	byte 0:    action
//	bytes 1-3: base address (big-endian, 24 bits)
//	byte 4:    sector count
type Command struct {
	Action      Action
	BaseAddress uint32
	SectorCount int
}

// Start announces an upload of sectorCount flash sectors at baseAddress.
func Start(baseAddress uint32, sectorCount int) Command {
	return Command{Action: ActionStart, BaseAddress: baseAddress, SectorCount: sectorCount}
}

// EndOfFile marks the end of the raw data stream.
func EndOfFile(baseAddress uint32) Command {
	return Command{Action: ActionEndOfFile, BaseAddress: baseAddress}
}

// Finish asks the peer to activate the image and reboot.
func Finish(baseAddress uint32) Command {
	return Command{Action: ActionFinish, BaseAddress: baseAddress}
}

func (c Command) String() string {
	if c.Action == ActionStart {
		return fmt.Sprintf("%s{addr=0x%06X, sectors=%d}", c.Action, c.BaseAddress, c.SectorCount)
	}
	return fmt.Sprintf("%s{addr=0x%06X}", c.Action, c.BaseAddress)
}

// Encode returns the 5-byte wire form of c.
func Encode(c Command) ([]byte, error) {
	if c.BaseAddress > MaxBaseAddress {
		return nil, fmt.Errorf("%w: base address 0x%X exceeds 24 bits", ErrFieldRange, c.BaseAddress)
	}
	if c.SectorCount < 0 || c.SectorCount > MaxSectorCount {
		return nil, fmt.Errorf("%w: sector count %d does not fit in one byte", ErrFieldRange, c.SectorCount)
	}

	frame := make([]byte, FrameSize)
	frame[0] = byte(c.Action)
	frame[1] = byte(c.BaseAddress >> 16)
	frame[2] = byte(c.BaseAddress >> 8)
	frame[3] = byte(c.BaseAddress)
	frame[4] = byte(c.SectorCount)
	return frame, nil
}

// Decode parses a wire frame back into a Command.
func Decode(frame []byte) (Command, error) {
	if len(frame) != FrameSize {
		return Command{}, &MalformedFrameError{Want: FrameSize, Got: len(frame)}
	}

	a := Action(frame[0])
	switch a {
	case ActionStart, ActionEndOfFile, ActionFinish:
	default:
		return Command{}, &MalformedFrameError{Want: FrameSize, Got: len(frame), Reason: "unknown " + a.String()}
	}

	return Command{
		Action:      a,
		BaseAddress: uint32(frame[1])<<16 | uint32(frame[2])<<8 | uint32(frame[3]),
		SectorCount: int(frame[4]),
	}, nil
}

// MalformedFrameError reports a payload with an unexpected length or content.
type MalformedFrameError struct {
	Want   int
	Got    int
	Reason string
}

func (e *MalformedFrameError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("malformed frame: %s", e.Reason)
	}
	return fmt.Sprintf("malformed frame: want %d bytes, got %d", e.Want, e.Got)
}

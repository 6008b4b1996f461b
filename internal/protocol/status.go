package protocol

import "fmt"

// Status is the first byte of a confirmation notification.
type Status byte

const (
	StatusRebootConfirmed Status = 0x01
	StatusReady           Status = 0x02
)

func (s Status) String() string {
	switch s {
	case StatusRebootConfirmed:
		return "reboot-confirmed"
	case StatusReady:
		return "ready"
	default:
		return fmt.Sprintf("status(0x%02x)", byte(s))
	}
}

// DecodeStatus extracts the status code from a confirmation payload.
// Trailing bytes are peer-defined and ignored.
func DecodeStatus(payload []byte) (Status, error) {
	if len(payload) == 0 {
		return 0, &MalformedFrameError{Want: 1, Got: 0}
	}
	return Status(payload[0]), nil
}

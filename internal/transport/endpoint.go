package transport

import (
	"strings"

	"github.com/google/uuid"
)

// bluetoothBaseSuffix completes a 16- or 32-bit SIG short id into a full UUID.
const bluetoothBaseSuffix = "-0000-1000-8000-00805f9b34fb"

// Endpoint identifies one characteristic within a service.
// Comparison is case-insensitive and treats short ids ("0001") and their
// expansion on the Bluetooth base UUID as the same characteristic.
type Endpoint struct {
	Service        string
	Characteristic string
}

// NewEndpoint is shorthand for Endpoint{service, characteristic}.
func NewEndpoint(service, characteristic string) Endpoint {
	return Endpoint{Service: service, Characteristic: characteristic}
}

// Key is the normalized form used for map lookups.
func (e Endpoint) Key() string {
	return NormalizeUUID(e.Service) + "/" + NormalizeUUID(e.Characteristic)
}

// Equal reports whether e and o name the same characteristic.
func (e Endpoint) Equal(o Endpoint) bool {
	return e.Key() == o.Key()
}

func (e Endpoint) String() string {
	return ShortID(e.Service) + "/" + ShortID(e.Characteristic)
}

// NormalizeUUID lowercases id and expands 16/32-bit short ids to full UUIDs.
// Strings that are not UUIDs are returned lowercased and trimmed.
func NormalizeUUID(id string) string {
	s := strings.ToLower(strings.TrimSpace(id))
	s = strings.TrimPrefix(s, "0x")
	switch len(s) {
	case 4:
		s = "0000" + s + bluetoothBaseSuffix
	case 8:
		s = s + bluetoothBaseSuffix
	}
	if u, err := uuid.Parse(s); err == nil {
		return u.String()
	}
	return s
}

// ShortID returns the 16-bit form of a base UUID, or the normalized UUID otherwise.
func ShortID(id string) string {
	n := NormalizeUUID(id)
	if strings.HasPrefix(n, "0000") && strings.HasSuffix(n, bluetoothBaseSuffix) && len(n) == 36 {
		return n[4:8]
	}
	return n
}

// IsGenericService reports whether id is the GAP (0x1800) or GATT (0x1801) service.
func IsGenericService(id string) bool {
	s := ShortID(id)
	return s == "1800" || s == "1801"
}

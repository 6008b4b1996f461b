package fields

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Well-known field names of the stock layout.
const (
	FieldURL           = "url"
	FieldAPN           = "apn"
	FieldTopic         = "topic"
	FieldSleepInterval = "sleep-interval"
	FieldPort          = "port"
	FieldDataRate      = "data-rate"
)

// PhoneField returns the name of phone slot n (1-based).
func PhoneField(n int) string {
	return fmt.Sprintf("phone-%d", n)
}

// SleepIntervals are the sleep periods, in minutes, the firmware accepts.
var SleepIntervals = []int{4, 8, 12, 16}

// Values maps field names to the strings to write.
type Values map[string]string

// Clone returns an independent copy.
func (v Values) Clone() Values {
	out := make(Values, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Merge overlays non-empty entries of o onto a copy of v.
func (v Values) Merge(o Values) Values {
	out := v.Clone()
	for k, val := range o {
		if val != "" {
			out[k] = val
		}
	}
	return out
}

// WithDefaults fills empty fields from the layout defaults of fm.
func (v Values) WithDefaults(fm *FieldMap) Values {
	out := v.Clone()
	for _, name := range fm.Names() {
		if out[name] == "" {
			if d := fm.Default(name); d != "" {
				out[name] = d
			}
		}
	}
	return out
}

// Keys returns the field names in sorted order.
func (v Values) Keys() []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate checks the fields whose format the firmware constrains.
func (v Values) Validate() error {
	var errs []error

	if s := v[FieldSleepInterval]; s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || !validSleep(n) {
			errs = append(errs, fmt.Errorf("%s: %q is not one of %v minutes", FieldSleepInterval, s, SleepIntervals))
		}
	}
	for _, name := range []string{FieldPort, FieldDataRate} {
		if s := v[name]; s != "" && !isDigits(s) {
			errs = append(errs, fmt.Errorf("%s: %q is not numeric", name, s))
		}
	}
	for _, name := range v.Keys() {
		if !strings.HasPrefix(name, "phone-") || v[name] == "" {
			continue
		}
		if !isPhone(v[name]) {
			errs = append(errs, fmt.Errorf("%s: %q is not a phone number", name, v[name]))
		}
	}

	return errors.Join(errs...)
}

func validSleep(n int) bool {
	for _, s := range SleepIntervals {
		if n == s {
			return true
		}
	}
	return false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isPhone(s string) bool {
	return isDigits(strings.TrimPrefix(s, "+"))
}

// Truncate cuts s to at most limit bytes without splitting a UTF-8 sequence.
func Truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	if limit <= 0 {
		return ""
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// SplitSlots spreads value over slots in order. Slots past the end of value
// get nothing; the result has one entry per slot that receives bytes.
func SplitSlots(value []byte, slots []Slot) [][]byte {
	var parts [][]byte
	for _, s := range slots {
		if len(value) == 0 {
			break
		}
		n := s.MaxBytes
		if n > len(value) {
			n = len(value)
		}
		parts = append(parts, value[:n])
		value = value[n:]
	}
	return parts
}

// Scan is the content of a provisioning QR code.
type Scan struct {
	Values   Values
	DeviceID string
}

// ParseScan decodes the JSON payload of a provisioning QR code:
//
//	{"url": "...", "apn": "...", "topic": "...", "sleepTime": 8,
//	 "port": "1883", "dataRate": "60", "scannedData": "<device id>"}
//
// Numbers and strings are both accepted; the URL is trimmed.
func ParseScan(data []byte) (*Scan, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid QR code data: %w", err)
	}

	str := func(key string) (string, error) {
		switch v := raw[key].(type) {
		case nil:
			return "", nil
		case string:
			return v, nil
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		default:
			return "", fmt.Errorf("invalid QR code data: %s has type %T", key, v)
		}
	}

	scan := &Scan{Values: Values{}}
	keys := []struct{ json, field string }{
		{"url", FieldURL},
		{"apn", FieldAPN},
		{"topic", FieldTopic},
		{"sleepTime", FieldSleepInterval},
		{"port", FieldPort},
		{"dataRate", FieldDataRate},
	}
	for _, k := range keys {
		s, err := str(k.json)
		if err != nil {
			return nil, err
		}
		if k.field == FieldURL {
			s = strings.TrimSpace(s)
		}
		if s != "" {
			scan.Values[k.field] = s
		}
	}

	id, err := str("scannedData")
	if err != nil {
		return nil, err
	}
	scan.DeviceID = id
	return scan, nil
}

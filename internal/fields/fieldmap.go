// Package fields pushes named configuration values to the device, each
// field spread over one or more bounded characteristics.
package fields

import (
	"fmt"

	"github.com/vitaminmoo/bluelocate/internal/config"
	"github.com/vitaminmoo/bluelocate/internal/transfer"
	"github.com/vitaminmoo/bluelocate/internal/transport"
)

// Slot is one characteristic carrying part of a field.
type Slot struct {
	Endpoint transport.Endpoint
	MaxBytes int
}

// Field is a logical configuration value and the slots it overflows into.
type Field struct {
	Name    string
	Default string
	Slots   []Slot
}

// Cap is the total number of bytes the field can hold.
func (f Field) Cap() int {
	n := 0
	for _, s := range f.Slots {
		n += s.MaxBytes
	}
	return n
}

type entry struct {
	field Field
	err   error
}

// FieldMap is the ordered field layout resolved against one device.
type FieldMap struct {
	entries []entry
	index   map[string]int
}

// BuildFieldMap discovers services on d and resolves layout against them.
func BuildFieldMap(d transport.Discoverer, layout []config.FieldLayout) (*FieldMap, error) {
	services, err := d.Services()
	if err != nil {
		return nil, fmt.Errorf("failed to discover services: %w", err)
	}
	return NewFieldMap(services, layout), nil
}

// NewFieldMap resolves each slot's characteristic against services. Generic
// access and attribute services are ignored. A field with any missing slot is
// kept as unresolved so the push can report it instead of silently skipping.
func NewFieldMap(services []transport.Service, layout []config.FieldLayout) *FieldMap {
	owner := make(map[string]string)
	for _, svc := range services {
		if transport.IsGenericService(svc.UUID) {
			continue
		}
		for _, c := range svc.Characteristics {
			id := transport.NormalizeUUID(c.UUID)
			if prev, ok := owner[id]; ok {
				config.Debugf("Characteristic %s exposed by %s and %s, using the first", transport.ShortID(id), prev, svc.UUID)
				continue
			}
			owner[id] = svc.UUID
		}
	}

	fm := &FieldMap{index: make(map[string]int)}
	for _, l := range layout {
		e := entry{field: Field{Name: l.Name, Default: l.Default}}
		for _, s := range l.Slots {
			svc, ok := owner[transport.NormalizeUUID(s.Characteristic)]
			if !ok {
				e.err = &transfer.UnresolvedEndpointError{Field: l.Name, Characteristic: s.Characteristic}
				break
			}
			e.field.Slots = append(e.field.Slots, Slot{
				Endpoint: transport.NewEndpoint(svc, s.Characteristic),
				MaxBytes: s.MaxBytes,
			})
		}
		if e.err == nil && len(e.field.Slots) == 0 {
			e.err = &transfer.UnresolvedEndpointError{Field: l.Name}
		}
		if e.err != nil {
			e.field.Slots = nil
			config.Warnf("Field %s unavailable: %v", l.Name, e.err)
		}
		fm.index[l.Name] = len(fm.entries)
		fm.entries = append(fm.entries, e)
	}
	return fm
}

// Names lists every field in layout order, resolved or not.
func (fm *FieldMap) Names() []string {
	names := make([]string, len(fm.entries))
	for i, e := range fm.entries {
		names[i] = e.field.Name
	}
	return names
}

// Fields returns the resolved fields in layout order.
func (fm *FieldMap) Fields() []Field {
	var out []Field
	for _, e := range fm.entries {
		if e.err == nil {
			out = append(out, e.field)
		}
	}
	return out
}

// Lookup returns the field called name. Unresolved fields have no slots.
func (fm *FieldMap) Lookup(name string) (Field, bool) {
	i, ok := fm.index[name]
	if !ok {
		return Field{}, false
	}
	return fm.entries[i].field, true
}

// Err is the resolution error of a field, nil when it resolved.
func (fm *FieldMap) Err(name string) error {
	if i, ok := fm.index[name]; ok {
		return fm.entries[i].err
	}
	return nil
}

// Unresolved returns the resolution errors in layout order.
func (fm *FieldMap) Unresolved() []error {
	var out []error
	for _, e := range fm.entries {
		if e.err != nil {
			out = append(out, e.err)
		}
	}
	return out
}

// Default returns the layout default of a field.
func (fm *FieldMap) Default(name string) string {
	if i, ok := fm.index[name]; ok {
		return fm.entries[i].field.Default
	}
	return ""
}

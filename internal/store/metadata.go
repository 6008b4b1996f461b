package store

import (
	"time"

	"github.com/vitaminmoo/bluelocate/internal/fields"
)

// Profile is a named, saved set of configuration values.
type Profile struct {
	Name        string        `json:"name"`
	ContentHash string        `json:"content_hash"`
	Values      fields.Values `json:"values"`
	Sources     []Source      `json:"sources"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Source records where a profile's values came from.
type Source struct {
	Timestamp time.Time `json:"timestamp"`
	Method    string    `json:"method"` // "push", "scan", "import"
	DeviceID  string    `json:"device_id,omitempty"`
	Filename  string    `json:"filename,omitempty"`
}

// Fields lists the non-empty field names in sorted order.
func (p *Profile) Fields() []string {
	var out []string
	for _, k := range p.Values.Keys() {
		if p.Values[k] != "" {
			out = append(out, k)
		}
	}
	return out
}

func newProfile(name string, values fields.Values, source Source, now time.Time) *Profile {
	return &Profile{
		Name:        name,
		ContentHash: ContentHash(values),
		Values:      values.Clone(),
		Sources:     []Source{source},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

package store

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vitaminmoo/bluelocate/internal/fields"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	tick := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		tick = tick.Add(time.Minute)
		return tick
	}
	return s
}

func TestContentHash(t *testing.T) {
	a := fields.Values{fields.FieldURL: "mqtt.example.com", fields.FieldPort: "1883"}
	b := fields.Values{fields.FieldPort: "1883", fields.FieldURL: "mqtt.example.com", fields.FieldAPN: ""}
	c := fields.Values{fields.FieldURL: "mqtt.example.com", fields.FieldPort: "8883"}

	if ContentHash(a) != ContentHash(b) {
		t.Error("hash depends on order or empty fields")
	}
	if ContentHash(a) == ContentHash(c) {
		t.Error("different values share a hash")
	}
	if !strings.HasPrefix(ContentHash(a), "sha256:") {
		t.Errorf("hash %q lacks prefix", ContentHash(a))
	}
	if got := ShortHash(ContentHash(a)); len(got) != 12 {
		t.Errorf("ShortHash() = %q", got)
	}
	if got := ShortHash("abc"); got != "abc" {
		t.Errorf("ShortHash(short) = %q", got)
	}
}

func TestSaveAndGet(t *testing.T) {
	s := openTemp(t)
	values := fields.Values{fields.FieldURL: "mqtt.example.com", fields.FieldTopic: "fleet/7"}

	p, isNew, err := s.Save("fleet", values, Source{Method: "push", DeviceID: "AA:BB"})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if !isNew || p.ContentHash != ContentHash(values) {
		t.Errorf("Save() = %+v, new=%v", p, isNew)
	}

	values[fields.FieldTopic] = "mutated"
	got, err := s.Get("fleet")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Values[fields.FieldTopic] != "fleet/7" {
		t.Errorf("stored topic = %q", got.Values[fields.FieldTopic])
	}
	if len(got.Sources) != 1 || got.Sources[0].Timestamp.IsZero() {
		t.Errorf("sources = %+v", got.Sources)
	}

	p, isNew, err = s.Save("fleet", fields.Values{fields.FieldURL: "other"}, Source{Method: "import"})
	if err != nil {
		t.Fatal(err)
	}
	if isNew || len(p.Sources) != 2 || !p.UpdatedAt.After(p.CreatedAt) {
		t.Errorf("resave = %+v, new=%v", p, isNew)
	}
	if n, _ := s.Count(); n != 1 {
		t.Errorf("Count() = %d", n)
	}
}

func TestListNewestFirst(t *testing.T) {
	s := openTemp(t)
	for _, name := range []string{"a", "b", "c"} {
		if _, _, err := s.Save(name, fields.Values{fields.FieldPort: "1"}, Source{Method: "import"}); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	if strings.Join(names, ",") != "c,b,a" {
		t.Errorf("List() order = %v", names)
	}
	if entries[0].FieldCount != 1 {
		t.Errorf("FieldCount = %d", entries[0].FieldCount)
	}
}

func TestFindByHash(t *testing.T) {
	s := openTemp(t)
	values := fields.Values{fields.FieldAPN: "internet"}
	p, _, err := s.Save("apn", values, Source{Method: "scan"})
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.FindByHash(ShortHash(p.ContentHash))
	if err != nil || got.Name != "apn" {
		t.Errorf("FindByHash() = %v, %v", got, err)
	}
	if _, err := s.FindByHash("zzzz"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindByHash(miss) error = %v", err)
	}
}

func TestDelete(t *testing.T) {
	s := openTemp(t)
	if _, _, err := s.Save("gone", fields.Values{fields.FieldPort: "1"}, Source{Method: "import"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("gone"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get("gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete error = %v", err)
	}
	if err := s.Delete("gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete error = %v", err)
	}
	if n, _ := s.Count(); n != 0 {
		t.Errorf("Count() = %d", n)
	}
}

func TestInvalidNames(t *testing.T) {
	s := openTemp(t)
	for _, name := range []string{"", ".", "..", "../x", `a\b`} {
		if _, _, err := s.Save(name, fields.Values{}, Source{}); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Save(%q) error = %v", name, err)
		}
	}
}

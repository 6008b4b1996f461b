// Package store keeps named configuration profiles on disk.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/vitaminmoo/bluelocate/internal/fields"
)

var (
	// ErrNotFound is returned for a profile name the store does not hold.
	ErrNotFound = errors.New("profile not found")

	// ErrInvalidName is returned for names that cannot be used as file names.
	ErrInvalidName = errors.New("invalid profile name")
)

// Store manages a collection of configuration profiles.
type Store struct {
	baseDir     string
	profilesDir string
	indexPath   string

	now func() time.Time
}

// Index contains quick lookup information for all profiles.
type Index struct {
	Profiles  map[string]IndexEntry `json:"profiles"` // name -> entry
	UpdatedAt time.Time             `json:"updated_at"`
}

// IndexEntry contains summary info for quick listing.
type IndexEntry struct {
	Name        string    `json:"name"`
	ContentHash string    `json:"content_hash"`
	FieldCount  int       `json:"field_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DefaultPath returns the default store path (~/.bluelocate/profiles).
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".bluelocate", "profiles"), nil
}

// Open opens or creates a store at the given path.
func Open(path string) (*Store, error) {
	s := &Store{
		baseDir:     path,
		profilesDir: filepath.Join(path, "profiles"),
		indexPath:   filepath.Join(path, "index.json"),
		now:         time.Now,
	}

	if err := os.MkdirAll(s.profilesDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create profiles dir: %w", err)
	}

	return s, nil
}

// OpenDefault opens the store at the default path.
func OpenDefault() (*Store, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return Open(path)
}

// Save stores values under name. Saving over an existing profile replaces
// its values and appends source. Returns the profile and whether it was new.
func (s *Store) Save(name string, values fields.Values, source Source) (*Profile, bool, error) {
	if err := checkName(name); err != nil {
		return nil, false, err
	}
	now := s.now()
	if source.Timestamp.IsZero() {
		source.Timestamp = now
	}

	profile, err := s.Get(name)
	isNew := errors.Is(err, ErrNotFound)
	switch {
	case isNew:
		profile = newProfile(name, values, source, now)
	case err != nil:
		return nil, false, err
	default:
		profile.Values = values.Clone()
		profile.ContentHash = ContentHash(values)
		profile.Sources = append(profile.Sources, source)
		profile.UpdatedAt = now
	}

	data, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal profile: %w", err)
	}
	if err := os.WriteFile(s.profilePath(name), data, 0o644); err != nil {
		return nil, false, fmt.Errorf("failed to write profile: %w", err)
	}

	if err := s.updateIndex(func(index *Index) {
		index.Profiles[name] = entryFor(profile)
	}); err != nil {
		return nil, false, fmt.Errorf("failed to update index: %w", err)
	}

	return profile, isNew, nil
}

// Get retrieves a profile by name.
func (s *Store) Get(name string) (*Profile, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.profilePath(name))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse profile %s: %w", name, err)
	}
	if p.Values == nil {
		p.Values = fields.Values{}
	}
	return &p, nil
}

// FindByHash returns the profile whose content hash starts with prefix.
// The "sha256:" prefix is optional.
func (s *Store) FindByHash(prefix string) (*Profile, error) {
	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	prefix = strings.TrimPrefix(prefix, "sha256:")
	for name, entry := range index.Profiles {
		if prefix != "" && strings.HasPrefix(strings.TrimPrefix(entry.ContentHash, "sha256:"), prefix) {
			return s.Get(name)
		}
	}
	return nil, fmt.Errorf("%w: hash %s", ErrNotFound, prefix)
}

// List returns all profiles in the store, newest first.
func (s *Store) List() ([]IndexEntry, error) {
	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}

	entries := make([]IndexEntry, 0, len(index.Profiles))
	for _, entry := range index.Profiles {
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].UpdatedAt.Equal(entries[j].UpdatedAt) {
			return entries[i].Name < entries[j].Name
		}
		return entries[i].UpdatedAt.After(entries[j].UpdatedAt)
	})

	return entries, nil
}

// Delete removes a profile.
func (s *Store) Delete(name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if err := os.Remove(s.profilePath(name)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	return s.updateIndex(func(index *Index) {
		delete(index.Profiles, name)
	})
}

// Count returns the number of profiles in the store.
func (s *Store) Count() (int, error) {
	index, err := s.loadIndex()
	if err != nil {
		return 0, err
	}
	return len(index.Profiles), nil
}

func (s *Store) profilePath(name string) string {
	return filepath.Join(s.profilesDir, name+".json")
}

func (s *Store) loadIndex() (*Index, error) {
	data, err := os.ReadFile(s.indexPath)
	if os.IsNotExist(err) {
		return &Index{Profiles: make(map[string]IndexEntry)}, nil
	}
	if err != nil {
		return nil, err
	}

	var index Index
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, err
	}
	if index.Profiles == nil {
		index.Profiles = make(map[string]IndexEntry)
	}
	return &index, nil
}

func (s *Store) updateIndex(update func(*Index)) error {
	index, err := s.loadIndex()
	if err != nil {
		return err
	}

	update(index)
	index.UpdatedAt = s.now()

	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.indexPath, data, 0o644)
}

func entryFor(p *Profile) IndexEntry {
	return IndexEntry{
		Name:        p.Name,
		ContentHash: p.ContentHash,
		FieldCount:  len(p.Fields()),
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

// checkName rejects names that would escape the profiles directory.
func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

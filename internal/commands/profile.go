package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/vitaminmoo/bluelocate/internal/fields"
	"github.com/vitaminmoo/bluelocate/internal/store"
)

// ProfileList prints every saved profile.
func ProfileList(w io.Writer, s *store.Store) error {
	entries, err := s.List()
	if err != nil {
		return fmt.Errorf("failed to list profiles: %w", err)
	}

	if len(entries) == 0 {
		fmt.Fprintln(w, "No profiles saved.")
		return nil
	}

	fmt.Fprintf(w, "%-20s %-12s %-6s %s\n", "NAME", "HASH", "FIELDS", "UPDATED")
	for _, e := range entries {
		fmt.Fprintf(w, "%-20s %-12s %-6d %s\n", e.Name, store.ShortHash(e.ContentHash), e.FieldCount, humanize.Time(e.UpdatedAt))
	}
	fmt.Fprintf(w, "\n%d profiles\n", len(entries))
	return nil
}

// ProfileShow prints one profile. name may also be a hash prefix.
func ProfileShow(w io.Writer, s *store.Store, name string, asJSON bool) error {
	p, err := s.Get(name)
	if err != nil {
		var hashErr error
		if p, hashErr = s.FindByHash(name); hashErr != nil {
			return err
		}
	}
	if asJSON {
		PrintJSON(w, p)
		return nil
	}

	fmt.Fprintf(w, "Name:    %s\n", p.Name)
	fmt.Fprintf(w, "Hash:    %s\n", p.ContentHash)
	fmt.Fprintf(w, "Created: %s\n", p.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Updated: %s (%s)\n", p.UpdatedAt.Format("2006-01-02 15:04:05"), humanize.Time(p.UpdatedAt))
	fmt.Fprintln(w, "\nValues:")
	for _, k := range p.Fields() {
		fmt.Fprintf(w, "  %-16s %s\n", k, p.Values[k])
	}
	fmt.Fprintln(w, "\nSources:")
	for _, src := range p.Sources {
		line := fmt.Sprintf("  %s %s", src.Timestamp.Format("2006-01-02 15:04:05"), src.Method)
		if src.DeviceID != "" {
			line += " device=" + src.DeviceID
		}
		if src.Filename != "" {
			line += " file=" + src.Filename
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

// ProfileDelete removes a profile.
func ProfileDelete(w io.Writer, s *store.Store, name string) error {
	if err := s.Delete(name); err != nil {
		return err
	}
	fmt.Fprintf(w, "Deleted profile %s\n", name)
	return nil
}

// ProfileImport saves the values in file as profile name. YAML files hold a
// plain field → value map; anything else is read as QR code JSON.
func ProfileImport(w io.Writer, s *store.Store, name, file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	source := store.Source{Method: "import", Filename: file}
	var values fields.Values
	switch strings.ToLower(filepath.Ext(file)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &values); err != nil {
			return fmt.Errorf("failed to parse %s: %w", file, err)
		}
	default:
		scan, err := fields.ParseScan(data)
		if err != nil {
			return err
		}
		values = scan.Values
		source.DeviceID = scan.DeviceID
	}
	if err := values.Validate(); err != nil {
		return err
	}

	p, isNew, err := s.Save(name, values, source)
	if err != nil {
		return fmt.Errorf("failed to import: %w", err)
	}
	return reportSaved(w, p, isNew)
}

// SaveProfile stores values pushed to a device under name.
func SaveProfile(w io.Writer, s *store.Store, name string, values fields.Values, source store.Source) error {
	p, isNew, err := s.Save(name, values, source)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return reportSaved(w, p, isNew)
}

func reportSaved(w io.Writer, p *store.Profile, isNew bool) error {
	if isNew {
		fmt.Fprintf(w, "Saved new profile %s (%s)\n", p.Name, store.ShortHash(p.ContentHash))
	} else {
		fmt.Fprintf(w, "Updated profile %s (%s)\n", p.Name, store.ShortHash(p.ContentHash))
	}
	for _, k := range p.Fields() {
		fmt.Fprintf(w, "  %-16s %s\n", k, p.Values[k])
	}
	return nil
}

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/vitaminmoo/bluelocate/internal/config"
	"github.com/vitaminmoo/bluelocate/internal/engine"
	"github.com/vitaminmoo/bluelocate/internal/fields"
	"github.com/vitaminmoo/bluelocate/internal/store"
	"github.com/vitaminmoo/bluelocate/internal/transport"
)

// PushInput is where the values of a config push come from. Later sources
// override earlier ones: profile, then scan file, then explicit flags.
type PushInput struct {
	Profile  string
	ScanFile string
	Flags    fields.Values
}

// ResolveValues merges the push sources into one validated value set.
// profiles may be nil when no profile is named.
func ResolveValues(in PushInput, profiles *store.Store) (fields.Values, store.Source, error) {
	values := fields.Values{}
	source := store.Source{Method: "push"}

	if in.Profile != "" {
		if profiles == nil {
			return nil, source, fmt.Errorf("profile %s requested without a store", in.Profile)
		}
		p, err := profiles.Get(in.Profile)
		if err != nil {
			return nil, source, err
		}
		values = values.Merge(p.Values)
	}

	if in.ScanFile != "" {
		data, err := os.ReadFile(in.ScanFile)
		if err != nil {
			return nil, source, fmt.Errorf("failed to read scan file: %w", err)
		}
		scan, err := fields.ParseScan(data)
		if err != nil {
			return nil, source, err
		}
		values = values.Merge(scan.Values)
		source = store.Source{Method: "scan", DeviceID: scan.DeviceID, Filename: in.ScanFile}
	}

	values = values.Merge(in.Flags)
	if err := values.Validate(); err != nil {
		return nil, source, err
	}
	return values, source, nil
}

// Push writes values to dev and prints one line per field.
func Push(ctx context.Context, w io.Writer, dev Device, settings *config.Settings, values fields.Values) (fields.Summary, error) {
	fm, err := fields.BuildFieldMap(dev, settings.Push.Fields)
	if err != nil {
		return fields.Summary{}, err
	}

	eng := engine.New(dev, engine.OptionsFromSettings(settings))
	p, err := eng.PushConfig(ctx, fm, values)
	if err != nil {
		return fields.Summary{}, fmt.Errorf("failed to start push: %w", err)
	}

	fmt.Fprintf(w, "Writing %d fields...\n", len(fm.Names()))
	for o := range p.Outcomes() {
		printOutcome(w, o)
	}
	sum := p.Wait()
	PrintSummary(w, sum)

	if sum.Err != nil {
		return sum, sum.Err
	}
	if sum.Count(fields.Written)+sum.Count(fields.Partial) == 0 && sum.Count(fields.Skipped) > 0 {
		return sum, errors.New("no field could be written")
	}
	return sum, nil
}

func printOutcome(w io.Writer, o fields.FieldOutcome) {
	line := fmt.Sprintf("  %-16s %-8s", o.Field, o.Status)
	switch o.Status {
	case fields.Written:
		line += fmt.Sprintf(" %q", o.Value)
	case fields.Partial:
		line += fmt.Sprintf(" %q (%d slots written): %s", o.Value, o.SlotsWritten, o.Reason)
	case fields.Skipped:
		line += " " + o.Reason
	}
	fmt.Fprintln(w, strings.TrimRight(line, " "))
}

// PrintSummary prints the totals and warnings of a push.
func PrintSummary(w io.Writer, sum fields.Summary) {
	fmt.Fprintf(w, "\n%d written, %d partial, %d skipped, %d empty in %s\n",
		sum.Count(fields.Written), sum.Count(fields.Partial), sum.Count(fields.Skipped), sum.Count(fields.Empty),
		sum.Elapsed.Round(100*time.Millisecond))
	for _, warn := range sum.Warnings {
		fmt.Fprintf(w, "Warning: %s\n", warn)
	}
	if sum.Err != nil {
		fmt.Fprintf(w, "Push interrupted: %v\n", sum.Err)
	}
}

// FieldMap prints how the configured field layout resolves on d.
func FieldMap(w io.Writer, d transport.Discoverer, settings *config.Settings) error {
	services, err := d.Services()
	if err != nil {
		return fmt.Errorf("failed to list services: %w", err)
	}
	fm := fields.NewFieldMap(services, settings.Push.Fields)

	for _, f := range fm.Fields() {
		slots := make([]string, 0, len(f.Slots))
		for _, s := range f.Slots {
			slots = append(slots, fmt.Sprintf("%s(%d)", s.Endpoint, s.MaxBytes))
		}
		def := ""
		if f.Default != "" {
			def = fmt.Sprintf(" default=%q", f.Default)
		}
		fmt.Fprintf(w, "%-16s cap %-3d %s%s\n", f.Name, f.Cap(), strings.Join(slots, " "), def)
	}
	for _, err := range fm.Unresolved() {
		fmt.Fprintf(w, "Unresolved: %v\n", err)
	}
	return nil
}

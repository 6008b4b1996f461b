package tui

import (
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"github.com/vitaminmoo/bluelocate/internal/firmware"
	"github.com/vitaminmoo/bluelocate/internal/ota"
)

// RunUpload shows the upload view until src finishes and returns its result.
func RunUpload(src Source, est firmware.Estimate, device string) (ota.Result, error) {
	p := tea.NewProgram(NewModel(src, est, device))

	final, err := p.Run()
	if err != nil {
		src.Cancel()
		return src.Wait(), fmt.Errorf("error running TUI: %w", err)
	}

	if m, ok := final.(Model); ok {
		if res, done := m.Result(); done {
			return res, nil
		}
	}
	return src.Wait(), nil
}

// RunPlain prints one line per state change and per 10% of progress.
// It is used when stdout is not a terminal or --plain is given.
func RunPlain(w io.Writer, src Source) ota.Result {
	var lastState ota.State
	lastDecile := -1
	for ev := range src.Progress() {
		decile := ev.Percent / 10
		if ev.State == lastState && decile == lastDecile {
			continue
		}
		lastState, lastDecile = ev.State, decile
		fmt.Fprintf(w, "%-24s %3d%%  %s / %s\n", ev.State, ev.Percent,
			humanize.Bytes(uint64(ev.BytesSent)), humanize.Bytes(uint64(ev.TotalBytes)))
	}
	return src.Wait()
}

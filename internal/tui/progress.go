package tui

import (
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/vitaminmoo/bluelocate/internal/ota"
)

// ProgressState tracks the transfer bar.
type ProgressState struct {
	progress    progress.Model
	percent     float64
	description string
}

// NewProgressState creates a new progress tracking state.
func NewProgressState() ProgressState {
	p := progress.New(
		progress.WithGradient(barStart, barEnd),
		progress.WithWidth(40),
	)
	return ProgressState{
		progress: p,
	}
}

// Update sets the progress fraction (0.0 to 1.0).
func (p *ProgressState) Update(percent float64, description string) {
	p.percent = percent
	if description != "" {
		p.description = description
	}
}

// SetWidth fits the bar into a terminal of the given width.
func (p *ProgressState) SetWidth(width int) {
	w := width - 8
	if w > 60 {
		w = 60
	}
	if w < 10 {
		w = 10
	}
	p.progress.Width = w
}

// Percent is the last fraction set.
func (p ProgressState) Percent() float64 { return p.percent }

// View renders the progress bar.
func (p ProgressState) View() string {
	return lipgloss.NewStyle().Foreground(dim).Render(p.description) + "\n" + p.progress.ViewAs(p.percent)
}

// progressMsg carries one event from the upload's progress stream.
type progressMsg struct {
	event ota.ProgressEvent
}

// doneMsg signals the upload finished.
type doneMsg struct {
	result ota.Result
}

// waitForProgress reads the next progress event. When the stream closes it
// collects the result instead.
func waitForProgress(src Source) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-src.Progress()
		if !ok {
			return doneMsg{result: src.Wait()}
		}
		return progressMsg{event: ev}
	}
}

package tui

import "github.com/charmbracelet/lipgloss"

// Colors of the upload view. The bar gradient runs from barStart to barEnd.
const (
	barStart = "#5A56E0"
	barEnd   = "#43BF6D"
)

var (
	accent = lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7D56F4"}
	good   = lipgloss.AdaptiveColor{Light: "#2E9E55", Dark: "#73F59F"}
	bad    = lipgloss.AdaptiveColor{Light: "#D23F3F", Dark: "#FF6B6B"}
	amber  = lipgloss.AdaptiveColor{Light: "#B58900", Dark: "#FFCC00"}
	dim    = lipgloss.AdaptiveColor{Light: "#8A8A8A", Dark: "#5C5C5C"}
)

// Styles for the upload view.
type Styles struct {
	Frame   lipgloss.Style
	Heading lipgloss.Style
	Label   lipgloss.Style
	Value   lipgloss.Style
	Dim     lipgloss.Style
	Failed  lipgloss.Style
	Done    lipgloss.Style
	Caution lipgloss.Style
	Footer  lipgloss.Style
}

func DefaultStyles() Styles {
	return Styles{
		Frame:   lipgloss.NewStyle().Padding(1, 2),
		Heading: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF")).Background(accent).Padding(0, 1).MarginBottom(1),
		Label:   lipgloss.NewStyle().Foreground(dim).Width(10),
		Value:   lipgloss.NewStyle().Bold(true),
		Dim:     lipgloss.NewStyle().Foreground(dim),
		Failed:  lipgloss.NewStyle().Bold(true).Foreground(bad),
		Done:    lipgloss.NewStyle().Bold(true).Foreground(good),
		Caution: lipgloss.NewStyle().Foreground(amber),
		Footer:  lipgloss.NewStyle().Foreground(dim).MarginTop(1),
	}
}

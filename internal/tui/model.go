package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/vitaminmoo/bluelocate/internal/firmware"
	"github.com/vitaminmoo/bluelocate/internal/ota"
)

// Source is a running upload as the view sees it. *engine.Upload satisfies it.
type Source interface {
	Progress() <-chan ota.ProgressEvent
	Wait() ota.Result
	Cancel()
}

// Model is the Bubbletea model for a firmware upload.
type Model struct {
	src      Source
	estimate firmware.Estimate
	device   string
	started  time.Time

	state      ota.State
	bytesSent  int
	cancelling bool
	done       bool
	result     ota.Result

	keys     KeyMap
	help     help.Model
	spinner  spinner.Model
	progress ProgressState
	styles   Styles
}

// NewModel creates the upload view for src.
func NewModel(src Source, est firmware.Estimate, device string) Model {
	h := help.New()
	h.ShowAll = false

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(accent)

	p := NewProgressState()
	p.Update(0, "Waiting for device")

	return Model{
		src:      src,
		estimate: est,
		device:   device,
		started:  time.Now(),
		state:    ota.Idle,
		keys:     DefaultKeyMap(),
		help:     h,
		spinner:  s,
		progress: p,
		styles:   DefaultStyles(),
	}
}

// Result is the upload result once the view finished.
func (m Model) Result() (ota.Result, bool) {
	return m.result, m.done
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForProgress(m.src), m.spinner.Tick)
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.help.Width = msg.Width
		m.progress.SetWidth(msg.Width)
		return m, nil

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progressMsg:
		ev := msg.event
		m.state = ev.State
		m.bytesSent = ev.BytesSent
		m.progress.Update(float64(ev.Percent)/100, describe(ev.State))
		return m, waitForProgress(m.src)

	case doneMsg:
		m.done = true
		m.result = msg.result
		m.state = msg.result.State
		if msg.result.State == ota.Completed {
			m.progress.Update(1, describe(ota.Completed))
		}
		return m, tea.Quit
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case m.done && key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll

	case !m.done && key.Matches(msg, m.keys.Cancel):
		if !m.cancelling {
			m.cancelling = true
			m.src.Cancel()
		}
	}
	return m, nil
}

// View renders the upload screen.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.styles.Heading.Render("Firmware upload"))
	b.WriteString("\n")
	b.WriteString(m.row("Image", m.estimate.Name))
	b.WriteString(m.row("Size", fmt.Sprintf("%s (%d sectors)", m.estimate.HumanSize, m.estimate.SectorCount)))
	if m.device != "" {
		b.WriteString(m.row("Device", m.device))
	}
	b.WriteString(m.row("Sent", fmt.Sprintf("%s / %s", humanize.Bytes(uint64(m.bytesSent)), m.estimate.HumanSize)))
	b.WriteString("\n")

	b.WriteString(m.progress.View())
	b.WriteString("\n\n")
	b.WriteString(m.status())
	b.WriteString("\n")

	if !m.done {
		b.WriteString(m.styles.Footer.Render(m.help.View(m.keys)))
	}

	return m.styles.Frame.Render(b.String())
}

func (m Model) row(label, value string) string {
	return m.styles.Label.Render(label) + m.styles.Value.Render(value) + "\n"
}

func (m Model) status() string {
	switch {
	case m.done && m.result.Err != nil:
		return m.styles.Failed.Render("Failed: " + m.result.Err.Error())
	case m.done && m.result.Warning != "":
		return m.styles.Caution.Render("Completed with warning: " + m.result.Warning)
	case m.done:
		return m.styles.Done.Render(fmt.Sprintf("Completed in %s, device is rebooting", m.result.Elapsed.Round(100*time.Millisecond)))
	case m.cancelling:
		return m.spinner.View() + " " + m.styles.Caution.Render("Cancelling...")
	default:
		elapsed := time.Since(m.started).Round(time.Second)
		return m.spinner.View() + " " + describe(m.state) + m.styles.Dim.Render(fmt.Sprintf(" (%s)", elapsed))
	}
}

func describe(s ota.State) string {
	switch s {
	case ota.Idle, ota.SentStart:
		return "Sending start command"
	case ota.AwaitingStartConfirm:
		return "Waiting for device to accept upload"
	case ota.Transferring:
		return "Transferring firmware"
	case ota.SentFinish:
		return "Sending finish command"
	case ota.AwaitingFinishConfirm:
		return "Waiting for reboot confirmation"
	case ota.Completed:
		return "Upload complete"
	case ota.Failed:
		return "Upload failed"
	default:
		return string(s)
	}
}

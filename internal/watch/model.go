// Package watch is a terminal dashboard showing running applications and
// their dispatch counters, polled from the HTTP API.
package watch

import (
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const pollInterval = 2 * time.Second

type tickMsg time.Time

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	appStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// Model is the BubbleTea model for the watch TUI.
type Model struct {
	apiURL string

	width  int
	height int

	apps      []appInfo
	lastError string
	updatedAt time.Time

	spinner spinner.Model
}

// New creates a watch model polling apiURL.
func New(apiURL string) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	return &Model{
		apiURL:  apiURL,
		spinner: s,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		fetchSnapshot(m.apiURL),
		tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		return m, tea.Batch(
			fetchSnapshot(m.apiURL),
			tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) }),
		)

	case snapshotMsg:
		m.apps = msg.apps
		m.updatedAt = time.Now()
		m.lastError = ""

	case errMsg:
		m.lastError = msg.err.Error()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) View() string {
	out := titleStyle.Render("spindle watch") + " " + m.spinner.View() + "\n"
	out += dimStyle.Render(m.apiURL) + "\n\n"

	if m.lastError != "" {
		out += errStyle.Render("error: "+m.lastError) + "\n\n"
	}

	if len(m.apps) == 0 {
		out += dimStyle.Render("no running applications") + "\n"
	}

	for _, app := range m.apps {
		out += headerStyle.Render(app.Name) +
			dimStyle.Render(fmt.Sprintf("  spawned=%d running=%d", app.Spawned, app.Running)) + "\n"
		events := make([]string, 0, len(app.Counters))
		for event := range app.Counters {
			events = append(events, event)
		}
		sort.Strings(events)
		for _, event := range events {
			c := app.Counters[event]
			out += appStyle.Render(fmt.Sprintf("  %-32s", event)) +
				dimStyle.Render(fmt.Sprintf("blocked=%d nonblocked=%d reply=%d", c.Blocked, c.Nonblocked, c.Reply)) + "\n"
		}
		out += "\n"
	}

	if !m.updatedAt.IsZero() {
		out += dimStyle.Render("updated "+m.updatedAt.Format("15:04:05")) + "\n"
	}
	out += dimStyle.Render("q to quit")
	return out
}

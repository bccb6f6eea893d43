// Package ui renders scenario execution progress as a Bubble Tea program.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"tokentree/internal/scenario"
)

// Event is one progress notification from a scenario run.
type Event struct {
	// Scenario is the file path the event belongs to.
	Scenario string
	// Update is the per-step progress, when Done is false.
	Update scenario.StepUpdate
	// Done marks the scenario finished; Passed and Err qualify the outcome.
	Done   bool
	Passed bool
	Err    error
}

type stepModel struct {
	title   string
	events  <-chan Event
	spinner spinner.Model
	prog    progress.Model
	items   []scenarioItem
	index   map[string]int
	width   int
	done    bool
}

type scenarioItem struct {
	path     string
	status   string
	step     int
	total    int
	finished bool
}

type eventMsg Event
type doneMsg struct{}

// NewStepModel returns a Bubble Tea model that renders scenario progress.
func NewStepModel(title string, paths []string, events <-chan Event) tea.Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 76 // Default width

	items := make([]scenarioItem, 0, len(paths))
	index := make(map[string]int, len(paths))
	for i, path := range paths {
		items = append(items, scenarioItem{path: path, status: "queued"})
		index[path] = i
	}
	return &stepModel{
		title:   title,
		events:  events,
		spinner: sp,
		prog:    prog,
		items:   items,
		index:   index,
		width:   80,
	}
}

func (m *stepModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForEvent())
}

func (m *stepModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		cmd := m.applyEvent(Event(msg))
		return m, tea.Batch(cmd, m.listenForEvent())
	case doneMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
			m.prog.Width = msg.Width - 4
		}
		return m, nil
	case progress.FrameMsg:
		progModel, cmd := m.prog.Update(msg)
		m.prog = progModel.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m *stepModel) View() string {
	if len(m.items) == 0 {
		return ""
	}
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	header := m.title
	if m.done {
		header = fmt.Sprintf("done: %s", header)
	} else {
		header = fmt.Sprintf("%s %s", m.spinner.View(), header)
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n\n")

	statusWidth := 14
	nameWidth := m.width - statusWidth - 4
	if nameWidth < 20 {
		nameWidth = 20
	}

	for _, item := range m.items {
		name := truncate(item.path, nameWidth)
		statusStyled := styleStatus(item.status).Render(fmt.Sprintf("%14s", item.status))
		fmt.Fprintf(&b, "  %s %s\n", statusStyled, name)
	}

	b.WriteString("\n")
	if m.done {
		b.WriteString(m.prog.ViewAs(1.0))
	} else {
		b.WriteString(m.prog.View())
	}
	b.WriteString("\n")

	return b.String()
}

func (m *stepModel) listenForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return doneMsg{}
		}
		return eventMsg(ev)
	}
}

func (m *stepModel) applyEvent(ev Event) tea.Cmd {
	idx, ok := m.index[ev.Scenario]
	if !ok {
		return nil
	}
	item := &m.items[idx]

	switch {
	case ev.Err != nil:
		item.status = "error"
		item.finished = true
	case ev.Done && ev.Passed:
		item.status = "passed"
		item.finished = true
	case ev.Done:
		item.status = "failed"
		item.finished = true
	default:
		item.step = ev.Update.Index + 1
		item.total = ev.Update.Total
		item.status = fmt.Sprintf("step %d/%d", item.step, item.total)
	}

	// Overall progress across all scenarios
	totalProgress := 0.0
	for _, it := range m.items {
		switch {
		case it.finished:
			totalProgress += 1.0
		case it.total > 0:
			totalProgress += float64(it.step) / float64(it.total)
		}
	}
	return m.prog.SetPercent(totalProgress / float64(len(m.items)))
}

func styleStatus(status string) lipgloss.Style {
	switch {
	case status == "passed":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	case status == "failed" || status == "error":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	case strings.HasPrefix(status, "step"):
		return lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	}
}

func truncate(value string, width int) string {
	if width <= 0 {
		return value
	}
	if runewidth.StringWidth(value) <= width {
		return value
	}
	if width <= 3 {
		return runewidth.Truncate(value, width, "")
	}
	return runewidth.Truncate(value, width-3, "...")
}

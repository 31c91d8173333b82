// Command orchestrator-status is a read-only terminal dashboard over the
// coordination engine's live status report. It follows the teacher's
// bubbletea pattern: Model holds snapshot state, Update reacts to a
// timer tick and key presses, View renders the current snapshot.
package main

import (
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/alexpekarovsky/orchestrator/internal/config"
	"github.com/alexpekarovsky/orchestrator/internal/orchestrator"
	"github.com/alexpekarovsky/orchestrator/internal/policy"
)

const refreshInterval = 2 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "orchestrator-status:", err)
		os.Exit(1)
	}
	pol, err := policy.Load(cfg.PolicyPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "orchestrator-status:", err)
		os.Exit(1)
	}
	engine := orchestrator.New(cfg, pol)

	model := newModel(engine)
	program := tea.NewProgram(model)
	if _, err := program.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "orchestrator-status:", err)
		os.Exit(1)
	}
}

type snapshotMsg struct {
	report *orchestrator.LiveStatusReport
	err    error
}

// model is the dashboard's bubbletea state.
type model struct {
	engine *orchestrator.Engine
	report *orchestrator.LiveStatusReport
	err    error
	width  int
	height int
}

func newModel(engine *orchestrator.Engine) model {
	return model{engine: engine}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), m.scheduleTick())
}

func (m model) fetch() tea.Cmd {
	return func() tea.Msg {
		report, err := m.engine.LiveStatusReport()
		return snapshotMsg{report: report, err: err}
	}
}

func (m model) scheduleTick() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

type tickMsg struct{}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		case "r":
			return m, m.fetch()
		}
	case tickMsg:
		return m, tea.Batch(m.fetch(), m.scheduleTick())
	case snapshotMsg:
		m.report = msg.report
		m.err = msg.err
		return m, nil
	}
	return m, nil
}

func (m model) View() string {
	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FF6B6B")).
		MarginBottom(1).
		Render("⬡ ORCHESTRATOR STATUS")

	if m.err != nil {
		errBox := lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Render(fmt.Sprintf("error: %v", m.err))
		return lipgloss.JoinVertical(lipgloss.Left, header, errBox, m.footer())
	}
	if m.report == nil {
		return lipgloss.JoinVertical(lipgloss.Left, header, "loading...", m.footer())
	}

	summary := m.renderSummary()
	tasks := m.renderTasks()
	agents := m.renderAgents()
	body := lipgloss.JoinHorizontal(lipgloss.Top, tasks, agents)
	return lipgloss.JoinVertical(lipgloss.Left, header, summary, body, m.footer())
}

func (m model) renderSummary() string {
	s := m.report.Status
	line := fmt.Sprintf("policy %s · leader %s · %d/%d tasks open · %d agents",
		s.Policy, s.Leader, s.OpenTaskCount, s.TaskCount, s.AgentCount)
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		MarginBottom(1).
		Render(line)
}

func (m model) renderTasks() string {
	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF")).Render(
		fmt.Sprintf("Pending tasks (%d)", len(m.report.Pending)))
	if len(m.report.Pending) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left, title, "  none")
	}
	rows := make([]string, 0, len(m.report.Pending))
	for _, t := range m.report.Pending {
		rows = append(rows, fmt.Sprintf("  [%s] %s · %s (%s)", t.Status, t.ID, t.Title, t.Owner))
	}
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Width(60).
		Render(fmt.Sprintf("%s\n%s", title, lipgloss.JoinVertical(lipgloss.Left, rows...)))
	return box
}

func (m model) renderAgents() string {
	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF")).Render(
		fmt.Sprintf("Agents (%d)", len(m.report.Agents)))
	if len(m.report.Agents) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left, title, "  none")
	}
	rows := make([]string, 0, len(m.report.Agents))
	for _, a := range m.report.Agents {
		marker := "·"
		color := lipgloss.Color("#888888")
		if a.Operational {
			marker = "●"
			color = lipgloss.Color("#5BD48D")
		} else if !a.SameProject {
			color = lipgloss.Color("#FF6B6B")
		}
		style := lipgloss.NewStyle().Foreground(color)
		rows = append(rows, style.Render(fmt.Sprintf("  %s %s (%s, seen %s ago) — %s",
			marker, a.Agent, a.Status, a.LastSeenAge, a.Reason)))
	}
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Width(60).
		Render(fmt.Sprintf("%s\n%s", title, lipgloss.JoinVertical(lipgloss.Left, rows...)))
	return box
}

func (m model) footer() string {
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		MarginTop(1).
		Render("q → quit    r → refresh now")
}

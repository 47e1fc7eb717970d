package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/lhrunner/metrics"
	"github.com/pithecene-io/lhrunner/types"
)

// StatsModel is a Bubble Tea model for stats views.
type StatsModel struct {
	viewType string
	data     any
	width    int
	height   int
	quitting bool
}

// NewStatsModel creates a new stats model.
func NewStatsModel(viewType string, data any) StatsModel {
	return StatsModel{
		viewType: viewType,
		data:     data,
	}
}

// Init implements tea.Model.
func (m StatsModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m StatsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m StatsModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.viewType {
	case "stats_summary":
		content = m.renderStatsSummary()
	case "stats_poll":
		content = m.renderStatsPoll()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return content + "\n" + help
}

func (m StatsModel) renderStatsSummary() string {
	data, ok := m.data.(*types.Summary)
	if !ok || data == nil {
		return ErrorStyle.Render("Invalid data type")
	}

	succeeded, failed := data.Counts()
	boxes := lipgloss.JoinHorizontal(lipgloss.Top,
		m.renderStatBox("Total", len(data.Runs), highlightColor),
		m.renderStatBox("Succeeded", succeeded, successColor),
		m.renderStatBox("Failed", failed, errorColor),
	)

	return lipgloss.JoinVertical(lipgloss.Left,
		TitleStyle.Render("Run Set Statistics"),
		boxes,
	)
}

func (m StatsModel) renderStatsPoll() string {
	data, ok := m.data.(*metrics.Snapshot)
	if !ok || data == nil {
		return ErrorStyle.Render("Invalid data type")
	}

	events := lipgloss.JoinHorizontal(lipgloss.Top,
		m.renderStatBox("Seen", int(data.EventsSeen), highlightColor),
		m.renderStatBox("Handled", int(data.EventsHandled), successColor),
		m.renderStatBox("Failed", int(data.EventsFailed), errorColor),
		m.renderStatBox("No Target", int(data.EventsWithoutTarget), warningColor),
	)
	dispatch := lipgloss.JoinHorizontal(lipgloss.Top,
		m.renderStatBox("Dispatches", int(data.DispatchesStarted), highlightColor),
		m.renderStatBox("Timed Out", int(data.AttemptsTimedOut), warningColor),
		m.renderStatBox("Cursor Moves", int(data.CursorAdvances), primaryColor),
	)

	return lipgloss.JoinVertical(lipgloss.Left,
		TitleStyle.Render("Poll Statistics"),
		events,
		dispatch,
	)
}

func (m StatsModel) renderStatBox(label string, value int, color lipgloss.Color) string {
	boxStyle := StatBoxStyle.BorderForeground(color)

	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)

	content := lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr)

	return boxStyle.Render(content)
}

// RunStatsTUI runs the stats TUI.
func RunStatsTUI(viewType string, data any) error {
	model := NewStatsModel(viewType, data)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderStatsStatic renders stats data without full TUI (for fallback).
func RenderStatsStatic(viewType string, data any) string {
	model := NewStatsModel(viewType, data)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}

package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/lhrunner/types"
)

// InspectModel is a Bubble Tea model for inspect views.
type InspectModel struct {
	viewType string
	data     any
	width    int
	height   int
	quitting bool
}

// NewInspectModel creates a new inspect model.
func NewInspectModel(viewType string, data any) InspectModel {
	return InspectModel{
		viewType: viewType,
		data:     data,
	}
}

// Init implements tea.Model.
func (m InspectModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m InspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
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
func (m InspectModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.viewType {
	case "inspect_summary":
		content = m.renderInspectSummary()
	case "inspect_cursor":
		content = m.renderInspectCursor()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return content + "\n" + help
}

func (m InspectModel) renderInspectSummary() string {
	data, ok := m.data.(*types.Summary)
	if !ok || data == nil {
		return ErrorStyle.Render("Invalid data type")
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Run Set"))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("%s %s\n\n",
		LabelStyle.Render("URL:"),
		ValueStyle.Render(data.URL)))

	for _, r := range data.Runs {
		mark, style := "✓", SuccessStyle
		if !r.Success {
			mark, style = "✗", ErrorStyle
		}
		b.WriteString(fmt.Sprintf("%s %s\n", style.Render(mark), ValueStyle.Render(r.Type)))
	}
	if len(data.Runs) == 0 {
		b.WriteString(LabelStyle.Render("no runs"))
		b.WriteString("\n")
	}

	return BoxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func (m InspectModel) renderInspectCursor() string {
	data, ok := m.data.(*types.Cursor)
	if !ok || data == nil {
		return ErrorStyle.Render("Invalid data type")
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Cursor"))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("%s %s\n",
		LabelStyle.Render("Since:"),
		ValueStyle.Render(data.Since.UTC().Format("2006-01-02 15:04:05"))))
	if data.Since.Equal(types.DefaultSince) {
		b.WriteString(WarningStyle.Render("no events processed yet"))
	}

	return BoxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// RunInspectTUI runs the inspect TUI.
func RunInspectTUI(viewType string, data any) error {
	model := NewInspectModel(viewType, data)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderInspectStatic renders inspect data without full TUI (for fallback).
func RenderInspectStatic(viewType string, data any) string {
	model := NewInspectModel(viewType, data)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}

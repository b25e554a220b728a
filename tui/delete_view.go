// ABOUTME: Delete confirmation view for TUI
// ABOUTME: Linked events leave a tombstone that the next push removes from Google
package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	confirmBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("9")).
			Padding(1, 2).
			Width(60).
			Align(lipgloss.Center)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	confirmButtonStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("15")).
				Background(lipgloss.Color("9")).
				Padding(0, 2).
				MarginRight(2)

	cancelButtonStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("15")).
				Background(lipgloss.Color("8")).
				Padding(0, 2)
)

func (m Model) renderConfirmDeleteView() string {
	ev := m.selected()
	if ev == nil {
		return "No event selected"
	}

	title := warningStyle.Render("⚠  DELETE EVENT  ⚠")
	message := fmt.Sprintf("Delete %q?", ev.Title)
	warning := "\nThis action cannot be undone!"
	if ev.IsRemote() {
		warning = "\nIt will also be removed from Google Calendar on the next sync."
	}

	buttons := lipgloss.JoinHorizontal(
		lipgloss.Left,
		confirmButtonStyle.Render("Yes, Delete (y)"),
		cancelButtonStyle.Render("Cancel (n/esc)"),
	)

	content := lipgloss.JoinVertical(
		lipgloss.Center,
		title,
		"",
		message,
		warning,
		"",
		buttons,
	)

	return lipgloss.Place(
		m.width,
		m.height,
		lipgloss.Center,
		lipgloss.Center,
		confirmBoxStyle.Render(content),
	)
}

func (m Model) handleConfirmDeleteKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y", "Y":
		ev := m.selected()
		if ev == nil {
			m.viewMode = ViewAgenda
			return m, nil
		}
		svc, id, title := m.svc, ev.ID, ev.Title
		return m, func() tea.Msg {
			err := svc.DeleteEvent(context.Background(), id)
			return actionDoneMsg{what: fmt.Sprintf("deleted %q", title), err: err}
		}
	case "n", "N", "esc":
		m.viewMode = ViewAgenda
	}
	return m, nil
}

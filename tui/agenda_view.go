package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/harperreed/calsync/models"
	"github.com/harperreed/calsync/service"
)

// statusGlyph marks each row with its sync state.
func statusGlyph(item service.AgendaItem) string {
	if item.Holiday != nil {
		return "★"
	}
	switch item.Event.SyncStatus {
	case models.StatusSynced:
		return "✓"
	case models.StatusLocal:
		return "↑"
	case models.StatusConflict:
		return "!"
	case models.StatusDeleted:
		return "✗"
	}
	return "?"
}

func (m Model) renderAgendaView() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("CALSYNC AGENDA"))
	s.WriteString("\n")
	s.WriteString(m.renderSyncBanner())
	s.WriteString("\n\n")

	if m.err != nil {
		s.WriteString(syncErrorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		s.WriteString("\n\n")
	}

	if len(m.items) == 0 {
		s.WriteString(syncMessageStyle.Render(fmt.Sprintf("Nothing scheduled in the next %d days.", agendaDays)))
		s.WriteString("\n")
	} else {
		s.WriteString(m.renderTable())
		s.WriteString("\n")
	}

	s.WriteString(m.renderSyncMessages())
	s.WriteString(m.renderAgendaHelp())
	return s.String()
}

func (m Model) renderTable() string {
	columns := []table.Column{
		{Title: " ", Width: 2},
		{Title: "When", Width: 18},
		{Title: "Title", Width: 34},
		{Title: "Location", Width: 20},
	}

	rows := make([]table.Row, 0, len(m.items))
	for _, item := range m.items {
		if item.Holiday != nil {
			rows = append(rows, table.Row{
				statusGlyph(item),
				item.Holiday.Date.Format("Mon Jan 2"),
				item.Holiday.Title,
				"",
			})
			continue
		}
		ev := item.Event
		when := ev.Start.Local().Format("Mon Jan 2 15:04")
		if ev.AllDay {
			when = ev.Start.Format("Mon Jan 2")
		}
		rows = append(rows, table.Row{statusGlyph(item), when, ev.Title, ev.Location})
	}

	height := m.height - 12
	if height < 3 {
		height = 3
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(height),
	)
	if m.selectedRow < len(rows) {
		t.SetCursor(m.selectedRow)
	}
	return t.View()
}

func (m Model) renderAgendaHelp() string {
	help := []string{
		"↑/↓: Navigate",
		"Enter: Details",
		"s: Sync",
		"p: Push",
		"r: Reload",
		"d: Delete",
		"q: Quit",
	}
	return helpStyle.Render(strings.Join(help, " • "))
}

func (m Model) handleAgendaKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.selectedRow > 0 {
			m.selectedRow--
		}
	case "down", "j":
		if m.selectedRow < len(m.items)-1 {
			m.selectedRow++
		}
	case "enter":
		if m.selected() != nil {
			m.viewMode = ViewDetail
		}
	case "d":
		if m.selected() != nil {
			m.viewMode = ViewConfirmDelete
		}
	case "s":
		return m.runSync(false)
	case "p":
		return m.runSync(true)
	case "r":
		return m, m.loadAgenda()
	}
	return m, nil
}

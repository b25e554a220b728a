package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/harperreed/calsync/models"
	calsync "github.com/harperreed/calsync/sync"
)

var (
	fieldLabelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170")).
			Width(14)

	fieldValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))
)

// actionDoneMsg reports the outcome of a delete or a conflict resolution.
type actionDoneMsg struct {
	what string
	err  error
}

func (m Model) renderDetailView() string {
	ev := m.selected()
	if ev == nil {
		return "No event selected"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render(ev.Title))
	s.WriteString("\n\n")

	if ev.AllDay {
		s.WriteString(m.renderField("When", ev.Start.Format("Mon Jan 2 2006")+" (all day)"))
	} else {
		s.WriteString(m.renderField("Starts", ev.Start.Local().Format("Mon Jan 2 2006 15:04")))
		s.WriteString(m.renderField("Ends", ev.End.Local().Format("Mon Jan 2 2006 15:04")))
	}
	s.WriteString(m.renderField("Location", ev.Location))
	s.WriteString(m.renderField("Description", ev.Description))
	if ev.Recurrence != models.RecurrenceNone {
		rec := string(ev.Recurrence)
		if ev.Recurrence == models.RecurrenceCustom {
			rec = ev.RecurrenceRule
		}
		s.WriteString(m.renderField("Repeats", rec))
	}
	s.WriteString(m.renderField("Color", string(ev.Color)))
	if ev.Alert != models.AlertNone {
		s.WriteString(m.renderField("Alert", fmt.Sprintf("%s, %d min before", ev.Alert, ev.AlertOffset)))
	}
	s.WriteString(m.renderField("Status", string(ev.SyncStatus)))
	if ev.RemoteUpdatedAt != nil {
		s.WriteString(m.renderField("Remote edit", formatTimeSince(m.now().Sub(*ev.RemoteUpdatedAt))))
	}

	s.WriteString(m.renderDetailHelp(ev))
	return s.String()
}

func (m Model) renderField(label, value string) string {
	if value == "" {
		return ""
	}
	return fieldLabelStyle.Render(label+":") + " " + fieldValueStyle.Render(value) + "\n"
}

func (m Model) renderDetailHelp(ev *models.CalendarEvent) string {
	help := []string{"Esc: Back", "d: Delete"}
	if ev.SyncStatus == models.StatusConflict {
		help = append(help, "L: Keep local", "R: Keep remote")
	}
	help = append(help, "q: Quit")
	return helpStyle.Render(strings.Join(help, " • "))
}

func (m Model) handleDetailKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	ev := m.selected()
	switch msg.String() {
	case "esc":
		m.viewMode = ViewAgenda
	case "d":
		if ev != nil {
			m.viewMode = ViewConfirmDelete
		}
	case "L":
		if ev != nil && ev.SyncStatus == models.StatusConflict {
			return m, m.resolve(ev.ID, calsync.KeepLocal)
		}
	case "R":
		if ev != nil && ev.SyncStatus == models.StatusConflict {
			return m, m.resolve(ev.ID, calsync.KeepRemote)
		}
	}
	return m, nil
}

func (m Model) resolve(id string, keep calsync.Resolution) tea.Cmd {
	svc := m.svc
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_, err := svc.ResolveConflict(ctx, id, keep)
		return actionDoneMsg{what: fmt.Sprintf("kept %s copy", keep), err: err}
	}
}

func (m *Model) handleActionDone(msg actionDoneMsg) tea.Cmd {
	m.viewMode = ViewAgenda
	if msg.err != nil {
		m.addSyncMessage("Error: " + msg.err.Error())
		return nil
	}
	m.addSyncMessage(msg.what)
	return m.loadAgenda()
}

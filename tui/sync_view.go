// ABOUTME: Sync banner and activity log for the agenda TUI
// ABOUTME: Runs manual and push-only passes and summarizes every pass report
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/harperreed/calsync/models"
	calsync "github.com/harperreed/calsync/sync"
)

const maxSyncMessages = 5

var (
	syncIdleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	syncSyncingStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("11")).
				Bold(true)

	syncErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	syncMessageStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240")).
				Italic(true)
)

// SyncCompleteMsg is sent when a pass started from the TUI completes.
type SyncCompleteMsg struct {
	PushOnly bool
	Result   *models.SyncResult
	Error    error
}

// PassMsg carries a report for a pass the scheduler ran on its own.
type PassMsg struct {
	Report calsync.PassReport
}

func (m Model) renderSyncBanner() string {
	var s strings.Builder

	status := m.svc.GetCredentialStatus()
	switch {
	case !status.ClientConfigured:
		s.WriteString(syncErrorStyle.Render("✗ Google client not configured"))
	case !status.Connected:
		s.WriteString(syncMessageStyle.Render("Not connected. Run 'calsync auth login' to link Google Calendar."))
	default:
		s.WriteString(syncIdleStyle.Render("✓ " + status.UserEmail))
	}
	s.WriteString("  ")

	switch {
	case m.syncing:
		s.WriteString(m.spinner.View())
		s.WriteString(syncSyncingStyle.Render(" Syncing..."))
	case m.banner != "" && m.bannerError:
		s.WriteString(syncErrorStyle.Render("✗ " + m.banner))
	case m.banner != "":
		s.WriteString(syncIdleStyle.Render("✓ " + m.banner))
		if !m.lastPassAt.IsZero() {
			s.WriteString(syncMessageStyle.Render(" • " + formatTimeSince(m.now().Sub(m.lastPassAt))))
		}
	}
	return s.String()
}

func (m Model) renderSyncMessages() string {
	if len(m.syncMessages) == 0 {
		return ""
	}
	var s strings.Builder
	for _, msg := range m.syncMessages {
		s.WriteString(syncMessageStyle.Render("  " + msg))
		s.WriteString("\n")
	}
	return s.String()
}

// runSync starts a pass unless one started here is still running.
func (m Model) runSync(pushOnly bool) (Model, tea.Cmd) {
	if m.syncing {
		return m, nil
	}
	m.syncing = true
	if pushOnly {
		m.addSyncMessage("Pushing local changes...")
	} else {
		m.addSyncMessage("Starting sync...")
	}

	svc := m.svc
	run := func() tea.Msg {
		var result *models.SyncResult
		var err error
		if pushOnly {
			result, err = svc.PushChanges(context.Background())
		} else {
			result, err = svc.RunSync(context.Background())
		}
		return SyncCompleteMsg{PushOnly: pushOnly, Result: result, Error: err}
	}
	return m, tea.Batch(run, m.spinner.Tick)
}

func (m *Model) handleSyncComplete(msg SyncCompleteMsg) tea.Cmd {
	m.syncing = false
	if errors.Is(msg.Error, calsync.ErrSyncInProgress) {
		m.addSyncMessage("A sync is already running")
		return nil
	}
	m.applyReport(calsync.PassReport{Result: msg.Result, Err: msg.Error})
	return m.loadAgenda()
}

func (m *Model) applyReport(report calsync.PassReport) {
	m.lastPassAt = m.now()
	switch {
	case report.Err != nil:
		m.banner = "Sync failed: " + report.Err.Error()
		m.bannerError = true
	case report.Result != nil:
		m.banner = report.Result.Summary()
		m.bannerError = report.Result.Errors > 0
		if msg := report.Result.ErrorMessage(); msg != "" {
			m.addSyncMessage(msg)
		}
	default:
		return
	}
	if report.Trigger != "" {
		m.addSyncMessage(fmt.Sprintf("%s sync: %s", report.Trigger, m.banner))
	} else {
		m.addSyncMessage(m.banner)
	}
}

func (m *Model) addSyncMessage(msg string) {
	timestamp := m.now().Format("15:04:05")
	m.syncMessages = append(m.syncMessages, fmt.Sprintf("[%s] %s", timestamp, msg))
	if len(m.syncMessages) > maxSyncMessages {
		m.syncMessages = m.syncMessages[len(m.syncMessages)-maxSyncMessages:]
	}
}

func formatTimeSince(duration time.Duration) string {
	if duration < time.Minute {
		return "just now"
	} else if duration < time.Hour {
		minutes := int(duration.Minutes())
		if minutes == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", minutes)
	} else if duration < 24*time.Hour {
		hours := int(duration.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	}
	days := int(duration.Hours() / 24)
	if days == 1 {
		return "1 day ago"
	}
	return fmt.Sprintf("%d days ago", days)
}

// ABOUTME: Terminal agenda for calsync using the bubbletea framework
// ABOUTME: Shows upcoming events with sync status and drives manual, push and focus syncs
package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/harperreed/calsync/models"
	"github.com/harperreed/calsync/service"
	calsync "github.com/harperreed/calsync/sync"
)

// ViewMode represents the current TUI view
type ViewMode int

const (
	ViewAgenda ViewMode = iota
	ViewDetail
	ViewConfirmDelete
)

const agendaDays = 14

// Backend is what the TUI needs from the service layer.
type Backend interface {
	Agenda(ctx context.Context, from, to time.Time) ([]service.AgendaItem, error)
	RunSync(ctx context.Context) (*models.SyncResult, error)
	PushChanges(ctx context.Context) (*models.SyncResult, error)
	Focus() bool
	LastPass() *calsync.PassReport
	GetCredentialStatus() models.CredentialStatus
	ResolveConflict(ctx context.Context, id string, keep calsync.Resolution) (*models.CalendarEvent, error)
	DeleteEvent(ctx context.Context, id string) error
}

// Model is the main bubbletea model
type Model struct {
	svc      Backend
	viewMode ViewMode

	items       []service.AgendaItem
	selectedRow int

	syncing      bool
	spinner      spinner.Model
	banner       string
	bannerError  bool
	lastPassAt   time.Time
	syncMessages []string

	width  int
	height int
	err    error
	now    func() time.Time
}

// NewModel creates a new TUI model
func NewModel(svc Backend) Model {
	m := Model{
		svc:      svc,
		viewMode: ViewAgenda,
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(syncSyncingStyle)),
		width:    80,
		height:   24,
		now:      time.Now,
	}
	if last := svc.LastPass(); last != nil {
		m.applyReport(*last)
	}
	return m
}

// NewProgram wraps m in a full-screen program with focus reporting.
// Background pass reports are delivered with Send(PassMsg{...}).
func NewProgram(m Model) *tea.Program {
	return tea.NewProgram(m, tea.WithAltScreen(), tea.WithReportFocus())
}

func (m Model) Init() tea.Cmd {
	return m.loadAgenda()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case tea.FocusMsg:
		m.svc.Focus()
		return m, nil
	case agendaLoadedMsg:
		m.err = msg.err
		if msg.err == nil {
			m.items = msg.items
			if m.selectedRow >= len(m.items) {
				m.selectedRow = max(len(m.items)-1, 0)
			}
		}
		return m, nil
	case spinner.TickMsg:
		if !m.syncing {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case SyncCompleteMsg:
		cmd := m.handleSyncComplete(msg)
		return m, cmd
	case PassMsg:
		m.applyReport(msg.Report)
		return m, m.loadAgenda()
	case actionDoneMsg:
		cmd := m.handleActionDone(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	switch m.viewMode {
	case ViewDetail:
		return m.renderDetailView()
	case ViewConfirmDelete:
		return m.renderConfirmDeleteView()
	}
	return m.renderAgendaView()
}

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	}

	switch m.viewMode {
	case ViewDetail:
		return m.handleDetailKeys(msg)
	case ViewConfirmDelete:
		return m.handleConfirmDeleteKeys(msg)
	}
	return m.handleAgendaKeys(msg)
}

type agendaLoadedMsg struct {
	items []service.AgendaItem
	err   error
}

func (m Model) loadAgenda() tea.Cmd {
	svc := m.svc
	from := startOfDay(m.now())
	return func() tea.Msg {
		items, err := svc.Agenda(context.Background(), from, from.AddDate(0, 0, agendaDays))
		return agendaLoadedMsg{items: items, err: err}
	}
}

func (m Model) selected() *models.CalendarEvent {
	if m.selectedRow < 0 || m.selectedRow >= len(m.items) {
		return nil
	}
	return m.items[m.selectedRow].Event
}

func startOfDay(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, t.Location())
}

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170")).
			MarginBottom(1)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			MarginTop(1)
)

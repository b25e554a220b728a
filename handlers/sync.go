// ABOUTME: Sync and account MCP tool handlers
// ABOUTME: Implements run_sync, resolve_conflict, list_conflicts, credential_status and list_holidays tools
package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/calsync/models"
	"github.com/harperreed/calsync/service"
	calsync "github.com/harperreed/calsync/sync"
)

type SyncHandlers struct {
	svc *service.Service
}

func NewSyncHandlers(svc *service.Service) *SyncHandlers {
	return &SyncHandlers{svc: svc}
}

type RunSyncInput struct {
	PushOnly bool `json:"push_only,omitempty" jsonschema:"Only push local changes, skip pulling remote ones"`
}

type SyncResultOutput struct {
	CalendarID   string `json:"calendar_id"`
	Pulled       int    `json:"pulled"`
	Pushed       int    `json:"pushed"`
	Deleted      int    `json:"deleted"`
	Conflicts    int    `json:"conflicts"`
	Errors       int    `json:"errors"`
	FullResync   bool   `json:"full_resync"`
	Summary      string `json:"summary"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func (h *SyncHandlers) RunSync(ctx context.Context, request *mcp.CallToolRequest, input RunSyncInput) (*mcp.CallToolResult, SyncResultOutput, error) {
	var result *models.SyncResult
	var err error
	if input.PushOnly {
		result, err = h.svc.PushChanges(ctx)
	} else {
		result, err = h.svc.RunSync(ctx)
	}
	if err != nil {
		return nil, SyncResultOutput{}, fmt.Errorf("sync failed: %w", err)
	}
	return nil, resultToOutput(result), nil
}

type ResolveConflictInput struct {
	ID   string `json:"id" jsonschema:"Conflicted event ID (required)"`
	Keep string `json:"keep" jsonschema:"Which side wins: local or remote (required)"`
}

type ResolveConflictOutput struct {
	ID      string       `json:"id"`
	Removed bool         `json:"removed"`
	Event   *EventOutput `json:"event,omitempty"`
}

func (h *SyncHandlers) ResolveConflict(ctx context.Context, request *mcp.CallToolRequest, input ResolveConflictInput) (*mcp.CallToolResult, ResolveConflictOutput, error) {
	if input.ID == "" {
		return nil, ResolveConflictOutput{}, fmt.Errorf("id is required")
	}
	keep := calsync.Resolution(input.Keep)
	if keep != calsync.KeepLocal && keep != calsync.KeepRemote {
		return nil, ResolveConflictOutput{}, fmt.Errorf("keep must be local or remote")
	}

	ev, err := h.svc.ResolveConflict(ctx, input.ID, keep)
	if err != nil {
		return nil, ResolveConflictOutput{}, fmt.Errorf("failed to resolve conflict: %w", err)
	}

	out := ResolveConflictOutput{ID: input.ID, Removed: ev == nil}
	if ev != nil {
		e := eventToOutput(ev)
		out.Event = &e
	}
	return nil, out, nil
}

type ListConflictsInput struct{}

func (h *SyncHandlers) ListConflicts(ctx context.Context, request *mcp.CallToolRequest, input ListConflictsInput) (*mcp.CallToolResult, EventsOutput, error) {
	events, err := h.svc.ListConflicts(ctx)
	if err != nil {
		return nil, EventsOutput{}, fmt.Errorf("failed to list conflicts: %w", err)
	}
	out := EventsOutput{Events: make([]EventOutput, len(events))}
	for i, ev := range events {
		out.Events[i] = eventToOutput(ev)
	}
	return nil, out, nil
}

type CredentialStatusInput struct{}

type CredentialStatusOutput struct {
	Connected        bool   `json:"connected"`
	ClientConfigured bool   `json:"client_configured"`
	HasRefreshToken  bool   `json:"has_refresh_token"`
	ExpiresAt        string `json:"expires_at,omitempty"`
	Scope            string `json:"scope,omitempty"`
	UserEmail        string `json:"user_email,omitempty"`
	UserName         string `json:"user_name,omitempty"`
	LastSync         string `json:"last_sync,omitempty"`
	LastSyncError    string `json:"last_sync_error,omitempty"`
}

func (h *SyncHandlers) CredentialStatus(ctx context.Context, request *mcp.CallToolRequest, input CredentialStatusInput) (*mcp.CallToolResult, CredentialStatusOutput, error) {
	status := h.svc.GetCredentialStatus()
	out := CredentialStatusOutput{
		Connected:        status.Connected,
		ClientConfigured: status.ClientConfigured,
		HasRefreshToken:  status.HasRefreshToken,
		Scope:            status.Scope,
		UserEmail:        status.UserEmail,
		UserName:         status.UserName,
	}
	if status.ExpiresAt != nil {
		out.ExpiresAt = status.ExpiresAt.Format(time.RFC3339)
	}
	if last := h.svc.LastPass(); last != nil {
		if last.Result != nil {
			out.LastSync = last.Result.Summary()
		}
		if last.Err != nil {
			out.LastSyncError = last.Err.Error()
		}
	}
	return nil, out, nil
}

type ListHolidaysInput struct {
	Country string `json:"country,omitempty" jsonschema:"Country or locale code such as us, kr, gb (defaults to the configured country)"`
	From    string `json:"from,omitempty" jsonschema:"Window start (YYYY-MM-DD)"`
	To      string `json:"to,omitempty" jsonschema:"Window end, exclusive (YYYY-MM-DD)"`
}

type HolidayOutput struct {
	Title   string `json:"title"`
	Date    string `json:"date"`
	Country string `json:"country"`
}

type ListHolidaysOutput struct {
	Holidays []HolidayOutput `json:"holidays"`
}

func (h *SyncHandlers) ListHolidays(ctx context.Context, request *mcp.CallToolRequest, input ListHolidaysInput) (*mcp.CallToolResult, ListHolidaysOutput, error) {
	from, err := parseBound(input.From)
	if err != nil {
		return nil, ListHolidaysOutput{}, fmt.Errorf("invalid from: %w", err)
	}
	to, err := parseBound(input.To)
	if err != nil {
		return nil, ListHolidaysOutput{}, fmt.Errorf("invalid to: %w", err)
	}

	holidays, err := h.svc.ListHolidays(ctx, input.Country, from, to)
	if err != nil {
		return nil, ListHolidaysOutput{}, fmt.Errorf("failed to list holidays: %w", err)
	}
	out := ListHolidaysOutput{Holidays: make([]HolidayOutput, len(holidays))}
	for i, hol := range holidays {
		out.Holidays[i] = HolidayOutput{Title: hol.Title, Date: hol.Date.Format(dateLayout), Country: hol.Country}
	}
	return nil, out, nil
}

func resultToOutput(r *models.SyncResult) SyncResultOutput {
	if r == nil {
		return SyncResultOutput{}
	}
	return SyncResultOutput{
		CalendarID:   r.CalendarID,
		Pulled:       r.Pulled,
		Pushed:       r.Pushed,
		Deleted:      r.Deleted,
		Conflicts:    r.Conflicts,
		Errors:       r.Errors,
		FullResync:   r.FullResync,
		Summary:      r.Summary(),
		ErrorMessage: r.ErrorMessage(),
	}
}

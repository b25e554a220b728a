// ABOUTME: MCP prompt handlers for reusable calendar workflows
// ABOUTME: Builds agenda briefings and conflict review prompts from the local store
package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/calsync/service"
)

type PromptHandlers struct {
	svc *service.Service
	now func() time.Time
}

func NewPromptHandlers(svc *service.Service) *PromptHandlers {
	return &PromptHandlers{svc: svc, now: time.Now}
}

// GetPrompt generates the prompt message based on the template
func (h *PromptHandlers) GetPrompt(ctx context.Context, request *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	switch request.Params.Name {
	case "agenda-briefing":
		return h.getAgendaBriefingPrompt(ctx, request.Params.Arguments)
	case "conflict-review":
		return h.getConflictReviewPrompt(ctx)
	default:
		return nil, fmt.Errorf("unknown prompt: %s", request.Params.Name)
	}
}

func (h *PromptHandlers) getAgendaBriefingPrompt(ctx context.Context, args map[string]string) (*mcp.GetPromptResult, error) {
	days := 7
	if raw, ok := args["days"]; ok && raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("days must be a positive number")
		}
		days = n
	}

	now := h.now()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	items, err := h.svc.Agenda(ctx, from, from.AddDate(0, 0, days))
	if err != nil {
		return nil, fmt.Errorf("failed to build agenda: %w", err)
	}

	var promptText strings.Builder
	promptText.WriteString(fmt.Sprintf("Here is my calendar for the next %d days:\n\n", days))
	if len(items) == 0 {
		promptText.WriteString("(nothing scheduled)\n")
	}
	for _, item := range items {
		switch {
		case item.Holiday != nil:
			promptText.WriteString(fmt.Sprintf("- %s: %s (holiday)\n", item.Holiday.Date.Format("Mon Jan 2"), item.Holiday.Title))
		case item.Event.AllDay:
			promptText.WriteString(fmt.Sprintf("- %s: %s (all day)\n", item.Event.Start.Format("Mon Jan 2"), item.Event.Title))
		default:
			line := fmt.Sprintf("- %s: %s", item.Event.Start.Format("Mon Jan 2 15:04"), item.Event.Title)
			if item.Event.Location != "" {
				line += " @ " + item.Event.Location
			}
			promptText.WriteString(line + "\n")
		}
	}

	promptText.WriteString("\nPlease provide:")
	promptText.WriteString("\n1. A short briefing of the busiest days")
	promptText.WriteString("\n2. Any overlaps or back-to-back stretches worth rearranging")

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Agenda briefing for %d days", days),
		Messages: []*mcp.PromptMessage{
			{
				Role:    "user",
				Content: &mcp.TextContent{Text: promptText.String()},
			},
		},
	}, nil
}

func (h *PromptHandlers) getConflictReviewPrompt(ctx context.Context) (*mcp.GetPromptResult, error) {
	conflicts, err := h.svc.ListConflicts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch conflicts: %w", err)
	}

	var promptText strings.Builder
	if len(conflicts) == 0 {
		promptText.WriteString("There are no sync conflicts right now. Confirm that everything is in sync.")
	} else {
		promptText.WriteString(fmt.Sprintf("These %d events were edited both here and in Google Calendar:\n\n", len(conflicts)))
		for _, ev := range conflicts {
			promptText.WriteString(fmt.Sprintf("- %s (id %s), local version starts %s\n",
				ev.Title, ev.ID, ev.Start.Format(time.RFC3339)))
		}
		promptText.WriteString("\nFor each one, fetch the event, decide whether the local or the remote version")
		promptText.WriteString(" should win, and call resolve_conflict with keep set to local or remote.")
	}

	return &mcp.GetPromptResult{
		Description: "Review sync conflicts",
		Messages: []*mcp.PromptMessage{
			{
				Role:    "user",
				Content: &mcp.TextContent{Text: promptText.String()},
			},
		},
	}, nil
}

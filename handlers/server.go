// ABOUTME: MCP server assembly
// ABOUTME: Registers calendar tools, resources and prompts on a go-sdk server
package handlers

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/calsync/service"
)

// NewServer builds the calsync MCP server.
func NewServer(svc *service.Service, version string) *mcp.Server {
	eventHandlers := NewEventHandlers(svc)
	syncHandlers := NewSyncHandlers(svc)
	resourceHandlers := NewResourceHandlers(svc)
	promptHandlers := NewPromptHandlers(svc)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "calsync",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_events",
		Description: "List calendar events, optionally limited to a date window",
	}, eventHandlers.ListEvents)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "create_event",
		Description: "Create a calendar event; it is pushed to Google Calendar on the next sync",
	}, eventHandlers.CreateEvent)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "update_event",
		Description: "Update fields of an existing event; omitted fields keep their values",
	}, eventHandlers.UpdateEvent)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "delete_event",
		Description: "Delete an event locally and from Google Calendar on the next sync",
	}, eventHandlers.DeleteEvent)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_events",
		Description: "Search events by words in title, description or location",
	}, eventHandlers.SearchEvents)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "run_sync",
		Description: "Sync with Google Calendar now and report counts",
	}, syncHandlers.RunSync)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "resolve_conflict",
		Description: "Settle an event edited on both sides by keeping the local or the remote version",
	}, syncHandlers.ResolveConflict)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_conflicts",
		Description: "List events waiting for a conflict resolution",
	}, syncHandlers.ListConflicts)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "credential_status",
		Description: "Show whether a Google account is connected and how the last sync went",
	}, syncHandlers.CredentialStatus)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_holidays",
		Description: "List public holidays for a country",
	}, syncHandlers.ListHolidays)

	for _, r := range []*mcp.Resource{
		{URI: uriScheme + "events", Name: "events", Description: "All calendar events", MIMEType: "application/json"},
		{URI: uriScheme + "conflicts", Name: "conflicts", Description: "Events in conflict", MIMEType: "application/json"},
		{URI: uriScheme + "status", Name: "status", Description: "Account and sync status", MIMEType: "application/json"},
	} {
		server.AddResource(r, resourceHandlers.ReadResource)
	}
	server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: uriScheme + "events/{id}",
		Name:        "event",
		Description: "A single calendar event",
		MIMEType:    "application/json",
	}, resourceHandlers.ReadResource)

	server.AddPrompt(&mcp.Prompt{
		Name:        "agenda-briefing",
		Description: "Summarize the upcoming agenda, holidays included",
		Arguments: []*mcp.PromptArgument{
			{Name: "days", Description: "How many days ahead to cover (default 7)"},
		},
	}, promptHandlers.GetPrompt)

	server.AddPrompt(&mcp.Prompt{
		Name:        "conflict-review",
		Description: "Walk through events edited on both sides and resolve them",
	}, promptHandlers.GetPrompt)

	return server
}

// ABOUTME: MCP resource handlers for exposing calendar data
// ABOUTME: Provides read-only access to events, conflicts and sync status via calsync:// URIs
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/calsync/service"
)

const uriScheme = "calsync://"

type ResourceHandlers struct {
	svc *service.Service
}

func NewResourceHandlers(svc *service.Service) *ResourceHandlers {
	return &ResourceHandlers{svc: svc}
}

// ReadResource handles resource read requests
func (h *ResourceHandlers) ReadResource(ctx context.Context, request *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := request.Params.URI
	if !strings.HasPrefix(uri, uriScheme) {
		return nil, fmt.Errorf("invalid URI scheme: expected %s", uriScheme)
	}

	parts := strings.Split(strings.TrimPrefix(uri, uriScheme), "/")
	switch parts[0] {
	case "events":
		if len(parts) == 1 {
			return h.readEvents(ctx, uri)
		}
		return h.readEvent(ctx, uri, parts[1])
	case "conflicts":
		return h.readConflicts(ctx, uri)
	case "status":
		return h.readStatus(uri)
	default:
		return nil, mcp.ResourceNotFoundError(uri)
	}
}

func (h *ResourceHandlers) readEvents(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	events, err := h.svc.ListEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}
	return jsonResource(uri, events)
}

func (h *ResourceHandlers) readEvent(ctx context.Context, uri, id string) (*mcp.ReadResourceResult, error) {
	ev, err := h.svc.GetEvent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch event: %w", err)
	}
	return jsonResource(uri, ev)
}

func (h *ResourceHandlers) readConflicts(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	events, err := h.svc.ListConflicts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch conflicts: %w", err)
	}
	return jsonResource(uri, events)
}

func (h *ResourceHandlers) readStatus(uri string) (*mcp.ReadResourceResult, error) {
	status := struct {
		Credential any    `json:"credential"`
		LastSync   string `json:"lastSync,omitempty"`
		LastError  string `json:"lastError,omitempty"`
	}{Credential: h.svc.GetCredentialStatus()}

	if last := h.svc.LastPass(); last != nil {
		if last.Result != nil {
			status.LastSync = last.Result.Summary()
		}
		if last.Err != nil {
			status.LastError = last.Err.Error()
		}
	}
	return jsonResource(uri, status)
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}
	return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{
		{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}}, nil
}

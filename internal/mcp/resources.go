package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/pilotauth/pilot/internal/openapi"
)

const (
	openAPIURI      = "pilot://openapi"
	userAppsPrefix  = "pilot://apps/"
	userAppTemplate = userAppsPrefix + "{username}"
)

// registerResources adds MCP resource definitions to the server. Resources
// provide read-only data that LLM clients can load into their context.
func (s *MCPServer) registerResources(srv *server.MCPServer) {

	// -------------------------------------------------------------------
	// pilot://openapi: the HTTP API description
	// -------------------------------------------------------------------
	srv.AddResource(
		mcp.NewResource(
			openAPIURI,
			"License API Description",
			mcp.WithResourceDescription(
				"OpenAPI document for the Pilot HTTP API, listing every route, "+
					"its query parameters and its response shapes.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handleOpenAPIResource,
	)

	// -------------------------------------------------------------------
	// pilot://apps/{username}: application keys owned by a user
	// -------------------------------------------------------------------
	srv.AddResourceTemplate(
		mcp.NewResourceTemplate(
			userAppTemplate,
			"Applications by Owner",
			mcp.WithTemplateDescription(
				"Application keys created by a username, sorted.",
			),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.handleUserAppsResource,
	)
}

func (s *MCPServer) handleOpenAPIResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {
	b, err := json.MarshalIndent(openapi.Generate("", s.version), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal OpenAPI document: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      openAPIURI,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

func (s *MCPServer) handleUserAppsResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	uri := request.Params.URI
	username := strings.TrimPrefix(uri, userAppsPrefix)
	if username == "" || username == uri {
		return nil, fmt.Errorf("invalid apps URI %q: expected %s", uri, userAppTemplate)
	}

	keys, err := s.svc.ListApplicationsForUser(ctx, s.customerKey, username)
	if err != nil {
		return nil, fmt.Errorf("list applications for %q: %w", username, err)
	}

	b, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal application keys: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/pilotauth/pilot/internal/license"
)

// MCPServer wraps the mcp-go server with Pilot tool and resource
// registrations. It exposes the license API as MCP tools so agents can
// manage applications and licenses on behalf of one customer.
type MCPServer struct {
	svc         *license.Service
	customerKey string
	version     string
	logger      *slog.Logger
	server      *server.MCPServer
}

// NewMCPServer creates an MCPServer pre-loaded with every Pilot tool and
// resource. Gated tools act with customerKey; the service still checks it
// on every call.
func NewMCPServer(svc *license.Service, customerKey, version string, logger *slog.Logger) *MCPServer {
	s := &MCPServer{
		svc:         svc,
		customerKey: customerKey,
		version:     version,
		logger:      logger,
	}

	mcpServer := server.NewMCPServer(
		"Pilot License API",
		version,
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(true),
	)

	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go MCPServer instance. Useful for
// advanced configuration or testing.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio starts the MCP server in stdio mode, for clients that launch
// the server as a subprocess.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode")
	return server.ServeStdio(s.server)
}

// ServeHTTP starts the MCP server in Streamable HTTP mode, listening on
// the given address (e.g. ":3001").
func (s *MCPServer) ServeHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.server)
	s.logger.Info("MCP HTTP server starting", "addr", addr)
	return httpServer.Start(addr)
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(true),
	}
}

func mutatingAnnotation(destructive bool) mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint:    boolPtr(false),
		DestructiveHint: boolPtr(destructive),
	}
}

func boolPtr(b bool) *bool {
	return &b
}

package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	pmcp "github.com/pilotauth/pilot/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	var (
		transport string
		port      int
		ck        customerKeyFlag
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server that exposes the license API as
tools for AI agents. Every tool acts for the customer API key given here.
Supports stdio (default) and HTTP transports.

In stdio mode, the MCP server communicates over stdin/stdout using JSON-RPC.
In HTTP mode, it listens on the given port using the streamable HTTP transport.`,
		Example: `  PILOT_CUSTOMER_KEY=$KEY pilot mcp
  pilot mcp --transport http --port 3001 --customer-key $KEY`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(transport, port, &ck)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport mode: stdio or http")
	cmd.Flags().IntVar(&port, "port", 3001, "HTTP port (only used with --transport http)")
	cmd.Flags().StringVar(&ck.value, "customer-key", "", "Customer API key the tools act for")

	return cmd
}

func runMCP(transport string, port int, ck *customerKeyFlag) error {
	if transport != "stdio" && transport != "http" {
		return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", transport)
	}

	key, err := ck.resolve()
	if err != nil {
		return fmt.Errorf("customer key: %w", err)
	}

	ctx := context.Background()
	env, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	// Fail early rather than on the first tool call.
	if err := env.svc.Authorize(ctx, key); err != nil {
		return describeError(err)
	}

	mcpSrv := pmcp.NewMCPServer(env.svc, key, versionString(), env.logger)

	if transport == "stdio" {
		return mcpSrv.ServeStdio()
	}
	addr := fmt.Sprintf(":%d", port)
	env.logger.Info("starting MCP HTTP server", "addr", addr)
	return mcpSrv.ServeHTTP(addr)
}

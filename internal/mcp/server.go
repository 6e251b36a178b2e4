package mcp

import (
	"context"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/trustplane/internal/gateway"
)

// Config holds MCP server configuration.
type Config struct {
	Version string
	Logger  *slog.Logger
}

// Server exposes one agent's gateway as MCP tools.
type Server struct {
	mcpServer *mcpsdk.Server
	gateway   *gateway.Gateway
	logger    *slog.Logger
}

// New creates an MCP server over an initialized gateway.
func New(cfg Config, g *gateway.Gateway) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	s := &Server{
		gateway: g,
		logger:  cfg.Logger.With("component", "mcp", "agent_id", g.AgentID()),
	}

	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "trustplane",
			Version: cfg.Version,
		},
		nil,
	)

	s.registerTools()
	return s
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// registerTools adds all trustplane tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "trustplane_execute",
		Description: "Submit an action (file_read, file_write, network_request, shell_exec) to the trust gateway. Denied actions return an error result with the reason.",
	}, s.handleExecute)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "trustplane_check",
		Description: "Check whether the policy would deny an action, without recording it or touching the breaker and budget (dry-run).",
	}, s.handleCheck)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "trustplane_report",
		Description: "Return the agent's AI bill of materials: declared models, tools, datasets and the configuration fingerprint.",
	}, s.handleReport)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "trustplane_status",
		Description: "Return breaker state, token usage and decision counts for the agent.",
	}, s.handleStatus)
}

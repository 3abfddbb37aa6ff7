// Package mcp exposes the agent-facing half of a gatekeeper as an MCP
// stdio server. Operator controls are deliberately absent: an agent must
// not be able to approve its own tools or lift an emergency stop.
package mcp

import (
	"context"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/toolgate/internal/gatekeeper"
)

// Server wraps the MCP SDK server with toolgate policy enforcement.
type Server struct {
	mcpServer *mcpsdk.Server
	gk        *gatekeeper.Gatekeeper
	logger    *slog.Logger
}

// New creates an MCP server backed by gk. The caller owns gk.
func New(gk *gatekeeper.Gatekeeper, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if version == "" {
		version = "dev"
	}
	s := &Server{gk: gk, logger: logger}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "toolgate",
			Version: version,
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

// registerTools adds the toolgate tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "toolgate_evaluate",
		Description: "Ask toolgate whether a tool call may run. Run the tool only if allowed is true, then call toolgate_report_outcome with the decision_id.",
	}, s.handleEvaluate)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "toolgate_report_outcome",
		Description: "Report whether an allowed tool call actually ran and whether it failed. Call exactly once per allowed decision.",
	}, s.handleReportOutcome)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "toolgate_status",
		Description: "Show emergency stop, safety mode, active approval grants and the policy in force.",
	}, s.handleStatus)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "toolgate_audit_summary",
		Description: "Summarize recorded decisions: totals, allowed, denied, executed, errors and counts by tier and stage.",
	}, s.handleAuditSummary)
}

package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/toolgate/internal/gate"
	gatemcp "github.com/ppiankov/toolgate/internal/mcp"
)

var (
	mcpPolicy   string
	mcpAuditLog string
	mcpStateDB  string
	mcpMetrics  string
)

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringVar(&mcpPolicy, "policy", "", "Path to policy YAML")
	mcpCmd.Flags().StringVar(&mcpAuditLog, "audit-log", "", "Path to audit log JSONL file; must not be shared with a running server")
	mcpCmd.Flags().StringVar(&mcpStateDB, "state-db", "", "Path to SQLite operator state database")
	mcpCmd.Flags().StringVar(&mcpMetrics, "gate-metrics", "", "Path to estimator metrics YAML used as the gate's quality signal")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long: "Runs toolgate as an MCP (Model Context Protocol) server over stdio.\n" +
		"Exposes toolgate_evaluate, toolgate_report_outcome, toolgate_status and\n" +
		"toolgate_audit_summary. Operator controls are not exposed to the agent.",
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	metrics, err := metricsSource(mcpMetrics)
	if err != nil {
		return err
	}
	var source gate.Source
	if metrics != nil {
		source = metrics
	}

	gk, err := openGatekeeper(mcpPolicy, mcpAuditLog, mcpStateDB, source)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer gk.Close()

	srv := gatemcp.New(gk, version, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down MCP server...")
		cancel()
	}()

	fmt.Fprintln(os.Stderr, "toolgate MCP server running on stdio")
	fmt.Fprintln(os.Stderr)

	err = srv.Run(ctx)

	s := gk.AuditLog().Summary()
	fmt.Fprintf(os.Stderr, "\nSession: %d decisions, %d allowed, %d denied, %d executed\n",
		s.Total, s.Allowed, s.Denied, s.Executed)
	return err
}

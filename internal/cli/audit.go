package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/toolgate/internal/audit"
	"github.com/ppiankov/toolgate/internal/model"
)

var (
	tailLines   int
	tailTool    string
	tailVerdict string

	summaryJSON bool

	replayTool     string
	replayDecision string
	replayFrom     string
	replayTo       string
	replayFormat   string
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditTailCmd)
	auditCmd.AddCommand(auditSummaryCmd)
	auditCmd.AddCommand(auditReplayCmd)

	auditTailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent decisions to show")
	auditTailCmd.Flags().StringVar(&tailTool, "tool", "", "Only show decisions for this tool")
	auditTailCmd.Flags().StringVar(&tailVerdict, "verdict", "", "Only show ALLOW or DENY decisions")

	auditSummaryCmd.Flags().BoolVar(&summaryJSON, "json", false, "Print raw JSON")

	auditReplayCmd.Flags().StringVar(&replayTool, "tool", "", "Only replay records for this tool")
	auditReplayCmd.Flags().StringVar(&replayDecision, "decision", "", "Only replay records for this decision id")
	auditReplayCmd.Flags().StringVar(&replayFrom, "from", "", "Start time filter (RFC3339)")
	auditReplayCmd.Flags().StringVar(&replayTo, "to", "", "End time filter (RFC3339)")
	auditReplayCmd.Flags().StringVarP(&replayFormat, "format", "f", "text", "Output format (text|json)")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
	Long:  "Commands for verifying and inspecting the hash-chained audit log.\nThe log path defaults to audit_log from the config.",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Verify hash chain integrity of an audit log",
	Long:  "Walks the JSONL audit log and validates that every record's prev_hash\nmatches the SHA-256 of the previous line. Exits 0 if valid, 1 if tampered.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail [path]",
	Short: "Show recent decisions with their outcomes",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditTail,
}

var auditSummaryCmd = &cobra.Command{
	Use:   "summary [path]",
	Short: "Aggregate decision counts by verdict, tier and stage",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditSummary,
}

var auditReplayCmd = &cobra.Command{
	Use:   "replay [path]",
	Short: "Replay audit records as a timeline",
	Long:  "Reads the audit log, filters by tool, decision id and time range,\nand renders a decision timeline with summary.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditReplay,
}

func auditPath(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return appConfig.AuditLog
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	result := audit.Verify(auditPath(args))
	if result.Valid {
		fmt.Fprintf(cmd.OutOrStdout(), "OK: %d records verified\n", result.Lines)
		return nil
	}
	fmt.Fprintf(os.Stderr, "FAILED at line %d: %s\n", result.ErrorLine, result.Error)
	os.Exit(1)
	return nil
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	log, err := audit.Load(auditPath(args))
	if err != nil {
		return err
	}
	filter := audit.Filter{Limit: audit.Limit(tailLines), Tool: tailTool}
	if tailVerdict != "" {
		filter.Verdict = model.Verdict(strings.ToUpper(tailVerdict))
		if filter.Verdict != model.Allow && filter.Verdict != model.Deny {
			return fmt.Errorf("--verdict must be ALLOW or DENY, got %q", tailVerdict)
		}
	}
	entries, err := log.Entries(filter)
	if err != nil {
		return err
	}
	for _, e := range entries {
		out, _ := json.MarshalIndent(e, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
	}
	return nil
}

func runAuditSummary(cmd *cobra.Command, args []string) error {
	log, err := audit.Load(auditPath(args))
	if err != nil {
		return err
	}
	s := log.Summary()
	if summaryJSON {
		out, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	}
	printSummary(cmd.OutOrStdout(), s)
	return nil
}

func printSummary(w io.Writer, s audit.Summary) {
	fmt.Fprintf(w, "Decisions:  %d\n", s.Total)
	fmt.Fprintf(w, "  allowed:    %d\n", s.Allowed)
	fmt.Fprintf(w, "  denied:     %d\n", s.Denied)
	fmt.Fprintf(w, "  executed:   %d\n", s.Executed)
	fmt.Fprintf(w, "  errors:     %d\n", s.Errors)
	fmt.Fprintf(w, "  unresolved: %d\n", s.Unresolved)
	printCounts(w, "By tier:", s.ByTier)
	printCounts(w, "By stage:", s.ByStage)
}

func printCounts(w io.Writer, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintln(w, title)
	for _, k := range keys {
		fmt.Fprintf(w, "  %-24s %d\n", k, counts[k])
	}
}

func runAuditReplay(cmd *cobra.Command, args []string) error {
	filter := audit.ReplayFilter{Tool: replayTool, DecisionID: replayDecision}

	if replayFrom != "" {
		from, err := time.Parse(time.RFC3339, replayFrom)
		if err != nil {
			return fmt.Errorf("invalid --from time %q: %w", replayFrom, err)
		}
		filter.From = from
	}

	if replayTo != "" {
		to, err := time.Parse(time.RFC3339, replayTo)
		if err != nil {
			return fmt.Errorf("invalid --to time %q: %w", replayTo, err)
		}
		filter.To = to
	}

	result, err := audit.Replay(auditPath(args), filter)
	if err != nil {
		return err
	}

	switch replayFormat {
	case "json":
		out, err := audit.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
	default:
		fmt.Fprint(cmd.OutOrStdout(), audit.FormatTimeline(result))
	}
	return nil
}

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	checkArgs    string
	checkQuality float64
	checkFormat  string
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkArgs, "args", "", "Tool arguments as a JSON object")
	checkCmd.Flags().Float64Var(&checkQuality, "quality", -1, "Monitor quality signal in [0,1] (omit to let the server decide)")
	checkCmd.Flags().StringVarP(&checkFormat, "format", "f", "text", "Output format (text|json)")
}

var checkCmd = &cobra.Command{
	Use:   "check <tool>",
	Short: "Ask the policy server whether a tool call would be allowed",
	Long: "Evaluates one tool call on the policy server. The decision is recorded\n" +
		"in the audit log like any other and is reported as not executed.\n\n" +
		"Exit code 0 on ALLOW, 1 on DENY.",
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	var raw json.RawMessage
	if checkArgs != "" {
		if !json.Valid([]byte(checkArgs)) {
			return fmt.Errorf("--args is not valid JSON")
		}
		raw = json.RawMessage(checkArgs)
	}
	var quality *float64
	if checkQuality >= 0 {
		quality = &checkQuality
	}

	c, err := remote()
	if err != nil {
		return err
	}
	defer c.Close()

	ctx := context.Background()
	d, err := c.Evaluate(ctx, args[0], raw, quality)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}
	if d.ID != "" {
		_ = c.ReportOutcome(ctx, d.ID, false, "dry run")
	}

	switch checkFormat {
	case "json":
		out, err := json.MarshalIndent(d, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
	default:
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s [%s] stage=%s: %s\n", d.Verdict, d.Tool, d.Tier, d.Stage, d.Reason)
		if d.Warning != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "warning: %s\n", d.Warning)
		}
	}

	if !d.Allowed() {
		os.Exit(1)
	}
	return nil
}

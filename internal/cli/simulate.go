package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/toolgate/internal/sim"
)

var (
	simLog    string
	simPolicy string
	simFormat string
)

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringVar(&simLog, "log", "", "Path to audit log (default from config)")
	simulateCmd.Flags().StringVar(&simPolicy, "policy", "", "Path to candidate policy YAML (required)")
	simulateCmd.Flags().StringVarP(&simFormat, "format", "f", "text", "Output format (text|json)")
	simulateCmd.MarkFlagRequired("policy")
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Replay recorded decisions against a candidate policy",
	Long: "Reads the audit log, re-decides every recorded call with an alternate\n" +
		"policy file, and shows which verdicts would change.\n\n" +
		"Use this to preview tier or gate changes before deploying them.",
	RunE: runSimulate,
}

func runSimulate(cmd *cobra.Command, args []string) error {
	logPath := simLog
	if logPath == "" {
		logPath = appConfig.AuditLog
	}
	result, err := sim.Simulate(logPath, simPolicy)
	if err != nil {
		return err
	}

	switch simFormat {
	case "json":
		out, err := sim.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
	default:
		fmt.Fprint(cmd.OutOrStdout(), sim.FormatText(result))
	}

	return nil
}

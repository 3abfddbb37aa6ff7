package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/toolgate/internal/policy"
	"github.com/ppiankov/toolgate/internal/policydiff"
)

var (
	diffFormat      string
	diffFailOnLoose bool
)

// errLooserPolicy makes "diff --fail-on-looser" exit non-zero.
var errLooserPolicy = errors.New("new policy relaxes enforcement")

func init() {
	rootCmd.AddCommand(diffCmd)
	diffCmd.Flags().StringVarP(&diffFormat, "format", "f", "text", "Output format (text|json)")
	diffCmd.Flags().BoolVar(&diffFailOnLoose, "fail-on-looser", false, "Exit non-zero when any change is looser")
}

var diffCmd = &cobra.Command{
	Use:   "diff <old.yaml> <new.yaml>",
	Short: "Compare two policy files",
	Long: "Shows what changed between two policies and whether each change\n" +
		"tightens or relaxes enforcement. With --fail-on-looser the command can\n" +
		"guard policy changes in CI.",
	Args: cobra.ExactArgs(2),
	RunE: runDiff,
}

func runDiff(cmd *cobra.Command, args []string) error {
	var cfgs [2]*policy.PolicyConfig
	for i, path := range args {
		cfg, err := policy.LoadConfig(path)
		if err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		cfgs[i] = cfg
	}

	result := policydiff.Diff(cfgs[0], cfgs[1])
	result.OldPath, result.NewPath = args[0], args[1]

	w := cmd.OutOrStdout()
	if diffFormat == "json" {
		out, err := policydiff.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, out)
	} else {
		fmt.Fprint(w, policydiff.FormatText(result))
	}

	if diffFailOnLoose && result.Looser() {
		return errLooserPolicy
	}
	return nil
}

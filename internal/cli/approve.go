package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var approveDuration time.Duration

func init() {
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(revokeCmd)
	approveCmd.Flags().DurationVar(&approveDuration, "duration", 0, "Validity period (e.g., 5m, 1h). Default: policy default_approval_duration")
}

var approveCmd = &cobra.Command{
	Use:   "approve <tool>",
	Short: "Grant time-bounded approval for an O2 tool",
	Long: "Grants approval for a tool on the policy server. The grant is reusable\n" +
		"until it expires. Approving again replaces the previous grant.\n" +
		"Safety mode and the emergency stop still override any grant.",
	Args: cobra.ExactArgs(1),
	RunE: runApprove,
}

var revokeCmd = &cobra.Command{
	Use:   "revoke <tool>",
	Short: "Revoke an approval grant",
	Args:  cobra.ExactArgs(1),
	RunE:  runRevoke,
}

func runApprove(cmd *cobra.Command, args []string) error {
	if approveDuration < 0 {
		return fmt.Errorf("--duration must be positive, got %s", approveDuration)
	}
	c, err := remote()
	if err != nil {
		return err
	}
	defer c.Close()

	g, err := c.Approve(context.Background(), args[0], approveDuration)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Approved %q until %s (%s)\n",
		g.Tool, g.ExpiresAt.Format(time.RFC3339), g.ExpiresAt.Sub(g.GrantedAt).Round(time.Second))
	return nil
}

func runRevoke(cmd *cobra.Command, args []string) error {
	c, err := remote()
	if err != nil {
		return err
	}
	defer c.Close()

	removed, err := c.Revoke(context.Background(), args[0])
	if err != nil {
		return err
	}
	if removed {
		fmt.Fprintf(cmd.OutOrStdout(), "Revoked %q\n", args[0])
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "No grant for %q\n", args[0])
	}
	return nil
}

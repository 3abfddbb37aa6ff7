package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/toolgate/internal/safety"
)

var (
	safetyReason    string
	emergencyReason string
)

func init() {
	rootCmd.AddCommand(safetyCmd)
	safetyCmd.AddCommand(safetyEnterCmd)
	safetyCmd.AddCommand(safetyExitCmd)
	safetyEnterCmd.Flags().StringVar(&safetyReason, "reason", "operator request", "Why the emptiness window was opened")

	rootCmd.AddCommand(emergencyCmd)
	emergencyCmd.AddCommand(emergencyStopCmd)
	emergencyCmd.AddCommand(emergencyClearCmd)
	emergencyStopCmd.Flags().StringVar(&emergencyReason, "reason", "manual emergency stop", "Why the emergency stop was triggered")
}

var safetyCmd = &cobra.Command{
	Use:   "safety",
	Short: "Control the emptiness window (safety mode)",
	Long: "While safety mode is active only O0 tools run. Every blocked call is\n" +
		"recorded; leaving safety mode prints a review packet for those calls.",
}

var safetyEnterCmd = &cobra.Command{
	Use:   "enter",
	Short: "Enter safety mode",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := remote()
		if err != nil {
			return err
		}
		defer c.Close()

		changed, err := c.EnterSafetyMode(context.Background(), safetyReason)
		if err != nil {
			return err
		}
		if changed {
			fmt.Fprintf(cmd.OutOrStdout(), "Safety mode entered: %s\n", safetyReason)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "Safety mode already active")
		}
		return nil
	},
}

var safetyExitCmd = &cobra.Command{
	Use:   "exit",
	Short: "Exit safety mode and print the review packet",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := remote()
		if err != nil {
			return err
		}
		defer c.Close()

		packet, err := c.ExitSafetyMode(context.Background())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Safety mode exited")
		if packet != nil {
			return printReviewPacket(cmd.OutOrStdout(), packet)
		}
		return nil
	},
}

func printReviewPacket(w io.Writer, p *safety.ReviewPacket) error {
	fmt.Fprintf(w, "\nReview packet %s\n", p.ID)
	fmt.Fprintf(w, "  Reason:   %s\n", p.Reason)
	fmt.Fprintf(w, "  Window:   %s .. %s\n", p.ActivatedAt.Format(time.RFC3339), p.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "  Blocked:  %d call(s)\n", len(p.BlockedCalls))
	for _, b := range p.BlockedCalls {
		fmt.Fprintf(w, "    %s  %-30s %s  %s\n", b.At.Format("15:04:05"), b.Tool, b.Tier, b.DecisionID)
	}
	fmt.Fprintf(w, "  %s\n", p.Recommendation)

	out, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%s\n", out)
	return nil
}

var emergencyCmd = &cobra.Command{
	Use:   "emergency",
	Short: "Control the emergency stop",
	Long:  "The emergency stop blocks every non-O0 tool and takes precedence over\nsafety mode and all approval grants.",
}

var emergencyStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Trigger the emergency stop",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := remote()
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.EmergencyStop(context.Background(), emergencyReason); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "EMERGENCY STOP active: %s\n", emergencyReason)
		return nil
	},
}

var emergencyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the emergency stop",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := remote()
		if err != nil {
			return err
		}
		defer c.Close()

		changed, err := c.ClearEmergency(context.Background())
		if err != nil {
			return err
		}
		if changed {
			fmt.Fprintln(cmd.OutOrStdout(), "Emergency stop cleared")
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "Emergency stop was not active")
		}
		return nil
	},
}

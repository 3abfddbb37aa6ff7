package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/toolgate/internal/statestore"
)

var (
	reviewsLimit   int
	reviewsVerbose bool
)

func init() {
	rootCmd.AddCommand(reviewsCmd)
	reviewsCmd.Flags().IntVarP(&reviewsLimit, "limit", "n", 10, "Number of packets to show (0 for all)")
	reviewsCmd.Flags().BoolVarP(&reviewsVerbose, "verbose", "v", false, "Print every blocked call")
}

var reviewsCmd = &cobra.Command{
	Use:   "reviews",
	Short: "List review packets from past safety windows",
	Long:  "Reads review packets from the state database, newest first.\nA packet is written when safety mode exits after blocking calls.",
	RunE:  runReviews,
}

func runReviews(cmd *cobra.Command, args []string) error {
	if appConfig.StateDB == "" {
		return fmt.Errorf("state_db is not configured; review packets are kept in server memory only")
	}
	store, err := statestore.Open(appConfig.StateDB)
	if err != nil {
		return fmt.Errorf("failed to open state db: %w", err)
	}
	defer store.Close()

	packets, err := store.ReviewPackets(reviewsLimit)
	if err != nil {
		return err
	}
	if len(packets) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No review packets.")
		return nil
	}

	w := cmd.OutOrStdout()
	if reviewsVerbose {
		for i := range packets {
			if err := printReviewPacket(w, &packets[i]); err != nil {
				return err
			}
		}
		return nil
	}

	fmt.Fprintf(w, "%-38s %-20s %-8s %s\n", "ID", "CLOSED", "BLOCKED", "REASON")
	for _, p := range packets {
		fmt.Fprintf(w, "%-38s %-20s %-8d %s\n",
			p.ID, p.CreatedAt.Format("2006-01-02 15:04:05"), len(p.BlockedCalls), truncate(p.Reason, 40))
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

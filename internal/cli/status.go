package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/toolgate/internal/gatekeeper"
)

var statusJSON bool

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print raw JSON")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show policy server state",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := remote()
		if err != nil {
			return err
		}
		defer c.Close()

		st, err := c.Status(context.Background())
		if err != nil {
			return err
		}
		if statusJSON {
			out, err := json.MarshalIndent(st, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		}
		printStatus(cmd.OutOrStdout(), st)
		return nil
	},
}

func printStatus(w io.Writer, st gatekeeper.Status) {
	fmt.Fprintf(w, "Policy:     %s (strict=%t, default=%s)\n", st.PolicyHash, st.Strict, st.DefaultTier)
	fmt.Fprintf(w, "Gate:       threshold %s, min quality %.2f\n", st.GateThreshold, st.MinQuality)

	switch {
	case st.Safety.Emergency:
		fmt.Fprintf(w, "Emergency:  ACTIVE since %s (%s)\n", st.Safety.EmergencySince.Format(time.RFC3339), st.Safety.EmergencyReason)
	default:
		fmt.Fprintln(w, "Emergency:  off")
	}
	if st.Safety.SafetyMode {
		fmt.Fprintf(w, "Safety:     ACTIVE since %s (%s), %d blocked\n",
			st.Safety.SafetySince.Format(time.RFC3339), st.Safety.SafetyReason, st.Safety.BlockedCount)
	} else {
		fmt.Fprintln(w, "Safety:     off")
	}

	fmt.Fprintf(w, "Grants:     %d\n", len(st.Grants))
	for _, g := range st.Grants {
		fmt.Fprintf(w, "  %-38s expires %s\n", g.Tool, g.ExpiresAt.Format(time.RFC3339))
	}
	a := st.Audit
	fmt.Fprintf(w, "Audit:      %d decisions, %d allowed, %d denied, %d executed, %d errors, %d unresolved\n",
		a.Total, a.Allowed, a.Denied, a.Executed, a.Errors, a.Unresolved)
	if st.AlertsDropped > 0 {
		fmt.Fprintf(w, "Alerts:     %d dropped\n", st.AlertsDropped)
	}
}

package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/toolgate/internal/audit"
	"github.com/ppiankov/toolgate/internal/gate"
	"github.com/ppiankov/toolgate/internal/gatekeeper"
	"github.com/ppiankov/toolgate/internal/model"
	"github.com/ppiankov/toolgate/internal/policy"
)

func init() {
	rootCmd.AddCommand(demoCmd)
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Walk through grants, safety mode and the gate in a throwaway sandbox",
	Long: "Creates a temporary policy, audit log and gatekeeper, runs the standard\n" +
		"scenarios against it and prints every decision. Nothing outside the\n" +
		"temporary directory is touched.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDemo(cmd.OutOrStdout())
	},
}

type demoRun struct {
	w   io.Writer
	gk  *gatekeeper.Gatekeeper
	ctx context.Context
}

func (d *demoRun) call(tool string, succeed bool) model.Decision {
	dec, err := d.gk.Evaluate(d.ctx, policy.Request{Tool: tool})
	if err != nil {
		fmt.Fprintf(d.w, "  %-10s %-5s %-22s %s\n", tool, dec.Verdict, dec.Stage, err)
		return dec
	}
	fmt.Fprintf(d.w, "  %-10s %-5s %-22s %s\n", tool, dec.Verdict, dec.Stage, dec.Reason)
	if dec.Allowed() {
		errText := ""
		if !succeed {
			errText = "simulated failure"
		}
		_ = d.gk.ReportOutcome(dec.ID, succeed, errText)
	}
	return dec
}

func runDemo(w io.Writer) error {
	tmpDir, err := os.MkdirTemp("", "toolgate-demo-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	policyPath := filepath.Join(tmpDir, "policy.yaml")
	if err := os.WriteFile(policyPath, []byte(policy.DefaultConfigYAML()), 0644); err != nil {
		return err
	}
	auditPath := filepath.Join(tmpDir, "audit.jsonl")

	metrics := gate.NewMetricsSource()
	fpr, coverage := 0.01, 0.9
	metrics.Update(gate.Metrics{FPR: &fpr, CoverageAtFPR: &coverage})

	gk, err := gatekeeper.New(gatekeeper.Options{
		PolicyPath: policyPath,
		AuditPath:  auditPath,
		Source:     metrics,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		return err
	}
	defer gk.Close()

	d := &demoRun{w: w, gk: gk, ctx: context.Background()}

	fmt.Fprintln(w, "=== toolgate demo ===")
	fmt.Fprintf(w, "Sandbox: %s\n", tmpDir)

	fmt.Fprintln(w, "\nA. O0 tools always run")
	d.call("read_file", true)

	fmt.Fprintln(w, "\nB. O2 tools need a grant")
	d.call("exec", true)

	fmt.Fprintln(w, "\nC. Grant, use, revoke")
	if _, err := gk.GrantApproval("exec", 300*time.Second); err != nil {
		return err
	}
	fmt.Fprintln(w, "  operator: approve exec for 5m")
	d.call("exec", true)
	if _, err := gk.RevokeApproval("exec"); err != nil {
		return err
	}
	fmt.Fprintln(w, "  operator: revoke exec")
	d.call("exec", true)

	fmt.Fprintln(w, "\nD. Emptiness window")
	if _, err := gk.EnterSafetyMode("investigating"); err != nil {
		return err
	}
	fmt.Fprintln(w, "  operator: safety enter (investigating)")
	d.call("write_file", true)
	d.call("read_file", true)
	packet, err := gk.ExitSafetyMode()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "  operator: safety exit")
	if packet != nil {
		fmt.Fprintf(w, "  review packet: %d blocked call(s)\n", len(packet.BlockedCalls))
	}
	d.call("write_file", true)

	fmt.Fprintln(w, "\nE. Degraded estimator closes the gate")
	if _, err := gk.GrantApproval("exec", 300*time.Second); err != nil {
		return err
	}
	badFPR := 0.3
	metrics.Update(gate.Metrics{FPR: &badFPR, CoverageAtFPR: &coverage})
	fmt.Fprintf(w, "  estimator: %s\n", metrics.Status())
	d.call("exec", true)

	fmt.Fprintln(w, "\nF. Emergency stop overrides every grant")
	metrics.Update(gate.Metrics{FPR: &fpr, CoverageAtFPR: &coverage})
	if err := gk.EmergencyStop("demo"); err != nil {
		return err
	}
	d.call("exec", true)
	d.call("read_file", false)
	if _, err := gk.ClearEmergency(); err != nil {
		return err
	}

	s := gk.AuditLog().Summary()
	fmt.Fprintf(w, "\nAudit: %d decisions, %d allowed, %d denied, %d executed, %d errors\n",
		s.Total, s.Allowed, s.Denied, s.Executed, s.Errors)
	if r := audit.Verify(auditPath); r.Valid {
		fmt.Fprintf(w, "Chain: OK (%d records)\n", r.Lines)
	} else {
		return fmt.Errorf("audit chain broken at line %d: %s", r.ErrorLine, r.Error)
	}
	return nil
}

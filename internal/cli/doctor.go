package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/toolgate/internal/audit"
	"github.com/ppiankov/toolgate/internal/config"
	"github.com/ppiankov/toolgate/internal/integrity"
	"github.com/ppiankov/toolgate/internal/policy"
	"github.com/ppiankov/toolgate/internal/statestore"
	"github.com/ppiankov/toolgate/internal/systemd"
)

var doctorSkipServer bool

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorSkipServer, "offline", false, "Skip the policy server reachability check")
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, policy, audit log and server health",
	RunE:  runDoctor,
}

type checkResult struct {
	label  string
	ok     bool
	detail string
	fix    string
}

func runDoctor(cmd *cobra.Command, args []string) error {
	checks := doctorChecks()
	if !doctorSkipServer {
		checks = append(checks, checkServer())
	}
	return printChecks(cmd.OutOrStdout(), checks)
}

func doctorChecks() []checkResult {
	var checks []checkResult

	dir := config.Dir()
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		checks = append(checks, checkResult{label: "config directory", ok: true, detail: dir})
	} else {
		checks = append(checks, checkResult{label: "config directory", detail: "missing", fix: "toolgate init-policy"})
	}

	if _, hash, err := policy.LoadConfigWithHash(appConfig.PolicyPath); err != nil {
		checks = append(checks, checkResult{label: "policy", detail: err.Error(), fix: "fix " + appConfig.PolicyPath})
	} else if _, statErr := os.Stat(appConfig.PolicyPath); statErr != nil {
		checks = append(checks, checkResult{label: "policy", ok: true, detail: "built-in defaults (" + hash + ")"})
	} else {
		checks = append(checks, checkResult{label: "policy", ok: true, detail: hash})
	}

	if _, err := os.Stat(appConfig.AuditLog); os.IsNotExist(err) {
		checks = append(checks, checkResult{label: "audit log", ok: true, detail: "not created yet"})
	} else if r := audit.Verify(appConfig.AuditLog); r.Valid {
		checks = append(checks, checkResult{label: "audit log", ok: true, detail: fmt.Sprintf("%d records, chain intact", r.Lines)})
	} else {
		checks = append(checks, checkResult{
			label:  "audit log",
			detail: fmt.Sprintf("line %d: %s", r.ErrorLine, r.Error),
			fix:    "toolgate audit verify " + appConfig.AuditLog,
		})
	}

	if appConfig.StateDB == "" {
		checks = append(checks, checkResult{label: "state db", ok: true, detail: "disabled (memory only)"})
	} else if store, err := statestore.Open(appConfig.StateDB); err != nil {
		checks = append(checks, checkResult{label: "state db", detail: err.Error()})
	} else {
		_ = store.Close()
		checks = append(checks, checkResult{label: "state db", ok: true, detail: appConfig.StateDB})
	}

	if appConfig.Operator.TOTPSecret == "" {
		checks = append(checks, checkResult{label: "operator auth", detail: "no TOTP secret", fix: "set operator.totp_secret"})
	} else {
		checks = append(checks, checkResult{label: "operator auth", ok: true, detail: "TOTP"})
	}

	checks = append(checks, checkBinary())
	if unit := systemd.FindUnitFile(); unit != "" {
		if msg := systemd.CheckUnitFileIntegrity(unitHashPath()); msg != "" {
			checks = append(checks, checkResult{label: "systemd unit", detail: msg, fix: "toolgate service install --force"})
		} else {
			checks = append(checks, checkResult{label: "systemd unit", ok: true, detail: unit})
		}
	}
	return checks
}

func checkBinary() checkResult {
	res, err := integrity.Verify()
	switch {
	case err != nil:
		return checkResult{label: "binary", detail: err.Error(), fix: "reinstall toolgate"}
	case res.Skipped():
		return checkResult{label: "binary", ok: true, detail: "no checksum recorded (dev build)"}
	default:
		return checkResult{label: "binary", ok: true, detail: "checksum verified (" + res.Source + ")"}
	}
}

func checkServer() checkResult {
	c, err := remote()
	if err != nil {
		return checkResult{label: "policy server", detail: err.Error()}
	}
	defer c.Close()

	st, err := c.Status(context.Background())
	if err != nil {
		return checkResult{label: "policy server", detail: "unreachable", fix: "toolgate serve"}
	}
	return checkResult{label: "policy server", ok: true, detail: "policy " + st.PolicyHash}
}

func printChecks(w io.Writer, checks []checkResult) error {
	hasFailures := false
	for _, c := range checks {
		mark := "✓"
		if !c.ok {
			mark = "✗"
			hasFailures = true
		}
		line := fmt.Sprintf("%s %-20s %s", mark, c.label+":", c.detail)
		if !c.ok && c.fix != "" {
			line += fmt.Sprintf("  ->  %s", c.fix)
		}
		fmt.Fprintln(w, line)
	}

	fmt.Fprintln(w)
	if hasFailures {
		fmt.Fprintln(w, "Some checks failed. Run the suggested commands to fix.")
		return fmt.Errorf("doctor found issues")
	}
	fmt.Fprintln(w, "All checks passed.")
	return nil
}

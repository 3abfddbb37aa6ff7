package sim

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/toolgate/internal/audit"
	"github.com/ppiankov/toolgate/internal/model"
)

type recorded struct {
	tool    string
	tier    model.RiskTier
	verdict model.Verdict
	stage   model.Stage
}

// writeAuditLog records decisions into a fresh audit log.
func writeAuditLog(t *testing.T, decisions []recorded) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log, err := audit.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer log.Close()

	base := time.Date(2025, 1, 15, 14, 0, 0, 0, time.UTC)
	for i, d := range decisions {
		_, err := log.Record(audit.EntryFromDecision(model.Decision{
			ID:        fmt.Sprintf("d-%d", i),
			Tool:      d.tool,
			Tier:      d.tier,
			Verdict:   d.verdict,
			Stage:     d.stage,
			DecidedAt: base.Add(time.Duration(i) * time.Second),
		}))
		if err != nil {
			t.Fatal(err)
		}
	}
	return path
}

func writePolicy(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

var baseline = []recorded{
	{"read_file", model.O0, model.Allow, model.StageDefaultAllow},
	{"write_file", model.O1, model.Allow, model.StageDefaultAllowAudited},
	{"exec", model.O2, model.Deny, model.StagePolicyDefaultDeny},
	{"spawn", model.O2, model.Allow, model.StageApproved},
}

func TestIdenticalPolicyZeroChanges(t *testing.T) {
	logPath := writeAuditLog(t, baseline)
	policyPath := writePolicy(t, "strict: true\n")

	r, err := Simulate(logPath, policyPath)
	if err != nil {
		t.Fatal(err)
	}
	if r.TotalActions != 4 {
		t.Errorf("expected 4 decisions, got %d", r.TotalActions)
	}
	if r.ChangedActions != 0 {
		t.Errorf("expected no changes, got %+v", r.Changes)
	}
}

func TestEscalatedTierBlocks(t *testing.T) {
	logPath := writeAuditLog(t, baseline)
	policyPath := writePolicy(t, "tiers:\n  write_file: O2\n")

	r, err := Simulate(logPath, policyPath)
	if err != nil {
		t.Fatal(err)
	}
	if r.ChangedActions != 1 || r.NewlyBlocked != 1 {
		t.Fatalf("expected 1 newly blocked, got %+v", r)
	}
	c := r.Changes[0]
	if c.Tool != "write_file" || c.NewStage != model.StagePolicyDefaultDeny || c.NewTier != model.O2 {
		t.Errorf("unexpected change: %+v", c)
	}
	if r.TierChanged != 1 {
		t.Errorf("expected 1 tier change, got %d", r.TierChanged)
	}
}

func TestRelaxedTierAllows(t *testing.T) {
	logPath := writeAuditLog(t, baseline)
	policyPath := writePolicy(t, "tiers:\n  exec: O1\n")

	r, err := Simulate(logPath, policyPath)
	if err != nil {
		t.Fatal(err)
	}
	if r.NewlyAllowed != 1 || r.Changes[0].Tool != "exec" {
		t.Fatalf("expected exec newly allowed, got %+v", r)
	}
}

func TestRemovedToolDeniedInStrictMode(t *testing.T) {
	logPath := writeAuditLog(t, []recorded{
		{"deploy", model.O1, model.Allow, model.StageDefaultAllowAudited},
	})
	policyPath := writePolicy(t, "strict: true\n")

	r, err := Simulate(logPath, policyPath)
	if err != nil {
		t.Fatal(err)
	}
	if r.NewlyBlocked != 1 {
		t.Fatalf("expected unknown tool blocked, got %+v", r)
	}
	if r.Changes[0].NewStage != model.StageClassification {
		t.Errorf("expected classification stage, got %s", r.Changes[0].NewStage)
	}
}

func TestStateDependentDecisionsSkipped(t *testing.T) {
	logPath := writeAuditLog(t, []recorded{
		{"exec", model.O2, model.Deny, model.StageEmergency},
		{"write_file", model.O1, model.Deny, model.StageEmptinessWindow},
		{"read_file", model.O0, model.Allow, model.StageDefaultAllow},
	})
	policyPath := writePolicy(t, "tiers:\n  exec: O0\n  write_file: O0\n")

	r, err := Simulate(logPath, policyPath)
	if err != nil {
		t.Fatal(err)
	}
	if r.Skipped != 2 {
		t.Errorf("expected 2 skipped, got %d", r.Skipped)
	}
	if r.ChangedActions != 0 {
		t.Errorf("skipped decisions must not produce changes: %+v", r.Changes)
	}
}

func TestGateFailureCarriesOver(t *testing.T) {
	logPath := writeAuditLog(t, []recorded{
		{"exec", model.O2, model.Deny, model.StageMonitorabilityGate},
	})

	// The default threshold is O2, so exec at O1 is ungated.
	r, err := Simulate(logPath, writePolicy(t, "tiers:\n  exec: O1\n"))
	if err != nil {
		t.Fatal(err)
	}
	if r.NewlyAllowed != 1 {
		t.Fatalf("expected exec allowed once ungated, got %+v", r)
	}

	r, err = Simulate(logPath, writePolicy(t, "monitorability:\n  threshold_tier: O1\ntiers:\n  exec: O1\n"))
	if err != nil {
		t.Fatal(err)
	}
	if r.ChangedActions != 0 {
		t.Fatalf("expected gate failure to carry over, got %+v", r.Changes)
	}
}

func TestFormatText(t *testing.T) {
	logPath := writeAuditLog(t, baseline)
	r, err := Simulate(logPath, writePolicy(t, "tiers:\n  write_file: O2\n"))
	if err != nil {
		t.Fatal(err)
	}
	out := FormatText(r)
	for _, want := range []string{"CHANGED", "write_file", "1 of 4 decisions changed", "1 newly blocked"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestMissingLog(t *testing.T) {
	if _, err := Simulate(filepath.Join(t.TempDir(), "missing.jsonl"), ""); err == nil {
		t.Fatal("expected error for missing log")
	}
}

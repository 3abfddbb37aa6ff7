package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ppiankov/toolgate/internal/audit"
	"github.com/ppiankov/toolgate/internal/model"
)

func writeLog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log, err := audit.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer log.Close()

	decisions := []model.Decision{
		{ID: "d-1", Tool: "read_file", Tier: model.O0, Verdict: model.Allow, Stage: model.StageDefaultAllow},
		{ID: "d-2", Tool: "exec", Tier: model.O2, Verdict: model.Deny, Stage: model.StagePolicyDefaultDeny},
		{ID: "d-3", Tool: "write_file", Tier: model.O1, Verdict: model.Allow, Stage: model.StageDefaultAllowAudited},
	}
	for _, d := range decisions {
		if _, err := log.Record(audit.EntryFromDecision(d)); err != nil {
			t.Fatal(err)
		}
	}
	if err := log.RecordOutcome("d-1", true, ""); err != nil {
		t.Fatal(err)
	}
	if err := log.RecordOutcome("d-3", false, "disk full"); err != nil {
		t.Fatal(err)
	}
	return path
}

func captured(t *testing.T, run func(*bytes.Buffer) error) string {
	t.Helper()
	var out bytes.Buffer
	if err := run(&out); err != nil {
		t.Fatal(err)
	}
	return out.String()
}

func TestAuditSummary(t *testing.T) {
	path := writeLog(t)
	summaryJSON = true
	t.Cleanup(func() { summaryJSON = false })

	out := captured(t, func(b *bytes.Buffer) error {
		auditSummaryCmd.SetOut(b)
		defer auditSummaryCmd.SetOut(nil)
		return runAuditSummary(auditSummaryCmd, []string{path})
	})

	var s audit.Summary
	if err := json.Unmarshal([]byte(out), &s); err != nil {
		t.Fatalf("summary is not JSON: %v\n%s", err, out)
	}
	if s.Total != 3 || s.Allowed != 2 || s.Denied != 1 || s.Executed != 1 || s.Errors != 1 {
		t.Errorf("unexpected summary: %+v", s)
	}
	if s.Unresolved != 0 {
		t.Errorf("expected no unresolved decisions, got %d", s.Unresolved)
	}
}

func TestAuditSummaryText(t *testing.T) {
	path := writeLog(t)
	out := captured(t, func(b *bytes.Buffer) error {
		auditSummaryCmd.SetOut(b)
		defer auditSummaryCmd.SetOut(nil)
		return runAuditSummary(auditSummaryCmd, []string{path})
	})
	for _, want := range []string{"Decisions:  3", "By tier:", "policy_default_deny"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestAuditTailFiltersVerdict(t *testing.T) {
	path := writeLog(t)
	tailLines, tailTool, tailVerdict = 10, "", "deny"
	t.Cleanup(func() { tailLines, tailTool, tailVerdict = 10, "", "" })

	out := captured(t, func(b *bytes.Buffer) error {
		auditTailCmd.SetOut(b)
		defer auditTailCmd.SetOut(nil)
		return runAuditTail(auditTailCmd, []string{path})
	})
	if !strings.Contains(out, `"decision_id": "d-2"`) {
		t.Errorf("expected d-2 in output:\n%s", out)
	}
	if strings.Contains(out, `"d-1"`) || strings.Contains(out, `"d-3"`) {
		t.Errorf("allowed decisions leaked into DENY tail:\n%s", out)
	}
}

func TestAuditTailRejectsBadVerdict(t *testing.T) {
	path := writeLog(t)
	tailVerdict = "maybe"
	t.Cleanup(func() { tailVerdict = "" })
	if err := runAuditTail(auditTailCmd, []string{path}); err == nil {
		t.Fatal("expected error for invalid --verdict")
	}
}

func TestAuditReplayJSON(t *testing.T) {
	path := writeLog(t)
	replayTool, replayFormat = "write_file", "json"
	t.Cleanup(func() { replayTool, replayFormat = "", "text" })

	out := captured(t, func(b *bytes.Buffer) error {
		auditReplayCmd.SetOut(b)
		defer auditReplayCmd.SetOut(nil)
		return runAuditReplay(auditReplayCmd, []string{path})
	})

	var result audit.ReplayResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("replay is not JSON: %v\n%s", err, out)
	}
	if result.Summary.Total != 2 || result.Summary.FailedCount != 1 {
		t.Errorf("expected decision + failed outcome for write_file, got %+v", result.Summary)
	}
}

func TestAuditPathDefaultsToConfig(t *testing.T) {
	prev := appConfig.AuditLog
	appConfig.AuditLog = "/var/lib/toolgate/audit.jsonl"
	t.Cleanup(func() { appConfig.AuditLog = prev })

	if got := auditPath(nil); got != "/var/lib/toolgate/audit.jsonl" {
		t.Errorf("auditPath(nil) = %q", got)
	}
	if got := auditPath([]string{"x.jsonl"}); got != "x.jsonl" {
		t.Errorf("auditPath(x) = %q", got)
	}
}

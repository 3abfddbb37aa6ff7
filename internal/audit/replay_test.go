package audit

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/toolgate/internal/model"
)

var replayBase = time.Date(2025, 1, 15, 14, 0, 0, 0, time.UTC)

// steppingClock advances two seconds on every call.
func steppingClock() func() time.Time {
	n := 0
	return func() time.Time {
		t := replayBase.Add(time.Duration(n) * 2 * time.Second)
		n++
		return t
	}
}

// writeTestLog creates a temp audit log with known records:
//
//	14:00:00 decision read_file  ALLOW
//	14:00:02 outcome  read_file  executed
//	14:00:04 decision write_file ALLOW
//	14:00:06 outcome  write_file failed
//	14:00:08 decision exec       DENY
//	14:00:10 decision exec       ALLOW (approved)
//	14:00:12 outcome  exec       executed
func writeTestLog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test-audit.jsonl")
	log, err := Open(path, WithClock(steppingClock()))
	if err != nil {
		t.Fatal(err)
	}
	defer log.Close()

	read, err := log.Record(Entry{DecisionID: "d-read", Tool: "read_file", Tier: model.O0, Verdict: model.Allow, Stage: model.StageDefaultAllow})
	if err != nil {
		t.Fatal(err)
	}
	if err := log.RecordOutcome(read.DecisionID, true, ""); err != nil {
		t.Fatal(err)
	}

	write, err := log.Record(Entry{DecisionID: "d-write", Tool: "write_file", Tier: model.O1, Verdict: model.Allow, Stage: model.StageDefaultAllowAudited})
	if err != nil {
		t.Fatal(err)
	}
	if err := log.RecordOutcome(write.DecisionID, false, "disk full"); err != nil {
		t.Fatal(err)
	}

	if _, err := log.Record(Entry{DecisionID: "d-exec-1", Tool: "exec", Tier: model.O2, Verdict: model.Deny, Stage: model.StagePolicyDefaultDeny}); err != nil {
		t.Fatal(err)
	}
	exec, err := log.Record(Entry{DecisionID: "d-exec-2", Tool: "exec", Tier: model.O2, Verdict: model.Allow, Stage: model.StageApproved})
	if err != nil {
		t.Fatal(err)
	}
	if err := log.RecordOutcome(exec.DecisionID, true, ""); err != nil {
		t.Fatal(err)
	}

	return path
}

func TestReplayAll(t *testing.T) {
	path := writeTestLog(t)

	result, err := Replay(path, ReplayFilter{})
	if err != nil {
		t.Fatal(err)
	}

	s := result.Summary
	if s.Total != 7 {
		t.Fatalf("expected 7 records, got %d", s.Total)
	}
	if s.AllowCount != 3 || s.DenyCount != 1 {
		t.Errorf("expected 3 allow / 1 deny, got %d / %d", s.AllowCount, s.DenyCount)
	}
	if s.ExecutedCount != 2 || s.FailedCount != 1 {
		t.Errorf("expected 2 executed / 1 failed, got %d / %d", s.ExecutedCount, s.FailedCount)
	}
	if s.MaxTier != model.O2 {
		t.Errorf("expected max tier O2, got %s", s.MaxTier)
	}
	if s.FirstTimestamp != "2025-01-15T14:00:00.000Z" || s.LastTimestamp != "2025-01-15T14:00:12.000Z" {
		t.Errorf("unexpected range %s..%s", s.FirstTimestamp, s.LastTimestamp)
	}
}

func TestReplayFiltersByTool(t *testing.T) {
	path := writeTestLog(t)

	result, err := Replay(path, ReplayFilter{Tool: "exec"})
	if err != nil {
		t.Fatal(err)
	}

	if len(result.Records) != 3 {
		t.Errorf("expected 3 records for exec, got %d", len(result.Records))
	}
	for _, r := range result.Records {
		if r.Tool != "exec" {
			t.Errorf("unexpected tool: %s", r.Tool)
		}
	}
}

func TestReplayFiltersByDecision(t *testing.T) {
	path := writeTestLog(t)

	result, err := Replay(path, ReplayFilter{DecisionID: "d-write"})
	if err != nil {
		t.Fatal(err)
	}

	if len(result.Records) != 2 {
		t.Fatalf("expected decision and outcome, got %d records", len(result.Records))
	}
	if result.Records[1].Kind != KindOutcome || result.Records[1].Executed {
		t.Errorf("expected failed outcome, got %+v", result.Records[1])
	}
}

func TestReplayTimeRangeFrom(t *testing.T) {
	path := writeTestLog(t)

	from := replayBase.Add(5 * time.Second)
	result, err := Replay(path, ReplayFilter{From: from})
	if err != nil {
		t.Fatal(err)
	}

	// 14:00:06, :08, :10, :12
	if len(result.Records) != 4 {
		t.Errorf("expected 4 records after from filter, got %d", len(result.Records))
	}
}

func TestReplayTimeRangeTo(t *testing.T) {
	path := writeTestLog(t)

	to := replayBase.Add(3 * time.Second)
	result, err := Replay(path, ReplayFilter{To: to})
	if err != nil {
		t.Fatal(err)
	}

	if len(result.Records) != 2 {
		t.Errorf("expected 2 records before to filter, got %d", len(result.Records))
	}
}

func TestReplayTimeRangeBoth(t *testing.T) {
	path := writeTestLog(t)

	from := replayBase.Add(1 * time.Second)
	to := replayBase.Add(7 * time.Second)
	result, err := Replay(path, ReplayFilter{From: from, To: to})
	if err != nil {
		t.Fatal(err)
	}

	// 14:00:02, :04, :06
	if len(result.Records) != 3 {
		t.Errorf("expected 3 records in time window, got %d", len(result.Records))
	}
}

func TestReplayEmptyResult(t *testing.T) {
	path := writeTestLog(t)

	result, err := Replay(path, ReplayFilter{Tool: "nonexistent"})
	if err != nil {
		t.Fatal(err)
	}

	if len(result.Records) != 0 {
		t.Errorf("expected 0 records for unknown tool, got %d", len(result.Records))
	}
	if result.Summary.Total != 0 {
		t.Errorf("expected 0 total, got %d", result.Summary.Total)
	}
}

func TestReplayMissingFile(t *testing.T) {
	if _, err := Replay(filepath.Join(t.TempDir(), "missing.jsonl"), ReplayFilter{}); err == nil {
		t.Fatal("expected error for missing file")
	}
}

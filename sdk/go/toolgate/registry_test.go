package toolgate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/toolgate/internal/model"
)

// newTestGatekeeper opens an embedded gatekeeper with the built-in policy.
func newTestGatekeeper(t *testing.T) *Gatekeeper {
	t.Helper()
	dir := t.TempDir()
	gk, err := Embedded(EmbeddedOptions{
		PolicyPath: filepath.Join(dir, "policy.yaml"),
		AuditPath:  filepath.Join(dir, "audit.jsonl"),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("Embedded: %v", err)
	}
	t.Cleanup(func() { gk.Close() })
	return gk
}

func requireDenied(t *testing.T, err error) *DeniedError {
	t.Helper()
	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected *DeniedError, got %T: %v", err, err)
	}
	return denied
}

func ok(ctx context.Context, args json.RawMessage) (any, error) { return "ok", nil }

func TestCallRunsAllowedTool(t *testing.T) {
	gk := newTestGatekeeper(t)
	reg := New(gk)
	if err := reg.Register("read_file", ok); err != nil {
		t.Fatal(err)
	}

	out, err := reg.Call(context.Background(), "read_file", json.RawMessage(`{"path":"a"}`))
	if err != nil {
		t.Fatalf("expected allow, got %v", err)
	}
	if out != "ok" {
		t.Errorf("expected ok, got %v", out)
	}

	s := gk.AuditLog().Summary()
	if s.Total != 1 || s.Executed != 1 || s.Unresolved != 0 {
		t.Errorf("expected one executed decision, got %+v", s)
	}
}

func TestCallDeniedToolNeverRuns(t *testing.T) {
	gk := newTestGatekeeper(t)
	reg := New(gk)
	called := false
	reg.Register("exec", func(ctx context.Context, args json.RawMessage) (any, error) {
		called = true
		return nil, nil
	})

	_, err := reg.Call(context.Background(), "exec", nil)
	denied := requireDenied(t, err)
	if denied.Decision.Stage != model.StagePolicyDefaultDeny {
		t.Errorf("expected policy_default_deny, got %s", denied.Decision.Stage)
	}
	if !errors.Is(err, ErrPolicyDenied) {
		t.Error("expected errors.Is(err, ErrPolicyDenied)")
	}
	if called {
		t.Error("tool ran on DENY")
	}

	entries, _ := gk.AuditLog().Entries(auditAll())
	if len(entries) != 1 || entries[0].Executed {
		t.Errorf("expected one unexecuted entry, got %+v", entries)
	}
}

func TestCallApprovedThenRevoked(t *testing.T) {
	gk := newTestGatekeeper(t)
	reg := New(gk, WithQualitySignal(func(ctx context.Context, tool string) *float64 {
		q := 1.0
		return &q
	}))
	reg.Register("exec", ok)

	if _, err := gk.GrantApproval("exec", 300*time.Second); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Call(context.Background(), "exec", nil); err != nil {
		t.Fatalf("expected approved call to run: %v", err)
	}

	if _, err := gk.RevokeApproval("exec"); err != nil {
		t.Fatal(err)
	}
	_, err := reg.Call(context.Background(), "exec", nil)
	requireDenied(t, err)
}

func TestCallSafetyAndEmergencySentinels(t *testing.T) {
	gk := newTestGatekeeper(t)
	reg := New(gk)
	reg.Register("write_file", ok)
	reg.Register("read_file", ok)

	gk.EnterSafetyMode("investigating")
	_, err := reg.Call(context.Background(), "write_file", nil)
	if !errors.Is(err, ErrEmptinessActive) {
		t.Errorf("expected ErrEmptinessActive, got %v", err)
	}
	if _, err := reg.Call(context.Background(), "read_file", nil); err != nil {
		t.Errorf("O0 must run in safety mode: %v", err)
	}
	gk.ExitSafetyMode()

	gk.EmergencyStop("test")
	_, err = reg.Call(context.Background(), "write_file", nil)
	if !errors.Is(err, ErrEmergencyActive) {
		t.Errorf("expected ErrEmergencyActive, got %v", err)
	}
	gk.ClearEmergency()

	if _, err := reg.Call(context.Background(), "write_file", nil); err != nil {
		t.Errorf("expected write_file allowed after clear: %v", err)
	}
}

func TestCallFailedToolNotExecuted(t *testing.T) {
	gk := newTestGatekeeper(t)
	reg := New(gk)
	reg.Register("write_file", func(ctx context.Context, args json.RawMessage) (any, error) {
		return nil, fmt.Errorf("disk full")
	})

	_, err := reg.Call(context.Background(), "write_file", nil)
	if err == nil || err.Error() != "disk full" {
		t.Fatalf("expected tool error passed through, got %v", err)
	}

	entries, _ := gk.AuditLog().Entries(auditAll())
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Executed || e.Error != "disk full" || !e.Resolved {
		t.Errorf("expected resolved failure, got %+v", e)
	}
}

func TestCallUnknownName(t *testing.T) {
	gk := newTestGatekeeper(t)
	reg := New(gk)
	_, err := reg.Call(context.Background(), "nope", nil)
	if !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
	if gk.AuditLog().Summary().Total != 0 {
		t.Error("unregistered call must not reach the engine")
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	reg := New(&fakeEvaluator{})
	if err := reg.Register("read_file", ok); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register("read_file", ok); err == nil {
		t.Error("expected duplicate error")
	}
	if err := reg.Register("", ok); err == nil {
		t.Error("expected empty name error")
	}
	if err := reg.Register("x", nil); err == nil {
		t.Error("expected nil function error")
	}
	if got := reg.Names(); len(got) != 1 || got[0] != "read_file" {
		t.Errorf("unexpected names: %v", got)
	}
}

func TestCallConcurrentSafe(t *testing.T) {
	gk := newTestGatekeeper(t)
	reg := New(gk)
	reg.Register("read_file", ok)
	reg.Register("exec", ok)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			tool := "read_file"
			if n%2 == 1 {
				tool = "exec"
			}
			reg.Call(context.Background(), tool, nil)
		}(i)
	}
	wg.Wait()

	s := gk.AuditLog().Summary()
	if s.Total != 100 || s.Allowed != 50 || s.Executed != 50 || s.Denied != 50 {
		t.Errorf("unexpected summary: %+v", s)
	}
}

// fakeEvaluator allows everything and records outcome reports.
type fakeEvaluator struct {
	mu       sync.Mutex
	verdict  model.Verdict
	evalErr  error
	reports  []string
	failNext bool
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, req Request) (Decision, error) {
	v := f.verdict
	if v == "" {
		v = model.Allow
	}
	d := Decision{ID: "d-" + req.Tool, Tool: req.Tool, Verdict: v, Stage: model.StageDefaultAllow}
	if f.evalErr != nil {
		d.Verdict = model.Deny
		d.Stage = model.StageAuditFailure
		return d, f.evalErr
	}
	return d, nil
}

func (f *fakeEvaluator) ReportOutcome(id string, executed bool, errText string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, fmt.Sprintf("%s:%t:%s", id, executed, errText))
	if f.failNext {
		f.failNext = false
		return ErrAuditWrite
	}
	return nil
}

func TestPanicReportedOnceAndRepanics(t *testing.T) {
	ev := &fakeEvaluator{}
	reg := New(ev)
	reg.Register("exec", func(ctx context.Context, args json.RawMessage) (any, error) {
		panic("boom")
	})

	func() {
		defer func() {
			if p := recover(); p != "boom" {
				t.Errorf("expected re-panic with boom, got %v", p)
			}
		}()
		reg.Call(context.Background(), "exec", nil)
	}()

	if len(ev.reports) != 1 || ev.reports[0] != "d-exec:false:panic: boom" {
		t.Errorf("expected one failed report, got %v", ev.reports)
	}
}

func TestOutcomeReportFailureDoesNotHideResult(t *testing.T) {
	ev := &fakeEvaluator{failNext: true}
	reg := New(ev, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	reg.Register("read_file", ok)

	out, err := reg.Call(context.Background(), "read_file", nil)
	if err != nil || out != "ok" {
		t.Fatalf("expected result despite report failure, got %v, %v", out, err)
	}
	if len(ev.reports) != 1 {
		t.Errorf("expected exactly one report, got %v", ev.reports)
	}
}

func TestEvaluateErrorBlocks(t *testing.T) {
	ev := &fakeEvaluator{evalErr: fmt.Errorf("%w: disk gone", ErrAuditWrite)}
	reg := New(ev)
	called := false
	reg.Register("read_file", func(ctx context.Context, args json.RawMessage) (any, error) {
		called = true
		return nil, nil
	})

	_, err := reg.Call(context.Background(), "read_file", nil)
	if !errors.Is(err, ErrAuditWrite) {
		t.Fatalf("expected ErrAuditWrite, got %v", err)
	}
	if called {
		t.Error("tool ran after audit failure")
	}
	if len(ev.reports) != 0 {
		t.Errorf("no outcome expected after a failed evaluation, got %v", ev.reports)
	}
}

func TestQualitySignalPassedThrough(t *testing.T) {
	var seen *float64
	ev := &captureEvaluator{fakeEvaluator: &fakeEvaluator{}, seen: &seen}
	q := 0.42
	reg := New(ev, WithQualitySignal(func(ctx context.Context, tool string) *float64 { return &q }))
	reg.Register("exec", ok)
	reg.Call(context.Background(), "exec", nil)
	if seen == nil || *seen != 0.42 {
		t.Errorf("expected quality 0.42, got %v", seen)
	}
}

type captureEvaluator struct {
	*fakeEvaluator
	seen **float64
}

func (c *captureEvaluator) Evaluate(ctx context.Context, req Request) (Decision, error) {
	*c.seen = req.Quality
	return c.fakeEvaluator.Evaluate(ctx, req)
}

// Package policy turns a tool invocation request into a single ALLOW or
// DENY decision and records it before returning.
package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/toolgate/internal/approval"
	"github.com/ppiankov/toolgate/internal/audit"
	"github.com/ppiankov/toolgate/internal/classify"
	"github.com/ppiankov/toolgate/internal/gate"
	"github.com/ppiankov/toolgate/internal/model"
	"github.com/ppiankov/toolgate/internal/safety"
)

// Recorder is the audit sink. *audit.Log implements it.
type Recorder interface {
	Record(e audit.Entry) (audit.Entry, error)
	RecordOutcome(decisionID string, executed bool, errText string) error
}

// Request is one invocation attempt. Args is carried opaquely and never
// inspected. A zero Now uses the engine clock. Quality, when set, is the
// caller-supplied monitorability signal.
type Request struct {
	Tool    string
	Args    json.RawMessage
	Now     time.Time
	Quality *float64
}

// Deps wires the engine to its collaborators. Classifier, Approvals,
// Safety, Gate and Recorder are required.
type Deps struct {
	Classifier *classify.Classifier
	Approvals  *approval.Manager
	Safety     *safety.State
	Gate       *gate.Gate
	Recorder   Recorder

	// Source supplies a quality signal when the request has none.
	Source gate.Source
	// SignalTimeout bounds the wait on Source. Zero means no extra bound.
	SignalTimeout time.Duration
	// OnDecision observes every returned decision, after it is recorded.
	OnDecision func(model.Decision)

	Logger *slog.Logger
	Now    func() time.Time
}

// rules is the hot-swappable part of the engine.
type rules struct {
	classifier *classify.Classifier
	gate       *gate.Gate
	timeout    time.Duration
}

// Engine evaluates requests in a fixed order and is the only producer of
// verdicts. It holds no per-call state.
type Engine struct {
	rules      atomic.Pointer[rules]
	approvals  *approval.Manager
	safety     *safety.State
	recorder   Recorder
	source     gate.Source
	onDecision func(model.Decision)
	logger     *slog.Logger
	now        func() time.Time
}

// NewEngine validates deps and returns an Engine.
func NewEngine(d Deps) (*Engine, error) {
	switch {
	case d.Classifier == nil:
		return nil, errors.New("policy: classifier is required")
	case d.Approvals == nil:
		return nil, errors.New("policy: approval manager is required")
	case d.Safety == nil:
		return nil, errors.New("policy: safety state is required")
	case d.Gate == nil:
		return nil, errors.New("policy: monitorability gate is required")
	case d.Recorder == nil:
		return nil, errors.New("policy: audit recorder is required")
	}

	e := &Engine{
		approvals:  d.Approvals,
		safety:     d.Safety,
		recorder:   d.Recorder,
		source:     d.Source,
		onDecision: d.OnDecision,
		logger:     d.Logger,
		now:        d.Now,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	e.rules.Store(&rules{classifier: d.Classifier, gate: d.Gate, timeout: d.SignalTimeout})
	return e, nil
}

// Reconfigure swaps the classifier, gate and signal timeout atomically.
// Evaluations already in flight finish with the rules they loaded.
func (e *Engine) Reconfigure(c *classify.Classifier, g *gate.Gate, signalTimeout time.Duration) {
	if c == nil || g == nil {
		return
	}
	e.rules.Store(&rules{classifier: c, gate: g, timeout: signalTimeout})
}

// Classifier returns the classifier currently in force.
func (e *Engine) Classifier() *classify.Classifier { return e.rules.Load().classifier }

// Gate returns the gate currently in force.
func (e *Engine) Gate() *gate.Gate { return e.rules.Load().gate }

// Evaluate decides whether req may run and records the decision before
// returning it. A non-nil error means the decision could not be recorded;
// the returned decision is then a DENY at stage audit_failure.
func (e *Engine) Evaluate(ctx context.Context, req Request) (model.Decision, error) {
	now := req.Now
	if now.IsZero() {
		now = e.now()
	}
	d := model.Decision{
		ID:        uuid.New().String(),
		Tool:      req.Tool,
		Tier:      model.TierUnknown,
		DecidedAt: now.UTC(),
	}
	e.decide(ctx, e.rules.Load(), req, now, &d)
	return e.commit(d)
}

// ReportOutcome records the real result of an allowed decision. Call it
// exactly once per ALLOW, after the tool returned or failed.
func (e *Engine) ReportOutcome(decisionID string, executed bool, errText string) error {
	if err := e.recorder.RecordOutcome(decisionID, executed, errText); err != nil {
		e.logger.Error("outcome not recorded", "decision_id", decisionID, "error", err)
		return fmt.Errorf("%w: %w", ErrAuditWrite, err)
	}
	return nil
}

func allow(d *model.Decision, stage model.Stage, reason string) {
	d.Verdict = model.Allow
	d.Stage = stage
	d.Reason = reason
}

func deny(d *model.Decision, stage model.Stage, reason string) {
	d.Verdict = model.Deny
	d.Stage = stage
	d.Reason = reason
}

// decide runs the pipeline. Order is fixed and the first DENY wins.
func (e *Engine) decide(ctx context.Context, r *rules, req Request, now time.Time, d *model.Decision) {
	// 1. Classification
	tier, err := r.classifier.Classify(req.Tool)
	if err != nil {
		deny(d, model.StageClassification, err.Error())
		return
	}
	d.Tier = tier
	if _, known := r.classifier.Lookup(req.Tool); !known {
		d.Warning = fmt.Sprintf("unknown tool %q classified as default tier %s", req.Tool, tier)
		e.logger.Warn("unknown tool degraded to default tier", "tool", req.Tool, "tier", tier.String())
	}

	// 2. Emergency stop
	if snap := e.safety.Snapshot(); snap.Emergency && tier > model.O0 {
		deny(d, model.StageEmergency, fmt.Sprintf("emergency stop active: %s", snap.EmergencyReason))
		return
	}

	// 3. Emptiness window
	if snap := e.safety.Snapshot(); snap.SafetyMode && tier > model.O0 {
		deny(d, model.StageEmptinessWindow, fmt.Sprintf("emptiness window active: %s", snap.SafetyReason))
		e.safety.RecordBlocked(safety.BlockedCall{DecisionID: d.ID, Tool: req.Tool, Tier: tier, At: d.DecidedAt})
		return
	}

	switch tier {
	case model.O0:
		allow(d, model.StageDefaultAllow, "O0 tools carry no commit power")

	case model.O1:
		if r.gate.Applies(tier) {
			if reason, ok := e.checkGate(ctx, r, req, tier); !ok {
				deny(d, model.StageMonitorabilityGate, reason)
				return
			}
		}
		allow(d, model.StageDefaultAllowAudited, "O1 allowed by default; decision audited")

	default:
		if !e.approvals.IsApproved(req.Tool, now) {
			deny(d, model.StagePolicyDefaultDeny, fmt.Sprintf("%s tool %q requires an unexpired approval grant", tier, req.Tool))
			return
		}
		if reason, ok := e.checkGate(ctx, r, req, tier); !ok {
			deny(d, model.StageMonitorabilityGate, reason)
			return
		}
		allow(d, model.StageApproved, "approval grant valid and monitorability gate passed")
	}
}

// checkGate obtains the quality signal and thresholds it.
func (e *Engine) checkGate(ctx context.Context, r *rules, req Request, tier model.RiskTier) (string, bool) {
	signal, why := e.signal(ctx, r, req, tier)
	if signal == nil {
		return why, false
	}
	if !r.gate.Check(tier, signal) {
		return r.gate.Explain(tier, signal), false
	}
	return "", true
}

type qualityResult struct {
	q   float64
	err error
}

// signal returns the request's quality value, or waits on the source. A
// cancelled or timed-out wait yields nil.
func (e *Engine) signal(ctx context.Context, r *rules, req Request, tier model.RiskTier) (*float64, string) {
	if req.Quality != nil {
		return req.Quality, ""
	}
	if e.source == nil {
		return nil, "no quality signal supplied"
	}

	sctx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	ch := make(chan qualityResult, 1)
	go func() {
		q, err := e.source.Quality(sctx, req.Tool, tier)
		ch <- qualityResult{q: q, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Sprintf("quality signal unavailable: %v", res.err)
		}
		return &res.q, ""
	case <-sctx.Done():
		return nil, fmt.Sprintf("quality signal wait aborted: %v", sctx.Err())
	}
}

// commit writes the decision to the audit log. If that fails the
// decision is replaced by an audit_failure DENY.
func (e *Engine) commit(d model.Decision) (model.Decision, error) {
	if _, err := e.recorder.Record(audit.EntryFromDecision(d)); err != nil {
		failed := d
		failed.Verdict = model.Deny
		failed.Stage = model.StageAuditFailure
		failed.Reason = fmt.Sprintf("decision could not be recorded: %v", err)
		e.logger.Error("audit write failed, denying",
			"decision_id", d.ID, "tool", d.Tool, "original_verdict", string(d.Verdict), "error", err)
		e.observe(failed)
		return failed, fmt.Errorf("%w: %w", ErrAuditWrite, err)
	}

	e.logger.Debug("decision",
		"decision_id", d.ID, "tool", d.Tool, "tier", d.Tier.String(),
		"verdict", string(d.Verdict), "stage", string(d.Stage))
	e.observe(d)
	return d, nil
}

func (e *Engine) observe(d model.Decision) {
	if e.onDecision != nil {
		e.onDecision(d)
	}
}

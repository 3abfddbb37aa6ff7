// Package gatekeeper is the runtime that owns one policy engine together
// with its approval grants, safety flags, audit log, state store and alert
// dispatcher. Transports (gRPC, MCP, SDK) and the CLI go through it.
package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ppiankov/toolgate/internal/alert"
	"github.com/ppiankov/toolgate/internal/approval"
	"github.com/ppiankov/toolgate/internal/audit"
	"github.com/ppiankov/toolgate/internal/classify"
	"github.com/ppiankov/toolgate/internal/gate"
	"github.com/ppiankov/toolgate/internal/model"
	"github.com/ppiankov/toolgate/internal/policy"
	"github.com/ppiankov/toolgate/internal/safety"
	"github.com/ppiankov/toolgate/internal/statestore"
)

// ErrPersist wraps state store failures. The in-memory change has
// already been applied when it is returned.
var ErrPersist = errors.New("operator state not persisted")

// Options configures New. PolicyPath and AuditPath are required; an empty
// StateDB keeps operator state in memory only.
type Options struct {
	PolicyPath string
	AuditPath  string
	StateDB    string
	Source     gate.Source
	Logger     *slog.Logger
	Now        func() time.Time
}

// Gatekeeper is safe for concurrent use.
type Gatekeeper struct {
	policyPath string
	logger     *slog.Logger
	now        func() time.Time

	engine    *policy.Engine
	approvals *approval.Manager
	safety    *safety.State
	log       *audit.Log
	store     *statestore.Store

	alerts atomic.Pointer[alert.Dispatcher]

	// toolLocks serialize the in-memory change and the store write for
	// one tool, so the store never ends in a state memory already left.
	toolLocks sync.Map // tool -> *sync.Mutex

	mu        sync.Mutex
	cfg       *policy.PolicyConfig
	hash      string
	overrides map[string]model.RiskTier
}

// New loads the policy, opens the audit log and state store, restores
// persisted operator state and builds the engine.
func New(opts Options) (*Gatekeeper, error) {
	if opts.AuditPath == "" {
		return nil, errors.New("gatekeeper: audit path is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	cfg, hash, err := policy.LoadConfigWithHash(opts.PolicyPath)
	if err != nil {
		return nil, err
	}

	log, err := audit.Open(opts.AuditPath, audit.WithClock(opts.Now))
	if err != nil {
		return nil, err
	}
	log.SetPolicyHash(hash)
	if n := log.TornBytes(); n > 0 {
		opts.Logger.Warn("dropped unterminated audit tail", "path", opts.AuditPath, "bytes", n)
	}

	g := &Gatekeeper{
		policyPath: opts.PolicyPath,
		logger:     opts.Logger,
		now:        opts.Now,
		approvals:  approval.NewManager(approval.WithClock(opts.Now)),
		safety:     safety.New(safety.WithClock(opts.Now)),
		log:        log,
		cfg:        cfg,
		hash:       hash,
		overrides:  make(map[string]model.RiskTier),
	}

	if opts.StateDB != "" {
		g.store, err = statestore.Open(opts.StateDB)
		if err != nil {
			log.Close()
			return nil, err
		}
		if err := g.restore(); err != nil {
			g.Close()
			return nil, err
		}
	}

	g.engine, err = policy.NewEngine(policy.Deps{
		Classifier:    g.buildClassifier(cfg),
		Approvals:     g.approvals,
		Safety:        g.safety,
		Gate:          cfg.Gate(),
		Recorder:      log,
		Source:        opts.Source,
		SignalTimeout: cfg.Monitorability.SignalTimeout,
		OnDecision:    g.onDecision,
		Logger:        opts.Logger,
		Now:           opts.Now,
	})
	if err != nil {
		g.Close()
		return nil, err
	}
	g.alerts.Store(alert.NewDispatcher(cfg.Alerts, opts.Logger))

	g.logger.Info("gatekeeper ready",
		"policy_hash", hash, "audit_log", opts.AuditPath, "strict", cfg.Strict,
		"emergency", g.safety.Snapshot().Emergency, "safety_mode", g.safety.Snapshot().SafetyMode)
	return g, nil
}

// restore loads grants, safety flags and tier overrides from the store.
func (g *Gatekeeper) restore() error {
	grants, err := g.store.Grants(g.now())
	if err != nil {
		return err
	}
	for _, gr := range grants {
		if err := g.approvals.Restore(gr); err != nil {
			g.logger.Warn("skipping stored grant", "tool", gr.Tool, "error", err)
		}
	}

	snap, ok, err := g.store.LoadSafety()
	if err != nil {
		return err
	}
	if ok {
		g.safety.Restore(snap)
	}

	tiers, err := g.store.Tiers()
	if err != nil {
		return err
	}
	for tool, tier := range tiers {
		g.overrides[tool] = tier
	}

	g.logger.Info("operator state restored",
		"grants", len(grants), "tier_overrides", len(tiers), "emergency", snap.Emergency, "safety_mode", snap.SafetyMode)
	return nil
}

// buildClassifier applies operator tier overrides on top of the policy
// table. Callers hold g.mu or run before the gatekeeper is shared.
func (g *Gatekeeper) buildClassifier(cfg *policy.PolicyConfig) *classify.Classifier {
	c := cfg.Classifier()
	for tool, tier := range g.overrides {
		c.SetTier(tool, tier)
	}
	return c
}

// Engine returns the policy engine.
func (g *Gatekeeper) Engine() *policy.Engine { return g.engine }

// AuditLog returns the audit log.
func (g *Gatekeeper) AuditLog() *audit.Log { return g.log }

// PolicyPath returns the policy file being enforced.
func (g *Gatekeeper) PolicyPath() string { return g.policyPath }

// PolicyHash returns the hash of the policy in force.
func (g *Gatekeeper) PolicyHash() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.hash
}

// Evaluate runs the policy engine.
func (g *Gatekeeper) Evaluate(ctx context.Context, req policy.Request) (model.Decision, error) {
	return g.engine.Evaluate(ctx, req)
}

// ReportOutcome records the result of an allowed decision.
func (g *Gatekeeper) ReportOutcome(decisionID string, executed bool, errText string) error {
	return g.engine.ReportOutcome(decisionID, executed, errText)
}

func (g *Gatekeeper) onDecision(d model.Decision) {
	if d.Allowed() {
		return
	}
	typ := alert.EventDeny
	if d.Stage == model.StageAuditFailure {
		typ = alert.EventAuditFailure
	}
	g.dispatch(alert.AlertEvent{
		Type:       typ,
		DecisionID: d.ID,
		Tool:       d.Tool,
		Tier:       d.Tier,
		Verdict:    d.Verdict,
		Stage:      d.Stage,
		Reason:     d.Reason,
	})
}

func (g *Gatekeeper) dispatch(ev alert.AlertEvent) {
	ev.Timestamp = g.now().UTC().Format(time.RFC3339)
	if ev.PolicyHash == "" {
		ev.PolicyHash = g.PolicyHash()
	}
	g.alerts.Load().Dispatch(ev)
}

func persistErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPersist, err)
}

func (g *Gatekeeper) lockTool(tool string) func() {
	v, _ := g.toolLocks.LoadOrStore(tool, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// GrantApproval grants tool for d. A zero d uses the policy's default
// grant duration; a negative d is rejected.
func (g *Gatekeeper) GrantApproval(tool string, d time.Duration) (approval.Grant, error) {
	if d == 0 {
		g.mu.Lock()
		d = g.cfg.DefaultGrantDuration
		g.mu.Unlock()
	}
	defer g.lockTool(tool)()

	gr, err := g.approvals.Grant(tool, d)
	if err != nil {
		return approval.Grant{}, err
	}
	g.logger.Info("approval granted", "tool", tool, "expires_at", gr.ExpiresAt.UTC().Format(time.RFC3339))

	if g.store != nil {
		return gr, persistErr(g.store.SaveGrant(gr))
	}
	return gr, nil
}

// RevokeApproval removes any grant for tool and reports whether one existed.
func (g *Gatekeeper) RevokeApproval(tool string) (bool, error) {
	defer g.lockTool(tool)()

	had := g.approvals.Revoke(tool)
	g.logger.Info("approval revoked", "tool", tool, "existed", had)

	if g.store != nil {
		return had, persistErr(g.store.DeleteGrant(tool))
	}
	return had, nil
}

// Grants returns grants active now.
func (g *Gatekeeper) Grants() []approval.Grant {
	return g.approvals.Active(g.now())
}

func (g *Gatekeeper) saveSafety() error {
	if g.store == nil {
		return nil
	}
	return persistErr(g.store.SaveSafety(g.safety.Snapshot()))
}

// EnterSafetyMode opens the emptiness window. It reports false when the
// window was already open; the original reason is kept.
func (g *Gatekeeper) EnterSafetyMode(reason string) (bool, error) {
	entered := g.safety.EnterSafetyMode(reason)
	if !entered {
		return false, nil
	}
	g.logger.Warn("safety mode entered", "reason", reason)
	g.dispatch(alert.AlertEvent{Type: alert.EventSafetyEntered, Reason: reason})
	return true, g.saveSafety()
}

// ExitSafetyMode closes the emptiness window and returns the review
// packet for calls blocked while it was open, if any.
func (g *Gatekeeper) ExitSafetyMode() (*safety.ReviewPacket, error) {
	was := g.safety.Snapshot().SafetyMode
	packet := g.safety.ExitSafetyMode()
	if !was {
		return nil, nil
	}

	blocked := 0
	if packet != nil {
		blocked = len(packet.BlockedCalls)
	}
	g.logger.Info("safety mode exited", "blocked_calls", blocked)
	g.dispatch(alert.AlertEvent{
		Type:   alert.EventSafetyExited,
		Reason: fmt.Sprintf("%d call(s) blocked during emptiness window", blocked),
	})

	err := g.saveSafety()
	if packet != nil && g.store != nil {
		err = errors.Join(err, persistErr(g.store.SaveReviewPacket(*packet)))
	}
	return packet, err
}

// ReviewPackets returns stored packets, most recent first, falling back
// to this process's packets when there is no store.
func (g *Gatekeeper) ReviewPackets(limit int) ([]safety.ReviewPacket, error) {
	if g.store != nil {
		return g.store.ReviewPackets(limit)
	}
	packets := g.safety.ReviewPackets()
	out := make([]safety.ReviewPacket, 0, len(packets))
	for i := len(packets) - 1; i >= 0; i-- {
		out = append(out, packets[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// EmergencyStop blocks every tier above O0 until ClearEmergency.
func (g *Gatekeeper) EmergencyStop(reason string) error {
	g.safety.EmergencyStop(reason)
	g.logger.Error("emergency stop", "reason", reason)
	g.dispatch(alert.AlertEvent{Type: alert.EventEmergencyStop, Reason: reason})
	return g.saveSafety()
}

// ClearEmergency lifts the emergency stop. It reports whether one was
// active.
func (g *Gatekeeper) ClearEmergency() (bool, error) {
	if !g.safety.ClearEmergency() {
		return false, nil
	}
	g.logger.Warn("emergency cleared")
	g.dispatch(alert.AlertEvent{Type: alert.EventEmergencyCleared, Reason: "cleared by operator"})
	return true, g.saveSafety()
}

// SetTier overrides the tier of tool. The override survives policy
// reloads and, with a state store, restarts.
func (g *Gatekeeper) SetTier(tool string, tier model.RiskTier) error {
	defer g.lockTool(tool)()

	g.mu.Lock()
	err := g.engine.Classifier().SetTier(tool, tier)
	if err == nil {
		g.overrides[tool] = tier
	}
	g.mu.Unlock()
	if err != nil {
		return err
	}
	g.logger.Info("tier set", "tool", tool, "tier", tier.String())

	if g.store != nil {
		return persistErr(g.store.SetTier(tool, tier))
	}
	return nil
}

// Tiers returns the classification table in force.
func (g *Gatekeeper) Tiers() map[string]model.RiskTier {
	return g.engine.Classifier().Tiers()
}

// Overrides returns the operator tier overrides set with SetTier. Tiers
// that come from the policy file are not included.
func (g *Gatekeeper) Overrides() map[string]model.RiskTier {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]model.RiskTier, len(g.overrides))
	for tool, tier := range g.overrides {
		out[tool] = tier
	}
	return out
}

// Reload re-reads the policy file. On error the current policy stays in
// force. Approvals, safety flags and tier overrides are untouched.
func (g *Gatekeeper) Reload() error {
	cfg, hash, err := policy.LoadConfigWithHash(g.policyPath)
	if err != nil {
		g.logger.Error("policy reload failed, keeping current policy", "error", err)
		return err
	}

	g.mu.Lock()
	old := g.hash
	g.cfg = cfg
	g.hash = hash
	g.engine.Reconfigure(g.buildClassifier(cfg), cfg.Gate(), cfg.Monitorability.SignalTimeout)
	g.mu.Unlock()

	g.log.SetPolicyHash(hash)
	if prev := g.alerts.Swap(alert.NewDispatcher(cfg.Alerts, g.logger)); prev != nil {
		go prev.Wait()
	}
	g.logger.Info("policy reloaded", "old_hash", old, "new_hash", hash)
	return nil
}

// Purge drops expired grants from memory and the store.
func (g *Gatekeeper) Purge() []string {
	purged := g.approvals.Purge(g.now())
	if g.store != nil {
		for _, tool := range purged {
			g.deleteExpired(tool)
		}
	}
	if len(purged) > 0 {
		g.logger.Debug("expired grants purged", "tools", purged)
	}
	return purged
}

// deleteExpired removes tool's stored grant unless it was re-issued after
// the in-memory purge.
func (g *Gatekeeper) deleteExpired(tool string) {
	defer g.lockTool(tool)()
	if _, ok := g.approvals.Get(tool); ok {
		return
	}
	if err := g.store.DeleteGrant(tool); err != nil {
		g.logger.Warn("failed to delete expired grant", "tool", tool, "error", err)
	}
}

// RunMaintenance purges expired grants every interval until ctx is done.
func (g *Gatekeeper) RunMaintenance(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Purge()
		}
	}
}

// Close waits for in-flight alerts and closes the audit log and store.
func (g *Gatekeeper) Close() error {
	g.alerts.Load().Wait()
	var errs []error
	if g.log != nil {
		errs = append(errs, g.log.Close())
	}
	if g.store != nil {
		errs = append(errs, g.store.Close())
	}
	return errors.Join(errs...)
}

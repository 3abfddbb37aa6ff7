// Package sim previews a policy change against recorded decisions.
package sim

import (
	"fmt"

	"github.com/ppiankov/toolgate/internal/audit"
	"github.com/ppiankov/toolgate/internal/model"
	"github.com/ppiankov/toolgate/internal/policy"
)

// Simulate re-decides every recorded decision in logPath under the policy
// at policyPath and returns the decisions whose verdict would change.
//
// Only the static part of the pipeline is re-run. Decisions made under the
// emergency stop, the emptiness window or an audit failure depend on runtime
// state the log cannot reproduce and are counted as skipped. A recorded
// approval is assumed to still be in place, and a recorded gate failure is
// assumed to fail again.
func Simulate(logPath, policyPath string) (*SimResult, error) {
	cfg, err := policy.LoadConfig(policyPath)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}

	log, err := audit.Load(logPath)
	if err != nil {
		return nil, err
	}
	entries, err := log.Entries(audit.Filter{})
	if err != nil {
		return nil, err
	}

	result := &SimResult{PolicyPath: policyPath}
	s := newStaticPipeline(cfg)

	for _, e := range entries {
		result.TotalActions++
		if stateDependent(e.Stage) {
			result.Skipped++
			continue
		}

		nv := s.decide(e)
		if nv.tier != e.Tier {
			result.TierChanged++
		}
		if nv.verdict == e.Verdict {
			continue
		}

		result.Changes = append(result.Changes, DiffEntry{
			Timestamp:  e.Timestamp,
			DecisionID: e.DecisionID,
			Tool:       e.Tool,
			OldVerdict: e.Verdict,
			NewVerdict: nv.verdict,
			OldStage:   e.Stage,
			NewStage:   nv.stage,
			OldTier:    e.Tier,
			NewTier:    nv.tier,
			OldReason:  e.Reason,
			NewReason:  nv.reason,
		})
		result.ChangedActions++
		if nv.verdict == model.Deny {
			result.NewlyBlocked++
		} else {
			result.NewlyAllowed++
		}
	}

	return result, nil
}

func stateDependent(stage model.Stage) bool {
	switch stage {
	case model.StageEmergency, model.StageEmptinessWindow, model.StageAuditFailure:
		return true
	}
	return false
}

type verdict struct {
	verdict model.Verdict
	stage   model.Stage
	tier    model.RiskTier
	reason  string
}

type staticPipeline struct {
	cfg *policy.PolicyConfig
}

func newStaticPipeline(cfg *policy.PolicyConfig) *staticPipeline {
	return &staticPipeline{cfg: cfg}
}

func (s *staticPipeline) decide(e audit.Entry) verdict {
	classifier := s.cfg.Classifier()
	g := s.cfg.Gate()

	tier, err := classifier.Classify(e.Tool)
	if err != nil {
		return verdict{model.Deny, model.StageClassification, model.TierUnknown, err.Error()}
	}

	approved := e.Stage == model.StageApproved ||
		(e.Stage == model.StageMonitorabilityGate && e.Tier >= model.O2)
	gateFailed := e.Stage == model.StageMonitorabilityGate

	switch tier {
	case model.O0:
		return verdict{model.Allow, model.StageDefaultAllow, tier, "O0 tools carry no commit power"}
	case model.O1:
		if g.Applies(tier) && gateFailed {
			return verdict{model.Deny, model.StageMonitorabilityGate, tier, "monitorability gate failed when recorded"}
		}
		reason := "O1 allowed by default; decision audited"
		if g.Applies(tier) {
			reason += " (subject to monitorability gate)"
		}
		return verdict{model.Allow, model.StageDefaultAllowAudited, tier, reason}
	default:
		if !approved {
			return verdict{model.Deny, model.StagePolicyDefaultDeny, tier,
				fmt.Sprintf("%s tool %q requires an unexpired approval grant", tier, e.Tool)}
		}
		if g.Applies(tier) && gateFailed {
			return verdict{model.Deny, model.StageMonitorabilityGate, tier, "monitorability gate failed when recorded"}
		}
		return verdict{model.Allow, model.StageApproved, tier, "approval grant assumed still valid"}
	}
}

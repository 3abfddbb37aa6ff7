package gatekeeper

import (
	"github.com/ppiankov/toolgate/internal/approval"
	"github.com/ppiankov/toolgate/internal/audit"
	"github.com/ppiankov/toolgate/internal/model"
	"github.com/ppiankov/toolgate/internal/safety"
)

// Status is the operator view of the runtime.
type Status struct {
	PolicyHash    string           `json:"policy_hash"`
	Strict        bool             `json:"strict"`
	DefaultTier   model.RiskTier   `json:"default_tier"`
	GateThreshold model.RiskTier   `json:"gate_threshold_tier"`
	MinQuality    float64          `json:"min_quality"`
	Safety        safety.Status    `json:"safety"`
	Grants        []approval.Grant `json:"grants"`
	Audit         audit.Summary    `json:"audit"`
	AlertsDropped int64            `json:"alerts_dropped"`
}

// Status reports policy, safety flags, active grants and audit counts.
func (g *Gatekeeper) Status() Status {
	c := g.engine.Classifier()
	gt := g.engine.Gate()

	grants := g.Grants()
	if grants == nil {
		grants = []approval.Grant{}
	}
	return Status{
		PolicyHash:    g.PolicyHash(),
		Strict:        c.Strict(),
		DefaultTier:   c.DefaultTier(),
		GateThreshold: gt.Threshold(),
		MinQuality:    gt.MinQuality(),
		Safety:        g.safety.Status(),
		Grants:        grants,
		Audit:         g.log.Summary(),
		AlertsDropped: g.alerts.Load().Dropped(),
	}
}

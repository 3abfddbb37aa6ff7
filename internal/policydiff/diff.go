package policydiff

import (
	"fmt"
	"sort"
	"time"

	"github.com/ppiankov/toolgate/internal/model"
	"github.com/ppiankov/toolgate/internal/policy"
)

// Change represents a scalar field change.
type Change struct {
	Field   string `json:"field"`
	Old     string `json:"old"`
	New     string `json:"new"`
	Comment string `json:"comment,omitempty"`
}

// TierChange represents a tool whose tier was added, removed or changed.
type TierChange struct {
	Type    string `json:"type"` // "added", "removed", "changed"
	Tool    string `json:"tool"`
	Old     string `json:"old,omitempty"`
	New     string `json:"new,omitempty"`
	Comment string `json:"comment,omitempty"`
}

// DiffResult holds the comparison of two PolicyConfigs.
type DiffResult struct {
	OldPath     string       `json:"old_path"`
	NewPath     string       `json:"new_path"`
	Changes     []Change     `json:"changes"`
	TierChanges []TierChange `json:"tier_changes"`
	HasChanges  bool         `json:"has_changes"`
}

// Diff compares two PolicyConfigs and returns the differences.
func Diff(old, new *policy.PolicyConfig) *DiffResult {
	r := &DiffResult{}

	if old.Strict != new.Strict {
		comment := "looser"
		if new.Strict {
			comment = "stricter"
		}
		r.Changes = append(r.Changes, Change{
			Field:   "strict",
			Old:     fmt.Sprintf("%t", old.Strict),
			New:     fmt.Sprintf("%t", new.Strict),
			Comment: comment,
		})
	}

	diffTier(r, "default_tier", old.DefaultTier, new.DefaultTier, true)
	diffDuration(r, "default_grant_duration", old.DefaultGrantDuration, new.DefaultGrantDuration)

	// A lower threshold puts more tiers behind the gate.
	diffTier(r, "monitorability.threshold_tier",
		old.Monitorability.ThresholdTier, new.Monitorability.ThresholdTier, false)
	if old.Monitorability.MinQuality != new.Monitorability.MinQuality {
		r.Changes = append(r.Changes, Change{
			Field:   "monitorability.min_quality",
			Old:     fmt.Sprintf("%g", old.Monitorability.MinQuality),
			New:     fmt.Sprintf("%g", new.Monitorability.MinQuality),
			Comment: strictness(new.Monitorability.MinQuality > old.Monitorability.MinQuality),
		})
	}
	if old.Monitorability.SignalTimeout != new.Monitorability.SignalTimeout {
		r.Changes = append(r.Changes, Change{
			Field: "monitorability.signal_timeout",
			Old:   old.Monitorability.SignalTimeout.String(),
			New:   new.Monitorability.SignalTimeout.String(),
		})
	}

	if len(old.Alerts) != len(new.Alerts) {
		r.Changes = append(r.Changes, Change{
			Field: "alerts",
			Old:   fmt.Sprintf("%d", len(old.Alerts)),
			New:   fmt.Sprintf("%d", len(new.Alerts)),
		})
	}

	diffTiers(r, old.Tiers, new.Tiers)

	r.HasChanges = len(r.Changes) > 0 || len(r.TierChanges) > 0
	return r
}

// Looser reports whether any change relaxes enforcement.
func (r *DiffResult) Looser() bool {
	for _, c := range r.Changes {
		if c.Comment == "looser" {
			return true
		}
	}
	for _, c := range r.TierChanges {
		if c.Comment == "looser" {
			return true
		}
	}
	return false
}

func strictness(stricter bool) string {
	if stricter {
		return "stricter"
	}
	return "looser"
}

func diffTier(r *DiffResult, field string, old, new model.RiskTier, higherIsStricter bool) {
	if old == new {
		return
	}
	stricter := new > old
	if !higherIsStricter {
		stricter = new < old
	}
	r.Changes = append(r.Changes, Change{
		Field:   field,
		Old:     old.String(),
		New:     new.String(),
		Comment: strictness(stricter),
	})
}

// Shorter grants expire sooner.
func diffDuration(r *DiffResult, field string, old, new time.Duration) {
	if old == new {
		return
	}
	r.Changes = append(r.Changes, Change{
		Field:   field,
		Old:     old.String(),
		New:     new.String(),
		Comment: strictness(new < old),
	})
}

func diffTiers(r *DiffResult, oldTiers, newTiers map[string]model.RiskTier) {
	tools := make(map[string]struct{}, len(oldTiers)+len(newTiers))
	for t := range oldTiers {
		tools[t] = struct{}{}
	}
	for t := range newTiers {
		tools[t] = struct{}{}
	}
	names := make([]string, 0, len(tools))
	for t := range tools {
		names = append(names, t)
	}
	sort.Strings(names)

	for _, tool := range names {
		o, inOld := oldTiers[tool]
		n, inNew := newTiers[tool]
		switch {
		case inOld && !inNew:
			r.TierChanges = append(r.TierChanges, TierChange{Type: "removed", Tool: tool, Old: o.String()})
		case !inOld && inNew:
			r.TierChanges = append(r.TierChanges, TierChange{Type: "added", Tool: tool, New: n.String()})
		case o != n:
			r.TierChanges = append(r.TierChanges, TierChange{
				Type:    "changed",
				Tool:    tool,
				Old:     o.String(),
				New:     n.String(),
				Comment: strictness(n > o),
			})
		}
	}
}

package sim

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ppiankov/toolgate/internal/model"
)

// DiffEntry represents one recorded decision whose verdict changed.
type DiffEntry struct {
	Timestamp  string         `json:"ts"`
	DecisionID string         `json:"decision_id"`
	Tool       string         `json:"tool"`
	OldVerdict model.Verdict  `json:"old_verdict"`
	NewVerdict model.Verdict  `json:"new_verdict"`
	OldStage   model.Stage    `json:"old_stage"`
	NewStage   model.Stage    `json:"new_stage"`
	OldTier    model.RiskTier `json:"old_tier"`
	NewTier    model.RiskTier `json:"new_tier"`
	OldReason  string         `json:"old_reason"`
	NewReason  string         `json:"new_reason"`
}

// SimResult holds the complete simulation output.
type SimResult struct {
	PolicyPath     string      `json:"policy_path"`
	TotalActions   int         `json:"total_actions"`
	ChangedActions int         `json:"changed_actions"`
	NewlyBlocked   int         `json:"newly_blocked"`
	NewlyAllowed   int         `json:"newly_allowed"`
	TierChanged    int         `json:"tier_changed"`
	Skipped        int         `json:"skipped"`
	Changes        []DiffEntry `json:"changes"`
}

// FormatText renders the simulation result as human-readable text.
func FormatText(r *SimResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Simulating %s against %d recorded decisions...\n", r.PolicyPath, r.TotalActions)
	if r.Skipped > 0 {
		fmt.Fprintf(&b, "%d decisions made under emergency, safety mode or audit failure were skipped.\n", r.Skipped)
	}

	if len(r.Changes) == 0 {
		b.WriteString("\nNo changes detected.\n")
		return b.String()
	}

	b.WriteString("\n")
	for _, d := range r.Changes {
		ts := d.Timestamp
		if len(ts) >= 19 {
			ts = ts[11:19]
		}
		fmt.Fprintf(&b, "  CHANGED  %s  %-24s %s→%s  %s → %s (%s)\n",
			ts, d.Tool, d.OldTier, d.NewTier, d.OldVerdict, d.NewVerdict, d.NewStage)
	}

	fmt.Fprintf(&b, "\n%d of %d decisions changed.", r.ChangedActions, r.TotalActions)
	if r.NewlyBlocked > 0 || r.NewlyAllowed > 0 {
		fmt.Fprintf(&b, " %d newly blocked, %d newly allowed.", r.NewlyBlocked, r.NewlyAllowed)
	}
	b.WriteString("\n")

	return b.String()
}

// FormatJSON renders the simulation result as JSON.
func FormatJSON(r *SimResult) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal sim result: %w", err)
	}
	return string(data), nil
}

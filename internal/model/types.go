package model

import (
	"fmt"
	"strings"
	"time"
)

// RiskTier classifies a tool by the blast radius of its effect.
// Tiers are totally ordered: O0 < O1 < O2.
type RiskTier int

const (
	// TierUnknown marks a decision made before classification succeeded.
	TierUnknown RiskTier = -1
	// O0 tools have no persistent effect (reads, searches).
	O0 RiskTier = 0
	// O1 tools have a reversible local effect (file writes).
	O1 RiskTier = 1
	// O2 tools have an irreversible or high-blast-radius effect.
	O2 RiskTier = 2
)

func (t RiskTier) String() string {
	switch t {
	case O0:
		return "O0"
	case O1:
		return "O1"
	case O2:
		return "O2"
	default:
		return "unknown"
	}
}

// Valid reports whether t is one of O0, O1, O2.
func (t RiskTier) Valid() bool {
	return t >= O0 && t <= O2
}

// ParseTier accepts "O0".."O2", "0".."2" and "omega_0".."omega_2",
// case-insensitively.
func ParseTier(s string) (RiskTier, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.TrimPrefix(v, "omega_")
	v = strings.TrimPrefix(v, "o")
	switch v {
	case "0":
		return O0, nil
	case "1":
		return O1, nil
	case "2":
		return O2, nil
	}
	return TierUnknown, fmt.Errorf("invalid risk tier %q (want O0, O1 or O2)", s)
}

// MarshalText implements encoding.TextMarshaler; used by both the JSON
// audit records and the YAML policy file.
func (t RiskTier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *RiskTier) UnmarshalText(b []byte) error {
	if string(b) == "unknown" {
		*t = TierUnknown
		return nil
	}
	parsed, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Verdict is the final policy outcome for one invocation attempt.
type Verdict string

const (
	Allow Verdict = "ALLOW"
	Deny  Verdict = "DENY"
)

// Stage names the pipeline step that produced a verdict.
type Stage string

const (
	StageClassification      Stage = "classification"
	StageEmergency           Stage = "emergency"
	StageEmptinessWindow     Stage = "emptiness_window"
	StageDefaultAllow        Stage = "default_allow"
	StageDefaultAllowAudited Stage = "default_allow_audited"
	StagePolicyDefaultDeny   Stage = "policy_default_deny"
	StageMonitorabilityGate  Stage = "monitorability_gate"
	StageApproved            Stage = "approved"
	// StageAuditFailure is used when the decision could not be durably recorded.
	StageAuditFailure Stage = "audit_failure"
)

// Decision is produced once per invocation attempt and never mutated.
// ID correlates the decision with its later execution outcome.
type Decision struct {
	ID        string    `json:"id"`
	Verdict   Verdict   `json:"verdict"`
	Tool      string    `json:"tool"`
	Tier      RiskTier  `json:"tier"`
	Stage     Stage     `json:"stage"`
	Reason    string    `json:"reason"`
	Warning   string    `json:"warning,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}

// Allowed reports whether the tool may be executed.
func (d Decision) Allowed() bool {
	return d.Verdict == Allow
}

package alert

import "github.com/ppiankov/toolgate/internal/model"

// Event types sent to webhooks.
const (
	EventDeny             = "deny"
	EventEmergencyStop    = "emergency_stop"
	EventEmergencyCleared = "emergency_cleared"
	EventSafetyEntered    = "safety_mode_entered"
	EventSafetyExited     = "safety_mode_exited"
	EventAuditFailure     = "audit_failure"
	EventBinaryTamper     = "binary_tamper"
)

// AlertConfig defines a webhook alert destination.
type AlertConfig struct {
	URL     string            `yaml:"url"     json:"url"`
	Format  string            `yaml:"format"  json:"format"` // "generic", "slack", "pagerduty"
	Events  []string          `yaml:"events"  json:"events"` // event types or denial stages
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// AlertEvent is the payload sent to webhook endpoints.
type AlertEvent struct {
	Timestamp  string         `json:"timestamp"`
	Type       string         `json:"type"`
	DecisionID string         `json:"decision_id,omitempty"`
	Tool       string         `json:"tool,omitempty"`
	Tier       model.RiskTier `json:"tier"`
	Verdict    model.Verdict  `json:"verdict,omitempty"`
	Stage      model.Stage    `json:"stage,omitempty"`
	Reason     string         `json:"reason"`
	PolicyHash string         `json:"policy_hash,omitempty"`
}

package alert

import (
	"encoding/json"
	"fmt"

	"github.com/ppiankov/toolgate/internal/model"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, event AlertEvent) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(event)
	case "pagerduty":
		return formatPagerDuty(event)
	default:
		return formatGeneric(event)
	}
}

func formatGeneric(event AlertEvent) ([]byte, error) {
	return json.Marshal(event)
}

func formatSlack(event AlertEvent) ([]byte, error) {
	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("toolgate: %s", event.Type),
				},
			},
			map[string]any{
				"type": "section",
				"fields": []any{
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Tool:* %s", orDash(event.Tool))},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Tier:* %s", event.Tier)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Stage:* %s", orDash(string(event.Stage)))},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Reason:* %s", event.Reason)},
				},
			},
		},
	}
	return json.Marshal(payload)
}

func formatPagerDuty(event AlertEvent) ([]byte, error) {
	severity := "info"
	switch {
	case event.Type == EventEmergencyStop || event.Type == EventAuditFailure:
		severity = "critical"
	case event.Tier >= model.O2:
		severity = "error"
	case event.Tier >= model.O1:
		severity = "warning"
	}

	summary := fmt.Sprintf("toolgate %s", event.Type)
	if event.Tool != "" {
		summary += ": " + event.Tool
	}

	payload := map[string]any{
		"event_action": "trigger",
		"payload": map[string]any{
			"summary":  summary,
			"severity": severity,
			"source":   "toolgate",
			"custom_details": map[string]any{
				"tool":        event.Tool,
				"tier":        event.Tier.String(),
				"stage":       event.Stage,
				"reason":      event.Reason,
				"decision_id": event.DecisionID,
			},
		},
	}
	return json.Marshal(payload)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

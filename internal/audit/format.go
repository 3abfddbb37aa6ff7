package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders a ReplayResult as a human-readable text timeline.
func FormatTimeline(result *ReplayResult) string {
	if len(result.Records) == 0 {
		return fmt.Sprintf("Audit: %s | No records found.\n", result.Filter)
	}

	var b strings.Builder

	firstTime := formatDateRange(result.Summary.FirstTimestamp)
	lastTime := formatTimeOnly(result.Summary.LastTimestamp)
	b.WriteString(fmt.Sprintf("Audit: %s | %s to %s UTC\n", result.Filter, firstTime, lastTime))
	b.WriteString(separator + "\n")

	for _, r := range result.Records {
		ts := formatTimeOnly(r.Timestamp)
		tool := truncate(r.Tool, 16)
		id := truncate(r.DecisionID, 8)

		var status, detail string
		switch r.Kind {
		case KindOutcome:
			status = "EXECUTED"
			if !r.Executed {
				status = "FAILED"
			}
			detail = truncate(r.Error, 40)
		default:
			status = string(r.Verdict)
			detail = string(r.Stage)
		}

		b.WriteString(fmt.Sprintf("%-10s %-8s %-3s %-9s %-17s %s\n",
			ts, id, r.Tier, status, tool, detail))
	}

	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(result.Summary))

	return b.String()
}

// FormatJSON renders a ReplayResult as indented JSON.
func FormatJSON(result *ReplayResult) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal replay result: %w", err)
	}
	return string(data), nil
}

func formatDateRange(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatTimeOnly(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("15:04:05")
}

func formatSummary(s ReplaySummary) string {
	parts := []string{}
	if s.AllowCount > 0 {
		parts = append(parts, fmt.Sprintf("%d allow", s.AllowCount))
	}
	if s.DenyCount > 0 {
		parts = append(parts, fmt.Sprintf("%d deny", s.DenyCount))
	}
	if s.ExecutedCount > 0 {
		parts = append(parts, fmt.Sprintf("%d executed", s.ExecutedCount))
	}
	if s.FailedCount > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", s.FailedCount))
	}

	return fmt.Sprintf("Summary: %s | Max tier: %s\n", strings.Join(parts, ", "), s.MaxTier)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

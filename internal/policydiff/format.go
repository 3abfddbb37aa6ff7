package policydiff

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatText renders the diff result as human-readable text.
func FormatText(r *DiffResult) string {
	if !r.HasChanges {
		return fmt.Sprintf("Policy diff: %s → %s\n\nNo changes detected.\n", r.OldPath, r.NewPath)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Policy diff: %s → %s\n", r.OldPath, r.NewPath)

	gate := filterChanges(r.Changes, "monitorability.")
	topLevel := filterTopLevel(r.Changes)

	if len(topLevel) > 0 {
		b.WriteString("\n")
		for _, c := range topLevel {
			writeChange(&b, "  ", 24, c.Field, c)
		}
	}

	if len(gate) > 0 {
		b.WriteString("\n  Monitorability:\n")
		for _, c := range gate {
			writeChange(&b, "    ", 18, strings.TrimPrefix(c.Field, "monitorability."), c)
		}
	}

	if len(r.TierChanges) > 0 {
		b.WriteString("\n  Tiers:\n")
		for _, tc := range r.TierChanges {
			switch tc.Type {
			case "added":
				fmt.Fprintf(&b, "    + %s: %s\n", tc.Tool, tc.New)
			case "removed":
				fmt.Fprintf(&b, "    - %s: %s\n", tc.Tool, tc.Old)
			case "changed":
				fmt.Fprintf(&b, "    ~ %s: %s → %s  (%s)\n", tc.Tool, tc.Old, tc.New, tc.Comment)
			}
		}
	}

	return b.String()
}

func writeChange(b *strings.Builder, indent string, width int, name string, c Change) {
	fmt.Fprintf(b, "%s%-*s %s → %s", indent, width, name+":", c.Old, c.New)
	if c.Comment != "" {
		fmt.Fprintf(b, "  (%s)", c.Comment)
	}
	b.WriteString("\n")
}

// FormatJSON renders the diff result as JSON.
func FormatJSON(r *DiffResult) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal diff result: %w", err)
	}
	return string(data), nil
}

func filterChanges(changes []Change, prefix string) []Change {
	var out []Change
	for _, c := range changes {
		if strings.HasPrefix(c.Field, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func filterTopLevel(changes []Change) []Change {
	var out []Change
	for _, c := range changes {
		if !strings.Contains(c.Field, ".") {
			out = append(out, c)
		}
	}
	return out
}

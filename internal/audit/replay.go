package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ppiankov/toolgate/internal/model"
)

// ReplayFilter holds filtering criteria for replay.
type ReplayFilter struct {
	Tool       string
	DecisionID string
	From       time.Time // zero value = no lower bound
	To         time.Time // zero value = no upper bound
}

// ReplaySummary holds counts and metadata for a replayed range.
type ReplaySummary struct {
	Total          int            `json:"total"`
	AllowCount     int            `json:"allow_count"`
	DenyCount      int            `json:"deny_count"`
	ExecutedCount  int            `json:"executed_count"`
	FailedCount    int            `json:"failed_count"`
	FirstTimestamp string         `json:"first_timestamp"`
	LastTimestamp  string         `json:"last_timestamp"`
	MaxTier        model.RiskTier `json:"max_tier"`
}

// ReplayResult holds filtered records and summary.
type ReplayResult struct {
	Filter  string        `json:"filter"`
	Records []Record      `json:"records"`
	Summary ReplaySummary `json:"summary"`
}

// Replay reads the audit log file and returns records matching the filter.
// Malformed lines are skipped; use Verify to detect them.
func Replay(path string, filter ReplayFilter) (*ReplayResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	result := &ReplayResult{
		Filter:  describeFilter(filter),
		Summary: ReplaySummary{MaxTier: model.TierUnknown},
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var r Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			continue
		}

		if filter.Tool != "" && r.Tool != filter.Tool {
			continue
		}
		if filter.DecisionID != "" && r.DecisionID != filter.DecisionID {
			continue
		}

		if !filter.From.IsZero() || !filter.To.IsZero() {
			ts, err := time.Parse(TimestampFormat, r.Timestamp)
			if err != nil {
				continue
			}
			if !filter.From.IsZero() && ts.Before(filter.From) {
				continue
			}
			if !filter.To.IsZero() && ts.After(filter.To) {
				continue
			}
		}

		result.Records = append(result.Records, r)
		updateSummary(&result.Summary, r)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	return result, nil
}

func describeFilter(f ReplayFilter) string {
	switch {
	case f.DecisionID != "":
		return "decision " + f.DecisionID
	case f.Tool != "":
		return "tool " + f.Tool
	default:
		return "all"
	}
}

func updateSummary(s *ReplaySummary, r Record) {
	s.Total++

	switch r.Kind {
	case KindDecision:
		switch r.Verdict {
		case model.Allow:
			s.AllowCount++
		case model.Deny:
			s.DenyCount++
		}
	case KindOutcome:
		if r.Executed {
			s.ExecutedCount++
		} else {
			s.FailedCount++
		}
	}

	if r.Tier > s.MaxTier {
		s.MaxTier = r.Tier
	}

	if s.FirstTimestamp == "" {
		s.FirstTimestamp = r.Timestamp
	}
	s.LastTimestamp = r.Timestamp
}

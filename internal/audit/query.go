package audit

import (
	"errors"

	"github.com/ppiankov/toolgate/internal/model"
)

// ErrInvalidLimit is returned for a negative query limit.
var ErrInvalidLimit = errors.New("audit: limit must not be negative")

// Filter selects entries. A nil Limit returns every match; zero returns
// none; a positive value returns the most recent Limit matches.
type Filter struct {
	Limit   *int
	Tool    string
	Verdict model.Verdict
}

// Limit is a helper for building a Filter with a limit.
func Limit(n int) *int { return &n }

func (f Filter) match(e Entry) bool {
	if f.Tool != "" && e.Tool != f.Tool {
		return false
	}
	if f.Verdict != "" && e.Verdict != f.Verdict {
		return false
	}
	return true
}

// Entries returns folded entries in insertion order, most recent last.
func (l *Log) Entries(f Filter) ([]Entry, error) {
	if f.Limit != nil && *f.Limit < 0 {
		return nil, ErrInvalidLimit
	}
	if f.Limit != nil && *f.Limit == 0 {
		return []Entry{}, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		if f.match(e) {
			out = append(out, e)
		}
	}
	if f.Limit != nil && *f.Limit < len(out) {
		out = out[len(out)-*f.Limit:]
	}
	return out, nil
}

// Get returns the folded entry for a decision id.
func (l *Log) Get(decisionID string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.index[decisionID]
	if !ok {
		return Entry{}, false
	}
	return l.entries[i], true
}

// Summary holds aggregate counts over all decisions.
type Summary struct {
	Total      int            `json:"total"`
	Allowed    int            `json:"allowed"`
	Denied     int            `json:"denied"`
	Executed   int            `json:"executed"`
	Errors     int            `json:"errors"`
	Unresolved int            `json:"unresolved"`
	ByTier     map[string]int `json:"by_tier"`
	ByStage    map[string]int `json:"by_stage"`
}

// Summary aggregates every decision in the log.
func (l *Log) Summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Summary{ByTier: map[string]int{}, ByStage: map[string]int{}}
	for _, e := range l.entries {
		s.Total++
		s.ByTier[e.Tier.String()]++
		s.ByStage[string(e.Stage)]++
		switch e.Verdict {
		case model.Allow:
			s.Allowed++
			if !e.Resolved {
				s.Unresolved++
			}
		case model.Deny:
			s.Denied++
		}
		if e.Executed {
			s.Executed++
		}
		if e.Error != "" {
			s.Errors++
		}
	}
	return s
}

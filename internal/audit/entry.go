package audit

import "github.com/ppiankov/toolgate/internal/model"

// TimestampFormat is the layout used in audit record timestamps.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// Kind distinguishes the two record shapes in the log.
type Kind string

const (
	// KindDecision is written once per evaluation, before any tool runs.
	KindDecision Kind = "decision"
	// KindOutcome is appended after an allowed tool returned or failed.
	KindOutcome Kind = "outcome"
)

// Record is one line in the hash-chained JSONL audit log.
// All fields are scalars so json.Marshal output is deterministic and the
// chain hash is reproducible.
type Record struct {
	Seq        uint64         `json:"seq"`
	Timestamp  string         `json:"ts"`
	Kind       Kind           `json:"kind"`
	DecisionID string         `json:"decision_id"`
	Tool       string         `json:"tool"`
	Tier       model.RiskTier `json:"tier"`
	Verdict    model.Verdict  `json:"verdict,omitempty"`
	Stage      model.Stage    `json:"stage,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Warning    string         `json:"warning,omitempty"`
	Executed   bool           `json:"executed"`
	Error      string         `json:"execution_error,omitempty"`
	PolicyHash string         `json:"policy_hash,omitempty"`
	PrevHash   string         `json:"prev_hash"`
}

// Entry is the folded view of a decision and its outcome, if reported.
// Executed is true only when an outcome said the tool ran without error.
type Entry struct {
	Seq        uint64         `json:"seq"`
	DecisionID string         `json:"decision_id"`
	Timestamp  string         `json:"ts"`
	Tool       string         `json:"tool"`
	Tier       model.RiskTier `json:"tier"`
	Verdict    model.Verdict  `json:"verdict"`
	Stage      model.Stage    `json:"stage"`
	Reason     string         `json:"reason"`
	Warning    string         `json:"warning,omitempty"`
	Executed   bool           `json:"executed"`
	Error      string         `json:"execution_error,omitempty"`
	Resolved   bool           `json:"resolved"`
	ResolvedAt string         `json:"resolved_at,omitempty"`
}

// EntryFromDecision builds the decision-time entry for d.
func EntryFromDecision(d model.Decision) Entry {
	e := Entry{
		DecisionID: d.ID,
		Tool:       d.Tool,
		Tier:       d.Tier,
		Verdict:    d.Verdict,
		Stage:      d.Stage,
		Reason:     d.Reason,
		Warning:    d.Warning,
	}
	if !d.DecidedAt.IsZero() {
		e.Timestamp = d.DecidedAt.UTC().Format(TimestampFormat)
	}
	return e
}

func (e Entry) record() Record {
	return Record{
		Seq:        e.Seq,
		Timestamp:  e.Timestamp,
		Kind:       KindDecision,
		DecisionID: e.DecisionID,
		Tool:       e.Tool,
		Tier:       e.Tier,
		Verdict:    e.Verdict,
		Stage:      e.Stage,
		Reason:     e.Reason,
		Warning:    e.Warning,
	}
}

func entryFromRecord(r Record) Entry {
	return Entry{
		Seq:        r.Seq,
		DecisionID: r.DecisionID,
		Timestamp:  r.Timestamp,
		Tool:       r.Tool,
		Tier:       r.Tier,
		Verdict:    r.Verdict,
		Stage:      r.Stage,
		Reason:     r.Reason,
		Warning:    r.Warning,
	}
}

// resolve folds an outcome record into its decision entry.
func (e *Entry) resolve(r Record) {
	e.Resolved = true
	e.ResolvedAt = r.Timestamp
	e.Error = r.Error
	e.Executed = r.Executed && r.Error == ""
}

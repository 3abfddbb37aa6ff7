package audit

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ppiankov/toolgate/internal/model"
)

// GenesisHash is the prev_hash for the first record in a new audit log.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

var (
	// ErrClosed is returned when writing to a closed log.
	ErrClosed = errors.New("audit: log is closed")
	// ErrUnknownDecision is returned for an outcome with no matching decision.
	ErrUnknownDecision = errors.New("audit: unknown decision id")
	// ErrNotAllowed is returned for an outcome reported against a DENY.
	ErrNotAllowed = errors.New("audit: outcome reported for a denied decision")
	// ErrAlreadyResolved is returned for a second outcome on one decision.
	ErrAlreadyResolved = errors.New("audit: outcome already recorded")
	// ErrFailed is returned after a failed append could not be rolled
	// back. The log must be reopened.
	ErrFailed = errors.New("audit: log failed after a partial append")
)

// logFile is the subset of *os.File the log writes through.
type logFile interface {
	io.WriteCloser
	Sync() error
	Truncate(size int64) error
}

// Log is an append-only JSONL audit log with SHA-256 hash chaining.
// Each record's prev_hash is the hash of the previous record's JSON line,
// forming a tamper-evident chain. Appends are serialized by one mutex and
// synced to disk before Record returns; seq is the logical clock.
type Log struct {
	path       string
	file       logFile
	size       int64 // bytes of complete records on disk
	torn       int64 // bytes of an unterminated tail dropped at open
	failed     error
	prevHash   string
	seq        uint64
	policyHash string
	now        func() time.Time
	mu         sync.Mutex

	entries []Entry
	index   map[string]int // decision id -> entries position
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides the clock used to stamp records.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// Open opens (or creates) an audit log file for appending.
// An existing file is replayed to rebuild the chain tail, the sequence
// counter and the decision index.
func Open(path string, opts ...Option) (*Log, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}

	l := &Log{
		path:     path,
		prevHash: GenesisHash,
		now:      time.Now,
		index:    make(map[string]int),
	}
	for _, o := range opts {
		o(l)
	}

	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		if err := l.load(); err != nil {
			return nil, err
		}
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("audit: open file: %w", err)
	}
	// A crash mid-append leaves an unterminated last line. Drop it so the
	// next record starts on a clean line and chains to the last durable one.
	if l.torn > 0 {
		if err := file.Truncate(l.size); err != nil {
			file.Close()
			return nil, fmt.Errorf("audit: drop torn tail: %w", err)
		}
	}
	l.file = file
	return l, nil
}

// TornBytes reports how many bytes of an unterminated final line were
// dropped when the log was opened.
func (l *Log) TornBytes() int64 { return l.torn }

// Load reads an existing log without opening it for writing. The
// returned Log answers queries; Record and RecordOutcome fail with
// ErrClosed.
func Load(path string) (*Log, error) {
	l := &Log{
		path:     path,
		prevHash: GenesisHash,
		now:      time.Now,
		index:    make(map[string]int),
	}
	if err := l.load(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) load() error {
	f, err := os.Open(l.path)
	if err != nil {
		return fmt.Errorf("audit: read existing log: %w", err)
	}
	defer f.Close()

	reader := bufio.NewReaderSize(f, 64*1024)
	lineNum := 0
	var lastLine []byte
	for {
		raw, readErr := reader.ReadBytes('\n')
		if readErr != nil && readErr != io.EOF {
			return fmt.Errorf("audit: scan existing log: %w", readErr)
		}
		if len(raw) > 0 {
			lineNum++
			// Every append ends with a newline; a final line without one
			// was cut short and never acknowledged.
			if raw[len(raw)-1] != '\n' {
				l.torn = int64(len(raw))
				break
			}
			line := bytes.TrimRight(raw, "\r\n")
			if len(line) > 0 {
				var r Record
				if err := json.Unmarshal(line, &r); err != nil {
					return fmt.Errorf("audit: parse line %d: %w", lineNum, err)
				}
				if r.Seq > l.seq {
					l.seq = r.Seq
				}
				l.apply(r)
				lastLine = append(lastLine[:0], line...)
			}
			l.size += int64(len(raw))
		}
		if readErr == io.EOF {
			break
		}
	}
	if len(lastLine) > 0 {
		l.prevHash = HashLine(lastLine)
	}
	return nil
}

// apply updates the in-memory index with a durable record.
func (l *Log) apply(r Record) {
	switch r.Kind {
	case KindDecision:
		l.index[r.DecisionID] = len(l.entries)
		l.entries = append(l.entries, entryFromRecord(r))
	case KindOutcome:
		if i, ok := l.index[r.DecisionID]; ok && !l.entries[i].Resolved {
			l.entries[i].resolve(r)
		}
	}
}

// SetPolicyHash sets the policy hash stamped on subsequent records.
func (l *Log) SetPolicyHash(hash string) {
	l.mu.Lock()
	l.policyHash = hash
	l.mu.Unlock()
}

// Path returns the log file path.
func (l *Log) Path() string { return l.path }

// Record appends a decision entry and returns it with Seq and Timestamp
// assigned. Decision entries are always written with executed=false; the
// real outcome arrives later through RecordOutcome.
func (l *Log) Record(e Entry) (Entry, error) {
	if e.DecisionID == "" {
		return Entry{}, fmt.Errorf("audit: decision id is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, dup := l.index[e.DecisionID]; dup {
		return Entry{}, fmt.Errorf("audit: decision %s already recorded", e.DecisionID)
	}

	if e.Timestamp == "" {
		e.Timestamp = l.now().UTC().Format(TimestampFormat)
	}
	e.Executed = false
	e.Error = ""
	e.Resolved = false
	e.ResolvedAt = ""

	r := e.record()
	if err := l.append(&r); err != nil {
		return Entry{}, err
	}
	e.Seq = r.Seq
	l.apply(r)
	return e, nil
}

// RecordOutcome appends the execution outcome of an allowed decision.
// A non-empty errText always stores executed=false.
func (l *Log) RecordOutcome(decisionID string, executed bool, errText string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, ok := l.index[decisionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDecision, decisionID)
	}
	e := l.entries[i]
	if e.Verdict != model.Allow {
		return fmt.Errorf("%w: %s", ErrNotAllowed, decisionID)
	}
	if e.Resolved {
		return fmt.Errorf("%w: %s", ErrAlreadyResolved, decisionID)
	}

	r := Record{
		Timestamp:  l.now().UTC().Format(TimestampFormat),
		Kind:       KindOutcome,
		DecisionID: decisionID,
		Tool:       e.Tool,
		Tier:       e.Tier,
		Executed:   executed && errText == "",
		Error:      errText,
	}
	if err := l.append(&r); err != nil {
		return err
	}
	l.apply(r)
	return nil
}

// append assigns seq, policy hash and prev_hash, then writes and syncs.
// On failure the file is cut back to its last complete record, so neither
// seq nor the chain tail advances on disk or in memory. If that rollback
// fails the log refuses further appends. Callers hold l.mu.
func (l *Log) append(r *Record) error {
	if l.file == nil {
		return ErrClosed
	}
	if l.failed != nil {
		return fmt.Errorf("%w: %w", ErrFailed, l.failed)
	}

	r.Seq = l.seq + 1
	r.PolicyHash = l.policyHash
	r.PrevHash = l.prevHash

	line, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("audit: marshal record: %w", err)
	}

	line = append(line, '\n')
	if _, err := l.file.Write(line); err != nil {
		return l.rollback(fmt.Errorf("audit: write record: %w", err))
	}
	if err := l.file.Sync(); err != nil {
		return l.rollback(fmt.Errorf("audit: sync: %w", err))
	}

	l.size += int64(len(line))
	l.seq = r.Seq
	l.prevHash = HashLine(line[:len(line)-1])
	return nil
}

// rollback removes whatever part of a failed append reached the file.
func (l *Log) rollback(cause error) error {
	if err := l.file.Truncate(l.size); err != nil {
		l.failed = fmt.Errorf("truncate to %d: %w", l.size, err)
		return errors.Join(cause, fmt.Errorf("%w: %w", ErrFailed, l.failed))
	}
	return cause
}

// Close flushes and closes the underlying file. Further writes fail with
// ErrClosed.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// HashLine returns "sha256:<hex>" of the given bytes.
func HashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}

// Package statestore persists operator state (approval grants, safety
// flags, tier overrides, review packets) in SQLite so a restart does not
// silently clear an emergency stop or revive a revoked grant.
package statestore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/toolgate/internal/approval"
	"github.com/ppiankov/toolgate/internal/model"
	"github.com/ppiankov/toolgate/internal/safety"
)

const schema = `
CREATE TABLE IF NOT EXISTS grants (
	tool        TEXT PRIMARY KEY,
	granted_at  TEXT NOT NULL,
	expires_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS safety_state (
	id               INTEGER PRIMARY KEY CHECK (id = 1),
	safety_mode      INTEGER NOT NULL,
	safety_reason    TEXT,
	safety_since     TEXT,
	emergency        INTEGER NOT NULL,
	emergency_reason TEXT,
	emergency_since  TEXT,
	updated_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tier_overrides (
	tool       TEXT PRIMARY KEY,
	tier       TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS review_packets (
	id          TEXT PRIMARY KEY,
	created_at  TEXT NOT NULL,
	packet_json TEXT NOT NULL
);
`

const timeFormat = time.RFC3339Nano

// Store manages operator state in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path and runs migrations.
// Use ":memory:" for a throwaway store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("statestore: open db: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and
	// serializes writers.
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("statestore: pragma: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("statestore: migrate: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeFormat)
}

func parseTime(s sql.NullString) (time.Time, error) {
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeFormat, s.String)
}

// SaveGrant inserts or replaces the grant for g.Tool.
func (s *Store) SaveGrant(g approval.Grant) error {
	_, err := s.db.Exec(
		`INSERT INTO grants (tool, granted_at, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(tool) DO UPDATE SET granted_at = excluded.granted_at, expires_at = excluded.expires_at`,
		g.Tool, formatTime(g.GrantedAt), formatTime(g.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("statestore: save grant %s: %w", g.Tool, err)
	}
	return nil
}

// DeleteGrant removes the grant for tool. Missing rows are not an error.
func (s *Store) DeleteGrant(tool string) error {
	if _, err := s.db.Exec(`DELETE FROM grants WHERE tool = ?`, tool); err != nil {
		return fmt.Errorf("statestore: delete grant %s: %w", tool, err)
	}
	return nil
}

// Grants returns every stored grant that is still active at now.
// Expired rows are deleted.
func (s *Store) Grants(now time.Time) ([]approval.Grant, error) {
	rows, err := s.db.Query(`SELECT tool, granted_at, expires_at FROM grants ORDER BY tool`)
	if err != nil {
		return nil, fmt.Errorf("statestore: query grants: %w", err)
	}

	var out []approval.Grant
	var expired []string
	for rows.Next() {
		var tool string
		var granted, expires sql.NullString
		if err := rows.Scan(&tool, &granted, &expires); err != nil {
			rows.Close()
			return nil, fmt.Errorf("statestore: scan grant: %w", err)
		}
		g := approval.Grant{Tool: tool}
		if g.GrantedAt, err = parseTime(granted); err == nil {
			g.ExpiresAt, err = parseTime(expires)
		}
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("statestore: grant %s: %w", tool, err)
		}
		if !g.ActiveAt(now) {
			expired = append(expired, tool)
			continue
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("statestore: iterate grants: %w", err)
	}
	rows.Close()

	for _, tool := range expired {
		if err := s.DeleteGrant(tool); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// SaveSafety stores the current safety snapshot.
func (s *Store) SaveSafety(snap safety.Snapshot) error {
	_, err := s.db.Exec(
		`INSERT INTO safety_state (id, safety_mode, safety_reason, safety_since, emergency, emergency_reason, emergency_since, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			safety_mode = excluded.safety_mode,
			safety_reason = excluded.safety_reason,
			safety_since = excluded.safety_since,
			emergency = excluded.emergency,
			emergency_reason = excluded.emergency_reason,
			emergency_since = excluded.emergency_since,
			updated_at = excluded.updated_at`,
		snap.SafetyMode, snap.SafetyReason, formatTime(snap.SafetySince),
		snap.Emergency, snap.EmergencyReason, formatTime(snap.EmergencySince),
		formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("statestore: save safety state: %w", err)
	}
	return nil
}

// LoadSafety returns the stored snapshot. ok is false when nothing has
// been saved yet.
func (s *Store) LoadSafety() (snap safety.Snapshot, ok bool, err error) {
	var safetySince, emergencySince, safetyReason, emergencyReason sql.NullString
	err = s.db.QueryRow(
		`SELECT safety_mode, safety_reason, safety_since, emergency, emergency_reason, emergency_since
		 FROM safety_state WHERE id = 1`,
	).Scan(&snap.SafetyMode, &safetyReason, &safetySince, &snap.Emergency, &emergencyReason, &emergencySince)
	if errors.Is(err, sql.ErrNoRows) {
		return safety.Snapshot{}, false, nil
	}
	if err != nil {
		return safety.Snapshot{}, false, fmt.Errorf("statestore: load safety state: %w", err)
	}

	snap.SafetyReason = safetyReason.String
	snap.EmergencyReason = emergencyReason.String
	if snap.SafetySince, err = parseTime(safetySince); err != nil {
		return safety.Snapshot{}, false, fmt.Errorf("statestore: safety_since: %w", err)
	}
	if snap.EmergencySince, err = parseTime(emergencySince); err != nil {
		return safety.Snapshot{}, false, fmt.Errorf("statestore: emergency_since: %w", err)
	}
	return snap, true, nil
}

// SetTier stores a tier override for tool.
func (s *Store) SetTier(tool string, tier model.RiskTier) error {
	if !tier.Valid() {
		return fmt.Errorf("statestore: invalid tier for %s", tool)
	}
	_, err := s.db.Exec(
		`INSERT INTO tier_overrides (tool, tier, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(tool) DO UPDATE SET tier = excluded.tier, updated_at = excluded.updated_at`,
		tool, tier.String(), formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("statestore: set tier %s: %w", tool, err)
	}
	return nil
}

// Tiers returns every stored tier override.
func (s *Store) Tiers() (map[string]model.RiskTier, error) {
	rows, err := s.db.Query(`SELECT tool, tier FROM tier_overrides`)
	if err != nil {
		return nil, fmt.Errorf("statestore: query tiers: %w", err)
	}
	defer rows.Close()

	out := make(map[string]model.RiskTier)
	for rows.Next() {
		var tool, raw string
		if err := rows.Scan(&tool, &raw); err != nil {
			return nil, fmt.Errorf("statestore: scan tier: %w", err)
		}
		tier, err := model.ParseTier(raw)
		if err != nil {
			return nil, fmt.Errorf("statestore: tier for %s: %w", tool, err)
		}
		out[tool] = tier
	}
	return out, rows.Err()
}

// SaveReviewPacket stores a packet produced when safety mode was exited.
func (s *Store) SaveReviewPacket(p safety.ReviewPacket) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("statestore: marshal review packet: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO review_packets (id, created_at, packet_json) VALUES (?, ?, ?)`,
		p.ID, formatTime(p.CreatedAt), string(data),
	)
	if err != nil {
		return fmt.Errorf("statestore: save review packet: %w", err)
	}
	return nil
}

// ReviewPackets returns up to limit packets, most recent first. A limit
// of zero or less returns all of them.
func (s *Store) ReviewPackets(limit int) ([]safety.ReviewPacket, error) {
	q := `SELECT packet_json FROM review_packets ORDER BY created_at DESC, id`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("statestore: query review packets: %w", err)
	}
	defer rows.Close()

	var out []safety.ReviewPacket
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("statestore: scan review packet: %w", err)
		}
		var p safety.ReviewPacket
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("statestore: decode review packet: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

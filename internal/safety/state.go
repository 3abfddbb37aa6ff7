// Package safety holds the process-wide safety-mode and emergency flags.
//
// Both flags live in one immutable Snapshot that is swapped atomically on
// every mutation, so an evaluation that loads a snapshot sees a consistent
// view of both. Emergency never clears on its own.
package safety

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/toolgate/internal/model"
)

// Snapshot is a point-in-time view of the global flags.
type Snapshot struct {
	SafetyMode      bool      `json:"safety_mode"`
	SafetyReason    string    `json:"safety_reason,omitempty"`
	SafetySince     time.Time `json:"safety_since,omitzero"`
	Emergency       bool      `json:"emergency"`
	EmergencyReason string    `json:"emergency_reason,omitempty"`
	EmergencySince  time.Time `json:"emergency_since,omitzero"`
}

// Blocks reports whether the snapshot forbids a tool of the given tier.
// Only O0 passes while either flag is set.
func (s Snapshot) Blocks(tier model.RiskTier) bool {
	return (s.Emergency || s.SafetyMode) && tier > model.O0
}

// BlockedCall is a call refused while safety mode was active.
type BlockedCall struct {
	DecisionID string         `json:"decision_id"`
	Tool       string         `json:"tool"`
	Tier       model.RiskTier `json:"tier"`
	At         time.Time      `json:"at"`
}

// ReviewPacket summarizes what safety mode blocked, for operator review.
type ReviewPacket struct {
	ID             string        `json:"id"`
	CreatedAt      time.Time     `json:"created_at"`
	Reason         string        `json:"reason"`
	ActivatedAt    time.Time     `json:"activated_at"`
	BlockedCalls   []BlockedCall `json:"blocked_calls"`
	Recommendation string        `json:"recommendation"`
}

// State owns the flags. Writers are serialized; readers never block.
type State struct {
	snap atomic.Pointer[Snapshot]

	mu      sync.Mutex
	blocked []BlockedCall
	packets []ReviewPacket
	now     func() time.Time
}

// Option configures a State.
type Option func(*State)

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *State) { s.now = now }
}

// New returns a State with both flags cleared.
func New(opts ...Option) *State {
	s := &State{now: time.Now}
	for _, o := range opts {
		o(s)
	}
	s.snap.Store(&Snapshot{})
	return s
}

// Snapshot returns the current flags.
func (s *State) Snapshot() Snapshot {
	return *s.snap.Load()
}

// update applies fn to a copy of the current snapshot and publishes it.
// Callers must hold s.mu.
func (s *State) update(fn func(*Snapshot)) {
	next := *s.snap.Load()
	fn(&next)
	s.snap.Store(&next)
}

// EnterSafetyMode activates safety mode. If it is already active the
// original reason and start time are kept and false is returned.
func (s *State) EnterSafetyMode(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snap.Load().SafetyMode {
		return false
	}
	if reason == "" {
		reason = "manual activation"
	}
	now := s.now().UTC()
	s.update(func(n *Snapshot) {
		n.SafetyMode = true
		n.SafetyReason = reason
		n.SafetySince = now
	})
	s.blocked = nil
	return true
}

// ExitSafetyMode clears safety mode. When calls were blocked during the
// window a ReviewPacket is returned; otherwise nil.
func (s *State) ExitSafetyMode() *ReviewPacket {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	if !cur.SafetyMode {
		return nil
	}

	var packet *ReviewPacket
	if len(s.blocked) > 0 {
		calls := make([]BlockedCall, len(s.blocked))
		copy(calls, s.blocked)
		packet = &ReviewPacket{
			ID:             uuid.New().String(),
			CreatedAt:      s.now().UTC(),
			Reason:         cur.SafetyReason,
			ActivatedAt:    cur.SafetySince,
			BlockedCalls:   calls,
			Recommendation: fmt.Sprintf("%d action(s) blocked during emptiness window", len(calls)),
		}
		s.packets = append(s.packets, *packet)
	}

	s.update(func(n *Snapshot) {
		n.SafetyMode = false
		n.SafetyReason = ""
		n.SafetySince = time.Time{}
	})
	s.blocked = nil
	return packet
}

// EmergencyStop sets the emergency flag. A repeated stop updates the reason.
func (s *State) EmergencyStop(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if reason == "" {
		reason = "emergency stop"
	}
	now := s.now().UTC()
	s.update(func(n *Snapshot) {
		if !n.Emergency {
			n.EmergencySince = now
		}
		n.Emergency = true
		n.EmergencyReason = reason
	})
}

// ClearEmergency clears the emergency flag. It reports whether it was set.
func (s *State) ClearEmergency() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.snap.Load().Emergency {
		return false
	}
	s.update(func(n *Snapshot) {
		n.Emergency = false
		n.EmergencyReason = ""
		n.EmergencySince = time.Time{}
	})
	return true
}

// RecordBlocked remembers a call refused by safety mode. Ignored when
// safety mode is not active.
func (s *State) RecordBlocked(call BlockedCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.snap.Load().SafetyMode {
		return
	}
	if call.At.IsZero() {
		call.At = s.now().UTC()
	}
	s.blocked = append(s.blocked, call)
}

// BlockedCalls returns the calls blocked in the current window.
func (s *State) BlockedCalls() []BlockedCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]BlockedCall, len(s.blocked))
	copy(out, s.blocked)
	return out
}

// ReviewPackets returns every packet produced since startup.
func (s *State) ReviewPackets() []ReviewPacket {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ReviewPacket, len(s.packets))
	copy(out, s.packets)
	return out
}

// Restore installs persisted flags, typically at startup.
func (s *State) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Store(&snap)
	s.blocked = nil
}

// Status is the operator-facing view of the flags.
type Status struct {
	Snapshot
	BlockedCount     int     `json:"blocked_count"`
	SafetySeconds    float64 `json:"safety_duration_seconds,omitempty"`
	EmergencySeconds float64 `json:"emergency_duration_seconds,omitempty"`
}

// Status reports the flags plus window statistics.
func (s *State) Status() Status {
	s.mu.Lock()
	blocked := len(s.blocked)
	s.mu.Unlock()

	snap := s.Snapshot()
	now := s.now().UTC()
	st := Status{Snapshot: snap, BlockedCount: blocked}
	if snap.SafetyMode {
		st.SafetySeconds = now.Sub(snap.SafetySince).Seconds()
	}
	if snap.Emergency {
		st.EmergencySeconds = now.Sub(snap.EmergencySince).Seconds()
	}
	return st
}

// Package approval holds time-bounded operator grants per tool.
package approval

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrInvalidDuration is returned when a grant duration is not positive.
var ErrInvalidDuration = errors.New("approval: duration must be positive")

// DefaultDuration is the grant length used when the operator omits one.
const DefaultDuration = 300 * time.Second

// Any non-empty identifier the classifier accepts can be granted.
func validateTool(tool string) error {
	if tool == "" {
		return fmt.Errorf("approval: tool must not be empty")
	}
	return nil
}

// Grant is an unexpired-until-ExpiresAt approval for one tool.
type Grant struct {
	Tool      string    `json:"tool"`
	GrantedAt time.Time `json:"granted_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ActiveAt reports whether the grant is valid at now. Expiry is exclusive.
func (g Grant) ActiveAt(now time.Time) bool {
	return now.Before(g.ExpiresAt)
}

// Remaining returns the time left before expiry, or zero.
func (g Grant) Remaining(now time.Time) time.Duration {
	if !g.ActiveAt(now) {
		return 0
	}
	return g.ExpiresAt.Sub(now)
}

// slot serializes operations on a single tool.
type slot struct {
	mu    sync.RWMutex
	grant *Grant
}

// Manager stores grants. Operations on different tools never share a
// lock; operations on the same tool are linearized by its slot.
type Manager struct {
	slots sync.Map // tool -> *slot
	now   func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the clock used to stamp new grants.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates an empty Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) slot(tool string) *slot {
	if s, ok := m.slots.Load(tool); ok {
		return s.(*slot)
	}
	s, _ := m.slots.LoadOrStore(tool, &slot{})
	return s.(*slot)
}

// Grant creates or replaces the grant for tool, expiring d from now.
func (m *Manager) Grant(tool string, d time.Duration) (Grant, error) {
	if d <= 0 {
		return Grant{}, ErrInvalidDuration
	}
	if err := validateTool(tool); err != nil {
		return Grant{}, err
	}

	now := m.now()
	g := Grant{Tool: tool, GrantedAt: now, ExpiresAt: now.Add(d)}

	s := m.slot(tool)
	s.mu.Lock()
	s.grant = &g
	s.mu.Unlock()
	return g, nil
}

// Restore installs a previously persisted grant as-is.
func (m *Manager) Restore(g Grant) error {
	if err := validateTool(g.Tool); err != nil {
		return err
	}
	if !g.ExpiresAt.After(g.GrantedAt) {
		return ErrInvalidDuration
	}
	s := m.slot(g.Tool)
	s.mu.Lock()
	s.grant = &g
	s.mu.Unlock()
	return nil
}

// Revoke removes any grant for tool. Revoking an absent grant is a no-op.
// It reports whether a grant was present.
func (m *Manager) Revoke(tool string) bool {
	v, ok := m.slots.Load(tool)
	if !ok {
		return false
	}
	s := v.(*slot)
	s.mu.Lock()
	had := s.grant != nil
	s.grant = nil
	s.mu.Unlock()
	return had
}

// IsApproved reports whether tool holds a grant and now < expires_at.
// It never mutates state; expired grants stay until Purge or Revoke.
func (m *Manager) IsApproved(tool string, now time.Time) bool {
	g, ok := m.Get(tool)
	return ok && g.ActiveAt(now)
}

// Get returns the stored grant for tool, expired or not.
func (m *Manager) Get(tool string) (Grant, bool) {
	v, ok := m.slots.Load(tool)
	if !ok {
		return Grant{}, false
	}
	s := v.(*slot)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.grant == nil {
		return Grant{}, false
	}
	return *s.grant, true
}

// Active returns grants valid at now, sorted by tool.
func (m *Manager) Active(now time.Time) []Grant {
	var out []Grant
	m.slots.Range(func(_, v any) bool {
		s := v.(*slot)
		s.mu.RLock()
		if s.grant != nil && s.grant.ActiveAt(now) {
			out = append(out, *s.grant)
		}
		s.mu.RUnlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Tool < out[j].Tool })
	return out
}

// Purge drops grants that expired at or before now and returns the
// affected tools. Reads are correct without ever calling it.
func (m *Manager) Purge(now time.Time) []string {
	var purged []string
	m.slots.Range(func(k, v any) bool {
		s := v.(*slot)
		s.mu.Lock()
		if s.grant != nil && !s.grant.ActiveAt(now) {
			s.grant = nil
			purged = append(purged, k.(string))
		}
		s.mu.Unlock()
		return true
	})
	sort.Strings(purged)
	return purged
}

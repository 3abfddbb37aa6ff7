// Package classify maps tool identifiers to risk tiers.
package classify

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ppiankov/toolgate/internal/model"
)

// UnknownToolError is returned by Classify in strict mode when the tool
// has no registered tier.
type UnknownToolError struct {
	Tool string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q: no risk tier registered", e.Tool)
}

// DefaultTiers returns the built-in tier mapping for common agent tools.
func DefaultTiers() map[string]model.RiskTier {
	return map[string]model.RiskTier{
		"read_file":  model.O0,
		"list_dir":   model.O0,
		"web_search": model.O0,
		"web_fetch":  model.O0,
		"message":    model.O0,
		"write_file": model.O1,
		"edit_file":  model.O1,
		"exec":       model.O2,
		"spawn":      model.O2,
		"cron":       model.O2,
	}
}

// Classifier is a lookup table with override support. Safe for
// concurrent use.
type Classifier struct {
	mu          sync.RWMutex
	tiers       map[string]model.RiskTier
	strict      bool
	defaultTier model.RiskTier
}

// New creates a Classifier seeded with tiers. defaultTier is returned for
// unknown tools when strict is false; an invalid defaultTier falls back to O2.
func New(tiers map[string]model.RiskTier, strict bool, defaultTier model.RiskTier) *Classifier {
	if !defaultTier.Valid() {
		defaultTier = model.O2
	}
	m := make(map[string]model.RiskTier, len(tiers))
	for tool, tier := range tiers {
		m[tool] = tier
	}
	return &Classifier{tiers: m, strict: strict, defaultTier: defaultTier}
}

// Strict reports whether unknown tools are rejected.
func (c *Classifier) Strict() bool { return c.strict }

// DefaultTier is the tier assumed for unknown tools in non-strict mode.
func (c *Classifier) DefaultTier() model.RiskTier { return c.defaultTier }

// Lookup returns the registered tier and whether the tool is known.
func (c *Classifier) Lookup(tool string) (model.RiskTier, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tier, ok := c.tiers[tool]
	return tier, ok
}

// Classify returns the tool's tier. Unknown tools yield *UnknownToolError
// in strict mode and the default tier otherwise.
func (c *Classifier) Classify(tool string) (model.RiskTier, error) {
	if tier, ok := c.Lookup(tool); ok {
		return tier, nil
	}
	if c.strict {
		return model.TierUnknown, &UnknownToolError{Tool: tool}
	}
	return c.defaultTier, nil
}

// SetTier registers or replaces the tier for tool. Last write wins.
func (c *Classifier) SetTier(tool string, tier model.RiskTier) error {
	if tool == "" {
		return fmt.Errorf("tool name is required")
	}
	if !tier.Valid() {
		return fmt.Errorf("invalid risk tier %d for %q", int(tier), tool)
	}
	c.mu.Lock()
	c.tiers[tool] = tier
	c.mu.Unlock()
	return nil
}

// Tiers returns a copy of the current mapping.
func (c *Classifier) Tiers() map[string]model.RiskTier {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]model.RiskTier, len(c.tiers))
	for tool, tier := range c.tiers {
		out[tool] = tier
	}
	return out
}

// Tools returns registered tool names in sorted order.
func (c *Classifier) Tools() []string {
	c.mu.RLock()
	names := make([]string, 0, len(c.tiers))
	for tool := range c.tiers {
		names = append(names, tool)
	}
	c.mu.RUnlock()
	sort.Strings(names)
	return names
}

package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/toolgate/internal/alert"
	"github.com/ppiankov/toolgate/internal/classify"
	"github.com/ppiankov/toolgate/internal/gate"
	"github.com/ppiankov/toolgate/internal/model"
)

// MonitorabilityConfig configures the quality gate.
type MonitorabilityConfig struct {
	ThresholdTier model.RiskTier `yaml:"threshold_tier"`
	MinQuality    float64        `yaml:"min_quality"`
	SignalTimeout time.Duration  `yaml:"signal_timeout"`
}

// PolicyConfig holds all configurable policy parameters.
type PolicyConfig struct {
	Strict               bool                      `yaml:"strict"`
	DefaultTier          model.RiskTier            `yaml:"default_tier"`
	DefaultGrantDuration time.Duration             `yaml:"default_grant_duration"`
	Tiers                map[string]model.RiskTier `yaml:"tiers"`
	Monitorability       MonitorabilityConfig      `yaml:"monitorability"`
	Alerts               []alert.AlertConfig       `yaml:"alerts,omitempty"`
}

// DefaultConfig returns the built-in policy: strict, unknown tools at O2,
// the gate on O2 only.
func DefaultConfig() *PolicyConfig {
	return &PolicyConfig{
		Strict:               true,
		DefaultTier:          model.O2,
		DefaultGrantDuration: 300 * time.Second,
		Tiers:                classify.DefaultTiers(),
		Monitorability: MonitorabilityConfig{
			ThresholdTier: model.O2,
			MinQuality:    gate.DefaultMinQuality,
			SignalTimeout: 2 * time.Second,
		},
	}
}

// Validate rejects configurations the engine cannot enforce.
func (c *PolicyConfig) Validate() error {
	if !c.DefaultTier.Valid() {
		return fmt.Errorf("default_tier must be O0, O1 or O2")
	}
	if !c.Monitorability.ThresholdTier.Valid() {
		return fmt.Errorf("monitorability.threshold_tier must be O0, O1 or O2")
	}
	if q := c.Monitorability.MinQuality; q < 0 || q > 1 {
		return fmt.Errorf("monitorability.min_quality must be within [0, 1], got %g", q)
	}
	if c.Monitorability.SignalTimeout < 0 {
		return fmt.Errorf("monitorability.signal_timeout must not be negative")
	}
	if c.DefaultGrantDuration <= 0 {
		return fmt.Errorf("default_grant_duration must be positive")
	}
	for tool, tier := range c.Tiers {
		if tool == "" {
			return fmt.Errorf("tiers: empty tool name")
		}
		if !tier.Valid() {
			return fmt.Errorf("tiers: invalid tier for %q", tool)
		}
	}
	return nil
}

// Classifier builds a classifier from the tier table.
func (c *PolicyConfig) Classifier() *classify.Classifier {
	return classify.New(c.Tiers, c.Strict, c.DefaultTier)
}

// Gate builds the monitorability gate.
func (c *PolicyConfig) Gate() *gate.Gate {
	return gate.New(c.Monitorability.ThresholdTier, c.Monitorability.MinQuality)
}

// DefaultPath returns ~/.toolgate/policy.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".toolgate", "policy.yaml")
}

// LoadConfig loads policy configuration from a YAML file.
func LoadConfig(path string) (*PolicyConfig, error) {
	cfg, _, err := LoadConfigWithHash(path)
	return cfg, err
}

// LoadConfigWithHash loads policy configuration and returns its SHA-256 hash.
// The hash is computed over the raw YAML bytes on disk. Empty path falls
// back to DefaultPath. A missing file yields defaults and the hash of
// empty input. Tiers in the file are merged over the built-in table.
func LoadConfigWithHash(path string) (*PolicyConfig, string, error) {
	if path == "" {
		path = DefaultPath()
	}

	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, "", fmt.Errorf("failed to read policy config: %w", err)
		}
	}

	h := sha256.Sum256(data)
	hash := "sha256:" + hex.EncodeToString(h[:])

	cfg := DefaultConfig()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, "", fmt.Errorf("failed to parse policy config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid policy config: %w", err)
	}

	return cfg, hash, nil
}

// DefaultConfigYAML returns a commented YAML string for init-policy.
func DefaultConfigYAML() string {
	return `# toolgate policy configuration
# Generated by: toolgate init-policy
#
# Evaluation order (cannot be changed):
#   1. Classification     unknown tool in strict mode -> deny
#   2. Emergency stop     tier above O0 -> deny
#   3. Emptiness window   tier above O0 -> deny
#   4. O0                 allow
#   5. O1                 allow, audited
#   6. O2                 unexpired approval grant required, then the
#                         monitorability gate

# Reject tools missing from the tier table. When false, unknown tools
# are treated as default_tier and the decision carries a warning.
strict: true
default_tier: O2

# Grant length used by "toolgate approve" when --duration is omitted.
default_grant_duration: 300s

# Tool tiers, merged over the built-in table.
#   O0 no persistent effect
#   O1 reversible local effect
#   O2 irreversible or high blast radius
tiers:
  read_file: O0
  list_dir: O0
  web_search: O0
  web_fetch: O0
  message: O0
  write_file: O1
  edit_file: O1
  exec: O2
  spawn: O2
  cron: O2

# Tiers at or above threshold_tier need a quality signal >= min_quality.
# A missing signal fails the gate.
monitorability:
  threshold_tier: O2
  min_quality: 0.8
  signal_timeout: 2s

# Webhook alerts. Events are types (deny, emergency_stop,
# emergency_cleared, safety_mode_entered, safety_mode_exited,
# audit_failure) or denial stages (policy_default_deny, ...).
# alerts:
#   - url: https://hooks.slack.com/services/...
#     format: slack
#     events: [emergency_stop, monitorability_gate]
`
}

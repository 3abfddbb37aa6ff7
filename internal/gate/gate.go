// Package gate implements the monitorability gate: high-impact tiers may
// only proceed when an estimator quality signal meets a minimum.
package gate

import (
	"fmt"
	"math"

	"github.com/ppiankov/toolgate/internal/model"
)

// DefaultMinQuality is the signal floor used when none is configured.
const DefaultMinQuality = 0.8

// Gate thresholds a caller-supplied quality signal. It never computes the
// signal itself.
type Gate struct {
	threshold  model.RiskTier
	minQuality float64
}

// New creates a Gate applying to tiers >= threshold. An invalid threshold
// falls back to O2.
func New(threshold model.RiskTier, minQuality float64) *Gate {
	if !threshold.Valid() {
		threshold = model.O2
	}
	return &Gate{threshold: threshold, minQuality: minQuality}
}

// Threshold returns the lowest tier the gate applies to.
func (g *Gate) Threshold() model.RiskTier { return g.threshold }

// MinQuality returns the configured signal floor.
func (g *Gate) MinQuality() float64 { return g.minQuality }

// Applies reports whether tier requires a quality signal.
func (g *Gate) Applies(tier model.RiskTier) bool {
	return tier >= g.threshold
}

// Check returns true when the gate does not apply to tier, or when signal
// is present, finite and >= the minimum. A nil signal fails.
func (g *Gate) Check(tier model.RiskTier, signal *float64) bool {
	if !g.Applies(tier) {
		return true
	}
	if signal == nil || math.IsNaN(*signal) {
		return false
	}
	return *signal >= g.minQuality
}

// Explain renders why Check returned what it did.
func (g *Gate) Explain(tier model.RiskTier, signal *float64) string {
	switch {
	case !g.Applies(tier):
		return fmt.Sprintf("gate not required below %s", g.threshold)
	case signal == nil:
		return "no quality signal supplied"
	case math.IsNaN(*signal):
		return "quality signal is NaN"
	case *signal >= g.minQuality:
		return fmt.Sprintf("quality %.3f meets minimum %.3f", *signal, g.minQuality)
	default:
		return fmt.Sprintf("quality %.3f below minimum %.3f", *signal, g.minQuality)
	}
}

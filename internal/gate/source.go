package gate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/toolgate/internal/model"
)

// ErrNoSignal is returned by a Source that has nothing to report.
var ErrNoSignal = errors.New("gate: no quality signal available")

// Source supplies a quality signal for an invocation. Implementations may
// block and must honor ctx cancellation.
type Source interface {
	Quality(ctx context.Context, tool string, tier model.RiskTier) (float64, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, tool string, tier model.RiskTier) (float64, error)

func (f SourceFunc) Quality(ctx context.Context, tool string, tier model.RiskTier) (float64, error) {
	return f(ctx, tool, tier)
}

// MetricsSource reports 1 while the latest metrics pass and 0 while they
// fail. With no metrics it returns ErrNoSignal, which the engine treats
// as a gate failure.
type MetricsSource struct {
	mu      sync.RWMutex
	metrics *Metrics
}

// NewMetricsSource creates a source with no metrics.
func NewMetricsSource() *MetricsSource {
	return &MetricsSource{}
}

// Update replaces the current metrics.
func (s *MetricsSource) Update(m Metrics) {
	s.mu.Lock()
	s.metrics = &m
	s.mu.Unlock()
}

// LoadFile replaces the current metrics with the YAML document at path.
// On error the previous metrics stay in place.
func (s *MetricsSource) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("gate: read metrics: %w", err)
	}
	var m Metrics
	if err := yaml.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("gate: parse metrics: %w", err)
	}
	s.Update(m)
	return nil
}

// Metrics returns the current metrics, if any.
func (s *MetricsSource) Metrics() (Metrics, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.metrics == nil {
		return Metrics{}, false
	}
	return *s.metrics, true
}

// Status evaluates the current metrics.
func (s *MetricsSource) Status() Status {
	m, ok := s.Metrics()
	if !ok {
		return StatusUnknown
	}
	return m.Evaluate()
}

func (s *MetricsSource) Quality(ctx context.Context, _ string, _ model.RiskTier) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	switch s.Status() {
	case StatusPass:
		return 1, nil
	case StatusUnknown:
		return 0, ErrNoSignal
	default:
		return 0, nil
	}
}

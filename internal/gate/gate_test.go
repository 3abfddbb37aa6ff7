package gate

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ppiankov/toolgate/internal/model"
)

func f(v float64) *float64 { return &v }

func TestGateAppliesFromThreshold(t *testing.T) {
	g := New(model.O2, 0.8)
	require.False(t, g.Applies(model.O0))
	require.False(t, g.Applies(model.O1))
	require.True(t, g.Applies(model.O2))

	g = New(model.O1, 0.8)
	require.True(t, g.Applies(model.O1))
}

func TestGateInvalidThresholdFallsBackToO2(t *testing.T) {
	g := New(model.TierUnknown, 0.5)
	require.Equal(t, model.O2, g.Threshold())
}

func TestGateCheck(t *testing.T) {
	g := New(model.O2, 0.8)

	tests := []struct {
		name   string
		tier   model.RiskTier
		signal *float64
		want   bool
	}{
		{"below threshold ignores missing signal", model.O1, nil, true},
		{"missing signal fails closed", model.O2, nil, false},
		{"NaN fails", model.O2, f(math.NaN()), false},
		{"below minimum", model.O2, f(0.79), false},
		{"equal to minimum passes", model.O2, f(0.8), true},
		{"above minimum", model.O2, f(0.95), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, g.Check(tt.tier, tt.signal))
		})
	}
}

func TestGateExplain(t *testing.T) {
	g := New(model.O2, 0.8)
	require.Equal(t, "no quality signal supplied", g.Explain(model.O2, nil))
	require.Contains(t, g.Explain(model.O2, f(0.5)), "below minimum")
	require.Contains(t, g.Explain(model.O2, f(0.9)), "meets minimum")
	require.Contains(t, g.Explain(model.O0, nil), "not required")
}

func TestMetricsEvaluate(t *testing.T) {
	tests := []struct {
		name string
		m    Metrics
		want Status
	}{
		{"empty", Metrics{}, StatusUnknown},
		{"pass", Metrics{FPR: f(0.01), CoverageAtFPR: f(0.9), Calibration: f(0.8)}, StatusPass},
		{"fpr too high", Metrics{FPR: f(0.2)}, StatusFailFPR},
		{"coverage too low", Metrics{FPR: f(0.01), CoverageAtFPR: f(0.5)}, StatusFailCoverage},
		{"calibration", Metrics{Calibration: f(0.3)}, StatusFailCalibration},
		{"lead time unstable", Metrics{LeadTimeMean: f(10), LeadTimeStd: f(8)}, StatusFailLeadTime},
		{"lead time stable", Metrics{LeadTimeMean: f(10), LeadTimeStd: f(2)}, StatusPass},
		{"custom target", Metrics{FPR: f(0.08), FPRTarget: 0.1}, StatusPass},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.m.Evaluate())
		})
	}
}

func TestMetricsFailureReason(t *testing.T) {
	require.Equal(t, "", Metrics{FPR: f(0.01)}.FailureReason())
	require.Equal(t, "FPR (0.200) exceeds target (0.05)", Metrics{FPR: f(0.2)}.FailureReason())
	require.Equal(t, "no estimator metrics available", Metrics{}.FailureReason())
}

func TestMetricsSource(t *testing.T) {
	s := NewMetricsSource()
	ctx := context.Background()

	_, err := s.Quality(ctx, "exec", model.O2)
	require.ErrorIs(t, err, ErrNoSignal)

	s.Update(Metrics{FPR: f(0.01)})
	q, err := s.Quality(ctx, "exec", model.O2)
	require.NoError(t, err)
	require.Equal(t, 1.0, q)

	s.Update(Metrics{FPR: f(0.5)})
	q, err = s.Quality(ctx, "exec", model.O2)
	require.NoError(t, err)
	require.Equal(t, 0.0, q)
	require.Equal(t, StatusFailFPR, s.Status())
}

func TestMetricsSourceHonorsCancellation(t *testing.T) {
	s := NewMetricsSource()
	s.Update(Metrics{FPR: f(0.01)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Quality(ctx, "exec", model.O2)
	require.True(t, errors.Is(err, context.Canceled))
}

func TestMetricsSourceLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fpr: 0.02\ncoverage_at_fpr: 0.6\n"), 0644))

	s := NewMetricsSource()
	require.NoError(t, s.LoadFile(path))
	require.Equal(t, StatusFailCoverage, s.Status())

	require.NoError(t, os.WriteFile(path, []byte("fpr: [broken"), 0644))
	require.Error(t, s.LoadFile(path))
	require.Equal(t, StatusFailCoverage, s.Status(), "previous metrics kept on parse error")

	require.Error(t, s.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")))
}

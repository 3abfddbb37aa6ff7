package gate

import "fmt"

// Status is the operational verdict for an estimator's metrics.
type Status string

const (
	StatusPass            Status = "PASS"
	StatusFailFPR         Status = "FAIL_FPR"
	StatusFailCoverage    Status = "FAIL_COVERAGE"
	StatusFailCalibration Status = "FAIL_CALIBRATION"
	StatusFailLeadTime    Status = "FAIL_LEAD_TIME"
	StatusUnknown         Status = "UNKNOWN"
)

// Default metric targets.
const (
	DefaultFPRTarget            = 0.05
	DefaultCoverageTarget       = 0.80
	DefaultCalibrationThreshold = 0.70
	DefaultLeadTimeCVMax        = 0.50
)

// Metrics describes how controllable a risk estimator currently is.
// Nil measurements are skipped; zero targets take the defaults.
type Metrics struct {
	FPR                  *float64 `json:"fpr,omitempty" yaml:"fpr,omitempty"`
	FPRTarget            float64  `json:"fpr_target,omitempty" yaml:"fpr_target,omitempty"`
	CoverageAtFPR        *float64 `json:"coverage_at_fpr,omitempty" yaml:"coverage_at_fpr,omitempty"`
	CoverageTarget       float64  `json:"coverage_target,omitempty" yaml:"coverage_target,omitempty"`
	Calibration          *float64 `json:"calibration,omitempty" yaml:"calibration,omitempty"`
	CalibrationThreshold float64  `json:"calibration_threshold,omitempty" yaml:"calibration_threshold,omitempty"`
	LeadTimeMean         *float64 `json:"lead_time_mean,omitempty" yaml:"lead_time_mean,omitempty"`
	LeadTimeStd          *float64 `json:"lead_time_std,omitempty" yaml:"lead_time_std,omitempty"`
	LeadTimeCVMax        float64  `json:"lead_time_cv_max,omitempty" yaml:"lead_time_cv_max,omitempty"`
}

func (m Metrics) withDefaults() Metrics {
	if m.FPRTarget == 0 {
		m.FPRTarget = DefaultFPRTarget
	}
	if m.CoverageTarget == 0 {
		m.CoverageTarget = DefaultCoverageTarget
	}
	if m.CalibrationThreshold == 0 {
		m.CalibrationThreshold = DefaultCalibrationThreshold
	}
	if m.LeadTimeCVMax == 0 {
		m.LeadTimeCVMax = DefaultLeadTimeCVMax
	}
	return m
}

func (m Metrics) empty() bool {
	return m.FPR == nil && m.CoverageAtFPR == nil && m.Calibration == nil &&
		(m.LeadTimeMean == nil || m.LeadTimeStd == nil)
}

// Evaluate checks FPR, coverage, calibration and lead-time stability in
// that order and returns the first failure.
func (m Metrics) Evaluate() Status {
	if m.empty() {
		return StatusUnknown
	}
	m = m.withDefaults()

	if m.FPR != nil && *m.FPR > m.FPRTarget {
		return StatusFailFPR
	}
	if m.CoverageAtFPR != nil && *m.CoverageAtFPR < m.CoverageTarget {
		return StatusFailCoverage
	}
	if m.Calibration != nil && *m.Calibration < m.CalibrationThreshold {
		return StatusFailCalibration
	}
	if m.LeadTimeMean != nil && m.LeadTimeStd != nil && *m.LeadTimeMean > 0 {
		if *m.LeadTimeStd / *m.LeadTimeMean > m.LeadTimeCVMax {
			return StatusFailLeadTime
		}
	}
	return StatusPass
}

// FailureReason returns a human-readable reason, or "" on PASS.
func (m Metrics) FailureReason() string {
	status := m.Evaluate()
	m = m.withDefaults()
	switch status {
	case StatusPass:
		return ""
	case StatusUnknown:
		return "no estimator metrics available"
	case StatusFailFPR:
		return fmt.Sprintf("FPR (%s) exceeds target (%g)", fmtOpt(m.FPR), m.FPRTarget)
	case StatusFailCoverage:
		return fmt.Sprintf("coverage (%s) below target (%g)", fmtOpt(m.CoverageAtFPR), m.CoverageTarget)
	case StatusFailCalibration:
		return fmt.Sprintf("calibration (%s) below threshold (%g)", fmtOpt(m.Calibration), m.CalibrationThreshold)
	case StatusFailLeadTime:
		return "lead time coefficient of variation too high"
	}
	return "gate failed: " + string(status)
}

func fmtOpt(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.3f", *v)
}

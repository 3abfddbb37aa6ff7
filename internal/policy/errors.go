package policy

import (
	"errors"
	"fmt"

	"github.com/ppiankov/toolgate/internal/model"
)

var (
	// ErrPolicyDenied matches any denial produced by policy rather than by
	// global safety state.
	ErrPolicyDenied = errors.New("policy denied")
	// ErrEmergencyActive matches denials caused by the emergency stop.
	ErrEmergencyActive = errors.New("emergency stop active")
	// ErrEmptinessActive matches denials caused by the emptiness window.
	ErrEmptinessActive = errors.New("emptiness window active")
	// ErrGateFailed matches monitorability gate denials.
	ErrGateFailed = errors.New("monitorability gate failed")
	// ErrAuditWrite is returned when a decision could not be recorded.
	ErrAuditWrite = errors.New("audit write failed")
)

// DeniedError is returned when a caller tries to proceed on a DENY. The
// decision has already been written to the audit log.
type DeniedError struct {
	Decision model.Decision
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("tool %q denied at %s: %s", e.Decision.Tool, e.Decision.Stage, e.Decision.Reason)
}

// Unwrap lets errors.Is tell safety-state denials from policy denials.
func (e *DeniedError) Unwrap() []error {
	switch e.Decision.Stage {
	case model.StageEmergency:
		return []error{ErrEmergencyActive}
	case model.StageEmptinessWindow:
		return []error{ErrEmptinessActive}
	case model.StageAuditFailure:
		return []error{ErrAuditWrite}
	case model.StageMonitorabilityGate:
		return []error{ErrGateFailed, ErrPolicyDenied}
	default:
		return []error{ErrPolicyDenied}
	}
}

// Denied returns a *DeniedError for d, or nil when d allows execution.
func Denied(d model.Decision) error {
	if d.Allowed() {
		return nil
	}
	return &DeniedError{Decision: d}
}

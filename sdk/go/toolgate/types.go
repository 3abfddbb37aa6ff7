package toolgate

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/ppiankov/toolgate/internal/client"
	"github.com/ppiankov/toolgate/internal/model"
	"github.com/ppiankov/toolgate/internal/policy"
)

// Decision is the verdict for one invocation attempt.
type Decision = model.Decision

// Request is one invocation attempt as seen by the policy engine.
type Request = policy.Request

// DeniedError is returned instead of running a denied tool. The decision
// has already been written to the audit log.
type DeniedError = policy.DeniedError

var (
	ErrPolicyDenied    = policy.ErrPolicyDenied
	ErrEmergencyActive = policy.ErrEmergencyActive
	ErrEmptinessActive = policy.ErrEmptinessActive
	ErrGateFailed      = policy.ErrGateFailed
	ErrAuditWrite      = policy.ErrAuditWrite

	// ErrServerUnreachable is returned by a Remote evaluator when no
	// decision could be obtained. Nothing was audited.
	ErrServerUnreachable = client.ErrUnreachable

	// ErrNotRegistered is returned by Call for a name with no tool.
	ErrNotRegistered = errors.New("toolgate: tool not registered")
)

// ToolFunc runs a tool. Arguments are passed through opaque.
type ToolFunc func(ctx context.Context, args json.RawMessage) (any, error)

// Evaluator decides and records. Both the embedded gatekeeper and a
// remote policy server satisfy it.
type Evaluator interface {
	Evaluate(ctx context.Context, req Request) (Decision, error)
	ReportOutcome(decisionID string, executed bool, errText string) error
}

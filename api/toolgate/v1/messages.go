package toolgatev1

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/toolgate/internal/approval"
	"github.com/ppiankov/toolgate/internal/model"
	"github.com/ppiankov/toolgate/internal/safety"
)

// EvaluateRequest asks for a decision on one tool call.
type EvaluateRequest struct {
	Tool    string          `json:"tool"`
	Args    json.RawMessage `json:"args,omitempty"`
	Quality *float64        `json:"quality,omitempty"`
}

// EvaluateResponse carries the decision. AuditError is set when the
// decision could not be recorded; the decision is then a DENY.
type EvaluateResponse struct {
	Decision   model.Decision `json:"decision"`
	AuditError string         `json:"audit_error,omitempty"`
}

// OutcomeRequest reports what happened after an ALLOW.
type OutcomeRequest struct {
	DecisionID string `json:"decision_id"`
	Executed   bool   `json:"executed"`
	Error      string `json:"error,omitempty"`
}

// Ack is an empty success response.
type Ack struct {
	OK bool `json:"ok"`
}

// ApproveRequest grants a tool. An empty Duration uses the policy default.
type ApproveRequest struct {
	Tool     string `json:"tool"`
	Duration string `json:"duration,omitempty"`
	OTP      string `json:"otp,omitempty"`
}

// ApproveResponse returns the created grant.
type ApproveResponse struct {
	Grant approval.Grant `json:"grant"`
}

// ToolRequest names a tool for operator actions.
type ToolRequest struct {
	Tool string `json:"tool"`
	OTP  string `json:"otp,omitempty"`
}

// ReasonRequest carries an operator-provided reason.
type ReasonRequest struct {
	Reason string `json:"reason,omitempty"`
	OTP    string `json:"otp,omitempty"`
}

// ChangedResponse reports whether an operator action changed state.
type ChangedResponse struct {
	Changed bool                 `json:"changed"`
	Packet  *safety.ReviewPacket `json:"packet,omitempty"`
}

// SetTierRequest overrides the tier of a tool.
type SetTierRequest struct {
	Tool string         `json:"tool"`
	Tier model.RiskTier `json:"tier"`
	OTP  string         `json:"otp,omitempty"`
}

// TiersResponse lists the classification table.
type TiersResponse struct {
	Tiers map[string]model.RiskTier `json:"tiers"`
}

// Encode converts a message to a Struct through its JSON form.
func Encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return s, nil
}

// Decode fills v from a Struct.
func Decode(s *structpb.Struct, v any) error {
	if s == nil {
		s = &structpb.Struct{}
	}
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	return nil
}

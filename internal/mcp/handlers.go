package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/toolgate/internal/audit"
	"github.com/ppiankov/toolgate/internal/policy"
)

// --- Input/Output types ---

// EvaluateInput defines parameters for the toolgate_evaluate tool.
type EvaluateInput struct {
	Tool    string         `json:"tool" jsonschema:"tool identifier, e.g. read_file or exec"`
	Args    map[string]any `json:"args,omitempty" jsonschema:"tool arguments, recorded but not inspected"`
	Quality *float64       `json:"quality,omitempty" jsonschema:"monitorability quality signal in [0,1] for high-impact tools"`
}

// EvaluateOutput is the policy decision.
type EvaluateOutput struct {
	DecisionID string `json:"decision_id"`
	Allowed    bool   `json:"allowed"`
	Verdict    string `json:"verdict"`
	Tier       string `json:"tier"`
	Stage      string `json:"stage"`
	Reason     string `json:"reason"`
	Warning    string `json:"warning,omitempty"`
}

// OutcomeInput defines parameters for the toolgate_report_outcome tool.
type OutcomeInput struct {
	DecisionID string `json:"decision_id" jsonschema:"decision_id returned by toolgate_evaluate"`
	Executed   bool   `json:"executed" jsonschema:"true if the tool actually ran"`
	Error      string `json:"error,omitempty" jsonschema:"error text if the tool failed"`
}

// OutcomeOutput acknowledges an outcome report.
type OutcomeOutput struct {
	DecisionID string `json:"decision_id"`
	Recorded   bool   `json:"recorded"`
}

// StatusInput takes no parameters.
type StatusInput struct{}

// GrantInfo is one active approval grant.
type GrantInfo struct {
	Tool      string `json:"tool"`
	ExpiresAt string `json:"expires_at"`
}

// StatusOutput is the runtime status visible to an agent.
type StatusOutput struct {
	Emergency       bool        `json:"emergency"`
	EmergencyReason string      `json:"emergency_reason,omitempty"`
	SafetyMode      bool        `json:"safety_mode"`
	SafetyReason    string      `json:"safety_reason,omitempty"`
	Strict          bool        `json:"strict"`
	DefaultTier     string      `json:"default_tier"`
	GateThreshold   string      `json:"gate_threshold_tier"`
	MinQuality      float64     `json:"min_quality"`
	PolicyHash      string      `json:"policy_hash"`
	Grants          []GrantInfo `json:"grants"`
}

// SummaryInput takes no parameters.
type SummaryInput struct{}

// --- Handlers ---

func (s *Server) handleEvaluate(ctx context.Context, req *mcpsdk.CallToolRequest, input EvaluateInput) (*mcpsdk.CallToolResult, EvaluateOutput, error) {
	var args json.RawMessage
	if len(input.Args) > 0 {
		data, err := json.Marshal(input.Args)
		if err != nil {
			return nil, EvaluateOutput{}, fmt.Errorf("invalid args: %w", err)
		}
		args = data
	}

	d, err := s.gk.Evaluate(ctx, policy.Request{Tool: input.Tool, Args: args, Quality: input.Quality})
	out := EvaluateOutput{
		DecisionID: d.ID,
		Allowed:    d.Allowed(),
		Verdict:    string(d.Verdict),
		Tier:       d.Tier.String(),
		Stage:      string(d.Stage),
		Reason:     d.Reason,
		Warning:    d.Warning,
	}
	if err != nil {
		s.logger.Error("mcp evaluate: decision not recorded", "tool", input.Tool, "error", err)
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}

func (s *Server) handleReportOutcome(ctx context.Context, req *mcpsdk.CallToolRequest, input OutcomeInput) (*mcpsdk.CallToolResult, OutcomeOutput, error) {
	if input.DecisionID == "" {
		return nil, OutcomeOutput{}, fmt.Errorf("decision_id is required")
	}
	if err := s.gk.ReportOutcome(input.DecisionID, input.Executed, input.Error); err != nil {
		return nil, OutcomeOutput{}, err
	}
	return nil, OutcomeOutput{DecisionID: input.DecisionID, Recorded: true}, nil
}

func (s *Server) handleStatus(ctx context.Context, req *mcpsdk.CallToolRequest, input StatusInput) (*mcpsdk.CallToolResult, StatusOutput, error) {
	st := s.gk.Status()
	out := StatusOutput{
		Emergency:       st.Safety.Emergency,
		EmergencyReason: st.Safety.EmergencyReason,
		SafetyMode:      st.Safety.SafetyMode,
		SafetyReason:    st.Safety.SafetyReason,
		Strict:          st.Strict,
		DefaultTier:     st.DefaultTier.String(),
		GateThreshold:   st.GateThreshold.String(),
		MinQuality:      st.MinQuality,
		PolicyHash:      st.PolicyHash,
		Grants:          make([]GrantInfo, 0, len(st.Grants)),
	}
	for _, g := range st.Grants {
		out.Grants = append(out.Grants, GrantInfo{Tool: g.Tool, ExpiresAt: g.ExpiresAt.UTC().Format(time.RFC3339)})
	}
	return nil, out, nil
}

func (s *Server) handleAuditSummary(ctx context.Context, req *mcpsdk.CallToolRequest, input SummaryInput) (*mcpsdk.CallToolResult, audit.Summary, error) {
	return nil, s.gk.AuditLog().Summary(), nil
}

// Package client talks to a toolgate gRPC server.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	pb "github.com/ppiankov/toolgate/api/toolgate/v1"
	"github.com/ppiankov/toolgate/internal/approval"
	"github.com/ppiankov/toolgate/internal/gatekeeper"
	"github.com/ppiankov/toolgate/internal/model"
	"github.com/ppiankov/toolgate/internal/policy"
	"github.com/ppiankov/toolgate/internal/safety"
)

// ErrUnreachable is returned with the local DENY when the policy server
// could not be asked. That DENY was never written to any audit log.
var ErrUnreachable = errors.New("policy server unreachable")

// DefaultTimeout bounds every RPC.
const DefaultTimeout = 5 * time.Second

// Client connects to a toolgate gRPC policy server.
type Client struct {
	conn    *grpc.ClientConn
	otp     string
	timeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithOTP attaches an operator one-time code to operator RPCs.
func WithOTP(code string) Option {
	return func(c *Client) { c.otp = code }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// New creates a gRPC client for addr. The connection is lazy; an
// unreachable server surfaces on the first call.
func New(addr string, opts ...Option) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to policy server: %w", err)
	}
	c := &Client{conn: conn, timeout: DefaultTimeout}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	in, err := pb.Encode(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, pb.FullMethod(method), in, out); err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	return pb.Decode(out, resp)
}

// Evaluate asks the server for a decision.
// Fail-closed: any RPC or decoding error yields a local DENY together with
// an error wrapping ErrUnreachable. When the server decided but could not
// audit, the DENY comes with an error wrapping policy.ErrAuditWrite.
func (c *Client) Evaluate(ctx context.Context, tool string, args json.RawMessage, quality *float64) (model.Decision, error) {
	var resp pb.EvaluateResponse
	err := c.invoke(ctx, pb.MethodEvaluate, pb.EvaluateRequest{Tool: tool, Args: args, Quality: quality}, &resp)
	if err != nil {
		return model.Decision{
			Verdict:   model.Deny,
			Tool:      tool,
			Tier:      model.TierUnknown,
			Stage:     model.StageAuditFailure,
			Reason:    fmt.Sprintf("policy server unreachable: %v", err),
			DecidedAt: time.Now().UTC(),
		}, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	if resp.AuditError != "" {
		resp.Decision.Verdict = model.Deny
		return resp.Decision, fmt.Errorf("%w: %s", policy.ErrAuditWrite, resp.AuditError)
	}
	return resp.Decision, nil
}

// ReportOutcome reports what happened after an ALLOW.
func (c *Client) ReportOutcome(ctx context.Context, decisionID string, executed bool, errText string) error {
	return c.invoke(ctx, pb.MethodReportOutcome, pb.OutcomeRequest{DecisionID: decisionID, Executed: executed, Error: errText}, nil)
}

// Status returns the server's runtime status.
func (c *Client) Status(ctx context.Context) (gatekeeper.Status, error) {
	var st gatekeeper.Status
	err := c.invoke(ctx, pb.MethodStatus, struct{}{}, &st)
	return st, err
}

// Approve grants tool for duration. Zero uses the server's default.
func (c *Client) Approve(ctx context.Context, tool string, duration time.Duration) (approval.Grant, error) {
	req := pb.ApproveRequest{Tool: tool, OTP: c.otp}
	if duration != 0 {
		req.Duration = duration.String()
	}
	var resp pb.ApproveResponse
	err := c.invoke(ctx, pb.MethodApprove, req, &resp)
	return resp.Grant, err
}

// Revoke removes any grant for tool.
func (c *Client) Revoke(ctx context.Context, tool string) (bool, error) {
	var resp pb.ChangedResponse
	err := c.invoke(ctx, pb.MethodRevoke, pb.ToolRequest{Tool: tool, OTP: c.otp}, &resp)
	return resp.Changed, err
}

// EnterSafetyMode opens the emptiness window.
func (c *Client) EnterSafetyMode(ctx context.Context, reason string) (bool, error) {
	var resp pb.ChangedResponse
	err := c.invoke(ctx, pb.MethodEnterSafetyMode, pb.ReasonRequest{Reason: reason, OTP: c.otp}, &resp)
	return resp.Changed, err
}

// ExitSafetyMode closes the emptiness window and returns the review
// packet, if calls were blocked.
func (c *Client) ExitSafetyMode(ctx context.Context) (*safety.ReviewPacket, error) {
	var resp pb.ChangedResponse
	err := c.invoke(ctx, pb.MethodExitSafetyMode, pb.ReasonRequest{OTP: c.otp}, &resp)
	return resp.Packet, err
}

// EmergencyStop blocks every tier above O0 on the server.
func (c *Client) EmergencyStop(ctx context.Context, reason string) error {
	return c.invoke(ctx, pb.MethodEmergencyStop, pb.ReasonRequest{Reason: reason, OTP: c.otp}, nil)
}

// ClearEmergency lifts the emergency stop.
func (c *Client) ClearEmergency(ctx context.Context) (bool, error) {
	var resp pb.ChangedResponse
	err := c.invoke(ctx, pb.MethodClearEmergency, pb.ReasonRequest{OTP: c.otp}, &resp)
	return resp.Changed, err
}

// SetTier overrides the tier of tool.
func (c *Client) SetTier(ctx context.Context, tool string, tier model.RiskTier) error {
	return c.invoke(ctx, pb.MethodSetTier, pb.SetTierRequest{Tool: tool, Tier: tier, OTP: c.otp}, nil)
}

// Tiers returns the server's operator tier overrides.
func (c *Client) Tiers(ctx context.Context) (map[string]model.RiskTier, error) {
	var resp pb.TiersResponse
	err := c.invoke(ctx, pb.MethodListTiers, struct{}{}, &resp)
	return resp.Tiers, err
}

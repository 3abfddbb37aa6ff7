// Package server exposes a gatekeeper over gRPC.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/pquerna/otp/totp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	pb "github.com/ppiankov/toolgate/api/toolgate/v1"
	"github.com/ppiankov/toolgate/internal/approval"
	"github.com/ppiankov/toolgate/internal/audit"
	"github.com/ppiankov/toolgate/internal/gatekeeper"
	"github.com/ppiankov/toolgate/internal/policy"
)

// Config holds gRPC server configuration.
type Config struct {
	Addr string
	// TOTPSecret, when set, is required (as a current code) on every
	// operator RPC.
	TOTPSecret string
	Logger     *slog.Logger
}

// Server implements the ToolGate gRPC service on top of a gatekeeper.
type Server struct {
	gk         *gatekeeper.Gatekeeper
	cfg        Config
	logger     *slog.Logger
	grpcServer *grpc.Server
}

// New creates a gRPC server for gk. The caller owns gk and closes it.
func New(gk *gatekeeper.Gatekeeper, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		gk:         gk,
		cfg:        cfg,
		logger:     logger,
		grpcServer: grpc.NewServer(),
	}
	pb.RegisterToolGateServer(s.grpcServer, s)
	return s
}

// Serve starts the gRPC server on the configured address. Blocks until stopped.
func (s *Server) Serve() error {
	lis, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.ServeOn(lis)
}

// ServeOn starts the gRPC server on the given listener.
func (s *Server) ServeOn(lis net.Listener) error {
	s.logger.Info("grpc server listening", "addr", lis.Addr().String(), "operator_otp", s.cfg.TOTPSecret != "")
	return s.grpcServer.Serve(lis)
}

// GracefulStop gracefully shuts down the gRPC server.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}

// ReloadPolicy re-reads the policy file. Called by the hot-reloader.
func (s *Server) ReloadPolicy() error {
	return s.gk.Reload()
}

// authorize checks the operator one-time code.
func (s *Server) authorize(code, method string) error {
	if s.cfg.TOTPSecret == "" {
		return nil
	}
	if code == "" || !totp.Validate(code, s.cfg.TOTPSecret) {
		s.logger.Warn("operator call rejected", "method", method)
		return status.Error(codes.Unauthenticated, "valid operator OTP required")
	}
	return nil
}

func decode(in *structpb.Struct, v any) error {
	if err := pb.Decode(in, v); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return nil
}

func encode(v any) (*structpb.Struct, error) {
	out, err := pb.Encode(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// toStatus maps domain errors onto gRPC codes.
func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gatekeeper.ErrPersist):
		return status.Error(codes.DataLoss, err.Error())
	case errors.Is(err, approval.ErrInvalidDuration):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, audit.ErrUnknownDecision):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, audit.ErrNotAllowed), errors.Is(err, audit.ErrAlreadyResolved):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, policy.ErrAuditWrite):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.InvalidArgument, err.Error())
	}
}

// Evaluate implements the Evaluate RPC.
func (s *Server) Evaluate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req pb.EvaluateRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}

	d, err := s.gk.Evaluate(ctx, policy.Request{Tool: req.Tool, Args: req.Args, Quality: req.Quality})
	resp := pb.EvaluateResponse{Decision: d}
	if err != nil {
		resp.AuditError = err.Error()
	}
	return encode(resp)
}

// ReportOutcome implements the ReportOutcome RPC.
func (s *Server) ReportOutcome(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req pb.OutcomeRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := s.gk.ReportOutcome(req.DecisionID, req.Executed, req.Error); err != nil {
		return nil, toStatus(err)
	}
	return encode(pb.Ack{OK: true})
}

// Status implements the Status RPC.
func (s *Server) Status(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return encode(s.gk.Status())
}

// Approve implements the Approve RPC.
func (s *Server) Approve(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req pb.ApproveRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := s.authorize(req.OTP, pb.MethodApprove); err != nil {
		return nil, err
	}

	var duration time.Duration
	if req.Duration != "" {
		var err error
		duration, err = time.ParseDuration(req.Duration)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid duration %q: %v", req.Duration, err)
		}
		if duration <= 0 {
			return nil, toStatus(approval.ErrInvalidDuration)
		}
	}

	g, err := s.gk.GrantApproval(req.Tool, duration)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(pb.ApproveResponse{Grant: g})
}

// Revoke implements the Revoke RPC.
func (s *Server) Revoke(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req pb.ToolRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := s.authorize(req.OTP, pb.MethodRevoke); err != nil {
		return nil, err
	}
	had, err := s.gk.RevokeApproval(req.Tool)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(pb.ChangedResponse{Changed: had})
}

// EnterSafetyMode implements the EnterSafetyMode RPC.
func (s *Server) EnterSafetyMode(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req pb.ReasonRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := s.authorize(req.OTP, pb.MethodEnterSafetyMode); err != nil {
		return nil, err
	}
	entered, err := s.gk.EnterSafetyMode(req.Reason)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(pb.ChangedResponse{Changed: entered})
}

// ExitSafetyMode implements the ExitSafetyMode RPC.
func (s *Server) ExitSafetyMode(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req pb.ReasonRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := s.authorize(req.OTP, pb.MethodExitSafetyMode); err != nil {
		return nil, err
	}
	packet, err := s.gk.ExitSafetyMode()
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(pb.ChangedResponse{Changed: true, Packet: packet})
}

// EmergencyStop implements the EmergencyStop RPC.
func (s *Server) EmergencyStop(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req pb.ReasonRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := s.authorize(req.OTP, pb.MethodEmergencyStop); err != nil {
		return nil, err
	}
	if err := s.gk.EmergencyStop(req.Reason); err != nil {
		return nil, toStatus(err)
	}
	return encode(pb.ChangedResponse{Changed: true})
}

// ClearEmergency implements the ClearEmergency RPC.
func (s *Server) ClearEmergency(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req pb.ReasonRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := s.authorize(req.OTP, pb.MethodClearEmergency); err != nil {
		return nil, err
	}
	cleared, err := s.gk.ClearEmergency()
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(pb.ChangedResponse{Changed: cleared})
}

// SetTier implements the SetTier RPC.
func (s *Server) SetTier(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req pb.SetTierRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := s.authorize(req.OTP, pb.MethodSetTier); err != nil {
		return nil, err
	}
	if err := s.gk.SetTier(req.Tool, req.Tier); err != nil {
		return nil, toStatus(err)
	}
	return encode(pb.Ack{OK: true})
}

// ListTiers implements the ListTiers RPC. Only operator overrides are
// returned; policy file tiers are visible in the policy itself.
func (s *Server) ListTiers(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return encode(pb.TiersResponse{Tiers: s.gk.Overrides()})
}

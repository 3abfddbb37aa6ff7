// Package toolgatev1 defines the toolgate.v1.ToolGate gRPC service.
// Every RPC carries a google.protobuf.Struct whose fields follow the JSON
// shape of the message types in this package.
package toolgatev1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "toolgate.v1.ToolGate"

// RPC method names.
const (
	MethodEvaluate        = "Evaluate"
	MethodReportOutcome   = "ReportOutcome"
	MethodStatus          = "Status"
	MethodApprove         = "Approve"
	MethodRevoke          = "Revoke"
	MethodEnterSafetyMode = "EnterSafetyMode"
	MethodExitSafetyMode  = "ExitSafetyMode"
	MethodEmergencyStop   = "EmergencyStop"
	MethodClearEmergency  = "ClearEmergency"
	MethodSetTier         = "SetTier"
	MethodListTiers       = "ListTiers"
)

// FullMethod returns "/toolgate.v1.ToolGate/<method>".
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// ToolGateServer is the server API for the ToolGate service.
type ToolGateServer interface {
	Evaluate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReportOutcome(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Status(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Approve(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Revoke(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EnterSafetyMode(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ExitSafetyMode(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EmergencyStop(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ClearEmergency(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetTier(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListTiers(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryFunc func(ToolGateServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryFunc) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ToolGateServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ToolGateServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc is the grpc.ServiceDesc for the ToolGate service. There is
// no .proto source, so Metadata is left empty.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ToolGateServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodEvaluate, ToolGateServer.Evaluate),
		unary(MethodReportOutcome, ToolGateServer.ReportOutcome),
		unary(MethodStatus, ToolGateServer.Status),
		unary(MethodApprove, ToolGateServer.Approve),
		unary(MethodRevoke, ToolGateServer.Revoke),
		unary(MethodEnterSafetyMode, ToolGateServer.EnterSafetyMode),
		unary(MethodExitSafetyMode, ToolGateServer.ExitSafetyMode),
		unary(MethodEmergencyStop, ToolGateServer.EmergencyStop),
		unary(MethodClearEmergency, ToolGateServer.ClearEmergency),
		unary(MethodSetTier, ToolGateServer.SetTier),
		unary(MethodListTiers, ToolGateServer.ListTiers),
	},
	Streams: []grpc.StreamDesc{},
}

// RegisterToolGateServer registers srv with s.
func RegisterToolGateServer(s grpc.ServiceRegistrar, srv ToolGateServer) {
	s.RegisterService(&ServiceDesc, srv)
}

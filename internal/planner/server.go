package planner

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Server is implemented by a planner service. The planner itself lives
// outside this module; the descriptor is kept here so tests and local
// tooling can stand one up against the same wire contract.
type Server interface {
	PreviewRollbackPlan(context.Context, *PreviewRollbackPlanRequest) (*PreviewRollbackPlanResponse, error)
	ExecuteRemediationPlan(context.Context, *ExecuteRemediationPlanRequest) (*ExecuteRemediationPlanResponse, error)
}

// RegisterServer registers a planner implementation on registrar.
func RegisterServer(registrar grpc.ServiceRegistrar, srv Server) {
	EnsureJSONCodec()
	registrar.RegisterService(&serviceDesc, srv)
}

// Authorize checks the caller's token metadata. An empty want disables the check.
func Authorize(ctx context.Context, want string) error {
	if want == "" {
		return nil
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if ok {
		if v := md.Get(TokenMetadataKey); len(v) > 0 && v[0] == want {
			return nil
		}
	}
	return status.Error(codes.Unauthenticated, "unauthorized")
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "PreviewRollbackPlan", Handler: previewRollbackPlanHandler},
		{MethodName: "ExecuteRemediationPlan", Handler: executeRemediationPlanHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "remediation/v1/planner.proto",
}

func previewRollbackPlanHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(PreviewRollbackPlanRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).PreviewRollbackPlan(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodPreviewRollbackPlan}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).PreviewRollbackPlan(ctx, req.(*PreviewRollbackPlanRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func executeRemediationPlanHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ExecuteRemediationPlanRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).ExecuteRemediationPlan(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodExecuteRemediationPlan}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).ExecuteRemediationPlan(ctx, req.(*ExecuteRemediationPlanRequest))
	}
	return interceptor(ctx, in, info, handler)
}

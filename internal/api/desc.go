package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "devsv.Supervisor"

const (
	MethodStartService   = "StartService"
	MethodStopService    = "StopService"
	MethodRestartService = "RestartService"
	MethodStartAll       = "StartAll"
	MethodStopAll        = "StopAll"
	MethodRestartAll     = "RestartAll"
	MethodGetState       = "GetState"
	MethodGetStatus      = "GetStatus"
	MethodReadLogTail    = "ReadLogTail"
	MethodSubscribe      = "Subscribe"
)

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// SupervisorServer is the server side of devsv.Supervisor. Messages are
// protobuf well-known types.
type SupervisorServer interface {
	StartService(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	StopService(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	RestartService(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	StartAll(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	StopAll(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	RestartAll(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	GetState(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ReadLogTail(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
	Subscribe(*emptypb.Empty, grpc.ServerStream) error
}

// RegisterSupervisorServer registers srv on s.
func RegisterSupervisorServer(s grpc.ServiceRegistrar, srv SupervisorServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// unary adapts a typed handler to grpc.MethodDesc, honouring interceptors.
func unary[Req any](method string, newReq func() *Req, call func(SupervisorServer, context.Context, *Req) (any, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SupervisorServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(SupervisorServer), ctx, req.(*Req))
			})
		},
	}
}

func newName() *wrapperspb.StringValue { return new(wrapperspb.StringValue) }
func newEmpty() *emptypb.Empty         { return new(emptypb.Empty) }

// ServiceDesc describes devsv.Supervisor for grpc.Server.RegisterService and
// for client stream setup.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SupervisorServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodStartService, newName, func(s SupervisorServer, ctx context.Context, in *wrapperspb.StringValue) (any, error) {
			return s.StartService(ctx, in)
		}),
		unary(MethodStopService, newName, func(s SupervisorServer, ctx context.Context, in *wrapperspb.StringValue) (any, error) {
			return s.StopService(ctx, in)
		}),
		unary(MethodRestartService, newName, func(s SupervisorServer, ctx context.Context, in *wrapperspb.StringValue) (any, error) {
			return s.RestartService(ctx, in)
		}),
		unary(MethodStartAll, newEmpty, func(s SupervisorServer, ctx context.Context, in *emptypb.Empty) (any, error) {
			return s.StartAll(ctx, in)
		}),
		unary(MethodStopAll, newEmpty, func(s SupervisorServer, ctx context.Context, in *emptypb.Empty) (any, error) {
			return s.StopAll(ctx, in)
		}),
		unary(MethodRestartAll, newEmpty, func(s SupervisorServer, ctx context.Context, in *emptypb.Empty) (any, error) {
			return s.RestartAll(ctx, in)
		}),
		unary(MethodGetState, newName, func(s SupervisorServer, ctx context.Context, in *wrapperspb.StringValue) (any, error) {
			return s.GetState(ctx, in)
		}),
		unary(MethodGetStatus, newEmpty, func(s SupervisorServer, ctx context.Context, in *emptypb.Empty) (any, error) {
			return s.GetStatus(ctx, in)
		}),
		unary(MethodReadLogTail, newName, func(s SupervisorServer, ctx context.Context, in *wrapperspb.StringValue) (any, error) {
			return s.ReadLogTail(ctx, in)
		}),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    MethodSubscribe,
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(emptypb.Empty)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(SupervisorServer).Subscribe(in, stream)
			},
		},
	},
}

// Package api exposes the supervisor over gRPC and provides the matching
// client used by devsvctl.
package api

import (
	"context"
	"errors"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/kolkov/devsv/internal/logtail"
	"github.com/kolkov/devsv/internal/registry"
	"github.com/kolkov/devsv/internal/service"
	"github.com/kolkov/devsv/internal/supervisor"
)

type Server struct {
	sv  service.SupervisorService
	log *zap.SugaredLogger

	done     chan struct{}
	doneOnce sync.Once
}

var _ SupervisorServer = (*Server)(nil)

func NewServer(sv service.SupervisorService, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Server{sv: sv, log: log, done: make(chan struct{})}
}

// Shutdown ends every open Subscribe stream.
func (s *Server) Shutdown() {
	s.doneOnce.Do(func() { close(s.done) })
}

func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, registry.ErrUnknownService):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, logtail.ErrLogNotFound):
		return status.Error(codes.NotFound, "Log file not found.")
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// known rejects names the supervisor does not manage.
func (s *Server) known(name string) error {
	_, err := s.sv.GetState(name)
	return toStatus(err)
}

func (s *Server) StartService(_ context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if err := s.known(req.GetValue()); err != nil {
		return nil, err
	}
	s.sv.StartService(req.GetValue())
	return &emptypb.Empty{}, nil
}

func (s *Server) StopService(_ context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if err := s.known(req.GetValue()); err != nil {
		return nil, err
	}
	s.sv.StopService(req.GetValue())
	return &emptypb.Empty{}, nil
}

func (s *Server) RestartService(_ context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if err := s.known(req.GetValue()); err != nil {
		return nil, err
	}
	s.sv.RestartService(req.GetValue())
	return &emptypb.Empty{}, nil
}

func (s *Server) StartAll(context.Context, *emptypb.Empty) (*emptypb.Empty, error) {
	s.sv.StartAll()
	return &emptypb.Empty{}, nil
}

func (s *Server) StopAll(context.Context, *emptypb.Empty) (*emptypb.Empty, error) {
	s.sv.StopAll()
	return &emptypb.Empty{}, nil
}

func (s *Server) RestartAll(context.Context, *emptypb.Empty) (*emptypb.Empty, error) {
	s.sv.RestartAll()
	return &emptypb.Empty{}, nil
}

func (s *Server) GetState(_ context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	st, err := s.sv.GetState(req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.String(string(st)), nil
}

func (s *Server) GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	resp, err := statusToStruct(s.sv.Status())
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return resp, nil
}

func (s *Server) ReadLogTail(_ context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	content, err := s.sv.ReadLogTail(req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.String(content), nil
}

// Subscribe streams status events until the client goes away or the server
// shuts down.
func (s *Server) Subscribe(_ *emptypb.Empty, stream grpc.ServerStream) error {
	ctx := stream.Context()
	events := make(chan supervisor.StatusEvent)

	sub := s.sv.Subscribe(func(ev supervisor.StatusEvent) {
		select {
		case events <- ev:
		case <-ctx.Done():
		case <-s.done:
		}
	})
	defer sub.Unsubscribe()
	s.log.Debugf("Subscriber %s attached", sub.ID)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		case ev := <-events:
			if err := stream.SendMsg(eventToStruct(ev)); err != nil {
				return err
			}
		}
	}
}

func recoveryInterceptor(log *zap.SugaredLogger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Errorw("gRPC panic recovered", "method", info.FullMethod, "panic", r, "stack", string(debug.Stack()))
				err = status.Errorf(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}

func loggingInterceptor(log *zap.SugaredLogger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		log.Debugw("gRPC request",
			"method", info.FullMethod,
			"status", status.Code(err).String(),
			"duration", time.Since(start),
		)
		return resp, err
	}
}

func streamRecoveryInterceptor(log *zap.SugaredLogger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Errorw("gRPC stream panic recovered", "method", info.FullMethod, "panic", r, "stack", string(debug.Stack()))
				err = status.Errorf(codes.Internal, "internal server error")
			}
		}()
		return handler(srv, ss)
	}
}

// NewGRPCServer builds a grpc.Server with the devsv service registered.
func NewGRPCServer(srv *Server, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(recoveryInterceptor(srv.log), loggingInterceptor(srv.log)),
		grpc.ChainStreamInterceptor(streamRecoveryInterceptor(srv.log)),
	}, opts...)
	gs := grpc.NewServer(opts...)
	RegisterSupervisorServer(gs, srv)
	return gs
}

// Serve runs the control API on lis until ctx is done.
func Serve(ctx context.Context, lis net.Listener, sv service.SupervisorService, log *zap.SugaredLogger) error {
	srv := NewServer(sv, log)
	gs := NewGRPCServer(srv)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		srv.Shutdown()

		done := make(chan struct{})
		go func() {
			gs.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			gs.Stop()
		}
	}()

	srv.log.Infof("gRPC server listening on %s", lis.Addr())
	if err := gs.Serve(lis); err != nil {
		return err
	}
	<-stopped
	return nil
}

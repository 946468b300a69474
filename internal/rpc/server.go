package rpc

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/dreamware/flashsync/internal/cluster"
)

// Server hosts the Sync service and the standard gRPC health service.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger *zap.Logger
}

// NewServer creates a gRPC server dispatching Sync calls to d.
// Errors returned by d are translated with Code.
func NewServer(d SyncServer, logger *zap.Logger, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(unaryLogger(logger))}, opts...)

	s := &Server{
		grpc:   grpc.NewServer(opts...),
		health: health.NewServer(),
		logger: logger,
	}
	RegisterSyncServer(s.grpc, service{d: d})
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

// Serve accepts connections on lis until the server stops.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("gRPC server started", zap.String("addr", lis.Addr().String()))
	return s.grpc.Serve(lis)
}

// GracefulStop marks the service as not serving and waits for pending calls.
// Blocked rendezvous calls keep the server alive until they complete or their
// callers give up; use Stop to cut them off.
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
	s.logger.Info("gRPC server exited")
}

// Stop closes all connections immediately.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.Stop()
	s.logger.Info("gRPC server exited")
}

// service translates dispatcher errors into status errors.
type service struct {
	d SyncServer
}

func (s service) Barrier(ctx context.Context, req *cluster.BarrierRequest) (*cluster.BarrierResponse, error) {
	resp, err := s.d.Barrier(ctx, req)
	return resp, toStatus(err)
}

func (s service) Broadcast(ctx context.Context, req *cluster.BroadcastRequest) (*cluster.BroadcastResponse, error) {
	resp, err := s.d.Broadcast(ctx, req)
	return resp, toStatus(err)
}

func (s service) Exchange(ctx context.Context, req *cluster.ExchangeRequest) (*cluster.ExchangeResponse, error) {
	resp, err := s.d.Exchange(ctx, req)
	return resp, toStatus(err)
}

func unaryLogger(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("rpc served",
			zap.String("method", info.FullMethod),
			zap.Duration("latency", time.Since(start)),
			zap.Stringer("code", status.Code(err)))
		return resp, err
	}
}

package grpcapi

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// Server runs the Capabilities and health services under the
// controller-runtime manager.
type Server struct {
	Addr    string
	Service CapabilitiesServer
	Options []grpc.ServerOption
}

// NewGRPCServer builds a grpc.Server with the Capabilities and health
// services registered. The returned health server reports SERVING.
func NewGRPCServer(svc CapabilitiesServer, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(opts...)
	Register(srv, svc)

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthSrv.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, healthSrv)
	return srv, healthSrv
}

// Start implements manager.Runnable.
func (s *Server) Start(ctx context.Context) error {
	logger := log.FromContext(ctx).WithValues("server", "grpc", "addr", s.Addr)

	lis, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.Addr, err)
	}
	srv, healthSrv := NewGRPCServer(s.Service, s.Options...)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving capabilities")
		errCh <- srv.Serve(lis)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	healthSrv.Shutdown()
	srv.GracefulStop()
	return nil
}

// NeedLeaderElection reports that every replica serves requests.
func (s *Server) NeedLeaderElection() bool {
	return false
}

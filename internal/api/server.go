package api

import (
	"context"
	"fmt"
	"net"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// GRPCServer exposes the correlator's alert and feedback intake over gRPC,
// next to the standard health and reflection services.
type GRPCServer struct {
	srv      *grpc.Server
	health   *health.Server
	listener net.Listener
}

// NewGRPCServer listens on address and registers service.
func NewGRPCServer(address string, service CorrelatorServer, opts ...grpc.ServerOption) (*GRPCServer, error) {
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", address, err)
	}
	return newGRPCServer(lis, service, opts...), nil
}

func newGRPCServer(lis net.Listener, service CorrelatorServer, opts ...grpc.ServerOption) *GRPCServer {
	grpc_prometheus.EnableHandlingTimeHistogram()
	srv := grpc.NewServer(append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(grpc_prometheus.UnaryServerInterceptor),
		grpc.ChainStreamInterceptor(grpc_prometheus.StreamServerInterceptor),
	}, opts...)...)

	RegisterCorrelatorServer(srv, service)
	grpc_prometheus.Register(srv)

	hs := health.NewServer()
	for _, name := range []string{"", CorrelatorServiceName} {
		hs.SetServingStatus(name, healthpb.HealthCheckResponse_SERVING)
	}
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	return &GRPCServer{srv: srv, health: hs, listener: lis}
}

// Serve blocks accepting webhook and feedback calls until Shutdown.
func (s *GRPCServer) Serve() error {
	if s.srv == nil || s.listener == nil {
		return fmt.Errorf("gRPC server not initialised")
	}
	return s.srv.Serve(s.listener)
}

// Shutdown reports NOT_SERVING to health checks so senders back off, then
// lets in-flight ingests finish. Pending calls are cut when ctx ends.
func (s *GRPCServer) Shutdown(ctx context.Context) {
	if s.srv == nil {
		return
	}
	s.health.Shutdown()

	drained := make(chan struct{})
	go func() {
		s.srv.GracefulStop()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		s.srv.Stop()
	}
}

// Addr is the listening address, resolved when the port was 0.
func (s *GRPCServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Package grpcapi exposes the service over gRPC: a standard health service
// plus interceptors that authenticate callers with access tokens.
package grpcapi

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"beacon.org/internal/obs"
)

const serviceName = "beacon.auth"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Server wraps a grpc.Server with health reporting.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	ready  readinessChecker
}

// New builds a server whose non-health methods require a valid access token
// resolved through resolver.
func New(resolver IdentityResolver, ready readinessChecker, opts ...grpc.ServerOption) *Server {
	opts = append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(UnaryAuthInterceptor(resolver)),
		grpc.ChainStreamInterceptor(StreamAuthInterceptor(resolver)),
	}, opts...)
	s := &Server{
		grpc:   grpc.NewServer(opts...),
		health: health.NewServer(),
		ready:  ready,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// GRPC returns the underlying server so other services can register on it.
func (s *Server) GRPC() *grpc.Server { return s.grpc }

// Serve blocks serving lis.
func (s *Server) Serve(lis net.Listener) error { return s.grpc.Serve(lis) }

// GracefulStop drains in-flight calls and stops the server.
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// RefreshHealth runs the readiness check once and publishes the result for
// both the overall server and the named service.
func (s *Server) RefreshHealth(ctx context.Context) bool {
	status := healthpb.HealthCheckResponse_SERVING
	ok := true
	if s.ready != nil {
		if err := s.ready.Check(ctx); err != nil {
			obs.Warn("grpc readiness check failed", map[string]any{"error": err.Error()})
			status = healthpb.HealthCheckResponse_NOT_SERVING
			ok = false
		}
	}
	obs.SetReady(ok)
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(serviceName, status)
	return ok
}

// WatchHealth refreshes health every interval until ctx is done.
func (s *Server) WatchHealth(ctx context.Context, interval time.Duration) {
	check := func() {
		cctx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()
		s.RefreshHealth(cctx)
	}
	check()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}

// Package server provides the gRPC server of the research agent service.
//
// The gRPC surface exposes the standard health service, which tracks
// database reachability, and server reflection for debugging.
package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/helixir/research-agent-service/internal/database"
)

// ServiceName is the health service name reported for the research API.
const ServiceName = "research.v1.ResearchService"

// DefaultHealthInterval is how often database health is re-evaluated.
const DefaultHealthInterval = 10 * time.Second

// HealthChecker reports database health. *database.DB satisfies it.
type HealthChecker interface {
	Health(ctx context.Context) database.HealthStatus
}

// GRPCServer wraps a grpc.Server carrying the health service.
type GRPCServer struct {
	server   *grpc.Server
	health   *health.Server
	checker  HealthChecker
	interval time.Duration
	logger   zerolog.Logger
}

// NewGRPCServer creates a gRPC server with keepalive, size limits and a
// logging interceptor.
func NewGRPCServer(checker HealthChecker, logger zerolog.Logger) *GRPCServer {
	logger = logger.With().Str("component", "grpc-server").Logger()

	srv := grpc.NewServer(
		grpc.MaxRecvMsgSize(4*1024*1024), // 4MB
		grpc.MaxSendMsgSize(4*1024*1024), // 4MB
		grpc.MaxConcurrentStreams(100),
		grpc.ChainUnaryInterceptor(loggingUnaryInterceptor(logger)),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     15 * time.Minute,
			MaxConnectionAge:      30 * time.Minute,
			MaxConnectionAgeGrace: 5 * time.Minute,
			Time:                  5 * time.Minute,
			Timeout:               1 * time.Minute,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Minute,
			PermitWithoutStream: true,
		}),
	)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(srv, healthServer)
	reflection.Register(srv)

	return &GRPCServer{
		server:   srv,
		health:   healthServer,
		checker:  checker,
		interval: DefaultHealthInterval,
		logger:   logger,
	}
}

// Serve accepts connections on addr until Stop is called.
func (s *GRPCServer) Serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on gRPC address: %w", err)
	}
	s.logger.Info().Str("address", addr).Msg("gRPC server starting")
	return s.server.Serve(ln)
}

// WatchHealth refreshes serving status from the database every interval
// until ctx is done, then marks the service not serving.
func (s *GRPCServer) WatchHealth(ctx context.Context) {
	s.refresh(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

// refresh sets the serving status of the overall server and ServiceName.
func (s *GRPCServer) refresh(ctx context.Context) {
	serving := healthpb.HealthCheckResponse_SERVING
	if h := s.checker.Health(ctx); h.Status != "healthy" {
		serving = healthpb.HealthCheckResponse_NOT_SERVING
		s.logger.Warn().Str("database", h.Status).Str("error", h.Error).Msg("reporting not serving")
	}
	s.health.SetServingStatus("", serving)
	s.health.SetServingStatus(ServiceName, serving)
}

// Stop gracefully stops the server, forcing it closed when ctx expires first.
func (s *GRPCServer) Stop(ctx context.Context) {
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		s.logger.Info().Msg("gRPC server stopped gracefully")
	case <-ctx.Done():
		s.logger.Warn().Msg("gRPC server forced shutdown due to timeout")
		s.server.Stop()
	}
}

// loggingUnaryInterceptor logs each unary call with its status code.
func loggingUnaryInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug().
			Str("method", info.FullMethod).
			Str("code", status.Code(err).String()).
			Dur("duration", time.Since(start)).
			Msg("grpc request")
		return resp, err
	}
}

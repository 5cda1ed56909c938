package httpapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"admincore.org/internal/obs"
)

const serviceName = "admincore-api"

// GRPCServer exposes the standard grpc.health.v1 service so orchestrators
// can probe readiness over gRPC without a bespoke protocol.
type GRPCServer struct {
	healthpb.UnimplementedHealthServer

	readiness readinessChecker
	version   string
}

// NewGRPCServer creates the gRPC health wrapper.
func NewGRPCServer(r readinessChecker, version string) *GRPCServer {
	return &GRPCServer{
		readiness: r,
		version:   version,
	}
}

// Register attaches the health service to srv.
func (s *GRPCServer) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, s)
}

// Check evaluates readiness. Any service name maps to the same probe.
func (s *GRPCServer) Check(ctx context.Context, _ *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if err := s.readiness.Check(ctx); err != nil {
		obs.SetReady(false)
		return &healthpb.HealthCheckResponse{
			Status: healthpb.HealthCheckResponse_NOT_SERVING,
		}, nil
	}
	obs.SetReady(true)
	return &healthpb.HealthCheckResponse{
		Status: healthpb.HealthCheckResponse_SERVING,
	}, nil
}

// Watch is not supported; probes should poll Check.
func (s *GRPCServer) Watch(_ *healthpb.HealthCheckRequest, _ healthpb.Health_WatchServer) error {
	return status.Error(codes.Unimplemented, "health watch is not supported")
}

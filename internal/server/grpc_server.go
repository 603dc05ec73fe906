package server

import (
	"net"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// IngestService is the service name reported by the health endpoint
const IngestService = "gosight.engagement.Ingest"

// GRPCServer exposes the ingestor's health over gRPC for load balancers and
// orchestrators
type GRPCServer struct {
	srv    *grpc.Server
	health *health.Server
}

func NewGRPCServer(opts ...grpc.ServerOption) *GRPCServer {
	s := &GRPCServer{
		srv:    grpc.NewServer(opts...),
		health: health.NewServer(),
	}
	healthpb.RegisterHealthServer(s.srv, s.health)
	s.SetServing(false)
	return s
}

// SetServing flips the overall and ingest service status
func (s *GRPCServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(IngestService, status)
}

func (s *GRPCServer) Serve(lis net.Listener) error {
	log.Info().Str("addr", lis.Addr().String()).Msg("Starting gRPC server")
	return s.srv.Serve(lis)
}

// GracefulStop reports NOT_SERVING to watchers before draining connections
func (s *GRPCServer) GracefulStop() {
	s.health.Shutdown()
	s.srv.GracefulStop()
}

package server

import (
	"log"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/becomeliminal/yieldmind/core"
)

// CycleService is the health service name tracking the rebalance loop.
const CycleService = "yieldmind.cycle"

// HealthServer serves grpc.health.v1. CycleService reports NOT_SERVING while the
// most recent cycle ended in error. It implements cycle.StatusSink.
type HealthServer struct {
	grpc   *grpc.Server
	health *health.Server
}

// NewHealthServer creates a gRPC server with the health service registered.
func NewHealthServer(opts ...grpc.ServerOption) *HealthServer {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(CycleService, healthpb.HealthCheckResponse_SERVING)

	srv := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(srv, hs)
	return &HealthServer{grpc: srv, health: hs}
}

// Publish updates CycleService from a terminal snapshot.
func (h *HealthServer) Publish(status core.CycleStatus) {
	if !status.Phase.Terminal() {
		return
	}
	serving := healthpb.HealthCheckResponse_SERVING
	if status.Phase == core.PhaseErrored {
		serving = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.health.SetServingStatus(CycleService, serving)
}

// Serve blocks serving on lis.
func (h *HealthServer) Serve(lis net.Listener) error {
	log.Printf("[GRPC] Health service listening on %s", lis.Addr())
	return h.grpc.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains connections.
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.grpc.GracefulStop()
}

package control

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/core-tools/hsu-launcher/pkg/logging"
)

// PoolStatus is the part of a running pool the health handler observes
type PoolStatus interface {
	RunningCount() int
}

// HealthHandler serves the standard gRPC health service. Every registered
// service name reports SERVING while at least one worker is running.
type HealthHandler struct {
	server   *health.Server
	pool     PoolStatus
	services []string
	serving  bool
	logger   logging.Logger
}

func RegisterGRPCServerHandler(grpcServerRegistrar grpc.ServiceRegistrar, pool PoolStatus, services []string, logger logging.Logger) *HealthHandler {
	h := &HealthHandler{
		server:   health.NewServer(),
		pool:     pool,
		services: append([]string{""}, services...),
		logger:   logger,
	}
	for _, service := range h.services {
		h.server.SetServingStatus(service, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	healthpb.RegisterHealthServer(grpcServerRegistrar, h.server)
	return h
}

// Update recomputes the health of every service from the pool
func (h *HealthHandler) Update() {
	running := h.pool.RunningCount()
	serving := running > 0
	if serving == h.serving {
		return
	}
	h.serving = serving

	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	for _, service := range h.services {
		h.server.SetServingStatus(service, status)
	}
	h.logger.Infof("Health status changed, status: %s, running workers: %d", status, running)
}

// Shutdown reports NOT_SERVING for every service and ignores later updates
func (h *HealthHandler) Shutdown() {
	h.server.Shutdown()
	h.logger.Debugf("Health handler shut down")
}

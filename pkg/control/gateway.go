package control

import (
	"context"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/core-tools/hsu-launcher/pkg/domain"
	"github.com/core-tools/hsu-launcher/pkg/logging"
)

func NewGRPCClientGateway(grpcClientConnection grpc.ClientConnInterface, logger logging.Logger) domain.Contract {
	return &grpcClientGateway{
		grpcClient: healthpb.NewHealthClient(grpcClientConnection),
		logger:     logger,
	}
}

type grpcClientGateway struct {
	grpcClient healthpb.HealthClient
	logger     logging.Logger
}

func (gw *grpcClientGateway) Status(ctx context.Context, service string) (string, error) {
	response, err := CheckHealth(ctx, gw.grpcClient, service)
	if err != nil {
		gw.logger.Errorf("Status client gateway: %v", err)
		return "", err
	}
	gw.logger.Debugf("Status client gateway done")
	return response.GetStatus().String(), nil
}

// CheckHealth queries the health of one service
func CheckHealth(ctx context.Context, client healthpb.HealthClient, service string) (*healthpb.HealthCheckResponse, error) {
	return client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
}

package control

import (
	"context"
	"time"

	corecontrol "github.com/core-tools/hsu-core/pkg/control"
	coredomain "github.com/core-tools/hsu-core/pkg/domain"
	corelogging "github.com/core-tools/hsu-core/pkg/logging"

	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/logging"
)

const DefaultPollInterval = time.Second

type ServerOptions struct {
	Port         int
	Services     []string      // Health service names besides ""
	PollInterval time.Duration // How often health follows the pool
	ShutdownWait time.Duration
}

// Server is the launcher control endpoint: the core ping service plus gRPC health
type Server struct {
	options ServerOptions
	server  corecontrol.Server
	health  *HealthHandler
	logger  logging.Logger
}

func NewServer(options ServerOptions, pool PoolStatus, coreLogger corelogging.Logger, logger logging.Logger) (*Server, error) {
	if pool == nil {
		return nil, errors.NewValidationError("pool status source is required", nil)
	}
	if options.PollInterval <= 0 {
		options.PollInterval = DefaultPollInterval
	}
	if options.ShutdownWait <= 0 {
		options.ShutdownWait = 5 * time.Second
	}

	server, err := corecontrol.NewServer(corecontrol.ServerOptions{Port: options.Port}, coreLogger)
	if err != nil {
		return nil, errors.NewInternalError("failed to create server", err).WithContext("port", options.Port)
	}

	coreHandler := coredomain.NewDefaultHandler(coreLogger)
	corecontrol.RegisterGRPCServerHandler(server.GRPC(), coreHandler, coreLogger)

	health := RegisterGRPCServerHandler(server.GRPC(), pool, options.Services, logger)

	return &Server{
		options: options,
		server:  server,
		health:  health,
		logger:  logger,
	}, nil
}

// Run serves until ctx is done, keeping health in step with the pool
func (s *Server) Run(ctx context.Context) error {
	s.logger.Infof("Starting control server, port: %d, services: %v", s.options.Port, s.options.Services)
	s.server.Start(ctx)
	s.health.Update()

	ticker := time.NewTicker(s.options.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.health.Update()
		case <-ctx.Done():
			s.health.Shutdown()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), s.options.ShutdownWait)
			defer cancel()
			s.server.Shutdown(shutdownCtx)

			s.logger.Infof("Control server stopped, port: %d", s.options.Port)
			return nil
		}
	}
}

package launcher

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/logging"
)

// metricsServer exposes a registry in the Prometheus text format at /metrics
type metricsServer struct {
	listener net.Listener
	server   *http.Server
	logger   logging.Logger
}

func newMetricsServer(address string, registry *prometheus.Registry, logger logging.Logger) (*metricsServer, error) {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, errors.NewIOError("failed to listen for metrics", err).WithContext("address", address)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	return &metricsServer{
		listener: listener,
		server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}, nil
}

func (m *metricsServer) Addr() string {
	return m.listener.Addr().String()
}

// Run serves until ctx is done
func (m *metricsServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- m.server.Serve(m.listener)
	}()
	m.logger.Infof("Metrics endpoint listening, address: %s", m.Addr())

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return errors.NewIOError("metrics server failed", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.server.Shutdown(shutdownCtx); err != nil {
			m.logger.Warnf("Metrics server shutdown failed, error: %v", err)
		}
		m.logger.Infof("Metrics endpoint stopped")
		return nil
	}
}

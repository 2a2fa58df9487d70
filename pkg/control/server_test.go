package control

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	corecontrol "github.com/core-tools/hsu-core/pkg/control"
	coredomain "github.com/core-tools/hsu-core/pkg/domain"
	corelogging "github.com/core-tools/hsu-core/pkg/logging"
	"github.com/phayes/freeport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/core-tools/hsu-launcher/pkg/logging"
)

type fakePool struct {
	running atomic.Int64
}

func (p *fakePool) RunningCount() int {
	return int(p.running.Load())
}

func discard(format string, args ...interface{}) {}

func testCoreLogger() corelogging.Logger {
	return corelogging.NewLogger("test , ", corelogging.LogFuncs{
		Debugf: discard,
		Infof:  discard,
		Warnf:  discard,
		Errorf: discard,
	})
}

func TestHealthHandler_Update(t *testing.T) {
	pool := &fakePool{}
	handler := RegisterGRPCServerHandler(grpc.NewServer(), pool, []string{"engine"}, logging.Nop())

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		resp, err := handler.server.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		return resp.GetStatus()
	}

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(""))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check("engine"))

	pool.running.Store(3)
	handler.Update()
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check("engine"))

	pool.running.Store(0)
	handler.Update()
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check("engine"))

	_, err := handler.server.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "unknown"})
	assert.Error(t, err)

	pool.running.Store(1)
	handler.Shutdown()
	handler.Update()
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(""))
}

func TestNewServer_RequiresPool(t *testing.T) {
	_, err := NewServer(ServerOptions{Port: 1}, nil, testCoreLogger(), logging.Nop())
	assert.Error(t, err)
}

func TestServer_Run(t *testing.T) {
	port, err := freeport.GetFreePort()
	require.NoError(t, err)

	pool := &fakePool{}
	server, err := NewServer(ServerOptions{
		Port:         port,
		Services:     []string{"engine"},
		PollInterval: 10 * time.Millisecond,
	}, pool, testCoreLogger(), logging.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.Run(ctx)
	}()

	conn, err := grpc.NewClient(fmt.Sprintf("localhost:%d", port), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	coreGateway := corecontrol.NewGRPCClientGateway(conn, testCoreLogger())
	err = coredomain.RetryPing(ctx, coreGateway, coredomain.RetryPingOptions{
		RetryAttempts: 20,
		RetryInterval: 100 * time.Millisecond,
	}, testCoreLogger())
	require.NoError(t, err)

	gateway := NewGRPCClientGateway(conn, logging.Nop())
	statusOf := func(service string) string {
		status, err := gateway.Status(ctx, service)
		if err != nil {
			return ""
		}
		return status
	}

	assert.Equal(t, "NOT_SERVING", statusOf(""))

	pool.running.Store(2)
	require.Eventually(t, func() bool {
		return statusOf("") == "SERVING" && statusOf("engine") == "SERVING"
	}, 5*time.Second, 10*time.Millisecond)

	_, err = gateway.Status(ctx, "unknown")
	assert.Error(t, err)

	pool.running.Store(0)
	require.Eventually(t, func() bool { return statusOf("engine") == "NOT_SERVING" }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("control server did not stop")
	}
}

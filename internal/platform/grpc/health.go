package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer exposes the standard gRPC health service for one process.
type HealthServer struct {
	server *gogrpc.Server
	health *health.Server
	logf   func(string, ...any)
}

// NewHealthServer builds a gRPC server with only the health service registered.
// Services start NOT_SERVING until SetServing reports otherwise.
func NewHealthServer(logf func(string, ...any), services ...string) *HealthServer {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	server := gogrpc.NewServer(gogrpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	for _, service := range services {
		healthServer.SetServingStatus(service, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	}
	return &HealthServer{server: server, health: healthServer, logf: logf}
}

// SetServing records the serving status for a service name. The empty
// name is the overall process status.
func (s *HealthServer) SetServing(service string, serving bool) {
	if s == nil {
		return
	}
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(service, status)
}

// Serve blocks serving on listener until ctx ends, then stops gracefully.
func (s *HealthServer) Serve(ctx context.Context, listener net.Listener) error {
	if s == nil {
		return fmt.Errorf("health server is required")
	}
	if listener == nil {
		return fmt.Errorf("listener is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.server.Serve(listener)
	}()
	s.logf("gRPC health listening on %s", listener.Addr())

	select {
	case <-ctx.Done():
		s.health.Shutdown()
		s.server.GracefulStop()
		<-serveErr
		return nil
	case err := <-serveErr:
		if err == nil || errors.Is(err, gogrpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC health: %w", err)
	}
}

// WaitForHealth blocks until the gRPC health check reports SERVING or the context ends.
func WaitForHealth(ctx context.Context, conn *gogrpc.ClientConn, service string, logf func(string, ...any)) error {
	if conn == nil {
		return fmt.Errorf("gRPC connection is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	healthClient := grpc_health_v1.NewHealthClient(conn)
	delay := 200 * time.Millisecond
	for {
		callCtx, cancel := context.WithTimeout(ctx, time.Second)
		response, err := healthClient.Check(callCtx, &grpc_health_v1.HealthCheckRequest{Service: service})
		cancel()
		if err == nil && response.GetStatus() == grpc_health_v1.HealthCheckResponse_SERVING {
			return nil
		}
		if logf != nil {
			if err != nil {
				logf("waiting for gRPC health: %v", err)
			} else {
				logf("waiting for gRPC health: status %s", response.GetStatus().String())
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for gRPC health: %w", ctx.Err())
		case <-time.After(delay):
		}
		if delay < time.Second {
			delay = min(delay*2, time.Second)
		}
	}
}

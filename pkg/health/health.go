// Package health exposes the federation state over the standard gRPC
// health protocol.
package health

import (
	"context"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service reported for whole-home recording.
const ServiceName = "whpvr"

type Reporter struct {
	address string
	logger  *zap.Logger
	server  *grpchealth.Server

	mu       sync.Mutex
	enabled  bool
	peers    int
	listener net.Listener
}

func NewReporter(address string, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reporter{
		address: address,
		logger:  logger,
		server:  grpchealth.NewServer(),
	}
	r.server.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return r
}

// Update records the federation state. The service is SERVING while the
// feature is enabled.
func (r *Reporter) Update(enabled bool, peers int) {
	r.mu.Lock()
	changed := r.enabled != enabled || r.peers != peers
	r.enabled = enabled
	r.peers = peers
	r.mu.Unlock()

	status := healthpb.HealthCheckResponse_NOT_SERVING
	if enabled {
		status = healthpb.HealthCheckResponse_SERVING
	}
	r.server.SetServingStatus(ServiceName, status)

	if changed {
		r.logger.Debug("Health updated",
			zap.Bool("enabled", enabled),
			zap.Int("peers", peers),
			zap.String("status", status.String()))
	}
}

func (r *Reporter) Status(ctx context.Context) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := r.server.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.Status, nil
}

// Addr returns the bound address once Serve is listening.
func (r *Reporter) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Serve runs the gRPC health endpoint until ctx is done.
func (r *Reporter) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", r.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", r.address, err)
	}
	r.mu.Lock()
	r.listener = listener
	r.mu.Unlock()

	server := grpc.NewServer()
	healthpb.RegisterHealthServer(server, r.server)

	r.logger.Info("Health endpoint listening", zap.String("address", listener.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		r.server.Shutdown()
		server.GracefulStop()
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Check asks a running health endpoint for the whole-home recording status.
func Check(ctx context.Context, address string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.DialContext(ctx, address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.Status, nil
}

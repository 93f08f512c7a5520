package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/rs/zerolog"
	grpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// BackfillService is SERVING once every queued channel has been backfilled.
const BackfillService = "backfill"

// HealthServer exposes the standard gRPC health service.
// The process itself ("") is SERVING while the server runs.
type HealthServer struct {
	srv    *grpc.Server
	health *health.Server
	log    zerolog.Logger
}

func NewHealthServer(logger zerolog.Logger) *HealthServer {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(BackfillService, healthpb.HealthCheckResponse_NOT_SERVING)

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return &HealthServer{
		srv:    srv,
		health: hs,
		log:    logger.With().Str("component", "grpc").Logger(),
	}
}

// SetBackfillIdle reports backfill completion.
func (h *HealthServer) SetBackfillIdle(idle bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if idle {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(BackfillService, status)
}

// ListenAndServe serves on addr until ctx is cancelled.
func (h *HealthServer) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return h.Serve(ctx, lis)
}

// Serve serves on lis until ctx is cancelled.
func (h *HealthServer) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		h.Stop()
	}()
	h.log.Info().Str("addr", lis.Addr().String()).Msg("health server started")
	if err := h.srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("health server stopped: %w", err)
	}
	return nil
}

// Stop marks every service NOT_SERVING and drains open connections.
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.srv.GracefulStop()
}

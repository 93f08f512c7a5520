package client

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthClient queries a health server, used by the healthcheck subcommand.
type HealthClient struct {
	conn       *grpc.ClientConn
	client     healthpb.HealthClient
	serverAddr string
}

// NewHealthClient creates a client for serverAddr. No connection is made until the first call.
func NewHealthClient(serverAddr string, opts ...grpc.DialOption) (*HealthClient, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(serverAddr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	return &HealthClient{
		conn:       conn,
		client:     healthpb.NewHealthClient(conn),
		serverAddr: serverAddr,
	}, nil
}

// Check returns the serving status of service ("" for the whole process).
func (c *HealthClient) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := c.client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("health check of %q at %s failed: %w", service, c.serverAddr, err)
	}
	return resp.GetStatus(), nil
}

func (c *HealthClient) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

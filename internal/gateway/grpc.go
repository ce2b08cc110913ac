// ABOUTME: gRPC server exposing the standard grpc.health.v1 service
// ABOUTME: Reports SERVING from startup and NOT_SERVING once shutdown begins; /health/ready probes the store

package gateway

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// HealthServiceName is the service name reported alongside the overall ("") status
const HealthServiceName = "entitygateway.EntityGateway"

// newGRPCServer creates a gRPC server with the gateway's keepalive policy and
// registers the health service on it.
func newGRPCServer() (*grpc.Server, *health.Server) {
	server := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)
	return server, hs
}

// setServing updates the health status for both the overall and named service
func (g *Gateway) setServing(serving bool) {
	if g.healthServer == nil {
		return
	}
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	g.healthServer.SetServingStatus("", status)
	g.healthServer.SetServingStatus(HealthServiceName, status)
}

// checkStore reports whether the store answers a cheap query
func (g *Gateway) checkStore(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := g.entities.ListTypes(ctx)
	return err
}

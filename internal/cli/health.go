package cli

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"trading-sim/internal/risk"
)

// healthService is the name reported alongside the overall status.
const healthService = "trading-sim.Engine"

// newHealthServer registers the standard gRPC health service and keeps it
// NOT_SERVING while the emergency flag is set. The returned func detaches
// it from the breaker.
func newHealthServer(breaker *risk.Breaker) (*grpc.Server, *health.Server, func()) {
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	set := func(status healthpb.HealthCheckResponse_ServingStatus) {
		hs.SetServingStatus("", status)
		hs.SetServingStatus(healthService, status)
	}
	if breaker.Active() {
		set(healthpb.HealthCheckResponse_NOT_SERVING)
	} else {
		set(healthpb.HealthCheckResponse_SERVING)
	}
	offTrip := breaker.OnTrip(func(risk.Trip) { set(healthpb.HealthCheckResponse_NOT_SERVING) })
	offReset := breaker.OnReset(func() { set(healthpb.HealthCheckResponse_SERVING) })
	return gs, hs, func() {
		offTrip()
		offReset()
	}
}

package pipeline

import (
	"context"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"sentinel/internal/collector"
)

// HealthServicePrefix prefixes per-collector gRPC health service names.
const HealthServicePrefix = "sentinel.collector."

// HealthSink mirrors per-collector tick outcomes into a gRPC health server.
type HealthSink struct {
	server *health.Server
}

// NewHealthSink marks every collector SERVING until its first report.
// Params: server shared gRPC health server; names registered collectors.
// Returns: health sink.
func NewHealthSink(server *health.Server, names []string) *HealthSink {
	for _, name := range names {
		server.SetServingStatus(HealthServicePrefix+name, healthpb.HealthCheckResponse_SERVING)
	}
	server.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return &HealthSink{server: server}
}

// Consume sets NOT_SERVING for collectors that failed this tick.
func (s *HealthSink) Consume(_ context.Context, scan collector.Scan) error {
	for _, report := range scan.Reports {
		status := healthpb.HealthCheckResponse_SERVING
		if report.Err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		s.server.SetServingStatus(HealthServicePrefix+report.Name, status)
	}
	return nil
}

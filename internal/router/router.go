package router

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joshp123/gohome-irobot/internal/core"
	"github.com/joshp123/gohome-irobot/internal/server"
)

// RegisterPlugins registers plugin services and health reporting on the
// gRPC server.
func RegisterPlugins(s *grpc.Server, health core.HealthReporter, plugins []core.Plugin) {
	for _, p := range plugins {
		if g, ok := p.(core.GRPCRegistrant); ok {
			g.RegisterGRPC(s)
		}
		if h, ok := p.(core.HealthRegistrant); ok {
			h.RegisterHealth(health)
		}
		health.SetServingStatus(p.ID(), servingStatus(p.Health()))
	}
}

func servingStatus(status core.HealthStatus) healthpb.HealthCheckResponse_ServingStatus {
	if status == core.HealthError {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}

// healthReport is unhealthy only when a plugin failed outright; degraded
// plugins still serve.
func healthReport(plugins []core.Plugin) server.HealthReport {
	return func() (map[string]string, bool) {
		components := make(map[string]string, len(plugins))
		ok := true
		for _, p := range plugins {
			status := p.Health()
			components[p.ID()] = string(status)
			if status == core.HealthError {
				ok = false
			}
		}
		return components, ok
	}
}

// HTTPMux builds the hub HTTP surface: health, metrics, dashboards, the
// plugin registry and every plugin's own routes.
func HTTPMux(plugins []core.Plugin, metrics *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /health", server.HealthHandler(healthReport(plugins)))
	mux.Handle("GET /metrics", server.MetricsHandler(metrics))
	mux.Handle("GET /dashboards/", server.DashboardsHandler(core.DashboardsMap(plugins)))
	core.NewRegistryService(plugins).RegisterHTTP(mux)

	for _, p := range plugins {
		if h, ok := p.(core.HTTPRegistrant); ok {
			h.RegisterHTTP(mux)
		}
	}
	return mux
}

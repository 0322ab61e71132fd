package core

import (
	"context"
	"net/http"

	"github.com/joshp123/gohome-irobot/internal/host"
	"github.com/joshp123/gohome-irobot/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthStatus represents plugin health states for registry reporting.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "HEALTHY"
	HealthDegraded HealthStatus = "DEGRADED"
	HealthError    HealthStatus = "ERROR"
)

// Dashboard is a Grafana dashboard asset embedded by the plugin.
type Dashboard struct {
	Name string
	JSON []byte
}

// Manifest describes a plugin for discovery and registry metadata.
type Manifest struct {
	PluginID    string
	DisplayName string
	Version     string
	Services    []string
}

// Plugin is the compile-time contract for all GoHome plugins.
type Plugin interface {
	ID() string
	Manifest() Manifest
	AgentsMD() string
	Dashboards() []Dashboard
	Collectors() []prometheus.Collector
	Health() HealthStatus
	HealthMessage() string
}

// Deps are the shared hub services handed to plugin factories.
type Deps struct {
	Logger *zap.Logger
	Store  store.Store
	Hub    *host.Hub
}

// Runner is implemented by plugins with background work.
type Runner interface {
	Start(ctx context.Context) error
	Close() error
}

// HTTPRegistrant allows plugins to expose HTTP handlers.
type HTTPRegistrant interface {
	RegisterHTTP(*http.ServeMux)
}

// GRPCRegistrant allows plugins to register gRPC services.
type GRPCRegistrant interface {
	RegisterGRPC(*grpc.Server)
}

// HealthReporter is the serving-status sink of the standard gRPC health
// service.
type HealthReporter interface {
	SetServingStatus(service string, status healthpb.HealthCheckResponse_ServingStatus)
}

// HealthRegistrant allows plugins to publish per-service health.
type HealthRegistrant interface {
	RegisterHealth(HealthReporter)
}

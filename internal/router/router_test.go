package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joshp123/gohome-irobot/internal/core"
)

type stubPlugin struct {
	id     string
	health core.HealthStatus
	routes bool
	sink   core.HealthReporter
}

func (s *stubPlugin) ID() string { return s.id }
func (s *stubPlugin) Manifest() core.Manifest {
	return core.Manifest{PluginID: s.id, DisplayName: s.id, Version: "0.1.0"}
}
func (s *stubPlugin) AgentsMD() string { return "" }
func (s *stubPlugin) Dashboards() []core.Dashboard {
	return []core.Dashboard{{Name: "overview", JSON: []byte("{}")}}
}
func (s *stubPlugin) Collectors() []prometheus.Collector { return nil }
func (s *stubPlugin) Health() core.HealthStatus          { return s.health }
func (s *stubPlugin) HealthMessage() string              { return "" }

func (s *stubPlugin) RegisterHTTP(mux *http.ServeMux) {
	mux.HandleFunc("GET /"+s.id+"/ping", func(w http.ResponseWriter, _ *http.Request) {
		s.routes = true
		w.WriteHeader(http.StatusNoContent)
	})
}

func (s *stubPlugin) RegisterHealth(h core.HealthReporter) { s.sink = h }

type recordingHealth map[string]healthpb.HealthCheckResponse_ServingStatus

func (r recordingHealth) SetServingStatus(service string, status healthpb.HealthCheckResponse_ServingStatus) {
	r[service] = status
}

func TestRegisterPlugins(t *testing.T) {
	ok := &stubPlugin{id: "irobot", health: core.HealthHealthy}
	broken := &stubPlugin{id: "broken", health: core.HealthError}
	health := recordingHealth{}

	RegisterPlugins(grpc.NewServer(), health, []core.Plugin{ok, broken})

	if health["irobot"] != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("irobot status = %v", health["irobot"])
	}
	if health["broken"] != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("broken status = %v", health["broken"])
	}
	if ok.sink == nil {
		t.Fatalf("health sink not handed to plugin")
	}
}

func TestHTTPMux(t *testing.T) {
	p := &stubPlugin{id: "irobot", health: core.HealthHealthy}
	mux := HTTPMux([]core.Plugin{p}, prometheus.NewRegistry())

	for _, tc := range []struct {
		path string
		code int
	}{
		{"/health", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/dashboards/irobot/overview.json", http.StatusOK},
		{"/registry/plugins", http.StatusOK},
		{"/registry/plugins/irobot", http.StatusOK},
		{"/irobot/ping", http.StatusNoContent},
	} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if rec.Code != tc.code {
			t.Fatalf("%s: status %d, want %d", tc.path, rec.Code, tc.code)
		}
	}
	if !p.routes {
		t.Fatalf("plugin route not mounted")
	}
}

func TestHTTPMuxHealthReflectsPlugins(t *testing.T) {
	degraded := &stubPlugin{id: "irobot", health: core.HealthDegraded}
	broken := &stubPlugin{id: "broken", health: core.HealthError}

	rec := httptest.NewRecorder()
	HTTPMux([]core.Plugin{degraded}, prometheus.NewRegistry()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("degraded plugin should still serve, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	HTTPMux([]core.Plugin{degraded, broken}, prometheus.NewRegistry()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with a failed plugin, got %d", rec.Code)
	}
}

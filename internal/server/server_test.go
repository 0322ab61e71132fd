package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestHealthHandler(t *testing.T) {
	ok := true
	h := HealthHandler(func() (map[string]string, bool) {
		return map[string]string{"irobot": "HEALTHY"}, ok
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected response: %d %q", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"irobot":"HEALTHY"`) {
		t.Fatalf("component missing: %q", rec.Body.String())
	}

	ok = false
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestDashboardsHandler(t *testing.T) {
	h := DashboardsHandler(map[string][]byte{"/dashboards/irobot/irobot-overview.json": []byte(`{"title":"x"}`)})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboards/irobot/irobot-overview.json", nil))
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected response: %d %v", rec.Code, rec.Header())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboards/missing.json", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestMetricsHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "gohome_test_gauge", Help: "test"})
	gauge.Set(3)
	registry.MustRegister(gauge)

	srv := httptest.NewServer(MetricsHandler(registry))
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "gohome_test_gauge 3") {
		t.Fatalf("metric missing from output: %s", body)
	}
}

func TestGRPCServerHealth(t *testing.T) {
	s, err := NewGRPCServer("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewGRPCServer: %v", err)
	}
	go func() { _ = s.Serve() }()
	defer s.Stop()

	s.Health.SetServingStatus("irobot/aa:bb:cc:dd:ee:ff", healthpb.HealthCheckResponse_SERVING)

	conn, err := grpc.NewClient(s.Listener.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: "irobot/aa:bb:cc:dd:ee:ff"})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("unexpected status: %v", resp.GetStatus())
	}
}

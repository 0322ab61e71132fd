package irobot

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/joshp123/gohome-irobot/internal/config"
	"github.com/joshp123/gohome-irobot/internal/core"
	"github.com/joshp123/gohome-irobot/internal/host"
	"github.com/joshp123/gohome-irobot/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

//go:embed AGENTS.md
var agentsMD string

//go:embed dashboard.json
var dashboardJSON []byte

const pluginID = "irobot"

var (
	_ core.Plugin           = (*Plugin)(nil)
	_ core.Runner           = (*Plugin)(nil)
	_ core.HTTPRegistrant   = (*Plugin)(nil)
	_ core.HealthRegistrant = (*Plugin)(nil)
)

// Plugin implements the GoHome plugin contract for iRobot robots.
type Plugin struct {
	cfg      Config
	log      *zap.Logger
	store    store.Store
	hub      *host.Hub
	finder   *Finder
	sessions *Sessions
	adapters map[string]*Adapter

	mu            sync.RWMutex
	health        core.HealthStatus
	healthMessage string
	reporter      core.HealthReporter

	newClient func(*mqtt.ClientOptions) mqtt.Client
}

// NewPlugin constructs an iRobot plugin from config. It reports false when
// the config section is absent.
func NewPlugin(cfg *config.IRobotConfig, deps core.Deps) (*Plugin, bool) {
	if cfg == nil {
		return nil, false
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Plugin{
		log:      logger.Named("irobot"),
		store:    deps.Store,
		hub:      deps.Hub,
		adapters: make(map[string]*Adapter),
		health:   core.HealthHealthy,
	}

	runtimeCfg, err := ConfigFromFile(cfg)
	if err != nil {
		p.setHealth(core.HealthError, err.Error())
		return p, true
	}
	if p.store == nil {
		p.setHealth(core.HealthError, "device store is required")
		return p, true
	}
	if p.hub == nil {
		p.hub = host.NewHub()
	}
	p.cfg = runtimeCfg
	p.cfg.Pair.Logger = p.log
	p.finder = NewFinder(FinderConfig{
		Interval: runtimeCfg.BroadcastInterval,
		Resolver: ARPResolver{},
		Logger:   p.log,
	})
	p.sessions = NewSessions()
	return p, true
}

func (p *Plugin) ID() string {
	return pluginID
}

func (p *Plugin) Manifest() core.Manifest {
	return core.Manifest{
		PluginID:    pluginID,
		DisplayName: "iRobot",
		Version:     "0.1.0",
	}
}

func (p *Plugin) AgentsMD() string {
	return agentsMD
}

func (p *Plugin) Dashboards() []core.Dashboard {
	return []core.Dashboard{{Name: "irobot-overview", JSON: dashboardJSON}}
}

func (p *Plugin) Collectors() []prometheus.Collector {
	if p.Health() == core.HealthError {
		return nil
	}
	return []prometheus.Collector{NewMetricsCollector(p)}
}

func (p *Plugin) Health() core.HealthStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.health
}

func (p *Plugin) HealthMessage() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.healthMessage
}

// RegisterHealth publishes one health service per configured robot, named
// irobot/<id>, SERVING while the robot's session is connected.
func (p *Plugin) RegisterHealth(reporter core.HealthReporter) {
	p.mu.Lock()
	p.reporter = reporter
	p.mu.Unlock()
	for _, spec := range p.cfg.Devices {
		reporter.SetServingStatus(healthService(spec.ID), healthpb.HealthCheckResponse_NOT_SERVING)
	}
}

// Start migrates legacy device records, starts one adapter per configured
// robot and then the discovery service.
func (p *Plugin) Start(ctx context.Context) error {
	if p.Health() == core.HealthError {
		return fmt.Errorf("irobot: %s", p.HealthMessage())
	}

	for _, spec := range p.cfg.Devices {
		if _, err := store.Migrate(ctx, p.store, spec.ID, spec.Legacy); err != nil {
			p.log.Warn("migrate device record", zap.String("device_id", spec.ID), zap.Error(err))
		}
		device := p.hub.AddDevice(spec.ID, spec.Name, spec.Kind.StateCapability(), CapabilityBattery)

		adapter, err := NewAdapter(AdapterConfig{
			ID:                 spec.ID,
			Name:               spec.Name,
			Kind:               spec.Kind,
			Device:             device,
			Store:              p.store,
			Discovery:          p.finder,
			Sessions:           p.sessions,
			ResetAnnouncements: p.cfg.ResetAnnouncements,
			ReconnectCheck:     p.cfg.ReconnectCheck,
			Quiet:              p.cfg.QuietPeriod,
			Logger:             p.log,
			OnLifecycle:        p.onLifecycle,
			newClient:          p.newClient,
		})
		if err != nil {
			return err
		}
		if err := adapter.Start(ctx); err != nil {
			_ = adapter.Remove()
			return err
		}
		p.adapters[spec.ID] = adapter
	}

	if err := p.finder.Start(ctx); err != nil {
		p.setHealth(core.HealthDegraded, fmt.Sprintf("discovery unavailable: %v", err))
		p.log.Warn("discovery unavailable", zap.Error(err))
		return nil
	}
	p.log.Info("irobot plugin started", zap.Int("devices", len(p.adapters)))
	return nil
}

// Close removes every adapter and stops discovery.
func (p *Plugin) Close() error {
	var errs []error
	for _, adapter := range p.adapters {
		if err := adapter.Remove(); err != nil && !errors.Is(err, ErrRemoved) {
			errs = append(errs, err)
		}
	}
	if p.sessions != nil {
		p.sessions.CloseAll()
	}
	if p.finder != nil {
		errs = append(errs, p.finder.Close())
	}
	return errors.Join(errs...)
}

// Adapter returns the adapter of a configured robot.
func (p *Plugin) Adapter(id string) (*Adapter, bool) {
	adapter, ok := p.adapters[id]
	return adapter, ok
}

// Statuses returns every adapter's status sorted by id.
func (p *Plugin) Statuses() []AdapterStatus {
	out := make([]AdapterStatus, 0, len(p.adapters))
	for _, adapter := range p.adapters {
		out = append(out, adapter.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Robots lists robots currently announcing themselves.
func (p *Plugin) Robots(kind Kind) []Robot {
	if p.finder == nil {
		return nil
	}
	return p.finder.Robots(kind)
}

// PairDiscovered pairs a robot currently in the discovery registry.
func (p *Plugin) PairDiscovered(ctx context.Context, id string) (store.Record, error) {
	if p.finder == nil {
		return store.Record{}, fmt.Errorf("%s: %w", id, host.ErrUnknownDevice)
	}
	r, ok := p.finder.Robot(id)
	if !ok {
		return store.Record{}, fmt.Errorf("%s: %w", id, host.ErrUnknownDevice)
	}
	return PairRobot(ctx, p.store, r, p.cfg.Pair)
}

func (p *Plugin) onLifecycle(id string, state AdapterState) {
	p.mu.RLock()
	reporter := p.reporter
	p.mu.RUnlock()
	if reporter == nil {
		return
	}
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if state == AdapterConnected {
		status = healthpb.HealthCheckResponse_SERVING
	}
	reporter.SetServingStatus(healthService(id), status)
}

func (p *Plugin) setHealth(status core.HealthStatus, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.health = status
	p.healthMessage = message
}

func healthService(id string) string {
	return pluginID + "/" + id
}

package irobot

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector collects iRobot metrics.
type MetricsCollector struct {
	plugin *Plugin

	connected     *prometheus.GaugeVec
	batteryPct    *prometheus.GaugeVec
	state         *prometheus.GaugeVec
	announcements *prometheus.GaugeVec
	connects      *prometheus.GaugeVec
	paired        *prometheus.GaugeVec
	discovered    *prometheus.GaugeVec
	discovery     *prometheus.GaugeVec
}

func NewMetricsCollector(plugin *Plugin) *MetricsCollector {
	labels := []string{"device_id", "device_name", "kind"}
	stateLabels := []string{"device_id", "device_name", "kind", "state"}
	return &MetricsCollector{
		plugin: plugin,
		connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_irobot_connected",
			Help: "Whether the robot session is connected (1=yes, 0=no)",
		}, labels),
		batteryPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_irobot_battery_percent",
			Help: "Battery percentage (0-100)",
		}, labels),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_irobot_state",
			Help: "Normalized robot state (label)",
		}, stateLabels),
		announcements: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_irobot_announcements_since_connect",
			Help: "Discovery announcements seen since the last connect",
		}, labels),
		connects: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_irobot_connects",
			Help: "Session connects since start",
		}, labels),
		paired: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_irobot_paired",
			Help: "Whether credentials are stored for the robot (1=yes, 0=no)",
		}, labels),
		discovered: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_irobot_discovered_robots",
			Help: "Robots currently announcing themselves on the LAN",
		}, []string{"kind"}),
		discovery: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_irobot_discovery_packets",
			Help: "Discovery packets since start by outcome",
		}, []string{"outcome"}),
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	c.connected.Describe(ch)
	c.batteryPct.Describe(ch)
	c.state.Describe(ch)
	c.announcements.Describe(ch)
	c.connects.Describe(ch)
	c.paired.Describe(ch)
	c.discovered.Describe(ch)
	c.discovery.Describe(ch)
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	c.connected.Reset()
	c.batteryPct.Reset()
	c.state.Reset()
	c.announcements.Reset()
	c.connects.Reset()
	c.paired.Reset()
	c.discovered.Reset()
	c.discovery.Reset()

	for _, status := range c.plugin.Statuses() {
		labels := prometheus.Labels{
			"device_id":   status.ID,
			"device_name": status.Name,
			"kind":        string(status.Kind),
		}
		c.connected.With(labels).Set(boolGauge(status.Lifecycle == AdapterConnected))
		c.paired.With(labels).Set(boolGauge(status.Paired))
		c.announcements.With(labels).Set(float64(status.Announcements))
		c.connects.With(labels).Set(float64(status.Connects))
		if status.Battery != nil {
			c.batteryPct.With(labels).Set(float64(*status.Battery))
		}
		if status.State != "" {
			c.state.With(prometheus.Labels{
				"device_id":   status.ID,
				"device_name": status.Name,
				"kind":        string(status.Kind),
				"state":       string(status.State),
			}).Set(1)
		}
	}

	for _, kind := range []Kind{KindVacuum, KindMop} {
		c.discovered.With(prometheus.Labels{"kind": string(kind)}).Set(float64(len(c.plugin.Robots(kind))))
	}
	if finder := c.plugin.finder; finder != nil {
		stats := finder.Stats()
		c.discovery.With(prometheus.Labels{"outcome": "accepted"}).Set(float64(stats.Accepted))
		c.discovery.With(prometheus.Labels{"outcome": "dropped"}).Set(float64(stats.Dropped))
		c.discovery.With(prometheus.Labels{"outcome": "restart"}).Set(float64(stats.Restarts))
		c.discovery.With(prometheus.Labels{"outcome": "broadcast"}).Set(float64(stats.Broadcast))
	}

	c.connected.Collect(ch)
	c.batteryPct.Collect(ch)
	c.state.Collect(ch)
	c.announcements.Collect(ch)
	c.connects.Collect(ch)
	c.paired.Collect(ch)
	c.discovered.Collect(ch)
	c.discovery.Collect(ch)
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

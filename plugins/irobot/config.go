package irobot

import (
	"fmt"
	"time"

	"github.com/joshp123/gohome-irobot/internal/config"
	"github.com/joshp123/gohome-irobot/internal/store"
)

// Config defines runtime configuration for the iRobot plugin.
type Config struct {
	BroadcastInterval  time.Duration
	QuietPeriod        time.Duration
	ResetAnnouncements int
	ReconnectCheck     time.Duration
	Pair               PairOptions
	Devices            []DeviceSpec
}

// DeviceSpec is the immutable identity of one configured robot plus the
// legacy address and credentials to migrate into the store.
type DeviceSpec struct {
	ID     string
	Name   string
	Kind   Kind
	Legacy store.Record
}

func ConfigFromFile(cfg *config.IRobotConfig) (Config, error) {
	if cfg == nil {
		return Config{}, fmt.Errorf("irobot config is required")
	}

	out := Config{
		BroadcastInterval:  cfg.BroadcastInterval,
		QuietPeriod:        cfg.QuietPeriod,
		ResetAnnouncements: cfg.ResetAnnouncements,
		ReconnectCheck:     cfg.ReconnectCheck,
		Pair: PairOptions{
			Attempt:  cfg.Pair.AttemptTimeout,
			Interval: cfg.Pair.Interval,
			Window:   cfg.Pair.Window,
		},
	}
	for _, dev := range cfg.Devices {
		kind := KindVacuum
		if dev.Kind != "" {
			parsed, err := ParseKind(dev.Kind)
			if err != nil {
				return Config{}, fmt.Errorf("irobot device %s: %w", dev.ID, err)
			}
			kind = parsed
		}
		name := dev.Name
		if name == "" {
			name = dev.ID
		}
		spec := DeviceSpec{ID: dev.ID, Name: name, Kind: kind}
		spec.Legacy.IP = dev.IP
		if dev.Username != "" && dev.Password != "" {
			spec.Legacy.Auth = &store.Auth{Username: dev.Username, Password: dev.Password}
		}
		out.Devices = append(out.Devices, spec)
	}
	return out, nil
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	SchemaVersion       = 1
	DefaultPath         = "/etc/gohome/config.yaml"
	DefaultGRPCAddr     = "0.0.0.0:9000"
	DefaultHTTPAddr     = "0.0.0.0:8080"
	DefaultDashboardDir = "/var/lib/gohome/dashboards"
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "json"
	DefaultStoreBackend = StoreBackendFile
	DefaultStorePath    = "/var/lib/gohome/devices"
	DefaultStorePrefix  = "gohome/devices"

	DefaultBroadcastInterval  = 10 * time.Second
	DefaultQuietPeriod        = 3 * time.Second
	DefaultResetAnnouncements = 30
	DefaultReconnectCheck     = 15 * time.Second
	DefaultPairAttemptTimeout = 5 * time.Second
	DefaultPairInterval       = 20 * time.Second
	DefaultPairWindow         = 60 * time.Second

	StoreBackendFile = "file"
	StoreBackendS3   = "s3"

	envPrefix = "GOHOME"
)

// Config is the root of the GoHome config file.
type Config struct {
	SchemaVersion int           `mapstructure:"schema_version"`
	Core          CoreConfig    `mapstructure:"core"`
	Store         StoreConfig   `mapstructure:"store"`
	IRobot        *IRobotConfig `mapstructure:"irobot"`
}

// CoreConfig holds listener and process settings.
type CoreConfig struct {
	GRPCAddr     string `mapstructure:"grpc_addr"`
	HTTPAddr     string `mapstructure:"http_addr"`
	DashboardDir string `mapstructure:"dashboard_dir"`
	LogLevel     string `mapstructure:"log_level"`
	LogFormat    string `mapstructure:"log_format"`
}

// StoreConfig selects where per-device network address and credentials live.
type StoreConfig struct {
	Backend string   `mapstructure:"backend"`
	Path    string   `mapstructure:"path"`
	S3      S3Config `mapstructure:"s3"`
}

// S3Config points the device store at an S3-compatible bucket.
type S3Config struct {
	Endpoint      string `mapstructure:"endpoint"`
	Bucket        string `mapstructure:"bucket"`
	Prefix        string `mapstructure:"prefix"`
	Region        string `mapstructure:"region"`
	AccessKeyFile string `mapstructure:"access_key_file"`
	SecretKeyFile string `mapstructure:"secret_key_file"`
}

// IRobotConfig enables the iRobot plugin. Presence of the section enables it.
type IRobotConfig struct {
	BroadcastInterval  time.Duration  `mapstructure:"broadcast_interval"`
	QuietPeriod        time.Duration  `mapstructure:"quiet_period"`
	ResetAnnouncements int            `mapstructure:"reset_announcements"`
	ReconnectCheck     time.Duration  `mapstructure:"reconnect_check"`
	Pair               PairConfig     `mapstructure:"pair"`
	Devices            []DeviceConfig `mapstructure:"devices"`
}

// PairConfig bounds the button-press credential exchange.
type PairConfig struct {
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	Interval       time.Duration `mapstructure:"interval"`
	Window         time.Duration `mapstructure:"window"`
}

// DeviceConfig is the immutable identity of a paired robot. IP and
// credentials here are legacy fields, migrated into the store on first run.
type DeviceConfig struct {
	ID       string `mapstructure:"id"`
	Name     string `mapstructure:"name"`
	Kind     string `mapstructure:"kind"`
	IP       string `mapstructure:"ip"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// Load reads the YAML config file, applies GOHOME_* environment overrides and
// defaults, and validates.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers core keys so environment overrides apply even when
// the file omits them.
func setDefaults(v *viper.Viper) {
	v.SetDefault("core.grpc_addr", DefaultGRPCAddr)
	v.SetDefault("core.http_addr", DefaultHTTPAddr)
	v.SetDefault("core.dashboard_dir", DefaultDashboardDir)
	v.SetDefault("core.log_level", DefaultLogLevel)
	v.SetDefault("core.log_format", DefaultLogFormat)
	v.SetDefault("store.backend", DefaultStoreBackend)
	v.SetDefault("store.path", DefaultStorePath)
	v.SetDefault("store.s3.prefix", DefaultStorePrefix)
}

func applyDefaults(cfg *Config) {
	if cfg.Core.GRPCAddr == "" {
		cfg.Core.GRPCAddr = DefaultGRPCAddr
	}
	if cfg.Core.HTTPAddr == "" {
		cfg.Core.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Core.DashboardDir == "" {
		cfg.Core.DashboardDir = DefaultDashboardDir
	}
	if cfg.Core.LogLevel == "" {
		cfg.Core.LogLevel = DefaultLogLevel
	}
	if cfg.Core.LogFormat == "" {
		cfg.Core.LogFormat = DefaultLogFormat
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = DefaultStoreBackend
	}
	if cfg.Store.Backend == StoreBackendFile && cfg.Store.Path == "" {
		cfg.Store.Path = DefaultStorePath
	}
	if cfg.Store.S3.Prefix == "" {
		cfg.Store.S3.Prefix = DefaultStorePrefix
	}

	if cfg.IRobot == nil {
		return
	}
	r := cfg.IRobot
	if r.BroadcastInterval == 0 {
		r.BroadcastInterval = DefaultBroadcastInterval
	}
	if r.QuietPeriod == 0 {
		r.QuietPeriod = DefaultQuietPeriod
	}
	if r.ResetAnnouncements == 0 {
		r.ResetAnnouncements = DefaultResetAnnouncements
	}
	if r.ReconnectCheck == 0 {
		r.ReconnectCheck = DefaultReconnectCheck
	}
	if r.Pair.AttemptTimeout == 0 {
		r.Pair.AttemptTimeout = DefaultPairAttemptTimeout
	}
	if r.Pair.Interval == 0 {
		r.Pair.Interval = DefaultPairInterval
	}
	if r.Pair.Window == 0 {
		r.Pair.Window = DefaultPairWindow
	}
	for i := range r.Devices {
		r.Devices[i].ID = strings.ToLower(strings.TrimSpace(r.Devices[i].ID))
	}
}

// Validate enforces required invariants beyond field typing.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.SchemaVersion != SchemaVersion {
		return fmt.Errorf("schema_version must be %d", SchemaVersion)
	}

	if cfg.Core.GRPCAddr == "" {
		return fmt.Errorf("core.grpc_addr is required")
	}
	if cfg.Core.HTTPAddr == "" {
		return fmt.Errorf("core.http_addr is required")
	}

	switch cfg.Store.Backend {
	case StoreBackendFile:
		if cfg.Store.Path == "" {
			return fmt.Errorf("store.path is required for the file backend")
		}
	case StoreBackendS3:
		s3 := cfg.Store.S3
		if s3.Endpoint == "" {
			return fmt.Errorf("store.s3.endpoint is required")
		}
		if s3.Bucket == "" {
			return fmt.Errorf("store.s3.bucket is required")
		}
		if s3.AccessKeyFile == "" {
			return fmt.Errorf("store.s3.access_key_file is required")
		}
		if s3.SecretKeyFile == "" {
			return fmt.Errorf("store.s3.secret_key_file is required")
		}
	default:
		return fmt.Errorf("store.backend %q must be %q or %q", cfg.Store.Backend, StoreBackendFile, StoreBackendS3)
	}

	if cfg.IRobot != nil {
		if err := validateIRobot(cfg.IRobot); err != nil {
			return err
		}
	}
	return nil
}

func validateIRobot(r *IRobotConfig) error {
	if r.BroadcastInterval < time.Second {
		return fmt.Errorf("irobot.broadcast_interval must be at least 1s")
	}
	if r.QuietPeriod <= 0 {
		return fmt.Errorf("irobot.quiet_period must be positive")
	}
	if r.ResetAnnouncements < 1 {
		return fmt.Errorf("irobot.reset_announcements must be at least 1")
	}
	if r.ReconnectCheck <= 0 {
		return fmt.Errorf("irobot.reconnect_check must be positive")
	}
	if r.Pair.AttemptTimeout <= 0 || r.Pair.Interval <= 0 || r.Pair.Window <= 0 {
		return fmt.Errorf("irobot.pair durations must be positive")
	}
	if r.Pair.Window < r.Pair.AttemptTimeout {
		return fmt.Errorf("irobot.pair.window must not be shorter than irobot.pair.attempt_timeout")
	}

	seen := make(map[string]bool)
	for i, dev := range r.Devices {
		if dev.ID == "" {
			return fmt.Errorf("irobot.devices[%d].id is required", i)
		}
		if seen[dev.ID] {
			return fmt.Errorf("duplicate irobot device id: %s", dev.ID)
		}
		seen[dev.ID] = true
		switch dev.Kind {
		case "", "vacuum", "mop":
		default:
			return fmt.Errorf("irobot.devices[%d].kind %q must be vacuum or mop", i, dev.Kind)
		}
	}
	return nil
}

// EnabledPlugins maps enabled plugin IDs based on config presence.
func EnabledPlugins(cfg *Config) map[string]bool {
	enabled := make(map[string]bool)
	if cfg == nil {
		return enabled
	}
	if cfg.IRobot != nil {
		enabled["irobot"] = true
	}
	return enabled
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
schema_version: 1
irobot:
  devices:
    - id: " AA:BB:CC:DD:EE:FF "
      name: Kitchen
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultGRPCAddr, cfg.Core.GRPCAddr)
	assert.Equal(t, DefaultHTTPAddr, cfg.Core.HTTPAddr)
	assert.Equal(t, StoreBackendFile, cfg.Store.Backend)
	assert.Equal(t, DefaultStorePath, cfg.Store.Path)

	require.NotNil(t, cfg.IRobot)
	assert.Equal(t, 10*time.Second, cfg.IRobot.BroadcastInterval)
	assert.Equal(t, 3*time.Second, cfg.IRobot.QuietPeriod)
	assert.Equal(t, 30, cfg.IRobot.ResetAnnouncements)
	assert.Equal(t, 15*time.Second, cfg.IRobot.ReconnectCheck)
	assert.Equal(t, 60*time.Second, cfg.IRobot.Pair.Window)
	require.Len(t, cfg.IRobot.Devices, 1)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", cfg.IRobot.Devices[0].ID)

	assert.Equal(t, map[string]bool{"irobot": true}, EnabledPlugins(cfg))
}

func TestLoadParsesDurations(t *testing.T) {
	path := writeConfig(t, `
schema_version: 1
irobot:
  broadcast_interval: 30s
  quiet_period: 1500ms
  pair:
    interval: 10s
    window: 2m
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.IRobot.BroadcastInterval)
	assert.Equal(t, 1500*time.Millisecond, cfg.IRobot.QuietPeriod)
	assert.Equal(t, 10*time.Second, cfg.IRobot.Pair.Interval)
	assert.Equal(t, 2*time.Minute, cfg.IRobot.Pair.Window)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "schema_version: 1\n")
	t.Setenv("GOHOME_CORE_HTTP_ADDR", "127.0.0.1:18080")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:18080", cfg.Core.HTTPAddr)
	assert.Nil(t, cfg.IRobot)
	assert.Empty(t, EnabledPlugins(cfg))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{SchemaVersion: SchemaVersion, IRobot: &IRobotConfig{}}
		applyDefaults(cfg)
		return cfg
	}

	require.NoError(t, Validate(base()))
	assert.Error(t, Validate(nil))

	cfg := base()
	cfg.SchemaVersion = 2
	assert.Error(t, Validate(cfg))

	cfg = base()
	cfg.Store.Backend = "ftp"
	assert.Error(t, Validate(cfg))

	cfg = base()
	cfg.Store.Backend = StoreBackendS3
	assert.Error(t, Validate(cfg), "s3 backend without endpoint")
	cfg.Store.S3 = S3Config{Endpoint: "https://s3.local", Bucket: "b", AccessKeyFile: "a", SecretKeyFile: "s"}
	assert.NoError(t, Validate(cfg))

	cfg = base()
	cfg.IRobot.Devices = []DeviceConfig{{ID: "a"}, {ID: "a"}}
	assert.Error(t, Validate(cfg), "duplicate device ids")

	cfg = base()
	cfg.IRobot.Devices = []DeviceConfig{{ID: "a", Kind: "lawnmower"}}
	assert.Error(t, Validate(cfg))

	cfg = base()
	cfg.IRobot.Devices = []DeviceConfig{{}}
	assert.Error(t, Validate(cfg))

	cfg = base()
	cfg.IRobot.Pair.Window = time.Second
	assert.Error(t, Validate(cfg))
}

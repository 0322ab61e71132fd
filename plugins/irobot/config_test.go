package irobot

import (
	"testing"
	"time"

	"github.com/joshp123/gohome-irobot/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFromFile(t *testing.T) {
	cfg, err := ConfigFromFile(testIRobotConfig())
	require.NoError(t, err)

	assert.Equal(t, time.Hour, cfg.BroadcastInterval)
	assert.Equal(t, time.Second, cfg.Pair.Window)
	require.Len(t, cfg.Devices, 2)

	kitchen := cfg.Devices[0]
	assert.Equal(t, KindVacuum, kitchen.Kind)
	assert.Equal(t, "192.168.1.20", kitchen.Legacy.IP)
	require.NotNil(t, kitchen.Legacy.Auth)
	assert.Equal(t, "3115850251687850", kitchen.Legacy.Auth.Username)

	hall := cfg.Devices[1]
	assert.Equal(t, KindMop, hall.Kind)
	assert.Nil(t, hall.Legacy.Auth, "partial credentials are not migrated")
}

func TestConfigFromFileDefaultsKindAndName(t *testing.T) {
	cfg, err := ConfigFromFile(&config.IRobotConfig{
		Devices: []config.DeviceConfig{{ID: testRobotID, Username: "only-user"}},
	})
	require.NoError(t, err)
	require.Len(t, cfg.Devices, 1)
	assert.Equal(t, KindVacuum, cfg.Devices[0].Kind)
	assert.Equal(t, testRobotID, cfg.Devices[0].Name)
	assert.Nil(t, cfg.Devices[0].Legacy.Auth)
}

func TestConfigFromFileRejects(t *testing.T) {
	_, err := ConfigFromFile(nil)
	require.Error(t, err)

	_, err = ConfigFromFile(&config.IRobotConfig{Devices: []config.DeviceConfig{{ID: "x", Kind: "drone"}}})
	require.Error(t, err)
}

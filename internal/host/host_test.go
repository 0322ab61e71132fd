package host

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetCapabilityRequiresDeclaration(t *testing.T) {
	hub := NewHub()
	dev := hub.AddDevice("robot", "Kitchen", "measure_battery")

	require.NoError(t, dev.SetCapabilityValue("measure_battery", 80))
	err := dev.SetCapabilityValue("tank_full", true)
	require.ErrorIs(t, err, ErrUnknownCapability)

	assert.False(t, dev.HasCapability("tank_full"))
	require.NoError(t, dev.AddCapability("tank_full"))
	require.NoError(t, dev.SetCapabilityValue("tank_full", true))

	v, ok := dev.CapabilityValue("tank_full")
	require.True(t, ok)
	assert.Equal(t, true, v)
}

func TestTriggerCapability(t *testing.T) {
	dev := NewHub().AddDevice("robot", "Kitchen", "vacuumcleaner_state")
	ctx := context.Background()

	require.ErrorIs(t, dev.TriggerCapability(ctx, "vacuumcleaner_state", "cleaning"), ErrNoListener)

	rejected := errors.New("rejected")
	dev.RegisterCapabilityListener("vacuumcleaner_state", func(_ context.Context, value any) error {
		if value == "spot_cleaning" {
			return rejected
		}
		return nil
	})

	require.NoError(t, dev.TriggerCapability(ctx, "vacuumcleaner_state", "cleaning"))
	require.ErrorIs(t, dev.TriggerCapability(ctx, "vacuumcleaner_state", "spot_cleaning"), rejected)

	v, _ := dev.CapabilityValue("vacuumcleaner_state")
	assert.Equal(t, "cleaning", v, "rejected change must not be stored")
}

func TestAvailability(t *testing.T) {
	dev := NewHub().AddDevice("robot", "Kitchen")
	ok, reason := dev.Available()
	assert.False(t, ok)
	assert.Equal(t, "initializing", reason)

	require.NoError(t, dev.SetAvailable())
	ok, reason = dev.Available()
	assert.True(t, ok)
	assert.Empty(t, reason)

	require.NoError(t, dev.SetUnavailable("offline"))
	ok, reason = dev.Available()
	assert.False(t, ok)
	assert.Equal(t, "offline", reason)
}

func TestCondition(t *testing.T) {
	dev := NewHub().AddDevice("robot", "Kitchen", "lid_closed", "measure_battery")

	_, err := Condition(dev, "tank_full")
	require.ErrorIs(t, err, ErrUnknownCapability)

	_, err = Condition(dev, "lid_closed")
	require.ErrorIs(t, err, ErrValueUnknown)

	require.NoError(t, dev.SetCapabilityValue("lid_closed", true))
	got, err := Condition(dev, "lid_closed")
	require.NoError(t, err)
	assert.True(t, got)

	require.NoError(t, dev.SetCapabilityValue("measure_battery", 50))
	_, err = Condition(dev, "measure_battery")
	assert.Error(t, err)
}

func TestHubDevices(t *testing.T) {
	hub := NewHub()
	b := hub.AddDevice("b", "B", "x")
	hub.AddDevice("a", "A")
	assert.Same(t, b, hub.AddDevice("b", "ignored"))

	views := hub.Devices()
	require.Len(t, views, 2)
	assert.Equal(t, "a", views[0].ID)
	assert.Equal(t, "B", views[1].Name)
	assert.Contains(t, views[1].Capabilities, "x")

	hub.RemoveDevice("a")
	_, ok := hub.Device("a")
	assert.False(t, ok)
}

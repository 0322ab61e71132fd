package irobot

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/joshp123/gohome-irobot/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSessionConfig(d *fakeDialer, clock Clock) SessionConfig {
	return SessionConfig{
		ID:        "aa:bb:cc:dd:ee:ff",
		Host:      "192.168.1.20",
		Username:  "3115850251687850",
		Password:  ":1:1600000000:secret",
		Quiet:     3 * time.Second,
		Clock:     clock,
		Logger:    testutil.Logger(),
		newClient: d.newClient,
	}
}

func TestNewSessionValidation(t *testing.T) {
	base := testSessionConfig(&fakeDialer{}, testutil.NewClock())

	cases := []struct {
		name   string
		mutate func(*SessionConfig)
		want   error
	}{
		{"empty host", func(c *SessionConfig) { c.Host = "" }, ErrInvalidHost},
		{"host with path", func(c *SessionConfig) { c.Host = "robot/1" }, ErrInvalidHost},
		{"empty username", func(c *SessionConfig) { c.Username = "" }, ErrInvalidUsername},
		{"nul username", func(c *SessionConfig) { c.Username = "\x00" }, ErrInvalidUsername},
		{"empty password", func(c *SessionConfig) { c.Password = "\x00\x00" }, ErrInvalidPassword},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			_, err := NewSession(cfg, nil)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestSessionConnectOptions(t *testing.T) {
	d := &fakeDialer{}
	cfg := testSessionConfig(d, testutil.NewClock())
	cfg.Username = "user\x00"
	var events eventLog
	s, err := NewSession(cfg, events.handle)
	require.NoError(t, err)
	require.NoError(t, s.Connect(context.Background()))

	opts := d.last().opts
	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "ssl://192.168.1.20:8883", opts.Servers[0].String())
	assert.Equal(t, "user", opts.ClientID)
	assert.Equal(t, "user", opts.Username)
	assert.False(t, opts.CleanSession)
	assert.False(t, opts.AutoReconnect)
	assert.Equal(t, uint(4), opts.ProtocolVersion)
	assert.True(t, opts.TLSConfig.InsecureSkipVerify)

	assert.Equal(t, []EventKind{EventConnected}, events.kinds())
	assert.True(t, s.Connected())
}

func TestSessionConnectError(t *testing.T) {
	d := &fakeDialer{prepare: func(c *fakeClient) { c.connectErr = errors.New("refused") }}
	var events eventLog
	s, err := NewSession(testSessionConfig(d, testutil.NewClock()), events.handle)
	require.NoError(t, err)
	require.NoError(t, s.Connect(context.Background()))

	require.Eventually(t, func() bool { return len(events.kinds()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, EventError, events.last().Kind)
	assert.False(t, s.Connected())
}

func TestSessionTelemetry(t *testing.T) {
	d := &fakeDialer{}
	clock := testutil.NewClock()
	var events eventLog
	s, err := NewSession(testSessionConfig(d, clock), events.handle)
	require.NoError(t, err)
	require.NoError(t, s.Connect(context.Background()))
	client := d.last()

	client.deliver(`not json`)
	client.deliver(`{"state":{}}`)
	client.deliver(`{"state":{"reported":{"batPct":100}}}`)
	assert.Equal(t, []EventKind{EventConnected}, events.kinds())

	client.deliver(`{"state":{"reported":{"cleanMissionStatus":{"cycle":"none","phase":"charge"}}}}`)
	require.Equal(t, []EventKind{EventConnected, EventState}, events.kinds())
	state, ok := MapState(events.last().Snapshot)
	require.True(t, ok)
	assert.Equal(t, StateDocked, state)

	client.deliver(`{"state":{"reported":{"batPct":99}}}`)
	clock.Advance(3 * time.Second)
	require.Len(t, events.kinds(), 3)
	pct, _ := Battery(events.last().Snapshot)
	assert.Equal(t, 99, pct)
}

func TestSessionSend(t *testing.T) {
	d := &fakeDialer{}
	clock := testutil.NewClock(time.Unix(1700000000, 0))
	s, err := NewSession(testSessionConfig(d, clock), nil)
	require.NoError(t, err)

	require.ErrorIs(t, s.Send(context.Background(), "start"), ErrNotConnected)

	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Send(context.Background(), "start"))
	require.NoError(t, s.SendDelta(context.Background(), map[string]any{"binPause": true}))

	sent := d.last().sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "cmd", sent[0].topic)
	var cmd map[string]any
	require.NoError(t, json.Unmarshal(sent[0].payload, &cmd))
	assert.Equal(t, map[string]any{"command": "start", "time": float64(1700000000), "initiator": "localApp"}, cmd)

	assert.Equal(t, "delta", sent[1].topic)
	assert.JSONEq(t, `{"state":{"binPause":true}}`, string(sent[1].payload))

	d.last().publishErr = errors.New("broken pipe")
	require.Error(t, s.Send(context.Background(), "stop"))
}

func TestSessionConnectionLost(t *testing.T) {
	d := &fakeDialer{}
	var events eventLog
	s, err := NewSession(testSessionConfig(d, testutil.NewClock()), events.handle)
	require.NoError(t, err)
	require.NoError(t, s.Connect(context.Background()))

	d.last().lose(errors.New("read: connection reset"))
	assert.Equal(t, EventOffline, events.last().Kind)
	assert.False(t, s.Connected())

	d.last().lose(io.EOF)
	assert.Equal(t, EventClosed, events.last().Kind)
}

func TestSessionNoEventsAfterClose(t *testing.T) {
	d := &fakeDialer{}
	clock := testutil.NewClock()
	var events eventLog
	s, err := NewSession(testSessionConfig(d, clock), events.handle)
	require.NoError(t, err)
	require.NoError(t, s.Connect(context.Background()))
	client := d.last()

	client.deliver(`{"state":{"reported":{"batPct":50}}}`)
	s.Close()
	s.Close()
	assert.True(t, client.wasDisconnected())

	clock.Advance(time.Minute)
	client.deliver(`{"state":{"reported":{"cleanMissionStatus":{"cycle":"quick","phase":"run"}}}}`)
	client.lose(errors.New("gone"))
	assert.Equal(t, []EventKind{EventConnected}, events.kinds())
	require.ErrorIs(t, s.Send(context.Background(), "dock"), ErrNotConnected)
	require.Error(t, s.Connect(context.Background()))
}

func TestSessionsAtMostOneLive(t *testing.T) {
	d := &fakeDialer{}
	sessions := NewSessions()
	cfg := testSessionConfig(d, testutil.NewClock())

	first, err := sessions.Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	cfg.Host = "192.168.1.21"
	second, err := sessions.Open(context.Background(), cfg, nil)
	require.NoError(t, err)

	assert.False(t, first.Connected())
	assert.True(t, d.clients[0].wasDisconnected())
	assert.True(t, second.Connected())
	assert.Equal(t, 1, sessions.Connected())

	live, ok := sessions.Live(cfg.ID)
	require.True(t, ok)
	assert.Same(t, second, live)

	other := testSessionConfig(d, testutil.NewClock())
	other.ID = "11:22:33:44:55:66"
	_, err = sessions.Open(context.Background(), other, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, sessions.Connected())

	sessions.Close(cfg.ID)
	assert.False(t, second.Connected())
	_, ok = sessions.Live(cfg.ID)
	assert.False(t, ok)

	sessions.CloseAll()
	assert.Equal(t, 0, sessions.Connected())
}

func TestSessionsOpenValidation(t *testing.T) {
	sessions := NewSessions()
	cfg := testSessionConfig(&fakeDialer{}, testutil.NewClock())
	cfg.Password = ""
	_, err := sessions.Open(context.Background(), cfg, nil)
	require.ErrorIs(t, err, ErrInvalidPassword)
	_, ok := sessions.Live(cfg.ID)
	assert.False(t, ok)
}

package irobot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/joshp123/gohome-irobot/internal/host"
	"github.com/joshp123/gohome-irobot/internal/store"
	"go.uber.org/zap"
)

const (
	// DefaultResetAnnouncements forces a fresh session after this many
	// announcements, about five minutes at the default broadcast interval.
	DefaultResetAnnouncements = 30
	DefaultReconnectCheck     = 15 * time.Second

	reasonOffline = "offline"
	reasonRemoved = "removed"
)

var ErrRemoved = errors.New("device removed")

// AdapterState is the connection lifecycle of one robot.
type AdapterState string

const (
	AdapterDisconnected AdapterState = "disconnected"
	AdapterConnecting   AdapterState = "connecting"
	AdapterConnected    AdapterState = "connected"
	AdapterReconnecting AdapterState = "reconnecting"
	AdapterRemoved      AdapterState = "removed"
)

// Discovery is the part of the Finder an adapter consumes.
type Discovery interface {
	Subscribe(id string, fn func(Robot)) (unsubscribe func())
	Robot(id string) (Robot, bool)
}

// AdapterConfig wires one robot to its collaborators.
type AdapterConfig struct {
	ID                 string
	Name               string
	Kind               Kind
	Device             host.Device
	Store              store.Store
	Discovery          Discovery
	Sessions           *Sessions
	ResetAnnouncements int
	ReconnectCheck     time.Duration
	Quiet              time.Duration
	Clock              Clock
	Logger             *zap.Logger

	// OnLifecycle observes lifecycle changes. It runs on the actor and
	// must not call back into the adapter.
	OnLifecycle func(id string, state AdapterState)

	newClient func(*mqtt.ClientOptions) mqtt.Client
}

// AdapterStatus is a point-in-time view of an adapter.
type AdapterStatus struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Kind          Kind         `json:"kind"`
	Lifecycle     AdapterState `json:"lifecycle"`
	Address       string       `json:"ip,omitempty"`
	State         State        `json:"state,omitempty"`
	Battery       *int         `json:"battery,omitempty"`
	Announcements int          `json:"announcements"`
	Connects      int          `json:"connects"`
	Paired        bool         `json:"paired"`
}

// Adapter binds one robot's discovery events and session to its host
// device. All state transitions run on a single actor goroutine.
type Adapter struct {
	cfg AdapterConfig
	log *zap.Logger
	box *mailbox

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// owned by the actor
	lifecycle   AdapterState
	record      store.Record
	session     *Session
	sessionGen  uint64
	counter     int
	connects    int
	unsubscribe func()
	stopPoll    func() bool

	mu     sync.RWMutex
	status AdapterStatus
}

func NewAdapter(cfg AdapterConfig) (*Adapter, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("adapter id is required")
	}
	if cfg.Device == nil || cfg.Store == nil || cfg.Discovery == nil || cfg.Sessions == nil {
		return nil, fmt.Errorf("adapter %s: device, store, discovery and sessions are required", cfg.ID)
	}
	if cfg.Kind == "" {
		cfg.Kind = KindVacuum
	}
	if cfg.ResetAnnouncements <= 0 {
		cfg.ResetAnnouncements = DefaultResetAnnouncements
	}
	if cfg.ReconnectCheck <= 0 {
		cfg.ReconnectCheck = DefaultReconnectCheck
	}
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	a := &Adapter{
		cfg:       cfg,
		log:       cfg.Logger.Named("adapter").With(zap.String("device_id", cfg.ID)),
		box:       newMailbox(),
		done:      make(chan struct{}),
		lifecycle: AdapterDisconnected,
	}
	a.status = AdapterStatus{ID: cfg.ID, Name: cfg.Name, Kind: cfg.Kind, Lifecycle: AdapterDisconnected}
	go func() {
		defer close(a.done)
		a.box.run()
	}()
	return a, nil
}

func (a *Adapter) ID() string { return a.cfg.ID }

// Start loads the stored record, registers the state listener, subscribes to
// discovery and connects to the last known address.
func (a *Adapter) Start(ctx context.Context) error {
	record, err := a.cfg.Store.Load(ctx, a.cfg.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("load %s: %w", a.cfg.ID, err)
	}
	a.ctx, a.cancel = context.WithCancel(context.WithoutCancel(ctx))
	a.record = record
	a.updateStatus(func(s *AdapterStatus) {
		s.Address = record.IP
		s.Paired = record.HasAuth()
	})

	a.cfg.Device.RegisterCapabilityListener(a.cfg.Kind.StateCapability(), func(ctx context.Context, value any) error {
		target, ok := value.(string)
		if !ok {
			return fmt.Errorf("%v: %w", value, ErrUnmappedState)
		}
		return a.SetTargetState(ctx, State(target))
	})
	if err := a.cfg.Device.SetUnavailable(reasonOffline); err != nil {
		a.log.Warn("mark unavailable", zap.Error(err))
	}

	a.unsubscribe = a.cfg.Discovery.Subscribe(a.cfg.ID, func(r Robot) {
		a.box.post(func() { a.onDiscovered(r) })
	})
	a.schedulePoll()

	if record.IP != "" {
		a.box.post(func() { a.connect("stored address") })
	}
	return nil
}

// Remove tears the adapter down. Later calls return ErrRemoved.
func (a *Adapter) Remove() error {
	result := make(chan error, 1)
	if !a.box.post(func() { result <- a.teardown() }) {
		return ErrRemoved
	}
	if err := <-result; err != nil {
		return err
	}
	a.box.close()
	<-a.done
	return nil
}

func (a *Adapter) teardown() error {
	if a.lifecycle == AdapterRemoved {
		return ErrRemoved
	}
	a.setLifecycle(AdapterRemoved)
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	if a.stopPoll != nil {
		a.stopPoll()
	}
	a.closeSession()
	if a.cancel != nil {
		a.cancel()
	}
	if err := a.cfg.Device.SetUnavailable(reasonRemoved); err != nil {
		a.log.Warn("mark unavailable", zap.Error(err))
	}
	a.log.Info("adapter removed")
	return nil
}

// onDiscovered applies the reconnect triggers: not connected, address
// changed, or the announcement counter reached its limit.
func (a *Adapter) onDiscovered(r Robot) {
	if a.lifecycle == AdapterRemoved {
		return
	}
	a.counter++
	a.updateStatus(func(s *AdapterStatus) { s.Announcements = a.counter })

	changed := a.adoptAddress(r.Address)
	switch {
	case a.lifecycle == AdapterDisconnected || a.lifecycle == AdapterReconnecting:
		a.connect("discovered")
	case changed:
		a.connect("address changed")
	case a.counter >= a.cfg.ResetAnnouncements:
		a.connect("periodic refresh")
	}
}

// adoptAddress persists a new address and reports whether it changed.
func (a *Adapter) adoptAddress(address string) bool {
	if address == "" || address == a.record.IP {
		return false
	}
	a.log.Info("address changed", zap.String("from", a.record.IP), zap.String("to", address))
	a.record.IP = address
	a.updateStatus(func(s *AdapterStatus) { s.Address = address })
	if err := a.cfg.Store.Save(a.ctx, a.cfg.ID, a.record); err != nil {
		a.log.Warn("persist address", zap.Error(err))
	}
	return true
}

func (a *Adapter) connect(reason string) {
	if !a.record.HasAuth() {
		a.reloadAuth()
	}
	if !a.record.HasAuth() {
		a.log.Debug("not paired, skipping connect", zap.String("reason", reason))
		return
	}
	a.counter = 0
	a.connects++
	a.closeSession()
	a.setLifecycle(AdapterConnecting)
	a.updateStatus(func(s *AdapterStatus) {
		s.Announcements = 0
		s.Connects = a.connects
	})
	if err := a.cfg.Device.SetUnavailable(reasonOffline); err != nil {
		a.log.Warn("mark unavailable", zap.Error(err))
	}

	cfg := SessionConfig{
		ID:        a.cfg.ID,
		Host:      a.record.IP,
		Quiet:     a.cfg.Quiet,
		Clock:     a.cfg.Clock,
		Logger:    a.cfg.Logger,
		newClient: a.cfg.newClient,
	}
	if a.record.Auth != nil {
		cfg.Username = a.record.Auth.Username
		cfg.Password = a.record.Auth.Password
	}

	a.sessionGen++
	gen := a.sessionGen
	a.log.Info("connecting", zap.String("reason", reason), zap.String("ip", a.record.IP))
	session, err := a.cfg.Sessions.Open(a.ctx, cfg, func(ev Event) {
		a.box.post(func() { a.onSessionEvent(gen, ev) })
	})
	if err != nil {
		a.log.Warn("open session", zap.Error(err))
		a.setLifecycle(AdapterDisconnected)
		return
	}
	a.session = session
}

// reloadAuth picks up credentials saved by a pairing run after Start.
func (a *Adapter) reloadAuth() {
	record, err := a.cfg.Store.Load(a.ctx, a.cfg.ID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			a.log.Warn("reload credentials", zap.Error(err))
		}
		return
	}
	if !record.HasAuth() {
		return
	}
	a.record.Auth = record.Auth
	a.updateStatus(func(s *AdapterStatus) { s.Paired = true })
}

func (a *Adapter) closeSession() {
	if a.session == nil {
		return
	}
	a.sessionGen++
	a.cfg.Sessions.Close(a.cfg.ID)
	a.session = nil
}

func (a *Adapter) onSessionEvent(gen uint64, ev Event) {
	if gen != a.sessionGen || a.lifecycle == AdapterRemoved {
		return
	}
	switch ev.Kind {
	case EventConnected:
		a.setLifecycle(AdapterConnected)
		if err := a.cfg.Device.SetAvailable(); err != nil {
			a.log.Warn("mark available", zap.Error(err))
		}
	case EventOffline, EventClosed, EventError:
		a.log.Info("session lost", zap.Stringer("event", ev.Kind), zap.Error(ev.Err))
		a.closeSession()
		a.setLifecycle(AdapterReconnecting)
		if err := a.cfg.Device.SetUnavailable(reasonOffline); err != nil {
			a.log.Warn("mark unavailable", zap.Error(err))
		}
	case EventState:
		a.applySnapshot(ev.Snapshot)
	}
}

func (a *Adapter) applySnapshot(snap Snapshot) {
	if pct, ok := Battery(snap); ok {
		a.setCapability(CapabilityBattery, pct)
		a.updateStatus(func(s *AdapterStatus) { s.Battery = &pct })
	}
	for name, value := range Auxiliaries(snap) {
		a.setCapability(name, value)
	}
	if state, ok := MapState(snap); ok {
		a.setCapability(a.cfg.Kind.StateCapability(), string(state))
		a.updateStatus(func(s *AdapterStatus) { s.State = state })
	}
}

// setCapability declares the capability on first use. Failures are logged.
func (a *Adapter) setCapability(name string, value any) {
	dev := a.cfg.Device
	if !dev.HasCapability(name) {
		if err := dev.AddCapability(name); err != nil {
			a.log.Warn("add capability", zap.String("capability", name), zap.Error(err))
			return
		}
	}
	if err := dev.SetCapabilityValue(name, value); err != nil {
		a.log.Warn("set capability", zap.String("capability", name), zap.Error(err))
	}
}

// schedulePoll arms the backstop that reconnects from the discovery
// registry when no event-driven reconnect happened.
func (a *Adapter) schedulePoll() {
	a.stopPoll = a.cfg.Clock.AfterFunc(a.cfg.ReconnectCheck, func() {
		a.box.post(a.poll)
	})
}

func (a *Adapter) poll() {
	if a.lifecycle == AdapterRemoved {
		return
	}
	defer a.schedulePoll()
	if a.lifecycle == AdapterConnected || a.lifecycle == AdapterConnecting {
		return
	}
	r, ok := a.cfg.Discovery.Robot(a.cfg.ID)
	if !ok {
		return
	}
	a.adoptAddress(r.Address)
	a.connect("reconnect check")
}

// SetTargetState drives the robot toward a normalized state.
func (a *Adapter) SetTargetState(ctx context.Context, target State) error {
	command, err := commandForState(target)
	if err != nil {
		return err
	}
	return a.send(ctx, command)
}

// Command publishes a raw robot command.
func (a *Adapter) Command(ctx context.Context, command string) error {
	if err := validCommand(command); err != nil {
		return err
	}
	return a.send(ctx, command)
}

func (a *Adapter) send(ctx context.Context, command string) error {
	session, err := a.connectedSession(ctx)
	if err != nil {
		return err
	}
	if err := session.Send(ctx, command); err != nil {
		return fmt.Errorf("%s %s: %w", a.cfg.ID, command, err)
	}
	a.log.Info("command sent", zap.String("command", command))
	return nil
}

func (a *Adapter) connectedSession(ctx context.Context) (*Session, error) {
	type result struct {
		session *Session
		err     error
	}
	ch := make(chan result, 1)
	posted := a.box.post(func() {
		switch {
		case a.lifecycle == AdapterRemoved:
			ch <- result{err: ErrRemoved}
		case a.lifecycle != AdapterConnected || a.session == nil || !a.session.Connected():
			ch <- result{err: ErrNotConnected}
		default:
			ch <- result{session: a.session}
		}
	})
	if !posted {
		return nil, ErrRemoved
	}
	select {
	case r := <-ch:
		return r.session, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Condition answers a flow condition such as tank_full or lid_closed.
func (a *Adapter) Condition(name string) (bool, error) {
	if a.Status().Lifecycle == AdapterRemoved {
		return false, ErrRemoved
	}
	return host.Condition(a.cfg.Device, name)
}

func (a *Adapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := a.status
	if s.Battery != nil {
		pct := *s.Battery
		s.Battery = &pct
	}
	return s
}

func (a *Adapter) setLifecycle(state AdapterState) {
	changed := a.lifecycle != state
	if changed {
		a.log.Debug("lifecycle", zap.String("from", string(a.lifecycle)), zap.String("to", string(state)))
	}
	a.lifecycle = state
	a.updateStatus(func(s *AdapterStatus) { s.Lifecycle = state })
	if changed && a.cfg.OnLifecycle != nil {
		a.cfg.OnLifecycle(a.cfg.ID, state)
	}
}

func (a *Adapter) updateStatus(fn func(*AdapterStatus)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(&a.status)
}

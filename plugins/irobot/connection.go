package irobot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	topicCommand = "cmd"
	topicDelta   = "delta"

	defaultInitiator      = "localApp"
	defaultConnectTimeout = 10 * time.Second
	disconnectQuiesce     = 250
)

var (
	ErrInvalidHost     = errors.New("invalid robot host")
	ErrInvalidUsername = errors.New("invalid robot username")
	ErrInvalidPassword = errors.New("invalid robot password")
	ErrNotConnected    = errors.New("robot not connected")
)

// SessionConfig identifies the robot a session talks to.
type SessionConfig struct {
	ID        string
	Host      string
	Username  string
	Password  string
	Initiator string
	Quiet     time.Duration
	Clock     Clock
	Logger    *zap.Logger

	newClient func(*mqtt.ClientOptions) mqtt.Client
}

// Session is one MQTT connection to a robot. Events are delivered to the
// handler until Close; the handler must not block or call Close.
type Session struct {
	id        string
	host      string
	username  string
	password  string
	initiator string
	clock     Clock
	log       *zap.Logger
	handler   func(Event)
	newClient func(*mqtt.ClientOptions) mqtt.Client
	debouncer *Debouncer

	emitMu sync.Mutex

	mu        sync.Mutex
	client    mqtt.Client
	connected bool
	closed    bool
}

// NewSession validates the connection parameters without touching the
// network.
func NewSession(cfg SessionConfig, handler func(Event)) (*Session, error) {
	host := strings.TrimSpace(cfg.Host)
	if !validHost(host) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHost, cfg.Host)
	}
	username := strings.ReplaceAll(cfg.Username, "\x00", "")
	if username == "" {
		return nil, ErrInvalidUsername
	}
	password := strings.ReplaceAll(cfg.Password, "\x00", "")
	if password == "" {
		return nil, ErrInvalidPassword
	}
	if cfg.Initiator == "" {
		cfg.Initiator = defaultInitiator
	}
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.newClient == nil {
		cfg.newClient = mqtt.NewClient
	}
	if handler == nil {
		handler = func(Event) {}
	}

	s := &Session{
		id:        cfg.ID,
		host:      host,
		username:  username,
		password:  password,
		initiator: cfg.Initiator,
		clock:     cfg.Clock,
		log:       cfg.Logger.Named("session").With(zap.String("device_id", cfg.ID), zap.String("ip", host)),
		handler:   handler,
		newClient: cfg.newClient,
	}
	s.debouncer = NewDebouncer(cfg.Quiet, cfg.Clock, func(snap Snapshot) {
		s.emit(Event{Kind: EventState, Snapshot: snap})
	})
	return s, nil
}

func validHost(host string) bool {
	if host == "" {
		return false
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if net.ParseIP(host) != nil {
		return true
	}
	return host != "" && !strings.ContainsAny(host, " /\\@:")
}

func (s *Session) ID() string   { return s.id }
func (s *Session) Host() string { return s.host }

func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected && !s.closed
}

// Connect starts the MQTT handshake. The outcome arrives as EventConnected
// or EventError.
func (s *Session) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker("ssl://" + withPort(s.host, RobotPort))
	opts.SetClientID(s.username)
	opts.SetUsername(s.username)
	opts.SetPassword(s.password)
	opts.SetCleanSession(false)
	opts.SetProtocolVersion(4)
	opts.SetTLSConfig(robotTLSConfig())
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetDefaultPublishHandler(s.onMessage)
	opts.SetOnConnectHandler(s.onConnect)
	opts.SetConnectionLostHandler(s.onConnectionLost)

	client := s.newClient(opts)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("connect %s: session closed", s.id)
	}
	s.client = client
	s.mu.Unlock()

	s.log.Info("connecting")
	token := client.Connect()
	go func() {
		select {
		case <-token.Done():
		case <-ctx.Done():
			s.emit(Event{Kind: EventError, Err: fmt.Errorf("connect: %w", ctx.Err())})
			return
		}
		if err := token.Error(); err != nil {
			s.emit(Event{Kind: EventError, Err: fmt.Errorf("connect: %w", err)})
		}
	}()
	return nil
}

func (s *Session) onConnect(mqtt.Client) {
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	s.log.Info("connected")
	s.emit(Event{Kind: EventConnected})
}

func (s *Session) onConnectionLost(_ mqtt.Client, err error) {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	kind := EventOffline
	if errors.Is(err, io.EOF) {
		kind = EventClosed
	}
	s.log.Info("connection lost", zap.Stringer("event", kind), zap.Error(err))
	s.emit(Event{Kind: kind, Err: err})
}

type reportedEnvelope struct {
	State *struct {
		Reported map[string]any `json:"reported"`
	} `json:"state"`
}

func (s *Session) onMessage(_ mqtt.Client, msg mqtt.Message) {
	var env reportedEnvelope
	if err := json.Unmarshal(msg.Payload(), &env); err != nil {
		s.log.Debug("drop malformed packet", zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}
	if env.State == nil || len(env.State.Reported) == 0 {
		s.log.Debug("drop packet without reported state", zap.String("topic", msg.Topic()))
		return
	}
	s.debouncer.Merge(env.State.Reported)
}

func (s *Session) emit(ev Event) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	s.handler(ev)
}

type commandEnvelope struct {
	Command   string `json:"command"`
	Time      int64  `json:"time"`
	Initiator string `json:"initiator"`
}

// Send publishes a command such as start, pause, stop, resume or dock.
func (s *Session) Send(ctx context.Context, command string) error {
	payload, err := json.Marshal(commandEnvelope{
		Command:   command,
		Time:      s.clock.Now().Unix(),
		Initiator: s.initiator,
	})
	if err != nil {
		return err
	}
	return s.publish(ctx, topicCommand, payload)
}

// SendDelta publishes a desired-state change.
func (s *Session) SendDelta(ctx context.Context, delta map[string]any) error {
	payload, err := json.Marshal(map[string]any{"state": delta})
	if err != nil {
		return err
	}
	return s.publish(ctx, topicDelta, payload)
}

func (s *Session) publish(ctx context.Context, topic string, payload []byte) error {
	s.mu.Lock()
	client := s.client
	ready := s.connected && !s.closed && client != nil
	s.mu.Unlock()
	if !ready {
		return ErrNotConnected
	}

	token := client.Publish(topic, 0, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Close suppresses further events, cancels pending telemetry and
// disconnects. Safe to call more than once.
func (s *Session) Close() {
	s.emitMu.Lock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.emitMu.Unlock()
		return
	}
	s.closed = true
	s.connected = false
	client := s.client
	s.client = nil
	s.mu.Unlock()
	s.emitMu.Unlock()

	s.debouncer.Close()
	if client != nil {
		client.Disconnect(disconnectQuiesce)
	}
	s.log.Info("session closed")
}

package irobot

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	// DefaultBroadcastInterval is how often the discovery token is sent.
	// Robots are dropped after two intervals without an announcement.
	DefaultBroadcastInterval = 10 * time.Second

	restartBackoff = time.Second
	maxDatagram    = 2048
)

// FinderConfig configures the discovery service.
type FinderConfig struct {
	Interval      time.Duration
	ListenAddr    string
	BroadcastAddr string
	Resolver      HardwareResolver
	Clock         Clock
	Logger        *zap.Logger
}

// FinderStats counts announcements since start.
type FinderStats struct {
	Accepted  uint64
	Dropped   uint64
	Restarts  uint64
	Broadcast uint64
}

// Finder keeps a registry of robots announcing themselves on the LAN and
// fans updates out to per-identifier subscribers.
type Finder struct {
	cfg FinderConfig
	log *zap.Logger

	mu      sync.Mutex
	robots  map[string]Robot
	subs    map[string]map[int]func(Robot)
	nextSub int

	connMu   sync.Mutex
	conn     net.PacketConn
	shutdown bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	accepted  atomic.Uint64
	dropped   atomic.Uint64
	restarts  atomic.Uint64
	broadcast atomic.Uint64
}

func NewFinder(cfg FinderConfig) *Finder {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultBroadcastInterval
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = fmt.Sprintf("0.0.0.0:%d", DiscoveryPort)
	}
	if cfg.BroadcastAddr == "" {
		cfg.BroadcastAddr = fmt.Sprintf("255.255.255.255:%d", DiscoveryPort)
	}
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Finder{
		cfg:    cfg,
		log:    cfg.Logger.Named("finder"),
		robots: make(map[string]Robot),
		subs:   make(map[string]map[int]func(Robot)),
	}
}

// Start binds the discovery socket, broadcasts once and keeps broadcasting,
// listening and sweeping until ctx ends or Close is called.
func (f *Finder) Start(ctx context.Context) error {
	conn, err := f.listen(ctx)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.setConn(conn)
	f.log.Info("discovery listening", zap.String("addr", conn.LocalAddr().String()))

	f.Broadcast()

	f.wg.Add(3)
	go f.readLoop(ctx)
	go f.tick(ctx, f.Broadcast)
	go f.tick(ctx, func() { f.sweep(f.cfg.Clock.Now()) })
	return nil
}

// LocalAddr reports the bound discovery address, nil before Start.
func (f *Finder) LocalAddr() net.Addr {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return nil
	}
	return f.conn.LocalAddr()
}

// Close stops all loops, closes the socket and forgets every robot and
// subscription.
func (f *Finder) Close() error {
	f.once.Do(func() {
		if f.cancel != nil {
			f.cancel()
		}
		f.connMu.Lock()
		f.shutdown = true
		f.connMu.Unlock()
		f.setConn(nil)
		f.wg.Wait()

		f.mu.Lock()
		f.robots = make(map[string]Robot)
		f.subs = make(map[string]map[int]func(Robot))
		f.mu.Unlock()
		f.log.Info("discovery stopped")
	})
	return nil
}

// Broadcast sends the discovery token. Errors are logged.
func (f *Finder) Broadcast() {
	f.connMu.Lock()
	conn := f.conn
	f.connMu.Unlock()
	if conn == nil {
		return
	}
	addr, err := net.ResolveUDPAddr("udp4", f.cfg.BroadcastAddr)
	if err != nil {
		f.log.Warn("resolve broadcast address", zap.Error(err))
		return
	}
	if _, err := conn.WriteTo([]byte(discoveryToken), addr); err != nil {
		f.log.Warn("broadcast discovery token", zap.Error(err))
		return
	}
	f.broadcast.Add(1)
	f.log.Debug("broadcast discovery token")
}

// Subscribe registers fn for updates of one robot. fn runs on the listener
// goroutine and must not block.
func (f *Finder) Subscribe(id string, fn func(Robot)) (unsubscribe func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs[id] == nil {
		f.subs[id] = make(map[int]func(Robot))
	}
	key := f.nextSub
	f.nextSub++
	f.subs[id][key] = fn

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if callbacks := f.subs[id]; callbacks != nil {
			delete(callbacks, key)
			if len(callbacks) == 0 {
				delete(f.subs, id)
			}
		}
	}
}

// Robots returns the known robots of kind (all when empty), sorted by id.
func (f *Finder) Robots(kind Kind) []Robot {
	f.mu.Lock()
	out := make([]Robot, 0, len(f.robots))
	for _, r := range f.robots {
		if kind == "" || r.Kind == kind {
			out = append(out, r)
		}
	}
	f.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *Finder) Robot(id string) (Robot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.robots[id]
	return r, ok
}

func (f *Finder) Stats() FinderStats {
	return FinderStats{
		Accepted:  f.accepted.Load(),
		Dropped:   f.dropped.Load(),
		Restarts:  f.restarts.Load(),
		Broadcast: f.broadcast.Load(),
	}
}

func (f *Finder) handle(ctx context.Context, raw []byte) {
	a, ok := parseAnnouncement(raw)
	if !ok {
		f.dropped.Add(1)
		f.log.Debug("ignored discovery datagram", zap.ByteString("payload", raw))
		return
	}

	id := a.MAC
	if id == "" && f.cfg.Resolver != nil {
		mac, err := f.cfg.Resolver.Resolve(ctx, a.IP)
		if err != nil {
			f.log.Debug("resolve hardware address", zap.String("ip", a.IP), zap.Error(err))
		}
		id = mac
	}
	if id == "" {
		f.dropped.Add(1)
		f.log.Debug("announcement without identifier", zap.String("hostname", a.Hostname))
		return
	}

	robot := Robot{
		ID:             id,
		Address:        a.IP,
		Name:           a.RobotName,
		Family:         a.Family,
		Kind:           a.Kind(),
		CredentialHint: a.CredentialHint,
		SKU:            a.SKU,
		Firmware:       a.Firmware,
		LastSeen:       f.cfg.Clock.Now(),
	}

	f.mu.Lock()
	f.robots[id] = robot
	callbacks := make([]func(Robot), 0, len(f.subs[id]))
	for _, fn := range f.subs[id] {
		callbacks = append(callbacks, fn)
	}
	f.mu.Unlock()

	f.accepted.Add(1)
	f.log.Debug("robot announced", zap.String("device_id", id), zap.String("ip", robot.Address))
	for _, fn := range callbacks {
		fn(robot)
	}
}

// sweep drops robots not seen within two broadcast intervals of now.
func (f *Finder) sweep(now time.Time) {
	cutoff := now.Add(-2 * f.cfg.Interval)
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, r := range f.robots {
		if r.LastSeen.Before(cutoff) {
			delete(f.robots, id)
			f.log.Debug("robot expired", zap.String("device_id", id))
		}
	}
}

func (f *Finder) readLoop(ctx context.Context) {
	defer f.wg.Done()
	buf := make([]byte, maxDatagram)
	for {
		f.connMu.Lock()
		conn := f.conn
		f.connMu.Unlock()
		if conn == nil {
			return
		}

		n, _, err := conn.ReadFrom(buf)
		if err == nil {
			raw := make([]byte, n)
			copy(raw, buf[:n])
			f.handle(ctx, raw)
			continue
		}
		if ctx.Err() != nil {
			return
		}

		f.restarts.Add(1)
		f.log.Warn("discovery socket error, restarting", zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(restartBackoff):
		}
		next, err := f.listen(ctx)
		if err != nil {
			f.log.Warn("rebind discovery socket", zap.Error(err))
			continue
		}
		f.setConn(next)
	}
}

func (f *Finder) tick(ctx context.Context, fn func()) {
	defer f.wg.Done()
	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// setConn swaps the socket, closing the previous one. After Close only nil
// is accepted.
func (f *Finder) setConn(conn net.PacketConn) {
	f.connMu.Lock()
	if f.shutdown && conn != nil {
		f.connMu.Unlock()
		_ = conn.Close()
		return
	}
	prev := f.conn
	f.conn = conn
	f.connMu.Unlock()
	if prev != nil && prev != conn {
		_ = prev.Close()
	}
}

func (f *Finder) listen(ctx context.Context) (net.PacketConn, error) {
	lc := net.ListenConfig{Control: reuseControl}
	conn, err := lc.ListenPacket(ctx, "udp4", f.cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("bind discovery socket %s: %w", f.cfg.ListenAddr, err)
	}
	return conn, nil
}

// reuseControl lets several listeners share the discovery port and allows
// sending to the broadcast address.
func reuseControl(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = errors.Join(
			unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1),
			unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1),
			unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1),
		)
	})
	if err != nil {
		return err
	}
	return sockErr
}

package irobot

import (
	"sync"
	"time"
)

// DefaultQuietPeriod is how long telemetry must be silent before a merged
// snapshot without mission status is emitted.
const DefaultQuietPeriod = 3 * time.Second

// Debouncer merges reported-state fragments into one snapshot. Fragments
// carrying mission status are emitted immediately; everything else waits
// for a quiet period after the latest fragment.
type Debouncer struct {
	quiet time.Duration
	clock Clock
	emit  func(Snapshot)

	// emitMu keeps emissions in merge order.
	emitMu sync.Mutex

	mu       sync.Mutex
	snapshot Snapshot
	gen      uint64
	stop     func() bool
	closed   bool
}

func NewDebouncer(quiet time.Duration, clock Clock, emit func(Snapshot)) *Debouncer {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	if clock == nil {
		clock = realClock{}
	}
	return &Debouncer{
		quiet:    quiet,
		clock:    clock,
		emit:     emit,
		snapshot: make(Snapshot),
	}
}

// Merge applies fragment over the snapshot, new values winning.
func (d *Debouncer) Merge(fragment map[string]any) {
	d.emitMu.Lock()
	defer d.emitMu.Unlock()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	for k, v := range fragment {
		d.snapshot[k] = v
	}
	d.cancelLocked()

	if !hasMissionStatus(fragment) {
		gen := d.gen
		d.stop = d.clock.AfterFunc(d.quiet, func() { d.fire(gen) })
		d.mu.Unlock()
		return
	}
	snap := d.snapshot.Clone()
	d.mu.Unlock()
	d.emit(snap)
}

// Snapshot returns a copy of the merged state.
func (d *Debouncer) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshot.Clone()
}

// Close cancels any pending emission. Later merges are ignored.
func (d *Debouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.cancelLocked()
}

// cancelLocked stops the pending timer and invalidates it should it already
// be running.
func (d *Debouncer) cancelLocked() {
	d.gen++
	if d.stop != nil {
		d.stop()
		d.stop = nil
	}
}

func (d *Debouncer) fire(gen uint64) {
	d.emitMu.Lock()
	defer d.emitMu.Unlock()

	d.mu.Lock()
	if d.closed || gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.stop = nil
	snap := d.snapshot.Clone()
	d.mu.Unlock()
	d.emit(snap)
}

func hasMissionStatus(fragment map[string]any) bool {
	status, ok := fragment["cleanMissionStatus"].(map[string]any)
	if !ok {
		return false
	}
	_, hasCycle := status["cycle"]
	_, hasPhase := status["phase"]
	return hasCycle && hasPhase
}

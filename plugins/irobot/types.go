package irobot

import (
	"fmt"
	"time"
)

// Kind separates vacuum robots from mopping robots.
type Kind string

const (
	KindVacuum Kind = "vacuum"
	KindMop    Kind = "mop"
)

// ParseKind accepts "vacuum", "mop" or empty (any kind).
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case "", KindVacuum, KindMop:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown robot kind %q", s)
}

// StateCapability is the host capability carrying the normalized state.
func (k Kind) StateCapability() string {
	if k == KindMop {
		return CapabilityMopState
	}
	return CapabilityVacuumState
}

// Robot is a robot seen on the LAN.
type Robot struct {
	ID             string    `json:"id"`
	Address        string    `json:"ip"`
	Name           string    `json:"name"`
	Family         string    `json:"family"`
	Kind           Kind      `json:"kind"`
	CredentialHint string    `json:"credential_hint"`
	SKU            string    `json:"sku,omitempty"`
	Firmware       string    `json:"firmware,omitempty"`
	LastSeen       time.Time `json:"last_seen"`
}

// State is the normalized robot state reported to the host.
type State string

const (
	StateStopped      State = "stopped"
	StateCleaning     State = "cleaning"
	StateSpotCleaning State = "spot_cleaning"
	StateDocked       State = "docked"
	StateCharging     State = "charging"
)

// Host capability names.
const (
	CapabilityVacuumState = "vacuumcleaner_state"
	CapabilityMopState    = "mob_state"
	CapabilityBattery     = "measure_battery"
	CapabilityBinFull     = "bin_full"
	CapabilityBinPresent  = "bin_present"
	CapabilityTankFull    = "tank_full"
	CapabilityTankPresent = "tank_present"
	CapabilityLidClosed   = "lid_closed"
	CapabilityDetectedPad = "detected_pad"
)

// Snapshot is the merged reported state of a robot.
type Snapshot map[string]any

// Clone returns a shallow copy.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// EventKind enumerates session lifecycle events.
type EventKind int

const (
	EventConnected EventKind = iota
	EventOffline
	EventClosed
	EventError
	EventState
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventOffline:
		return "offline"
	case EventClosed:
		return "closed"
	case EventError:
		return "error"
	case EventState:
		return "state"
	}
	return "unknown"
}

// Event is emitted by a Session.
type Event struct {
	Kind     EventKind
	Err      error
	Snapshot Snapshot
}

// Clock abstracts timers so debounce and polling can be driven by tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

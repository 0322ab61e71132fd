// Package host is the in-process device registry the plugins report into:
// capability listeners, capability values, availability and flow conditions.
package host

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrUnknownCapability = errors.New("capability not declared")
	ErrNoListener        = errors.New("capability has no listener")
	ErrValueUnknown      = errors.New("capability value not yet known")
	ErrUnknownDevice     = errors.New("device not registered")
)

// Listener handles a capability change requested by the user. Returning an
// error rejects the change and leaves the stored value untouched.
type Listener func(ctx context.Context, value any) error

// Device is the host-facing contract a plugin device adapter consumes.
type Device interface {
	ID() string
	RegisterCapabilityListener(capability string, fn Listener)
	SetCapabilityValue(capability string, value any) error
	CapabilityValue(capability string) (any, bool)
	HasCapability(capability string) bool
	AddCapability(capability string) error
	SetAvailable() error
	SetUnavailable(reason string) error
	Available() (bool, string)
}

// DeviceView is a read-only copy of a device for APIs.
type DeviceView struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Available    bool           `json:"available"`
	Reason       string         `json:"unavailable_reason,omitempty"`
	Capabilities map[string]any `json:"capabilities"`
}

// Hub owns all registered devices.
type Hub struct {
	mu      sync.RWMutex
	devices map[string]*MemoryDevice
}

func NewHub() *Hub {
	return &Hub{devices: make(map[string]*MemoryDevice)}
}

// AddDevice registers a device with its statically declared capabilities.
// Registering an existing id returns the existing device.
func (h *Hub) AddDevice(id, name string, capabilities ...string) *MemoryDevice {
	h.mu.Lock()
	defer h.mu.Unlock()
	if dev, ok := h.devices[id]; ok {
		return dev
	}
	dev := &MemoryDevice{
		id:        id,
		name:      name,
		declared:  make(map[string]bool),
		values:    make(map[string]any),
		listeners: make(map[string]Listener),
		reason:    "initializing",
	}
	for _, c := range capabilities {
		dev.declared[c] = true
	}
	h.devices[id] = dev
	return dev
}

func (h *Hub) Device(id string) (*MemoryDevice, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	dev, ok := h.devices[id]
	return dev, ok
}

func (h *Hub) RemoveDevice(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.devices, id)
}

// Devices returns views sorted by id.
func (h *Hub) Devices() []DeviceView {
	h.mu.RLock()
	list := make([]*MemoryDevice, 0, len(h.devices))
	for _, dev := range h.devices {
		list = append(list, dev)
	}
	h.mu.RUnlock()

	out := make([]DeviceView, 0, len(list))
	for _, dev := range list {
		out = append(out, dev.View())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MemoryDevice is the in-process Device implementation.
type MemoryDevice struct {
	id   string
	name string

	mu        sync.RWMutex
	declared  map[string]bool
	values    map[string]any
	listeners map[string]Listener
	available bool
	reason    string
}

func (d *MemoryDevice) ID() string { return d.id }

func (d *MemoryDevice) RegisterCapabilityListener(capability string, fn Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners[capability] = fn
}

func (d *MemoryDevice) SetCapabilityValue(capability string, value any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.declared[capability] {
		return fmt.Errorf("%s: %w", capability, ErrUnknownCapability)
	}
	d.values[capability] = value
	return nil
}

func (d *MemoryDevice) CapabilityValue(capability string) (any, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.values[capability]
	return v, ok
}

func (d *MemoryDevice) HasCapability(capability string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.declared[capability]
}

func (d *MemoryDevice) AddCapability(capability string) error {
	if capability == "" {
		return fmt.Errorf("capability name is required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.declared[capability] = true
	return nil
}

func (d *MemoryDevice) SetAvailable() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.available = true
	d.reason = ""
	return nil
}

func (d *MemoryDevice) SetUnavailable(reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.available = false
	d.reason = reason
	return nil
}

func (d *MemoryDevice) Available() (bool, string) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.available, d.reason
}

// TriggerCapability runs the registered listener as if the user changed the
// capability, storing the value only when the listener accepts it.
func (d *MemoryDevice) TriggerCapability(ctx context.Context, capability string, value any) error {
	d.mu.RLock()
	fn, ok := d.listeners[capability]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", capability, ErrNoListener)
	}
	if err := fn(ctx, value); err != nil {
		return err
	}
	return d.SetCapabilityValue(capability, value)
}

func (d *MemoryDevice) View() DeviceView {
	d.mu.RLock()
	defer d.mu.RUnlock()
	caps := make(map[string]any, len(d.declared))
	for c := range d.declared {
		caps[c] = d.values[c]
	}
	return DeviceView{
		ID:           d.id,
		Name:         d.name,
		Available:    d.available,
		Reason:       d.reason,
		Capabilities: caps,
	}
}

// Condition evaluates a boolean flow condition backed by a capability value.
func Condition(dev Device, capability string) (bool, error) {
	if !dev.HasCapability(capability) {
		return false, fmt.Errorf("%s: %w", capability, ErrUnknownCapability)
	}
	v, ok := dev.CapabilityValue(capability)
	if !ok {
		return false, fmt.Errorf("%s: %w", capability, ErrValueUnknown)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("capability %s is not boolean", capability)
	}
	return b, nil
}

// Package store persists the mutable per-device record (network address and
// credentials) that the hub keeps for every paired robot.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/joshp123/gohome-irobot/internal/config"
)

var ErrNotFound = errors.New("device record not found")

// Auth holds the credentials obtained during pairing.
type Auth struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

// Record is the persisted store layout: {ip, auth: {username, password}}.
type Record struct {
	IP   string `json:"ip,omitempty" yaml:"ip,omitempty"`
	Auth *Auth  `json:"auth,omitempty" yaml:"auth,omitempty"`
}

// HasAuth reports whether both credential fields are present.
func (r Record) HasAuth() bool {
	return r.Auth != nil && r.Auth.Username != "" && r.Auth.Password != ""
}

// Store loads and saves device records keyed by device identifier.
type Store interface {
	Load(ctx context.Context, deviceID string) (Record, error)
	Save(ctx context.Context, deviceID string, record Record) error
}

// New builds the store backend selected in config.
func New(cfg config.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case config.StoreBackendFile, "":
		return NewFileStore(cfg.Path)
	case config.StoreBackendS3:
		return NewS3Store(cfg.S3)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// Migrate moves ip and auth from the legacy immutable device identity into
// the store when the store does not have them yet. It returns the merged record.
func Migrate(ctx context.Context, st Store, deviceID string, legacy Record) (Record, error) {
	current, err := st.Load(ctx, deviceID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Record{}, fmt.Errorf("load %s: %w", deviceID, err)
	}

	changed := false
	if current.IP == "" && legacy.IP != "" {
		current.IP = legacy.IP
		changed = true
	}
	if current.Auth == nil && legacy.Auth != nil {
		auth := *legacy.Auth
		current.Auth = &auth
		changed = true
	}
	if !changed {
		return current, nil
	}
	if err := st.Save(ctx, deviceID, current); err != nil {
		return Record{}, fmt.Errorf("migrate %s: %w", deviceID, err)
	}
	return current, nil
}

// objectName maps a device identifier (usually a MAC address) to a file or
// object name that is safe on every backend.
func objectName(deviceID string) string {
	return strings.NewReplacer(":", "-", "/", "_").Replace(strings.ToLower(deviceID))
}

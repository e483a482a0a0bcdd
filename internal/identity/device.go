// Package identity owns the stable per-device identifier, the display nickname,
// and small stateless helpers shared across the module.
package identity

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const (
	deviceIDKey = "device_id"
	nicknameKey = "nickname"
)

// Storage is the device-local key/value area identity is persisted in.
// A missing key returns ok=false and a nil error.
type Storage interface {
	Preference(ctx context.Context, key string) (value string, ok bool, err error)
	SetPreference(ctx context.Context, key, value string) error
}

// Provider hands out the device id and nickname. Storage failures are logged;
// values are kept in memory so they stay stable for the process lifetime.
type Provider struct {
	storage Storage
	logger  *slog.Logger

	mu       sync.Mutex
	deviceID string
	nickname string
}

func NewProvider(storage Storage, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{storage: storage, logger: logger}
}

// DeviceID returns the persisted id, creating and storing one on first use.
func (p *Provider) DeviceID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deviceIDLocked()
}

func (p *Provider) deviceIDLocked() string {
	if p.deviceID != "" {
		return p.deviceID
	}
	ctx := context.Background()
	id, ok, err := p.storage.Preference(ctx, deviceIDKey)
	if err != nil {
		p.logger.Warn("read device id", "error", err)
	}
	if !ok || id == "" {
		id = uuid.NewString()
		if err := p.storage.SetPreference(ctx, deviceIDKey, id); err != nil {
			p.logger.Warn("persist device id", "error", err)
		}
	}
	p.deviceID = id
	return id
}

// Nickname returns the stored nickname or "Student_" plus the first six characters of the device id.
func (p *Provider) Nickname() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.nickname != "" {
		return p.nickname
	}
	name, ok, err := p.storage.Preference(context.Background(), nicknameKey)
	if err != nil {
		p.logger.Warn("read nickname", "error", err)
	}
	if ok && name != "" {
		p.nickname = name
		return name
	}
	return DefaultNickname(p.deviceIDLocked())
}

func (p *Provider) SetNickname(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nickname = name
	if err := p.storage.SetPreference(context.Background(), nicknameKey, name); err != nil {
		p.logger.Warn("persist nickname", "error", err)
	}
}

// DefaultNickname derives the fallback display name for a device id.
func DefaultNickname(deviceID string) string {
	prefix := deviceID
	if len(prefix) > 6 {
		prefix = prefix[:6]
	}
	return "Student_" + prefix
}

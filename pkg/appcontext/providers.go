package appcontext

import (
	"runtime"
	"sync"
	"time"

	"telemetrycore/pkg/logger"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/host"
)

// HostDeviceProvider reads host information once and caches it.
type HostDeviceProvider struct {
	once   sync.Once
	device Device
}

func (h *HostDeviceProvider) Device() Device {
	h.once.Do(func() {
		h.device = Device{OS: runtime.GOOS, Architecture: runtime.GOARCH}
		info, err := host.Info()
		if err != nil {
			logger.Warn("device_info_unavailable", "error", err)
			return
		}
		h.device.Hostname = info.Hostname
		h.device.Platform = info.Platform
		h.device.OSVersion = info.PlatformVersion
		h.device.HostID = info.HostID
		if info.KernelArch != "" {
			h.device.Architecture = info.KernelArch
		}
	})
	return h.device
}

// UserInfoStore is a settable UserProvider.
type UserInfoStore struct {
	mu   sync.RWMutex
	user User
}

func (s *UserInfoStore) User() User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// Set replaces the current user.
func (s *UserInfoStore) Set(u User) {
	s.mu.Lock()
	s.user = u
	s.mu.Unlock()
}

// SessionStore hands out random session ids and rotates them on demand.
type SessionStore struct {
	mu      sync.RWMutex
	session Session
	now     func() time.Time
}

// NewSessionStore starts a first session. now may be nil.
func NewSessionStore(now func() time.Time) *SessionStore {
	if now == nil {
		now = time.Now
	}
	s := &SessionStore{now: now}
	s.Rotate()
	return s
}

func (s *SessionStore) Session() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// Rotate starts a new session and returns it.
func (s *SessionStore) Rotate() Session {
	next := Session{ID: uuid.NewString(), StartedAt: s.now()}
	s.mu.Lock()
	s.session = next
	s.mu.Unlock()
	return next
}

// StaticNetworkProvider reports a fixed network state, settable at runtime.
type StaticNetworkProvider struct {
	mu      sync.RWMutex
	network Network
}

// NewStaticNetworkProvider returns a provider reporting n.
func NewStaticNetworkProvider(n Network) *StaticNetworkProvider {
	return &StaticNetworkProvider{network: n}
}

func (p *StaticNetworkProvider) Network() Network {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.network
}

// Set replaces the reported state.
func (p *StaticNetworkProvider) Set(n Network) {
	p.mu.Lock()
	p.network = n
	p.mu.Unlock()
}

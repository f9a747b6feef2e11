// Package appcontext builds the snapshot of shared state that accompanies
// every write: device, user, session, network, consent and clock offset.
package appcontext

import (
	"time"

	"telemetrycore/pkg/consent"
)

// Device describes the host the SDK runs on.
type Device struct {
	Hostname     string `json:"hostname,omitempty"`
	OS           string `json:"os,omitempty"`
	Platform     string `json:"platform,omitempty"`
	OSVersion    string `json:"os_version,omitempty"`
	Architecture string `json:"architecture,omitempty"`
	HostID       string `json:"host_id,omitempty"`
}

// User is the end user identity supplied by the application.
type User struct {
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Email string         `json:"email,omitempty"`
	Extra map[string]any `json:"extra,omitempty"`
}

// Session identifies the current application session.
type Session struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
}

// Network describes connectivity as reported by the host application.
type Network struct {
	Reachable bool   `json:"reachable"`
	Interface string `json:"interface,omitempty"`
	Carrier   string `json:"carrier,omitempty"`
}

// Context is an immutable copy taken once per write.
type Context struct {
	Service          string        `json:"service"`
	Env              string        `json:"env"`
	Version          string        `json:"version"`
	SDKVersion       string        `json:"sdk_version"`
	Consent          consent.State `json:"-"`
	ServerTimeOffset time.Duration `json:"server_time_offset"`
	Device           Device        `json:"device"`
	User             User          `json:"user"`
	Session          Session       `json:"session"`
	Network          Network       `json:"network"`
}

// Clone returns a deep copy of c, so callers may mutate their copy.
func (c Context) Clone() Context {
	if c.User.Extra != nil {
		extra := make(map[string]any, len(c.User.Extra))
		for k, v := range c.User.Extra {
			extra[k] = v
		}
		c.User.Extra = extra
	}
	return c
}

// DeviceProvider supplies device information.
type DeviceProvider interface {
	Device() Device
}

// UserProvider supplies the current user.
type UserProvider interface {
	User() User
}

// SessionProvider supplies the current session.
type SessionProvider interface {
	Session() Session
}

// NetworkProvider supplies connectivity information.
type NetworkProvider interface {
	Network() Network
}

// Providers groups the capabilities a snapshot is assembled from. Nil
// providers leave their section empty.
type Providers struct {
	Device  DeviceProvider
	User    UserProvider
	Session SessionProvider
	Network NetworkProvider
}

// Static holds the fields that never change for the lifetime of a core.
type Static struct {
	Service    string
	Env        string
	Version    string
	SDKVersion string
}

// Snapshot assembles a Context from the providers.
func Snapshot(static Static, p Providers, state consent.State, offset time.Duration) Context {
	c := Context{
		Service:          static.Service,
		Env:              static.Env,
		Version:          static.Version,
		SDKVersion:       static.SDKVersion,
		Consent:          state,
		ServerTimeOffset: offset,
	}
	if p.Device != nil {
		c.Device = p.Device.Device()
	}
	if p.User != nil {
		c.User = p.User.User()
	}
	if p.Session != nil {
		c.Session = p.Session.Session()
	}
	if p.Network != nil {
		c.Network = p.Network.Network()
	}
	return c.Clone()
}

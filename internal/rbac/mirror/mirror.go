// Package mirror is the client-side copy of the permission decision. It only
// decides whether to show an affordance; the server guard stays authoritative.
package mirror

import (
	"strings"
	"time"
)

// Payload is the JSON document the server hands to clients.
type Payload struct {
	Role string `json:"role"`
	// Admin marks the administrator role. Its Defaults hold the full catalog.
	Admin    bool      `json:"admin"`
	Defaults []string  `json:"defaults"`
	Added    []string  `json:"added"`
	Removed  []string  `json:"removed"`
	Version  int64     `json:"version"`
	IssuedAt time.Time `json:"issued_at"`
}

// Mirror answers Has from the last payload received.
type Mirror struct {
	payload *Payload
	maxAge  time.Duration
	now     func() time.Time
}

// Option configures a Mirror.
type Option func(*Mirror)

// WithMaxAge treats payloads older than d as stale. Zero disables the check.
func WithMaxAge(d time.Duration) Option {
	return func(m *Mirror) { m.maxAge = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Mirror) { m.now = now }
}

// New builds a mirror. A nil payload denies everything.
func New(p *Payload, opts ...Option) *Mirror {
	m := &Mirror{payload: p, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Has reports whether the affordance for permission should be shown.
func (m *Mirror) Has(permission string) bool {
	if m == nil || m.payload == nil {
		return false
	}
	p := m.payload
	if strings.TrimSpace(p.Role) == "" || p.IssuedAt.IsZero() {
		return false
	}
	if m.maxAge > 0 && m.now().Sub(p.IssuedAt) > m.maxAge {
		return false
	}
	permission = strings.ToLower(strings.TrimSpace(permission))
	if permission == "" {
		return false
	}
	if p.Admin {
		return contains(p.Defaults, permission)
	}
	if contains(p.Removed, permission) {
		return false
	}
	return contains(p.Defaults, permission) || contains(p.Added, permission)
}

// Stale reports whether the payload is missing or past its max age.
func (m *Mirror) Stale() bool {
	if m == nil || m.payload == nil || m.payload.IssuedAt.IsZero() {
		return true
	}
	return m.maxAge > 0 && m.now().Sub(m.payload.IssuedAt) > m.maxAge
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

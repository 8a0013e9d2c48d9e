package mirror

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var issued = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func clock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestHas(t *testing.T) {
	payload := &Payload{
		Role:     "leader",
		Defaults: []string{"events.create", "events.view"},
		Added:    []string{"events.delete", "members.view"},
		Removed:  []string{"members.view"},
		Version:  3,
		IssuedAt: issued,
	}
	m := New(payload, WithClock(clock(issued.Add(time.Minute))))

	require.True(t, m.Has("events.view"))
	require.True(t, m.Has(" Events.Delete "))
	require.False(t, m.Has("members.view"))
	require.False(t, m.Has("financial.delete"))
	require.False(t, m.Has(""))
	require.False(t, m.Stale())
}

func TestHasDeniesWithoutPayload(t *testing.T) {
	require.False(t, New(nil).Has("events.view"))
	require.True(t, New(nil).Stale())

	var m *Mirror
	require.False(t, m.Has("events.view"))
	require.True(t, m.Stale())
}

func TestHasDeniesIncompletePayload(t *testing.T) {
	require.False(t, New(&Payload{Defaults: []string{"events.view"}, IssuedAt: issued}).Has("events.view"))
	require.False(t, New(&Payload{Role: "member", Defaults: []string{"events.view"}}).Has("events.view"))
}

func TestHasDeniesStalePayload(t *testing.T) {
	payload := &Payload{Role: "member", Defaults: []string{"events.view"}, IssuedAt: issued}

	fresh := New(payload, WithMaxAge(5*time.Minute), WithClock(clock(issued.Add(4*time.Minute))))
	require.True(t, fresh.Has("events.view"))

	stale := New(payload, WithMaxAge(5*time.Minute), WithClock(clock(issued.Add(6*time.Minute))))
	require.False(t, stale.Has("events.view"))
	require.True(t, stale.Stale())
}

func TestAdministratorIgnoresOverrides(t *testing.T) {
	payload := &Payload{
		Role:     "administrator",
		Admin:    true,
		Defaults: []string{"financial.delete", "users.permissions"},
		Removed:  []string{"financial.delete"},
		IssuedAt: issued,
	}
	m := New(payload, WithClock(clock(issued)))

	require.True(t, m.Has("financial.delete"))
	require.True(t, m.Has("users.permissions"))
	require.False(t, m.Has("members.teleport"))
}

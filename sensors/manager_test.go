package sensors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kastur/interdroid-swan/core"
)

// failing is a sensor whose registrations always fail.
type failing struct {
	*MemorySensor
}

func (f *failing) Register(ctx context.Context, id, valuePath string, config Config) error {
	return &core.SetupFailedError{ID: id, Resource: "device", Err: errors.New("unplugged")}
}

func TestManagerRouting(t *testing.T) {
	ctx := context.Background()
	m := NewManager()
	one := NewMemorySensor(testScheme(), nil, 10)
	two := NewMemorySensor(testScheme(), nil, 10)
	m.Add("one", one)
	m.Add("two", two)
	assert.Equal(t, []string{"one", "two"}, m.Entities())

	var sm core.SensorManager = m
	err := sm.Register(ctx, "x", "three", "a", nil)
	assert.ErrorIs(t, err, core.ErrConfiguration)
	assert.ErrorIs(t, err, ErrUnknownSensor)

	require.NoError(t, sm.Register(ctx, "x", "one", "a", map[string]string{"k": "v"}))
	one.Put(ctx, "a", 7.0, at(0), 0)
	vs, err := sm.Values(ctx, "x", at(10), 0)
	require.NoError(t, err)
	require.Len(t, vs, 1)
	assert.Equal(t, 7.0, vs[0].Value)

	require.NoError(t, sm.Register(ctx, "x", "two", "a", nil), "move to another sensor")
	_, have := one.Registration("x")
	assert.False(t, have, "old sensor released the id")
	_, have = two.Registration("x")
	assert.True(t, have)

	require.NoError(t, sm.Unregister(ctx, "x"))
	require.NoError(t, sm.Unregister(ctx, "x"), "unknown id")
	_, err = sm.Values(ctx, "x", at(10), 0)
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestManagerSetupFailure(t *testing.T) {
	ctx := context.Background()
	m := NewManager()
	m.Add("bad", &failing{NewMemorySensor(testScheme(), nil, 10)})

	err := m.Register(ctx, "x", "bad", "a", nil)
	assert.ErrorIs(t, err, core.ErrSetupFailed)
	_, err = m.Values(ctx, "x", at(0), 0)
	assert.ErrorIs(t, err, ErrNotRegistered, "failed registration isn't recorded")
}

func TestManagerNotifier(t *testing.T) {
	ctx := context.Background()
	m := NewManager()
	early := NewMemorySensor(testScheme(), nil, 10)
	m.Add("early", early)

	var ns notes
	m.SetNotifier(ns.notify)

	late := NewMemorySensor(testScheme(), nil, 10)
	m.Add("late", late)

	require.NoError(t, m.Register(ctx, "x", "early", "a", nil))
	require.NoError(t, m.Register(ctx, "y", "late", "b", nil))
	early.Put(ctx, "a", 1.0, at(0), 0)
	late.Put(ctx, "b", "s", at(0), 0)
	assert.Equal(t, []string{"x", "y"}, ns.all())
}

func TestManagerPullAndClose(t *testing.T) {
	ctx := context.Background()
	m := NewManager()
	s := NewMemorySensor(testScheme(), nil, 10)
	m.Add("s", s)

	err := m.SendPullRequest(ctx, "x", at(0), time.Second, time.Second, at(1000))
	assert.ErrorIs(t, err, ErrNotRegistered)

	require.NoError(t, m.Register(ctx, "x", "s", "a", nil))
	err = m.SendPullRequest(ctx, "x", at(0), time.Second, time.Second, at(1000))
	assert.ErrorIs(t, err, ErrPullUnsupported)

	require.NoError(t, m.Connect(ctx))
	require.NoError(t, m.Close(ctx))
	assert.Empty(t, s.Registrations())
	_, err = m.Values(ctx, "x", at(0), 0)
	assert.ErrorIs(t, err, ErrNotRegistered)
}

package movement

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kastur/interdroid-swan/core"
	"github.com/kastur/interdroid-swan/sensors"
)

// fakeAccelerometer records the delays it was started with.
type fakeAccelerometer struct {
	sync.Mutex
	starts  []int
	stops   int
	f       func(Sample)
	failing error
}

func (a *fakeAccelerometer) Start(ctx context.Context, delay int, f func(Sample)) error {
	a.Lock()
	defer a.Unlock()
	if a.failing != nil {
		return a.failing
	}
	a.starts = append(a.starts, delay)
	a.f = f
	return nil
}

func (a *fakeAccelerometer) Stop(ctx context.Context) error {
	a.Lock()
	defer a.Unlock()
	a.stops++
	a.f = nil
	return nil
}

func (a *fakeAccelerometer) emit(s Sample) {
	a.Lock()
	f := a.f
	a.Unlock()
	if f != nil {
		f(s)
	}
}

func (a *fakeAccelerometer) started() []int {
	a.Lock()
	defer a.Unlock()
	return append([]int(nil), a.starts...)
}

func TestMergedDelay(t *testing.T) {
	ctx := context.Background()
	acc := &fakeAccelerometer{}
	s := New(acc)

	require.NoError(t, s.Register(ctx, "a", "x", nil))
	require.NoError(t, s.Register(ctx, "b", "total", sensors.Config{"accuracy": "1"}))
	require.NoError(t, s.Register(ctx, "c", "z", sensors.Config{"accuracy": "-4"}))
	assert.Equal(t, []int{DelayNormal, DelayGame, DelayFastest}, acc.started())
	d, on := s.Delay()
	assert.True(t, on)
	assert.Equal(t, DelayFastest, d, "clamped")

	require.NoError(t, s.Unregister(ctx, "c"))
	d, _ = s.Delay()
	assert.Equal(t, DelayGame, d)

	require.NoError(t, s.Unregister(ctx, "b"))
	require.NoError(t, s.Unregister(ctx, "a"))
	_, on = s.Delay()
	assert.False(t, on)
	assert.Equal(t, 0, s.Subscribers())
}

func TestSamples(t *testing.T) {
	ctx := context.Background()
	acc := &fakeAccelerometer{}
	s := New(acc)
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Register(ctx, "a", "x", nil))
	require.NoError(t, s.Register(ctx, "b", "total", nil))
	acc.emit(Sample{X: 3, Y: 0, Z: 4, Time: t0})
	acc.emit(Sample{X: 1, Y: 2, Z: 2, Time: t0.Add(time.Second)})

	vs, err := s.Values(ctx, "a", t0.Add(time.Second), 10*time.Second)
	require.NoError(t, err)
	require.Len(t, vs, 2)
	assert.Equal(t, 3.0, vs[0].Value)
	assert.Equal(t, t0.Add(Expiry), vs[0].ExpiresAt)

	vs, err = s.Values(ctx, "b", t0.Add(time.Second), 0)
	require.NoError(t, err)
	require.Len(t, vs, 1)
	assert.Equal(t, 3.0, vs[0].Value)

	vs, err = s.Values(ctx, "b", t0.Add(Expiry+time.Second), 0)
	require.NoError(t, err)
	assert.Empty(t, vs, "expired")
}

func TestRegisterErrors(t *testing.T) {
	ctx := context.Background()
	acc := &fakeAccelerometer{}
	s := New(acc)

	err := s.Register(ctx, "a", "x", sensors.Config{"accuracy": "fast"})
	assert.ErrorIs(t, err, core.ErrConfiguration)
	err = s.Register(ctx, "a", "w", nil)
	assert.ErrorIs(t, err, sensors.ErrUnknownValuePath)

	acc.failing = errors.New("no accelerometer")
	err = s.Register(ctx, "a", "x", nil)
	assert.ErrorIs(t, err, core.ErrSetupFailed)
	assert.Empty(t, s.Registrations())
}

func TestPullWindows(t *testing.T) {
	ctx := context.Background()
	acc := &fakeAccelerometer{}
	s := New(acc)

	err := s.SendPullRequest(ctx, "a", time.Now(), 0, time.Second, time.Now().Add(time.Second))
	assert.ErrorIs(t, err, sensors.ErrNotRegistered)

	require.NoError(t, s.Register(ctx, "a", "x", sensors.Config{"accuracy": "2"}))
	start := time.Now().Add(20 * time.Millisecond)
	require.NoError(t, s.SendPullRequest(ctx, "a", start, 100*time.Millisecond, 30*time.Millisecond, start.Add(150*time.Millisecond)))

	// Two windows: [20ms, 50ms) and [120ms, 150ms).
	assert.Eventually(t, func() bool { return s.Subscribers() == 2 }, time.Second, 2*time.Millisecond, "first window opens")
	assert.Eventually(t, func() bool { return s.Subscribers() == 1 }, time.Second, 2*time.Millisecond, "first window closes")
	assert.Eventually(t, func() bool { return s.Subscribers() == 2 }, time.Second, 2*time.Millisecond, "second window opens")

	require.NoError(t, s.Unregister(ctx, "a"))
	assert.Equal(t, 0, s.Subscribers(), "open window released with its id")
}

func TestSimulated(t *testing.T) {
	ctx := context.Background()
	acc := &Simulated{}
	s := New(acc)

	require.NoError(t, s.Register(ctx, "a", "total", sensors.Config{"accuracy": "0"}))
	assert.Eventually(t, func() bool {
		vs, err := s.Values(ctx, "a", time.Now(), 0)
		return err == nil && len(vs) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, DelayFastest, acc.Delay())

	vs, _ := s.Values(ctx, "a", time.Now(), 0)
	total := vs[0].Value.(float64)
	assert.InDelta(t, math.Sqrt(0.01+9.81*9.81), total, 1e-9)

	require.NoError(t, s.OnDestroy(ctx))
	assert.Empty(t, s.Registrations())
}

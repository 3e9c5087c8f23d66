package timers

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func started(t *testing.T, max int) (*Timers, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ts, err := NewTimers(max)
	require.NoError(t, err)
	go ts.Run(ctx)
	require.True(t, ts.Wait(time.Second), "timers didn't start running")
	return ts, cancel
}

func TestTimersBasic(t *testing.T) {
	ts, cancel := started(t, 10)
	defer cancel()

	firings := make(chan string, 16)
	f := func(_ context.Context, t *Timer) {
		firings <- t.ID
	}
	ft := func(id string, d time.Duration) {
		require.NoError(t, ts.Add(&Timer{ID: id, At: time.Now().Add(d), F: f}))
	}

	ft("3", 200*time.Millisecond)
	ft("2", 100*time.Millisecond)
	ft("1", 60*time.Millisecond)
	require.NoError(t, ts.Rem("2"))
	ft("5", 300*time.Millisecond)
	ft("4", 240*time.Millisecond)
	require.NoError(t, ts.Rem("5"))
	ft("6", 400*time.Millisecond)
	assert.Equal(t, []string{"1", "3", "4", "6"}, ts.Pending())

	var heard []string
	timeout := time.After(3 * time.Second)
	for len(heard) < 4 {
		select {
		case id := <-firings:
			heard = append(heard, id)
		case <-timeout:
			t.Fatalf("only heard %v", heard)
		}
	}
	assert.Equal(t, []string{"1", "3", "4", "6"}, heard)
	assert.Empty(t, ts.Pending())
}

func TestTimersSchedule(t *testing.T) {
	ts, cancel := started(t, 10)
	defer cancel()

	firings := make(chan time.Time, 4)
	f := func(_ context.Context, t *Timer) {
		firings <- t.At
	}

	first := time.Now().Add(time.Hour)
	require.NoError(t, ts.Schedule("a", first, f))
	assert.ErrorIs(t, ts.Add(&Timer{ID: "a", At: first, F: f}), ErrIDExists)

	soon := time.Now().Add(10 * time.Millisecond)
	require.NoError(t, ts.Schedule("a", soon, f), "replace")
	assert.Equal(t, []string{"a"}, ts.Pending())

	select {
	case got := <-firings:
		assert.Equal(t, soon, got)
	case <-time.After(2 * time.Second):
		t.Fatal("replacement didn't fire")
	}
	require.NoError(t, ts.Rem("a"), "gone already")
}

func TestTimersSooner(t *testing.T) {
	ts, cancel := started(t, 10)
	defer cancel()

	var (
		mu  sync.Mutex
		got []string
	)
	tag := func(s string) func(context.Context, *Timer) {
		return func(context.Context, *Timer) {
			mu.Lock()
			got = append(got, s)
			mu.Unlock()
		}
	}

	now := time.Now()
	require.NoError(t, ts.Sooner("a", now.Add(time.Hour), tag("late")))
	require.NoError(t, ts.Sooner("a", now.Add(20*time.Millisecond), tag("early")))
	require.NoError(t, ts.Sooner("a", now.Add(time.Minute), tag("ignored")))
	assert.Equal(t, []string{"a"}, ts.Pending())

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"early"}, got)
	mu.Unlock()
}

func TestTimersErrors(t *testing.T) {
	_, err := NewTimers(0)
	assert.ErrorIs(t, err, ErrBadMax)

	ts, err := NewTimers(2)
	require.NoError(t, err)
	assert.ErrorIs(t, ts.Add(&Timer{ID: "a"}), ErrNotRunning)
	assert.ErrorIs(t, ts.Rem("a"), ErrNotRunning)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- ts.Run(ctx) }()
	require.True(t, ts.Wait(time.Second))
	assert.ErrorIs(t, ts.Run(ctx), ErrAlreadyRunning)

	later := time.Now().Add(time.Hour)
	f := func(context.Context, *Timer) {}
	require.NoError(t, ts.Add(&Timer{ID: "a", At: later, F: f}))
	require.NoError(t, ts.Add(&Timer{ID: "b", At: later, F: f}))
	assert.ErrorIs(t, ts.Add(&Timer{ID: "c", At: later, F: f}), ErrTooMany)
	require.NoError(t, ts.Schedule("b", later, f), "replacing doesn't need room")

	cancel()
	require.NoError(t, <-done)
	assert.False(t, ts.IsRunning())
}

func TestTimersLag(t *testing.T) {
	for _, dMax := range []time.Duration{time.Millisecond, 10 * time.Millisecond, 50 * time.Millisecond} {
		t.Run(dMax.String(), func(t *testing.T) {
			testTimersLag(t, dMax, 50)
		})
	}
}

func testTimersLag(t *testing.T, dMax time.Duration, n int) {
	ts, cancel := started(t, n)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		totalLag time.Duration
		wanted   = make(map[string]bool, n)
	)
	f := func(_ context.Context, t *Timer) {
		mu.Lock()
		delete(wanted, t.ID)
		totalLag += t.Executed.Sub(t.At)
		mu.Unlock()
		wg.Done()
	}

	for i := 0; i < n; i++ {
		wg.Add(1)
		d := time.Duration(rand.Int63n(int64(dMax)))
		id := strconv.Itoa(i)
		mu.Lock()
		wanted[id] = true
		mu.Unlock()
		require.NoError(t, ts.Add(&Timer{ID: id, At: time.Now().Add(d), F: f}))
	}

	waited := make(chan struct{})
	go func() {
		wg.Wait()
		close(waited)
	}()

	select {
	case <-time.After(10*dMax*time.Duration(n) + time.Second):
		mu.Lock()
		defer mu.Unlock()
		t.Fatalf("timeout waiting on %d timers", len(wanted))
	case <-waited:
	}
	t.Logf("dMax: %v mean lag: %v", dMax, totalLag/time.Duration(n))
}

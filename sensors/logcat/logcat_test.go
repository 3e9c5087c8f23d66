package logcat

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kastur/interdroid-swan/core"
	"github.com/kastur/interdroid-swan/sensors"
)

// pipes hands each id a pipe that the test writes.
type pipes struct {
	sync.Mutex
	params map[string][]string
	w      map[string]*io.PipeWriter
}

func newPipes() *pipes {
	return &pipes{
		params: make(map[string][]string),
		w:      make(map[string]*io.PipeWriter),
	}
}

func (ps *pipes) source(id string, params []string) sensors.Source {
	return sensors.SourceFunc(func(ctx context.Context) (io.ReadCloser, error) {
		r, w := io.Pipe()
		ps.Lock()
		ps.params[id] = params
		ps.w[id] = w
		ps.Unlock()
		return r, nil
	})
}

func (ps *pipes) write(id, s string) {
	ps.Lock()
	w := ps.w[id]
	ps.Unlock()
	io.WriteString(w, s)
}

func newSensor() (*Sensor, *pipes) {
	ps := newPipes()
	s := New()
	s.Source = ps.source
	return s, ps
}

func TestLines(t *testing.T) {
	ctx := context.Background()
	s, ps := newSensor()

	require.NoError(t, s.Register(ctx, "a", ValuePath, nil))
	require.NoError(t, s.Register(ctx, "b", ValuePath, sensors.Config{"logcat_parameters": "-s  Swan:D"}))
	assert.Equal(t, []string{"*:I"}, ps.params["a"])
	assert.Equal(t, []string{"-s", "Swan:D"}, ps.params["b"])

	ps.write("a", "I/boot: up\nI/boot: ready\n")
	ps.write("b", "D/Swan: hello\n")

	assert.Eventually(t, func() bool {
		vs, err := s.Values(ctx, "a", time.Now(), time.Hour)
		return err == nil && len(vs) == 2
	}, time.Second, time.Millisecond)
	vs, err := s.Values(ctx, "a", time.Now(), 0)
	require.NoError(t, err)
	require.Len(t, vs, 1)
	assert.Equal(t, "I/boot: ready", vs[0].Value)
	assert.Equal(t, vs[0].Time.Add(Expiry), vs[0].ExpiresAt)

	assert.Eventually(t, func() bool {
		vs, err := s.Values(ctx, "b", time.Now(), 0)
		return err == nil && len(vs) == 1 && vs[0].Value == "D/Swan: hello"
	}, time.Second, time.Millisecond)

	p, have := s.Poller("a")
	require.True(t, have)
	require.NoError(t, s.Unregister(ctx, "a"))
	select {
	case <-p.Done():
	default:
		t.Fatal("poller still running after Unregister")
	}
	require.NoError(t, s.Unregister(ctx, "a"), "absent id")

	require.NoError(t, s.OnDestroy(ctx))
	_, have = s.Poller("b")
	assert.False(t, have)
}

func TestHistorySize(t *testing.T) {
	ctx := context.Background()
	s, ps := newSensor()

	require.NoError(t, s.Register(ctx, "a", ValuePath, nil))
	for i := 0; i < 2*HistorySize; i++ {
		ps.write("a", "line\n")
	}
	ps.write("a", "last\n")
	assert.Eventually(t, func() bool {
		vs, _ := s.Values(ctx, "a", time.Now(), 0)
		return len(vs) == 1 && vs[0].Value == "last"
	}, time.Second, time.Millisecond)

	vs, err := s.Values(ctx, "a", time.Now(), time.Hour)
	require.NoError(t, err)
	assert.Len(t, vs, HistorySize)
	require.NoError(t, s.OnDestroy(ctx))
}

func TestStreamFailure(t *testing.T) {
	ctx := context.Background()
	s, ps := newSensor()
	failed := make(chan error, 1)
	s.OnError = func(id string, err error) { failed <- err }

	require.NoError(t, s.Register(ctx, "a", ValuePath, nil))
	ps.Lock()
	w := ps.w["a"]
	ps.Unlock()
	w.CloseWithError(io.ErrUnexpectedEOF)

	select {
	case err := <-failed:
		assert.ErrorIs(t, err, core.ErrTransport)
	case <-time.After(time.Second):
		t.Fatal("no error")
	}
	require.NoError(t, s.Unregister(ctx, "a"))
}

func TestRegisterErrors(t *testing.T) {
	ctx := context.Background()
	s, _ := newSensor()

	err := s.Register(ctx, "a", ValuePath, sensors.Config{"logcat_parameters": "  "})
	assert.ErrorIs(t, err, core.ErrConfiguration)
	err = s.Register(ctx, "a", "lines", nil)
	assert.ErrorIs(t, err, sensors.ErrUnknownValuePath)

	s.Source = nil
	s.Command = "/nonexistent/logcat"
	err = s.Register(ctx, "a", ValuePath, nil)
	assert.ErrorIs(t, err, core.ErrSetupFailed)
	assert.Empty(t, s.Registrations())
}

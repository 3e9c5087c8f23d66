package sensors

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kastur/interdroid-swan/core"
)

// pipeSource hands out the read end of a pipe that the test writes.
type pipeSource struct {
	r      *io.PipeReader
	w      *io.PipeWriter
	closed chan struct{}
	once   sync.Once
}

func newPipeSource() *pipeSource {
	r, w := io.Pipe()
	return &pipeSource{r: r, w: w, closed: make(chan struct{})}
}

func (s *pipeSource) Open(ctx context.Context) (io.ReadCloser, error) {
	return s, nil
}

func (s *pipeSource) Read(p []byte) (int, error) { return s.r.Read(p) }

func (s *pipeSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return s.r.Close()
}

type lines struct {
	sync.Mutex
	got []string
}

func (l *lines) add(ctx context.Context, line string, t time.Time) {
	l.Lock()
	l.got = append(l.got, line)
	l.Unlock()
}

func (l *lines) all() []string {
	l.Lock()
	defer l.Unlock()
	return append([]string(nil), l.got...)
}

func TestPollerLines(t *testing.T) {
	src := newPipeSource()
	var ls lines
	p := &Poller{ID: "x", Source: src, OnLine: ls.add}
	require.NoError(t, p.Start(context.Background()))

	io.WriteString(src.w, "one\ntwo\n")
	assert.Eventually(t, func() bool { return len(ls.all()) == 2 }, time.Second, time.Millisecond)

	require.NoError(t, p.Stop())
	select {
	case <-src.closed:
	default:
		t.Fatal("stream not closed by Stop")
	}
	<-p.Done()
	assert.NoError(t, p.Err())
	assert.Equal(t, []string{"one", "two"}, ls.all())
	assert.NoError(t, p.Stop(), "second stop")
}

func TestPollerTransportError(t *testing.T) {
	src := newPipeSource()
	var (
		ls   lines
		mu   sync.Mutex
		errs []error
	)
	p := &Poller{
		ID:     "x",
		Source: src,
		OnLine: ls.add,
		OnError: func(err error) {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		},
	}
	require.NoError(t, p.Start(context.Background()))
	io.WriteString(src.w, "partial\n")
	src.w.CloseWithError(errors.New("device gone"))

	<-p.Done()
	assert.ErrorIs(t, p.Err(), core.ErrTransport)
	mu.Lock()
	assert.Len(t, errs, 1, "reported once")
	mu.Unlock()
	assert.NoError(t, p.Stop())
}

func TestPollerSetupFailure(t *testing.T) {
	p := &Poller{
		ID: "x",
		Source: SourceFunc(func(ctx context.Context) (io.ReadCloser, error) {
			return nil, errors.New("no such command")
		}),
		OnLine: func(context.Context, string, time.Time) {},
	}
	err := p.Start(context.Background())
	assert.ErrorIs(t, err, core.ErrSetupFailed)
	assert.Nil(t, p.Done())
	assert.NoError(t, p.Stop())
}

func TestPollerEOF(t *testing.T) {
	src := newPipeSource()
	var ls lines
	p := &Poller{ID: "x", Source: src, OnLine: ls.add}
	require.NoError(t, p.Start(context.Background()))
	io.WriteString(src.w, "last\n")
	src.w.Close()
	<-p.Done()
	assert.NoError(t, p.Err(), "end of stream isn't an error")
	assert.Equal(t, []string{"last"}, ls.all())
}

/* Copyright 2018 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package sensors

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/kastur/interdroid-swan/core"
)

// Source opens a stream of lines.  Closing the stream must release
// whatever is behind it.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// SourceFunc is a Source.
type SourceFunc func(ctx context.Context) (io.ReadCloser, error)

func (f SourceFunc) Open(ctx context.Context) (io.ReadCloser, error) {
	return f(ctx)
}

// CommandSource runs a command and streams its standard output.
type CommandSource struct {
	Name string
	Args []string
}

func (s *CommandSource) Open(ctx context.Context) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, s.Name, s.Args...)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &commandStream{ReadCloser: out, cmd: cmd}, nil
}

type commandStream struct {
	io.ReadCloser
	cmd  *exec.Cmd
	once sync.Once
	err  error
}

// Close kills the process and reaps it.
func (s *commandStream) Close() error {
	s.once.Do(func() {
		if s.cmd.Process != nil {
			s.cmd.Process.Kill()
		}
		s.ReadCloser.Close()
		if err := s.cmd.Wait(); err != nil {
			var exit *exec.ExitError
			if !errors.As(err, &exit) {
				s.err = err
			}
		}
	})
	return s.err
}

// Poller reads lines from a Source in its own goroutine.
//
// The goroutine owns the stream.  Stop cancels it, closes the stream,
// and waits for the goroutine to finish.  A read error ends the
// Poller and is reported once, as a *core.TransportError, to
// OnError.
type Poller struct {
	ID     string
	Source Source
	// OnLine is called from the Poller's goroutine.
	OnLine func(ctx context.Context, line string, t time.Time)
	// OnError is optional.
	OnError func(err error)
	Logger  *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	stream  io.ReadCloser
	done    chan struct{}
	err     error
	stopped bool
}

// Start opens the stream and starts reading.  A Poller can be started
// once.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done != nil {
		return errors.New("poller already started")
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Now == nil {
		p.Now = time.Now
	}

	// The stream outlives the Start call.
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := p.Source.Open(ctx)
	if err != nil {
		cancel()
		return &core.SetupFailedError{ID: p.ID, Resource: "stream", Err: err}
	}
	p.cancel = cancel
	p.stream = stream
	p.done = make(chan struct{})
	go p.loop(ctx, stream)
	return nil
}

func (p *Poller) loop(ctx context.Context, stream io.ReadCloser) {
	defer close(p.done)
	defer stream.Close()

	scanner := bufio.NewScanner(stream)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		p.OnLine(ctx, scanner.Text(), p.Now())
	}
	err := scanner.Err()
	if err == nil || ctx.Err() != nil {
		p.Logger.Debug("poller stream ended", "id", p.ID)
		return
	}

	terr := &core.TransportError{ID: p.ID, Err: err}
	p.mu.Lock()
	p.err = terr
	p.mu.Unlock()
	p.Logger.Error("poller stream failed", "id", p.ID, "err", err)
	if p.OnError != nil {
		p.OnError(terr)
	}
}

// Stop ends the Poller.  Stop can be called more than once.
func (p *Poller) Stop() error {
	p.mu.Lock()
	if p.done == nil || p.stopped {
		done := p.done
		p.mu.Unlock()
		if done != nil {
			<-done
		}
		return nil
	}
	p.stopped = true
	p.cancel()
	stream, done := p.stream, p.done
	p.mu.Unlock()

	stream.Close()
	<-done
	return nil
}

// Done is closed when the Poller's goroutine has finished.
func (p *Poller) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Err returns the TransportError that ended the Poller, if any.
func (p *Poller) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

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

// Package timers manages a set of keyed timers with a single
// time.Timer.  A Timers instance is meant for a few hundred timers
// (not many thousands).
//
// Pending timers are kept in a list ordered by ascending trigger time.
// When the head of that list changes, the internal timer is replaced
// with one that waits for the new head.  Timers that fire within a
// narrow window are handled one after the other, so don't expect much
// quality of service from a burst.
//
// A timer's work is performed in a new goroutine, so it's okay for
// that work to block.
package timers

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrTooMany        = errors.New("too many timers")
	ErrIDExists       = errors.New("timer id exists")
	ErrNotRunning     = errors.New("timers not running")
	ErrAlreadyRunning = errors.New("timers already running")
	ErrBadMax         = errors.New("max must be positive")
)

const (
	notRunning = int64(iota)
	running
)

// Timer represents some work to be done in the future.
type Timer struct {
	// ID is unique among the timers of a Timers instance.
	ID string `json:"id"`

	// F is the work to perform.  The timer is passed along.
	F func(context.Context, *Timer) `json:"-"`

	// At is the desired time to execute F.
	At time.Time `json:"at"`

	// Executed is written when F is called.
	Executed time.Time `json:"executed"`
}

// Timers is a managed set of Timer instances.
//
// Run the Timers before calling Add.
type Timers struct {
	Max    int          `json:"max"`
	Logger *slog.Logger `json:"-"`

	mu      sync.Mutex
	up      chan struct{}
	backlog []*Timer
	running int64
	ready   chan bool
}

// NewTimers makes a new instance with the given maximum number of
// pending timers.
func NewTimers(max int) (*Timers, error) {
	if max <= 0 {
		return nil, ErrBadMax
	}
	initial := max / 4
	if initial < 8 {
		initial = 8
	}
	return &Timers{
		Max:     max,
		up:      make(chan struct{}, 1),
		backlog: make([]*Timer, 0, initial),
		ready:   make(chan bool, 1),
	}, nil
}

func (ts *Timers) logger() *slog.Logger {
	if ts.Logger == nil {
		return slog.Default()
	}
	return ts.Logger
}

// Run processes timers in the current goroutine until the context is
// done.  Run must be running to use the Timers instance.
func (ts *Timers) Run(ctx context.Context) error {
	if !atomic.CompareAndSwapInt64(&ts.running, notRunning, running) {
		return ErrAlreadyRunning
	}
	defer atomic.StoreInt64(&ts.running, notRunning)

	// timer is replaced whenever a new timer becomes the next in
	// line.
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	ts.ready <- true
	ts.reset()
	for {
		select {
		case <-ctx.Done():
			select {
			case <-ts.ready:
			default:
			}
			return nil
		case <-ts.up:
			if timer != nil {
				timer.Stop()
				timer = nil
			}
			ts.mu.Lock()
			if len(ts.backlog) == 0 {
				ts.mu.Unlock()
				continue
			}
			t := ts.backlog[0]
			ts.mu.Unlock()

			d := time.Until(t.At)
			ts.logger().Debug("timer armed", "id", t.ID, "in", d)
			timer = time.AfterFunc(d, func() { ts.fire(ctx, t) })
		}
	}
}

func (ts *Timers) fire(ctx context.Context, t *Timer) {
	ts.mu.Lock()
	if len(ts.backlog) == 0 || ts.backlog[0] != t {
		// Replaced or removed after we armed.
		ts.mu.Unlock()
		return
	}
	ts.backlog[0] = nil
	ts.backlog = ts.backlog[1:]
	ts.mu.Unlock()
	ts.reset()

	ts.logger().Debug("timer firing", "id", t.ID)
	t.Executed = time.Now().UTC()
	go t.F(ctx, t)
}

// IsRunning reports whether the Run method is currently executing.
func (ts *Timers) IsRunning() bool {
	return atomic.LoadInt64(&ts.running) == running
}

// Wait waits for Run to start.
func (ts *Timers) Wait(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-timer.C:
		return false
	case <-ts.ready:
		ts.ready <- true
		return true
	}
}

// Add adds the given timer.
func (ts *Timers) Add(t *Timer) error {
	if !ts.IsRunning() {
		return ErrNotRunning
	}

	ts.mu.Lock()
	for _, x := range ts.backlog {
		if x.ID == t.ID {
			ts.mu.Unlock()
			return ErrIDExists
		}
	}
	head := ts.insert(t)
	ts.mu.Unlock()

	if head < 0 {
		return ErrTooMany
	}
	if head == 0 {
		ts.reset()
	}
	return nil
}

// Schedule adds a timer, replacing any pending timer with the same id.
func (ts *Timers) Schedule(id string, at time.Time, f func(context.Context, *Timer)) error {
	if !ts.IsRunning() {
		return ErrNotRunning
	}

	ts.mu.Lock()
	wasHead := ts.remove(id) == 0
	head := ts.insert(&Timer{ID: id, At: at, F: f})
	ts.mu.Unlock()

	if wasHead || head == 0 {
		ts.reset()
	}
	if head < 0 {
		return ErrTooMany
	}
	return nil
}

// Sooner is Schedule unless a timer with the id is already pending
// for at or earlier, in which case that timer stays.
func (ts *Timers) Sooner(id string, at time.Time, f func(context.Context, *Timer)) error {
	if !ts.IsRunning() {
		return ErrNotRunning
	}

	ts.mu.Lock()
	for _, x := range ts.backlog {
		if x.ID == id && !x.At.After(at) {
			ts.mu.Unlock()
			return nil
		}
	}
	wasHead := ts.remove(id) == 0
	head := ts.insert(&Timer{ID: id, At: at, F: f})
	ts.mu.Unlock()

	if wasHead || head == 0 {
		ts.reset()
	}
	if head < 0 {
		return ErrTooMany
	}
	return nil
}

// Rem removes the timer with the id.  An unknown id is ignored.
func (ts *Timers) Rem(id string) error {
	if !ts.IsRunning() {
		return ErrNotRunning
	}

	ts.mu.Lock()
	i := ts.remove(id)
	ts.mu.Unlock()

	if i == 0 {
		ts.reset()
	}
	return nil
}

// Pending returns the pending timer ids in trigger order.
func (ts *Timers) Pending() []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	acc := make([]string, len(ts.backlog))
	for i, t := range ts.backlog {
		acc[i] = t.ID
	}
	return acc
}

// insert returns the position of the new timer, or -1 when the
// backlog is full.  Call with the lock held.
func (ts *Timers) insert(t *Timer) int {
	if len(ts.backlog) >= ts.Max {
		return -1
	}
	i := sort.Search(len(ts.backlog), func(i int) bool {
		return ts.backlog[i].At.After(t.At)
	})
	ts.backlog = append(ts.backlog, nil)
	copy(ts.backlog[i+1:], ts.backlog[i:])
	ts.backlog[i] = t
	return i
}

// remove returns the position the timer had, or -1.  Call with the
// lock held.
func (ts *Timers) remove(id string) int {
	for i, t := range ts.backlog {
		if t.ID == id {
			copy(ts.backlog[i:], ts.backlog[i+1:])
			ts.backlog[len(ts.backlog)-1] = nil
			ts.backlog = ts.backlog[:len(ts.backlog)-1]
			return i
		}
	}
	return -1
}

// reset asks Run to replace the internal timer.
func (ts *Timers) reset() {
	select {
	case ts.up <- struct{}{}:
	default:
	}
}

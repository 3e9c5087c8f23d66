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

// Package movement is an accelerometer sensor.
//
// All registered ids share the one accelerometer, which samples at
// the fastest rate that any of them asked for.  Pull requests borrow
// the accelerometer for the duration of each window.
package movement

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/kastur/interdroid-swan/pull"
	"github.com/kastur/interdroid-swan/sensors"
)

const Entity = "movement"

// Sampling delays.  Smaller is faster and more demanding.
const (
	DelayFastest = 0
	DelayGame    = 1
	DelayUI      = 2
	DelayNormal  = 3
)

// Expiry is how long a sample stays current.
const Expiry = 5 * time.Minute

var Scheme = sensors.NewScheme(Entity,
	sensors.Field{Name: "x", Type: sensors.TypeDouble, Doc: "acceleration along x (m/s²)"},
	sensors.Field{Name: "y", Type: sensors.TypeDouble, Doc: "acceleration along y (m/s²)"},
	sensors.Field{Name: "z", Type: sensors.TypeDouble, Doc: "acceleration along z (m/s²)"},
	sensors.Field{Name: "total", Type: sensors.TypeDouble, Doc: "magnitude of the acceleration"},
)

// Sample is one accelerometer reading.
type Sample struct {
	X, Y, Z float64
	Time    time.Time
}

func (s Sample) Total() float64 {
	return math.Sqrt(s.X*s.X + s.Y*s.Y + s.Z*s.Z)
}

// Accelerometer is the device.  Start replaces any earlier Start.
type Accelerometer interface {
	Start(ctx context.Context, delay int, f func(Sample)) error
	Stop(ctx context.Context) error
}

// Sensor is the movement sensor.
type Sensor struct {
	*sensors.MemorySensor

	mux     *sensors.Multiplexer[int]
	muxOpts []sensors.MultiplexerOption[int]

	mu       sync.Mutex
	delays   map[string]int
	scheds   map[string]*pull.Scheduler
	windows  map[string]*window
	nwindows int
}

// window is a pull window that holds the accelerometer.
type window struct {
	owner string
	timer *time.Timer
}

type Option func(*Sensor)

func WithMetrics(m *sensors.Metrics) Option {
	return func(s *Sensor) { s.muxOpts = append(s.muxOpts, sensors.WithMuxMetrics[int](m)) }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Sensor) { s.Logger = l }
}

func clampDelay(d int) int {
	if d < DelayFastest {
		return DelayFastest
	}
	return d
}

// device adapts an Accelerometer to a sensors.Resource.
type device struct {
	s   *Sensor
	acc Accelerometer
}

func (d *device) Start(ctx context.Context, delay int) error {
	return d.acc.Start(ctx, delay, d.s.sample)
}

func (d *device) Stop(ctx context.Context) error {
	return d.acc.Stop(ctx)
}

func New(acc Accelerometer, opts ...Option) *Sensor {
	s := &Sensor{
		MemorySensor: sensors.NewMemorySensor(Scheme,
			sensors.Config{"accuracy": strconv.Itoa(DelayNormal)}, 0),
		delays:  make(map[string]int),
		scheds:  make(map[string]*pull.Scheduler),
		windows: make(map[string]*window),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	muxOpts := append([]sensors.MultiplexerOption[int]{
		sensors.WithClamp(clampDelay),
		sensors.WithMuxLogger[int](s.Logger),
	}, s.muxOpts...)
	s.mux = sensors.NewMultiplexer[int]("accelerometer", &device{s: s, acc: acc}, sensors.MinInt, muxOpts...)
	return s
}

// Delay returns the delay the accelerometer is running with.
func (s *Sensor) Delay() (int, bool) {
	return s.mux.Merged()
}

// Subscribers returns the number of ids (and open pull windows)
// holding the accelerometer.
func (s *Sensor) Subscribers() int {
	return s.mux.Len()
}

func (s *Sensor) sample(x Sample) {
	ctx := context.Background()
	s.Put(ctx, "x", x.X, x.Time, Expiry)
	s.Put(ctx, "y", x.Y, x.Time, Expiry)
	s.Put(ctx, "z", x.Z, x.Time, Expiry)
	s.Put(ctx, "total", x.Total(), x.Time, Expiry)
}

// Register subscribes the id at the delay given by its "accuracy".
func (s *Sensor) Register(ctx context.Context, id, valuePath string, config sensors.Config) error {
	reg, prev, err := s.Add(id, valuePath, config)
	if err != nil {
		return err
	}
	delay, err := reg.Config.Int(id, "accuracy", DelayNormal)
	if err == nil {
		err = s.mux.Register(ctx, id, delay)
	}
	if err != nil {
		s.Restore(id, prev)
		return err
	}
	s.mu.Lock()
	s.delays[id] = delay
	s.mu.Unlock()
	return nil
}

// Unregister releases the id, its queued pull requests, and its open
// pull windows.
func (s *Sensor) Unregister(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.delays, id)
	sched := s.scheds[id]
	delete(s.scheds, id)
	var open []string
	for wid, w := range s.windows {
		if w.owner == id {
			w.timer.Stop()
			delete(s.windows, wid)
			open = append(open, wid)
		}
	}
	s.mu.Unlock()

	if sched != nil {
		sched.Close()
	}
	for _, wid := range open {
		if err := s.mux.Unregister(ctx, wid); err != nil {
			s.Logger.Warn("pull window release", "window", wid, "err", err)
		}
	}
	s.Remove(id)
	return s.mux.Unregister(ctx, id)
}

// SendPullRequest queues the windows.  When a window opens, the
// accelerometer also runs on the id's behalf until the window closes.
func (s *Sensor) SendPullRequest(ctx context.Context, id string, start time.Time, period, windowSize time.Duration, nextDeadline time.Time) error {
	s.mu.Lock()
	if _, have := s.delays[id]; !have {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", sensors.ErrNotRegistered, id)
	}
	sched, have := s.scheds[id]
	if !have {
		sched = pull.NewScheduler(context.Background(), func(ctx context.Context, r pull.DataRequest) {
			s.open(ctx, id, r)
		}, nil)
		sched.Logger = s.Logger
		s.scheds[id] = sched
	}
	s.mu.Unlock()

	for _, r := range pull.Windows(start, period, windowSize, nextDeadline) {
		if err := sched.Enqueue(r); err != nil {
			return err
		}
	}
	return nil
}

// open holds the accelerometer for the request's window.
func (s *Sensor) open(ctx context.Context, id string, r pull.DataRequest) {
	s.mu.Lock()
	delay, have := s.delays[id]
	s.nwindows++
	wid := "pull/" + id + "/" + strconv.Itoa(s.nwindows)
	s.mu.Unlock()
	if !have {
		return
	}

	if err := s.mux.Register(ctx, wid, delay); err != nil {
		s.Logger.Error("pull window", "id", id, "start", r.Start, "err", err)
		return
	}
	s.Logger.Debug("pull window open", "window", wid, "end", r.End)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[wid] = &window{
		owner: id,
		timer: time.AfterFunc(time.Until(r.End), func() { s.close(wid) }),
	}
}

func (s *Sensor) close(wid string) {
	s.mu.Lock()
	_, have := s.windows[wid]
	delete(s.windows, wid)
	s.mu.Unlock()
	if !have {
		return
	}
	if err := s.mux.Unregister(context.Background(), wid); err != nil {
		s.Logger.Warn("pull window release", "window", wid, "err", err)
	}
	s.Logger.Debug("pull window closed", "window", wid)
}

// OnDestroy releases everything.
func (s *Sensor) OnDestroy(ctx context.Context) error {
	for _, reg := range s.Registrations() {
		if err := s.Unregister(ctx, reg.ID); err != nil {
			s.Logger.Warn("movement unregister", "id", reg.ID, "err", err)
		}
	}
	return s.MemorySensor.OnDestroy(ctx)
}

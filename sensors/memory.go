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
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/kastur/interdroid-swan/core"
	"github.com/kastur/interdroid-swan/history"
)

// Registration is what a subscriber registered with a sensor.  The
// Config is already resolved against the sensor's defaults.
type Registration struct {
	ID        string
	ValuePath string
	Config    Config
}

// MemorySensor is the base that sensor implementations embed.  It
// keeps the subscription registry and history buffers.
//
// Values can be kept per value path (shared by every id registered
// for that path) with Put, or per id with PutFor.
type MemorySensor struct {
	Name     string
	Defaults Config
	// HistorySize is the capacity of each buffer.
	HistorySize int
	Metrics     *history.Metrics
	Logger      *slog.Logger

	scheme Scheme

	mu       sync.RWMutex
	regs     map[string]*Registration
	paths    map[string]*history.Buffer
	ids      map[string]*history.Buffer
	notifier Notifier
}

// NewMemorySensor makes a MemorySensor whose value paths are the
// fields of the scheme.
func NewMemorySensor(scheme Scheme, defaults Config, historySize int) *MemorySensor {
	return &MemorySensor{
		Name:        scheme.Name,
		Defaults:    defaults,
		HistorySize: historySize,
		scheme:      scheme,
		regs:        make(map[string]*Registration),
		paths:       make(map[string]*history.Buffer),
		ids:         make(map[string]*history.Buffer),
	}
}

func (s *MemorySensor) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *MemorySensor) Scheme() Scheme { return s.scheme }

func (s *MemorySensor) ValuePaths() []string { return s.scheme.Paths() }

func (s *MemorySensor) hasPath(path string) bool {
	for _, p := range s.scheme.Paths() {
		if p == path {
			return true
		}
	}
	return false
}

// SetNotifier sets the function to call when data arrives.
func (s *MemorySensor) SetNotifier(n Notifier) {
	s.mu.Lock()
	s.notifier = n
	s.mu.Unlock()
}

// Add validates and records a registration.  It returns the
// registration it replaced, if any, so that a caller whose own setup
// fails can put it back with Restore.
func (s *MemorySensor) Add(id, valuePath string, config Config) (reg, prev *Registration, err error) {
	if !s.hasPath(valuePath) {
		return nil, nil, &core.ConfigurationError{ID: id, Key: valuePath, Err: ErrUnknownValuePath}
	}
	reg = &Registration{
		ID:        id,
		ValuePath: valuePath,
		Config:    Resolve(config, s.Defaults),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev = s.regs[id]
	s.regs[id] = reg
	return reg, prev, nil
}

// Register records a registration.  Sensors with resources to set up
// replace this.
func (s *MemorySensor) Register(ctx context.Context, id, valuePath string, config Config) error {
	_, _, err := s.Add(id, valuePath, config)
	return err
}

// Unregister removes a registration.
func (s *MemorySensor) Unregister(ctx context.Context, id string) error {
	s.Remove(id)
	return nil
}

// Restore undoes an Add.  If prev is nil, the id is removed.
func (s *MemorySensor) Restore(id string, prev *Registration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev == nil {
		s.remove(id)
		return
	}
	s.regs[id] = prev
}

// Remove deletes a registration and any values kept for that id.
func (s *MemorySensor) Remove(id string) (*Registration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, have := s.regs[id]
	s.remove(id)
	return reg, have
}

func (s *MemorySensor) remove(id string) {
	delete(s.regs, id)
	delete(s.ids, id)
	if s.Metrics != nil {
		s.Metrics.Forget(s.Name + "/" + id)
	}
}

// Registration returns the registration for the id.
func (s *MemorySensor) Registration(id string) (*Registration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reg, have := s.regs[id]
	return reg, have
}

// Registrations returns the current registrations in id order.
func (s *MemorySensor) Registrations() []*Registration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc := make([]*Registration, 0, len(s.regs))
	for _, reg := range s.regs {
		acc = append(acc, reg)
	}
	sort.Slice(acc, func(i, j int) bool { return acc[i].ID < acc[j].ID })
	return acc
}

func (s *MemorySensor) newBuffer(name string) *history.Buffer {
	size := s.HistorySize
	if size == 0 {
		size = history.Unlimited
	}
	b, err := history.New(size, history.WithMetrics(s.Metrics, s.Name+"/"+name))
	if err != nil {
		// Only a bad HistorySize gets here.
		b, _ = history.New(history.Unlimited)
	}
	return b
}

// Put records a value for a value path and notifies the ids
// registered for it.
func (s *MemorySensor) Put(ctx context.Context, valuePath string, v interface{}, t time.Time, ttl time.Duration) {
	s.mu.Lock()
	b, have := s.paths[valuePath]
	if !have {
		b = s.newBuffer(valuePath)
		s.paths[valuePath] = b
	}
	var notify []string
	for id, reg := range s.regs {
		if reg.ValuePath == valuePath {
			if _, hasOwn := s.ids[id]; !hasOwn {
				notify = append(notify, id)
			}
		}
	}
	n := s.notifier
	s.mu.Unlock()

	b.Push(v, t, ttl)
	sort.Strings(notify)
	if n != nil {
		for _, id := range notify {
			n(ctx, id)
		}
	}
}

// PutFor records a value for one id and notifies it.  An id with its
// own values no longer sees values Put for its path.  Values for an
// id that isn't registered are dropped.
func (s *MemorySensor) PutFor(ctx context.Context, id string, v interface{}, t time.Time, ttl time.Duration) {
	s.mu.Lock()
	if _, have := s.regs[id]; !have {
		s.mu.Unlock()
		return
	}
	b, have := s.ids[id]
	if !have {
		b = s.newBuffer(id)
		s.ids[id] = b
	}
	n := s.notifier
	s.mu.Unlock()

	b.Push(v, t, ttl)
	if n != nil {
		n(ctx, id)
	}
}

// Values returns the values for id that are newer than now minus
// timespan.  A zero timespan gives the latest value.
func (s *MemorySensor) Values(ctx context.Context, id string, now time.Time, timespan time.Duration) ([]core.TimestampedValue, error) {
	s.mu.RLock()
	reg, have := s.regs[id]
	var b *history.Buffer
	if have {
		if b = s.ids[id]; b == nil {
			b = s.paths[reg.ValuePath]
		}
	}
	s.mu.RUnlock()

	if !have {
		return nil, &core.EvaluationError{ID: id, Err: ErrNotRegistered}
	}
	if b == nil {
		return nil, nil
	}
	if timespan <= 0 {
		latest, ok := b.Latest(now)
		if !ok {
			return nil, nil
		}
		return []core.TimestampedValue{latest}, nil
	}
	return b.Window(now, timespan), nil
}

// SendPullRequest is not supported by default.
func (s *MemorySensor) SendPullRequest(ctx context.Context, id string, start time.Time, period, windowSize time.Duration, nextDeadline time.Time) error {
	return ErrPullUnsupported
}

func (s *MemorySensor) OnConnected(ctx context.Context) error {
	s.logger().Debug("sensor connected", "sensor", s.Name)
	return nil
}

// OnDestroy drops all registrations and values.
func (s *MemorySensor) OnDestroy(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.regs {
		s.remove(id)
	}
	for path := range s.paths {
		if s.Metrics != nil {
			s.Metrics.Forget(s.Name + "/" + path)
		}
		delete(s.paths, path)
	}
	return nil
}

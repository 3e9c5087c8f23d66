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

	"github.com/kastur/interdroid-swan/core"
)

// Resource is a physical resource that can run with one
// configuration at a time.
type Resource[C any] interface {
	Start(ctx context.Context, config C) error
	Stop(ctx context.Context) error
}

// Multiplexer lets many subscribers, each with their own
// configuration, share one Resource.
//
// The Resource runs with the merge of all subscribers'
// configurations.  When that merge changes, the Resource is stopped
// and started again.  When the last subscriber leaves, the Resource
// is stopped.
//
// Each Multiplexer has its own lock, which is held for the whole
// stop-and-start sequence.
type Multiplexer[C any] struct {
	// Name identifies the resource in logs and metrics.
	Name string

	resource Resource[C]
	merge    func([]C) C
	clamp    func(C) C
	logger   *slog.Logger
	counters *muxCounters

	mu     sync.Mutex
	subs   map[string]C
	active bool
	merged C
	idle   chan struct{}
}

// MultiplexerOption configures a Multiplexer.
type MultiplexerOption[C any] func(*Multiplexer[C])

// WithClamp limits the merged configuration to what the resource
// supports.
func WithClamp[C any](clamp func(C) C) MultiplexerOption[C] {
	return func(m *Multiplexer[C]) {
		m.clamp = clamp
	}
}

// WithMuxMetrics reports to the given Metrics.
func WithMuxMetrics[C any](metrics *Metrics) MultiplexerOption[C] {
	return func(m *Multiplexer[C]) {
		m.counters = metrics.counters(m.Name)
	}
}

// WithMuxLogger sets the logger.
func WithMuxLogger[C any](logger *slog.Logger) MultiplexerOption[C] {
	return func(m *Multiplexer[C]) {
		m.logger = logger
	}
}

// NewMultiplexer makes a Multiplexer for the resource.  The merge
// function gets the configurations of all subscribers (at least one)
// in subscriber id order and returns the most demanding.
func NewMultiplexer[C any](name string, r Resource[C], merge func([]C) C, opts ...MultiplexerOption[C]) *Multiplexer[C] {
	m := &Multiplexer[C]{
		Name:     name,
		resource: r,
		merge:    merge,
		subs:     make(map[string]C),
		idle:     make(chan struct{}),
	}
	close(m.idle)
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// Register adds or replaces a subscriber.  If the resource can't be
// started, the subscriber isn't registered and the error is a
// *core.SetupFailedError.
func (m *Multiplexer[C]) Register(ctx context.Context, id string, config C) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, had := m.subs[id]
	m.subs[id] = config

	if err := m.apply(ctx); err != nil {
		if had {
			m.subs[id] = prev
		} else {
			delete(m.subs, id)
		}
		m.recover(ctx)
		return &core.SetupFailedError{ID: id, Resource: m.Name, Err: err}
	}

	if !had && len(m.subs) == 1 {
		m.idle = make(chan struct{})
	}
	m.gauge()
	return nil
}

// Unregister removes a subscriber.  Removing the last one stops the
// resource before Unregister returns.
//
// The removal happens even if the resource can't be restarted for the
// remaining subscribers.  The resource then stays stopped (Active is
// false) until the next Register or Unregister starts it.
func (m *Multiplexer[C]) Unregister(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, have := m.subs[id]; !have {
		return nil
	}
	delete(m.subs, id)
	defer m.gauge()

	if len(m.subs) == 0 {
		err := m.release(ctx)
		close(m.idle)
		return err
	}

	if err := m.apply(ctx); err != nil {
		m.logger.Error("resource restart failed", "resource", m.Name,
			"removed", id, "subscribers", len(m.subs), "err", err)
	}
	return nil
}

// apply (re)starts the resource with the merge of the current
// subscribers.  There must be at least one.  The lock must be held.
func (m *Multiplexer[C]) apply(ctx context.Context) error {
	merged := m.mergeAll()
	if m.active {
		if err := m.resource.Stop(ctx); err != nil {
			m.logger.Warn("resource stop failed", "resource", m.Name, "err", err)
		}
		m.active = false
	}
	if err := m.resource.Start(ctx, merged); err != nil {
		if m.counters != nil {
			m.counters.failures.Inc()
		}
		return err
	}
	m.active = true
	m.merged = merged
	if m.counters != nil {
		m.counters.acquisitions.Inc()
	}
	m.logger.Debug("resource started", "resource", m.Name, "subscribers", len(m.subs))
	return nil
}

// recover restarts the resource for the remaining subscribers after a
// failed apply.
func (m *Multiplexer[C]) recover(ctx context.Context) {
	if len(m.subs) == 0 {
		return
	}
	if err := m.apply(ctx); err != nil {
		m.logger.Error("resource recovery failed", "resource", m.Name, "err", err)
	}
}

func (m *Multiplexer[C]) release(ctx context.Context) error {
	var zero C
	m.merged = zero
	if !m.active {
		return nil
	}
	m.active = false
	if m.counters != nil {
		m.counters.releases.Inc()
	}
	m.logger.Debug("resource released", "resource", m.Name)
	if err := m.resource.Stop(ctx); err != nil {
		return &core.TransportError{ID: m.Name, Err: err}
	}
	return nil
}

func (m *Multiplexer[C]) mergeAll() C {
	ids := make([]string, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	configs := make([]C, len(ids))
	for i, id := range ids {
		configs[i] = m.subs[id]
	}
	merged := m.merge(configs)
	if m.clamp != nil {
		merged = m.clamp(merged)
	}
	return merged
}

func (m *Multiplexer[C]) gauge() {
	if m.counters != nil {
		m.counters.subscribers.Set(float64(len(m.subs)))
	}
}

// Merged returns the configuration that the resource is running with.
func (m *Multiplexer[C]) Merged() (C, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.merged, m.active
}

// Len returns the number of subscribers.
func (m *Multiplexer[C]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Active reports whether the resource is running.
func (m *Multiplexer[C]) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Drained returns a channel that is closed when there are no
// subscribers.
func (m *Multiplexer[C]) Drained() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.idle
}

// WaitIdle waits until there are no subscribers.
func (m *Multiplexer[C]) WaitIdle(ctx context.Context) error {
	select {
	case <-m.Drained():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MinInt is a merge function for configurations where smaller is
// more demanding.
func MinInt(cs []int) int {
	acc := cs[0]
	for _, c := range cs[1:] {
		if c < acc {
			acc = c
		}
	}
	return acc
}

// MaxInt is a merge function for configurations where larger is more
// demanding.
func MaxInt(cs []int) int {
	acc := cs[0]
	for _, c := range cs[1:] {
		if acc < c {
			acc = c
		}
	}
	return acc
}

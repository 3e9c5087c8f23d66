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

// Package history provides a bounded, time-ordered buffer of
// timestamped values that expire.
//
// Expired values are dropped lazily, when the buffer is read.
// Nothing runs in the background.
package history

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/kastur/interdroid-swan/core"
)

// Unlimited is the capacity of a buffer that never evicts by size.
const Unlimited = -1

// ErrBadCapacity occurs when New is given a capacity that is neither
// positive nor Unlimited.
var ErrBadCapacity = errors.New("capacity must be positive or Unlimited")

// Reason says why a value left a buffer.
type Reason int

const (
	Evicted Reason = iota // The buffer was full.
	Expired               // The value expired.
)

// Buffer holds values in time order.  A Buffer is safe for concurrent
// use.
type Buffer struct {
	mu       sync.Mutex
	capacity int
	items    []core.TimestampedValue

	dropped  func(core.TimestampedValue, Reason)
	counters *counters
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithMetrics reports activity to m under the given name.
func WithMetrics(m *Metrics, name string) Option {
	return func(b *Buffer) {
		b.counters = m.counters(name)
	}
}

// WithDropCallback arranges for f to be called, with the buffer's
// lock held, for each value that is evicted or expires.
func WithDropCallback(f func(core.TimestampedValue, Reason)) Option {
	return func(b *Buffer) {
		b.dropped = f
	}
}

// New makes a Buffer with the given capacity.
func New(capacity int, opts ...Option) (*Buffer, error) {
	if capacity < 1 && capacity != Unlimited {
		return nil, ErrBadCapacity
	}
	b := &Buffer{
		capacity: capacity,
	}
	if 0 < capacity {
		b.items = make([]core.TimestampedValue, 0, capacity)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b, nil
}

// Capacity returns the capacity given to New.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// Push adds a value.  A ttl that isn't positive means the value never
// expires.  If the buffer is full, the oldest value is evicted first.
func (b *Buffer) Push(v interface{}, t time.Time, ttl time.Duration) {
	tv := core.TimestampedValue{
		Value: v,
		Time:  t,
	}
	if 0 < ttl {
		tv.ExpiresAt = t.Add(ttl)
	}
	b.Add(tv)
}

// Add is Push for a value that already has its expiration.  When the
// buffer is full, the oldest value is evicted, which is the new value
// itself if it's older than everything held.
func (b *Buffer) Add(tv core.TimestampedValue) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.counters != nil {
		b.counters.pushes.Inc()
	}

	// Usually the new value is the newest, and this search is a
	// single comparison.
	i := len(b.items)
	if 0 < i && tv.Time.Before(b.items[i-1].Time) {
		i = sort.Search(len(b.items), func(j int) bool {
			return tv.Time.Before(b.items[j].Time)
		})
	}

	if b.capacity != Unlimited && b.capacity <= len(b.items) {
		if i == 0 {
			b.drop(tv, Evicted)
			return
		}
		b.drop(b.items[0], Evicted)
		copy(b.items, b.items[1:])
		b.items = b.items[:len(b.items)-1]
		i--
	}

	b.items = append(b.items, core.TimestampedValue{})
	copy(b.items[i+1:], b.items[i:])
	b.items[i] = tv
}

func (b *Buffer) drop(tv core.TimestampedValue, r Reason) {
	if b.dropped != nil {
		b.dropped(tv, r)
	}
	if b.counters != nil {
		switch r {
		case Evicted:
			b.counters.evicted.Inc()
		case Expired:
			b.counters.expired.Inc()
		}
	}
}

// expire removes the values that have expired at now.  The lock must
// be held.
func (b *Buffer) expire(now time.Time) {
	kept := b.items[:0]
	for _, tv := range b.items {
		if tv.Expired(now) {
			b.drop(tv, Expired)
			continue
		}
		kept = append(kept, tv)
	}
	for i := len(kept); i < len(b.items); i++ {
		b.items[i] = core.TimestampedValue{}
	}
	b.items = kept
}

// Read returns a copy of the values that haven't expired at now,
// oldest first.
func (b *Buffer) Read(now time.Time) []core.TimestampedValue {
	return b.Window(now, 0)
}

// Window is like Read but only returns values newer than now minus
// timespan.  A zero timespan means no limit.
func (b *Buffer) Window(now time.Time, timespan time.Duration) []core.TimestampedValue {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.expire(now)
	i := 0
	if 0 < timespan {
		since := now.Add(-timespan)
		i = sort.Search(len(b.items), func(j int) bool {
			return b.items[j].Time.After(since)
		})
	}
	acc := make([]core.TimestampedValue, len(b.items)-i)
	copy(acc, b.items[i:])
	return acc
}

// Latest returns the newest value that hasn't expired at now.
func (b *Buffer) Latest(now time.Time) (core.TimestampedValue, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.expire(now)
	if len(b.items) == 0 {
		return core.TimestampedValue{}, false
	}
	return b.items[len(b.items)-1], true
}

// Len returns the number of values held, including any that have
// expired but haven't been dropped yet.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Clear drops everything.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.items)
	b.items = b.items[:0]
}

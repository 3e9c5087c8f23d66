/* Copyright 2019 Comcast Cable Communications Management, LLC
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package pull queues requests for sensor data over time windows and
// services each one when its window opens.
//
// A Scheduler keeps its requests ordered by start time and has at most
// one wakeup armed at any time: the one for the earliest request.
// When the wakeup fires, the Scheduler services that request and arms
// the next wakeup, if there is anything left to do.
package pull

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrClosed     = errors.New("scheduler closed")
	ErrBadRequest = errors.New("request ends before it starts")
)

// MaxWindows limits the number of requests Windows will make.
const MaxWindows = 1024

// DataRequest asks for data in [Start, End).
type DataRequest struct {
	Start time.Time
	End   time.Time

	seq uint64
}

// Seq is the order in which the request was enqueued.
func (r DataRequest) Seq() uint64 {
	return r.seq
}

// Alarm calls back at a time.  Setting an Alarm replaces whatever it
// was set for.
type Alarm interface {
	Set(at time.Time)
	Cancel()
}

// Service does the work for a request.
type Service func(ctx context.Context, r DataRequest)

type requests []DataRequest

func (q requests) Len() int { return len(q) }

func (q requests) Less(i, j int) bool {
	if q[i].Start.Equal(q[j].Start) {
		return q[i].seq < q[j].seq
	}
	return q[i].Start.Before(q[j].Start)
}

func (q requests) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *requests) Push(x interface{}) { *q = append(*q, x.(DataRequest)) }

func (q *requests) Pop() interface{} {
	old := *q
	n := len(old)
	x := old[n-1]
	*q = old[:n-1]
	return x
}

// Scheduler services DataRequests in order of their start times.
type Scheduler struct {
	Logger *slog.Logger

	ctx     context.Context
	service Service
	alarm   Alarm

	mu     sync.Mutex
	q      requests
	seq    uint64
	armed  bool
	closed bool
}

// NewScheduler makes a Scheduler that calls service for each request.
// The context is passed to service.
//
// If alarm is nil, the Scheduler uses a TimerAlarm that calls Wake.
func NewScheduler(ctx context.Context, service Service, alarm Alarm) *Scheduler {
	s := &Scheduler{
		ctx:     ctx,
		service: service,
		alarm:   alarm,
	}
	if s.alarm == nil {
		s.alarm = NewTimerAlarm(func() { s.Wake(ctx) })
	}
	return s
}

func (s *Scheduler) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// Enqueue adds a request.  If the request is now the earliest, the
// alarm is set for its start.
func (s *Scheduler) Enqueue(r DataRequest) error {
	if r.End.Before(r.Start) {
		return ErrBadRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.seq++
	r.seq = s.seq
	heap.Push(&s.q, r)

	if head := s.q[0]; head.seq == r.seq {
		s.logger().Debug("pull request is earliest", "start", r.Start, "end", r.End)
		s.alarm.Set(r.Start)
		s.armed = true
	}
	return nil
}

// Wake services the earliest request and then sets the alarm for the
// next one.  The alarm calls Wake.
func (s *Scheduler) Wake(ctx context.Context) {
	s.mu.Lock()
	s.armed = false
	if s.closed || len(s.q) == 0 {
		s.mu.Unlock()
		return
	}
	r := heap.Pop(&s.q).(DataRequest)
	s.mu.Unlock()

	s.service(ctx, r)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.armed || len(s.q) == 0 {
		return
	}
	s.alarm.Set(s.q[0].Start)
	s.armed = true
}

// Pending returns the number of requests waiting.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.q)
}

// Next returns the earliest waiting request.
func (s *Scheduler) Next() (DataRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.q) == 0 {
		return DataRequest{}, false
	}
	return s.q[0], true
}

// Close cancels the alarm and drops the waiting requests.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.armed = false
	s.alarm.Cancel()
	s.q = nil
	return nil
}

// Windows expands a periodic pull into requests.  Each request starts
// at start plus a multiple of period and lasts windowSize.  Only
// windows that start before nextDeadline are included, and never more
// than MaxWindows.  A period that isn't positive gives one window.
func Windows(start time.Time, period, windowSize time.Duration, nextDeadline time.Time) []DataRequest {
	if windowSize <= 0 {
		return nil
	}
	var acc []DataRequest
	for k := 0; k < MaxWindows; k++ {
		at := start.Add(time.Duration(k) * period)
		if !at.Before(nextDeadline) {
			break
		}
		acc = append(acc, DataRequest{Start: at, End: at.Add(windowSize)})
		if period <= 0 {
			break
		}
	}
	return acc
}

// TimerAlarm is an Alarm backed by a time.Timer.
type TimerAlarm struct {
	f func()

	mu    sync.Mutex
	timer *time.Timer
}

// NewTimerAlarm makes an Alarm that calls f in its own goroutine.
func NewTimerAlarm(f func()) *TimerAlarm {
	return &TimerAlarm{f: f}
}

func (a *TimerAlarm) Set(at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(time.Until(at), a.f)
}

func (a *TimerAlarm) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

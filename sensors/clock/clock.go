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

// Package clock is a sensor for the time of day.
//
// Every value it produces expires when the next one is due, so an
// expression over the clock defers until it could change.
//
// Value paths:
//
//	hour     the hour of the day, 0 through 23
//	weekday  the day of the week, 0 (Sunday) through 6
//	window   true during the windows that start at each time given by
//	         the "schedule" cron expression and last "duration"
//
// Configuration: "schedule" (required for window), "duration"
// (default 1m), "location" (default UTC).
package clock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/kastur/interdroid-swan/core"
	"github.com/kastur/interdroid-swan/sensors"
)

const Entity = "clock"

const DefaultDuration = time.Minute

var errNever = errors.New("schedule never fires")

var Scheme = sensors.NewScheme(Entity,
	sensors.Field{Name: "hour", Type: sensors.TypeLong, Doc: "hour of the day"},
	sensors.Field{Name: "weekday", Type: sensors.TypeLong, Doc: "day of the week, Sunday is 0"},
	sensors.Field{Name: "window", Type: sensors.TypeBoolean, Doc: "whether a scheduled window is open"},
)

// reading is what the clock says for a registration.
type reading struct {
	path     string
	loc      *time.Location
	schedule *cronexpr.Expression
	duration time.Duration
}

// at returns the value at now and when it stops being true.
func (r *reading) at(now time.Time) (interface{}, time.Time) {
	local := now.In(r.loc)
	switch r.path {
	case "hour":
		// Not Truncate, which works on absolute time.
		next := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, r.loc).Add(time.Hour)
		return int64(local.Hour()), next
	case "weekday":
		y, m, d := local.Date()
		next := time.Date(y, m, d+1, 0, 0, 0, 0, r.loc)
		return int64(local.Weekday()), next
	}

	// The latest start at or before now, if a window could still be
	// open.
	if start := r.schedule.Next(local.Add(-r.duration)); !start.IsZero() && !start.After(local) {
		end := start.Add(r.duration)
		if local.Before(end) {
			return true, end
		}
	}
	next := r.schedule.Next(local)
	if next.IsZero() {
		return false, core.Forever
	}
	return false, next
}

// Sensor is the clock sensor.
type Sensor struct {
	*sensors.MemorySensor

	// Now defaults to time.Now.
	Now func() time.Time

	mu     sync.Mutex
	timers map[string]*time.Timer
	gen    map[string]uint64
	seq    uint64
}

func New() *Sensor {
	return &Sensor{
		MemorySensor: sensors.NewMemorySensor(Scheme, sensors.Config{
			"duration": DefaultDuration.String(),
			"location": "UTC",
		}, 2),
		Now:    time.Now,
		timers: make(map[string]*time.Timer),
		gen:    make(map[string]uint64),
	}
}

func parse(id string, reg *sensors.Registration) (*reading, error) {
	r := &reading{path: reg.ValuePath}
	var err error
	if r.loc, err = time.LoadLocation(reg.Config["location"]); err != nil {
		return nil, &core.ConfigurationError{ID: id, Key: "location", Err: err}
	}
	if r.path != "window" {
		return r, nil
	}
	src, err := reg.Config.Required(id, "schedule")
	if err != nil {
		return nil, err
	}
	if r.schedule, err = cronexpr.Parse(src); err != nil {
		return nil, &core.ConfigurationError{ID: id, Key: "schedule", Err: err}
	}
	if r.duration, err = reg.Config.Duration(id, "duration", DefaultDuration); err != nil {
		return nil, err
	}
	if r.duration <= 0 {
		return nil, &core.ConfigurationError{ID: id, Key: "duration", Err: errors.New("must be positive")}
	}
	if r.schedule.Next(time.Now()).IsZero() {
		return nil, &core.ConfigurationError{ID: id, Key: "schedule", Err: errNever}
	}
	return r, nil
}

// Register starts reading the clock for the id.
func (s *Sensor) Register(ctx context.Context, id, valuePath string, config sensors.Config) error {
	reg, prev, err := s.Add(id, valuePath, config)
	if err != nil {
		return err
	}
	r, err := parse(id, reg)
	if err != nil {
		s.Restore(id, prev)
		return err
	}

	s.mu.Lock()
	if t := s.timers[id]; t != nil {
		t.Stop()
	}
	s.seq++
	gen := s.seq
	s.gen[id] = gen
	s.mu.Unlock()

	s.tick(ctx, id, gen, r)
	return nil
}

// tick records the current value and arms a timer for the next one.
func (s *Sensor) tick(ctx context.Context, id string, gen uint64, r *reading) {
	now := s.Now()
	v, until := r.at(now)
	var ttl time.Duration
	if until.Before(core.Forever) {
		ttl = until.Sub(now)
	}

	s.mu.Lock()
	if s.gen[id] != gen {
		s.mu.Unlock()
		return
	}
	if ttl > 0 {
		s.timers[id] = time.AfterFunc(ttl, func() {
			s.tick(context.Background(), id, gen, r)
		})
	}
	s.mu.Unlock()

	s.PutFor(ctx, id, v, now, ttl)
}

func (s *Sensor) Unregister(ctx context.Context, id string) error {
	s.mu.Lock()
	if t := s.timers[id]; t != nil {
		t.Stop()
	}
	delete(s.timers, id)
	delete(s.gen, id)
	s.mu.Unlock()
	s.Remove(id)
	return nil
}

func (s *Sensor) OnDestroy(ctx context.Context) error {
	s.mu.Lock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.gen = make(map[string]uint64)
	s.mu.Unlock()
	return s.MemorySensor.OnDestroy(ctx)
}

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

// Package logcat is a sensor whose values are the lines of a log
// stream.
//
// Each registered id has its own Poller, which runs the log command
// with the id's "logcat_parameters".
package logcat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kastur/interdroid-swan/core"
	"github.com/kastur/interdroid-swan/sensors"
)

const (
	Entity    = "logcat"
	ValuePath = "log"

	DefaultParameters = "*:I"
	HistorySize       = 10
	Expiry            = 5 * time.Minute
)

var errEmpty = errors.New("no parameters")

var Scheme = sensors.NewScheme(Entity, sensors.Field{
	Name: ValuePath,
	Type: sensors.TypeString,
	Doc:  "a line of the log",
})

// Sensor is the log sensor.
type Sensor struct {
	*sensors.MemorySensor

	// Command is the program that writes the log.
	Command string

	// Source, if set, is used instead of Command.
	Source func(id string, params []string) sensors.Source

	// OnError is told when a stream fails.
	OnError func(id string, err error)

	mu      sync.Mutex
	pollers map[string]*sensors.Poller
}

func New() *Sensor {
	return &Sensor{
		MemorySensor: sensors.NewMemorySensor(Scheme,
			sensors.Config{"logcat_parameters": DefaultParameters}, HistorySize),
		Command: "logcat",
		pollers: make(map[string]*sensors.Poller),
	}
}

func (s *Sensor) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Sensor) source(id string, params []string) sensors.Source {
	if s.Source != nil {
		return s.Source(id, params)
	}
	return &sensors.CommandSource{Name: s.Command, Args: params}
}

// Register starts a Poller for the id.  Registering an id again
// restarts its Poller with the new parameters.
func (s *Sensor) Register(ctx context.Context, id, valuePath string, config sensors.Config) error {
	if err := s.Unregister(ctx, id); err != nil {
		s.logger().Warn("logcat unregister before register", "id", id, "err", err)
	}
	reg, _, err := s.Add(id, valuePath, config)
	if err != nil {
		return err
	}
	params := strings.Fields(reg.Config["logcat_parameters"])
	if len(params) == 0 {
		s.Remove(id)
		return &core.ConfigurationError{ID: id, Key: "logcat_parameters", Err: errEmpty}
	}

	p := &sensors.Poller{
		ID:     id,
		Source: s.source(id, params),
		Logger: s.logger(),
		OnLine: func(ctx context.Context, line string, t time.Time) {
			s.PutFor(ctx, id, line, t, Expiry)
		},
		OnError: func(err error) {
			if s.OnError != nil {
				s.OnError(id, err)
			}
		},
	}
	if err := p.Start(ctx); err != nil {
		s.Remove(id)
		return err
	}

	s.mu.Lock()
	s.pollers[id] = p
	s.mu.Unlock()
	s.logger().Debug("logcat started", "id", id, "params", params)
	return nil
}

// Unregister stops the id's Poller and waits for it.
func (s *Sensor) Unregister(ctx context.Context, id string) error {
	s.mu.Lock()
	p := s.pollers[id]
	delete(s.pollers, id)
	s.mu.Unlock()

	s.Remove(id)
	if p == nil {
		return nil
	}
	return p.Stop()
}

// Poller returns the id's Poller.
func (s *Sensor) Poller(id string) (*sensors.Poller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, have := s.pollers[id]
	return p, have
}

func (s *Sensor) OnDestroy(ctx context.Context) error {
	s.mu.Lock()
	ps := s.pollers
	s.pollers = make(map[string]*sensors.Poller)
	s.mu.Unlock()

	for id, p := range ps {
		if err := p.Stop(); err != nil {
			s.logger().Warn("logcat stop", "id", id, "err", err)
		}
	}
	return s.MemorySensor.OnDestroy(ctx)
}

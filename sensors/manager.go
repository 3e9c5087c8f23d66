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
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/kastur/interdroid-swan/core"
)

// Manager routes the registrations of expressions to sensors by
// entity name.  A Manager is a core.SensorManager.
type Manager struct {
	Logger *slog.Logger

	mu       sync.RWMutex
	sensors  map[string]Sensor
	owners   map[string]string // id -> entity
	notifier Notifier
}

func NewManager() *Manager {
	return &Manager{
		sensors: make(map[string]Sensor),
		owners:  make(map[string]string),
	}
}

func (m *Manager) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.Default()
	}
	return m.Logger
}

// Add makes a sensor available under the entity name.
func (m *Manager) Add(entity string, s Sensor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sensors[entity] = s
	if n, is := s.(Notifying); is && m.notifier != nil {
		n.SetNotifier(m.notifier)
	}
}

// Sensor returns the sensor for the entity.
func (m *Manager) Sensor(entity string) (Sensor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, have := m.sensors[entity]
	return s, have
}

// Entities returns the entity names in order.
func (m *Manager) Entities() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc := make([]string, 0, len(m.sensors))
	for name := range m.sensors {
		acc = append(acc, name)
	}
	sort.Strings(acc)
	return acc
}

// SetNotifier passes n to every sensor that reports new data,
// including sensors added later.
func (m *Manager) SetNotifier(n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifier = n
	for _, s := range m.sensors {
		if ns, is := s.(Notifying); is {
			ns.SetNotifier(n)
		}
	}
}

// Connect calls OnConnected on each sensor.
func (m *Manager) Connect(ctx context.Context) error {
	var errs []error
	for _, entity := range m.Entities() {
		s, _ := m.Sensor(entity)
		if err := s.OnConnected(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close calls OnDestroy on each sensor.
func (m *Manager) Close(ctx context.Context) error {
	var errs []error
	for _, entity := range m.Entities() {
		s, _ := m.Sensor(entity)
		if err := s.OnDestroy(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	m.mu.Lock()
	m.owners = make(map[string]string)
	m.mu.Unlock()
	return errors.Join(errs...)
}

// Register implements core.SensorManager.
func (m *Manager) Register(ctx context.Context, id, entity, valuePath string, config map[string]string) error {
	s, have := m.Sensor(entity)
	if !have {
		return &core.ConfigurationError{ID: id, Key: entity, Err: ErrUnknownSensor}
	}

	m.mu.RLock()
	owner, owned := m.owners[id]
	m.mu.RUnlock()
	if owned && owner != entity {
		if err := m.Unregister(ctx, id); err != nil {
			m.logger().Warn("unregister from previous sensor", "id", id, "sensor", owner, "err", err)
		}
	}

	if err := s.Register(ctx, id, valuePath, Config(config)); err != nil {
		return err
	}

	m.mu.Lock()
	m.owners[id] = entity
	m.mu.Unlock()
	m.logger().Debug("registered", "id", id, "sensor", entity, "path", valuePath)
	return nil
}

// Unregister implements core.SensorManager.  An unknown id is
// ignored.
func (m *Manager) Unregister(ctx context.Context, id string) error {
	m.mu.Lock()
	entity, have := m.owners[id]
	delete(m.owners, id)
	s := m.sensors[entity]
	m.mu.Unlock()

	if !have || s == nil {
		return nil
	}
	m.logger().Debug("unregistered", "id", id, "sensor", entity)
	return s.Unregister(ctx, id)
}

func (m *Manager) owner(id string) (Sensor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entity, have := m.owners[id]
	if !have {
		return nil, ErrNotRegistered
	}
	return m.sensors[entity], nil
}

// Values implements core.SensorManager.
func (m *Manager) Values(ctx context.Context, id string, now time.Time, timespan time.Duration) ([]core.TimestampedValue, error) {
	s, err := m.owner(id)
	if err != nil {
		return nil, err
	}
	return s.Values(ctx, id, now, timespan)
}

// SendPullRequest forwards to the sensor that has the id.
func (m *Manager) SendPullRequest(ctx context.Context, id string, start time.Time, period, windowSize time.Duration, nextDeadline time.Time) error {
	s, err := m.owner(id)
	if err != nil {
		return err
	}
	return s.SendPullRequest(ctx, id, start, period, windowSize, nextDeadline)
}

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

// Package mqtt is a sensor whose values are the messages published
// on MQTT topics.
//
// Every id registered for a topic shares one broker subscription.  The
// subscription's QoS is the highest that any of them asked for.
//
// Configuration:
//
//	topic    the topic filter (required)
//	qos      0, 1, or 2 (default 0)
//	extract  an ECMAScript function body that returns the value for a
//	         message, which it sees as msg (and its topic as topic)
//	ttl      how long a value is current (default forever)
package mqtt

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kastur/interdroid-swan/core"
	"github.com/kastur/interdroid-swan/interpreters/goja"
	"github.com/kastur/interdroid-swan/sensors"
)

const (
	Entity    = "mqtt"
	ValuePath = "message"
	MaxQoS    = 2

	DefaultHistorySize = 32
)

// Scheme describes the values.
var Scheme = sensors.NewScheme(Entity, sensors.Field{
	Name: ValuePath,
	Type: sensors.TypeString,
	Doc:  "the payload, or what the extract program returns for it",
})

type subscriber struct {
	topic   string
	qos     int
	ttl     time.Duration
	program *goja.Program
}

// Sensor is the MQTT sensor.
type Sensor struct {
	*sensors.MemorySensor

	client  Client
	interp  *goja.Interpreter
	metrics *sensors.Metrics
	now     func() time.Time

	mu     sync.Mutex
	topics map[string]*sensors.Multiplexer[int]
	subs   map[string]*subscriber
}

type Option func(*Sensor)

func WithInterpreter(i *goja.Interpreter) Option {
	return func(s *Sensor) { s.interp = i }
}

func WithMetrics(m *sensors.Metrics) Option {
	return func(s *Sensor) { s.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Sensor) { s.Logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Sensor) { s.now = now }
}

func New(client Client, opts ...Option) *Sensor {
	s := &Sensor{
		MemorySensor: sensors.NewMemorySensor(Scheme, sensors.Config{"qos": "0"}, DefaultHistorySize),
		client:       client,
		interp:       goja.NewInterpreter(),
		now:          time.Now,
		topics:       make(map[string]*sensors.Multiplexer[int]),
		subs:         make(map[string]*subscriber),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sensor) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func clampQoS(q int) int {
	switch {
	case q < 0:
		return 0
	case MaxQoS < q:
		return MaxQoS
	}
	return q
}

// topicResource is the broker subscription for a topic.
type topicResource struct {
	s     *Sensor
	topic string
}

func (r *topicResource) Start(ctx context.Context, qos int) error {
	return r.s.client.Subscribe(ctx, r.topic, byte(qos), func(topic string, payload []byte) {
		r.s.deliver(context.Background(), r.topic, topic, payload)
	})
}

func (r *topicResource) Stop(ctx context.Context) error {
	return r.s.client.Unsubscribe(ctx, r.topic)
}

func (s *Sensor) parse(ctx context.Context, id string, config sensors.Config) (*subscriber, error) {
	topic, err := config.Required(id, "topic")
	if err != nil {
		return nil, err
	}
	qos, err := config.Int(id, "qos", 0)
	if err != nil {
		return nil, err
	}
	ttl, err := config.Duration(id, "ttl", 0)
	if err != nil {
		return nil, err
	}
	sub := &subscriber{
		topic: topic,
		qos:   clampQoS(qos),
		ttl:   ttl,
	}
	if src := config["extract"]; src != "" {
		if sub.program, err = s.interp.Compile(ctx, src); err != nil {
			return nil, &core.ConfigurationError{ID: id, Key: "extract", Err: err}
		}
	}
	return sub, nil
}

// Register subscribes the id to its topic.  A registration that
// fails leaves nothing behind, not even an earlier registration for
// the id.
func (s *Sensor) Register(ctx context.Context, id, valuePath string, config sensors.Config) error {
	if err := s.Unregister(ctx, id); err != nil {
		s.logger().Warn("unregister before register", "id", id, "err", err)
	}

	reg, _, err := s.Add(id, valuePath, config)
	if err != nil {
		return err
	}
	sub, err := s.parse(ctx, id, reg.Config)
	if err != nil {
		s.Remove(id)
		return err
	}

	s.mu.Lock()
	mux, have := s.topics[sub.topic]
	if !have {
		mux = sensors.NewMultiplexer[int]("mqtt:"+sub.topic,
			&topicResource{s: s, topic: sub.topic},
			sensors.MaxInt,
			sensors.WithClamp(clampQoS),
			sensors.WithMuxMetrics[int](s.metrics),
			sensors.WithMuxLogger[int](s.logger()))
		s.topics[sub.topic] = mux
	}
	s.subs[id] = sub
	s.mu.Unlock()

	if err := mux.Register(ctx, id, sub.qos); err != nil {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
		s.Remove(id)
		return err
	}
	s.logger().Debug("mqtt subscribed", "id", id, "topic", sub.topic, "qos", sub.qos)
	return nil
}

// Unregister releases the id's share of its topic.  An unknown id is
// ignored.
func (s *Sensor) Unregister(ctx context.Context, id string) error {
	s.mu.Lock()
	sub, have := s.subs[id]
	delete(s.subs, id)
	var mux *sensors.Multiplexer[int]
	if have {
		mux = s.topics[sub.topic]
	}
	s.mu.Unlock()

	s.Remove(id)
	if mux == nil {
		return nil
	}
	return mux.Unregister(ctx, id)
}

// Subscribed reports whether the broker subscription for the topic is
// in place, and at what QoS.
func (s *Sensor) Subscribed(topic string) (int, bool) {
	s.mu.Lock()
	mux, have := s.topics[topic]
	s.mu.Unlock()
	if !have {
		return 0, false
	}
	return mux.Merged()
}

func (s *Sensor) deliver(ctx context.Context, key, topic string, payload []byte) {
	now := s.now()

	type target struct {
		id  string
		sub *subscriber
	}
	var targets []target
	s.mu.Lock()
	for id, sub := range s.subs {
		if sub.topic == key {
			targets = append(targets, target{id, sub})
		}
	}
	s.mu.Unlock()

	msg := goja.Payload(payload)
	for _, t := range targets {
		v := msg
		if t.sub.program != nil {
			var err error
			v, err = s.interp.Exec(ctx, t.sub.program, map[string]interface{}{
				"msg":   msg,
				"topic": topic,
			})
			if err != nil {
				s.logger().Warn("mqtt extract", "id", t.id, "topic", topic, "err", err)
				continue
			}
			if v == nil {
				continue
			}
		}
		s.PutFor(ctx, t.id, v, now, t.sub.ttl)
	}
}

// OnDestroy releases every subscription.
func (s *Sensor) OnDestroy(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := s.Unregister(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.MemorySensor.OnDestroy(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

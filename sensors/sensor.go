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

// Package sensors provides the sensor side of context expressions:
// the Sensor contract, a Manager that routes expression registrations
// to sensors, and the gear that sensor implementations share.
//
// That gear is a MemorySensor (a registry of subscriptions plus
// history buffers), a Multiplexer (many subscribers sharing one
// physical resource), and a Poller (a goroutine that owns a stream).
package sensors

import (
	"context"
	"errors"
	"time"

	"github.com/kastur/interdroid-swan/core"
)

// Sensor is a source of timestamped values.
//
// An id is the id of the SensorValueExpression that registered.
// Registering an id again replaces its registration.  Unregistering
// an id that isn't registered is not an error.
type Sensor interface {
	Register(ctx context.Context, id, valuePath string, config Config) error
	Unregister(ctx context.Context, id string) error

	// Values returns the current values for id that are newer
	// than now minus timespan, oldest first.  A zero timespan
	// asks for the latest value only.
	Values(ctx context.Context, id string, now time.Time, timespan time.Duration) ([]core.TimestampedValue, error)

	// SendPullRequest asks for data in the windows [start +
	// k*period, start + k*period + windowSize) that begin before
	// nextDeadline.
	SendPullRequest(ctx context.Context, id string, start time.Time, period, windowSize time.Duration, nextDeadline time.Time) error

	Scheme() Scheme
	ValuePaths() []string

	OnConnected(ctx context.Context) error
	OnDestroy(ctx context.Context) error
}

// Notifier is told when new data has arrived for an id.
type Notifier func(ctx context.Context, id string)

// Notifying is implemented by sensors that report new data.
type Notifying interface {
	SetNotifier(n Notifier)
}

// ErrPullUnsupported is returned by sensors that can't honor pull
// requests.
var ErrPullUnsupported = errors.New("pull requests not supported")

// ErrUnknownSensor occurs when a registration names a sensor that the
// Manager doesn't have.
var ErrUnknownSensor = errors.New("unknown sensor")

// ErrUnknownValuePath occurs when a registration names a value path
// that the sensor doesn't offer.
var ErrUnknownValuePath = errors.New("unknown value path")

// ErrNotRegistered occurs when values are requested for an id that
// isn't registered.
var ErrNotRegistered = errors.New("not registered")

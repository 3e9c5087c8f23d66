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

package core

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Mode says how a SensorValueExpression reduces the values in its
// window.
type Mode int

const (
	ModeNone   Mode = iota // All values.
	ModeAny                // All values; a comparison needs one pair to hold.
	ModeAll                // All values; a comparison needs every pair to hold.
	ModeMax                // The largest value.
	ModeMin                // The smallest value.
	ModeMean               // The mean of the values.
	ModeLatest             // The newest value.
)

var modeNames = []string{"NONE", "ANY", "ALL", "MAX", "MIN", "MEAN", "LATEST"}

func (m Mode) String() string {
	if 0 <= int(m) && int(m) < len(modeNames) {
		return modeNames[m]
	}
	return "Mode(" + strconv.Itoa(int(m)) + ")"
}

// ParseMode parses the name of a Mode.
func ParseMode(s string) (Mode, error) {
	for i, name := range modeNames {
		if strings.EqualFold(s, name) {
			return Mode(i), nil
		}
	}
	return ModeNone, fmt.Errorf("unknown history reduction mode %q", s)
}

// SensorValueExpression reads the values of one value path of a
// sensor entity.  Its Result is True when it has at least one current
// value and Undefined otherwise.
type SensorValueExpression struct {
	node

	Entity    string
	ValuePath string
	Config    map[string]string
	Mode      Mode
	// Timespan is how far back to look.  Zero means the latest
	// value only.
	Timespan time.Duration

	sm     SensorManager
	values []TimestampedValue
}

// NewSensorValue makes a SensorValueExpression.  The config is
// copied.
//
// The entity must be an identifier that doesn't start with a digit
// and isn't a keyword.  The value path may also contain dots.  The
// timespan must be a whole number of milliseconds.
func NewSensorValue(entity, valuePath string, config map[string]string, mode Mode, timespan time.Duration) (*SensorValueExpression, error) {
	if entity == "" {
		return nil, fmt.Errorf("sensor entity required")
	}
	if !validEntity(entity) {
		return nil, fmt.Errorf("bad sensor entity %q", entity)
	}
	if valuePath == "" {
		return nil, fmt.Errorf("value path required for %q", entity)
	}
	for i := 0; i < len(valuePath); i++ {
		if c := valuePath[i]; !isIdentByte(c) && c != '.' {
			return nil, fmt.Errorf("bad value path %q for %q", valuePath, entity)
		}
	}
	if mode < ModeNone || ModeLatest < mode {
		return nil, fmt.Errorf("unknown history reduction mode %v", mode)
	}
	if timespan < 0 {
		return nil, fmt.Errorf("negative timespan %v", timespan)
	}
	if timespan%time.Millisecond != 0 {
		return nil, fmt.Errorf("timespan %v isn't a whole number of milliseconds", timespan)
	}
	var cfg map[string]string
	if 0 < len(config) {
		cfg = make(map[string]string, len(config))
		for k, v := range config {
			cfg[k] = v
		}
	}
	return &SensorValueExpression{
		Entity:    entity,
		ValuePath: valuePath,
		Config:    cfg,
		Mode:      mode,
		Timespan:  timespan,
	}, nil
}

// keywords can't be sensor entities.
var keywords = map[string]bool{
	"true": true, "false": true,
	"if": true, "then": true, "else": true,
	"contains": true, "regex": true,
}

func validEntity(s string) bool {
	if s == "" || keywords[s] || ('0' <= s[0] && s[0] <= '9') {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isIdentByte(s[i]) {
			return false
		}
	}
	return true
}

func (e *SensorValueExpression) Kind() Kind { return KindSensorValue }

func (e *SensorValueExpression) Children() []Expression { return nil }

func (e *SensorValueExpression) Initialize(ctx context.Context, id string, sm SensorManager) error {
	if sm == nil {
		return &SetupFailedError{ID: id, Resource: e.Entity, Err: ErrNotInitialized}
	}
	if err := sm.Register(ctx, id, e.Entity, e.ValuePath, e.Config); err != nil {
		return setupError(id, e.Entity, err)
	}
	e.id = id
	e.sm = sm
	return nil
}

func setupError(id, resource string, err error) error {
	switch err.(type) {
	case *ConfigurationError, *SetupFailedError:
		return err
	}
	return &SetupFailedError{ID: id, Resource: resource, Err: err}
}

func (e *SensorValueExpression) Destroy(ctx context.Context, id string, sm SensorManager) error {
	if sm == nil {
		sm = e.sm
	}
	e.sm = nil
	e.values = nil
	if sm == nil {
		return nil
	}
	return sm.Unregister(ctx, id)
}

func (e *SensorValueExpression) Evaluate(ctx context.Context, now time.Time) bool {
	prev := e.result
	prevLatest := latestTime(e.values)

	e.lastEval = now
	e.values = nil
	e.result = Undefined
	e.deferUntil = Forever

	if e.sm == nil {
		logEvaluationError(ctx, &EvaluationError{ID: e.id, Err: ErrNotInitialized})
		return prev != e.result
	}

	rctx, cancel := context.WithTimeout(ctx, ReadTimeout)
	vs, err := e.sm.Values(rctx, e.id, now, e.Timespan)
	cancel()
	if err != nil {
		logEvaluationError(ctx, &EvaluationError{ID: e.id, Err: err})
		return prev != e.result
	}

	vs = current(vs, now)
	if 0 < len(vs) {
		e.deferUntil = e.windowDeadline(vs)
		reduced, err := reduce(e.Mode, vs)
		if err != nil {
			logEvaluationError(ctx, &EvaluationError{ID: e.id, Err: err})
		} else {
			e.values = reduced
			e.result = True
		}
	}

	return prev != e.result || !latestTime(e.values).Equal(prevLatest)
}

// windowDeadline is when the window would next change without new
// data: the oldest value sliding out, or the earliest expiration.
func (e *SensorValueExpression) windowDeadline(vs []TimestampedValue) time.Time {
	acc := Forever
	if 0 < e.Timespan {
		oldest := vs[0].Time
		for _, v := range vs[1:] {
			if v.Time.Before(oldest) {
				oldest = v.Time
			}
		}
		acc = Earliest(acc, oldest.Add(e.Timespan))
	}
	for _, v := range vs {
		acc = Earliest(acc, v.ExpiresAt)
	}
	return acc
}

func (e *SensorValueExpression) Values(ctx context.Context, id string, now time.Time) []TimestampedValue {
	return current(e.values, now)
}

func (e *SensorValueExpression) IsConstant() bool { return false }

func (e *SensorValueExpression) HistoryLength() time.Duration { return e.Timespan }

func (e *SensorValueExpression) String() string {
	return e.ParseString()
}

func (e *SensorValueExpression) ParseString() string {
	var b strings.Builder
	b.WriteString(e.Entity)
	b.WriteByte(':')
	b.WriteString(e.ValuePath)
	if 0 < len(e.Config) {
		keys := make([]string, 0, len(e.Config))
		for k := range e.Config {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for i, k := range keys {
			if i == 0 {
				b.WriteByte('?')
			} else {
				b.WriteByte('&')
			}
			b.WriteString(configAtom(k))
			b.WriteByte('=')
			b.WriteString(configAtom(e.Config[k]))
		}
	}
	if e.Mode != ModeNone || e.Timespan != 0 {
		b.WriteByte('{')
		b.WriteString(e.Mode.String())
		if e.Timespan != 0 {
			b.WriteByte(',')
			b.WriteString(strconv.FormatInt(e.Timespan.Milliseconds(), 10))
		}
		b.WriteByte('}')
	}
	return b.String()
}

// configAtom quotes a config key or value when Parse would otherwise
// stop early.
func configAtom(s string) string {
	if s == "" || strings.ContainsAny(s, configStops+"'\\") {
		return quote(s)
	}
	return s
}

func logEvaluationError(ctx context.Context, err *EvaluationError) {
	slog.WarnContext(ctx, "expression evaluation", "id", err.ID, "err", err.Err)
}

// current drops expired values.
func current(vs []TimestampedValue, now time.Time) []TimestampedValue {
	acc := make([]TimestampedValue, 0, len(vs))
	for _, v := range vs {
		if !v.Expired(now) {
			acc = append(acc, v)
		}
	}
	return acc
}

func latestTime(vs []TimestampedValue) time.Time {
	var t time.Time
	for _, v := range vs {
		if v.Time.After(t) {
			t = v.Time
		}
	}
	return t
}

// reduce applies the mode to values that are in time order.
func reduce(m Mode, vs []TimestampedValue) ([]TimestampedValue, error) {
	switch m {
	case ModeNone, ModeAny, ModeAll:
		return vs, nil
	case ModeLatest:
		latest := vs[0]
		for _, v := range vs[1:] {
			if !v.Time.Before(latest.Time) {
				latest = v
			}
		}
		return []TimestampedValue{latest}, nil
	case ModeMax, ModeMin:
		best := vs[0]
		bx, err := toFloat64(best.Value)
		if err != nil {
			return nil, err
		}
		for _, v := range vs[1:] {
			x, err := toFloat64(v.Value)
			if err != nil {
				return nil, err
			}
			if (m == ModeMax && bx < x) || (m == ModeMin && x < bx) {
				best, bx = v, x
			}
		}
		return []TimestampedValue{best}, nil
	case ModeMean:
		var (
			sum     float64
			t       time.Time
			expires time.Time
		)
		for _, v := range vs {
			x, err := toFloat64(v.Value)
			if err != nil {
				return nil, err
			}
			sum += x
			if v.Time.After(t) {
				t = v.Time
			}
			if !v.ExpiresAt.IsZero() && (expires.IsZero() || v.ExpiresAt.Before(expires)) {
				expires = v.ExpiresAt
			}
		}
		return []TimestampedValue{{
			Value:     sum / float64(len(vs)),
			Time:      t,
			ExpiresAt: expires,
		}}, nil
	}
	return nil, fmt.Errorf("unknown mode %v", m)
}

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
	"math"
	"strconv"
	"strings"
	"time"
)

// ConstantExpression is a literal: an int64, float64, string, or
// bool.  Its Result is always True.
type ConstantExpression struct {
	node
	value interface{}
}

// NewConstant makes a ConstantExpression.  Other integer and float
// types are widened to int64 and float64.  A float must be finite.
func NewConstant(v interface{}) (*ConstantExpression, error) {
	switch x := v.(type) {
	case int64, string, bool:
	case int:
		v = int64(x)
	case int32:
		v = int64(x)
	case float64:
	case float32:
		v = float64(x)
	default:
		return nil, fmt.Errorf("unsupported constant type %T", v)
	}
	if f, is := v.(float64); is && (math.IsNaN(f) || math.IsInf(f, 0)) {
		return nil, fmt.Errorf("constant %v is not finite", f)
	}
	return &ConstantExpression{value: v}, nil
}

// Value returns the literal.
func (e *ConstantExpression) Value() interface{} { return e.value }

func (e *ConstantExpression) Kind() Kind { return KindConstant }

func (e *ConstantExpression) Children() []Expression { return nil }

func (e *ConstantExpression) Initialize(ctx context.Context, id string, sm SensorManager) error {
	e.id = id
	return nil
}

func (e *ConstantExpression) Destroy(ctx context.Context, id string, sm SensorManager) error {
	return nil
}

func (e *ConstantExpression) Evaluate(ctx context.Context, now time.Time) bool {
	changed := e.result != True
	e.result = True
	if e.lastEval.IsZero() {
		e.lastEval = now
	}
	e.deferUntil = Forever
	return changed
}

func (e *ConstantExpression) Values(ctx context.Context, id string, now time.Time) []TimestampedValue {
	t := e.lastEval
	if t.IsZero() {
		t = now
	}
	return []TimestampedValue{{Value: e.value, Time: t}}
}

func (e *ConstantExpression) IsConstant() bool { return true }

func (e *ConstantExpression) HistoryLength() time.Duration { return 0 }

func (e *ConstantExpression) String() string {
	return fmt.Sprintf("%v", e.value)
}

func (e *ConstantExpression) ParseString() string {
	switch x := e.value.(type) {
	case string:
		return quote(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		s := strconv.FormatFloat(x, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s
	case bool:
		return strconv.FormatBool(x)
	}
	return fmt.Sprintf("%v", e.value)
}

// quote renders a string literal in the single-quoted form that Parse
// reads.
func quote(s string) string {
	var b strings.Builder
	b.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\'', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('\'')
	return b.String()
}

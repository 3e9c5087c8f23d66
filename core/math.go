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
	"time"
)

// MathExpression combines the values of two value-typed expressions
// pairwise.  A combined value has the later timestamp and the earlier
// expiration of its pair.
type MathExpression struct {
	node
	left, right Expression
	op          MathOp
	values      []TimestampedValue
}

func NewMath(left Expression, op MathOp, right Expression) (*MathExpression, error) {
	if !op.valid() {
		return nil, fmt.Errorf("unknown math operator %q", op)
	}
	depth, err := adopt(left, right)
	if err != nil {
		return nil, err
	}
	return &MathExpression{node: node{depth: depth}, left: left, op: op, right: right}, nil
}

func (e *MathExpression) Op() MathOp { return e.op }

func (e *MathExpression) Left() Expression { return e.left }

func (e *MathExpression) Right() Expression { return e.right }

func (e *MathExpression) Kind() Kind { return KindMath }

func (e *MathExpression) Children() []Expression {
	return []Expression{e.left, e.right}
}

func (e *MathExpression) Initialize(ctx context.Context, id string, sm SensorManager) error {
	if err := initializeAll(ctx, sm, id, e.Children(), leftRight); err != nil {
		return err
	}
	e.id = id
	return nil
}

func (e *MathExpression) Destroy(ctx context.Context, id string, sm SensorManager) error {
	e.values = nil
	return destroyAll(ctx, sm, id, e.Children(), leftRight)
}

func (e *MathExpression) Evaluate(ctx context.Context, now time.Time) bool {
	prev := e.result
	prevLatest := latestTime(e.values)

	e.left.Evaluate(ctx, now)
	e.right.Evaluate(ctx, now)
	e.lastEval = now
	e.deferUntil = Earliest(e.left.DeferUntil(), e.right.DeferUntil())
	e.values = nil
	e.result = Undefined

	ls := e.left.Values(ctx, e.left.ID(), now)
	rs := e.right.Values(ctx, e.right.ID(), now)
	acc := make([]TimestampedValue, 0, len(ls)*len(rs))
	for _, l := range ls {
		for _, r := range rs {
			v, err := e.op.apply(l.Value, r.Value)
			if err != nil {
				logEvaluationError(ctx, &EvaluationError{ID: e.id, Err: err})
				return prev != e.result
			}
			t := e.pairTime(l.Time, r.Time)
			expires := l.ExpiresAt
			if expires.IsZero() || (!r.ExpiresAt.IsZero() && r.ExpiresAt.Before(expires)) {
				expires = r.ExpiresAt
			}
			acc = append(acc, TimestampedValue{Value: v, Time: t, ExpiresAt: expires})
		}
	}
	if 0 < len(acc) {
		e.values = acc
		e.result = True
	}
	return prev != e.result || !latestTime(e.values).Equal(prevLatest)
}

// pairTime is the later of the two times, except that a constant
// side doesn't contribute.
func (e *MathExpression) pairTime(l, r time.Time) time.Time {
	lc, rc := e.left.IsConstant(), e.right.IsConstant()
	switch {
	case lc && !rc:
		return r
	case rc && !lc:
		return l
	case r.After(l):
		return r
	}
	return l
}

func (e *MathExpression) Values(ctx context.Context, id string, now time.Time) []TimestampedValue {
	return current(e.values, now)
}

func (e *MathExpression) IsConstant() bool {
	return e.left.IsConstant() && e.right.IsConstant()
}

func (e *MathExpression) HistoryLength() time.Duration {
	return maxDuration(e.left.HistoryLength(), e.right.HistoryLength())
}

func (e *MathExpression) String() string {
	return "(" + e.left.String() + " " + string(e.op) + " " + e.right.String() + ")"
}

func (e *MathExpression) ParseString() string {
	return "(" + e.left.ParseString() + " " + string(e.op) + " " + e.right.ParseString() + ")"
}

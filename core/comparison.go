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

// ComparisonExpression compares the values of two value-typed
// expressions.
//
// With ModeAll on either side every pair of values must satisfy the
// comparison; otherwise one pair is enough.  If either side has no
// values, the result is Undefined.
type ComparisonExpression struct {
	node
	left, right Expression
	op          ComparisonOp
}

func NewComparison(left Expression, op ComparisonOp, right Expression) (*ComparisonExpression, error) {
	if !op.valid() {
		return nil, fmt.Errorf("unknown comparison %q", op)
	}
	depth, err := adopt(left, right)
	if err != nil {
		return nil, err
	}
	return &ComparisonExpression{node: node{depth: depth}, left: left, op: op, right: right}, nil
}

func (e *ComparisonExpression) Op() ComparisonOp { return e.op }

func (e *ComparisonExpression) Left() Expression { return e.left }

func (e *ComparisonExpression) Right() Expression { return e.right }

func (e *ComparisonExpression) Kind() Kind { return KindComparison }

func (e *ComparisonExpression) Children() []Expression {
	return []Expression{e.left, e.right}
}

var leftRight = []string{LeftSuffix, RightSuffix}

func (e *ComparisonExpression) Initialize(ctx context.Context, id string, sm SensorManager) error {
	if err := initializeAll(ctx, sm, id, e.Children(), leftRight); err != nil {
		return err
	}
	e.id = id
	return nil
}

func (e *ComparisonExpression) Destroy(ctx context.Context, id string, sm SensorManager) error {
	return destroyAll(ctx, sm, id, e.Children(), leftRight)
}

func (e *ComparisonExpression) Evaluate(ctx context.Context, now time.Time) bool {
	prev := e.result
	e.left.Evaluate(ctx, now)
	e.right.Evaluate(ctx, now)
	e.lastEval = now
	e.deferUntil = Earliest(e.left.DeferUntil(), e.right.DeferUntil())

	ls := e.left.Values(ctx, e.left.ID(), now)
	rs := e.right.Values(ctx, e.right.ID(), now)
	if len(ls) == 0 || len(rs) == 0 {
		e.result = Undefined
		return prev != e.result
	}

	all := quantifier(e.left) == ModeAll || quantifier(e.right) == ModeAll
	r, err := e.compare(ls, rs, all)
	if err != nil {
		logEvaluationError(ctx, &EvaluationError{ID: e.id, Err: err})
		e.result = Undefined
	} else {
		e.result = r
	}
	return prev != e.result
}

func (e *ComparisonExpression) compare(ls, rs []TimestampedValue, all bool) (Result, error) {
	for _, l := range ls {
		for _, r := range rs {
			ok, err := e.op.apply(l.Value, r.Value)
			if err != nil {
				return Undefined, err
			}
			if ok && !all {
				return True, nil
			}
			if !ok && all {
				return False, nil
			}
		}
	}
	return boolResult(all), nil
}

func quantifier(e Expression) Mode {
	if s, is := e.(*SensorValueExpression); is {
		return s.Mode
	}
	return ModeNone
}

func (e *ComparisonExpression) Values(ctx context.Context, id string, now time.Time) []TimestampedValue {
	return booleanValues(&e.node)
}

func (e *ComparisonExpression) IsConstant() bool {
	return e.left.IsConstant() && e.right.IsConstant()
}

func (e *ComparisonExpression) HistoryLength() time.Duration {
	return maxDuration(e.left.HistoryLength(), e.right.HistoryLength())
}

func (e *ComparisonExpression) String() string {
	return "(" + e.left.String() + " " + string(e.op) + " " + e.right.String() + ")"
}

func (e *ComparisonExpression) ParseString() string {
	return "(" + e.left.ParseString() + " " + string(e.op) + " " + e.right.ParseString() + ")"
}

func maxDuration(a, b time.Duration) time.Duration {
	if a < b {
		return b
	}
	return a
}

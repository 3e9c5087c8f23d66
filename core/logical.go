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

// LogicalOp is a logical operator.
type LogicalOp string

const (
	OpAnd LogicalOp = "&&"
	OpOr  LogicalOp = "||"
	OpNot LogicalOp = "!"
)

// LogicalExpression combines boolean results with Kleene logic.
//
// AND doesn't evaluate its right side when the left is False, and OR
// doesn't when the left is True.  A side that wasn't evaluated
// doesn't contribute to DeferUntil.
type LogicalExpression struct {
	node
	op          LogicalOp
	left, right Expression // right is nil for OpNot.
}

// NewLogical makes an AND or OR.
func NewLogical(left Expression, op LogicalOp, right Expression) (*LogicalExpression, error) {
	switch op {
	case OpAnd, OpOr:
	default:
		return nil, fmt.Errorf("unknown binary logical operator %q", op)
	}
	depth, err := adopt(left, right)
	if err != nil {
		return nil, err
	}
	return &LogicalExpression{node: node{depth: depth}, op: op, left: left, right: right}, nil
}

// NewNot makes a negation.
func NewNot(x Expression) (*LogicalExpression, error) {
	depth, err := adopt(x)
	if err != nil {
		return nil, err
	}
	return &LogicalExpression{node: node{depth: depth}, op: OpNot, left: x}, nil
}

func (e *LogicalExpression) Op() LogicalOp { return e.op }

func (e *LogicalExpression) Left() Expression { return e.left }

// Right is nil for a negation.
func (e *LogicalExpression) Right() Expression { return e.right }

func (e *LogicalExpression) Kind() Kind { return KindLogical }

func (e *LogicalExpression) Children() []Expression {
	if e.op == OpNot {
		return []Expression{e.left}
	}
	return []Expression{e.left, e.right}
}

func (e *LogicalExpression) Initialize(ctx context.Context, id string, sm SensorManager) error {
	if err := initializeAll(ctx, sm, id, e.Children(), leftRight); err != nil {
		return err
	}
	e.id = id
	return nil
}

func (e *LogicalExpression) Destroy(ctx context.Context, id string, sm SensorManager) error {
	return destroyAll(ctx, sm, id, e.Children(), leftRight)
}

func (e *LogicalExpression) Evaluate(ctx context.Context, now time.Time) bool {
	prev := e.result
	e.lastEval = now

	e.left.Evaluate(ctx, now)
	l := e.left.Result()

	switch {
	case e.op == OpNot:
		e.result = l.not()
		e.deferUntil = e.left.DeferUntil()
	case e.op == OpAnd && l == False:
		e.result = False
		e.deferUntil = e.left.DeferUntil()
	case e.op == OpOr && l == True:
		e.result = True
		e.deferUntil = e.left.DeferUntil()
	default:
		e.right.Evaluate(ctx, now)
		r := e.right.Result()
		if e.op == OpAnd {
			e.result = kleeneAnd(l, r)
		} else {
			e.result = kleeneOr(l, r)
		}
		e.deferUntil = Earliest(e.left.DeferUntil(), e.right.DeferUntil())
	}

	return prev != e.result
}

func kleeneAnd(a, b Result) Result {
	switch {
	case a == False || b == False:
		return False
	case a == True && b == True:
		return True
	}
	return Undefined
}

func kleeneOr(a, b Result) Result {
	switch {
	case a == True || b == True:
		return True
	case a == False && b == False:
		return False
	}
	return Undefined
}

func (e *LogicalExpression) Values(ctx context.Context, id string, now time.Time) []TimestampedValue {
	return booleanValues(&e.node)
}

func (e *LogicalExpression) IsConstant() bool {
	for _, c := range e.Children() {
		if !c.IsConstant() {
			return false
		}
	}
	return true
}

func (e *LogicalExpression) HistoryLength() time.Duration {
	var acc time.Duration
	for _, c := range e.Children() {
		acc = maxDuration(acc, c.HistoryLength())
	}
	return acc
}

func (e *LogicalExpression) String() string {
	if e.op == OpNot {
		return "!" + e.left.String()
	}
	return "(" + e.left.String() + " " + string(e.op) + " " + e.right.String() + ")"
}

func (e *LogicalExpression) ParseString() string {
	if e.op == OpNot {
		return "!" + e.left.ParseString()
	}
	return "(" + e.left.ParseString() + " " + string(e.op) + " " + e.right.ParseString() + ")"
}

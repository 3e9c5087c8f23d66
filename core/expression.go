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
	"errors"
	"log/slog"
	"time"
)

// MaxDepth is the most levels an expression tree may have above its
// leaves.
const MaxDepth = 256

// Suffixes for the ids of children.  A child's id is its parent's id
// followed by one of these.
const (
	ConditionSuffix = ".ConditionExpr"
	TrueSuffix      = ".TrueExpr"
	FalseSuffix     = ".FalseExpr"
	LeftSuffix      = ".Left"
	RightSuffix     = ".Right"
)

// ReadTimeout bounds each SensorManager.Values call made during
// Evaluate.
var ReadTimeout = 250 * time.Millisecond

// Kind identifies the variant of an Expression.
type Kind int

const (
	KindConstant Kind = iota + 1
	KindSensorValue
	KindComparison
	KindLogical
	KindMath
	KindConditional
)

func (k Kind) String() string {
	switch k {
	case KindConstant:
		return "constant"
	case KindSensorValue:
		return "sensor"
	case KindComparison:
		return "comparison"
	case KindLogical:
		return "logical"
	case KindMath:
		return "math"
	case KindConditional:
		return "conditional"
	}
	return "unknown"
}

// SensorManager is what an Expression uses to reach sensors.
//
// The id is the (derived) id of the SensorValueExpression.  Values
// returns the current values for the registration that are newer than
// now minus timespan.  A zero timespan asks for the latest value only.
type SensorManager interface {
	Register(ctx context.Context, id, entity, valuePath string, config map[string]string) error
	Unregister(ctx context.Context, id string) error
	Values(ctx context.Context, id string, now time.Time, timespan time.Duration) ([]TimestampedValue, error)
}

// Expression is a node in an expression tree.
//
// Evaluate returns true when the Result (or, for value-typed
// expressions, the values) changed.  After Evaluate, DeferUntil is the
// earliest time at which a new Evaluate could produce something
// different.
//
// Evaluate calls on a tree must be serialized by the caller.
type Expression interface {
	ID() string
	Kind() Kind
	Result() Result
	LastEvaluationTime() time.Time
	DeferUntil() time.Time

	Initialize(ctx context.Context, id string, sm SensorManager) error
	Destroy(ctx context.Context, id string, sm SensorManager) error
	Evaluate(ctx context.Context, now time.Time) bool

	// Values returns the values of the expression as of its last
	// evaluation.  The id is the caller's view of this node's id.
	Values(ctx context.Context, id string, now time.Time) []TimestampedValue

	IsConstant() bool
	// HistoryLength is the longest window of sensor history that
	// any part of the expression could consult.
	HistoryLength() time.Duration

	String() string
	ParseString() string

	// Children returns the direct children in a fixed order.
	Children() []Expression

	base() *node
}

// node holds the state that every Expression has.
type node struct {
	id         string
	result     Result
	lastEval   time.Time
	deferUntil time.Time
	owned      bool
	// depth is the number of levels below this node.  Leaves
	// have zero.
	depth int
}

func (n *node) base() *node { return n }

func (n *node) ID() string { return n.id }

func (n *node) Result() Result { return n.result }

func (n *node) LastEvaluationTime() time.Time { return n.lastEval }

// DeferUntil is Forever until the first evaluation.
func (n *node) DeferUntil() time.Time {
	if n.deferUntil.IsZero() {
		return Forever
	}
	return n.deferUntil
}

// adopt marks each child as owned and returns the depth of their
// parent.  Adoption is all or nothing.
func adopt(children ...Expression) (int, error) {
	depth := 0
	for i, c := range children {
		if c == nil {
			return 0, ErrNilChild
		}
		if c.base().owned {
			return 0, ErrSharedChild
		}
		for _, d := range children[:i] {
			if d == c {
				return 0, ErrSharedChild
			}
		}
		if depth <= c.base().depth {
			depth = c.base().depth + 1
		}
	}
	if MaxDepth < depth {
		return 0, ErrTooDeep
	}
	for _, c := range children {
		c.base().owned = true
	}
	return depth, nil
}

// initializeAll initializes the children in order with their derived
// ids.  If one fails, the children already initialized are destroyed
// in reverse order and the initialization error is returned.
func initializeAll(ctx context.Context, sm SensorManager, id string, children []Expression, suffixes []string) error {
	for i, c := range children {
		if err := c.Initialize(ctx, id+suffixes[i], sm); err != nil {
			for j := i - 1; 0 <= j; j-- {
				if derr := children[j].Destroy(ctx, id+suffixes[j], sm); derr != nil {
					slog.WarnContext(ctx, "destroy after failed initialize",
						"id", id+suffixes[j], "err", derr, "cause", err)
				}
			}
			return err
		}
	}
	return nil
}

// destroyAll destroys every child even when some fail.
func destroyAll(ctx context.Context, sm SensorManager, id string, children []Expression, suffixes []string) error {
	var errs []error
	for i, c := range children {
		if err := c.Destroy(ctx, id+suffixes[i], sm); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Walk calls f on e and then on its descendants, depth first.  If f
// returns false, Walk doesn't visit that node's children.
func Walk(e Expression, f func(e Expression, depth int) bool) {
	walk(e, 0, f)
}

func walk(e Expression, depth int, f func(Expression, int) bool) {
	if !f(e, depth) {
		return
	}
	for _, c := range e.Children() {
		walk(c, depth+1, f)
	}
}

// booleanValues is the Values of a boolean-typed node.
func booleanValues(n *node) []TimestampedValue {
	var v interface{}
	switch n.result {
	case True:
		v = true
	case False:
		v = false
	default:
		return nil
	}
	return []TimestampedValue{{Value: v, Time: n.lastEval}}
}

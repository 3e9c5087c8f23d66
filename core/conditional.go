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
	"time"
)

// Branch says which branch of a ConditionalExpression the most recent
// evaluation used.
type Branch int

const (
	NoneActive Branch = iota
	TrueBranchActive
	FalseBranchActive
)

func (b Branch) String() string {
	switch b {
	case TrueBranchActive:
		return "true"
	case FalseBranchActive:
		return "false"
	}
	return "none"
}

// ConditionalExpression is "if condition then trueBranch else
// falseBranch".
//
// Evaluate always evaluates the condition and then at most one
// branch.  When the condition is Undefined, neither branch is
// evaluated and the result is Undefined.  The branch that isn't
// selected keeps whatever state it had; its DeferUntil doesn't
// constrain this node.
//
// The active branch and DeferUntil aren't part of the structure.
// Copies made by Unmarshal or Parse start with NoneActive.
type ConditionalExpression struct {
	node
	condition   Expression
	trueBranch  Expression
	falseBranch Expression
	active      Branch
}

func NewConditional(condition, trueBranch, falseBranch Expression) (*ConditionalExpression, error) {
	depth, err := adopt(condition, trueBranch, falseBranch)
	if err != nil {
		return nil, err
	}
	return &ConditionalExpression{
		node:        node{depth: depth},
		condition:   condition,
		trueBranch:  trueBranch,
		falseBranch: falseBranch,
	}, nil
}

func (e *ConditionalExpression) Condition() Expression { return e.condition }

func (e *ConditionalExpression) TrueBranch() Expression { return e.trueBranch }

func (e *ConditionalExpression) FalseBranch() Expression { return e.falseBranch }

// Active reports the branch that the most recent evaluation used.
func (e *ConditionalExpression) Active() Branch { return e.active }

func (e *ConditionalExpression) Kind() Kind { return KindConditional }

func (e *ConditionalExpression) Children() []Expression {
	return []Expression{e.condition, e.trueBranch, e.falseBranch}
}

var conditionalSuffixes = []string{ConditionSuffix, TrueSuffix, FalseSuffix}

// Initialize initializes all three children, including the branch
// that might never be selected.  On failure the children that were
// initialized are destroyed.
func (e *ConditionalExpression) Initialize(ctx context.Context, id string, sm SensorManager) error {
	if err := initializeAll(ctx, sm, id, e.Children(), conditionalSuffixes); err != nil {
		return err
	}
	e.id = id
	e.active = NoneActive
	return nil
}

func (e *ConditionalExpression) Destroy(ctx context.Context, id string, sm SensorManager) error {
	e.active = NoneActive
	return destroyAll(ctx, sm, id, e.Children(), conditionalSuffixes)
}

func (e *ConditionalExpression) Evaluate(ctx context.Context, now time.Time) bool {
	prev := e.result

	e.condition.Evaluate(ctx, now)

	var (
		branch Expression
		active Branch
	)
	switch e.condition.Result() {
	case True:
		branch, active = e.trueBranch, TrueBranchActive
	case False:
		branch, active = e.falseBranch, FalseBranchActive
	default:
		e.result = Undefined
		e.lastEval = now
		e.active = NoneActive
		e.deferUntil = e.condition.DeferUntil()
		return prev != e.result
	}

	changed := branch.Evaluate(ctx, now)
	// A branch's change flag is relative to that branch's previous
	// evaluation, so switching branches also takes the branch's
	// result.
	if changed || active != e.active {
		e.result = branch.Result()
		e.lastEval = branch.LastEvaluationTime()
	}
	e.active = active
	e.deferUntil = Earliest(e.condition.DeferUntil(), branch.DeferUntil())

	return prev != e.result || changed
}

// Values delegates to the active branch.  With no active branch, the
// values are the single Undefined result.
func (e *ConditionalExpression) Values(ctx context.Context, id string, now time.Time) []TimestampedValue {
	switch e.active {
	case TrueBranchActive:
		return e.trueBranch.Values(ctx, id+TrueSuffix, now)
	case FalseBranchActive:
		return e.falseBranch.Values(ctx, id+FalseSuffix, now)
	}
	return []TimestampedValue{{Value: e.result, Time: e.lastEval}}
}

func (e *ConditionalExpression) IsConstant() bool {
	return e.condition.IsConstant() && e.trueBranch.IsConstant() && e.falseBranch.IsConstant()
}

// HistoryLength covers both branches since either might be selected.
func (e *ConditionalExpression) HistoryLength() time.Duration {
	return maxDuration(e.trueBranch.HistoryLength(), e.falseBranch.HistoryLength())
}

func (e *ConditionalExpression) String() string {
	return "if " + e.condition.String() + " then " + e.trueBranch.String() + " else " + e.falseBranch.String()
}

func (e *ConditionalExpression) ParseString() string {
	return "(if " + e.condition.ParseString() + " then " + e.trueBranch.ParseString() + " else " + e.falseBranch.ParseString() + ")"
}

/* Copyright 2018-2019 Comcast Cable Communications Management, LLC
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

// Package core provides the core gear for context expressions:
// declarative trees over time-varying sensor data that are evaluated
// lazily and re-evaluated only when something they depend on could
// have changed.
//
// The primary type is Expression, and the primary method is
// Evaluate.  An Expression is a tree.  Leaves are constants or
// SensorValueExpressions, which read timestamped values from a
// SensorManager.  Interior nodes compare, combine, or choose between
// their children.  The ConditionalExpression evaluates its condition
// and then only the branch the condition selects.
//
// Each Evaluate computes a DeferUntil: the earliest time at which the
// result could change given only the nodes consulted during that
// evaluation.  A driver that calls Evaluate should sleep until that
// time (or until a sensor reports new data) before calling Evaluate
// again.  Evaluating earlier is harmless but wasted work.
//
// The lifecycle of an Expression is
//
//	e, _ := Parse("(movement:total{MAX,1000} > 12)")
//	err := e.Initialize(ctx, "shake", sensors)
//	changed := e.Evaluate(ctx, time.Now())
//	...
//	err = e.Destroy(ctx, "shake", sensors)
//
// Initialize gives each child a derived id (for example
// "shake.Left"), and sensors see those derived ids.
//
// Expressions have two text forms.  String is for people.
// ParseString is accepted by Parse, and Parse(e.ParseString()) is
// structurally Equal to e.  Marshal and Unmarshal provide a compact
// binary form.
package core

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

package tools

import (
	"sort"
	"time"

	"github.com/kastur/interdroid-swan/core"
)

// Analysis summarizes the structure of an expression tree.
type Analysis struct {
	Nodes int            `json:"nodes" yaml:"nodes"`
	Depth int            `json:"depth" yaml:"depth"`
	Kinds map[string]int `json:"kinds" yaml:"kinds"`

	// Sensors are the distinct "entity:path" pairs read.
	Sensors []string `json:"sensors,omitempty" yaml:"sensors,omitempty"`

	HistoryLength time.Duration `json:"historyLength" yaml:"historyLength"`
	Constant      bool          `json:"constant" yaml:"constant"`

	// Foldable are the parse strings of the largest constant
	// subtrees that aren't just constants.
	Foldable []string `json:"foldable,omitempty" yaml:"foldable,omitempty"`

	// Warnings are things that are legal but probably wrong.
	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// Analyze examines an expression tree.
func Analyze(e core.Expression) *Analysis {
	a := &Analysis{
		Kinds:         make(map[string]int),
		HistoryLength: e.HistoryLength(),
		Constant:      e.IsConstant(),
	}
	sensors := make(map[string]bool)

	core.Walk(e, func(x core.Expression, depth int) bool {
		a.Nodes++
		a.Kinds[x.Kind().String()]++
		if a.Depth < depth+1 {
			a.Depth = depth + 1
		}

		switch y := x.(type) {
		case *core.SensorValueExpression:
			sensors[y.Entity+":"+y.ValuePath] = true
		case *core.ConditionalExpression:
			if y.Condition().IsConstant() {
				a.Warnings = append(a.Warnings, "constant condition in "+x.ParseString())
			}
		}

		if x != e && x.IsConstant() && x.Kind() != core.KindConstant {
			a.Foldable = append(a.Foldable, x.ParseString())
			// Count the subtree but don't report its parts.
			return countOnly(a, x, depth)
		}
		return true
	})

	for s := range sensors {
		a.Sensors = append(a.Sensors, s)
	}
	sort.Strings(a.Sensors)
	return a
}

// countOnly adds the descendants of x to the counts and returns false
// so that the Walk doesn't visit them again.
func countOnly(a *Analysis, x core.Expression, depth int) bool {
	for _, c := range x.Children() {
		core.Walk(c, func(y core.Expression, d int) bool {
			a.Nodes++
			a.Kinds[y.Kind().String()]++
			if a.Depth < depth+d+2 {
				a.Depth = depth + d + 2
			}
			return true
		})
	}
	return false
}

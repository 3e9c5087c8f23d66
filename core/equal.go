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

// Equal reports whether two expressions have the same structure.
// Evaluation state and ids are ignored.
func Equal(a, b Expression) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch x := a.(type) {
	case *ConstantExpression:
		y := b.(*ConstantExpression)
		return x.value == y.value
	case *SensorValueExpression:
		y := b.(*SensorValueExpression)
		if x.Entity != y.Entity || x.ValuePath != y.ValuePath || x.Mode != y.Mode || x.Timespan != y.Timespan {
			return false
		}
		if len(x.Config) != len(y.Config) {
			return false
		}
		for k, v := range x.Config {
			if w, have := y.Config[k]; !have || v != w {
				return false
			}
		}
		return true
	case *ComparisonExpression:
		if x.op != b.(*ComparisonExpression).op {
			return false
		}
	case *LogicalExpression:
		if x.op != b.(*LogicalExpression).op {
			return false
		}
	case *MathExpression:
		if x.op != b.(*MathExpression).op {
			return false
		}
	}
	as, bs := a.Children(), b.Children()
	if len(as) != len(bs) {
		return false
	}
	for i := range as {
		if !Equal(as[i], bs[i]) {
			return false
		}
	}
	return true
}

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
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// toFloat64 converts a numeric value.
func toFloat64(v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int8:
		return float64(x), nil
	case int16:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint:
		return float64(x), nil
	case uint8:
		return float64(x), nil
	case uint16:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	}
	return 0, fmt.Errorf("%v (%T) is not a number", v, v)
}

func isNumber(v interface{}) bool {
	_, err := toFloat64(v)
	return err == nil
}

// compareValues returns -1, 0, or 1.  Numbers compare numerically,
// strings lexically, and bools with false < true.
func compareValues(a, b interface{}) (int, error) {
	if isNumber(a) && isNumber(b) {
		x, _ := toFloat64(a)
		y, _ := toFloat64(b)
		switch {
		case x < y:
			return -1, nil
		case x > y:
			return 1, nil
		}
		return 0, nil
	}
	switch x := a.(type) {
	case string:
		if y, is := b.(string); is {
			return strings.Compare(x, y), nil
		}
	case bool:
		if y, is := b.(bool); is {
			switch {
			case x == y:
				return 0, nil
			case !x:
				return -1, nil
			}
			return 1, nil
		}
	}
	return 0, fmt.Errorf("can't compare %v (%T) with %v (%T)", a, a, b, b)
}

// equalValues is like compareValues but never fails: values of
// different types are just not equal.
func equalValues(a, b interface{}) bool {
	c, err := compareValues(a, b)
	if err != nil {
		return fmt.Sprint(a) == fmt.Sprint(b)
	}
	return c == 0
}

var regexps sync.Map // string -> *regexp.Regexp

func compileRegexp(pat string) (*regexp.Regexp, error) {
	if r, have := regexps.Load(pat); have {
		return r.(*regexp.Regexp), nil
	}
	r, err := regexp.Compile(pat)
	if err != nil {
		return nil, err
	}
	regexps.Store(pat, r)
	return r, nil
}

// ComparisonOp is a comparison operator.
type ComparisonOp string

const (
	OpLess         ComparisonOp = "<"
	OpLessEqual    ComparisonOp = "<="
	OpGreater      ComparisonOp = ">"
	OpGreaterEqual ComparisonOp = ">="
	OpEqual        ComparisonOp = "=="
	OpNotEqual     ComparisonOp = "!="
	OpContains     ComparisonOp = "contains"
	OpRegex        ComparisonOp = "regex"
)

var comparisonOps = []ComparisonOp{
	OpLessEqual, OpGreaterEqual, OpEqual, OpNotEqual,
	OpLess, OpGreater, OpContains, OpRegex,
}

func (op ComparisonOp) valid() bool {
	for _, o := range comparisonOps {
		if o == op {
			return true
		}
	}
	return false
}

func (op ComparisonOp) apply(a, b interface{}) (bool, error) {
	switch op {
	case OpEqual:
		return equalValues(a, b), nil
	case OpNotEqual:
		return !equalValues(a, b), nil
	case OpContains:
		s, is := a.(string)
		if !is {
			return false, fmt.Errorf("contains needs a string, not %T", a)
		}
		return strings.Contains(s, fmt.Sprint(b)), nil
	case OpRegex:
		s, is := a.(string)
		if !is {
			return false, fmt.Errorf("regex needs a string, not %T", a)
		}
		r, err := compileRegexp(fmt.Sprint(b))
		if err != nil {
			return false, err
		}
		return r.MatchString(s), nil
	}
	c, err := compareValues(a, b)
	if err != nil {
		return false, err
	}
	switch op {
	case OpLess:
		return c < 0, nil
	case OpLessEqual:
		return c <= 0, nil
	case OpGreater:
		return c > 0, nil
	case OpGreaterEqual:
		return c >= 0, nil
	}
	return false, fmt.Errorf("unknown comparison %q", op)
}

// MathOp is an arithmetic operator.
type MathOp string

const (
	OpPlus   MathOp = "+"
	OpMinus  MathOp = "-"
	OpTimes  MathOp = "*"
	OpDivide MathOp = "/"
)

func (op MathOp) valid() bool {
	switch op {
	case OpPlus, OpMinus, OpTimes, OpDivide:
		return true
	}
	return false
}

// apply keeps int64 arithmetic when both sides are int64 (except for
// division) and otherwise works in float64.  String + string
// concatenates.
func (op MathOp) apply(a, b interface{}) (interface{}, error) {
	if op == OpPlus {
		if x, is := a.(string); is {
			if y, is := b.(string); is {
				return x + y, nil
			}
		}
	}
	if x, is := a.(int64); is && op != OpDivide {
		if y, is := b.(int64); is {
			switch op {
			case OpPlus:
				return x + y, nil
			case OpMinus:
				return x - y, nil
			case OpTimes:
				return x * y, nil
			}
		}
	}
	x, err := toFloat64(a)
	if err != nil {
		return nil, err
	}
	y, err := toFloat64(b)
	if err != nil {
		return nil, err
	}
	switch op {
	case OpPlus:
		return x + y, nil
	case OpMinus:
		return x - y, nil
	case OpTimes:
		return x * y, nil
	case OpDivide:
		if y == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return x / y, nil
	}
	return nil, fmt.Errorf("unknown operator %q", op)
}

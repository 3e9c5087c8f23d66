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
	"time"
)

// Result is the tri-state result of an Expression.
type Result int

const (
	Undefined Result = iota // Not enough information.
	False
	True
)

func (r Result) String() string {
	switch r {
	case False:
		return "FALSE"
	case True:
		return "TRUE"
	default:
		return "UNDEFINED"
	}
}

// MarshalText lets a Result appear as a string in JSON.
func (r Result) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Result) UnmarshalText(bs []byte) error {
	switch string(bs) {
	case "TRUE":
		*r = True
	case "FALSE":
		*r = False
	case "UNDEFINED", "":
		*r = Undefined
	default:
		return fmt.Errorf("bad result %q", bs)
	}
	return nil
}

func boolResult(b bool) Result {
	if b {
		return True
	}
	return False
}

// not is Kleene negation.
func (r Result) not() Result {
	switch r {
	case True:
		return False
	case False:
		return True
	}
	return Undefined
}

// Forever is the DeferUntil of an expression whose result cannot
// change on its own.  It is the latest time that still has an RFC
// 3339 representation.
var Forever = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

// Earliest returns the earliest of the given times, ignoring zero
// times.  With no non-zero times, Earliest returns Forever.
func Earliest(ts ...time.Time) time.Time {
	acc := Forever
	for _, t := range ts {
		if t.IsZero() {
			continue
		}
		if t.Before(acc) {
			acc = t
		}
	}
	return acc
}

// TimestampedValue is a single observation.
//
// A zero ExpiresAt means the value never expires.
type TimestampedValue struct {
	Value     interface{} `json:"value"`
	Time      time.Time   `json:"ts"`
	ExpiresAt time.Time   `json:"expires,omitempty"`
}

// Expired reports whether the value is no longer current at now.
func (v TimestampedValue) Expired(now time.Time) bool {
	return !v.ExpiresAt.IsZero() && !now.Before(v.ExpiresAt)
}

func (v TimestampedValue) String() string {
	return fmt.Sprintf("%v@%s", v.Value, v.Time.Format(time.RFC3339Nano))
}

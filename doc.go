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

// Package swan evaluates context expressions over sensor data.
//
// An expression such as
//
//	if (clock:hour < 12) then movement:total{MAX,5000} else 0
//
// is parsed into a tree (package 'core') and handed to a driver
// (package 'driver'), which evaluates it whenever its sensors report
// new data or the deferUntil time of its last result arrives.  Only
// the branch of a conditional that's in use subscribes to its
// sensors.
//
// Sensors live in 'sensors' and its subpackages.  A daemon and a
// command-line tool are in `cmd`.
package swan

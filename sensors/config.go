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

package sensors

import (
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/kastur/interdroid-swan/core"
)

var errMissing = errors.New("required")

// Config is the configuration a subscriber gives a sensor.
type Config map[string]string

func (c Config) Copy() Config {
	if c == nil {
		return nil
	}
	acc := make(Config, len(c))
	for k, v := range c {
		acc[k] = v
	}
	return acc
}

// Keys returns the keys in order.
func (c Config) Keys() []string {
	acc := make([]string, 0, len(c))
	for k := range c {
		acc = append(acc, k)
	}
	sort.Strings(acc)
	return acc
}

// Resolve returns the effective configuration: the defaults
// overridden by the subscriber's own settings.  Neither argument is
// modified.
func Resolve(per, defaults Config) Config {
	acc := make(Config, len(per)+len(defaults))
	for k, v := range defaults {
		acc[k] = v
	}
	for k, v := range per {
		acc[k] = v
	}
	return acc
}

// Int returns the integer at key.  A missing key gives def.
func (c Config) Int(id, key string, def int) (int, error) {
	s, have := c[key]
	if !have || s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, &core.ConfigurationError{ID: id, Key: key, Err: err}
	}
	return n, nil
}

// Duration returns the time.Duration at key, which can be a Go
// duration ("1m30s") or a number of milliseconds.
func (c Config) Duration(id, key string, def time.Duration) (time.Duration, error) {
	s, have := c[key]
	if !have || s == "" {
		return def, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, &core.ConfigurationError{ID: id, Key: key, Err: err}
	}
	return d, nil
}

// Required returns the value at key or a ConfigurationError.
func (c Config) Required(id, key string) (string, error) {
	s, have := c[key]
	if !have || s == "" {
		return "", &core.ConfigurationError{ID: id, Key: key, Err: errMissing}
	}
	return s, nil
}

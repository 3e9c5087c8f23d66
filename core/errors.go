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

// Errors here carry the id of the expression (or sensor
// registration) involved.  Use errors.Is with the Err* sentinels to
// classify them.

import (
	"errors"
	"strconv"
)

var (
	// ErrConfiguration classifies a bad or missing configuration
	// at registration time.
	ErrConfiguration = errors.New("configuration error")

	// ErrSetupFailed classifies a resource that could not be
	// acquired.
	ErrSetupFailed = errors.New("setup failed")

	// ErrEvaluation classifies a failed read during evaluation.
	ErrEvaluation = errors.New("evaluation error")

	// ErrTransport classifies a stream I/O failure.
	ErrTransport = errors.New("transport error")

	// ErrSharedChild occurs when a constructor is given a child
	// that already belongs to another expression.
	ErrSharedChild = errors.New("expression already has a parent")

	// ErrNilChild occurs when a constructor is given a nil child.
	ErrNilChild = errors.New("nil child expression")

	// ErrNotInitialized occurs when an expression that needs a
	// SensorManager is used before Initialize.
	ErrNotInitialized = errors.New("expression not initialized")

	// ErrTooDeep occurs when an expression would nest more than
	// MaxDepth levels.
	ErrTooDeep = errors.New("expression nested too deeply")
)

// ConfigurationError occurs when a registration is given a
// configuration that can't be used.  Nothing is registered.
type ConfigurationError struct {
	ID  string
	Key string
	Err error
}

func (e *ConfigurationError) Error() string {
	s := `bad configuration for "` + e.ID + `"`
	if e.Key != "" {
		s += ` (key "` + e.Key + `")`
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *ConfigurationError) Unwrap() []error {
	return wrapped(ErrConfiguration, e.Err)
}

// SetupFailedError occurs when an underlying resource could not be
// acquired.  Nothing is registered.
type SetupFailedError struct {
	ID       string
	Resource string
	Err      error
}

func (e *SetupFailedError) Error() string {
	s := `setup of "` + e.Resource + `" failed for "` + e.ID + `"`
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *SetupFailedError) Unwrap() []error {
	return wrapped(ErrSetupFailed, e.Err)
}

// EvaluationError occurs when a sensor read fails during Evaluate.
// The node is Undefined for that evaluation.
type EvaluationError struct {
	ID  string
	Err error
}

func (e *EvaluationError) Error() string {
	s := `evaluation of "` + e.ID + `" failed`
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *EvaluationError) Unwrap() []error {
	return wrapped(ErrEvaluation, e.Err)
}

// TransportError occurs when a stream that feeds a sensor fails.
type TransportError struct {
	ID  string
	Err error
}

func (e *TransportError) Error() string {
	s := `transport for "` + e.ID + `" failed`
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *TransportError) Unwrap() []error {
	return wrapped(ErrTransport, e.Err)
}

// SyntaxError occurs when Parse is given something it can't parse.
type SyntaxError struct {
	Pos int
	Msg string
	// Err, if not nil, is the cause.
	Err error
}

func (e *SyntaxError) Error() string {
	return "syntax error at " + strconv.Itoa(e.Pos) + ": " + e.Msg
}

func (e *SyntaxError) Unwrap() error { return e.Err }

func wrapped(sentinel, err error) []error {
	if err == nil {
		return []error{sentinel}
	}
	return []error{sentinel, err}
}

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

// Package goja runs small ECMAScript programs that pull values out of
// sensor payloads.
//
// A program is a function body that returns the value:
//
//	return msg.readings[0].celsius;
//
// The program sees the payload as msg (parsed as JSON when it is
// JSON, otherwise a string) and the payload's topic as topic.
package goja

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/dop251/goja"
	"github.com/gorhill/cronexpr"
)

var (
	// InterruptedMessage is the string value of ErrInterrupted.
	InterruptedMessage = "RuntimeError: timeout"

	// ErrInterrupted is returned by Exec if the execution is
	// interrupted.
	ErrInterrupted = errors.New(InterruptedMessage)
)

// DefaultTimeout bounds an Exec when the Interpreter has no Timeout.
const DefaultTimeout = 100 * time.Millisecond

// Interpreter compiles and runs extraction programs using Goja, which
// is a Go implementation of ECMAScript 5.1+.
//
// See https://github.com/dop251/goja.
type Interpreter struct {
	// Timeout limits each Exec.
	Timeout time.Duration

	// LibraryProvider resolves the names of libraries that a
	// program requires.  Nil means no libraries.
	LibraryProvider func(ctx context.Context, name string) (string, error)

	Logger *slog.Logger
}

// NewInterpreter makes a new Interpreter.
func NewInterpreter() *Interpreter {
	return &Interpreter{
		Timeout: DefaultTimeout,
	}
}

func (i *Interpreter) logger() *slog.Logger {
	if i.Logger == nil {
		return slog.Default()
	}
	return i.Logger
}

// MakeFileLibraryProvider provides libraries from files in dir.
func MakeFileLibraryProvider(dir string) func(context.Context, string) (string, error) {
	return func(ctx context.Context, name string) (string, error) {
		if !filepath.IsLocal(name) {
			return "", fmt.Errorf("bad library name '%s'", name)
		}
		bs, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return "", err
		}
		return string(bs), nil
	}
}

func MakeMapLibraryProvider(srcs map[string]string) func(context.Context, string) (string, error) {
	return func(ctx context.Context, name string) (string, error) {
		src, have := srcs[name]
		if !have {
			return "", fmt.Errorf("undefined library '%s'", name)
		}
		return src, nil
	}
}

func wrapSrc(src string) string {
	return fmt.Sprintf("(function() {\n%s\n}());\n", src)
}

// Program is a compiled extraction program.
type Program struct {
	Code     string
	Requires []string

	p *goja.Program
}

// Compile compiles a function body.  The libraries, if any, are
// prepended in order.
//
// This method can block if the interpreter's LibraryProvider blocks
// in order to obtain external libraries.
func (i *Interpreter) Compile(ctx context.Context, code string, requires ...string) (*Program, error) {
	var libsSrc string
	for _, lib := range requires {
		if i.LibraryProvider == nil {
			return nil, fmt.Errorf("no provider for library '%s'", lib)
		}
		libSrc, err := i.LibraryProvider(ctx, lib)
		if err != nil {
			return nil, err
		}
		libsSrc += libSrc + "\n"
	}

	p, err := goja.Compile("", libsSrc+wrapSrc(code), true)
	if err != nil {
		return nil, err
	}
	return &Program{
		Code:     code,
		Requires: requires,
		p:        p,
	}, nil
}

func protest(o *goja.Runtime, x interface{}) {
	panic(o.ToValue(x))
}

// Payload turns raw bytes into what a program sees as msg.
func Payload(bs []byte) interface{} {
	var x interface{}
	if err := json.Unmarshal(bs, &x); err == nil {
		return x
	}
	return string(bs)
}

// Exec runs the program.  The globals are set in the runtime
// (typically msg and topic).
//
// The following utilities are available at _:
//
//	cronNext(expr): the next time (RFC3339) that matches the cron expression.
//	esc(s): URL query-escape the given string.
//	log(x): log x at debug level.
//
// A program that returns undefined or null gives nil.
func (i *Interpreter) Exec(ctx context.Context, p *Program, globals map[string]interface{}) (interface{}, error) {
	if p == nil || p.p == nil {
		return nil, errors.New("program not compiled")
	}

	o := goja.New()
	for k, v := range globals {
		if err := o.Set(k, v); err != nil {
			return nil, err
		}
	}

	env := map[string]interface{}{}

	env["cronNext"] = func(x interface{}) interface{} {
		switch vv := x.(type) {
		case goja.Value:
			x = vv.Export()
		}
		cronExpr, is := x.(string)
		if !is {
			protest(o, "not a string")
		}
		c, err := cronexpr.Parse(cronExpr)
		if err != nil {
			protest(o, err.Error())
		}
		return c.Next(time.Now()).UTC().Format(time.RFC3339Nano)
	}

	env["esc"] = func(x interface{}) interface{} {
		switch vv := x.(type) {
		case goja.Value:
			x = vv.Export()
		}
		s, is := x.(string)
		if !is {
			protest(o, "not a string")
		}
		return url.QueryEscape(s)
	}

	env["log"] = func(x interface{}) interface{} {
		switch vv := x.(type) {
		case goja.Value:
			x = vv.Export()
		}
		i.logger().Debug("goja log", "value", x)
		return x
	}

	if err := o.Set("_", env); err != nil {
		return nil, err
	}

	timeout := i.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ictx, cancel := context.WithTimeout(ctx, timeout)
	go func() {
		<-ictx.Done()
		// After RunProgram returns, cancel() gets us here, and the
		// interrupt has no effect.
		o.Interrupt(InterruptedMessage)
	}()

	v, err := o.RunProgram(p.p)
	cancel()

	if err != nil {
		var ie *goja.InterruptedError
		if errors.As(err, &ie) {
			return nil, ErrInterrupted
		}
		return nil, err
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	return canonicalize(v.Export())
}

// canonicalize gives the JSON view of x, so numbers are float64 and
// objects are map[string]interface{}.
func canonicalize(x interface{}) (interface{}, error) {
	switch x.(type) {
	case string, bool, float64, int64:
		return x, nil
	}
	js, err := json.Marshal(&x)
	if err != nil {
		return nil, err
	}
	var y interface{}
	if err = json.Unmarshal(js, &y); err != nil {
		return nil, err
	}
	return y, nil
}

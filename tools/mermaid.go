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

package tools

import (
	"fmt"
	"io"
	"strings"

	"github.com/kastur/interdroid-swan/core"
)

type MermaidOpts struct {
	// ShowResults fills each node with the color of its last
	// Result.
	ShowResults bool `json:"showResults"`

	// SensorFill is the fill color for sensor nodes when results
	// aren't shown.
	SensorFill string `json:"sensorFill,omitempty"`

	// EdgeLabels names each child edge (Left, TrueExpr, ...).
	EdgeLabels bool `json:"edgeLabels,omitempty"`
}

// DefaultMermaidOpts are the options that a nil *MermaidOpts means.
func DefaultMermaidOpts() *MermaidOpts {
	return &MermaidOpts{
		SensorFill: "#bcf2db",
		EdgeLabels: true,
	}
}

// Mermaid makes a Mermaid (https://mermaidjs.github.io/) input file
// for the expression tree.
func Mermaid(e core.Expression, w io.Writer, opts *MermaidOpts) error {
	if opts == nil {
		opts = DefaultMermaidOpts()
	}

	var err error
	p := func(format string, args ...interface{}) {
		if err == nil {
			_, err = fmt.Fprintf(w, format, args...)
		}
	}

	p("graph TB\n")
	visit(e,
		func(nid string, e core.Expression) {
			label := strings.Replace(Label(e), `"`, `'`, -1)
			label = strings.Replace(label, "\n", "<br/>", -1)
			switch e.Kind() {
			case core.KindSensorValue:
				p("  %s[\"%s\"]\n", nid, label)
			case core.KindConditional:
				p("  %s{\"%s\"}\n", nid, label)
			default:
				p("  %s(\"%s\")\n", nid, label)
			}
			switch {
			case opts.ShowResults:
				p("  style %s fill:%s\n", nid, resultColors[e.Result()])
			case e.Kind() == core.KindSensorValue && opts.SensorFill != "":
				p("  style %s fill:%s\n", nid, opts.SensorFill)
			}
		},
		func(from, to, label string, active bool) {
			arrow := "-->"
			if active {
				arrow = "==>"
			}
			if opts.EdgeLabels && label != "" {
				p("  %s %s|%s| %s\n", from, arrow, label, to)
				return
			}
			p("  %s %s %s\n", from, arrow, to)
		})
	p("\n")
	return err
}

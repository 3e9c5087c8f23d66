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

// dot -Tpng g.dot > g.png

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/kastur/interdroid-swan/core"
)

// Label is a short description of a node without its children.
func Label(e core.Expression) string {
	switch x := e.(type) {
	case *core.ConstantExpression:
		bs, err := yaml.Marshal(x.Value())
		if err != nil {
			return x.ParseString()
		}
		return strings.TrimSpace(string(bs))
	case *core.SensorValueExpression:
		s := x.Entity + ":" + x.ValuePath
		if x.Timespan > 0 {
			s += fmt.Sprintf(" %s over %v", x.Mode, x.Timespan)
		}
		return s
	case *core.ComparisonExpression:
		return string(x.Op())
	case *core.LogicalExpression:
		return string(x.Op())
	case *core.MathExpression:
		return string(x.Op())
	case *core.ConditionalExpression:
		return "if"
	}
	return e.Kind().String()
}

// edgeLabels returns the names of the children, which are the id
// suffixes without the dot.
func edgeLabels(e core.Expression) []string {
	var suffixes []string
	switch x := e.(type) {
	case *core.ConditionalExpression:
		suffixes = []string{core.ConditionSuffix, core.TrueSuffix, core.FalseSuffix}
	case *core.LogicalExpression:
		if x.Op() == core.OpNot {
			suffixes = []string{core.LeftSuffix}
		} else {
			suffixes = []string{core.LeftSuffix, core.RightSuffix}
		}
	default:
		suffixes = []string{core.LeftSuffix, core.RightSuffix}
	}
	acc := make([]string, len(suffixes))
	for i, s := range suffixes {
		acc[i] = strings.TrimPrefix(s, ".")
	}
	return acc
}

// activeChild reports whether the child at position i was consulted
// in the last evaluation of a conditional.
func activeChild(e core.Expression, i int) bool {
	c, is := e.(*core.ConditionalExpression)
	if !is {
		return false
	}
	switch i {
	case 1:
		return c.Active() == core.TrueBranchActive
	case 2:
		return c.Active() == core.FalseBranchActive
	}
	return false
}

var resultColors = map[core.Result]string{
	core.Undefined: "#dddddd",
	core.False:     "#f98b8b",
	core.True:      "#99ddc8",
}

func escHTML(s string) string {
	s = strings.Replace(s, "&", "&amp;", -1)
	s = strings.Replace(s, "<", "&lt;", -1)
	s = strings.Replace(s, ">", "&gt;", -1)
	return s
}

// visit numbers the nodes depth first and calls f for each node and
// then for each edge.
func visit(e core.Expression, f func(nid string, e core.Expression), g func(from, to string, label string, active bool)) {
	num := 0
	var walk func(e core.Expression) string
	walk = func(e core.Expression) string {
		num++
		nid := fmt.Sprintf("n%d", num)
		f(nid, e)
		labels := edgeLabels(e)
		for i, c := range e.Children() {
			to := walk(c)
			label := ""
			if i < len(labels) {
				label = labels[i]
			}
			g(nid, to, label, activeChild(e, i))
		}
		return nid
	}
	walk(e)
}

// Dot writes a Graphviz dot file for the expression tree.  Nodes are
// colored by their last Result, and the branch a conditional took is
// drawn bold.
func Dot(e core.Expression, w io.Writer) error {
	var err error
	p := func(format string, args ...interface{}) {
		if err == nil {
			_, err = fmt.Fprintf(w, format, args...)
		}
	}

	p("digraph G {\n")
	p(`  graph [ordering=out,rankdir=TB,nodesep=0.3,ranksep=0.6]
  node [shape="record" style="rounded,filled"]
  edge [fontsize = "10"]
`)
	visit(e,
		func(nid string, e core.Expression) {
			label := escHTML(Label(e))
			label = strings.Replace(label, "\n", `<BR ALIGN="LEFT"/>`, -1)
			if d := e.DeferUntil(); !e.LastEvaluationTime().IsZero() && d.Before(core.Forever) {
				label += `<BR/><FONT POINT-SIZE="8">until ` + d.UTC().Format(time.RFC3339) + `</FONT>`
			}
			shape := "record"
			switch e.Kind() {
			case core.KindSensorValue:
				shape = "note"
			case core.KindConstant:
				shape = "plaintext"
			}
			style := "filled"
			if e.Kind() == core.KindConditional {
				style += ",bold"
			}
			p("  %s [shape=\"%s\", style=\"%s\", fillcolor=\"%s\", label=<%s> ]\n",
				nid, shape, style, resultColors[e.Result()], label)
		},
		func(from, to, label string, active bool) {
			style := "solid"
			if active {
				style = "bold"
			}
			p("  %s -> %s [ style=\"%s\" label = \"%s\" ]\n", from, to, style, label)
		})
	p("}\n")
	return err
}

// PNG writes basename.dot and then runs dot to make basename.png.
func PNG(e core.Expression, basename string) (string, error) {
	dotname := basename + ".dot"
	pngname := basename + ".png"

	dotfile, err := os.Create(dotname)
	if err != nil {
		return pngname, err
	}
	if err := Dot(e, dotfile); err != nil {
		dotfile.Close()
		return pngname, err
	}
	if err := dotfile.Close(); err != nil {
		return pngname, err
	}
	if err := exec.Command("dot", "-Tpng", "-o", pngname, dotname).Run(); err != nil {
		return pngname, err
	}
	return pngname, nil
}

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
	"html"
	"io"
	"strings"
	"time"

	md "github.com/russross/blackfriday/v2"

	"github.com/kastur/interdroid-swan/core"
)

// Entry is a registered expression to document.
type Entry struct {
	ID     string
	Source string
	// Doc is Markdown.
	Doc        string
	Result     core.Result
	DeferUntil time.Time
	// Expression is optional.  If present, the page includes a
	// Mermaid diagram of it.
	Expression core.Expression
	// Diagram is Mermaid source to use instead of rendering
	// Expression.
	Diagram string
}

// Diagram is the Mermaid source, with results, that a page shows for
// an expression.
func Diagram(e core.Expression) (string, error) {
	var sb strings.Builder
	if err := Mermaid(e, &sb, &MermaidOpts{ShowResults: true, EdgeLabels: true}); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// RenderHTML writes an HTML fragment documenting the entries.
func RenderHTML(entries []Entry, out io.Writer) error {
	var err error
	f := func(format string, args ...interface{}) {
		if err == nil {
			_, err = fmt.Fprintf(out, format+"\n", args...)
		}
	}

	f(`<div class="expressions"><table>`)
	for _, e := range entries {
		id := html.EscapeString(e.ID)
		f(`<tr class="expression"><td><span id="%s" class="expressionID">%s</span></td><td>`, id, id)
		if e.Doc != "" {
			f(`<div class="expressionDoc doc">%s</div>`, md.Run([]byte(e.Doc)))
		}
		f(`<div class="code"><pre>%s</pre></div>`, html.EscapeString(e.Source))
		f(`<div>result: <span class="result %s">%s</span></div>`, strings.ToLower(e.Result.String()), e.Result)
		if !e.DeferUntil.IsZero() && e.DeferUntil.Before(core.Forever) {
			f(`<div>until: <span class="deferUntil">%s</span></div>`, e.DeferUntil.UTC().Format(time.RFC3339))
		}
		diagram := e.Diagram
		if diagram == "" && e.Expression != nil {
			if diagram, err = Diagram(e.Expression); err != nil {
				return err
			}
		}
		if diagram != "" {
			f(`<pre class="mermaid">%s</pre>`, html.EscapeString(diagram))
		}
		f(`</td></tr>`)
	}
	f(`</table></div>`)
	return err
}

// RenderPage writes a whole HTML page for the entries.
func RenderPage(title string, entries []Entry, out io.Writer, cssFiles []string) error {
	if cssFiles == nil {
		cssFiles = []string{"/static/swan.css"}
	}

	fmt.Fprintf(out, `<!DOCTYPE html>
<meta charset="utf-8">
<html>
  <head>
  <title>%s</title>
`, html.EscapeString(title))
	for _, cssFile := range cssFiles {
		fmt.Fprintf(out, "  <link href=\"%s\" rel=\"stylesheet\">\n", cssFile)
	}
	fmt.Fprintf(out, `  <script type="module">
  import mermaid from "https://cdn.jsdelivr.net/npm/mermaid@10/dist/mermaid.esm.min.mjs";
  mermaid.initialize({ startOnLoad: true });
  </script>
  </head>
  <body>
    <h1>%s</h1>
`, html.EscapeString(title))

	if err := RenderHTML(entries, out); err != nil {
		return err
	}

	_, err := fmt.Fprintf(out, `
  </body>
</html>
`)
	return err
}

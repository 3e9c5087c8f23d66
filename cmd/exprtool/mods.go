package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/kastur/interdroid-swan/core"
	"github.com/kastur/interdroid-swan/tools"
)

var Mods = map[string]Mod{
	"analyze": &Analyzer{},
	"check":   &Checker{},
	"dot":     &Grapher{},
	"encode":  &Encoder{},
	"mermaid": &Mermaider{},
}

var ErrRoundTrip = errors.New("expression doesn't survive a round trip")

type Mod interface {
	F(in []byte, out io.Writer) error
	Doc() string
	Flags() *flag.FlagSet
}

type Analyzer struct {
	fs  *flag.FlagSet
	raw *bool
}

func (c *Analyzer) Doc() string {
	return `Writes a YAML summary of the expression's structure.`
}

func (c *Analyzer) Flags() *flag.FlagSet {
	if c.fs == nil {
		c.fs = flag.NewFlagSet("analyze", flag.ExitOnError)
		c.raw = c.fs.Bool("b", false, "input is the binary encoding")
	}
	return c.fs
}

func (c *Analyzer) F(in []byte, out io.Writer) error {
	e, err := parse(in, *c.raw)
	if err != nil {
		return err
	}
	bs, err := yaml.Marshal(tools.Analyze(e))
	if err != nil {
		return err
	}
	_, err = out.Write(bs)
	return err
}

// Checker verifies that an expression's parse string and its binary
// encoding both give back the same expression.
type Checker struct {
	fs *flag.FlagSet
}

func (c *Checker) Doc() string {
	return `Parses the expression and checks that it round-trips.`
}

func (c *Checker) Flags() *flag.FlagSet {
	if c.fs == nil {
		c.fs = flag.NewFlagSet("check", flag.ExitOnError)
	}
	return c.fs
}

func (c *Checker) F(in []byte, out io.Writer) error {
	e, err := parse(in, false)
	if err != nil {
		return err
	}
	again, err := core.Parse(e.ParseString())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRoundTrip, err)
	}
	if !core.Equal(e, again) {
		return fmt.Errorf("%w: %s", ErrRoundTrip, e.ParseString())
	}
	bs, err := core.Marshal(e)
	if err != nil {
		return err
	}
	if again, err = core.Unmarshal(bs); err != nil {
		return fmt.Errorf("%w: %v", ErrRoundTrip, err)
	}
	if !core.Equal(e, again) {
		return fmt.Errorf("%w: binary", ErrRoundTrip)
	}
	_, err = fmt.Fprintf(out, "%s\n", e.ParseString())
	return err
}

type Grapher struct {
	fs  *flag.FlagSet
	png *string
	raw *bool
}

func (c *Grapher) Doc() string {
	return `Writes a Graphviz graph of the expression (or renders a PNG with -png).`
}

func (c *Grapher) Flags() *flag.FlagSet {
	if c.fs == nil {
		c.fs = flag.NewFlagSet("dot", flag.ExitOnError)
		c.png = c.fs.String("png", "", "basename for a PNG rendered by 'dot'")
		c.raw = c.fs.Bool("b", false, "input is the binary encoding")
	}
	return c.fs
}

func (c *Grapher) F(in []byte, out io.Writer) error {
	e, err := parse(in, *c.raw)
	if err != nil {
		return err
	}
	if *c.png != "" {
		_, err := tools.PNG(e, *c.png)
		return err
	}
	return tools.Dot(e, out)
}

type Mermaider struct {
	fs      *flag.FlagSet
	results *bool
	labels  *bool
}

func (c *Mermaider) Doc() string {
	return `Writes a Mermaid flowchart of the expression.`
}

func (c *Mermaider) Flags() *flag.FlagSet {
	if c.fs == nil {
		c.fs = flag.NewFlagSet("mermaid", flag.ExitOnError)
		c.results = c.fs.Bool("r", false, "color nodes by result")
		c.labels = c.fs.Bool("l", true, "label edges")
	}
	return c.fs
}

func (c *Mermaider) F(in []byte, out io.Writer) error {
	e, err := parse(in, false)
	if err != nil {
		return err
	}
	opts := tools.DefaultMermaidOpts()
	opts.ShowResults = *c.results
	opts.EdgeLabels = *c.labels
	return tools.Mermaid(e, out, opts)
}

type Encoder struct {
	fs     *flag.FlagSet
	raw    *bool
	decode *bool
}

func (c *Encoder) Doc() string {
	return `Writes the binary encoding of the expression in hex (or raw with -raw).
  With -d, reads hex and writes the expression's source.`
}

func (c *Encoder) Flags() *flag.FlagSet {
	if c.fs == nil {
		c.fs = flag.NewFlagSet("encode", flag.ExitOnError)
		c.raw = c.fs.Bool("raw", false, "write bytes rather than hex")
		c.decode = c.fs.Bool("d", false, "decode hex")
	}
	return c.fs
}

func (c *Encoder) F(in []byte, out io.Writer) error {
	if *c.decode {
		bs, err := hex.DecodeString(strings.TrimSpace(string(in)))
		if err != nil {
			return err
		}
		e, err := core.Unmarshal(bs)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "%s\n", e.ParseString())
		return err
	}

	e, err := parse(in, false)
	if err != nil {
		return err
	}
	bs, err := core.Marshal(e)
	if err != nil {
		return err
	}
	if *c.raw {
		_, err = out.Write(bs)
		return err
	}
	_, err = fmt.Fprintf(out, "%s\n", hex.EncodeToString(bs))
	return err
}

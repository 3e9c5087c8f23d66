// Package main is a command-line tool for context expressions.
//
// An expression is read from stdin (or given with -e), and a
// subcommand does something with it:
//
//	echo 'if (mem:a > 5) then mem:b else 0' | exprtool dot
package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/kastur/interdroid-swan/core"
)

func main() {
	if len(os.Args) < 2 {
		Usage()
		os.Exit(1)
	}

	mod, have := Mods[os.Args[1]]
	if !have {
		fmt.Printf("Unknown subcommand \"%s\"\n", os.Args[1])
		Usage()
		os.Exit(1)
	}

	fs := mod.Flags()
	src := fs.String("e", "", "expression (default: read stdin)")
	if err := fs.Parse(os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	in := []byte(*src)
	if *src == "" {
		bs, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		in = bs
	}

	if err := mod.F(in, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// parse reads an expression, which is either source or (when raw)
// the binary encoding.
func parse(in []byte, raw bool) (core.Expression, error) {
	if raw {
		return core.Unmarshal(in)
	}
	return core.Parse(strings.TrimSpace(string(in)))
}

func Usage() {
	names := make([]string, 0, len(Mods))
	for name := range Mods {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("Subcommands:\n\n")
	for _, name := range names {
		mod := Mods[name]
		fmt.Printf("%s\n", name)
		mod.Flags().PrintDefaults()
		fmt.Println("  " + strings.TrimSpace(mod.Doc()))
		fmt.Println()
	}
}

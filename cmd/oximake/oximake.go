package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/oximake/oximake"
)

var debug = flag.Bool("debug", false, "enable debug mode: format error messages with additional detail")

func funcmain() error {
	flag.Parse()

	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}

	type cmd struct {
		fn func(ctx context.Context, args []string) error
	}
	verbs := map[string]cmd{
		"build":   {cmdbuild},
		"clean":   {cmdclean},
		"graph":   {cmdgraph},
		"ninja":   {cmdninja},
		"convert": {cmdconvert},
		"init":    {cmdinit},
	}

	args := flag.Args()
	verb := "build"
	if len(args) > 0 {
		verb, args = args[0], args[1:]
	}

	if verb == "help" {
		if len(args) != 1 {
			fmt.Fprintf(os.Stderr, "oximake [-flags] <command> [-flags] <args>\n")
			fmt.Fprintln(os.Stderr)
			fmt.Fprintf(os.Stderr, "To get help on any command, use oximake <command> -help or oximake help <command>.\n")
			fmt.Fprintln(os.Stderr)
			fmt.Fprintf(os.Stderr, "Build commands:\n")
			fmt.Fprintf(os.Stderr, "\tbuild    - build the project described by %s\n", oximake.ManifestName)
			fmt.Fprintf(os.Stderr, "\tclean    - remove objects and artifacts\n")
			fmt.Fprintf(os.Stderr, "\tgraph    - show the dependency graph and build order\n")
			fmt.Fprintf(os.Stderr, "\tninja    - emit a build.ninja file for the project\n")
			fmt.Fprintln(os.Stderr)
			fmt.Fprintf(os.Stderr, "Project commands:\n")
			fmt.Fprintf(os.Stderr, "\tconvert  - translate a CMakeLists.txt tree into %s files\n", oximake.ManifestName)
			fmt.Fprintf(os.Stderr, "\tinit     - scaffold a new project skeleton\n")
			os.Exit(2)
		}
		verb = args[0]
		args = []string{"-help"}
	}

	ctx, canc := oximake.InterruptibleContext()
	defer canc()
	v, ok := verbs[verb]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", verb)
		fmt.Fprintf(os.Stderr, "syntax: oximake <command> [options]\n")
		os.Exit(2)
	}
	if err := v.fn(ctx, args); err != nil {
		if *debug {
			return fmt.Errorf("%s: %+v", verb, err)
		}
		return fmt.Errorf("%s: %v", verb, err)
	}
	return nil
}

func main() {
	if err := funcmain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

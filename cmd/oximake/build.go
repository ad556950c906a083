package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/fatih/color"
	"github.com/oximake/oximake"
	"github.com/oximake/oximake/internal/dag"
	"github.com/oximake/oximake/internal/manifest"
	"github.com/oximake/oximake/internal/scheduler"
	"github.com/oximake/oximake/internal/toolchain"
	"golang.org/x/xerrors"
)

const buildHelp = `oximake build [-flags] [target…]

Build the project described by build.toml. With target arguments, only those
targets and their dependencies are built.

The manifest is looked up from the workspace root: building from a manifest
that a parent manifest includes behaves like building from the root.

Example:
  % oximake build -jobs=8 mylib
`

func cmdbuild(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("build", flag.ExitOnError)
	var (
		manifestPath = fset.String("manifest", oximake.ManifestName, "path to the project manifest")
		jobs         = fset.Int("jobs", 0, "number of parallel jobs (0 = logical CPU count)")
		clean        = fset.Bool("clean", false, "remove build artifacts first, forcing a full rebuild")
		ignoreErrors = fset.Bool("ignore_errors", false, "keep building downstream targets after a failure, like make -i")
		verbose      = fset.Bool("verbose", false, "print the full toolchain command lines")
	)
	fset.Usage = usage(fset, buildHelp)
	fset.Parse(args)

	proj, err := manifest.Load(*manifestPath)
	if err != nil {
		return err
	}
	for _, w := range proj.Warnings {
		log.Printf("warning: %s", w)
	}
	order, err := dag.Build(proj)
	if err != nil {
		return err
	}
	for _, name := range fset.Args() {
		if _, ok := proj.Target(name); !ok {
			return xerrors.Errorf("target %q not found (defined targets: %s)", name, strings.Join(proj.Names(), ", "))
		}
	}
	order = order.Filter(fset.Args())

	if *clean {
		if err := toolchain.Clean(proj, fset.Args(), nil); err != nil {
			return err
		}
	}

	out := make(chan string, 64)
	rendered := make(chan struct{})
	go func() {
		defer close(rendered)
		for line := range out {
			renderLine(line)
		}
	}()

	runner := toolchain.New(proj)
	runner.Verbose = *verbose
	summary := scheduler.Build(ctx, proj, order, runner, scheduler.Options{
		Jobs:            *jobs,
		ContinueOnError: *ignoreErrors,
		Out:             out,
	})
	close(out)
	<-rendered

	if summary.Canceled {
		return xerrors.New("build canceled")
	}
	if !summary.Success {
		return xerrors.Errorf("%d of %d targets failed", summary.Failed, summary.Total)
	}
	color.New(color.FgGreen, color.Bold).Printf("✓ Built %d targets\n", summary.Succeeded)
	return nil
}

// renderLine pretty-prints one engine progress line. The two sentinels are
// translated rather than echoed.
func renderLine(line string) {
	switch {
	case strings.HasPrefix(line, "TOTAL\t"):
		count := strings.TrimPrefix(line, "TOTAL\t")
		color.New(color.FgCyan, color.Bold).Printf("Building %s targets...\n", count)
	case strings.HasPrefix(line, "FINISH\t"):
		// The caller prints the summary.
	case strings.HasPrefix(line, "==="):
		color.New(color.FgBlue, color.Bold).Println(line)
	case strings.Contains(line, "[ERROR]"):
		color.New(color.FgRed).Println(line)
	case strings.Contains(line, "[SKIP]"):
		color.New(color.FgYellow).Println(line)
	case strings.Contains(line, "[OK]"):
		color.New(color.FgGreen).Println(line)
	default:
		fmt.Println(line)
	}
}

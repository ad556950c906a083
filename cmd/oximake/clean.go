package main

import (
	"context"
	"flag"

	"github.com/fatih/color"
	"github.com/oximake/oximake"
	"github.com/oximake/oximake/internal/manifest"
	"github.com/oximake/oximake/internal/toolchain"
)

const cleanHelp = `oximake clean [-flags] [target…]

Remove the object directories and final artifacts of the named targets, or
of every target when none are named.
`

func cmdclean(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("clean", flag.ExitOnError)
	manifestPath := fset.String("manifest", oximake.ManifestName, "path to the project manifest")
	fset.Usage = usage(fset, cleanHelp)
	fset.Parse(args)

	proj, err := manifest.Load(*manifestPath)
	if err != nil {
		return err
	}

	out := make(chan string, 64)
	rendered := make(chan struct{})
	go func() {
		defer close(rendered)
		for line := range out {
			renderLine(line)
		}
	}()
	err = toolchain.Clean(proj, fset.Args(), out)
	close(out)
	<-rendered
	if err != nil {
		return err
	}
	color.New(color.FgYellow).Println("✓ Cleaned build artifacts")
	return nil
}

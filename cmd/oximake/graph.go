package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/oximake/oximake"
	"github.com/oximake/oximake/internal/dag"
	"github.com/oximake/oximake/internal/manifest"
)

const graphHelp = `oximake graph [-flags]

Show the project's dependency graph and the level-partitioned build order.
Targets within one level have no dependencies on each other and build in
parallel.
`

func cmdgraph(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("graph", flag.ExitOnError)
	manifestPath := fset.String("manifest", oximake.ManifestName, "path to the project manifest")
	fset.Usage = usage(fset, graphHelp)
	fset.Parse(args)

	proj, err := manifest.Load(*manifestPath)
	if err != nil {
		return err
	}
	order, err := dag.Build(proj)
	if err != nil {
		return err
	}

	color.New(color.FgCyan, color.Bold).Printf("%s %s — %d targets\n", proj.Name, proj.Version, len(proj.Targets))
	for _, t := range proj.Targets {
		if len(t.Deps) == 0 {
			fmt.Printf("  %s (%s)\n", color.GreenString(t.Name), t.Kind)
			continue
		}
		fmt.Printf("  %s (%s) depends on: %s\n",
			color.GreenString(t.Name), t.Kind, color.YellowString(strings.Join(t.Deps, ", ")))
	}
	fmt.Println()
	color.New(color.FgCyan, color.Bold).Println("Build order:")
	for i, level := range order.Levels {
		fmt.Printf("  level %d: %s\n", i, strings.Join(level, ", "))
	}
	return nil
}

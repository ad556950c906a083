package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/renameio"
	"github.com/oximake/oximake/internal/cmakeconv"
	"golang.org/x/xerrors"
)

const convertHelp = `oximake convert [-flags] <CMakeLists.txt>

Translate a CMake project into build.toml manifests: one per directory that
declares targets, with the root manifest including the rest. The translation
is best-effort; unrecognized CMake constructs are skipped silently, and
missing included files or subdirectories are reported as warnings.

Example:
  % oximake convert ~/src/myproject/CMakeLists.txt
`

func cmdconvert(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("convert", flag.ExitOnError)
	dryRun := fset.Bool("dry_run", false, "print the manifests instead of writing them")
	fset.Usage = usage(fset, convertHelp)
	fset.Parse(args)

	if fset.NArg() != 1 {
		return xerrors.New("syntax: oximake convert <CMakeLists.txt>")
	}
	cmakePath := fset.Arg(0)
	manifests, warnings, err := cmakeconv.ConvertTree(cmakePath)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		log.Printf("warning: %s", w)
	}

	rootDir := filepath.Dir(cmakePath)
	names := make([]string, 0, len(manifests))
	for name := range manifests {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		dest := filepath.Join(rootDir, filepath.FromSlash(name))
		if *dryRun {
			log.Printf("would write %s", dest)
			os.Stdout.WriteString("# " + name + "\n" + manifests[name] + "\n")
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return err
		}
		if err := renameio.WriteFile(dest, []byte(manifests[name]), 0644); err != nil {
			return xerrors.Errorf("write %s: %w", dest, err)
		}
		log.Printf("wrote %s", dest)
	}
	return nil
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio"
	"github.com/oximake/oximake"
	"golang.org/x/xerrors"
)

const initHelp = `oximake init [-flags] <name>

Scaffold a new C++ project skeleton: src/, include/, a starter source file
and a build.toml describing it.

Example:
  % oximake init -type=mixed -std=20 myproject
`

func cmdinit(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("init", flag.ExitOnError)
	var (
		projType = fset.String("type", "executable", "project type: executable, library or mixed")
		std      = fset.Int("std", 17, "C++ language standard")
		dir      = fset.String("dir", ".", "directory to create the project in")
	)
	fset.Usage = usage(fset, initHelp)
	fset.Parse(args)

	if fset.NArg() != 1 {
		return xerrors.New("syntax: oximake init <name>")
	}
	name := fset.Arg(0)
	root := filepath.Join(*dir, name)
	if _, err := os.Stat(root); err == nil {
		return xerrors.Errorf("directory %s already exists", root)
	}

	for _, sub := range []string{"src", "include", "build"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0755); err != nil {
			return err
		}
	}

	var manifest strings.Builder
	fmt.Fprintf(&manifest, "[project]\nname = %q\nversion = \"0.1.0\"\ncxx_standard = %d\n\n", name, *std)

	files := map[string]string{}
	switch *projType {
	case "executable":
		fmt.Fprintf(&manifest, "[[target]]\nname = %q\ntype = \"executable\"\nsources = [\"src/**/*.cpp\"]\ninclude_dirs = [\"include\"]\nflags = [\"-O2\", \"-Wall\"]\n", name)
		files["src/main.cpp"] = mainSource(name)
	case "library":
		fmt.Fprintf(&manifest, "[[target]]\nname = %q\ntype = \"static_lib\"\nsources = [\"src/**/*.cpp\"]\ninclude_dirs = [\"include\"]\nflags = [\"-O2\", \"-Wall\"]\n", name)
		files["include/"+name+".h"] = headerSource(name)
		files["src/"+name+".cpp"] = librarySource(name)
	case "mixed":
		fmt.Fprintf(&manifest, "[[target]]\nname = %q\ntype = \"static_lib\"\nsources = [\"src/lib/**/*.cpp\"]\ninclude_dirs = [\"include\"]\nflags = [\"-O2\", \"-Wall\"]\n\n", name+"_lib")
		fmt.Fprintf(&manifest, "[[target]]\nname = %q\ntype = \"executable\"\nsources = [\"src/main.cpp\"]\ninclude_dirs = [\"include\"]\ndeps = [%q]\nflags = [\"-O2\", \"-Wall\"]\n", name, name+"_lib")
		files["src/main.cpp"] = mixedMainSource(name)
		files["include/"+name+".h"] = headerSource(name)
		files["src/lib/"+name+".cpp"] = librarySource(name)
	default:
		return xerrors.Errorf("unknown project type %q", *projType)
	}

	files[oximake.ManifestName] = manifest.String()
	for rel, content := range files {
		dest := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return err
		}
		if err := renameio.WriteFile(dest, []byte(content), 0644); err != nil {
			return err
		}
	}
	log.Printf("project %s created in %s", name, root)
	return nil
}

func mainSource(name string) string {
	return fmt.Sprintf(`#include <iostream>

int main() {
    std::cout << "Hello from %s!" << std::endl;
    return 0;
}
`, name)
}

func mixedMainSource(name string) string {
	return fmt.Sprintf(`#include <iostream>
#include "%s.h"

int main() {
    %s::hello();
    return 0;
}
`, name, name)
}

func headerSource(name string) string {
	guard := strings.ToUpper(name) + "_H"
	return fmt.Sprintf(`#ifndef %s
#define %s

namespace %s {
    void hello();
}

#endif
`, guard, guard, name)
}

func librarySource(name string) string {
	return fmt.Sprintf(`#include "%s.h"
#include <iostream>

namespace %s {
    void hello() {
        std::cout << "Hello from %s library!" << std::endl;
    }
}
`, name, name, name)
}
